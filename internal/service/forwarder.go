package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/modemfarm/smsagent/internal/retry"

	"github.com/sirupsen/logrus"
)

// Forwarder pushes received SMS upstream to the marketplace. Delivery is
// best effort: a bounded retry budget, then the message is logged and
// dropped. Callers only learn success or failure, never the cause.
type Forwarder struct {
	apiKey string
	url    string
	client *http.Client
	policy retry.Policy
	logger *logrus.Logger
}

type pushSMSPayload struct {
	SMSID     int64  `json:"smsId"`
	PhoneFrom string `json:"phoneFrom"`
	Phone     int64  `json:"phone"`
	Text      string `json:"text"`
	Action    string `json:"action"`
	Key       string `json:"key"`
}

type pushSMSResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

func NewForwarder(url, apiKey string, policy retry.Policy, logger *logrus.Logger) *Forwarder {
	return &Forwarder{
		apiKey: apiKey,
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		policy: policy,
		logger: logger,
	}
}

// Push delivers one SMS upstream. phone must be the bare-digit destination
// number; originMeta is the value the upstream keys delivery on (the
// activation's service code, not the true SMS sender). Returns true on
// delivery, false once the retry budget is exhausted.
func (f *Forwarder) Push(ctx context.Context, smsID int64, phone int64, originMeta, text string) bool {
	payload := pushSMSPayload{
		SMSID:     smsID,
		PhoneFrom: originMeta,
		Phone:     phone,
		Text:      text,
		Action:    "PUSH_SMS",
		Key:       f.apiKey,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		f.logger.Errorf("marshal push payload: %v", err)
		return false
	}

	err = f.policy.Do(ctx, f.logger, "push_sms", func(ctx context.Context) error {
		return f.attempt(ctx, body)
	})
	if err != nil {
		f.logger.WithFields(logrus.Fields{
			"sms_id": smsID,
			"phone":  phone,
		}).Errorf("sms dropped: %v", err)
		return false
	}

	f.logger.WithField("sms_id", smsID).Info("sms forwarded upstream")
	return true
}

func (f *Forwarder) attempt(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "SMSHubAgent/1.0")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	var parsed pushSMSResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	if parsed.Status != "SUCCESS" {
		return fmt.Errorf("upstream rejected: %s", parsed.Error)
	}
	return nil
}
