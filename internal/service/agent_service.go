package service

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/modemfarm/smsagent/internal/atcmd"
	"github.com/modemfarm/smsagent/internal/models"
	"github.com/modemfarm/smsagent/internal/state"

	"github.com/sirupsen/logrus"
)

// AgentService implements the marketplace-facing actions on top of the
// state store. It owns nothing itself: all device/activation mutation goes
// through the store, and every collaborator past the store is best effort.
type AgentService struct {
	store           *state.Store
	forwarder       *Forwarder
	history         HistoryRecorder
	events          EventPublisher
	cache           SnapshotCache
	metrics         *MetricsCollector
	enabledServices map[string]bool
	logger          *logrus.Logger

	smsSeq int64
}

func NewAgentService(
	store *state.Store,
	forwarder *Forwarder,
	history HistoryRecorder,
	events EventPublisher,
	cache SnapshotCache,
	metrics *MetricsCollector,
	enabledServices map[string]bool,
	logger *logrus.Logger,
) *AgentService {
	if history == nil {
		history = NopHistory{}
	}
	if events == nil {
		events = NopEvents{}
	}
	if cache == nil {
		cache = NopSnapshotCache{}
	}
	return &AgentService{
		store:           store,
		forwarder:       forwarder,
		history:         history,
		events:          events,
		cache:           cache,
		metrics:         metrics,
		enabledServices: enabledServices,
		logger:          logger,
		smsSeq:          time.Now().Unix(),
	}
}

// ServiceCounts returns, per enabled service, how many devices are
// currently allocatable. Read-only.
func (s *AgentService) ServiceCounts() map[string]int {
	active := s.store.ActiveDeviceCount()
	counts := make(map[string]int, len(s.enabledServices))
	for service, enabled := range s.enabledServices {
		if enabled {
			counts[service] = active
		}
	}
	return counts
}

// DeviceCount and OpenActivationCount feed the GET status page.
func (s *AgentService) DeviceCount() int         { return len(s.store.DeviceSnapshot()) }
func (s *AgentService) OpenActivationCount() int { return s.store.OpenActivationCount() }

// GetNumberResult distinguishes the two normal outcomes of GET_NUMBER.
// NO_NUMBERS is not an error.
type GetNumberResult struct {
	NoNumbers    bool
	Number       string
	ActivationID int64
}

func (s *AgentService) GetNumber(ctx context.Context, serviceCode string, amount float64, currency string, exceptionPrefixes []string) GetNumberResult {
	if !s.enabledServices[serviceCode] {
		s.logger.Infof("GET_NUMBER for disabled service %q", serviceCode)
		if s.metrics != nil {
			s.metrics.NoNumbers(serviceCode)
		}
		return GetNumberResult{NoNumbers: true}
	}

	activation, ok := s.store.Allocate(serviceCode, amount, currency, exceptionPrefixes)
	if !ok {
		s.logger.Infof("no numbers available for service %q", serviceCode)
		if s.metrics != nil {
			s.metrics.NoNumbers(serviceCode)
		}
		return GetNumberResult{NoNumbers: true}
	}

	s.logger.WithFields(logrus.Fields{
		"activation_id": activation.ID,
		"phone":         activation.PhoneNumber,
		"service":       serviceCode,
	}).Info("activation started")

	if s.metrics != nil {
		s.metrics.ActivationStarted(serviceCode)
	}
	s.recordHistory(func() error { return s.history.RecordCreated(ctx, activation) })
	s.events.ActivationOpened(activation)
	s.PublishSnapshot(ctx)

	return GetNumberResult{Number: activation.PhoneNumber, ActivationID: activation.ID}
}

// FinishActivation applies a status code to an activation. It always
// succeeds at the protocol level; duplicates and unknown ids are benign.
func (s *AgentService) FinishActivation(ctx context.Context, activationID int64, statusCode int) {
	res := s.store.Finish(activationID, statusCode)

	switch res.Outcome {
	case state.CloseDone:
		a := res.Activation
		s.logger.WithFields(logrus.Fields{
			"activation_id": a.ID,
			"phone":         a.PhoneNumber,
			"state":         a.State,
		}).Info("activation closed")

		if s.metrics != nil {
			s.metrics.ActivationClosed(a.Service, string(a.State))
			if a.State == models.ActivationStateClosedSold {
				s.metrics.RecordEarnings(a.Amount)
				s.metrics.RecordActivationDuration(a.Service, res.Elapsed.Seconds())
			}
		}
		s.recordHistory(func() error { return s.history.RecordStatus(ctx, a.ID, statusCode, a.State) })
		s.events.ActivationClosed(a)
		s.PublishSnapshot(ctx)

	case state.CloseAlreadyClosed:
		s.logger.Infof("duplicate finish for activation %d ignored", activationID)
	case state.CloseUnknownID:
		s.logger.Warnf("finish for unknown activation %d", activationID)
	}
}

// HandlePushSMS forwards one SMS for the open activation bound to phone.
// It mutates nothing when no activation matches.
func (s *AgentService) HandlePushSMS(ctx context.Context, smsID int64, phone, sender, text string) error {
	normalized, ok := atcmd.NormalizePhone(phone)
	if !ok {
		return fmt.Errorf("invalid phone number %q", phone)
	}

	activation, found := s.store.FindOpenByPhone(normalized)
	if !found {
		if s.metrics != nil {
			s.metrics.SMSUnmatched()
		}
		return fmt.Errorf("no active activation found for number %s", normalized)
	}

	phoneNumeric, err := strconv.ParseInt(normalized, 10, 64)
	if err != nil {
		return fmt.Errorf("phone %s is not numeric: %w", normalized, err)
	}

	// The upstream protocol keys delivery by service code, not by the
	// true SMS sender.
	delivered := s.forwarder.Push(ctx, smsID, phoneNumeric, activation.Service, text)

	if s.metrics != nil {
		if delivered {
			s.metrics.SMSForwarded()
		} else {
			s.metrics.SMSForwardFailed()
		}
	}
	s.recordHistory(func() error { return s.history.RecordSMSDelivery(ctx, activation.ID, text, delivered) })
	s.events.SMSForwarded(activation.ID, delivered)

	if !delivered {
		return fmt.Errorf("failed to forward SMS for activation %d", activation.ID)
	}

	s.logger.WithFields(logrus.Fields{
		"activation_id": activation.ID,
		"sender":        sender,
	}).Info("sms forwarded for activation")
	return nil
}

// HandleInboundSMS is the sink for the device manager's poll loop. The
// destination is the polled device's own number.
func (s *AgentService) HandleInboundSMS(ctx context.Context, msg models.InboundMessage, devicePhone string) error {
	if devicePhone == "" {
		return fmt.Errorf("device %s has no phone number", msg.DevicePort)
	}
	smsID := atomic.AddInt64(&s.smsSeq, 1)
	return s.HandlePushSMS(ctx, smsID, devicePhone, msg.Sender, msg.Text)
}

// PublishSnapshot pushes current state to the dashboard cache and device
// gauges. Safe to call from any goroutine.
func (s *AgentService) PublishSnapshot(ctx context.Context) {
	devices := s.store.DeviceSnapshot()
	s.cache.StoreSnapshot(ctx, devices, s.store.OpenSnapshot(), s.store.StatsSnapshot())

	if s.metrics != nil {
		byStatus := make(map[string]int)
		for _, d := range devices {
			byStatus[string(d.Status)]++
		}
		for _, status := range []models.DeviceStatus{
			models.DeviceStatusDiscovered, models.DeviceStatusSimReady,
			models.DeviceStatusRegistered, models.DeviceStatusActive,
			models.DeviceStatusBusy, models.DeviceStatusError,
		} {
			s.metrics.SetDeviceCount(string(status), byStatus[string(status)])
		}
	}
}

// recordHistory isolates the protocol path from history-store failures.
func (s *AgentService) recordHistory(fn func() error) {
	if err := fn(); err != nil {
		s.logger.Warnf("history record failed: %v", err)
	}
}
