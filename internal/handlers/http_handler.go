package handlers

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/modemfarm/smsagent/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Scanner is the slice of the device manager the HTTP surface needs.
type Scanner interface {
	TriggerScan()
}

type HTTPHandler struct {
	agent   *service.AgentService
	scanner Scanner
	apiKey  string
	logger  *logrus.Logger
}

func NewHTTPHandler(agent *service.AgentService, scanner Scanner, apiKey string, logger *logrus.Logger) *HTTPHandler {
	return &HTTPHandler{
		agent:   agent,
		scanner: scanner,
		apiKey:  apiKey,
		logger:  logger,
	}
}

func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	router.POST("/", h.Hub)
	router.POST("/smshub", h.Hub)
	router.GET("/", h.Status)
	router.GET("/status", h.Status)
	router.GET("/health", h.Health)
	router.POST("/rescan", h.Rescan)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// flexString tolerates the hub sending a field as either a JSON string or a
// bare number.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	*s = flexString(bytes.Trim(data, `"`))
	return nil
}

// hubRequest is the union of all hub actions. Pointer fields distinguish
// "absent" from zero so type errors surface per action.
type hubRequest struct {
	Key    string `json:"key"`
	Action string `json:"action"`

	// GET_NUMBER
	Country           string   `json:"country"`
	Operator          string   `json:"operator"`
	Service           string   `json:"service"`
	Sum               *float64 `json:"sum"`
	Currency          *int     `json:"currency"`
	ExceptionPhoneSet []string `json:"exceptionPhoneSet"`

	// FINISH_ACTIVATION
	ActivationID *int64 `json:"activationId"`
	Status       *int   `json:"status"`

	// PUSH_SMS
	SMSID     *int64     `json:"smsId"`
	Phone     flexString `json:"phone"`
	PhoneFrom string     `json:"phoneFrom"`
	Text      string     `json:"text"`
}

// All hub answers travel as HTTP 200; the protocol outcome lives in the
// status field.
func hubError(c *gin.Context, message string) {
	c.JSON(http.StatusOK, gin.H{"status": "ERROR", "error": message})
}

// Hub is the single marketplace endpoint. The action field selects the
// operation.
func (h *HTTPHandler) Hub(c *gin.Context) {
	requestID := uuid.New().String()
	log := h.logger.WithField("request_id", requestID)

	var req hubRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		log.Warnf("malformed hub request: %v", err)
		hubError(c, "invalid JSON body")
		return
	}

	if req.Key != h.apiKey {
		log.Warn("hub request with invalid API key")
		hubError(c, "Invalid API key")
		return
	}

	log = log.WithField("action", req.Action)

	switch req.Action {
	case "GET_SERVICES":
		h.getServices(c)
	case "GET_NUMBER":
		h.getNumber(c, log, req)
	case "FINISH_ACTIVATION":
		h.finishActivation(c, log, req)
	case "PUSH_SMS":
		h.pushSMS(c, log, req)
	default:
		log.Warnf("unknown hub action %q", req.Action)
		hubError(c, "unknown action")
	}
}

func (h *HTTPHandler) getServices(c *gin.Context) {
	counts := h.agent.ServiceCounts()
	c.JSON(http.StatusOK, gin.H{
		"status": "SUCCESS",
		"countryList": []gin.H{
			{
				"country": "usaphysical",
				"operatorMap": gin.H{
					"physic": counts,
				},
			},
		},
	})
}

func (h *HTTPHandler) getNumber(c *gin.Context, log *logrus.Entry, req hubRequest) {
	if req.Service == "" {
		hubError(c, "service is required")
		return
	}

	var amount float64
	if req.Sum != nil {
		amount = *req.Sum
	}
	currency := "USD"
	if req.Currency != nil {
		currency = strconv.Itoa(*req.Currency)
	}

	res := h.agent.GetNumber(c.Request.Context(), req.Service, amount, currency, req.ExceptionPhoneSet)
	if res.NoNumbers {
		c.JSON(http.StatusOK, gin.H{"status": "NO_NUMBERS"})
		return
	}

	number, err := strconv.ParseUint(res.Number, 10, 64)
	if err != nil {
		log.Errorf("allocated number %q is not numeric: %v", res.Number, err)
		hubError(c, "internal error")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       "SUCCESS",
		"number":       number,
		"activationId": res.ActivationID,
	})
}

func (h *HTTPHandler) finishActivation(c *gin.Context, log *logrus.Entry, req hubRequest) {
	if req.ActivationID == nil || req.Status == nil {
		hubError(c, "activationId and status are required")
		return
	}

	h.agent.FinishActivation(c.Request.Context(), *req.ActivationID, *req.Status)
	c.JSON(http.StatusOK, gin.H{"status": "SUCCESS"})
}

func (h *HTTPHandler) pushSMS(c *gin.Context, log *logrus.Entry, req hubRequest) {
	if req.SMSID == nil || req.Phone == "" || req.Text == "" {
		hubError(c, "smsId, phone and text are required")
		return
	}

	err := h.agent.HandlePushSMS(c.Request.Context(), *req.SMSID, string(req.Phone), req.PhoneFrom, req.Text)
	if err != nil {
		log.Warnf("push sms failed: %v", err)
		hubError(c, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "SUCCESS"})
}

// Status is the operator-facing summary page.
func (h *HTTPHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "running",
		"modems":         h.agent.DeviceCount(),
		"active_numbers": h.agent.OpenActivationCount(),
	})
}

func (h *HTTPHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// Rescan schedules an out-of-cycle modem discovery pass.
func (h *HTTPHandler) Rescan(c *gin.Context) {
	if h.scanner != nil {
		h.scanner.TriggerScan()
	}
	c.JSON(http.StatusOK, gin.H{"status": "SUCCESS"})
}
