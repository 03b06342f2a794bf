package models

import "time"

type ActivationState string

const (
	ActivationStateAwaitingSMS     ActivationState = "awaiting_sms"
	ActivationStateClosedSold      ActivationState = "closed_sold"
	ActivationStateClosedCancelled ActivationState = "closed_cancelled"
	ActivationStateClosedRefunded  ActivationState = "closed_refunded"
)

// FINISH_ACTIVATION status codes as the marketplace sends them.
const (
	FinishStatusWaiting   = 1
	FinishStatusSold      = 3
	FinishStatusCancelled = 8
	FinishStatusRefunded  = 10
)

// CloseStateForCode maps a terminal FINISH_ACTIVATION code to the resulting
// activation state. The waiting code and unrecognized codes map to nothing.
func CloseStateForCode(code int) (ActivationState, bool) {
	switch code {
	case FinishStatusSold:
		return ActivationStateClosedSold, true
	case FinishStatusCancelled:
		return ActivationStateClosedCancelled, true
	case FinishStatusRefunded:
		return ActivationStateClosedRefunded, true
	}
	return "", false
}

// Activation is one rental of a phone number for a single verification code.
type Activation struct {
	ID          int64           `json:"activation_id"`
	DevicePort  string          `json:"device_port"`
	PhoneNumber string          `json:"phone_number"`
	Service     string          `json:"service"`
	Amount      float64         `json:"amount"`
	Currency    string          `json:"currency"`
	State       ActivationState `json:"state"`
	OpenedAt    time.Time       `json:"opened_at"`
	ClosedAt    *time.Time      `json:"closed_at,omitempty"`
}

func (a *Activation) Closed() bool {
	return a.State != ActivationStateAwaitingSMS
}
