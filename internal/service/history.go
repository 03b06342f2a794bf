package service

import (
	"context"

	"github.com/modemfarm/smsagent/internal/models"
)

// HistoryRecorder persists activation history for analytics. Calls are made
// after the authoritative in-memory transition and are strictly best
// effort: errors are logged by the caller and discarded.
type HistoryRecorder interface {
	RecordCreated(ctx context.Context, a models.Activation) error
	RecordStatus(ctx context.Context, activationID int64, statusCode int, state models.ActivationState) error
	RecordSMSDelivery(ctx context.Context, activationID int64, text string, delivered bool) error
}

type NopHistory struct{}

func (NopHistory) RecordCreated(context.Context, models.Activation) error { return nil }
func (NopHistory) RecordStatus(context.Context, int64, int, models.ActivationState) error {
	return nil
}
func (NopHistory) RecordSMSDelivery(context.Context, int64, string, bool) error { return nil }
