package repository

import (
	"context"
	"sort"
	"time"

	"github.com/modemfarm/smsagent/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gonum.org/v1/gonum/stat"
)

const activationsCollection = "activations"

// HistoryRepository persists the activation ledger to MongoDB. The
// in-memory store stays authoritative for live protocol decisions; this
// ledger exists for analytics and post-mortem queries.
type HistoryRepository struct {
	activations *mongo.Collection
	logger      *logrus.Logger
}

func NewHistoryRepository(db *mongo.Database, logger *logrus.Logger) *HistoryRepository {
	return &HistoryRepository{
		activations: db.Collection(activationsCollection),
		logger:      logger,
	}
}

// EnsureIndexes creates the lookup indexes. Call once at startup.
func (r *HistoryRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.activations.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "activation_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "phone", Value: 1}, {Key: "service", Value: 1}},
		},
	})
	return err
}

type statusEntry struct {
	StatusCode int       `bson:"status_code"`
	State      string    `bson:"state"`
	At         time.Time `bson:"at"`
}

type messageEntry struct {
	Text      string    `bson:"text"`
	Delivered bool      `bson:"delivered"`
	At        time.Time `bson:"at"`
}

type activationRecord struct {
	ActivationID  int64          `bson:"activation_id"`
	Phone         string         `bson:"phone"`
	Service       string         `bson:"service"`
	Amount        float64        `bson:"amount"`
	Currency      string         `bson:"currency"`
	State         string         `bson:"state"`
	OpenedAt      time.Time      `bson:"opened_at"`
	ClosedAt      *time.Time     `bson:"closed_at,omitempty"`
	StatusHistory []statusEntry  `bson:"status_history"`
	Messages      []messageEntry `bson:"messages"`
}

func (r *HistoryRepository) RecordCreated(ctx context.Context, a models.Activation) error {
	_, err := r.activations.InsertOne(ctx, activationRecord{
		ActivationID:  a.ID,
		Phone:         a.PhoneNumber,
		Service:       a.Service,
		Amount:        a.Amount,
		Currency:      a.Currency,
		State:         string(a.State),
		OpenedAt:      a.OpenedAt,
		StatusHistory: []statusEntry{},
		Messages:      []messageEntry{},
	})
	return err
}

func (r *HistoryRepository) RecordStatus(ctx context.Context, activationID int64, statusCode int, state models.ActivationState) error {
	now := time.Now()
	_, err := r.activations.UpdateOne(ctx,
		bson.M{"activation_id": activationID},
		bson.M{
			"$set": bson.M{
				"state":     string(state),
				"closed_at": now,
			},
			"$push": bson.M{
				"status_history": statusEntry{StatusCode: statusCode, State: string(state), At: now},
			},
		},
	)
	return err
}

func (r *HistoryRepository) RecordSMSDelivery(ctx context.Context, activationID int64, text string, delivered bool) error {
	_, err := r.activations.UpdateOne(ctx,
		bson.M{"activation_id": activationID},
		bson.M{
			"$push": bson.M{
				"messages": messageEntry{Text: text, Delivered: delivered, At: time.Now()},
			},
		},
	)
	return err
}

// CompletedCount returns how many sold activations a number already has for
// a service. Advisory only; the live quota check runs against the in-memory
// counters.
func (r *HistoryRepository) CompletedCount(ctx context.Context, phone, service string) (int, error) {
	n, err := r.activations.CountDocuments(ctx, bson.M{
		"phone":   phone,
		"service": service,
		"state":   string(models.ActivationStateClosedSold),
	})
	return int(n), err
}

// EarningsReport summarizes sold activations.
type EarningsReport struct {
	TotalSold             int     `json:"total_sold"`
	TotalEarnings         float64 `json:"total_earnings"`
	MeanAmount            float64 `json:"mean_amount"`
	MeanDurationSeconds   float64 `json:"mean_duration_seconds"`
	MedianDurationSeconds float64 `json:"median_duration_seconds"`
	P90DurationSeconds    float64 `json:"p90_duration_seconds"`
}

// EarningsFilter narrows an earnings query. Zero fields match everything.
type EarningsFilter struct {
	Service string
	Phone   string
	From    time.Time
	To      time.Time
}

// EarningsSummary loads the sold activations matching the filter and
// computes the aggregate report over amounts and open-to-close durations.
func (r *HistoryRepository) EarningsSummary(ctx context.Context, filter EarningsFilter) (EarningsReport, error) {
	query := bson.M{"state": string(models.ActivationStateClosedSold)}
	if filter.Service != "" {
		query["service"] = filter.Service
	}
	if filter.Phone != "" {
		query["phone"] = filter.Phone
	}
	if !filter.From.IsZero() || !filter.To.IsZero() {
		window := bson.M{}
		if !filter.From.IsZero() {
			window["$gte"] = filter.From
		}
		if !filter.To.IsZero() {
			window["$lt"] = filter.To
		}
		query["closed_at"] = window
	}

	cursor, err := r.activations.Find(ctx, query)
	if err != nil {
		return EarningsReport{}, err
	}
	defer cursor.Close(ctx)

	var amounts, durations []float64
	for cursor.Next(ctx) {
		var rec activationRecord
		if err := cursor.Decode(&rec); err != nil {
			r.logger.Warnf("decode activation record: %v", err)
			continue
		}
		amounts = append(amounts, rec.Amount)
		if rec.ClosedAt != nil {
			durations = append(durations, rec.ClosedAt.Sub(rec.OpenedAt).Seconds())
		}
	}
	if err := cursor.Err(); err != nil {
		return EarningsReport{}, err
	}
	return summarize(amounts, durations), nil
}

func summarize(amounts, durations []float64) EarningsReport {
	report := EarningsReport{TotalSold: len(amounts)}
	if len(amounts) == 0 {
		return report
	}

	for _, a := range amounts {
		report.TotalEarnings += a
	}
	report.MeanAmount = stat.Mean(amounts, nil)

	if len(durations) > 0 {
		sort.Float64s(durations)
		report.MeanDurationSeconds = stat.Mean(durations, nil)
		report.MedianDurationSeconds = stat.Quantile(0.5, stat.Empirical, durations, nil)
		report.P90DurationSeconds = stat.Quantile(0.9, stat.Empirical, durations, nil)
	}
	return report
}
