// Package storage persists audited decisions and deployment feedback.
//
// Two engines implement Store: PostgreSQL through pgxpool (DB) and an
// embedded SQLite file through modernc.org/sqlite (SQLite). Both share the
// record-building and summary logic in this file.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/sat18-labs/sat18/internal/model"
)

// Store is the persistence surface used by the services and the HTTP API.
type Store interface {
	InsertDecision(ctx context.Context, d model.Decision) (model.DecisionRecord, error)
	GetDecision(ctx context.Context, id uuid.UUID) (model.DecisionRecord, error)
	UpdateDecisionExecution(ctx context.Context, id uuid.UUID, upd model.ExecutionUpdate) error
	ListDecisions(ctx context.Context, project string, limit int) ([]model.DecisionRecord, error)
	InsertFeedback(ctx context.Context, r model.FeedbackRecord) (model.FeedbackRecord, error)
	FeedbackSummary(ctx context.Context, project string) (*model.FeedbackSummary, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context)
}

// Engine names accepted by SAT18_DB_ENGINE.
const (
	EngineSQLite   = "sqlite"
	EnginePostgres = "postgres"
)

const (
	defaultListLimit = 50
	maxListLimit     = 1000

	// TrendDays is the number of daily buckets in a feedback summary.
	TrendDays = 7

	trendLabelLayout = "2006-01-02"
	noIntent         = "No intent specified"
	noAction         = "no-action"
)

// NewDecisionRecord derives the audit row for d. The most severe action
// supplies intent, action and parameters; the confidence is read from the
// adaptive config snapshot when present.
func NewDecisionRecord(d model.Decision, now time.Time) (model.DecisionRecord, error) {
	priority, ok := model.PriorityAction(d.Actions)
	if !ok {
		return model.DecisionRecord{}, ErrNoActions
	}
	rec := model.DecisionRecord{
		ID:              uuid.New(),
		Project:         d.ContextSnapshot.Project,
		Intent:          priority.Label,
		Action:          priority.ID,
		Parameters:      priority.Payload,
		Context:         d.ContextSnapshot,
		Actions:         d.Actions,
		Trace:           d.Trace,
		Confidence:      snapshotConfidence(d.ContextSnapshot.AdaptiveConfig),
		ExecutionStatus: model.ExecutionPending,
		DecidedAt:       d.DecisionTimestamp.UTC(),
		CreatedAt:       now.UTC(),
		UpdatedAt:       now.UTC(),
	}
	if rec.Intent == "" {
		rec.Intent = noIntent
	}
	if rec.Action == "" {
		rec.Action = noAction
	}
	if rec.Parameters == nil {
		rec.Parameters = map[string]any{}
	}
	if rec.DecidedAt.IsZero() {
		rec.DecidedAt = rec.CreatedAt
	}
	if rec.Trace == nil {
		rec.Trace = []model.TraceEntry{}
	}
	return rec, nil
}

func snapshotConfidence(cfg map[string]any) float64 {
	switch v := cfg["confidence"].(type) {
	case float64:
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return v
		}
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	case int:
		return float64(v)
	}
	return 0
}

// prepareFeedback fills server-assigned fields.
func prepareFeedback(r model.FeedbackRecord, now time.Time) (model.FeedbackRecord, error) {
	if r.Project == "" {
		return r, fmt.Errorf("storage: feedback project is required")
	}
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.CreatedAt = r.CreatedAt.UTC()
	switch r.Actor {
	case model.ActorAuto, model.ActorOperator:
	case "":
		r.Actor = model.ActorAuto
	default:
		return r, fmt.Errorf("storage: unknown feedback actor %q", r.Actor)
	}
	return r, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return min(limit, maxListLimit)
}

// outcomeRow is one feedback outcome inside the trend window.
type outcomeRow struct {
	at      time.Time
	success bool
}

// buildSummary assembles a FeedbackSummary. total and successes cover all
// feedback for the project; recent covers the trend window only.
func buildSummary(total, successes int, avgConfidence *float64, recent []outcomeRow, now time.Time) *model.FeedbackSummary {
	s := &model.FeedbackSummary{
		Total:             total,
		SuccessCount:      successes,
		AverageConfidence: avgConfidence,
		Trend:             buildTrend(recent, now),
	}
	if total > 0 {
		s.AccuracyRate = float64(successes) / float64(total) * 100
	}
	return s
}

// buildTrend buckets outcomes by UTC day, oldest first, ending today. Days
// without feedback carry a nil accuracy.
func buildTrend(rows []outcomeRow, now time.Time) []model.TrendPoint {
	today := now.UTC().Truncate(24 * time.Hour)
	type bucket struct{ total, ok int }
	buckets := make(map[string]*bucket, TrendDays)
	for _, r := range rows {
		label := r.at.UTC().Format(trendLabelLayout)
		b := buckets[label]
		if b == nil {
			b = &bucket{}
			buckets[label] = b
		}
		b.total++
		if r.success {
			b.ok++
		}
	}

	trend := make([]model.TrendPoint, 0, TrendDays)
	for i := TrendDays - 1; i >= 0; i-- {
		label := today.AddDate(0, 0, -i).Format(trendLabelLayout)
		p := model.TrendPoint{Label: label}
		if b := buckets[label]; b != nil && b.total > 0 {
			acc := float64(b.ok) / float64(b.total) * 100
			p.Accuracy = &acc
		}
		trend = append(trend, p)
	}
	return trend
}

// trendStart is the inclusive lower bound of the trend window.
func trendStart(now time.Time) time.Time {
	return now.UTC().Truncate(24*time.Hour).AddDate(0, 0, -(TrendDays - 1))
}

// encodedDecision holds the JSON columns of a decision row.
type encodedDecision struct {
	parameters, context, actions, trace []byte
}

func encodeDecision(rec model.DecisionRecord) (encodedDecision, error) {
	var (
		enc encodedDecision
		err error
	)
	if enc.parameters, err = json.Marshal(rec.Parameters); err != nil {
		return enc, fmt.Errorf("storage: encode parameters: %w", err)
	}
	if enc.context, err = json.Marshal(rec.Context); err != nil {
		return enc, fmt.Errorf("storage: encode context: %w", err)
	}
	if enc.actions, err = json.Marshal(rec.Actions); err != nil {
		return enc, fmt.Errorf("storage: encode actions: %w", err)
	}
	if enc.trace, err = json.Marshal(rec.Trace); err != nil {
		return enc, fmt.Errorf("storage: encode trace: %w", err)
	}
	return enc, nil
}

// decodeDecision fills the JSON-backed fields of rec. result may be nil.
func decodeDecision(rec *model.DecisionRecord, enc encodedDecision, result []byte) error {
	if err := json.Unmarshal(enc.parameters, &rec.Parameters); err != nil {
		return fmt.Errorf("storage: decode parameters: %w", err)
	}
	if err := json.Unmarshal(enc.context, &rec.Context); err != nil {
		return fmt.Errorf("storage: decode context: %w", err)
	}
	if err := json.Unmarshal(enc.actions, &rec.Actions); err != nil {
		return fmt.Errorf("storage: decode actions: %w", err)
	}
	if err := json.Unmarshal(enc.trace, &rec.Trace); err != nil {
		return fmt.Errorf("storage: decode trace: %w", err)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &rec.Result); err != nil {
			return fmt.Errorf("storage: decode result: %w", err)
		}
	}
	return nil
}

// encodeResult returns nil for an empty result so the column stays NULL.
func encodeResult(result map[string]any) ([]byte, error) {
	if result == nil {
		return nil, nil
	}
	b, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("storage: encode result: %w", err)
	}
	return b, nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
