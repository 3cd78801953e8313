package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sat18-labs/sat18/internal/model"
)

// InsertFeedback stores a deployment outcome. ID and CreatedAt are assigned
// when zero.
func (db *DB) InsertFeedback(ctx context.Context, r model.FeedbackRecord) (model.FeedbackRecord, error) {
	r, err := prepareFeedback(r, db.now())
	if err != nil {
		return r, err
	}
	decision, outcome, metrics, err := encodeFeedback(r)
	if err != nil {
		return r, err
	}

	err = WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		_, err := db.pool.Exec(ctx,
			`INSERT INTO feedback (id, project, environment, decision, confidence, success, outcome,
			 system_metrics, log_summary, actor, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			r.ID, r.Project, r.Environment, decision, r.Decision.Confidence, r.Outcome.Success,
			outcome, metrics, r.LogSummary, string(r.Actor), r.CreatedAt)
		return err
	})
	if err != nil {
		return r, fmt.Errorf("storage: insert feedback: %w", err)
	}
	return r, nil
}

// FeedbackSummary aggregates the feedback recorded for project.
func (db *DB) FeedbackSummary(ctx context.Context, project string) (*model.FeedbackSummary, error) {
	var (
		total, successes int
		avg              *float64
	)
	err := db.pool.QueryRow(ctx,
		`SELECT count(*), count(*) FILTER (WHERE success), avg(confidence)
		 FROM feedback WHERE project = $1`, project,
	).Scan(&total, &successes, &avg)
	if err != nil {
		return nil, fmt.Errorf("storage: summarize feedback: %w", err)
	}

	rows, err := db.pool.Query(ctx,
		`SELECT created_at, success FROM feedback
		 WHERE project = $1 AND created_at >= $2`, project, db.since())
	if err != nil {
		return nil, fmt.Errorf("storage: feedback trend: %w", err)
	}
	defer rows.Close()

	var recent []outcomeRow
	for rows.Next() {
		var r outcomeRow
		if err := rows.Scan(&r.at, &r.success); err != nil {
			return nil, fmt.Errorf("storage: scan feedback trend: %w", err)
		}
		recent = append(recent, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: feedback trend: %w", err)
	}
	return buildSummary(total, successes, avg, recent, db.now()), nil
}

func encodeFeedback(r model.FeedbackRecord) (decision, outcome, metrics []byte, err error) {
	if decision, err = json.Marshal(r.Decision); err != nil {
		return nil, nil, nil, fmt.Errorf("storage: encode feedback decision: %w", err)
	}
	if outcome, err = json.Marshal(r.Outcome); err != nil {
		return nil, nil, nil, fmt.Errorf("storage: encode feedback outcome: %w", err)
	}
	if r.SystemMetricsSnapshot != nil {
		if metrics, err = json.Marshal(r.SystemMetricsSnapshot); err != nil {
			return nil, nil, nil, fmt.Errorf("storage: encode feedback metrics: %w", err)
		}
	}
	return decision, outcome, metrics, nil
}
