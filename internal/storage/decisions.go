package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/sat18-labs/sat18/internal/model"
)

const decisionColumns = `decision_id, project, intent, action, parameters, context, actions, trace,
	confidence, execution_status, approved_by, notes, result, decided_at, executed_at,
	created_at, updated_at`

// InsertDecision records an evaluated decision with status pending.
func (db *DB) InsertDecision(ctx context.Context, d model.Decision) (model.DecisionRecord, error) {
	rec, err := NewDecisionRecord(d, db.now())
	if err != nil {
		return model.DecisionRecord{}, err
	}
	enc, err := encodeDecision(rec)
	if err != nil {
		return model.DecisionRecord{}, err
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO decisions (decision_id, project, intent, action, parameters, context, actions,
		 trace, confidence, execution_status, decided_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		rec.ID, rec.Project, rec.Intent, rec.Action, enc.parameters, enc.context, enc.actions,
		enc.trace, rec.Confidence, string(rec.ExecutionStatus), rec.DecidedAt, rec.CreatedAt, rec.UpdatedAt,
	)
	if err != nil {
		return model.DecisionRecord{}, fmt.Errorf("storage: insert decision: %w", err)
	}
	return rec, nil
}

// GetDecision returns the decision with the given id.
func (db *DB) GetDecision(ctx context.Context, id uuid.UUID) (model.DecisionRecord, error) {
	row := db.pool.QueryRow(ctx, `SELECT `+decisionColumns+` FROM decisions WHERE decision_id = $1`, id)
	rec, err := scanDecision(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.DecisionRecord{}, fmt.Errorf("storage: decision %s: %w", id, ErrNotFound)
		}
		return model.DecisionRecord{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return rec, nil
}

// ListDecisions returns the most recent decisions, newest first. An empty
// project lists every project.
func (db *DB) ListDecisions(ctx context.Context, project string, limit int) ([]model.DecisionRecord, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE ($1 = '' OR project = $1)
		 ORDER BY created_at DESC, decision_id
		 LIMIT $2`, project, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer rows.Close()

	var out []model.DecisionRecord
	for rows.Next() {
		rec, err := scanDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateDecisionExecution moves a decision through its execution lifecycle.
func (db *DB) UpdateDecisionExecution(ctx context.Context, id uuid.UUID, upd model.ExecutionUpdate) error {
	if !upd.Status.Valid() {
		return fmt.Errorf("storage: invalid execution status %q", upd.Status)
	}
	result, err := encodeResult(upd.Result)
	if err != nil {
		return err
	}
	now := db.now().UTC()

	return WithRetry(ctx, writeRetries, writeBaseDelay, func() error {
		tag, err := db.pool.Exec(ctx,
			`UPDATE decisions
			 SET execution_status = $1, approved_by = $2, notes = $3, result = $4,
			     executed_at = $5, updated_at = $5
			 WHERE decision_id = $6`,
			string(upd.Status), nullIfEmpty(upd.ApprovedBy), nullIfEmpty(upd.Notes), result, now, id)
		if err != nil {
			return fmt.Errorf("storage: update decision execution: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("storage: decision %s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func scanDecision(row pgx.Row) (model.DecisionRecord, error) {
	var (
		rec    model.DecisionRecord
		enc    encodedDecision
		status string
		result []byte
	)
	err := row.Scan(
		&rec.ID, &rec.Project, &rec.Intent, &rec.Action, &enc.parameters, &enc.context,
		&enc.actions, &enc.trace, &rec.Confidence, &status, &rec.ApprovedBy, &rec.Notes,
		&result, &rec.DecidedAt, &rec.ExecutedAt, &rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return rec, err
	}
	rec.ExecutionStatus = model.ExecutionStatus(status)
	if err := decodeDecision(&rec, enc, result); err != nil {
		return rec, err
	}
	rec.DecidedAt = rec.DecidedAt.UTC()
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	if rec.ExecutedAt != nil {
		t := rec.ExecutedAt.UTC()
		rec.ExecutedAt = &t
	}
	return rec, nil
}

// since returns the trend window start for the DB clock.
func (db *DB) since() time.Time {
	return trendStart(db.now())
}
