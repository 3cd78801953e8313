package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/sat18-labs/sat18/internal/model"
)

// sqliteTimeLayout is fixed width so stored timestamps compare lexically.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseSQLiteTime(s string) (time.Time, error) {
	t, err := time.Parse(sqliteTimeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("storage: parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

// SQLite is the embedded Store backed by a single database file.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

var _ Store = (*SQLite)(nil)

// OpenSQLite opens (creating if needed) the database file at path.
func OpenSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	// One connection: SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("storage: %s: %w", pragma, err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	logger.Info("storage: sqlite opened", "path", path)
	return &SQLite{db: db, logger: logger, now: time.Now}, nil
}

// Ping checks the database handle.
func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLite) Close(_ context.Context) {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("storage: close sqlite", "error", err)
	}
}

// InsertDecision records an evaluated decision with status pending.
func (s *SQLite) InsertDecision(ctx context.Context, d model.Decision) (model.DecisionRecord, error) {
	rec, err := NewDecisionRecord(d, s.now())
	if err != nil {
		return model.DecisionRecord{}, err
	}
	enc, err := encodeDecision(rec)
	if err != nil {
		return model.DecisionRecord{}, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (decision_id, project, intent, action, parameters, context, actions,
		 trace, confidence, execution_status, decided_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID.String(), rec.Project, rec.Intent, rec.Action, string(enc.parameters), string(enc.context),
		string(enc.actions), string(enc.trace), rec.Confidence, string(rec.ExecutionStatus),
		formatSQLiteTime(rec.DecidedAt), formatSQLiteTime(rec.CreatedAt), formatSQLiteTime(rec.UpdatedAt),
	)
	if err != nil {
		return model.DecisionRecord{}, fmt.Errorf("storage: insert decision: %w", err)
	}
	return rec, nil
}

// GetDecision returns the decision with the given id.
func (s *SQLite) GetDecision(ctx context.Context, id uuid.UUID) (model.DecisionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions WHERE decision_id = ?`, id.String())
	rec, err := scanSQLiteDecision(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.DecisionRecord{}, fmt.Errorf("storage: decision %s: %w", id, ErrNotFound)
		}
		return model.DecisionRecord{}, fmt.Errorf("storage: get decision: %w", err)
	}
	return rec, nil
}

// ListDecisions returns the most recent decisions, newest first. An empty
// project lists every project.
func (s *SQLite) ListDecisions(ctx context.Context, project string, limit int) ([]model.DecisionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+decisionColumns+` FROM decisions
		 WHERE (? = '' OR project = ?)
		 ORDER BY created_at DESC, decision_id
		 LIMIT ?`, project, project, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("storage: list decisions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.DecisionRecord
	for rows.Next() {
		rec, err := scanSQLiteDecision(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: scan decision: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// UpdateDecisionExecution moves a decision through its execution lifecycle.
func (s *SQLite) UpdateDecisionExecution(ctx context.Context, id uuid.UUID, upd model.ExecutionUpdate) error {
	if !upd.Status.Valid() {
		return fmt.Errorf("storage: invalid execution status %q", upd.Status)
	}
	result, err := encodeResult(upd.Result)
	if err != nil {
		return err
	}
	var resultText *string
	if result != nil {
		r := string(result)
		resultText = &r
	}
	now := formatSQLiteTime(s.now())

	res, err := s.db.ExecContext(ctx,
		`UPDATE decisions
		 SET execution_status = ?, approved_by = ?, notes = ?, result = ?,
		     executed_at = ?, updated_at = ?
		 WHERE decision_id = ?`,
		string(upd.Status), nullIfEmpty(upd.ApprovedBy), nullIfEmpty(upd.Notes), resultText,
		now, now, id.String())
	if err != nil {
		return fmt.Errorf("storage: update decision execution: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage: update decision execution: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("storage: decision %s: %w", id, ErrNotFound)
	}
	return nil
}

// InsertFeedback stores a deployment outcome. ID and CreatedAt are assigned
// when zero.
func (s *SQLite) InsertFeedback(ctx context.Context, r model.FeedbackRecord) (model.FeedbackRecord, error) {
	r, err := prepareFeedback(r, s.now())
	if err != nil {
		return r, err
	}
	decision, outcome, metrics, err := encodeFeedback(r)
	if err != nil {
		return r, err
	}
	var metricsText *string
	if metrics != nil {
		m := string(metrics)
		metricsText = &m
	}
	success := 0
	if r.Outcome.Success {
		success = 1
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, project, environment, decision, confidence, success, outcome,
		 system_metrics, log_summary, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Project, r.Environment, string(decision), r.Decision.Confidence, success,
		string(outcome), metricsText, r.LogSummary, string(r.Actor), formatSQLiteTime(r.CreatedAt))
	if err != nil {
		return r, fmt.Errorf("storage: insert feedback: %w", err)
	}
	return r, nil
}

// FeedbackSummary aggregates the feedback recorded for project.
func (s *SQLite) FeedbackSummary(ctx context.Context, project string) (*model.FeedbackSummary, error) {
	var (
		total     int
		successes sql.NullInt64
		avg       sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*), sum(success), avg(confidence) FROM feedback WHERE project = ?`, project,
	).Scan(&total, &successes, &avg)
	if err != nil {
		return nil, fmt.Errorf("storage: summarize feedback: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT created_at, success FROM feedback WHERE project = ? AND created_at >= ?`,
		project, formatSQLiteTime(trendStart(s.now())))
	if err != nil {
		return nil, fmt.Errorf("storage: feedback trend: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var recent []outcomeRow
	for rows.Next() {
		var (
			at string
			ok int
		)
		if err := rows.Scan(&at, &ok); err != nil {
			return nil, fmt.Errorf("storage: scan feedback trend: %w", err)
		}
		t, err := parseSQLiteTime(at)
		if err != nil {
			return nil, err
		}
		recent = append(recent, outcomeRow{at: t, success: ok == 1})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: feedback trend: %w", err)
	}

	var avgPtr *float64
	if avg.Valid {
		avgPtr = &avg.Float64
	}
	return buildSummary(total, int(successes.Int64), avgPtr, recent, s.now()), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteDecision(row rowScanner) (model.DecisionRecord, error) {
	var (
		rec                             model.DecisionRecord
		id, status                      string
		parameters, contextJSON         string
		actions, trace                  string
		approvedBy, notes, result       sql.NullString
		decidedAt, createdAt, updatedAt string
		executedAt                      sql.NullString
	)
	err := row.Scan(
		&id, &rec.Project, &rec.Intent, &rec.Action, &parameters, &contextJSON, &actions, &trace,
		&rec.Confidence, &status, &approvedBy, &notes, &result, &decidedAt, &executedAt,
		&createdAt, &updatedAt,
	)
	if err != nil {
		return rec, err
	}
	if rec.ID, err = uuid.Parse(id); err != nil {
		return rec, fmt.Errorf("storage: parse decision id: %w", err)
	}
	rec.ExecutionStatus = model.ExecutionStatus(status)
	if approvedBy.Valid {
		rec.ApprovedBy = &approvedBy.String
	}
	if notes.Valid {
		rec.Notes = &notes.String
	}
	var resultBytes []byte
	if result.Valid {
		resultBytes = []byte(result.String)
	}
	enc := encodedDecision{
		parameters: []byte(parameters),
		context:    []byte(contextJSON),
		actions:    []byte(actions),
		trace:      []byte(trace),
	}
	if err := decodeDecision(&rec, enc, resultBytes); err != nil {
		return rec, err
	}
	if rec.DecidedAt, err = parseSQLiteTime(decidedAt); err != nil {
		return rec, err
	}
	if rec.CreatedAt, err = parseSQLiteTime(createdAt); err != nil {
		return rec, err
	}
	if rec.UpdatedAt, err = parseSQLiteTime(updatedAt); err != nil {
		return rec, err
	}
	if executedAt.Valid {
		t, err := parseSQLiteTime(executedAt.String)
		if err != nil {
			return rec, err
		}
		rec.ExecutedAt = &t
	}
	return rec, nil
}
