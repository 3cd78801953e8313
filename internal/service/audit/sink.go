package audit

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sat18-labs/sat18/internal/catalog"
	"github.com/sat18-labs/sat18/internal/model"
)

// DecisionWriter is the storage method StoreSink needs.
type DecisionWriter interface {
	InsertDecision(ctx context.Context, d model.Decision) (model.DecisionRecord, error)
}

// StoreSink writes decisions to local storage and, when a controller is set,
// hands the recorded actions to it for execution.
type StoreSink struct {
	Store      DecisionWriter
	Controller *catalog.Controller
	Logger     *slog.Logger
}

// PostDecisionLog implements Sink.
func (s StoreSink) PostDecisionLog(ctx context.Context, d model.Decision) (uuid.UUID, error) {
	id, _, err := s.Log(ctx, d)
	return id, err
}

// Log records d and returns the controller's disposition of its actions.
func (s StoreSink) Log(ctx context.Context, d model.Decision) (uuid.UUID, []catalog.Outcome, error) {
	rec, err := s.Store.InsertDecision(ctx, d)
	if err != nil {
		return uuid.Nil, nil, err
	}
	if s.Controller == nil {
		return rec.ID, nil, nil
	}
	outcomes := s.Controller.Process(ctx, rec.ID, rec.Actions)
	if s.Logger != nil {
		s.Logger.Info("audit: decision logged", "decision_id", rec.ID,
			"project", rec.Project, "action", rec.Action, "actions", len(outcomes))
	}
	return rec.ID, outcomes, nil
}
