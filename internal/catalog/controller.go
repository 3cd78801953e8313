package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/sat18-labs/sat18/internal/model"
)

// ExecutionRecorder persists the execution state of a decision.
type ExecutionRecorder interface {
	UpdateDecisionExecution(ctx context.Context, id uuid.UUID, upd model.ExecutionUpdate) error
}

// Disposition says what the controller did with one action.
type Disposition string

const (
	DispositionExecuted Disposition = "executed"
	DispositionFailed   Disposition = "failed"
	DispositionPending  Disposition = "pending"
	DispositionSkipped  Disposition = "skipped"
)

// Outcome reports the handling of one action.
type Outcome struct {
	ActionID    string      `json:"actionId"`
	Disposition Disposition `json:"disposition"`
	Summary     string      `json:"summary,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Controller runs recommended actions through the catalog. Auto-eligible
// actions below HIGH risk execute immediately; everything else waits for an
// operator.
type Controller struct {
	catalog  *Catalog
	recorder ExecutionRecorder
	logger   *slog.Logger
}

// NewController creates a Controller. recorder may be nil.
func NewController(catalog *Catalog, recorder ExecutionRecorder, logger *slog.Logger) *Controller {
	return &Controller{catalog: catalog, recorder: recorder, logger: logger}
}

// Process handles every action of a recorded decision in order.
func (c *Controller) Process(ctx context.Context, decisionID uuid.UUID, actions []model.Action) []Outcome {
	out := make([]Outcome, 0, len(actions))
	for _, a := range actions {
		entry, ok := c.catalog.Lookup(a.ID)
		if !ok {
			c.logger.Warn("catalog: action not registered, skipping", "decision_id", decisionID, "action_id", a.ID)
			out = append(out, Outcome{ActionID: a.ID, Disposition: DispositionSkipped})
			continue
		}
		if a.Auto && entry.Risk != RiskHigh {
			out = append(out, c.execute(ctx, decisionID, entry, a, string(model.ActorAuto)))
			continue
		}
		reason := "manual recommendation"
		if entry.Risk == RiskHigh {
			reason = "high risk level"
		}
		c.logger.Info("catalog: action awaits approval",
			"decision_id", decisionID, "action_id", a.ID, "reason", reason)
		out = append(out, Outcome{ActionID: a.ID, Disposition: DispositionPending})
	}
	return out
}

// Approve executes a pending action on behalf of an operator.
func (c *Controller) Approve(ctx context.Context, decisionID uuid.UUID, a model.Action, operator string) (Outcome, error) {
	entry, ok := c.catalog.Lookup(a.ID)
	if !ok {
		return Outcome{}, fmt.Errorf("catalog: action %q is not registered", a.ID)
	}
	approvedBy := "operator:" + operator
	if c.recorder != nil {
		err := c.recorder.UpdateDecisionExecution(ctx, decisionID, model.ExecutionUpdate{
			Status:     model.ExecutionApproved,
			ApprovedBy: approvedBy,
			Notes:      fmt.Sprintf("Action %s approved.", a.ID),
		})
		if err != nil {
			return Outcome{}, fmt.Errorf("catalog: record approval: %w", err)
		}
	}
	return c.execute(ctx, decisionID, entry, a, approvedBy), nil
}

func (c *Controller) execute(ctx context.Context, decisionID uuid.UUID, entry Entry, a model.Action, approvedBy string) Outcome {
	summary, err := entry.Handler(ctx, a.Payload)
	upd := model.ExecutionUpdate{ApprovedBy: approvedBy}
	outcome := Outcome{ActionID: a.ID}
	if err != nil {
		c.logger.Error("catalog: action failed", "decision_id", decisionID, "action_id", a.ID, "error", err)
		upd.Status = model.ExecutionFailed
		upd.Notes = "Action execution failed."
		upd.Result = map[string]any{"actionId": a.ID, "error": err.Error()}
		outcome.Disposition = DispositionFailed
		outcome.Error = err.Error()
	} else {
		upd.Status = model.ExecutionApplied
		upd.Notes = "Action executed."
		upd.Result = map[string]any{"actionId": a.ID, "summary": summary}
		outcome.Disposition = DispositionExecuted
		outcome.Summary = summary
	}
	if c.recorder != nil {
		if rerr := c.recorder.UpdateDecisionExecution(ctx, decisionID, upd); rerr != nil {
			c.logger.Error("catalog: record execution", "decision_id", decisionID, "error", rerr)
		}
	}
	return outcome
}
