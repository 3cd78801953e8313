package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/sat18-labs/sat18/internal/catalog"
	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/service/decisions"
	"github.com/sat18-labs/sat18/internal/storage"
)

// HandleEvaluate handles POST /v1/evaluate. The body is a ready-made context.
func (h *Handlers) HandleEvaluate(w http.ResponseWriter, r *http.Request) {
	var dctx model.DecisionContext
	if err := decodeJSON(w, r, &dctx, h.maxBody, true); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	res, err := h.svc.Evaluate(r.Context(), dctx)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toEvaluateResponse(res))
}

// HandleAdaptiveConfig handles POST /v1/adaptive-config.
func (h *Handlers) HandleAdaptiveConfig(w http.ResponseWriter, r *http.Request) {
	var req model.AdaptiveConfigRequest
	if err := decodeJSON(w, r, &req, h.maxBody, true); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	res, err := h.svc.AdaptiveConfig(r.Context(), decisions.Input{
		Project: req.Project,
		Insight: req.Insight,
		System:  req.System,
		Logs:    req.Logs,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toEvaluateResponse(res))
}

// HandleGetDecision handles GET /v1/decisions/{id}.
func (h *Handlers) HandleGetDecision(w http.ResponseWriter, r *http.Request) {
	id, ok := parseDecisionID(w, r)
	if !ok {
		return
	}
	rec, err := h.store.GetDecision(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, "get decision", err)
		return
	}
	writeJSON(w, r, http.StatusOK, rec)
}

// HandleListDecisions handles GET /v1/decisions?project=&limit=.
func (h *Handlers) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 0)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	project := r.URL.Query().Get("project")
	recs, err := h.store.ListDecisions(r.Context(), project, limit)
	if err != nil {
		h.writeStorageError(w, r, "list decisions", err)
		return
	}
	if recs == nil {
		recs = []model.DecisionRecord{}
	}
	writeJSON(w, r, http.StatusOK, recs)
}

// HandleApproveDecision handles POST /v1/decisions/{id}/approve. The operator
// is the session's client id.
func (h *Handlers) HandleApproveDecision(w http.ResponseWriter, r *http.Request) {
	if h.controller == nil {
		writeError(w, r, http.StatusNotImplemented, model.ErrCodeInternalError, "action execution is not configured")
		return
	}
	id, ok := parseDecisionID(w, r)
	if !ok {
		return
	}
	var req model.ApproveRequest
	if err := decodeJSON(w, r, &req, h.maxBody, true); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	rec, err := h.store.GetDecision(r.Context(), id)
	if err != nil {
		h.writeStorageError(w, r, "get decision", err)
		return
	}
	if rec.ExecutionStatus == model.ExecutionApplied {
		writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "decision has already been applied")
		return
	}

	actionID := req.ActionID
	if actionID == "" {
		actionID = rec.Action
	}
	action, found := findAction(rec.Actions, actionID)
	if !found {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			fmt.Sprintf("action %q is not part of decision %s", actionID, id))
		return
	}

	operator := "unknown"
	if claims := ClaimsFromContext(r.Context()); claims != nil && claims.ClientID != "" {
		operator = claims.ClientID
	}
	outcome, err := h.controller.Approve(r.Context(), id, action, operator)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "decision not found")
			return
		}
		h.logger.Error("approve decision", "decision_id", id, "action_id", actionID, "error", err)
		writeError(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput, err.Error())
		return
	}
	writeJSON(w, r, http.StatusOK, outcome)
}

// HandleDecisionLog handles POST /api/feedback/decision, the audit sink used by
// consoles. The decision is stored and its actions are handed to the
// controller.
func (h *Handlers) HandleDecisionLog(w http.ResponseWriter, r *http.Request) {
	var d model.Decision
	if err := decodeJSON(w, r, &d, h.maxBody, false); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if d.ContextSnapshot.Project == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "contextSnapshot.project is required")
		return
	}
	id, outcomes, err := h.sink.Log(r.Context(), d)
	if err != nil {
		if errors.Is(err, storage.ErrNoActions) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "decision has no actions")
			return
		}
		h.writeStorageError(w, r, "log decision", err)
		return
	}
	writeJSON(w, r, http.StatusCreated, decisionLogResponse{
		DecisionLogResponse: model.DecisionLogResponse{DecisionID: id.String()},
		Outcomes:            outcomes,
	})
}

type decisionLogResponse struct {
	model.DecisionLogResponse
	Outcomes []catalog.Outcome `json:"outcomes,omitempty"`
}

func toEvaluateResponse(res decisions.Result) model.EvaluateResponse {
	return model.EvaluateResponse{Decision: res.Decision, Config: res.Config, Advice: res.Advice}
}

func findAction(actions []model.Action, id string) (model.Action, bool) {
	for _, a := range actions {
		if a.ID == id {
			return a, true
		}
	}
	return model.Action{}, false
}

func parseDecisionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid decision id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, decisions.ErrInvalidInput) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	h.logger.Error("decision service", "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "evaluation failed")
}

func (h *Handlers) writeStorageError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "decision not found")
		return
	}
	h.logger.Error(op, "error", err, "request_id", RequestIDFromContext(r.Context()))
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "storage error")
}
