package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sat18-labs/sat18/internal/model"
)

// HandleAddFeedback handles POST /api/feedback. Id and creation time are
// always assigned here; client values are ignored.
func (h *Handlers) HandleAddFeedback(w http.ResponseWriter, r *http.Request) {
	var rec model.FeedbackRecord
	if err := decodeJSON(w, r, &rec, h.maxBody, false); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := validateFeedback(rec); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	rec.ID = uuid.Nil
	rec.CreatedAt = time.Time{}

	saved, err := h.store.InsertFeedback(r.Context(), rec)
	if err != nil {
		h.writeStorageError(w, r, "insert feedback", err)
		return
	}
	h.svc.InvalidateSummary(saved.Project)
	writeJSON(w, r, http.StatusCreated, saved)
}

// HandleFeedbackSummary handles GET /api/feedback/summary?project=.
func (h *Handlers) HandleFeedbackSummary(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	if project == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "project is required")
		return
	}
	summary, err := h.store.FeedbackSummary(r.Context(), project)
	if err != nil {
		h.writeStorageError(w, r, "feedback summary", err)
		return
	}
	writeJSON(w, r, http.StatusOK, summary)
}

func validateFeedback(rec model.FeedbackRecord) error {
	if rec.Project == "" {
		return fmt.Errorf("project is required")
	}
	if len(rec.Project) > model.MaxProjectLen {
		return fmt.Errorf("project exceeds maximum length of %d characters", model.MaxProjectLen)
	}
	if len(rec.LogSummary) > model.MaxNotesLen {
		return fmt.Errorf("logSummary exceeds maximum length of %d bytes", model.MaxNotesLen)
	}
	switch rec.Actor {
	case "", model.ActorAuto, model.ActorOperator:
	default:
		return fmt.Errorf("actor must be %q or %q", model.ActorAuto, model.ActorOperator)
	}
	return nil
}
