package model

import (
	"time"

	"github.com/google/uuid"
)

// ExecutionStatus tracks what happened to a recorded decision's actions.
type ExecutionStatus string

const (
	ExecutionPending  ExecutionStatus = "pending"
	ExecutionApproved ExecutionStatus = "approved"
	ExecutionApplied  ExecutionStatus = "applied"
	ExecutionFailed   ExecutionStatus = "failed"
)

// Valid reports whether s is a known status.
func (s ExecutionStatus) Valid() bool {
	switch s {
	case ExecutionPending, ExecutionApproved, ExecutionApplied, ExecutionFailed:
		return true
	}
	return false
}

// DecisionRecord is a persisted audit row. Intent, Action and Parameters are
// taken from the priority action of the evaluation.
type DecisionRecord struct {
	ID              uuid.UUID       `json:"decisionId"`
	Project         string          `json:"project"`
	Intent          string          `json:"intent"`
	Action          string          `json:"action"`
	Parameters      map[string]any  `json:"parameters"`
	Context         DecisionContext `json:"context"`
	Actions         []Action        `json:"actions"`
	Trace           []TraceEntry    `json:"trace"`
	Confidence      float64         `json:"confidence"`
	ExecutionStatus ExecutionStatus `json:"executionStatus"`
	ApprovedBy      *string         `json:"approvedBy,omitempty"`
	Notes           *string         `json:"notes,omitempty"`
	Result          map[string]any  `json:"result,omitempty"`
	DecidedAt       time.Time       `json:"decidedAt"`
	ExecutedAt      *time.Time      `json:"executedAt,omitempty"`
	CreatedAt       time.Time       `json:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// ExecutionUpdate changes the execution state of a recorded decision.
type ExecutionUpdate struct {
	Status     ExecutionStatus
	ApprovedBy string
	Notes      string
	Result     map[string]any
}

// Actor identifies who triggered a deployment.
type Actor string

const (
	ActorAuto     Actor = "auto"
	ActorOperator Actor = "operator"
)

// DeployOutcome is what actually happened after a decision was acted on.
type DeployOutcome struct {
	Success           bool   `json:"success"`
	DeployStartedAt   string `json:"deployStartedAt,omitempty"`
	DeployFinishedAt  string `json:"deployFinishedAt,omitempty"`
	HealthCheckPassed *bool  `json:"healthCheckPassed,omitempty"`
	Notes             string `json:"notes,omitempty"`
}

// FeedbackRecord pairs a decision with its observed outcome. Accuracy in the
// feedback summary is computed from these.
type FeedbackRecord struct {
	ID                    uuid.UUID      `json:"id"`
	Project               string         `json:"project"`
	Environment           string         `json:"environment"`
	Decision              AdaptiveConfig `json:"decision"`
	Outcome               DeployOutcome  `json:"outcome"`
	SystemMetricsSnapshot *VpsSystemInfo `json:"systemMetricsSnapshot"`
	LogSummary            string         `json:"logSummary"`
	Actor                 Actor          `json:"actor"`
	CreatedAt             time.Time      `json:"createdAt"`
}
