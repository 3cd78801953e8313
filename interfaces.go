package sat18

import (
	"context"
	"encoding/json"
	"net/http"
)

// Advisor suggests an adaptive deployment config, typically by asking an LLM.
// The request is the JSON form of the health insight, system info and logs
// of one project. The returned bytes are untrusted.
type Advisor interface {
	Advise(ctx context.Context, project string, request json.RawMessage) ([]byte, error)
}

// Risk grades how dangerous an action is to run without an operator.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// Action is an executable remediation. Actions below RiskHigh that the policy
// marks automatic run as soon as their decision is audited; the rest wait
// for POST /v1/decisions/{id}/approve.
type Action struct {
	ID          string
	Description string
	Risk        Risk
	Run         func(ctx context.Context, payload map[string]any) (summary string, err error)
}

// Middleware wraps the root HTTP handler. It sees every request, /health
// included.
type Middleware func(http.Handler) http.Handler
