package model

import (
	"fmt"
	"time"
)

// Field length limits for free-text request fields. They keep a single
// oversized payload from filling TEXT columns with caller-controlled data.
const (
	MaxProjectLen = 200
	MaxNotesLen   = 16 * 1024
	MaxLogEntries = 5000
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// HandshakeRequest is the request body for POST /auth/handshake.
type HandshakeRequest struct {
	ClientID string `json:"clientId"`
	APIKey   string `json:"apiKey"`
}

// HandshakeResponse carries the session token used for authenticated audit posts.
type HandshakeResponse struct {
	SessionToken string    `json:"sessionToken"`
	ExpiresIn    int       `json:"expiresIn"` // seconds
	ExpiresAt    time.Time `json:"expiresAt"`
}

// AdaptiveConfigRequest is the request body for POST /v1/adaptive-config.
type AdaptiveConfigRequest struct {
	Project string               `json:"project"`
	Insight *SystemHealthInsight `json:"insight"`
	System  *VpsSystemInfo       `json:"system"`
	Logs    []VpsLogEntry        `json:"logs"`
}

// Validate checks request-level limits.
func (r AdaptiveConfigRequest) Validate() error {
	if r.Project == "" {
		return fmt.Errorf("project is required")
	}
	if len(r.Project) > MaxProjectLen {
		return fmt.Errorf("project exceeds maximum length of %d characters", MaxProjectLen)
	}
	if r.Insight == nil {
		return fmt.Errorf("insight is required")
	}
	if len(r.Logs) > MaxLogEntries {
		return fmt.Errorf("logs exceeds maximum of %d entries", MaxLogEntries)
	}
	return nil
}

// EvaluateResponse is returned by both evaluation endpoints. Advice is the
// advisor's gated suggestion, present only when an advisor is configured.
type EvaluateResponse struct {
	Decision Decision        `json:"decision"`
	Config   AdaptiveConfig  `json:"config"`
	Advice   *AdaptiveConfig `json:"advice,omitempty"`
}

// DecisionLogResponse is returned by POST /api/feedback/decision.
type DecisionLogResponse struct {
	DecisionID string `json:"decisionId"`
}

// ApproveRequest is the request body for POST /v1/decisions/{id}/approve.
type ApproveRequest struct {
	ActionID string `json:"actionId"`
	Notes    string `json:"notes,omitempty"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Storage      string `json:"storage"`
	Engine       string `json:"engine"`
	PolicyRoot   string `json:"policy_root"`
	BufferDepth  int    `json:"buffer_depth"`
	BufferStatus string `json:"buffer_status"` // "ok", "high", "critical"
	Uptime       int64  `json:"uptime_seconds"`
}
