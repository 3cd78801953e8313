// Package sat18 is a Go client for a remote SAT18 decision server.
//
// A Client implements audit.Sink and decisionctx.SummarySource, so a console
// process can record decisions on and read feedback history from another
// SAT18 server instead of a local database.
package sat18

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sat18-labs/sat18/internal/catalog"
	"github.com/sat18-labs/sat18/internal/model"
)

// Config holds the configuration for a Client.
type Config struct {
	// BaseURL is the SAT18 server URL (e.g., "http://localhost:8080").
	BaseURL string

	// ClientID identifies this client in the handshake.
	ClientID string

	// APIKey is the shared secret presented during the handshake.
	APIKey string

	// HTTPClient is an optional custom HTTP client. If nil, a default
	// client with Timeout is used.
	HTTPClient *http.Client

	// Timeout for HTTP requests. Defaults to 10 seconds. Ignored if
	// HTTPClient is provided.
	Timeout time.Duration
}

// Client talks to the SAT18 HTTP API.
type Client struct {
	baseURL  string
	client   *http.Client
	tokenMgr *tokenManager
}

// NewClient creates a new SAT18 client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("sat18: BaseURL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("sat18: BaseURL %q is not an absolute URL", cfg.BaseURL)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("sat18: ClientID is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("sat18: APIKey is required")
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		baseURL:  baseURL,
		client:   httpClient,
		tokenMgr: newTokenManager(baseURL, cfg.ClientID, cfg.APIKey, httpClient),
	}, nil
}

// PostDecisionLog records an evaluated decision on the server and returns
// its audit id.
func (c *Client) PostDecisionLog(ctx context.Context, d model.Decision) (uuid.UUID, error) {
	var resp model.DecisionLogResponse
	if err := c.post(ctx, "/api/feedback/decision", d, &resp); err != nil {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(resp.DecisionID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("sat18: invalid decision id %q: %w", resp.DecisionID, err)
	}
	return id, nil
}

// FeedbackSummary returns the accuracy summary of a project.
func (c *Client) FeedbackSummary(ctx context.Context, project string) (*model.FeedbackSummary, error) {
	if project == "" {
		return nil, fmt.Errorf("sat18: project is required")
	}
	var summary model.FeedbackSummary
	if err := c.get(ctx, "/api/feedback/summary?project="+url.QueryEscape(project), &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// AddFeedback reports the observed outcome of a decision.
func (c *Client) AddFeedback(ctx context.Context, rec model.FeedbackRecord) (model.FeedbackRecord, error) {
	var saved model.FeedbackRecord
	err := c.post(ctx, "/api/feedback", rec, &saved)
	return saved, err
}

// Evaluate runs a decision context through the server's policy.
func (c *Client) Evaluate(ctx context.Context, dctx model.DecisionContext) (model.EvaluateResponse, error) {
	var resp model.EvaluateResponse
	err := c.post(ctx, "/v1/evaluate", dctx, &resp)
	return resp, err
}

// AdaptiveConfig builds a context from a health insight on the server and
// evaluates it.
func (c *Client) AdaptiveConfig(ctx context.Context, req model.AdaptiveConfigRequest) (model.EvaluateResponse, error) {
	var resp model.EvaluateResponse
	err := c.post(ctx, "/v1/adaptive-config", req, &resp)
	return resp, err
}

// GetDecision returns one audited decision.
func (c *Client) GetDecision(ctx context.Context, id uuid.UUID) (model.DecisionRecord, error) {
	var rec model.DecisionRecord
	err := c.get(ctx, "/v1/decisions/"+id.String(), &rec)
	return rec, err
}

// ApproveDecision runs a pending action of a decision. An empty actionID
// approves the decision's priority action.
func (c *Client) ApproveDecision(ctx context.Context, id uuid.UUID, actionID, notes string) (catalog.Outcome, error) {
	var out catalog.Outcome
	err := c.post(ctx, "/v1/decisions/"+id.String()+"/approve", model.ApproveRequest{ActionID: actionID, Notes: notes}, &out)
	return out, err
}

// Health checks server health. It does not authenticate.
func (c *Client) Health(ctx context.Context) (model.HealthResponse, error) {
	var resp model.HealthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return resp, fmt.Errorf("sat18: create request: %w", err)
	}
	httpResp, err := c.client.Do(req)
	if err != nil {
		return resp, fmt.Errorf("sat18: GET /health: %w", err)
	}
	defer func() { _ = httpResp.Body.Close() }()
	return resp, handleResponse(httpResp, &resp)
}

// apiEnvelope is the server's standard response wrapper.
type apiEnvelope struct {
	Data json.RawMessage `json:"data"`
}

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body any, dest any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("sat18: marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("sat18: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return c.doRequest(ctx, req, dest)
}

func (c *Client) get(ctx context.Context, path string, dest any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("sat18: create request: %w", err)
	}

	return c.doRequest(ctx, req, dest)
}

func (c *Client) doRequest(ctx context.Context, req *http.Request, dest any) error {
	token, err := c.tokenMgr.getToken(ctx)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("sat18: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	err = handleResponse(resp, dest)
	if IsUnauthorized(err) {
		// The server may have restarted with a fresh signing key.
		c.tokenMgr.invalidate()
	}
	return err
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("sat18: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp.StatusCode, bodyBytes)
	}
	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}

	var envelope apiEnvelope
	if err := json.Unmarshal(bodyBytes, &envelope); err != nil {
		return fmt.Errorf("sat18: decode response envelope: %w", err)
	}
	if envelope.Data == nil {
		return errors.New("sat18: response has no data")
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		return fmt.Errorf("sat18: decode response data: %w", err)
	}
	return nil
}

func parseErrorResponse(statusCode int, body []byte) *Error {
	apiErr := &Error{StatusCode: statusCode}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(statusCode)
		apiErr.Message = string(body)
	}

	return apiErr
}
