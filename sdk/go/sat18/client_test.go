package sat18

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sat18-labs/sat18/internal/decisionctx"
	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/service/audit"
)

var (
	_ audit.Sink                = (*Client)(nil)
	_ decisionctx.SummarySource = (*Client)(nil)
)

// mockServer creates an httptest server that mimics the SAT18 API. The
// handshake endpoint is always registered unless handlers override it.
func mockServer(t *testing.T, handlers map[string]http.HandlerFunc) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	mux := http.NewServeMux()
	var handshakes atomic.Int32

	if _, ok := handlers["POST /auth/handshake"]; !ok {
		mux.HandleFunc("POST /auth/handshake", func(w http.ResponseWriter, r *http.Request) {
			handshakes.Add(1)
			var req model.HandshakeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ClientID != "console" {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "invalid credentials"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": model.HandshakeResponse{
					SessionToken: "session-xyz",
					ExpiresIn:    3600,
					ExpiresAt:    time.Now().Add(time.Hour),
				},
			})
		})
	}

	for pattern, handler := range handlers {
		mux.HandleFunc(pattern, handler)
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &handshakes
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requireBearer(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("Authorization"); got != "Bearer session-xyz" {
		t.Errorf("Authorization = %q, want bearer session token", got)
	}
}

func newTestClient(t *testing.T, serverURL string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		BaseURL:  serverURL,
		ClientID: "console",
		APIKey:   "console-secret",
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return c
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing base url", Config{ClientID: "c", APIKey: "k"}},
		{"relative base url", Config{BaseURL: "localhost", ClientID: "c", APIKey: "k"}},
		{"missing client id", Config{BaseURL: "http://x", APIKey: "k"}},
		{"missing api key", Config{BaseURL: "http://x", ClientID: "c"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewClient(tt.cfg); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestPostDecisionLog(t *testing.T) {
	want := uuid.New()
	srv, handshakes := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/feedback/decision": func(w http.ResponseWriter, r *http.Request) {
			requireBearer(t, r)
			var d model.Decision
			if err := json.NewDecoder(r.Body).Decode(&d); err != nil {
				t.Errorf("decode: %v", err)
			}
			if d.ContextSnapshot.Project != "shop" {
				t.Errorf("project = %q", d.ContextSnapshot.Project)
			}
			writeJSON(w, http.StatusCreated, map[string]any{
				"data": model.DecisionLogResponse{DecisionID: want.String()},
			})
		},
	})
	c := newTestClient(t, srv.URL)

	d := model.Decision{
		Actions:         []model.Action{{ID: "no-op", Level: model.LevelInfo, Auto: true}},
		ContextSnapshot: model.DecisionContext{Project: "shop"},
	}
	for i := 0; i < 3; i++ {
		got, err := c.PostDecisionLog(context.Background(), d)
		if err != nil {
			t.Fatalf("PostDecisionLog: %v", err)
		}
		if got != want {
			t.Fatalf("id = %s, want %s", got, want)
		}
	}
	if n := handshakes.Load(); n != 1 {
		t.Errorf("handshakes = %d, want the token to be cached", n)
	}
}

func TestFeedbackSummary(t *testing.T) {
	srv, _ := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/feedback/summary": func(w http.ResponseWriter, r *http.Request) {
			requireBearer(t, r)
			if p := r.URL.Query().Get("project"); p != "shop & co" {
				t.Errorf("project = %q", p)
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"data": model.FeedbackSummary{AccuracyRate: 80, Total: 5, SuccessCount: 4},
			})
		},
	})
	c := newTestClient(t, srv.URL)

	s, err := c.FeedbackSummary(context.Background(), "shop & co")
	if err != nil {
		t.Fatalf("FeedbackSummary: %v", err)
	}
	if s.Total != 5 || s.AccuracyRate != 80 {
		t.Errorf("summary = %+v", s)
	}

	if _, err := c.FeedbackSummary(context.Background(), ""); err == nil {
		t.Error("expected error for empty project")
	}
}

func TestEvaluate(t *testing.T) {
	srv, _ := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/evaluate": func(w http.ResponseWriter, r *http.Request) {
			requireBearer(t, r)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": model.EvaluateResponse{
					Decision: model.Decision{Actions: []model.Action{{ID: "rollback", Level: model.LevelCritical}}},
					Config:   model.AdaptiveConfig{Policy: model.PolicyManualApproval, Reason: "rollback"},
				},
			})
		},
	})
	c := newTestClient(t, srv.URL)

	resp, err := c.Evaluate(context.Background(), model.DecisionContext{Project: "shop", Outcome: model.OutcomeFail})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if resp.Config.Policy != model.PolicyManualApproval {
		t.Errorf("policy = %s", resp.Config.Policy)
	}
	if len(resp.Decision.Actions) != 1 || resp.Decision.Actions[0].ID != "rollback" {
		t.Errorf("actions = %+v", resp.Decision.Actions)
	}
}

func TestAddFeedback(t *testing.T) {
	srv, _ := mockServer(t, map[string]http.HandlerFunc{
		"POST /api/feedback": func(w http.ResponseWriter, r *http.Request) {
			var rec model.FeedbackRecord
			_ = json.NewDecoder(r.Body).Decode(&rec)
			rec.ID = uuid.New()
			rec.CreatedAt = time.Now().UTC()
			writeJSON(w, http.StatusCreated, map[string]any{"data": rec})
		},
	})
	c := newTestClient(t, srv.URL)

	saved, err := c.AddFeedback(context.Background(), model.FeedbackRecord{
		Project: "shop",
		Outcome: model.DeployOutcome{Success: true},
		Actor:   model.ActorAuto,
	})
	if err != nil {
		t.Fatalf("AddFeedback: %v", err)
	}
	if saved.ID == uuid.Nil || saved.Project != "shop" {
		t.Errorf("saved = %+v", saved)
	}
}

func TestErrorEnvelope(t *testing.T) {
	srv, _ := mockServer(t, map[string]http.HandlerFunc{
		"GET /v1/decisions/{id}": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusNotFound, map[string]any{
				"error": map[string]any{"code": "NOT_FOUND", "message": "decision not found"},
			})
		},
		"POST /v1/decisions/{id}/approve": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusConflict, map[string]any{
				"error": map[string]any{"code": "CONFLICT", "message": "decision has already been applied"},
			})
		},
	})
	c := newTestClient(t, srv.URL)

	_, err := c.GetDecision(context.Background(), uuid.New())
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	apiErr, ok := err.(*Error)
	if !ok || apiErr.Message != "decision not found" || apiErr.Code != "NOT_FOUND" {
		t.Errorf("err = %#v", err)
	}

	_, err = c.ApproveDecision(context.Background(), uuid.New(), "", "")
	if !IsConflict(err) {
		t.Errorf("expected conflict, got %v", err)
	}
}

func TestHandshakeFailure(t *testing.T) {
	srv, _ := mockServer(t, nil)
	c, err := NewClient(Config{BaseURL: srv.URL, ClientID: "intruder", APIKey: "nope"})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Evaluate(context.Background(), model.DecisionContext{Project: "shop"})
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestUnauthorizedDropsToken(t *testing.T) {
	var calls atomic.Int32
	srv, handshakes := mockServer(t, map[string]http.HandlerFunc{
		"POST /v1/evaluate": func(w http.ResponseWriter, _ *http.Request) {
			if calls.Add(1) == 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]any{
					"error": map[string]any{"code": "UNAUTHORIZED", "message": "invalid or expired session token"},
				})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": model.EvaluateResponse{}})
		},
	})
	c := newTestClient(t, srv.URL)

	if _, err := c.Evaluate(context.Background(), model.DecisionContext{Project: "shop"}); !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := c.Evaluate(context.Background(), model.DecisionContext{Project: "shop"}); err != nil {
		t.Fatalf("second Evaluate: %v", err)
	}
	if n := handshakes.Load(); n != 2 {
		t.Errorf("handshakes = %d, want 2", n)
	}
}

func TestTokenRefreshNearExpiry(t *testing.T) {
	srv, handshakes := mockServer(t, map[string]http.HandlerFunc{
		"GET /api/feedback/summary": func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": model.FeedbackSummary{}})
		},
	})
	c := newTestClient(t, srv.URL)
	now := time.Now()
	c.tokenMgr.now = func() time.Time { return now }

	if _, err := c.FeedbackSummary(context.Background(), "shop"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(time.Hour - 10*time.Second)
	if _, err := c.FeedbackSummary(context.Background(), "shop"); err != nil {
		t.Fatal(err)
	}
	if n := handshakes.Load(); n != 2 {
		t.Errorf("handshakes = %d, want a refresh inside the expiry margin", n)
	}
}

func TestHealthSkipsAuth(t *testing.T) {
	srv, handshakes := mockServer(t, map[string]http.HandlerFunc{
		"GET /health": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Error("health must not send credentials")
			}
			writeJSON(w, http.StatusOK, map[string]any{"data": model.HealthResponse{Status: "healthy"}})
		},
	})
	c := newTestClient(t, srv.URL)

	h, err := c.Health(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if h.Status != "healthy" {
		t.Errorf("status = %q", h.Status)
	}
	if handshakes.Load() != 0 {
		t.Error("health must not handshake")
	}
}
