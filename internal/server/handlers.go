package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sat18-labs/sat18/internal/auth"
	"github.com/sat18-labs/sat18/internal/catalog"
	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/policy"
	"github.com/sat18-labs/sat18/internal/service/audit"
	"github.com/sat18-labs/sat18/internal/service/decisions"
	"github.com/sat18-labs/sat18/internal/storage"
	"github.com/sat18-labs/sat18/internal/tuner"
)

const (
	defaultMaxBodyBytes = 1 << 20
	healthPingTimeout   = 2 * time.Second
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	store      storage.Store
	engine     string
	svc        *decisions.Service
	policy     policy.Source
	sink       audit.StoreSink
	controller *catalog.Controller
	recorder   *audit.Recorder
	sessions   *auth.SessionManager
	keys       *auth.KeyVerifier
	logger     *slog.Logger
	startedAt  time.Time
	version    string
	maxBody    int64
	now        func() time.Time
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): Controller, Recorder, Keys.
type HandlersDeps struct {
	Store               storage.Store
	Engine              string
	DecisionSvc         *decisions.Service
	Policy              policy.Source
	Controller          *catalog.Controller
	Recorder            *audit.Recorder
	Sessions            *auth.SessionManager
	Keys                *auth.KeyVerifier
	Logger              *slog.Logger
	Version             string
	MaxRequestBodyBytes int64
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	maxBody := d.MaxRequestBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	return &Handlers{
		store:      d.Store,
		engine:     d.Engine,
		svc:        d.DecisionSvc,
		policy:     d.Policy,
		sink:       audit.StoreSink{Store: d.Store, Controller: d.Controller, Logger: d.Logger},
		controller: d.Controller,
		recorder:   d.Recorder,
		sessions:   d.Sessions,
		keys:       d.Keys,
		logger:     d.Logger,
		startedAt:  time.Now(),
		version:    d.Version,
		maxBody:    maxBody,
		now:        time.Now,
	}
}

// HandleHandshake handles POST /auth/handshake. A valid API key is exchanged
// for a short-lived session token.
func (h *Handlers) HandleHandshake(w http.ResponseWriter, r *http.Request) {
	var req model.HandshakeRequest
	if err := decodeJSON(w, r, &req, h.maxBody, true); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.ClientID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "clientId is required")
		return
	}
	if h.keys == nil || !h.keys.Verify(req.APIKey) {
		h.logger.Warn("auth: handshake rejected", "client_id", req.ClientID)
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.sessions.Issue(req.ClientID)
	if err != nil {
		h.logger.Error("auth: issue session", "client_id", req.ClientID, "error", err)
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "failed to issue session")
		return
	}
	writeJSON(w, r, http.StatusOK, model.HandshakeResponse{
		SessionToken: token,
		ExpiresIn:    int(h.sessions.TTL().Seconds()),
		ExpiresAt:    expiresAt,
	})
}

// HandlePolicy handles GET /v1/policy.
func (h *Handlers) HandlePolicy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.policy.Tree())
}

// HandleParseConfig handles POST /v1/config/parse. Any body is accepted; the
// response is always a usable config.
func (h *Handlers) HandleParseConfig(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		handleDecodeError(w, r, err)
		return
	}
	cfg := tuner.SafeParse(body, h.now())
	if r.URL.Query().Get("gate") == "true" {
		cfg = tuner.Gate(cfg)
	}
	writeJSON(w, r, http.StatusOK, cfg)
}

// HandleHealth handles GET /health. Storage failures degrade the status to 503.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := model.HealthResponse{
		Status:       "healthy",
		Version:      h.version,
		Storage:      "connected",
		Engine:       h.engine,
		BufferStatus: "ok",
		Uptime:       int64(time.Since(h.startedAt).Seconds()),
	}
	if root := h.policy.Tree(); root != nil {
		resp.PolicyRoot = root.ID
	}
	if h.recorder != nil {
		resp.BufferDepth = h.recorder.Len()
		resp.BufferStatus = bufferStatus(resp.BufferDepth, h.recorder.Capacity())
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()
	status := http.StatusOK
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("health: storage ping failed", "error", err)
		resp.Status = "unhealthy"
		resp.Storage = "disconnected"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, r, status, resp)
}

func bufferStatus(depth, capacity int) string {
	switch {
	case capacity <= 0:
		return "ok"
	case depth*10 >= capacity*9:
		return "critical"
	case depth*2 >= capacity:
		return "high"
	}
	return "ok"
}

// queryLimit parses ?limit=, returning def when absent and an error when
// malformed.
func queryLimit(r *http.Request, def int) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}
