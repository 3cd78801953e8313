package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/sat18-labs/sat18/internal/auth"
	"github.com/sat18-labs/sat18/internal/catalog"
	"github.com/sat18-labs/sat18/internal/policy"
	"github.com/sat18-labs/sat18/internal/ratelimit"
	"github.com/sat18-labs/sat18/internal/service/audit"
	"github.com/sat18-labs/sat18/internal/service/decisions"
	"github.com/sat18-labs/sat18/internal/storage"
)

// Server is the SAT18 HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Controller, Recorder, Keys, Limiter, MCPServer.
type ServerConfig struct {
	// Required dependencies.
	Store       storage.Store
	DecisionSvc *decisions.Service
	Policy      policy.Source
	Sessions    *auth.SessionManager
	Logger      *slog.Logger

	// Optional dependencies (nil = disabled).
	Controller *catalog.Controller
	Recorder   *audit.Recorder
	Keys       *auth.KeyVerifier
	Limiter    ratelimit.Limiter
	MCPServer  *mcpserver.MCPServer

	// HTTP server settings.
	Engine              string
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64
	CORSOrigins         []string

	// Middlewares wrap the whole chain, first registered outermost.
	Middlewares []func(http.Handler) http.Handler
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Store:               cfg.Store,
		Engine:              cfg.Engine,
		DecisionSvc:         cfg.DecisionSvc,
		Policy:              cfg.Policy,
		Controller:          cfg.Controller,
		Recorder:            cfg.Recorder,
		Sessions:            cfg.Sessions,
		Keys:                cfg.Keys,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
	})

	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NoopLimiter{}
	}
	reqIDFunc := func(r *http.Request) string {
		return RequestIDFromContext(r.Context())
	}
	authRL := ratelimit.Middleware(limiter, ratelimit.IPKeyFunc, reqIDFunc, cfg.Logger)
	clientRL := ratelimit.Middleware(limiter, clientKeyFunc, reqIDFunc, cfg.Logger)
	route := func(next http.HandlerFunc) http.Handler { return clientRL(next) }

	mux := http.NewServeMux()

	// Handshake (no auth, rate limited by IP).
	mux.Handle("POST /auth/handshake", authRL(http.HandlerFunc(h.HandleHandshake)))

	// Evaluation.
	mux.Handle("POST /v1/evaluate", route(h.HandleEvaluate))
	mux.Handle("POST /v1/adaptive-config", route(h.HandleAdaptiveConfig))
	mux.Handle("POST /v1/config/parse", route(h.HandleParseConfig))
	mux.Handle("GET /v1/policy", route(h.HandlePolicy))

	// Audit trail.
	mux.Handle("GET /v1/decisions", route(h.HandleListDecisions))
	mux.Handle("GET /v1/decisions/{id}", route(h.HandleGetDecision))
	mux.Handle("POST /v1/decisions/{id}/approve", route(h.HandleApproveDecision))

	// Console feedback API.
	mux.Handle("POST /api/feedback/decision", route(h.HandleDecisionLog))
	mux.Handle("GET /api/feedback/summary", route(h.HandleFeedbackSummary))
	mux.Handle("POST /api/feedback", route(h.HandleAddFeedback))

	// MCP StreamableHTTP transport (auth required).
	if cfg.MCPServer != nil {
		mux.Handle("/mcp", mcpserver.NewStreamableHTTPServer(cfg.MCPServer))
	}

	// Health (no auth, no rate limit).
	mux.HandleFunc("GET /health", h.HandleHealth)

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.Sessions, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.CORSOrigins)(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// clientKeyFunc rate limits authenticated routes per session client.
func clientKeyFunc(r *http.Request) string {
	claims := ClaimsFromContext(r.Context())
	if claims == nil {
		return ratelimit.IPKeyFunc(r)
	}
	return "client:" + claims.ClientID
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
