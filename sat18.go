// Package sat18 is the public API for embedding the SAT18 deployment decision
// server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := sat18.New(ctx,
//	    sat18.WithVersion(version),
//	    sat18.WithLogger(logger),
//	    sat18.WithAction(sat18.Action{ID: "rollback", Risk: sat18.RiskHigh, Run: rollback}),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The root package imports internal/*, but internal/* never imports the root
// package. Public types (Action, Advisor) carry no internal types; adapters
// live in this file.
package sat18

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/sat18-labs/sat18/internal/auth"
	"github.com/sat18-labs/sat18/internal/catalog"
	"github.com/sat18-labs/sat18/internal/config"
	"github.com/sat18-labs/sat18/internal/decisionctx"
	"github.com/sat18-labs/sat18/internal/idt"
	"github.com/sat18-labs/sat18/internal/mcp"
	"github.com/sat18-labs/sat18/internal/policy"
	"github.com/sat18-labs/sat18/internal/ratelimit"
	"github.com/sat18-labs/sat18/internal/server"
	"github.com/sat18-labs/sat18/internal/service/audit"
	"github.com/sat18-labs/sat18/internal/service/decisions"
	"github.com/sat18-labs/sat18/internal/storage"
	"github.com/sat18-labs/sat18/internal/telemetry"
	"github.com/sat18-labs/sat18/internal/tuner"
)

const (
	shutdownHTTPTimeout  = 10 * time.Second
	shutdownDrainTimeout = 5 * time.Second
)

// App is the SAT18 server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        storage.Store
	srv          *server.Server
	recorder     *audit.Recorder
	holder       *policy.Holder
	watcher      *policy.Watcher // nil unless a watched policy file is configured
	watching     bool
	limiter      ratelimit.Limiter
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the server. It opens storage, runs migrations, loads the
// policy and wires all subsystems. It does NOT start any goroutines or accept
// HTTP connections; call Run().
func New(ctx context.Context, opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DBEngine = storage.EnginePostgres
		cfg.DatabaseURL = o.databaseURL
	}
	if o.policyFile != "" {
		cfg.PolicyFile = o.policyFile
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("sat18 starting", "version", version, "port", cfg.Port, "engine", cfg.DBEngine)

	otelShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Endpoint:    cfg.OTELEndpoint,
		ServiceName: cfg.ServiceName,
		Version:     version,
		Insecure:    cfg.OTELInsecure,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Everything opened past this point is released by cleanup on failure.
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
		_ = otelShutdown(context.Background())
	}

	store, err := storage.Open(ctx, storage.OpenConfig{
		Engine:     cfg.DBEngine,
		DSN:        cfg.DatabaseURL,
		SQLitePath: cfg.SQLitePath,
	}, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("storage: %w", err)
	}
	closers = append(closers, func() { store.Close(context.Background()) })

	holder, watcher, err := loadPolicy(cfg, logger)
	if err != nil {
		cleanup()
		return nil, err
	}

	sessions, err := auth.NewSessionManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.SessionTTL, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("auth: %w", err)
	}
	keys, err := newKeyVerifier(cfg, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("auth: %w", err)
	}

	cat := catalog.Default(logger)
	for _, a := range o.actions {
		if err := cat.Register(toCatalogEntry(a)); err != nil {
			cleanup()
			return nil, fmt.Errorf("action %q: %w", a.ID, err)
		}
	}
	controller := catalog.NewController(cat, store, logger)

	recorder := audit.NewRecorder(
		audit.StoreSink{Store: store, Controller: controller, Logger: logger},
		logger,
		audit.Config{Capacity: cfg.AuditBufferSize, FlushInterval: cfg.AuditFlushInterval},
	)
	evaluator := idt.NewEvaluator(holder, recorder)
	builder := decisionctx.NewBuilder(store, logger, decisionctx.BuilderConfig{CacheTTL: cfg.SummaryCacheTTL})

	advisor, err := newAdvisor(ctx, cfg, o.advisor, logger)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("advisor: %w", err)
	}
	decisionSvc := decisions.New(builder, evaluator, advisor, logger)

	mcpSrv := mcp.New(store, decisionSvc, holder, logger, version)

	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.ServerConfig{
		Store:               store,
		DecisionSvc:         decisionSvc,
		Policy:              holder,
		Sessions:            sessions,
		Logger:              logger,
		Controller:          controller,
		Recorder:            recorder,
		Keys:                keys,
		Limiter:             limiter,
		MCPServer:           mcpSrv.MCPServer(),
		Engine:              cfg.DBEngine,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		CORSOrigins:         cfg.CORSOrigins,
		Middlewares:         middlewares,
	})

	return &App{
		cfg:          cfg,
		store:        store,
		srv:          srv,
		recorder:     recorder,
		holder:       holder,
		watcher:      watcher,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Handler returns the fully wired HTTP handler, for tests and for callers
// that serve it themselves.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// Run starts the audit recorder, the policy watcher and the HTTP server, then
// blocks until ctx is cancelled or the server fails. On return, Shutdown has
// already run; callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	a.recorder.Start(ctx)
	if a.watcher != nil {
		a.watcher.Start(ctx)
		a.watching = true
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})
	return g.Wait()
}

// Shutdown stops accepting HTTP requests, drains in-flight ones, flushes the
// audit buffer and closes storage and telemetry.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("sat18 shutting down")

	httpCtx, httpCancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
	err := a.srv.Shutdown(httpCtx)
	httpCancel()
	if err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}

	if a.watching {
		a.watcher.Stop()
	}

	drainCtx, drainCancel := context.WithTimeout(ctx, shutdownDrainTimeout)
	a.recorder.Drain(drainCtx)
	drainCancel()
	if n := a.recorder.Len(); n > 0 {
		a.logger.Error("audit buffer drain incomplete, unflushed decisions will be lost", "remaining", n)
	}

	_ = a.limiter.Close()
	_ = a.otelShutdown(context.Background())
	a.store.Close(context.Background())

	a.logger.Info("sat18 stopped", "audited", a.recorder.Recorded(), "dropped", a.recorder.Dropped())
	return nil
}

// loadPolicy builds the policy holder from the configured file, or from the
// default tree with the configured thresholds when no file is set.
func loadPolicy(cfg config.Config, logger *slog.Logger) (*policy.Holder, *policy.Watcher, error) {
	var root *policy.Node
	if cfg.PolicyFile != "" {
		var err error
		root, err = policy.LoadFile(cfg.PolicyFile)
		if err != nil {
			return nil, nil, fmt.Errorf("policy: %w", err)
		}
		logger.Info("policy: loaded", "file", cfg.PolicyFile, "root", root.ID)
	} else {
		root = policy.DefaultTree(policy.Thresholds{
			CPUPercent:         cfg.PolicyCPUThreshold,
			Accuracy7d:         cfg.PolicyAccuracyThreshold,
			HealthChecksFailed: cfg.PolicyHealthCheckThreshold,
		})
		logger.Info("policy: default tree",
			"cpu_threshold", cfg.PolicyCPUThreshold,
			"accuracy_threshold", cfg.PolicyAccuracyThreshold,
			"healthcheck_threshold", cfg.PolicyHealthCheckThreshold)
	}

	holder, err := policy.NewHolder(root)
	if err != nil {
		return nil, nil, fmt.Errorf("policy: %w", err)
	}
	if cfg.PolicyFile == "" || !cfg.PolicyWatch {
		return holder, nil, nil
	}
	watcher, err := policy.NewWatcher(cfg.PolicyFile, holder, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("policy watcher: %w", err)
	}
	return holder, watcher, nil
}

// newKeyVerifier prefers the stored hash; a plaintext key is hashed at
// startup. With neither, the handshake rejects every client.
func newKeyVerifier(cfg config.Config, logger *slog.Logger) (*auth.KeyVerifier, error) {
	hash := cfg.APIKeyHash
	if hash == "" && cfg.APIKey != "" {
		var err error
		if hash, err = auth.HashAPIKey(cfg.APIKey); err != nil {
			return nil, err
		}
	}
	if hash == "" {
		logger.Warn("auth: no API key configured, handshakes will be rejected")
		return nil, nil
	}
	return auth.NewKeyVerifier(hash)
}

func newAdvisor(ctx context.Context, cfg config.Config, external Advisor, logger *slog.Logger) (tuner.ConfigProvider, error) {
	if external != nil {
		logger.Info("advisor: external")
		return tuner.AdvisorProvider{Advisor: advisorAdapter{a: external}, Logger: logger}, nil
	}
	if cfg.Advisor != "gemini" {
		logger.Info("advisor: disabled")
		return nil, nil
	}
	g, err := tuner.NewGeminiAdvisor(ctx, cfg.GeminiAPIKey, cfg.AdvisorModel)
	if err != nil {
		return nil, err
	}
	logger.Info("advisor: gemini", "model", cfg.AdvisorModel)
	return tuner.AdvisorProvider{Advisor: g, Logger: logger}, nil
}

// advisorAdapter exposes a public Advisor as a tuner.Advisor.
type advisorAdapter struct {
	a Advisor
}

func (a advisorAdapter) Advise(ctx context.Context, req tuner.Request) ([]byte, error) {
	body, err := json.Marshal(struct {
		Project string `json:"project"`
		Insight any    `json:"insight,omitempty"`
		System  any    `json:"system,omitempty"`
		Logs    any    `json:"logs,omitempty"`
	}{req.Project, req.Insight, req.System, req.Logs})
	if err != nil {
		return nil, fmt.Errorf("advisor: marshal request: %w", err)
	}
	return a.a.Advise(ctx, req.Project, body)
}

func toCatalogEntry(a Action) catalog.Entry {
	var h catalog.Handler
	if a.Run != nil {
		h = catalog.Handler(a.Run)
	}
	return catalog.Entry{
		ID:          a.ID,
		Description: a.Description,
		Risk:        catalog.RiskLevel(a.Risk),
		Handler:     h,
	}
}
