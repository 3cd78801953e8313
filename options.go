package sat18

import (
	"log/slog"
)

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
type resolvedOptions struct {
	port        int
	databaseURL string
	policyFile  string
	logger      *slog.Logger
	version     string
	advisor     Advisor
	actions     []Action
	middlewares []Middleware
}

// WithPort overrides the TCP port from config (SAT18_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithDatabaseURL overrides the Postgres connection string and selects the
// postgres engine.
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithPolicyFile loads the decision tree from a YAML or JSON document instead
// of SAT18_POLICY_FILE.
func WithPolicyFile(path string) Option {
	return func(o *resolvedOptions) { o.policyFile = path }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithAdvisor replaces the configured LLM advisor. Its output still passes
// through the safe parser and the confidence gate.
func WithAdvisor(a Advisor) Option {
	return func(o *resolvedOptions) { o.advisor = a }
}

// WithAction registers an executable action, replacing the built-in handler
// of the same id. Multiple actions may be registered.
func WithAction(a Action) Option {
	return func(o *resolvedOptions) { o.actions = append(o.actions, a) }
}

// WithMiddleware registers an outermost HTTP middleware. The first-registered
// middleware is called first by every request.
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
