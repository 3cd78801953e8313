package decisionctx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/sat18-labs/sat18/internal/model"
)

// SummarySource returns the feedback summary for a project. A nil summary
// with a nil error means the project has no history yet.
type SummarySource interface {
	FeedbackSummary(ctx context.Context, project string) (*model.FeedbackSummary, error)
}

// Builder fetches summaries and builds contexts. Summaries are cached per
// project for a short TTL and concurrent fetches for the same project share
// one call.
type Builder struct {
	source  SummarySource
	logger  *slog.Logger
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time

	group singleflight.Group
	mu    sync.Mutex
	cache map[string]cachedSummary
}

type cachedSummary struct {
	summary   *model.FeedbackSummary
	fetchedAt time.Time
}

// BuilderConfig tunes a Builder. Zero values select the defaults.
type BuilderConfig struct {
	CacheTTL     time.Duration // default 30s
	FetchTimeout time.Duration // default 3s
}

// NewBuilder creates a Builder. source may be nil, in which case every
// context gets the optimistic default accuracy.
func NewBuilder(source SummarySource, logger *slog.Logger, cfg BuilderConfig) *Builder {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 3 * time.Second
	}
	return &Builder{
		source:  source,
		logger:  logger,
		ttl:     cfg.CacheTTL,
		timeout: cfg.FetchTimeout,
		now:     time.Now,
		cache:   make(map[string]cachedSummary),
	}
}

// Build fetches the summary for in.Project (unless in.Summary is already set)
// and derives the context. It never returns an error: a failed fetch is
// logged and treated as "no history".
func (b *Builder) Build(ctx context.Context, in Input) model.DecisionContext {
	if in.Summary == nil {
		in.Summary = b.summary(ctx, in.Project)
	}
	if in.Now.IsZero() {
		in.Now = b.now()
	}
	return Build(in)
}

// Invalidate drops the cached summary for project, e.g. after new feedback.
func (b *Builder) Invalidate(project string) {
	b.mu.Lock()
	delete(b.cache, project)
	b.mu.Unlock()
}

func (b *Builder) summary(ctx context.Context, project string) *model.FeedbackSummary {
	if b.source == nil || project == "" {
		return nil
	}

	b.mu.Lock()
	if c, ok := b.cache[project]; ok && b.now().Sub(c.fetchedAt) < b.ttl {
		b.mu.Unlock()
		return c.summary
	}
	b.mu.Unlock()

	v, err, _ := b.group.Do(project, func() (any, error) {
		// Shared by every waiter, so one caller's cancellation must not fail the rest.
		fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		defer cancel()
		s, err := b.source.FeedbackSummary(fetchCtx, project)
		if err != nil {
			return nil, err
		}
		b.mu.Lock()
		b.cache[project] = cachedSummary{summary: s, fetchedAt: b.now()}
		b.mu.Unlock()
		return s, nil
	})
	if err != nil {
		b.logger.Warn("decisionctx: summary fetch failed, assuming no history",
			"project", project, "error", err)
		return nil
	}
	s, _ := v.(*model.FeedbackSummary)
	return s
}
