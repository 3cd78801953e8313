// Package audit ships evaluated decisions to a Sink without ever blocking or
// failing the evaluation that produced them.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/telemetry"
)

// Sink persists one decision and returns its audit id.
type Sink interface {
	PostDecisionLog(ctx context.Context, d model.Decision) (uuid.UUID, error)
}

// Config tunes the Recorder. Zero values take defaults.
type Config struct {
	Capacity      int           // decisions held in memory before new ones are dropped
	FlushInterval time.Duration // how often the buffer is drained
	MaxAttempts   int           // deliveries tried per decision before it is dropped
}

const (
	DefaultCapacity      = 1000
	DefaultFlushInterval = time.Second
	DefaultMaxAttempts   = 2
)

type pending struct {
	decision model.Decision
	attempts int
}

// Recorder buffers decisions and flushes them to a Sink from a background
// loop. It implements idt.Observer so it can be attached to an evaluator.
type Recorder struct {
	sink   Sink
	logger *slog.Logger
	cfg    Config

	mu       sync.Mutex
	queue    []pending
	drainCtx context.Context

	recorded atomic.Int64
	dropped  atomic.Int64
	started  atomic.Bool

	flushCh    chan struct{}
	done       chan struct{}
	cancelLoop context.CancelFunc
}

// NewRecorder creates a recorder. Call Start to begin flushing.
func NewRecorder(sink Sink, logger *slog.Logger, cfg Config) *Recorder {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	return &Recorder{
		sink:    sink,
		logger:  logger,
		cfg:     cfg,
		flushCh: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
}

// Start launches the flush loop and registers gauges. A second call is a no-op.
func (r *Recorder) Start(ctx context.Context) {
	if !r.started.CompareAndSwap(false, true) {
		r.logger.Warn("audit: recorder already started")
		return
	}
	r.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancelLoop = cancel
	go r.flushLoop(loopCtx)
}

// Record queues d for delivery. It reports false when the decision was not
// queued: it has no actions to audit, or the buffer is full.
func (r *Recorder) Record(d model.Decision) bool {
	if len(d.Actions) == 0 {
		r.logger.Debug("audit: decision has no actions, not recorded", "project", d.ContextSnapshot.Project)
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.queue) >= r.cfg.Capacity {
		r.dropped.Add(1)
		r.logger.Warn("audit: buffer full, decision dropped",
			"project", d.ContextSnapshot.Project, "capacity", r.cfg.Capacity)
		return false
	}
	r.queue = append(r.queue, pending{decision: d})
	if len(r.queue) >= r.cfg.Capacity/2 {
		select {
		case r.flushCh <- struct{}{}:
		default:
		}
	}
	return true
}

// OnNodeVisited is part of idt.Observer.
func (r *Recorder) OnNodeVisited(model.TraceEntry) {}

// OnDecision is part of idt.Observer.
func (r *Recorder) OnDecision(d model.Decision) { r.Record(d) }

func (r *Recorder) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			drainCtx := r.drainCtx
			r.mu.Unlock()
			if drainCtx != nil {
				r.flush(drainCtx)
			} else {
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				r.flush(fallbackCtx)
				cancel()
			}
			close(r.done)
			return
		case <-ticker.C:
			r.flush(ctx)
		case <-r.flushCh:
			r.flush(ctx)
		}
	}
}

func (r *Recorder) flush(ctx context.Context) {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()

	var retry []pending
	for _, p := range batch {
		if ctx.Err() != nil {
			retry = append(retry, p)
			continue
		}
		id, err := r.sink.PostDecisionLog(ctx, p.decision)
		if err == nil {
			r.recorded.Add(1)
			r.logger.Debug("audit: decision recorded", "decision_id", id,
				"project", p.decision.ContextSnapshot.Project)
			continue
		}
		p.attempts++
		if p.attempts >= r.cfg.MaxAttempts {
			r.dropped.Add(1)
			r.logger.Error("audit: decision dropped after failed delivery",
				"error", err, "attempts", p.attempts, "project", p.decision.ContextSnapshot.Project)
			continue
		}
		r.logger.Warn("audit: delivery failed, will retry", "error", err,
			"project", p.decision.ContextSnapshot.Project)
		retry = append(retry, p)
	}
	if len(retry) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.cfg.Capacity - len(r.queue)
	if room < len(retry) {
		r.dropped.Add(int64(len(retry) - max(room, 0)))
		r.logger.Error("audit: dropping retries, buffer full", "dropped", len(retry)-max(room, 0))
		retry = retry[:max(room, 0)]
	}
	r.queue = append(retry, r.queue...)
}

// Drain stops the flush loop after a final flush bounded by ctx. The loop may
// already have stopped because the Start context was cancelled; decisions
// recorded since then are flushed here.
func (r *Recorder) Drain(ctx context.Context) {
	r.mu.Lock()
	r.drainCtx = ctx
	r.mu.Unlock()
	if r.cancelLoop == nil {
		return
	}
	r.cancelLoop()
	select {
	case <-r.done:
		r.flush(ctx)
	case <-ctx.Done():
		r.logger.Warn("audit: drain timed out waiting for flush loop")
	}
}

func (r *Recorder) registerMetrics() {
	meter := telemetry.Meter("sat18/audit")

	_, _ = meter.Int64ObservableGauge("sat18.audit.depth",
		metric.WithDescription("Decisions waiting to be delivered to the audit sink"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(r.Len()))
			return nil
		}),
	)
	_, _ = meter.Int64ObservableGauge("sat18.audit.dropped_total",
		metric.WithDescription("Decisions dropped because of a full buffer or repeated delivery failure"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(r.Dropped())
			return nil
		}),
	)
}

// Len returns the number of queued decisions.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Dropped returns the number of decisions that were never delivered.
func (r *Recorder) Dropped() int64 { return r.dropped.Load() }

// Recorded returns the number of decisions delivered.
func (r *Recorder) Recorded() int64 { return r.recorded.Load() }

// Capacity returns the queue bound.
func (r *Recorder) Capacity() int { return r.cfg.Capacity }
