package idt

import (
	"log/slog"
	"time"

	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/policy"
)

// Evaluator binds a policy source to a fixed set of observers. It holds no
// per-evaluation state and is safe for concurrent use.
type Evaluator struct {
	source    policy.Source
	observers []Observer
	now       func() time.Time
}

// NewEvaluator returns an Evaluator reading trees from source.
func NewEvaluator(source policy.Source, observers ...Observer) *Evaluator {
	return &Evaluator{source: source, observers: observers, now: time.Now}
}

// Evaluate walks the current tree. Extra observers apply to this call only.
func (e *Evaluator) Evaluate(ctx model.DecisionContext, extra ...Observer) model.Decision {
	obs := make([]Observer, 0, len(e.observers)+len(extra))
	obs = append(obs, e.observers...)
	obs = append(obs, extra...)
	return Evaluate(e.source.Tree(), ctx, WithObserver(obs...), WithClock(e.now))
}

// Tree returns the tree the next evaluation will use.
func (e *Evaluator) Tree() *policy.Node { return e.source.Tree() }

// LogObserver writes evaluation events to a structured logger. Node visits are
// logged at debug level; decisions at info.
type LogObserver struct {
	Logger *slog.Logger
}

func (l LogObserver) OnNodeVisited(entry model.TraceEntry) {
	l.Logger.Debug("idt: node visited",
		"node_id", entry.NodeID,
		"matched", entry.Matched,
		"reason", entry.Reason)
}

func (l LogObserver) OnDecision(d model.Decision) {
	ids := make([]string, len(d.Actions))
	for i, a := range d.Actions {
		ids[i] = a.ID
	}
	l.Logger.Info("idt: decision",
		"project", d.ContextSnapshot.Project,
		"actions", ids,
		"nodes_visited", len(d.Trace))
}

// Recorder is an Observer that keeps everything it sees. Used by tests and by
// the CLI to print a trace as it is produced. Not safe for concurrent use.
type Recorder struct {
	Visited   []model.TraceEntry
	Decisions []model.Decision
}

func (r *Recorder) OnNodeVisited(entry model.TraceEntry) { r.Visited = append(r.Visited, entry) }
func (r *Recorder) OnDecision(d model.Decision)          { r.Decisions = append(r.Decisions, d) }
