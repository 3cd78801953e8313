// Package idt walks a policy tree against a decision context and collects the
// recommended actions.
//
// The walk is pre-order and first-match-wins: children are tried in
// declaration order and the first one whose condition holds ends the search at
// that level. A matched node whose children all fail contributes its fallback
// (when it has one), otherwise its own actions. Every visited node leaves a
// trace entry, matched or not.
package idt

import (
	"fmt"
	"time"

	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/policy"
)

// Trace reasons.
const (
	ReasonTrue        = "condition true"
	ReasonFalse       = "condition false"
	ReasonNoCondition = "no condition"
)

// Observer receives evaluation events. Implementations must be safe for
// concurrent use when shared across evaluations.
type Observer interface {
	OnNodeVisited(entry model.TraceEntry)
	OnDecision(d model.Decision)
}

// Option configures a single evaluation.
type Option func(*options)

type options struct {
	observers []Observer
	now       func() time.Time
}

// WithObserver registers observers for one evaluation.
func WithObserver(obs ...Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs...) }
}

// WithClock overrides the decision timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// Evaluate walks root against ctx. It never panics and never fails: a
// condition that errors or panics is recorded as not matched. The returned
// Decision holds ctx unchanged as its snapshot.
func Evaluate(root *policy.Node, ctx model.DecisionContext, opts ...Option) model.Decision {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	w := walker{ctx: ctx, observers: o.observers}
	w.visit(root)

	d := model.Decision{
		Trace:             w.trace,
		Actions:           dedupe(w.actions),
		DecisionTimestamp: o.now().UTC(),
		ContextSnapshot:   ctx,
	}
	for _, obs := range o.observers {
		obs.OnDecision(d)
	}
	return d
}

type walker struct {
	ctx       model.DecisionContext
	observers []Observer
	trace     []model.TraceEntry
	actions   []model.Action
}

func (w *walker) record(e model.TraceEntry) {
	w.trace = append(w.trace, e)
	for _, obs := range w.observers {
		obs.OnNodeVisited(e)
	}
}

// visit reports whether n matched. A matched node always stops its siblings,
// even when it contributes no actions.
func (w *walker) visit(n *policy.Node) bool {
	if n == nil {
		return false
	}

	matched, reason := w.check(n)
	w.record(model.TraceEntry{NodeID: n.ID, Matched: matched, Reason: reason})
	if !matched {
		return false
	}

	if len(n.Children) > 0 {
		for _, c := range n.Children {
			if w.visit(c) {
				return true
			}
		}
		if len(n.Fallback) > 0 {
			w.actions = append(w.actions, n.Fallback...)
			return true
		}
	}

	w.actions = append(w.actions, n.Actions...)
	return true
}

func (w *walker) check(n *policy.Node) (matched bool, reason string) {
	if n.Condition == nil {
		return true, ReasonNoCondition
	}
	defer func() {
		if r := recover(); r != nil {
			matched, reason = false, fmt.Sprintf("condition error: %v", r)
		}
	}()
	ok, err := n.Condition.Eval(w.ctx)
	if err != nil {
		return false, "condition error: " + err.Error()
	}
	if ok {
		return true, ReasonTrue
	}
	return false, ReasonFalse
}

// dedupe keeps the first action for each id, preserving order.
func dedupe(actions []model.Action) []model.Action {
	seen := make(map[string]bool, len(actions))
	out := make([]model.Action, 0, len(actions))
	for _, a := range actions {
		if seen[a.ID] {
			continue
		}
		seen[a.ID] = true
		out = append(out, a)
	}
	return out
}
