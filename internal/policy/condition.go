// Package policy defines the decision tree the evaluator walks: serializable
// condition rules, the node structure, the built-in default tree, and loading
// and hot-swapping of YAML policy documents.
package policy

import (
	"errors"
	"fmt"

	"github.com/sat18-labs/sat18/internal/model"
)

// ErrUnknownCondition is returned when a condition names a kind this package
// does not interpret.
var ErrUnknownCondition = errors.New("policy: unknown condition kind")

// Kind names a rule interpreted by Condition.Eval.
type Kind string

const (
	KindAlways                    Kind = "always"
	KindCPUAbove                  Kind = "cpuAbove"
	KindCPUBelow                  Kind = "cpuBelow"
	KindErrorRateAbove            Kind = "errorRateAbove"
	KindRecentAccuracyBelow       Kind = "recentAccuracyBelow"
	KindHealthChecksFailedAtLeast Kind = "healthChecksFailedAtLeast"
	KindOutcomeIs                 Kind = "outcomeIs"
	KindAllOf                     Kind = "allOf"
)

// Condition is a predicate over a DecisionContext expressed as data: a rule
// kind plus its parameters. Only the fields relevant to Kind are read.
type Condition struct {
	Kind      Kind          `json:"kind" yaml:"kind"`
	Threshold float64       `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Outcome   model.Outcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
	All       []Condition   `json:"all,omitempty" yaml:"all,omitempty"`
}

// Eval reports whether the condition holds for ctx.
//
// Metric rules are false when the context has no metrics block at all. Inside a
// present block, missing cpu, errorRate and healthChecksFailed read as 0.
// Accuracy rules are false without a trend block; a missing accuracy7d reads as 1.
func (c Condition) Eval(ctx model.DecisionContext) (bool, error) {
	switch c.Kind {
	case KindAlways:
		return true, nil
	case KindCPUAbove:
		if ctx.Metrics == nil {
			return false, nil
		}
		return deref(ctx.Metrics.CPU, 0) > c.Threshold, nil
	case KindCPUBelow:
		if ctx.Metrics == nil {
			return false, nil
		}
		return deref(ctx.Metrics.CPU, 0) < c.Threshold, nil
	case KindErrorRateAbove:
		if ctx.Metrics == nil {
			return false, nil
		}
		return deref(ctx.Metrics.ErrorRate, 0) > c.Threshold, nil
	case KindRecentAccuracyBelow:
		if ctx.RecentTrend == nil {
			return false, nil
		}
		return deref(ctx.RecentTrend.Accuracy7d, 1) < c.Threshold, nil
	case KindHealthChecksFailedAtLeast:
		if ctx.Metrics == nil {
			return false, nil
		}
		failed := 0
		if ctx.Metrics.HealthChecksFailed != nil {
			failed = *ctx.Metrics.HealthChecksFailed
		}
		return float64(failed) >= c.Threshold, nil
	case KindOutcomeIs:
		return ctx.Outcome == c.Outcome, nil
	case KindAllOf:
		for i, sub := range c.All {
			ok, err := sub.Eval(ctx)
			if err != nil {
				return false, fmt.Errorf("allOf[%d]: %w", i, err)
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, fmt.Errorf("%w: %q", ErrUnknownCondition, c.Kind)
	}
}

// String renders the condition for traces and logs, e.g. "cpuAbove(85)".
func (c Condition) String() string {
	switch c.Kind {
	case KindAlways:
		return "always"
	case KindOutcomeIs:
		return fmt.Sprintf("outcomeIs(%s)", c.Outcome)
	case KindAllOf:
		s := "allOf("
		for i, sub := range c.All {
			if i > 0 {
				s += ", "
			}
			s += sub.String()
		}
		return s + ")"
	default:
		return fmt.Sprintf("%s(%g)", c.Kind, c.Threshold)
	}
}

func (c Condition) validate() error {
	switch c.Kind {
	case KindAlways, KindCPUAbove, KindCPUBelow, KindErrorRateAbove,
		KindRecentAccuracyBelow, KindHealthChecksFailedAtLeast:
		return nil
	case KindOutcomeIs:
		if c.Outcome == "" || !c.Outcome.Valid() {
			return fmt.Errorf("outcomeIs: invalid outcome %q", c.Outcome)
		}
		return nil
	case KindAllOf:
		if len(c.All) == 0 {
			return fmt.Errorf("allOf: at least one condition is required")
		}
		for i, sub := range c.All {
			if err := sub.validate(); err != nil {
				return fmt.Errorf("allOf[%d]: %w", i, err)
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCondition, c.Kind)
	}
}

func deref(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

// CPUAbove matches when cpu is strictly greater than pct.
func CPUAbove(pct float64) *Condition {
	return &Condition{Kind: KindCPUAbove, Threshold: pct}
}

// CPUBelow matches when cpu is strictly less than pct.
func CPUBelow(pct float64) *Condition {
	return &Condition{Kind: KindCPUBelow, Threshold: pct}
}

// ErrorRateAbove matches when errorRate is strictly greater than rate.
func ErrorRateAbove(rate float64) *Condition {
	return &Condition{Kind: KindErrorRateAbove, Threshold: rate}
}

// RecentAccuracyBelow matches when the seven-day accuracy is under accuracy.
func RecentAccuracyBelow(accuracy float64) *Condition {
	return &Condition{Kind: KindRecentAccuracyBelow, Threshold: accuracy}
}

// HealthChecksFailedAtLeast matches when at least n health checks failed.
func HealthChecksFailedAtLeast(n int) *Condition {
	return &Condition{Kind: KindHealthChecksFailedAtLeast, Threshold: float64(n)}
}

// OutcomeIs matches when the context outcome equals o.
func OutcomeIs(o model.Outcome) *Condition {
	return &Condition{Kind: KindOutcomeIs, Outcome: o}
}

// AllOf matches when every nested condition matches. Evaluation stops at the
// first false or erroring condition.
func AllOf(conds ...*Condition) *Condition {
	c := &Condition{Kind: KindAllOf, All: make([]Condition, 0, len(conds))}
	for _, sub := range conds {
		c.All = append(c.All, *sub)
	}
	return c
}
