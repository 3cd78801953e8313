// Package model defines the value types shared by the decision engine,
// the tuner, persistence, and the HTTP API.
//
// Wire names follow the console's JSON contract (camelCase), so these types
// can be decoded directly from browser payloads and audit records.
package model

import (
	"fmt"
	"strings"
)

// Outcome is the result of the most recent deployment.
type Outcome string

const (
	OutcomeSuccess Outcome = "SUCCESS"
	OutcomeFail    Outcome = "FAIL"
	OutcomePartial Outcome = "PARTIAL"
	OutcomeUnknown Outcome = "UNKNOWN"
)

// Valid reports whether o is one of the known outcomes. The empty outcome is
// valid: a context may carry no outcome at all.
func (o Outcome) Valid() bool {
	switch o {
	case "", OutcomeSuccess, OutcomeFail, OutcomePartial, OutcomeUnknown:
		return true
	}
	return false
}

// Metrics is the optional numeric bag attached to a DecisionContext.
// Every field is a pointer: nil means "no signal", which is not the same as zero.
type Metrics struct {
	CPU                *float64 `json:"cpu,omitempty" yaml:"cpu,omitempty"`                               // 0-100
	Memory             *float64 `json:"memory,omitempty" yaml:"memory,omitempty"`                         // 0-100
	LatencyMs          *float64 `json:"latencyMs,omitempty" yaml:"latencyMs,omitempty"`                   // >= 0
	ErrorRate          *float64 `json:"errorRate,omitempty" yaml:"errorRate,omitempty"`                   // 0-1
	DiskAvailPct       *float64 `json:"diskAvailPct,omitempty" yaml:"diskAvailPct,omitempty"`             // 0-100
	HealthChecksFailed *int     `json:"healthChecksFailed,omitempty" yaml:"healthChecksFailed,omitempty"` // >= 0
	SuccessRate        *float64 `json:"successRate,omitempty" yaml:"successRate,omitempty"`               // 0-100
	AvgDeployTime      *float64 `json:"avgDeployTime,omitempty" yaml:"avgDeployTime,omitempty"`           // seconds
}

// DailyAccuracy is one point of the historical accuracy series.
type DailyAccuracy struct {
	Date     string  `json:"date"`
	Accuracy float64 `json:"accuracy"`
}

// Trend carries historical decision accuracy, sourced from the feedback summary.
type Trend struct {
	Accuracy7d    *float64        `json:"accuracy7d,omitempty"` // 0-1
	DailyAccuracy []DailyAccuracy `json:"dailyAccuracy,omitempty"`
}

// DecisionContext is the point-in-time snapshot the decision tree is evaluated
// against. It is rebuilt for every evaluation and owned by the caller.
type DecisionContext struct {
	Project          string         `json:"project"`
	DeploymentID     string         `json:"deploymentId,omitempty"`
	Timestamp        string         `json:"timestamp,omitempty"`
	Outcome          Outcome        `json:"outcome,omitempty"`
	Metrics          *Metrics       `json:"metrics,omitempty"`
	RecentTrend      *Trend         `json:"recentTrend,omitempty"`
	AdaptiveConfig   map[string]any `json:"adaptiveConfig,omitempty"`
	OperatorOverride *bool          `json:"operatorOverride,omitempty"`
	Notes            string         `json:"notes,omitempty"`
}

// Validate checks the fields the evaluator relies on.
func (c DecisionContext) Validate() error {
	if strings.TrimSpace(c.Project) == "" {
		return fmt.Errorf("project is required")
	}
	if !c.Outcome.Valid() {
		return fmt.Errorf("unknown outcome %q", c.Outcome)
	}
	return nil
}

// Float returns a pointer to v. Convenience for building Metrics literals.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }
