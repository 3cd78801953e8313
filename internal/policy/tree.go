package policy

import "github.com/sat18-labs/sat18/internal/model"

// Node is one rule of a decision tree. A nil Condition always matches.
// Trees are built once and never mutated afterwards; the evaluator and every
// concurrent reader share the same value.
type Node struct {
	ID          string         `json:"id" yaml:"id"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Condition   *Condition     `json:"condition,omitempty" yaml:"condition,omitempty"`
	Actions     []model.Action `json:"actions,omitempty" yaml:"actions,omitempty"`
	Children    []*Node        `json:"children,omitempty" yaml:"children,omitempty"`
	Fallback    []model.Action `json:"fallback,omitempty" yaml:"fallback,omitempty"`
}

// Walk visits n and its descendants in pre-order.
func (n *Node) Walk(fn func(*Node)) {
	if n == nil {
		return
	}
	fn(n)
	for _, c := range n.Children {
		c.Walk(fn)
	}
}

// Thresholds are the tunable constants of the default tree.
type Thresholds struct {
	CPUPercent         float64 `json:"cpuPercent" yaml:"cpuPercent"`
	Accuracy7d         float64 `json:"accuracy7d" yaml:"accuracy7d"`
	HealthChecksFailed int     `json:"healthChecksFailed" yaml:"healthChecksFailed"`
}

// DefaultThresholds returns the production defaults: 85% CPU, 0.8 weekly
// accuracy, one failed health check.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPUPercent:         85,
		Accuracy7d:         0.8,
		HealthChecksFailed: 1,
	}
}

// Node and action ids of the default tree.
const (
	RootID             = "root"
	CriticalFailureID  = "critical-failure"
	HighCPUID          = "high-cpu"
	LowAccuracyTrendID = "low-accuracy-trend"

	ActionRollback    = "rollback"
	ActionAlertOncall = "alert-oncall"
	ActionDelayDeploy = "delay-deploy"
	ActionScaleUp     = "scale-up"
	ActionManualAudit = "manual-audit"
	ActionNoop        = "no-op"
)

// DefaultTree builds the stock operational policy: critical failure, high CPU,
// and low recent accuracy under an always-matching root whose fallback is a
// no-op.
func DefaultTree(th Thresholds) *Node {
	return &Node{
		ID:          RootID,
		Description: "Root policy",
		Children: []*Node{
			{
				ID:          CriticalFailureID,
				Description: "Deployment failed and health checks are failing",
				Condition: AllOf(
					OutcomeIs(model.OutcomeFail),
					HealthChecksFailedAtLeast(th.HealthChecksFailed),
				),
				Actions: []model.Action{
					{
						ID:              ActionRollback,
						Label:           "Rollback to previous release",
						Level:           model.LevelCritical,
						Auto:            false,
						RecommendManual: true,
						Payload:         map[string]any{"method": "atomic-symlink-rollback"},
					},
					{
						ID:              ActionAlertOncall,
						Label:           "Alert on-call team",
						Level:           model.LevelCritical,
						RecommendManual: true,
						Payload:         map[string]any{"channel": "pagerduty"},
					},
				},
			},
			{
				ID:          HighCPUID,
				Description: "CPU usage above threshold",
				Condition:   CPUAbove(th.CPUPercent),
				Actions: []model.Action{
					{
						ID:              ActionDelayDeploy,
						Label:           "Delay next deployment",
						Level:           model.LevelWarn,
						Auto:            true,
						RecommendManual: false,
						Payload:         map[string]any{"delaySeconds": 300},
					},
					{
						ID:              ActionScaleUp,
						Label:           "Recommend scaling up instance group / increase replicas",
						Level:           model.LevelWarn,
						Auto:            false,
						RecommendManual: true,
						Payload:         map[string]any{"scaleBy": 1},
					},
				},
			},
			{
				ID:          LowAccuracyTrendID,
				Description: "Historical decision accuracy is low",
				Condition:   RecentAccuracyBelow(th.Accuracy7d),
				Actions: []model.Action{
					{
						ID:              ActionManualAudit,
						Label:           "Request operator audit due to low historical accuracy",
						Level:           model.LevelWarn,
						RecommendManual: true,
					},
				},
			},
		},
		Fallback: []model.Action{
			{
				ID:    ActionNoop,
				Label: "System nominal. Monitor.",
				Level: model.LevelInfo,
				Auto:  true,
			},
		},
	}
}
