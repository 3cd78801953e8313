// Package tuner turns recommendations into an AdaptiveConfig, the single
// instruction the deploy scheduler acts on. Two sources exist: the
// deterministic rule path (Translate) and untrusted advisor output
// (SafeParse). Both end in the same confidence gate.
package tuner

import (
	"encoding/json"
	"math"
	"strings"
	"time"

	"github.com/sat18-labs/sat18/internal/model"
)

// TimeFormat is the layout of AdaptiveConfig.GeneratedAt.
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Rule path constants.
const (
	DefaultDelaySeconds    = 300
	NominalCooldownSeconds = 60
	RuleCooldownSeconds    = 300
	NominalReason          = "System nominal. Auto-deployments will proceed immediately."
	NominalSuggestion      = "Monitor deployment"
)

// Translate collapses the actions of one evaluation into an AdaptiveConfig.
// The priority action (highest severity, earliest on ties) selects the policy;
// every action label contributes to the reason. actions is not modified.
func Translate(actions []model.Action, now time.Time) model.AdaptiveConfig {
	generatedAt := now.UTC().Format(TimeFormat)

	priority, ok := model.PriorityAction(actions)
	if !ok {
		return model.AdaptiveConfig{
			Policy:               model.PolicyImmediate,
			DeployDelayInSeconds: 0,
			Reason:               NominalReason,
			Confidence:           1.0,
			SuggestedActions:     []string{NominalSuggestion},
			CooldownSeconds:      NominalCooldownSeconds,
			MaxConcurrentDeploys: 1,
			GeneratedAt:          generatedAt,
		}
	}

	policy := model.PolicyImmediate
	switch {
	case priority.Level == model.LevelCritical || priority.RecommendManual:
		policy = model.PolicyManualApproval
	case priority.Level == model.LevelWarn:
		policy = model.PolicyDelayed
	}

	labels := make([]string, len(actions))
	var manual []string
	for i, a := range actions {
		labels[i] = a.Label
		if a.RecommendManual {
			manual = append(manual, a.Label)
		}
	}
	reason := strings.Join(labels, " | ")
	if len(manual) == 0 {
		manual = []string{reason}
	}

	var delay float64
	if policy == model.PolicyDelayed {
		delay = DefaultDelaySeconds
		if v, ok := toNumber(priority.Payload["delaySeconds"]); ok && v >= 0 {
			delay = v
		}
	}

	return model.AdaptiveConfig{
		Policy:               policy,
		DeployDelayInSeconds: delay,
		Reason:               reason,
		Confidence:           1.0,
		SuggestedActions:     manual,
		CooldownSeconds:      RuleCooldownSeconds,
		MaxConcurrentDeploys: 1,
		GeneratedAt:          generatedAt,
	}
}

// toNumber accepts any finite Go or JSON numeric value. Strings, booleans and
// nil are not numbers here.
func toNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
