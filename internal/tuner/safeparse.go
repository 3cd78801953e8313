package tuner

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sat18-labs/sat18/internal/model"
)

// ConfidenceThreshold is the minimum confidence for any policy other than
// MANUAL_APPROVAL.
const ConfidenceThreshold = 0.6

// Fallback strings for untrusted configs.
const (
	FallbackReason            = "Fallback to MANUAL_APPROVAL due to an invalid or uncertain AI response."
	InvalidConfidenceReason   = "Fallback: AI response contained an invalid confidence score."
	FallbackSuggestion        = "Manual review of system logs and metrics is required before proceeding."
	NoReasonProvided          = "No specific reason provided by AI."
	maxConcurrentDeploysLimit = 1 << 10
)

// Fallback returns the safe default config: manual approval, zero confidence.
func Fallback(now time.Time) model.AdaptiveConfig {
	return model.AdaptiveConfig{
		Policy:               model.PolicyManualApproval,
		DeployDelayInSeconds: 0,
		CooldownSeconds:      RuleCooldownSeconds,
		MaxConcurrentDeploys: 1,
		Reason:               FallbackReason,
		Confidence:           0,
		SuggestedActions:     []string{FallbackSuggestion},
		GeneratedAt:          now.UTC().Format(TimeFormat),
	}
}

// SafeParse validates an AdaptiveConfig from an untrusted source. raw may be a
// JSON string, a byte slice, a decoded map, or any value that marshals to a
// JSON object. Anything unparseable, an unknown policy, or an out-of-range
// confidence yields the fallback. A valid confidence below the threshold
// forces MANUAL_APPROVAL but keeps the reported confidence. SafeParse never
// panics.
func SafeParse(raw any, now time.Time) (cfg model.AdaptiveConfig) {
	defer func() {
		if r := recover(); r != nil {
			cfg = Fallback(now)
		}
	}()

	obj, ok := toObject(raw)
	if !ok {
		return Fallback(now)
	}

	policyStr, _ := obj["policy"].(string)
	policy, ok := model.ParsePolicy(policyStr)
	if !ok {
		return Fallback(now)
	}

	confidence, ok := coerceNumber(obj, "confidence")
	if !ok || confidence < 0 || confidence > 1 {
		fb := Fallback(now)
		fb.Reason = InvalidConfidenceReason
		return fb
	}

	if confidence < ConfidenceThreshold {
		fb := Fallback(now)
		fb.Reason = fmt.Sprintf(`Low confidence (%s%%). AI reasoning: "%s"`,
			strconv.FormatFloat(math.Round(confidence*100), 'f', 0, 64), reasonOrNA(obj["reason"]))
		fb.Confidence = confidence
		return fb
	}

	delayRaw, present := obj["deployDelayInSeconds"]
	if !present || delayRaw == nil {
		delayRaw = obj["delaySeconds"]
	}
	delay := 0.0
	if v, ok := toNumber(delayRaw); ok && v >= 0 {
		delay = v
	}

	cooldown := float64(RuleCooldownSeconds)
	if v, ok := toNumber(obj["cooldownSeconds"]); ok && v >= 0 {
		cooldown = v
	}

	maxConcurrent := 1
	if v, ok := toNumber(obj["maxConcurrentDeploys"]); ok && v > 0 {
		maxConcurrent = int(math.Min(math.Floor(v), maxConcurrentDeploysLimit))
		if maxConcurrent < 1 {
			maxConcurrent = 1
		}
	}

	reason := NoReasonProvided
	if s, ok := nonBlank(obj["reason"]); ok {
		reason = s
	}

	suggested := []string{}
	if list, ok := stringList(obj["suggestedActions"]); ok {
		suggested = list
	}

	generatedAt := now.UTC().Format(TimeFormat)
	if s, ok := nonBlank(obj["generatedAt"]); ok {
		generatedAt = s
	}

	return model.AdaptiveConfig{
		Policy:               policy,
		DeployDelayInSeconds: delay,
		CooldownSeconds:      cooldown,
		MaxConcurrentDeploys: maxConcurrent,
		Reason:               reason,
		Confidence:           confidence,
		SuggestedActions:     suggested,
		GeneratedAt:          generatedAt,
	}
}

// Gate applies the confidence threshold to a config from any source. Configs
// at or above the threshold pass through unchanged.
func Gate(cfg model.AdaptiveConfig) model.AdaptiveConfig {
	out := cfg
	out.SuggestedActions = append([]string(nil), cfg.SuggestedActions...)
	if _, ok := model.ParsePolicy(string(cfg.Policy)); !ok {
		out.Policy = model.PolicyManualApproval
		out.DeployDelayInSeconds = 0
		return out
	}
	if math.IsNaN(cfg.Confidence) || cfg.Confidence < ConfidenceThreshold {
		out.Policy = model.PolicyManualApproval
		out.DeployDelayInSeconds = 0
	}
	return out
}

func toObject(raw any) (map[string]any, bool) {
	var data []byte
	switch v := raw.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return v, true
	case string:
		data = []byte(v)
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		data = b
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return nil, false
	}
	obj, ok := decoded.(map[string]any)
	return obj, ok
}

// coerceNumber reads obj[key] with loose numeric conversion: JSON null and
// empty strings read as 0, booleans as 0 or 1, numeric strings are parsed.
// A missing key, objects, arrays and non-numeric strings are not numbers.
func coerceNumber(obj map[string]any, key string) (float64, bool) {
	v, present := obj[key]
	if !present {
		return 0, false
	}
	switch n := v.(type) {
	case nil:
		return 0, true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, true
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return toNumber(v)
	}
}

func nonBlank(v any) (string, bool) {
	s, ok := v.(string)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}
	return s, true
}

func stringList(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return append([]string{}, list...), true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	}
	return nil, false
}

func reasonOrNA(v any) string {
	switch r := v.(type) {
	case nil:
		return "N/A"
	case string:
		if r == "" {
			return "N/A"
		}
		return r
	case bool:
		if !r {
			return "N/A"
		}
		return "true"
	case float64:
		if r == 0 || math.IsNaN(r) {
			return "N/A"
		}
		return strconv.FormatFloat(r, 'f', -1, 64)
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return "N/A"
		}
		return string(b)
	}
}
