package model

// Policy tells the deploy scheduler how to proceed.
type Policy string

const (
	PolicyImmediate      Policy = "IMMEDIATE"
	PolicyDelayed        Policy = "DELAYED"
	PolicyManualApproval Policy = "MANUAL_APPROVAL"
)

// ParsePolicy returns the Policy named by s. ok is false for anything other
// than the three exact enum spellings.
func ParsePolicy(s string) (Policy, bool) {
	switch Policy(s) {
	case PolicyImmediate, PolicyDelayed, PolicyManualApproval:
		return Policy(s), true
	}
	return "", false
}

// AdaptiveConfig is the single consolidated deployment recommendation.
// Values are built fresh for every evaluation and never mutated in place.
type AdaptiveConfig struct {
	Policy               Policy   `json:"policy"`
	DeployDelayInSeconds float64  `json:"deployDelayInSeconds"`
	Reason               string   `json:"reason"`
	Confidence           float64  `json:"confidence"`
	SuggestedActions     []string `json:"suggestedActions"`
	CooldownSeconds      float64  `json:"cooldownSeconds"`
	MaxConcurrentDeploys int      `json:"maxConcurrentDeploys"`
	GeneratedAt          string   `json:"generatedAt"`
}
