package model

import "time"

// Level is the severity of a recommended action.
type Level string

const (
	LevelInfo     Level = "INFO"
	LevelWarn     Level = "WARN"
	LevelCritical Level = "CRITICAL"
)

// Weight orders levels for priority selection. Missing or unrecognised
// levels weigh the same as INFO.
func (l Level) Weight() int {
	switch l {
	case LevelCritical:
		return 3
	case LevelWarn:
		return 2
	default:
		return 1
	}
}

// Valid reports whether l is empty or a known level.
func (l Level) Valid() bool {
	switch l {
	case "", LevelInfo, LevelWarn, LevelCritical:
		return true
	}
	return false
}

// Action is an operation recommended by the decision tree. The ID refers to an
// action catalog entry but is not checked against the catalog at evaluation time.
type Action struct {
	ID              string         `json:"id" yaml:"id"`
	Label           string         `json:"label" yaml:"label"`
	Level           Level          `json:"level,omitempty" yaml:"level,omitempty"`
	Auto            bool           `json:"auto,omitempty" yaml:"auto,omitempty"`
	RecommendManual bool           `json:"recommendManual,omitempty" yaml:"recommendManual,omitempty"`
	Payload         map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// PriorityAction returns the most severe action. Ties go to the earliest
// action in the slice. ok is false for an empty slice.
func PriorityAction(actions []Action) (a Action, ok bool) {
	if len(actions) == 0 {
		return Action{}, false
	}
	best := 0
	for i := 1; i < len(actions); i++ {
		if actions[i].Level.Weight() > actions[best].Level.Weight() {
			best = i
		}
	}
	return actions[best], true
}

// TraceEntry records one visited node of a tree walk.
type TraceEntry struct {
	NodeID  string `json:"nodeId"`
	Matched bool   `json:"matched"`
	Reason  string `json:"reason,omitempty"`
}

// Decision is the full result of one evaluation. It doubles as the audit payload.
type Decision struct {
	Trace             []TraceEntry    `json:"trace"`
	Actions           []Action        `json:"actions"`
	DecisionTimestamp time.Time       `json:"decisionTimestamp"`
	ContextSnapshot   DecisionContext `json:"contextSnapshot"`
}
