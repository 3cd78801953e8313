package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelWeight(t *testing.T) {
	assert.Equal(t, 3, LevelCritical.Weight())
	assert.Equal(t, 2, LevelWarn.Weight())
	assert.Equal(t, 1, LevelInfo.Weight())
	assert.Equal(t, 1, Level("").Weight())
	assert.Equal(t, 1, Level("PANIC").Weight())
}

func TestPriorityAction(t *testing.T) {
	_, ok := PriorityAction(nil)
	assert.False(t, ok)

	actions := []Action{
		{ID: "a", Level: LevelInfo},
		{ID: "b", Level: LevelWarn},
		{ID: "c", Level: LevelWarn},
		{ID: "d"},
	}
	a, ok := PriorityAction(actions)
	require.True(t, ok)
	assert.Equal(t, "b", a.ID, "first max wins on ties")
}

func TestParsePolicy(t *testing.T) {
	for _, s := range []string{"IMMEDIATE", "DELAYED", "MANUAL_APPROVAL"} {
		p, ok := ParsePolicy(s)
		assert.True(t, ok, s)
		assert.Equal(t, Policy(s), p)
	}
	for _, s := range []string{"", "immediate", "BOGUS", " DELAYED"} {
		_, ok := ParsePolicy(s)
		assert.False(t, ok, s)
	}
}

func TestDecisionContextValidate(t *testing.T) {
	assert.Error(t, DecisionContext{}.Validate())
	assert.Error(t, DecisionContext{Project: "  "}.Validate())
	assert.Error(t, DecisionContext{Project: "p", Outcome: "MAYBE"}.Validate())
	assert.NoError(t, DecisionContext{Project: "p"}.Validate())
	assert.NoError(t, DecisionContext{Project: "p", Outcome: OutcomePartial}.Validate())
}

func TestMetricsAbsenceSurvivesJSON(t *testing.T) {
	var m Metrics
	require.NoError(t, json.Unmarshal([]byte(`{"cpu":0}`), &m))
	require.NotNil(t, m.CPU)
	assert.Equal(t, 0.0, *m.CPU)
	assert.Nil(t, m.ErrorRate)
	assert.Nil(t, m.HealthChecksFailed)
}

func TestAdaptiveConfigRequestValidate(t *testing.T) {
	req := AdaptiveConfigRequest{Project: "p", Insight: &SystemHealthInsight{}}
	assert.NoError(t, req.Validate())

	req.Insight = nil
	assert.Error(t, req.Validate())

	req = AdaptiveConfigRequest{Insight: &SystemHealthInsight{}}
	assert.Error(t, req.Validate())
}
