package policy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sat18-labs/sat18/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestConditionEval(t *testing.T) {
	withMetrics := func(m model.Metrics) model.DecisionContext {
		return model.DecisionContext{Project: "p", Metrics: &m}
	}
	withTrend := func(tr *model.Trend) model.DecisionContext {
		return model.DecisionContext{Project: "p", RecentTrend: tr}
	}

	tests := []struct {
		name string
		cond *Condition
		ctx  model.DecisionContext
		want bool
	}{
		{"always", &Condition{Kind: KindAlways}, model.DecisionContext{}, true},
		{"cpuAbove no metrics", CPUAbove(85), model.DecisionContext{}, false},
		{"cpuAbove missing cpu reads zero", CPUAbove(85), withMetrics(model.Metrics{}), false},
		{"cpuAbove at threshold", CPUAbove(85), withMetrics(model.Metrics{CPU: model.Float(85)}), false},
		{"cpuAbove over threshold", CPUAbove(85), withMetrics(model.Metrics{CPU: model.Float(85.1)}), true},
		{"cpuBelow no metrics", CPUBelow(10), model.DecisionContext{}, false},
		{"cpuBelow missing cpu reads zero", CPUBelow(10), withMetrics(model.Metrics{}), true},
		{"errorRateAbove", ErrorRateAbove(0.05), withMetrics(model.Metrics{ErrorRate: model.Float(0.2)}), true},
		{"errorRateAbove missing", ErrorRateAbove(0.05), withMetrics(model.Metrics{}), false},
		{"accuracy no trend", RecentAccuracyBelow(0.8), model.DecisionContext{}, false},
		{"accuracy missing reads one", RecentAccuracyBelow(0.8), withTrend(&model.Trend{}), false},
		{"accuracy low", RecentAccuracyBelow(0.8), withTrend(&model.Trend{Accuracy7d: model.Float(0.5)}), true},
		{"accuracy at threshold", RecentAccuracyBelow(0.8), withTrend(&model.Trend{Accuracy7d: model.Float(0.8)}), false},
		{"health checks no metrics", HealthChecksFailedAtLeast(0), model.DecisionContext{}, false},
		{"health checks missing reads zero", HealthChecksFailedAtLeast(1), withMetrics(model.Metrics{}), false},
		{"health checks reached", HealthChecksFailedAtLeast(1), withMetrics(model.Metrics{HealthChecksFailed: model.Int(1)}), true},
		{"outcomeIs", OutcomeIs(model.OutcomeFail), model.DecisionContext{Outcome: model.OutcomeFail}, true},
		{"outcomeIs other", OutcomeIs(model.OutcomeFail), model.DecisionContext{Outcome: model.OutcomeSuccess}, false},
		{
			"allOf both",
			AllOf(OutcomeIs(model.OutcomeFail), HealthChecksFailedAtLeast(1)),
			model.DecisionContext{Outcome: model.OutcomeFail, Metrics: &model.Metrics{HealthChecksFailed: model.Int(2)}},
			true,
		},
		{
			"allOf one false",
			AllOf(OutcomeIs(model.OutcomeFail), HealthChecksFailedAtLeast(1)),
			model.DecisionContext{Outcome: model.OutcomeFail},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.cond.Eval(tt.ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestConditionEvalUnknownKind(t *testing.T) {
	_, err := Condition{Kind: "moonPhase"}.Eval(model.DecisionContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCondition))

	_, err = AllOf(OutcomeIs(model.OutcomeFail), &Condition{Kind: "moonPhase"}).
		Eval(model.DecisionContext{Outcome: model.OutcomeFail})
	assert.ErrorIs(t, err, ErrUnknownCondition)
}

func TestConditionString(t *testing.T) {
	assert.Equal(t, "cpuAbove(85)", CPUAbove(85).String())
	assert.Equal(t, "allOf(outcomeIs(FAIL), healthChecksFailedAtLeast(1))",
		AllOf(OutcomeIs(model.OutcomeFail), HealthChecksFailedAtLeast(1)).String())
}

func TestDefaultTree(t *testing.T) {
	root := DefaultTree(DefaultThresholds())
	require.NoError(t, Validate(root))

	assert.Equal(t, RootID, root.ID)
	assert.Nil(t, root.Condition)
	require.Len(t, root.Children, 3)
	assert.Equal(t, CriticalFailureID, root.Children[0].ID)
	assert.Equal(t, HighCPUID, root.Children[1].ID)
	assert.Equal(t, LowAccuracyTrendID, root.Children[2].ID)

	require.Len(t, root.Fallback, 1)
	assert.Equal(t, ActionNoop, root.Fallback[0].ID)
	assert.Equal(t, "System nominal. Monitor.", root.Fallback[0].Label)
	assert.True(t, root.Fallback[0].Auto)

	delay := root.Children[1].Actions[0]
	assert.Equal(t, ActionDelayDeploy, delay.ID)
	assert.Equal(t, 300, delay.Payload["delaySeconds"])
}

func TestDefaultTreeThresholds(t *testing.T) {
	root := DefaultTree(Thresholds{CPUPercent: 50, Accuracy7d: 0.9, HealthChecksFailed: 3})
	assert.Equal(t, 50.0, root.Children[1].Condition.Threshold)
	assert.Equal(t, 0.9, root.Children[2].Condition.Threshold)
	assert.Equal(t, 3.0, root.Children[0].Condition.All[1].Threshold)
}

func TestLoadThresholdsOnly(t *testing.T) {
	doc := `
version: 1
thresholds:
  cpuPercent: 70
  accuracy7d: 0.75
  healthChecksFailed: 2
`
	root, err := Load(strings.NewReader(doc))
	require.NoError(t, err)

	want := DefaultTree(Thresholds{CPUPercent: 70, Accuracy7d: 0.75, HealthChecksFailed: 2})
	if diff := cmp.Diff(want, root); diff != "" {
		t.Errorf("tree mismatch (-want +got):\n%s", diff)
	}

	t.Run("partial thresholds keep defaults", func(t *testing.T) {
		root, err := Load(strings.NewReader("thresholds:\n  cpuPercent: 90\n"))
		require.NoError(t, err)

		want := DefaultThresholds()
		want.CPUPercent = 90
		if diff := cmp.Diff(DefaultTree(want), root); diff != "" {
			t.Errorf("tree mismatch (-want +got):\n%s", diff)
		}

		require.Equal(t, CriticalFailureID, root.Children[0].ID)
		fail := model.DecisionContext{Project: "shop", Outcome: model.OutcomeFail, Metrics: &model.Metrics{}}
		matched, err := root.Children[0].Condition.Eval(fail)
		require.NoError(t, err)
		assert.False(t, matched, "a FAIL with no failed health checks is not critical")
	})
}

func TestLoadFullTree(t *testing.T) {
	doc := `
root:
  id: root
  children:
    - id: errors
      condition:
        kind: errorRateAbove
        threshold: 0.1
      actions:
        - id: rollback
          label: Rollback
          level: CRITICAL
          recommendManual: true
  fallback:
    - id: no-op
      label: Nothing to do
`
	root, err := Load(strings.NewReader(doc))
	require.NoError(t, err)
	require.Len(t, root.Children, 1)
	assert.Equal(t, KindErrorRateAbove, root.Children[0].Condition.Kind)
	assert.Equal(t, model.LevelCritical, root.Children[0].Actions[0].Level)
	assert.Equal(t, "Nothing to do", root.Fallback[0].Label)
}

func TestLoadRejects(t *testing.T) {
	tests := map[string]string{
		"empty":          ``,
		"unknown field":  "root:\n  id: root\n  condtion:\n    kind: always\n",
		"unknown kind":   "root:\n  id: root\n  condition:\n    kind: moonPhase\n",
		"missing id":     "root:\n  description: nameless\n",
		"duplicate id":   "root:\n  id: a\n  children:\n    - id: a\n",
		"bad level":      "root:\n  id: a\n  actions:\n    - id: x\n      level: SEVERE\n",
		"action no id":   "root:\n  id: a\n  fallback:\n    - label: x\n",
		"empty allOf":    "root:\n  id: a\n  condition:\n    kind: allOf\n",
		"bad outcome":    "root:\n  id: a\n  condition:\n    kind: outcomeIs\n    outcome: MAYBE\n",
		"future version": "version: 9\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(strings.NewReader(doc))
			assert.Error(t, err)
		})
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	root := DefaultTree(DefaultThresholds())
	data, err := Marshal(root)
	require.NoError(t, err)

	back, err := Load(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Equal(t, root.ID, back.ID)
	assert.Len(t, back.Children, 3)
	assert.Equal(t, root.Children[0].Condition.String(), back.Children[0].Condition.String())
}

func TestHolderSwap(t *testing.T) {
	h, err := NewHolder(DefaultTree(DefaultThresholds()))
	require.NoError(t, err)
	before := h.Tree()

	err = h.Swap(&Node{})
	require.Error(t, err)
	assert.Same(t, before, h.Tree(), "invalid tree must not replace the current one")

	next := &Node{ID: "root"}
	require.NoError(t, h.Swap(next))
	assert.Same(t, next, h.Tree())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  cpuPercent: 85\n  accuracy7d: 0.8\n  healthChecksFailed: 1\n"), 0o600))

	root, err := LoadFile(path)
	require.NoError(t, err)
	h, err := NewHolder(root)
	require.NoError(t, err)

	w, err := NewWatcher(path, h, discardLogger())
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	defer w.Stop()

	require.NoError(t, os.WriteFile(path, []byte("thresholds:\n  cpuPercent: 60\n  accuracy7d: 0.8\n  healthChecksFailed: 1\n"), 0o600))
	assert.Eventually(t, func() bool {
		return h.Tree().Children[1].Condition.Threshold == 60
	}, 5*time.Second, 20*time.Millisecond)

	// A broken document leaves the last good tree in place.
	require.NoError(t, os.WriteFile(path, []byte("root:\n  id: ''\n"), 0o600))
	assert.Eventually(t, func() bool {
		_, errs := w.Stats()
		return errs > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 60.0, h.Tree().Children[1].Condition.Threshold)
}
