package decisions

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sat18-labs/sat18/internal/decisionctx"
	"github.com/sat18-labs/sat18/internal/idt"
	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/policy"
	"github.com/sat18-labs/sat18/internal/tuner"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type summaries map[string]*model.FeedbackSummary

func (s summaries) FeedbackSummary(_ context.Context, project string) (*model.FeedbackSummary, error) {
	return s[project], nil
}

// syncRecorder is an idt.Observer safe for the concurrent test.
type syncRecorder struct {
	mu        sync.Mutex
	decisions []model.Decision
}

func (r *syncRecorder) OnNodeVisited(model.TraceEntry) {}
func (r *syncRecorder) OnDecision(d model.Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions = append(r.decisions, d)
}

func newService(t *testing.T, src decisionctx.SummarySource, advisor tuner.ConfigProvider) (*Service, *syncRecorder) {
	t.Helper()
	rec := &syncRecorder{}
	tree := policy.Static{Root: policy.DefaultTree(policy.DefaultThresholds())}
	builder := decisionctx.NewBuilder(src, testLogger(), decisionctx.BuilderConfig{})
	return New(builder, idt.NewEvaluator(tree, rec), advisor, testLogger()), rec
}

func nominalInput() Input {
	return Input{
		Project: "shop",
		Insight: &model.SystemHealthInsight{Level: model.HealthNominal, Metrics: model.HealthMetrics{SuccessRate: 100, AvgDeployTime: 42}},
		System:  &model.VpsSystemInfo{Memory: "41.5%", LoadAvg: []float64{0.4}},
	}
}

func TestAdaptiveConfigNominal(t *testing.T) {
	svc, rec := newService(t, summaries{}, nil)

	res, err := svc.AdaptiveConfig(context.Background(), nominalInput())
	require.NoError(t, err)
	assert.Equal(t, model.PolicyImmediate, res.Config.Policy)
	assert.Equal(t, "System nominal. Monitor.", res.Config.Reason)
	require.Len(t, res.Decision.Actions, 1)
	assert.Equal(t, "no-op", res.Decision.Actions[0].ID)
	assert.Nil(t, res.Advice)

	require.Len(t, rec.decisions, 1, "observers see every evaluation")
	assert.Equal(t, "shop", rec.decisions[0].ContextSnapshot.Project)
}

func TestAdaptiveConfigHighCPU(t *testing.T) {
	svc, _ := newService(t, summaries{}, nil)
	in := nominalInput()
	in.System.LoadAvg = []float64{9.5}

	res, err := svc.AdaptiveConfig(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyDelayed, res.Config.Policy)
	assert.Equal(t, 300.0, res.Config.DeployDelayInSeconds)
	assert.Equal(t, 95.0, *res.Decision.ContextSnapshot.Metrics.CPU)
}

func TestAdaptiveConfigCriticalFailure(t *testing.T) {
	svc, _ := newService(t, summaries{}, nil)
	in := nominalInput()
	in.Insight.Metrics.SuccessRate = 50
	in.Logs = []model.VpsLogEntry{{ID: "1", Text: "deploy: Health check failed on /healthz"}}

	res, err := svc.AdaptiveConfig(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, model.PolicyManualApproval, res.Config.Policy)
	assert.Equal(t, model.OutcomeFail, res.Decision.ContextSnapshot.Outcome)
}

func TestAdaptiveConfigLowAccuracyFromSummary(t *testing.T) {
	svc, _ := newService(t, summaries{"shop": {AccuracyRate: 60, Total: 10, SuccessCount: 6}}, nil)

	res, err := svc.AdaptiveConfig(context.Background(), nominalInput())
	require.NoError(t, err)
	require.Len(t, res.Decision.Actions, 1)
	assert.Equal(t, "manual-audit", res.Decision.Actions[0].ID)
	assert.Equal(t, model.PolicyManualApproval, res.Config.Policy)
}

func TestAdaptiveConfigWithAdvisor(t *testing.T) {
	advisor := tuner.AdvisorProvider{Advisor: tuner.StaticAdvisor(`{"policy":"DELAYED","deployDelayInSeconds":120,"confidence":0.9,"reason":"quiet hours"}`)}
	svc, _ := newService(t, summaries{}, advisor)

	res, err := svc.AdaptiveConfig(context.Background(), nominalInput())
	require.NoError(t, err)
	assert.Equal(t, model.PolicyImmediate, res.Config.Policy, "rules stay authoritative")
	require.NotNil(t, res.Advice)
	assert.Equal(t, model.PolicyDelayed, res.Advice.Policy)
	assert.Equal(t, 120.0, res.Advice.DeployDelayInSeconds)
}

func TestAdaptiveConfigRequiresProject(t *testing.T) {
	svc, _ := newService(t, summaries{}, nil)
	_, err := svc.AdaptiveConfig(context.Background(), Input{})
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestEvaluate(t *testing.T) {
	svc, _ := newService(t, summaries{}, nil)

	res, err := svc.Evaluate(context.Background(), model.DecisionContext{
		Project: "shop",
		Metrics: &model.Metrics{CPU: model.Float(90)},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PolicyDelayed, res.Config.Policy)

	_, err = svc.Evaluate(context.Background(), model.DecisionContext{Project: "shop", Outcome: "MAYBE"})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRuleProvider(t *testing.T) {
	svc, _ := newService(t, summaries{}, nil)
	p := svc.RuleProvider()

	cfg, err := p.AdaptiveConfig(context.Background(), tuner.Request{
		Project: "shop",
		Insight: &model.SystemHealthInsight{Metrics: model.HealthMetrics{SuccessRate: 100}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.PolicyImmediate, cfg.Policy)

	_, err = p.AdaptiveConfig(context.Background(), tuner.Request{})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestConcurrentEvaluations(t *testing.T) {
	svc, rec := newService(t, summaries{}, nil)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AdaptiveConfig(context.Background(), nominalInput())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Len(t, rec.decisions, 16)
}
