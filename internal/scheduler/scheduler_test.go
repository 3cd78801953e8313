package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/tuner"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type countingDeployer struct {
	calls atomic.Int32
	done  chan struct{}
	err   error
	block chan struct{}
}

func newCountingDeployer() *countingDeployer {
	return &countingDeployer{done: make(chan struct{}, 16)}
}

func (d *countingDeployer) Deploy(ctx context.Context) error {
	if d.block != nil {
		select {
		case <-d.block:
		case <-ctx.Done():
		}
	}
	d.calls.Add(1)
	d.done <- struct{}{}
	return d.err
}

func (d *countingDeployer) waitDeploy(t *testing.T) {
	t.Helper()
	select {
	case <-d.done:
	case <-time.After(5 * time.Second):
		t.Fatal("deployment did not run")
	}
}

func immediate() model.AdaptiveConfig {
	return model.AdaptiveConfig{Policy: model.PolicyImmediate, Confidence: 1, MaxConcurrentDeploys: 1}
}

func delayed(seconds float64) model.AdaptiveConfig {
	return model.AdaptiveConfig{Policy: model.PolicyDelayed, Confidence: 1, DeployDelayInSeconds: seconds, MaxConcurrentDeploys: 1}
}

func TestImmediateDeploys(t *testing.T) {
	d := newCountingDeployer()
	s := New(d, testLogger())
	defer s.Close()

	plan, err := s.Schedule(immediate())
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, plan.State)
	assert.Equal(t, time.Duration(0), plan.Delay)

	d.waitDeploy(t)
	assert.Eventually(t, func() bool { return s.Status().State == StateIdle }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, s.Status().Deployments)
}

func TestDelayedWaits(t *testing.T) {
	d := newCountingDeployer()
	s := New(d, testLogger())
	defer s.Close()

	plan, err := s.Schedule(delayed(0.05))
	require.NoError(t, err)
	assert.Equal(t, 50*time.Millisecond, plan.Delay)
	require.NotNil(t, s.Status().FireAt)

	d.waitDeploy(t)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestManualApprovalNeverDeploys(t *testing.T) {
	d := newCountingDeployer()
	s := New(d, testLogger())
	defer s.Close()

	plan, err := s.Schedule(model.AdaptiveConfig{Policy: model.PolicyManualApproval, Confidence: 1, Reason: "rollback"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApproval, plan.State)
	assert.Equal(t, "rollback", plan.Reason)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), d.calls.Load())
	assert.Nil(t, s.Status().FireAt)
}

func TestLowConfidenceNeverDeploys(t *testing.T) {
	d := newCountingDeployer()
	s := New(d, testLogger())
	defer s.Close()

	plan, err := s.Schedule(model.AdaptiveConfig{Policy: model.PolicyImmediate, Confidence: 0.59})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApproval, plan.State)
	assert.Contains(t, plan.Reason, "below")

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestOutOfRangeDelayNeverDeploys(t *testing.T) {
	for name, secs := range map[string]float64{
		"overflows duration": 1e12,
		"beyond max":         MaxDelay.Seconds() + 1,
		"negative":           -5,
		"nan":                math.NaN(),
	} {
		t.Run(name, func(t *testing.T) {
			d := newCountingDeployer()
			s := New(d, testLogger())
			defer s.Close()

			plan, err := s.Schedule(delayed(secs))
			require.NoError(t, err)
			assert.Equal(t, StateAwaitingApproval, plan.State)
			assert.Contains(t, plan.Reason, "deploy delay")

			time.Sleep(20 * time.Millisecond)
			assert.Equal(t, int32(0), d.calls.Load())
			assert.Nil(t, s.Status().FireAt)
		})
	}

	t.Run("parsed advisor config", func(t *testing.T) {
		d := newCountingDeployer()
		s := New(d, testLogger())
		defer s.Close()

		cfg := tuner.SafeParse(`{"policy":"DELAYED","confidence":0.9,"deployDelayInSeconds":1e12}`, time.Now())
		plan, err := s.Schedule(cfg)
		require.NoError(t, err)
		assert.Equal(t, StateAwaitingApproval, plan.State)

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(0), d.calls.Load())
	})
}

func TestCancelClearsTimer(t *testing.T) {
	d := newCountingDeployer()
	s := New(d, testLogger())
	defer s.Close()

	_, err := s.Schedule(delayed(0.05))
	require.NoError(t, err)
	s.Cancel()
	assert.Equal(t, StateIdle, s.Status().State)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestRescheduleSupersedes(t *testing.T) {
	d := newCountingDeployer()
	s := New(d, testLogger())
	defer s.Close()

	_, err := s.Schedule(delayed(0.05))
	require.NoError(t, err)
	_, err = s.Schedule(model.AdaptiveConfig{Policy: model.PolicyManualApproval, Confidence: 1})
	require.NoError(t, err)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), d.calls.Load())
	assert.Equal(t, StateAwaitingApproval, s.Status().State)
}

func TestStaleTimerIsIgnored(t *testing.T) {
	d := newCountingDeployer()
	s := New(d, testLogger())
	defer s.Close()

	_, err := s.Schedule(delayed(10))
	require.NoError(t, err)

	s.mu.Lock()
	stale := s.gen
	s.mu.Unlock()
	s.Cancel()

	// Simulates the timer firing concurrently with the cancel.
	s.fire(stale)
	assert.Equal(t, int32(0), d.calls.Load())
}

func TestDisableClearsTimer(t *testing.T) {
	d := newCountingDeployer()
	s := New(d, testLogger())
	defer s.Close()

	_, err := s.Schedule(delayed(0.05))
	require.NoError(t, err)
	s.SetEnabled(false)
	assert.Equal(t, StateDisabled, s.Status().State)

	plan, err := s.Schedule(immediate())
	require.NoError(t, err)
	assert.Equal(t, StateDisabled, plan.State)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(0), d.calls.Load())

	s.SetEnabled(true)
	_, err = s.Schedule(immediate())
	require.NoError(t, err)
	d.waitDeploy(t)
}

func TestCooldownSkipsDeploy(t *testing.T) {
	d := newCountingDeployer()
	s := New(d, testLogger())
	defer s.Close()

	cfg := immediate()
	cfg.CooldownSeconds = 3600
	_, err := s.Schedule(cfg)
	require.NoError(t, err)
	d.waitDeploy(t)
	require.Eventually(t, func() bool { return s.Status().State == StateIdle }, time.Second, 5*time.Millisecond)

	_, err = s.Schedule(cfg)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return s.Status().Skipped == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestConcurrencyLimit(t *testing.T) {
	d := newCountingDeployer()
	d.block = make(chan struct{})
	s := New(d, testLogger())
	defer s.Close()

	_, err := s.Schedule(immediate())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.Status().InFlight == 1 }, time.Second, 5*time.Millisecond)

	_, err = s.Schedule(immediate())
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return s.Status().Skipped == 1 }, time.Second, 5*time.Millisecond)

	close(d.block)
	d.waitDeploy(t)
	assert.Equal(t, int32(1), d.calls.Load())
}

func TestDeployErrorIsRecorded(t *testing.T) {
	d := newCountingDeployer()
	d.err = errors.New("ssh: connection refused")
	s := New(d, testLogger())
	defer s.Close()

	_, err := s.Schedule(immediate())
	require.NoError(t, err)
	d.waitDeploy(t)
	assert.Eventually(t, func() bool { return s.Status().LastError == "ssh: connection refused" }, time.Second, 5*time.Millisecond)
}

func TestScheduleAfterClose(t *testing.T) {
	s := New(newCountingDeployer(), testLogger())
	s.Close()
	s.Close()
	_, err := s.Schedule(immediate())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestApplyFromProvider(t *testing.T) {
	d := newCountingDeployer()
	s := New(d, testLogger())
	defer s.Close()

	p := tuner.AdvisorProvider{Advisor: tuner.StaticAdvisor(`{"policy":"IMMEDIATE","confidence":0.4}`)}
	plan, err := s.Apply(context.Background(), p, tuner.Request{Project: "demo"})
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingApproval, plan.State)

	p = tuner.AdvisorProvider{Advisor: tuner.StaticAdvisor(`{"policy":"IMMEDIATE","confidence":0.9}`)}
	plan, err = s.Apply(context.Background(), p, tuner.Request{Project: "demo"})
	require.NoError(t, err)
	assert.Equal(t, StateScheduled, plan.State)
	d.waitDeploy(t)
}
