// Package scheduler turns an AdaptiveConfig into a (possibly delayed)
// automatic deployment. It is the last safety gate: manual-approval and
// low-confidence configs never start a timer.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/tuner"
)

// MaxDelay is the longest deploy delay the scheduler will arm. A DELAYED
// config asking for more, or for a delay that is not a finite non-negative
// number, is held for approval.
const MaxDelay = 7 * 24 * time.Hour

// ErrClosed is returned by Schedule after Close.
var ErrClosed = errors.New("scheduler: closed")

// Deployer performs one deployment.
type Deployer interface {
	Deploy(ctx context.Context) error
}

// DeployFunc adapts a function to Deployer.
type DeployFunc func(ctx context.Context) error

func (f DeployFunc) Deploy(ctx context.Context) error { return f(ctx) }

// State is the scheduler's current phase.
type State string

const (
	StateIdle             State = "idle"
	StateScheduled        State = "scheduled"
	StateAwaitingApproval State = "awaiting_approval"
	StateDeploying        State = "deploying"
	StateDisabled         State = "disabled"
)

// Plan describes what Schedule decided.
type Plan struct {
	State  State         `json:"state"`
	Delay  time.Duration `json:"delay"`
	Reason string        `json:"reason"`
}

// Status is a snapshot of the scheduler.
type Status struct {
	State       State                 `json:"state"`
	Enabled     bool                  `json:"enabled"`
	Config      *model.AdaptiveConfig `json:"config,omitempty"`
	FireAt      *time.Time            `json:"fireAt,omitempty"`
	LastDeploy  *time.Time            `json:"lastDeploy,omitempty"`
	LastError   string                `json:"lastError,omitempty"`
	InFlight    int                   `json:"inFlight"`
	Deployments int                   `json:"deployments"`
	Skipped     int                   `json:"skipped"`
}

// Scheduler holds at most one pending timer. A new Schedule, Cancel, or
// SetEnabled(false) clears it; a timer that fires after being superseded does
// nothing.
type Scheduler struct {
	deployer Deployer
	logger   *slog.Logger
	now      func() time.Time

	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu          sync.Mutex
	closed      bool
	enabled     bool
	gen         uint64
	timer       *time.Timer
	fireAt      time.Time
	state       State
	cfg         *model.AdaptiveConfig
	lastDeploy  time.Time
	lastErr     error
	inflight    int
	deployments int
	skipped     int
}

// New creates an enabled scheduler.
func New(deployer Deployer, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		deployer: deployer,
		logger:   logger,
		now:      time.Now,
		baseCtx:  ctx,
		cancel:   cancel,
		enabled:  true,
		state:    StateIdle,
	}
}

// Schedule replaces any pending deployment with one derived from cfg.
func (s *Scheduler) Schedule(cfg model.AdaptiveConfig) (Plan, error) {
	gated := tuner.Gate(cfg)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Plan{}, ErrClosed
	}

	s.stopTimerLocked()
	s.cfg = &gated

	if !s.enabled {
		s.state = StateDisabled
		return Plan{State: StateDisabled, Reason: "auto-deploy is disabled"}, nil
	}

	if gated.Policy == model.PolicyManualApproval {
		s.state = StateAwaitingApproval
		reason := gated.Reason
		if cfg.Policy != gated.Policy {
			reason = fmt.Sprintf("confidence %.2f below %.2f", cfg.Confidence, tuner.ConfidenceThreshold)
		}
		s.logger.Info("scheduler: auto-deploy held for approval", "reason", reason)
		return Plan{State: StateAwaitingApproval, Reason: reason}, nil
	}

	var delay time.Duration
	if gated.Policy == model.PolicyDelayed {
		secs := gated.DeployDelayInSeconds
		if !(secs >= 0 && secs <= MaxDelay.Seconds()) {
			s.state = StateAwaitingApproval
			reason := fmt.Sprintf("deploy delay %gs outside 0..%gs", secs, MaxDelay.Seconds())
			s.logger.Warn("scheduler: auto-deploy held for approval", "reason", reason)
			return Plan{State: StateAwaitingApproval, Reason: reason}, nil
		}
		delay = time.Duration(secs * float64(time.Second))
	}
	gen := s.gen
	s.fireAt = s.now().Add(delay)
	s.timer = time.AfterFunc(delay, func() { s.fire(gen) })
	s.state = StateScheduled
	s.logger.Info("scheduler: deployment scheduled", "policy", gated.Policy, "delay", delay)
	return Plan{State: StateScheduled, Delay: delay, Reason: gated.Reason}, nil
}

// Apply asks p for a config and schedules it.
func (s *Scheduler) Apply(ctx context.Context, p tuner.ConfigProvider, req tuner.Request) (Plan, error) {
	cfg, err := p.AdaptiveConfig(ctx, req)
	if err != nil {
		return Plan{}, fmt.Errorf("scheduler: get config: %w", err)
	}
	return s.Schedule(cfg)
}

// Cancel clears a pending timer. A deployment already running is not aborted.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopTimerLocked() && s.state == StateScheduled {
		s.state = StateIdle
	}
}

// SetEnabled turns auto-deploy on or off. Disabling clears a pending timer.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	if !enabled {
		s.stopTimerLocked()
		if s.state != StateDeploying {
			s.state = StateDisabled
		}
		return
	}
	if s.state == StateDisabled {
		s.state = StateIdle
	}
}

// Status returns a snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		State:       s.state,
		Enabled:     s.enabled,
		InFlight:    s.inflight,
		Deployments: s.deployments,
		Skipped:     s.skipped,
	}
	if s.cfg != nil {
		c := *s.cfg
		st.Config = &c
	}
	if s.timer != nil {
		t := s.fireAt
		st.FireAt = &t
	}
	if !s.lastDeploy.IsZero() {
		t := s.lastDeploy
		st.LastDeploy = &t
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Close clears any timer and waits for running deployments to return.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopTimerLocked()
	s.mu.Unlock()

	s.wg.Wait()
	s.cancel()
}

// stopTimerLocked bumps the generation so an already-fired callback becomes
// a no-op, and reports whether a timer was pending.
func (s *Scheduler) stopTimerLocked() bool {
	s.gen++
	if s.timer == nil {
		return false
	}
	s.timer.Stop()
	s.timer = nil
	return true
}

func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	if s.closed || gen != s.gen || !s.enabled {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	cfg := s.cfg
	now := s.now()

	if cfg != nil && cfg.CooldownSeconds > 0 && !s.lastDeploy.IsZero() {
		cooldown := time.Duration(cfg.CooldownSeconds * float64(time.Second))
		if last := s.lastDeploy; now.Sub(last) < cooldown {
			s.skipped++
			s.state = StateIdle
			s.mu.Unlock()
			s.logger.Warn("scheduler: deployment skipped, cooldown active",
				"last_deploy", last, "cooldown", cooldown)
			return
		}
	}
	limit := 1
	if cfg != nil && cfg.MaxConcurrentDeploys > 0 {
		limit = cfg.MaxConcurrentDeploys
	}
	if s.inflight >= limit {
		s.skipped++
		s.mu.Unlock()
		s.logger.Warn("scheduler: deployment skipped, concurrency limit reached", "limit", limit)
		return
	}

	s.inflight++
	s.lastDeploy = now
	s.state = StateDeploying
	s.wg.Add(1)
	s.mu.Unlock()

	defer s.wg.Done()
	s.logger.Info("scheduler: deploying")
	err := s.deployer.Deploy(s.baseCtx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	s.deployments++
	s.lastErr = err
	if err != nil {
		s.logger.Error("scheduler: deployment failed", "error", err)
	}
	if s.state == StateDeploying && s.inflight == 0 {
		s.state = StateIdle
		if !s.enabled {
			s.state = StateDisabled
		}
	}
}
