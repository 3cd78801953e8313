package tuner

import (
	"context"
	"log/slog"
	"time"

	"github.com/sat18-labs/sat18/internal/model"
)

// Request is everything a provider may use to produce a config.
type Request struct {
	Project string
	Insight *model.SystemHealthInsight
	System  *model.VpsSystemInfo
	Logs    []model.VpsLogEntry
}

// ConfigProvider produces the AdaptiveConfig the scheduler acts on. Every
// implementation in this package returns gated configs, so consumers need not
// know which source produced a value.
type ConfigProvider interface {
	AdaptiveConfig(ctx context.Context, req Request) (model.AdaptiveConfig, error)
}

// DecideFunc runs one rule evaluation for a request.
type DecideFunc func(ctx context.Context, req Request) (model.Decision, error)

// RuleProvider is the deterministic path: evaluate the policy tree, translate
// the resulting actions.
type RuleProvider struct {
	Decide DecideFunc
	Now    func() time.Time
}

func (p RuleProvider) AdaptiveConfig(ctx context.Context, req Request) (model.AdaptiveConfig, error) {
	d, err := p.Decide(ctx, req)
	if err != nil {
		return model.AdaptiveConfig{}, err
	}
	return Gate(Translate(d.Actions, nowFunc(p.Now)())), nil
}

// Advisor returns a raw, untrusted config suggestion, typically LLM output.
type Advisor interface {
	Advise(ctx context.Context, req Request) ([]byte, error)
}

// AdvisorProvider runs an Advisor through SafeParse. Advisor failures yield
// the fallback config rather than an error, so the scheduler always gets a
// value that biases toward manual approval.
type AdvisorProvider struct {
	Advisor Advisor
	Logger  *slog.Logger
	Now     func() time.Time
}

func (p AdvisorProvider) AdaptiveConfig(ctx context.Context, req Request) (model.AdaptiveConfig, error) {
	now := nowFunc(p.Now)()
	raw, err := p.Advisor.Advise(ctx, req)
	if err != nil {
		if p.Logger != nil {
			p.Logger.Warn("tuner: advisor failed, using fallback", "project", req.Project, "error", err)
		}
		return Fallback(now), nil
	}
	return Gate(SafeParse(raw, now)), nil
}

// StaticAdvisor always returns the same payload.
type StaticAdvisor []byte

func (s StaticAdvisor) Advise(context.Context, Request) ([]byte, error) {
	return []byte(s), nil
}

func nowFunc(f func() time.Time) func() time.Time {
	if f == nil {
		return time.Now
	}
	return f
}
