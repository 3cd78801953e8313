// Package decisions runs the end-to-end decision flow shared by the HTTP API,
// the MCP tools and the scheduler: build a context, evaluate the policy tree,
// translate the actions into an adaptive config.
package decisions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/sat18-labs/sat18/internal/decisionctx"
	"github.com/sat18-labs/sat18/internal/idt"
	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/telemetry"
	"github.com/sat18-labs/sat18/internal/tuner"
)

// ErrInvalidInput wraps validation failures so callers can map them to 400.
var ErrInvalidInput = errors.New("decisions: invalid input")

// Input is the raw telemetry an adaptive config is derived from.
type Input struct {
	Project string
	Insight *model.SystemHealthInsight
	System  *model.VpsSystemInfo
	Logs    []model.VpsLogEntry
}

func (in Input) request() tuner.Request {
	return tuner.Request{Project: in.Project, Insight: in.Insight, System: in.System, Logs: in.Logs}
}

// Result pairs the rule decision with the config derived from it.
type Result struct {
	Decision model.Decision
	Config   model.AdaptiveConfig
	Advice   *model.AdaptiveConfig
}

// Service encapsulates decision logic shared by HTTP, MCP and the scheduler.
type Service struct {
	builder   *decisionctx.Builder
	evaluator *idt.Evaluator
	advisor   tuner.ConfigProvider
	logger    *slog.Logger
	now       func() time.Time
	tracer    trace.Tracer

	evalDuration metric.Float64Histogram
	policies     metric.Int64Counter
}

// New creates a Service. advisor may be nil; when set, AdaptiveConfig also
// returns its suggestion next to the rule config.
func New(builder *decisionctx.Builder, evaluator *idt.Evaluator, advisor tuner.ConfigProvider, logger *slog.Logger) *Service {
	meter := telemetry.Meter("sat18/decisions")
	evalDur, _ := meter.Float64Histogram("sat18.evaluation.duration",
		metric.WithDescription("Time to evaluate the policy tree (ms)"),
		metric.WithUnit("ms"),
	)
	policies, _ := meter.Int64Counter("sat18.config.policy",
		metric.WithDescription("Adaptive configs produced, by deployment policy"),
	)
	return &Service{
		builder:      builder,
		evaluator:    evaluator,
		advisor:      advisor,
		logger:       logger,
		now:          time.Now,
		tracer:       telemetry.Tracer("sat18/decisions"),
		evalDuration: evalDur,
		policies:     policies,
	}
}

// AdaptiveConfig builds a context from raw telemetry and evaluates it.
func (s *Service) AdaptiveConfig(ctx context.Context, in Input) (Result, error) {
	if in.Project == "" {
		return Result{}, fmt.Errorf("%w: project is required", ErrInvalidInput)
	}
	res := s.rules(ctx, in)

	if s.advisor != nil {
		advice, err := s.advisor.AdaptiveConfig(ctx, in.request())
		if err != nil {
			s.logger.Warn("decisions: advisor failed", "project", in.Project, "error", err)
		} else {
			res.Advice = &advice
		}
	}
	return res, nil
}

// Evaluate runs the policy tree against a caller-built context.
func (s *Service) Evaluate(ctx context.Context, dctx model.DecisionContext) (Result, error) {
	if err := dctx.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.decide(ctx, dctx), nil
}

// Evaluator returns the evaluator the service runs.
func (s *Service) Evaluator() *idt.Evaluator { return s.evaluator }

// RuleProvider adapts the rule path to tuner.ConfigProvider for the scheduler.
func (s *Service) RuleProvider() tuner.RuleProvider {
	return tuner.RuleProvider{
		Decide: func(ctx context.Context, req tuner.Request) (model.Decision, error) {
			if req.Project == "" {
				return model.Decision{}, fmt.Errorf("%w: project is required", ErrInvalidInput)
			}
			in := Input{Project: req.Project, Insight: req.Insight, System: req.System, Logs: req.Logs}
			return s.rules(ctx, in).Decision, nil
		},
		Now: s.now,
	}
}

// InvalidateSummary drops the cached feedback summary of project.
func (s *Service) InvalidateSummary(project string) {
	s.builder.Invalidate(project)
}

func (s *Service) rules(ctx context.Context, in Input) Result {
	dctx := s.builder.Build(ctx, decisionctx.Input{
		Project: in.Project,
		Insight: in.Insight,
		System:  in.System,
		Logs:    in.Logs,
	})
	return s.decide(ctx, dctx)
}

func (s *Service) decide(ctx context.Context, dctx model.DecisionContext) Result {
	ctx, span := s.tracer.Start(ctx, "decisions.evaluate")
	defer span.End()
	span.SetAttributes(attribute.String("sat18.project", dctx.Project))

	start := time.Now()
	d := s.evaluator.Evaluate(dctx)
	s.evalDuration.Record(ctx, float64(time.Since(start).Microseconds())/1000)

	cfg := tuner.Translate(d.Actions, s.now())
	s.policies.Add(ctx, 1, metric.WithAttributes(attribute.String("policy", string(cfg.Policy))))
	span.SetAttributes(
		attribute.String("sat18.policy", string(cfg.Policy)),
		attribute.Int("sat18.actions", len(d.Actions)),
	)

	s.logger.Info("decisions: config derived",
		"project", dctx.Project,
		"policy", cfg.Policy,
		"reason", cfg.Reason,
		"actions", len(d.Actions))
	return Result{Decision: d, Config: cfg}
}
