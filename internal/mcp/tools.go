package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/sat18-labs/sat18/internal/model"
	"github.com/sat18-labs/sat18/internal/service/decisions"
	"github.com/sat18-labs/sat18/internal/tuner"
)

func (s *Server) registerTools() {
	// sat18_evaluate: run the policy tree against a decision context.
	s.mcpServer.AddTool(
		mcplib.NewTool("sat18_evaluate",
			mcplib.WithDescription(`Evaluate a decision context against the active deployment policy.

WHEN TO USE: Before triggering or approving a deployment, to see which rule
fires and what deployment policy follows from it.

WHAT YOU GET BACK:
- decision: the walk trace, the recommended actions and the context snapshot
- config: the adaptive config (IMMEDIATE, DELAYED or MANUAL_APPROVAL) with
  the delay, cooldown and a reason

EXAMPLE: context={"project":"shop","outcome":"FAIL","metrics":{"healthChecksFailed":2}}
returns a rollback recommendation under MANUAL_APPROVAL.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("context",
				mcplib.Description("Decision context as a JSON object: project (required), outcome (SUCCESS|FAIL|PARTIAL|UNKNOWN), metrics {cpu, memory, errorRate, healthChecksFailed, ...}, recentTrend {accuracy7d}."),
				mcplib.Required(),
			),
		),
		s.handleEvaluate,
	)

	// sat18_parse_config: validate an adaptive config from an untrusted source.
	s.mcpServer.AddTool(
		mcplib.NewTool("sat18_parse_config",
			mcplib.WithDescription(`Validate an adaptive deployment config produced by an LLM or another untrusted source.

The result is always a usable config. Malformed input, unknown policies and
out-of-range confidence fall back to MANUAL_APPROVAL; a confidence below 0.6
forces MANUAL_APPROVAL but keeps the reported value.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("raw",
				mcplib.Description("The raw config text, normally a JSON object"),
				mcplib.Required(),
			),
		),
		s.handleParseConfig,
	)

	// sat18_summary: historical decision accuracy for a project.
	s.mcpServer.AddTool(
		mcplib.NewTool("sat18_summary",
			mcplib.WithDescription(`Read the feedback summary of a project: overall decision accuracy,
success count, average confidence and a seven-day accuracy trend.

An accuracy below the policy threshold makes the engine ask for an operator audit.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project",
				mcplib.Description("Project identifier"),
				mcplib.Required(),
			),
		),
		s.handleSummary,
	)
}

func (s *Server) handleEvaluate(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	dctx, err := decodeContextArg(request.GetArguments()["context"])
	if err != nil {
		return errorResult(err.Error()), nil
	}

	res, err := s.svc.Evaluate(ctx, dctx)
	if err != nil {
		if errors.Is(err, decisions.ErrInvalidInput) {
			return errorResult(err.Error()), nil
		}
		return nil, fmt.Errorf("mcp: evaluate: %w", err)
	}
	return jsonResult(model.EvaluateResponse{Decision: res.Decision, Config: res.Config, Advice: res.Advice})
}

func (s *Server) handleParseConfig(_ context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	raw := request.GetString("raw", "")
	if raw == "" {
		return errorResult("raw is required"), nil
	}
	return jsonResult(tuner.SafeParse(raw, s.now()))
}

func (s *Server) handleSummary(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	project := request.GetString("project", "")
	if project == "" {
		return errorResult("project is required"), nil
	}
	summary, err := s.store.FeedbackSummary(ctx, project)
	if err != nil {
		return errorResult(fmt.Sprintf("summary failed: %v", err)), nil
	}
	return jsonResult(summary)
}

// decodeContextArg accepts the context either as JSON text or as an object
// the client already decoded.
func decodeContextArg(v any) (model.DecisionContext, error) {
	var dctx model.DecisionContext
	var data []byte
	switch arg := v.(type) {
	case nil:
		return dctx, errors.New("context is required")
	case string:
		data = []byte(arg)
	default:
		b, err := json.Marshal(arg)
		if err != nil {
			return dctx, fmt.Errorf("context: %v", err)
		}
		data = b
	}
	if err := json.Unmarshal(data, &dctx); err != nil {
		return dctx, fmt.Errorf("context is not a valid decision context: %v", err)
	}
	return dctx, nil
}
