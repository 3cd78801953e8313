// Package mcp implements the Model Context Protocol server for SAT18.
//
// The MCP server exposes the decision engine to MCP-compatible agents: tools
// evaluate contexts, validate advisor output and read feedback summaries;
// resources expose the active policy and the recent audit trail.
package mcp

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/sat18-labs/sat18/internal/policy"
	"github.com/sat18-labs/sat18/internal/service/decisions"
	"github.com/sat18-labs/sat18/internal/storage"
)

// Server wraps the MCP server with SAT18's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	store     storage.Store
	svc       *decisions.Service
	policy    policy.Source
	logger    *slog.Logger
	now       func() time.Time
}

// New creates and configures a new MCP server with all resources and tools.
func New(store storage.Store, svc *decisions.Service, source policy.Source, logger *slog.Logger, version string) *Server {
	s := &Server{
		store:  store,
		svc:    svc,
		policy: source,
		logger: logger,
		now:    time.Now,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"sat18",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

const serverInstructions = `SAT18 decides how a deployment pipeline should proceed.

Use sat18_evaluate with a decision context to see which rule fires and the
resulting deployment policy. Use sat18_parse_config to validate a config an
LLM produced before acting on it. Use sat18_summary to read a project's
historical decision accuracy.`

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
