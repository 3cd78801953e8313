package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const (
	policyURI          = "sat18://policy/current"
	recentDecisionsURI = "sat18://decisions/recent"
	summaryURIPrefix   = "sat18://project/"
	summaryURISuffix   = "/summary"
	recentLimit        = 20
)

func (s *Server) registerResources() {
	// sat18://policy/current: the decision tree in force.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			policyURI,
			"Active Policy",
			mcplib.WithResourceDescription("The decision tree currently used for evaluations"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePolicy,
	)

	// sat18://decisions/recent: the most recent audited decisions.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			recentDecisionsURI,
			"Recent Decisions",
			mcplib.WithResourceDescription("The most recent audited decisions across all projects"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDecisionsRecent,
	)

	// sat18://project/{project}/summary: feedback summary of one project.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			summaryURIPrefix+"{project}"+summaryURISuffix,
			"Project Feedback Summary",
			mcplib.WithTemplateDescription("Decision accuracy and seven-day trend for a project"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleProjectSummary,
	)
}

func (s *Server) handlePolicy(_ context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	return jsonContents(request.Params.URI, s.policy.Tree())
}

func (s *Server) handleDecisionsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	recs, err := s.store.ListDecisions(ctx, "", recentLimit)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent decisions: %w", err)
	}
	return jsonContents(request.Params.URI, recs)
}

func (s *Server) handleProjectSummary(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	project := strings.TrimSuffix(strings.TrimPrefix(uri, summaryURIPrefix), summaryURISuffix)
	if project == "" || project == uri || strings.Contains(project, "/") {
		return nil, fmt.Errorf("mcp: invalid project summary URI: %s", uri)
	}
	summary, err := s.store.FeedbackSummary(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("mcp: project summary: %w", err)
	}
	return jsonContents(uri, summary)
}

func jsonContents(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
