package api

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates an MCP server with the curio tools and resources
// registered.
func NewMCPServer(deps Deps, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"curio",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("curio: research flows over a personal document vault, with a review inbox for their proposals."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("start_flow",
			mcp.WithDescription("Start a research flow in the background and return its run id. Flows: "+strings.Join(FlowNames, ", ")+"."),
			mcp.WithString("flow", mcp.Description("Flow name"), mcp.Required(), mcp.Enum(FlowNames...)),
			mcp.WithString("input", mcp.Description("Flow input as a JSON object")),
		),
		mcpStartFlow(deps),
	)

	s.AddTool(
		mcp.NewTool("get_run",
			mcp.WithDescription("Return a run and its ordered trace steps."),
			mcp.WithString("run_id", mcp.Description("Run id returned by start_flow"), mcp.Required()),
		),
		mcpGetRun(deps),
	)

	s.AddTool(
		mcp.NewTool("list_inbox",
			mcp.WithDescription("List proposed artifacts awaiting review for a day."),
			mcp.WithString("day", mcp.Description("Day as YYYY-MM-DD (default today)")),
		),
		mcpListInbox(deps),
	)

	s.AddTool(
		mcp.NewTool("review_artifact",
			mcp.WithDescription("Approve or reject a proposed artifact. Approving supersedes the previously approved artifact of the same agent, kind and day."),
			mcp.WithString("id", mcp.Description("Artifact id"), mcp.Required()),
			mcp.WithString("decision", mcp.Description("approve or reject"), mcp.Required(), mcp.Enum("approve", "reject")),
		),
		mcpReviewArtifact(deps),
	)

	s.AddTool(
		mcp.NewTool("add_document",
			mcp.WithDescription("Store a document in the vault. Provide content, or a url to fetch."),
			mcp.WithString("title", mcp.Description("Document title")),
			mcp.WithString("content", mcp.Description("Document text")),
			mcp.WithString("url", mcp.Description("URL to fetch when content is empty")),
			mcp.WithArray("tags", mcp.Description("Optional tags")),
		),
		mcpAddDocument(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"curio://inbox",
			"Review Inbox",
			mcp.WithResourceDescription("Today's proposed artifacts as JSON"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceInbox(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"curio://reports/latest",
			"Latest Report",
			mcp.WithResourceDescription("Most recent research report as Markdown"),
			mcp.WithMIMEType("text/markdown"),
		),
		mcpResourceLatestReport(deps),
	)

	return s
}

func mcpStartFlow(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		name, err := req.RequireString("flow")
		if err != nil {
			return mcpError("flow is required"), nil
		}
		input := req.GetString("input", "")

		runID, err := startFlow(deps.Flows, name, json.RawMessage(input))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to start %s: %v", name, err)), nil
		}
		return mcpText(fmt.Sprintf(`{"runId":%q}`, runID)), nil
	}
}

func mcpGetRun(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		runID, err := req.RequireString("run_id")
		if err != nil {
			return mcpError("run_id is required"), nil
		}
		trace, err := deps.Store.GetRunTrace(runID)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to get run: %v", err)), nil
		}
		if trace == nil {
			return mcpError(fmt.Sprintf("run %s not found", runID)), nil
		}
		return mcpJSON(trace)
	}
}

func mcpListInbox(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		day := req.GetString("day", "")
		if day == "" {
			day = time.Now().Format("2006-01-02")
		}
		list, err := deps.Store.ListInboxArtifacts(day)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to list inbox: %v", err)), nil
		}
		views := make([]artifactView, len(list))
		for i, a := range list {
			views[i] = viewArtifact(a)
		}
		return mcpJSON(views)
	}
}

func mcpReviewArtifact(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}
		decision, err := req.RequireString("decision")
		if err != nil {
			return mcpError("decision is required"), nil
		}

		var changed bool
		var outcome string
		switch decision {
		case "approve":
			changed, err = deps.Store.ApproveArtifact(id)
			outcome = "approved"
		case "reject":
			changed, err = deps.Store.RejectArtifact(id)
			outcome = "rejected"
		default:
			return mcpError("decision must be approve or reject"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("failed to review artifact: %v", err)), nil
		}
		if !changed {
			return mcpText(fmt.Sprintf("Artifact %s was not proposed; nothing changed", id)), nil
		}
		return mcpText(fmt.Sprintf("Artifact %s %s", id, outcome)), nil
	}
}

func mcpAddDocument(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		in := IngestRequest{
			Title:   req.GetString("title", ""),
			Content: req.GetString("content", ""),
			URL:     req.GetString("url", ""),
			Source:  "mcp",
			Tags:    req.GetStringSlice("tags", nil),
		}
		if strings.TrimSpace(in.Content) == "" && in.URL == "" {
			return mcpError("content or url is required"), nil
		}
		if in.URL != "" {
			in.Source = in.URL
		}

		resp, err := ingestDocument(ctx, deps, in)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to store document: %v", err)), nil
		}
		if !resp.Created {
			return mcpText(fmt.Sprintf("Document already stored as %s", resp.ID)), nil
		}
		return mcpText(fmt.Sprintf("Stored document %s", resp.ID)), nil
	}
}

func mcpResourceInbox(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		list, err := deps.Store.ListInboxArtifacts(time.Now().Format("2006-01-02"))
		if err != nil {
			return nil, fmt.Errorf("failed to list inbox: %w", err)
		}
		views := make([]artifactView, len(list))
		for i, a := range list {
			views[i] = viewArtifact(a)
		}
		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal inbox: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpResourceLatestReport(deps Deps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		reports, err := deps.Store.ListReports("", 1)
		if err != nil {
			return nil, fmt.Errorf("failed to get latest report: %w", err)
		}
		text := "No reports yet."
		if len(reports) > 0 {
			text = reports[0].Content
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "text/markdown",
				Text:     text,
			},
		}, nil
	}
}

func mcpJSON(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
