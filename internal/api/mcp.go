package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/orca/internal/memory"
	"github.com/kalambet/orca/internal/orchestrator"
)

const (
	defaultRecallLimit = 10
	maxRecallLimit     = 50
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Processor Processor
	Memory    KnowledgeBase
	Version   string
}

// NewMCPServer creates an MCP server exposing request processing and the
// knowledge tier.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"orca",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("orca routes natural-language requests to local workers (files, documents, data, email, calendar, knowledge) and keeps a long-term knowledge store."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("process_request",
			mcp.WithDescription("Classify a natural-language request, dispatch it to the matching workers and return the response envelope."),
			mcp.WithString("input", mcp.Description("The request text"), mcp.Required()),
		),
		mcpProcessRequest(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Search long-term knowledge by keyword over keys and values."),
			mcp.WithString("query", mcp.Description("Keyword; empty lists everything")),
			mcp.WithString("category", mcp.Description("Restrict to one category")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of entries (default 10)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("remember",
			mcp.WithDescription("Store a value under category/key in long-term knowledge. JSON values are stored structured, anything else as a string."),
			mcp.WithString("category", mcp.Description("Knowledge category"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Key within the category"), mcp.Required()),
			mcp.WithString("value", mcp.Description("Value to store"), mcp.Required()),
		),
		mcpRemember(deps),
	)

	s.AddTool(
		mcp.NewTool("forget",
			mcp.WithDescription("Delete category/key from long-term knowledge."),
			mcp.WithString("category", mcp.Description("Knowledge category"), mcp.Required()),
			mcp.WithString("key", mcp.Description("Key within the category"), mcp.Required()),
		),
		mcpForget(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"orca://stats",
			"Memory Stats",
			mcp.WithResourceDescription("Counts for the conversational, knowledge and working tiers"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJSON(func() any { return deps.Processor.Stats() }),
	)

	s.AddResource(
		mcp.NewResource(
			"orca://workers",
			"Workers",
			mcp.WithResourceDescription("Registered workers and the operation kinds they accept"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceJSON(func() any { return deps.Processor.Workers() }),
	)

	return s
}

func mcpProcessRequest(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		input, err := req.RequireString("input")
		if err != nil || input == "" {
			return mcpError("input is required"), nil
		}

		resp := deps.Processor.ProcessRequest(ctx, input)
		b, err := json.Marshal(resp)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal response: %v", err)), nil
		}
		if resp.Status != orchestrator.StatusSuccess {
			return mcpError(string(b)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query := req.GetString("query", "")
		category := req.GetString("category", "")

		limit := req.GetInt("limit", defaultRecallLimit)
		if limit <= 0 {
			limit = defaultRecallLimit
		}
		if limit > maxRecallLimit {
			limit = maxRecallLimit
		}

		entries := deps.Memory.SearchKnowledge(query, category)
		if len(entries) > limit {
			entries = entries[:limit]
		}
		if len(entries) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(entries)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRemember(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category, err := req.RequireString("category")
		if err != nil || category == "" {
			return mcpError("category is required"), nil
		}
		key, err := req.RequireString("key")
		if err != nil || key == "" {
			return mcpError("key is required"), nil
		}
		raw, err := req.RequireString("value")
		if err != nil {
			return mcpError("value is required"), nil
		}

		var value any
		if json.Unmarshal([]byte(raw), &value) != nil {
			value = raw
		}

		if err := deps.Memory.SaveKnowledge(category, key, value); err != nil {
			var perr *memory.PersistenceError
			if errors.As(err, &perr) {
				return mcpText(fmt.Sprintf("Stored %s/%s for this session only: %v", category, key, err)), nil
			}
			return mcpError(fmt.Sprintf("failed to store: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored %s/%s", category, key)), nil
	}
}

func mcpForget(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category, err := req.RequireString("category")
		if err != nil || category == "" {
			return mcpError("category is required"), nil
		}
		key, err := req.RequireString("key")
		if err != nil || key == "" {
			return mcpError("key is required"), nil
		}

		if _, ok := deps.Memory.GetKnowledge(category, key); !ok {
			return mcpError(fmt.Sprintf("%s/%s not found", category, key)), nil
		}
		if err := deps.Memory.DeleteKnowledge(category, key); err != nil {
			var perr *memory.PersistenceError
			if !errors.As(err, &perr) {
				return mcpError(fmt.Sprintf("failed to delete: %v", err)), nil
			}
		}
		return mcpText(fmt.Sprintf("Deleted %s/%s", category, key)), nil
	}
}

func mcpResourceJSON(load func() any) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		b, err := json.Marshal(load())
		if err != nil {
			return nil, fmt.Errorf("marshalling %s: %w", req.Params.URI, err)
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
