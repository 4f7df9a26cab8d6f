package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// MCPRetriever abstracts index search for the MCP layer.
type MCPRetriever interface {
	Retrieve(ctx context.Context, query string, k int) (text string, ok bool, err error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Chat      ChatService
	Ingester  Ingester
	Retriever MCPRetriever
}

// NewMCPServer creates an MCP server exposing the tutor over the Model
// Context Protocol: asking questions, feeding the index, and managing a
// session's history.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"tutord",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("tutord — coding tutor with retrieval over ingested course material."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask the coding tutor a question. Conversation history is kept per session."),
			mcp.WithString("question", mcp.Description("The question to ask"), mcp.Required()),
			mcp.WithString("session", mcp.Description("Session identifier (default \"mcp\")")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("ingest_text",
			mcp.WithDescription("Add text to the document index so future answers can draw on it."),
			mcp.WithString("content", mcp.Description("The text content to index"), mcp.Required()),
		),
		mcpIngestText(deps),
	)

	s.AddTool(
		mcp.NewTool("search_docs",
			mcp.WithDescription("Search the document index and return the most relevant chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of chunks (default 3)")),
		),
		mcpSearchDocs(deps),
	)

	s.AddTool(
		mcp.NewTool("get_history",
			mcp.WithDescription("Return the conversation history for a session."),
			mcp.WithString("session", mcp.Description("Session identifier (default \"mcp\")")),
		),
		mcpGetHistory(deps),
	)

	s.AddTool(
		mcp.NewTool("clear_session",
			mcp.WithDescription("Clear the conversation history for a session."),
			mcp.WithString("session", mcp.Description("Session identifier (default \"mcp\")")),
		),
		mcpClearSession(deps),
	)

	return s
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}
		sid := req.GetString("session", "mcp")

		reply, err := deps.Chat.HandleUtterance(ctx, sid, question, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}
		return mcpText(reply), nil
	}
}

func mcpIngestText(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := req.RequireString("content")
		if err != nil {
			return mcpError("content is required"), nil
		}

		if err := deps.Ingester.Ingest(ctx, content); err != nil {
			return mcpError(fmt.Sprintf("indexing failed: %v", err)), nil
		}
		return mcpText("Content indexed."), nil
	}
}

func mcpSearchDocs(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", 3)
		if limit <= 0 {
			limit = 3
		}
		if limit > 50 {
			limit = 50
		}

		text, ok, err := deps.Retriever.Retrieve(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}
		if !ok {
			return mcpText("The index is empty — nothing has been ingested yet."), nil
		}
		return mcpText(text), nil
	}
}

func mcpGetHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sid := req.GetString("session", "mcp")

		type entry struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}
		turns := deps.Chat.GetHistory(sid)
		history := make([]entry, len(turns))
		for i, t := range turns {
			history[i] = entry{Role: string(t.Role), Content: t.Text}
		}

		b, err := json.Marshal(history)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal history: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpClearSession(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sid := req.GetString("session", "mcp")
		deps.Chat.ClearSession(sid)
		return mcpText(fmt.Sprintf("Session %q cleared.", sid)), nil
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
