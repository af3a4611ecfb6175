package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// registerTools registers the shared catalogue plus the workspace lookup tool.
func (s *Server) registerTools() {
	s.mcpServer.AddTools(s.deps.Tools...)
	s.mcpServer.AddTools(s.currentWorkspaceTool())
}

func (s *Server) currentWorkspaceTool() mcpserver.ServerTool {
	tool := mcplib.NewTool("current_workspace",
		mcplib.WithDescription("Return the workspace this MCP session is bound to"),
		mcplib.WithReadOnlyHintAnnotation(true),
	)
	return mcpserver.ServerTool{
		Tool:    tool,
		Handler: s.handleCurrentWorkspace,
	}
}

func (s *Server) handleCurrentWorkspace(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	ws := WorkspaceFromContext(ctx)
	if ws == "" {
		return mcplib.NewToolResultError("no workspace bound; send the " + HeaderWorkspaceID + " header"), nil
	}
	return mcplib.NewToolResultText(ws), nil
}
