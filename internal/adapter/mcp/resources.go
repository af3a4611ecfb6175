package mcp

import (
	"context"
	"encoding/json"
	"errors"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const databasesURI = "queryforge://workspace/databases"

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			databasesURI,
			"Workspace Databases",
			mcplib.WithResourceDescription("Databases connected to the bound workspace"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleDatabasesResource,
	)
}

func (s *Server) handleDatabasesResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	if s.deps.Databases == nil {
		return []mcplib.ResourceContents{
			mcplib.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     `{"error":"database catalog not configured"}`,
			},
		}, nil
	}
	ws := WorkspaceFromContext(ctx)
	if ws == "" {
		return nil, errors.New("no workspace bound")
	}
	dbs, err := s.deps.Databases.ListDatabases(ctx, ws)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(dbs)
	if err != nil {
		return nil, err
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
