// Package mcp exposes the workspace query tools over the Model Context
// Protocol, so external MCP clients can use the same catalogue as the chat
// agents.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/QueryForge/internal/domain/datasource"
)

// ServerConfig holds the MCP server settings.
type ServerConfig struct {
	Addr    string // standalone listen address; empty serves only through Handler
	Name    string
	Version string
}

// DatabaseLister lists the databases of a workspace.
type DatabaseLister interface {
	ListDatabases(ctx context.Context, workspaceID string) ([]datasource.Database, error)
}

// ServerDeps are the collaborators the server exposes.
type ServerDeps struct {
	Tools     []mcpserver.ServerTool
	Databases DatabaseLister
	// Bind attaches the workspace to ctx in the form the tool handlers read.
	Bind func(ctx context.Context, workspaceID string) context.Context
}

// Server wraps an MCP server with a streamable HTTP transport.
type Server struct {
	cfg       ServerConfig
	deps      ServerDeps
	mcpServer *mcpserver.MCPServer
	transport *mcpserver.StreamableHTTPServer
	httpSrv   *http.Server
}

// NewServer creates the MCP server and registers tools and resources.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{
		cfg:  cfg,
		deps: deps,
		mcpServer: mcpserver.NewMCPServer(cfg.Name, cfg.Version,
			mcpserver.WithToolCapabilities(false),
			mcpserver.WithResourceCapabilities(false, false),
			mcpserver.WithRecovery(),
		),
	}
	s.registerTools()
	s.registerResources()
	s.transport = mcpserver.NewStreamableHTTPServer(s.mcpServer,
		mcpserver.WithHTTPContextFunc(s.contextFromRequest),
		mcpserver.WithStateLess(true),
	)
	return s
}

// MCPServer returns the underlying server, mainly for tests.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the streamable HTTP endpoint. Requests must name their
// workspace in the X-Workspace-ID header.
func (s *Server) Handler() http.Handler {
	return RequireWorkspace(s.transport)
}

// Start listens on cfg.Addr in the background. It is a no-op without an
// address.
func (s *Server) Start() error {
	if s.cfg.Addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/mcp", s.Handler())
	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("mcp server listening", "addr", s.cfg.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts the standalone listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("mcp server shutdown: %w", err)
	}
	slog.Info("mcp server stopped")
	return nil
}

func (s *Server) contextFromRequest(ctx context.Context, r *http.Request) context.Context {
	ws := r.Header.Get(HeaderWorkspaceID)
	if ws == "" {
		return ctx
	}
	ctx = withWorkspace(ctx, ws)
	if s.deps.Bind != nil {
		ctx = s.deps.Bind(ctx, ws)
	}
	return ctx
}
