package mcp

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

// HeaderWorkspaceID names the workspace an MCP session operates in.
const HeaderWorkspaceID = "X-Workspace-ID"

type workspaceCtxKey struct{}

func withWorkspace(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workspaceCtxKey{}, id)
}

// WorkspaceFromContext returns the workspace bound by the transport.
func WorkspaceFromContext(ctx context.Context) string {
	id, _ := ctx.Value(workspaceCtxKey{}).(string)
	return id
}

// RequireWorkspace rejects requests without a valid workspace header.
func RequireWorkspace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws := r.Header.Get(HeaderWorkspaceID)
		if ws == "" {
			http.Error(w, "missing "+HeaderWorkspaceID+" header", http.StatusBadRequest)
			return
		}
		if _, err := uuid.Parse(ws); err != nil {
			http.Error(w, "invalid "+HeaderWorkspaceID+" header", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}
