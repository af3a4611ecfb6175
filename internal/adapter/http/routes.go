package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. The
// middleware stack (identity, rate limiting) is applied to the chat group.
func MountRoutes(r chi.Router, h *Handlers, chatMiddleware ...func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chatMiddleware...)

		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Chat turns
		turns := r
		if h.TurnLimit != nil {
			turns = r.With(h.TurnLimit)
		}
		turns.Post("/chat/stream", h.StreamChat)
		if h.ChatSocket != nil {
			r.Get("/chat/ws", h.ChatSocket)
		}

		// Sessions
		r.Get("/workspaces/{workspaceID}/sessions", h.ListSessions)
		r.Get("/sessions/{id}", h.GetSession)

		// Workspace databases
		r.Get("/workspaces/{workspaceID}/databases", h.ListDatabases)
		r.Post("/workspaces/{workspaceID}/databases", h.AddDatabase)
	})
}
