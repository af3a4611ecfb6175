package http

import (
	"net/http"

	"github.com/Strob0t/QueryForge/internal/domain/conversation"
	"github.com/Strob0t/QueryForge/internal/middleware"
)

// ListSessions handles GET /api/v1/workspaces/{workspaceID}/sessions
func (h *Handlers) ListSessions(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	sessions, err := h.Conversations.ListSessions(r.Context(), urlParam(r, "workspaceID"), userID)
	if err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	if sessions == nil {
		sessions = []conversation.Summary{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

// GetSession handles GET /api/v1/sessions/{id}
func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	sess, err := h.Conversations.GetSession(r.Context(), urlParam(r, "id"), userID)
	if err != nil {
		writeDomainError(w, err, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}
