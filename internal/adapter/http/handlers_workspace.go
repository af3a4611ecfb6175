package http

import (
	"net/http"

	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	"github.com/Strob0t/QueryForge/internal/service"
)

// addDatabaseRequest is the body of POST /workspaces/{workspaceID}/databases.
type addDatabaseRequest struct {
	Type          agent.BackendType `json:"type"`
	Name          string            `json:"name"`
	ConnectionURI string            `json:"connection_uri,omitempty"`
	ProjectID     string            `json:"project_id,omitempty"`
	Location      string            `json:"location,omitempty"`
}

// ListDatabases handles GET /api/v1/workspaces/{workspaceID}/databases
func (h *Handlers) ListDatabases(w http.ResponseWriter, r *http.Request) {
	wsID := urlParam(r, "workspaceID")
	if err := service.ValidateWorkspaceID(wsID); err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	dbs, err := h.Workspaces.ListDatabases(r.Context(), wsID)
	if err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	if dbs == nil {
		dbs = []datasource.Database{}
	}
	writeJSON(w, http.StatusOK, dbs)
}

// AddDatabase handles POST /api/v1/workspaces/{workspaceID}/databases
func (h *Handlers) AddDatabase(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[addDatabaseRequest](w, r, h.bodyLimit())
	if !ok {
		return
	}
	db := &datasource.Database{
		WorkspaceID:   urlParam(r, "workspaceID"),
		Type:          req.Type,
		Name:          req.Name,
		ConnectionURI: req.ConnectionURI,
		ProjectID:     req.ProjectID,
		Location:      req.Location,
	}
	if err := h.Workspaces.AddDatabase(r.Context(), db); err != nil {
		writeDomainError(w, err, "workspace not found")
		return
	}
	writeJSON(w, http.StatusCreated, db)
}
