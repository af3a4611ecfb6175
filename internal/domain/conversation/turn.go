package conversation

import (
	"fmt"
	"strings"

	"github.com/Strob0t/QueryForge/internal/domain"
)

// TurnRequest is one user turn submitted by a client.
type TurnRequest struct {
	Message     string    `json:"message"`
	SessionID   string    `json:"sessionId,omitempty"`
	WorkspaceID string    `json:"workspaceId"`
	Consoles    []Console `json:"consoles,omitempty"`
	ConsoleID   string    `json:"consoleId,omitempty"`
	UserID      string    `json:"-"` // set from the authenticated identity
}

// Normalize trims the message and checks the request shape. Workspace id
// format is checked by the caller that owns id parsing.
func (r *TurnRequest) Normalize() error {
	if r.UserID == "" {
		return fmt.Errorf("turn: %w", domain.ErrUnauthenticated)
	}
	r.Message = strings.TrimSpace(r.Message)
	if r.Message == "" {
		return fmt.Errorf("%w: message is required", domain.ErrValidation)
	}
	if strings.TrimSpace(r.WorkspaceID) == "" {
		return fmt.Errorf("%w: workspaceId is required", domain.ErrValidation)
	}
	return nil
}

// ConsoleMetadata returns the metadata of every attached console.
func (r *TurnRequest) ConsoleMetadata() []map[string]any {
	out := make([]map[string]any, len(r.Consoles))
	for i := range r.Consoles {
		out[i] = r.Consoles[i].Metadata
	}
	return out
}
