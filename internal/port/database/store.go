// Package database defines the database store port (interface).
package database

import (
	"context"

	"github.com/Strob0t/QueryForge/internal/domain/conversation"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
)

// Store is the port interface for database operations.
type Store interface {
	SessionStore
	DatabaseCatalog
}

// SessionStore persists chat sessions.
type SessionStore interface {
	// GetSession returns the session owned by userID. Returns domain.ErrNotFound
	// when it does not exist or belongs to someone else.
	GetSession(ctx context.Context, id, userID string) (*conversation.Session, error)

	// CreateSession inserts s and fills in its ID and timestamps.
	CreateSession(ctx context.Context, s *conversation.Session) error

	// SaveTurn appends the turn's messages and writes the pins in one statement.
	// The thread id is only written when the session has none.
	SaveTurn(ctx context.Context, u conversation.TurnUpdate) (*conversation.Session, error)

	// UpdateTitle stores a generated title and marks the session as titled.
	UpdateTitle(ctx context.Context, id, title string) error

	// ListSessions returns the caller's sessions in a workspace, newest first.
	ListSessions(ctx context.Context, workspaceID, userID string) ([]conversation.Summary, error)
}

// DatabaseCatalog records the databases connected to a workspace.
type DatabaseCatalog interface {
	ListWorkspaceDatabases(ctx context.Context, workspaceID string) ([]datasource.Database, error)
	// GetWorkspaceDatabase returns domain.ErrNotFound when id is not in the workspace.
	GetWorkspaceDatabase(ctx context.Context, workspaceID, id string) (*datasource.Database, error)
	// CreateWorkspaceDatabase inserts db and fills in its ID and CreatedAt.
	CreateWorkspaceDatabase(ctx context.Context, db *datasource.Database) error
}
