package postgres

import (
	"context"
	"fmt"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
)

const databaseColumns = `id, workspace_id, type, name, connection_uri, project_id, location, created_at`

func scanDatabase(row scannable) (*datasource.Database, error) {
	var (
		db  datasource.Database
		typ string
	)
	if err := row.Scan(&db.ID, &db.WorkspaceID, &typ, &db.Name, &db.ConnectionURI,
		&db.ProjectID, &db.Location, &db.CreatedAt); err != nil {
		return nil, err
	}
	db.Type = agent.BackendType(typ)
	return &db, nil
}

func (s *Store) ListWorkspaceDatabases(ctx context.Context, workspaceID string) ([]datasource.Database, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+databaseColumns+` FROM workspace_databases WHERE workspace_id = $1 ORDER BY name`,
		workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list workspace databases: %w", err)
	}
	defer rows.Close()

	var result []datasource.Database
	for rows.Next() {
		db, err := scanDatabase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workspace database: %w", err)
		}
		result = append(result, *db)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list workspace databases: %w", err)
	}
	return orEmpty(result), nil
}

func (s *Store) GetWorkspaceDatabase(ctx context.Context, workspaceID, id string) (*datasource.Database, error) {
	db, err := scanDatabase(s.pool.QueryRow(ctx,
		`SELECT `+databaseColumns+` FROM workspace_databases WHERE workspace_id = $1 AND id = $2`,
		workspaceID, id))
	if err != nil {
		if isInvalidText(err) {
			return nil, fmt.Errorf("get workspace database %s: %w", id, domain.ErrNotFound)
		}
		return nil, notFoundWrap(err, "get workspace database %s", id)
	}
	return db, nil
}

// CreateWorkspaceDatabase registers a database in a workspace.
func (s *Store) CreateWorkspaceDatabase(ctx context.Context, db *datasource.Database) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO workspace_databases (workspace_id, type, name, connection_uri, project_id, location)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at`,
		db.WorkspaceID, string(db.Type), db.Name, db.ConnectionURI, db.ProjectID, db.Location,
	).Scan(&db.ID, &db.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("create workspace database %s: %w", db.Name, domain.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("create workspace database %s: %w", db.Name, err)
	}
	return nil
}
