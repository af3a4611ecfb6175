// Package datasource defines the databases a workspace connects and the
// shapes returned by schema inspection and query execution.
package datasource

import (
	"fmt"
	"time"

	"github.com/Strob0t/QueryForge/internal/domain/agent"
)

// Database is a backend connection registered in a workspace.
type Database struct {
	ID            string            `json:"id"`
	WorkspaceID   string            `json:"workspace_id"`
	Type          agent.BackendType `json:"type"`
	Name          string            `json:"name"`
	ConnectionURI string            `json:"-"` // mongodb connection string
	ProjectID     string            `json:"project_id,omitempty"`
	Location      string            `json:"location,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// Field is one column or document field with its inferred type.
type Field struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable,omitempty"`
}

// Schema describes a collection or table.
type Schema struct {
	Container  string  `json:"container"`
	Collection string  `json:"collection"`
	Fields     []Field `json:"fields"`
	RowCount   int64   `json:"row_count,omitempty"`
}

// Query is a read request against one backend. For MongoDB, Statement is a
// JSON filter (Operation "find") or pipeline (Operation "aggregate"); for
// BigQuery it is standard SQL.
type Query struct {
	Container  string `json:"container,omitempty"`
	Collection string `json:"collection,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Statement  string `json:"statement"`
	Limit      int    `json:"limit"`
}

// QueryResult holds row-capped query output.
type QueryResult struct {
	Columns   []string         `json:"columns,omitempty"`
	Rows      []map[string]any `json:"rows"`
	Truncated bool             `json:"truncated"`
}

// Availability summarises which backend types are present in dbs.
func Availability(dbs []Database) agent.Availability {
	var a agent.Availability
	for i := range dbs {
		switch dbs[i].Type {
		case agent.BackendMongo:
			a.Mongo = true
		case agent.BackendBigQuery:
			a.BigQuery = true
		}
	}
	return a
}

// Validate checks a database registration.
func (d *Database) Validate() error {
	if d.WorkspaceID == "" {
		return fmt.Errorf("workspace_id is required")
	}
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch d.Type {
	case agent.BackendMongo:
		if d.ConnectionURI == "" {
			return fmt.Errorf("connection_uri is required for mongodb")
		}
	case agent.BackendBigQuery:
		if d.ProjectID == "" {
			return fmt.Errorf("project_id is required for bigquery")
		}
	default:
		return fmt.Errorf("unknown database type %q", d.Type)
	}
	return nil
}

// Validate checks a query before it is sent to a backend.
func (q *Query) Validate() error {
	if q.Statement == "" {
		return fmt.Errorf("statement is required")
	}
	if q.Limit < 0 {
		return fmt.Errorf("limit must be >= 0")
	}
	return nil
}
