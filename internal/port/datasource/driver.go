// Package datasource defines the port to the database backends that the
// query and schema tools talk to.
package datasource

import (
	"context"

	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
)

// Driver talks to one backend type. Containers are MongoDB databases or
// BigQuery datasets; collections are MongoDB collections or BigQuery tables.
type Driver interface {
	Type() agent.BackendType

	ListContainers(ctx context.Context, db *datasource.Database) ([]string, error)
	ListCollections(ctx context.Context, db *datasource.Database, container string) ([]string, error)
	Inspect(ctx context.Context, db *datasource.Database, container, collection string) (*datasource.Schema, error)
	Query(ctx context.Context, db *datasource.Database, q datasource.Query) (*datasource.QueryResult, error)
}
