package service

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	portds "github.com/Strob0t/QueryForge/internal/port/datasource"
)

type mongoTarget struct {
	DatabaseID string `json:"database_id"`
	Database   string `json:"database,omitempty"`
}

type mongoCollectionArgs struct {
	mongoTarget
	Collection string `json:"collection"`
}

type mongoQueryArgs struct {
	mongoTarget
	Collection string  `json:"collection"`
	Operation  string  `json:"operation,omitempty"`
	Query      string  `json:"query"`
	Limit      float64 `json:"limit,omitempty"`
}

type bqTarget struct {
	DatabaseID string `json:"database_id"`
}

type bqTablesArgs struct {
	bqTarget
	Dataset string `json:"dataset"`
}

type bqTableArgs struct {
	bqTarget
	Dataset string `json:"dataset"`
	Table   string `json:"table"`
}

type bqQueryArgs struct {
	bqTarget
	SQL   string  `json:"sql"`
	Limit float64 `json:"limit,omitempty"`
}

func databaseIDParam() mcplib.ToolOption {
	return mcplib.WithString("database_id", mcplib.Required(), mcplib.Description("Workspace database id from list_databases"))
}

func limitParam() mcplib.ToolOption {
	return mcplib.WithNumber("limit", mcplib.Description("Maximum rows to return"), mcplib.Min(1))
}

func (t *Toolset) registerMongoTools() {
	mongoDB := mcplib.WithString("database", mcplib.Description("MongoDB database name; defaults to the connection's database"))

	t.add(&toolEntry{backend: agent.BackendMongo, discovery: true, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("mongo_list_collections",
			mcplib.WithDescription("List the collections of a MongoDB database"),
			databaseIDParam(), mongoDB,
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		Handler: t.handleMongoListCollections,
	}})

	t.add(&toolEntry{backend: agent.BackendMongo, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("mongo_inspect_collection",
			mcplib.WithDescription("Sample documents of a collection and report the inferred field types"),
			databaseIDParam(), mongoDB,
			mcplib.WithString("collection", mcplib.Required(), mcplib.Description("Collection name")),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		Handler: t.handleMongoInspect,
	}})

	t.add(&toolEntry{backend: agent.BackendMongo, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("mongo_run_query",
			mcplib.WithDescription("Run a read-only find or aggregate against a collection"),
			databaseIDParam(), mongoDB,
			mcplib.WithString("collection", mcplib.Required(), mcplib.Description("Collection name")),
			mcplib.WithString("operation", mcplib.Description("find (default) or aggregate"), mcplib.Enum("find", "aggregate")),
			mcplib.WithString("query", mcplib.Required(), mcplib.Description("Extended JSON filter for find, or pipeline array for aggregate")),
			limitParam(),
		),
		Handler: t.handleMongoQuery,
	}})
}

func (t *Toolset) registerBigQueryTools() {
	t.add(&toolEntry{backend: agent.BackendBigQuery, discovery: true, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("bq_list_datasets",
			mcplib.WithDescription("List the datasets of a BigQuery project"),
			databaseIDParam(),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		Handler: t.handleBQListDatasets,
	}})

	t.add(&toolEntry{backend: agent.BackendBigQuery, discovery: true, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("bq_list_tables",
			mcplib.WithDescription("List the tables of a BigQuery dataset"),
			databaseIDParam(),
			mcplib.WithString("dataset", mcplib.Required(), mcplib.Description("Dataset id")),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		Handler: t.handleBQListTables,
	}})

	t.add(&toolEntry{backend: agent.BackendBigQuery, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("bq_inspect_table",
			mcplib.WithDescription("Return the schema of a BigQuery table"),
			databaseIDParam(),
			mcplib.WithString("dataset", mcplib.Required(), mcplib.Description("Dataset id")),
			mcplib.WithString("table", mcplib.Required(), mcplib.Description("Table id")),
			mcplib.WithReadOnlyHintAnnotation(true),
		),
		Handler: t.handleBQInspect,
	}})

	t.add(&toolEntry{backend: agent.BackendBigQuery, server: mcpserver.ServerTool{
		Tool: mcplib.NewTool("bq_run_query",
			mcplib.WithDescription("Run a standard SQL SELECT statement"),
			databaseIDParam(),
			mcplib.WithString("sql", mcplib.Required(), mcplib.Description("Standard SQL statement")),
			limitParam(),
		),
		Handler: t.handleBQQuery,
	}})
}

// resolve looks up a workspace database of the wanted backend and its driver.
func (t *Toolset) resolve(ctx context.Context, id string, want agent.BackendType) (*datasource.Database, portds.Driver, error) {
	b, ok := toolBindingFrom(ctx)
	if !ok {
		return nil, nil, fmt.Errorf("no workspace bound to this call: %w", domain.ErrValidation)
	}
	db, err := t.catalog.GetWorkspaceDatabase(ctx, b.WorkspaceID, id)
	if err != nil {
		return nil, nil, fmt.Errorf("database %s: %w", id, err)
	}
	if db.Type != want {
		return nil, nil, fmt.Errorf("%w: database %s is %s, not %s", domain.ErrValidation, id, db.Type, want)
	}
	drv, ok := t.drivers[want]
	if !ok {
		return nil, nil, fmt.Errorf("no %s driver configured", want)
	}
	return db, drv, nil
}

// runQuery caps the row limit and bounds concurrent backend work.
func (t *Toolset) runQuery(ctx context.Context, drv portds.Driver, db *datasource.Database, q datasource.Query) (*datasource.QueryResult, error) {
	if q.Limit <= 0 || q.Limit > t.rowLimit {
		q.Limit = t.rowLimit
	}
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrValidation, err)
	}
	if err := t.queries.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer t.queries.Release(1)
	return drv.Query(ctx, db, q)
}

func containerOr(name, fallback string) string {
	if name != "" {
		return name
	}
	return fallback
}

func (t *Toolset) handleMongoListCollections(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args, err := bindArgs[mongoTarget](req)
	if err != nil {
		return toolFailure("list collections", err), nil
	}
	db, drv, err := t.resolve(ctx, args.DatabaseID, agent.BackendMongo)
	if err != nil {
		return toolFailure("list collections", err), nil
	}
	names, err := drv.ListCollections(ctx, db, containerOr(args.Database, db.Name))
	if err != nil {
		return toolFailure("list collections", err), nil
	}
	return jsonResult(names)
}

func (t *Toolset) handleMongoInspect(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args, err := bindArgs[mongoCollectionArgs](req)
	if err != nil {
		return toolFailure("inspect collection", err), nil
	}
	db, drv, err := t.resolve(ctx, args.DatabaseID, agent.BackendMongo)
	if err != nil {
		return toolFailure("inspect collection", err), nil
	}
	schema, err := drv.Inspect(ctx, db, containerOr(args.Database, db.Name), args.Collection)
	if err != nil {
		return toolFailure("inspect collection", err), nil
	}
	return jsonResult(schema)
}

func (t *Toolset) handleMongoQuery(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args, err := bindArgs[mongoQueryArgs](req)
	if err != nil {
		return toolFailure("run query", err), nil
	}
	db, drv, err := t.resolve(ctx, args.DatabaseID, agent.BackendMongo)
	if err != nil {
		return toolFailure("run query", err), nil
	}
	res, err := t.runQuery(ctx, drv, db, datasource.Query{
		Container:  containerOr(args.Database, db.Name),
		Collection: args.Collection,
		Operation:  containerOr(args.Operation, "find"),
		Statement:  args.Query,
		Limit:      int(args.Limit),
	})
	if err != nil {
		return toolFailure("run query", err), nil
	}
	return jsonResult(res)
}

func (t *Toolset) handleBQListDatasets(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args, err := bindArgs[bqTarget](req)
	if err != nil {
		return toolFailure("list datasets", err), nil
	}
	db, drv, err := t.resolve(ctx, args.DatabaseID, agent.BackendBigQuery)
	if err != nil {
		return toolFailure("list datasets", err), nil
	}
	names, err := drv.ListContainers(ctx, db)
	if err != nil {
		return toolFailure("list datasets", err), nil
	}
	return jsonResult(names)
}

func (t *Toolset) handleBQListTables(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args, err := bindArgs[bqTablesArgs](req)
	if err != nil {
		return toolFailure("list tables", err), nil
	}
	db, drv, err := t.resolve(ctx, args.DatabaseID, agent.BackendBigQuery)
	if err != nil {
		return toolFailure("list tables", err), nil
	}
	names, err := drv.ListCollections(ctx, db, args.Dataset)
	if err != nil {
		return toolFailure("list tables", err), nil
	}
	return jsonResult(names)
}

func (t *Toolset) handleBQInspect(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args, err := bindArgs[bqTableArgs](req)
	if err != nil {
		return toolFailure("inspect table", err), nil
	}
	db, drv, err := t.resolve(ctx, args.DatabaseID, agent.BackendBigQuery)
	if err != nil {
		return toolFailure("inspect table", err), nil
	}
	schema, err := drv.Inspect(ctx, db, args.Dataset, args.Table)
	if err != nil {
		return toolFailure("inspect table", err), nil
	}
	return jsonResult(schema)
}

func (t *Toolset) handleBQQuery(ctx context.Context, req mcplib.CallToolRequest) (*mcplib.CallToolResult, error) { //nolint:gocritic // hugeParam: mcp-go handler signature
	args, err := bindArgs[bqQueryArgs](req)
	if err != nil {
		return toolFailure("run query", err), nil
	}
	db, drv, err := t.resolve(ctx, args.DatabaseID, agent.BackendBigQuery)
	if err != nil {
		return toolFailure("run query", err), nil
	}
	res, err := t.runQuery(ctx, drv, db, datasource.Query{Statement: args.SQL, Limit: int(args.Limit)})
	if err != nil {
		return toolFailure("run query", err), nil
	}
	return jsonResult(res)
}
