// Package mongo implements the datasource driver for MongoDB workspaces.
package mongo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	portds "github.com/Strob0t/QueryForge/internal/port/datasource"
)

var _ portds.Driver = (*Driver)(nil)

// writeStages are aggregation stages that write and are never run.
var writeStages = []string{"$out", "$merge"}

// Driver runs read-only MongoDB operations. One client is kept per
// registered database and reused across turns.
type Driver struct {
	timeout    time.Duration
	sampleSize int

	mu      sync.Mutex
	clients map[string]*mongo.Client
}

// NewDriver creates a Driver. sampleSize is the number of documents read
// to infer a collection's fields.
func NewDriver(timeout time.Duration, sampleSize int) *Driver {
	if sampleSize < 1 {
		sampleSize = 20
	}
	return &Driver{timeout: timeout, sampleSize: sampleSize, clients: make(map[string]*mongo.Client)}
}

// Type implements datasource.Driver.
func (d *Driver) Type() agent.BackendType { return agent.BackendMongo }

func (d *Driver) client(ctx context.Context, db *datasource.Database) (*mongo.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[db.ID]; ok {
		return c, nil
	}
	if db.ConnectionURI == "" {
		return nil, fmt.Errorf("%w: database %s has no connection uri", domain.ErrValidation, db.ID)
	}

	opts := options.Client().
		ApplyURI(db.ConnectionURI).
		SetAppName("queryforge").
		SetReadPreference(readpref.SecondaryPreferred()).
		SetTimeout(d.timeout)
	c, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect %s: %w", db.ID, err)
	}
	d.clients[db.ID] = c
	slog.Info("mongo client connected", "database_id", db.ID)
	return c, nil
}

// ListContainers returns the database names visible to the connection.
func (d *Driver) ListContainers(ctx context.Context, db *datasource.Database) ([]string, error) {
	c, err := d.client(ctx, db)
	if err != nil {
		return nil, err
	}
	names, err := c.ListDatabaseNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongo list databases: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// ListCollections returns the collection names of one database.
func (d *Driver) ListCollections(ctx context.Context, db *datasource.Database, container string) ([]string, error) {
	c, err := d.client(ctx, db)
	if err != nil {
		return nil, err
	}
	names, err := c.Database(container).ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("mongo list collections %s: %w", container, err)
	}
	sort.Strings(names)
	return names, nil
}

// Inspect samples documents and reports the union of their top-level fields.
func (d *Driver) Inspect(ctx context.Context, db *datasource.Database, container, collection string) (*datasource.Schema, error) {
	c, err := d.client(ctx, db)
	if err != nil {
		return nil, err
	}
	coll := c.Database(container).Collection(collection)

	cur, err := coll.Aggregate(ctx, mongo.Pipeline{{{Key: "$sample", Value: bson.D{{Key: "size", Value: d.sampleSize}}}}})
	if err != nil {
		return nil, fmt.Errorf("mongo sample %s.%s: %w", container, collection, err)
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongo sample %s.%s: %w", container, collection, err)
	}

	count, err := coll.EstimatedDocumentCount(ctx)
	if err != nil {
		slog.Debug("mongo count failed", "collection", collection, "error", err)
	}
	return &datasource.Schema{
		Container:  container,
		Collection: collection,
		Fields:     inferFields(docs),
		RowCount:   count,
	}, nil
}

// Query runs a find or aggregate and returns at most q.Limit rows.
func (d *Driver) Query(ctx context.Context, db *datasource.Database, q datasource.Query) (*datasource.QueryResult, error) {
	if q.Collection == "" {
		return nil, fmt.Errorf("%w: collection is required", domain.ErrValidation)
	}
	c, err := d.client(ctx, db)
	if err != nil {
		return nil, err
	}
	coll := c.Database(q.Container).Collection(q.Collection)
	// One extra row tells us whether the result was cut.
	fetch := int64(q.Limit) + 1

	var cur *mongo.Cursor
	switch q.Operation {
	case "", "find":
		filter, err := parseFilter(q.Statement)
		if err != nil {
			return nil, err
		}
		cur, err = coll.Find(ctx, filter, options.Find().SetLimit(fetch))
		if err != nil {
			return nil, fmt.Errorf("mongo find: %w", err)
		}
	case "aggregate":
		pipeline, err := parsePipeline(q.Statement)
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, bson.D{{Key: "$limit", Value: fetch}})
		cur, err = coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, fmt.Errorf("mongo aggregate: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: unsupported operation %q", domain.ErrValidation, q.Operation)
	}
	defer func() { _ = cur.Close(ctx) }()

	res := &datasource.QueryResult{Rows: []map[string]any{}}
	for cur.Next(ctx) {
		if len(res.Rows) == q.Limit {
			res.Truncated = true
			break
		}
		row, err := toRow(cur.Current)
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, row)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongo read cursor: %w", err)
	}
	return res, nil
}

// Ping checks the connection of db.
func (d *Driver) Ping(ctx context.Context, db *datasource.Database) error {
	c, err := d.client(ctx, db)
	if err != nil {
		return err
	}
	return c.Ping(ctx, readpref.Primary())
}

// Close disconnects every client.
func (d *Driver) Close(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for id, c := range d.clients {
		if err := c.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("disconnect %s: %w", id, err))
		}
		delete(d.clients, id)
	}
	return errors.Join(errs...)
}

// parseFilter decodes an Extended JSON filter. An empty statement matches
// everything.
func parseFilter(stmt string) (bson.D, error) {
	stmt = strings.TrimSpace(stmt)
	if stmt == "" {
		return bson.D{}, nil
	}
	var filter bson.D
	if err := bson.UnmarshalExtJSON([]byte(stmt), false, &filter); err != nil {
		return nil, fmt.Errorf("%w: filter must be an Extended JSON object: %v", domain.ErrValidation, err)
	}
	return filter, nil
}

// parsePipeline decodes an Extended JSON array of stages and rejects
// stages that write.
func parsePipeline(stmt string) (mongo.Pipeline, error) {
	var wrapped struct {
		Stages []bson.D `bson:"stages"`
	}
	doc := `{"stages":` + strings.TrimSpace(stmt) + `}`
	if err := bson.UnmarshalExtJSON([]byte(doc), false, &wrapped); err != nil {
		return nil, fmt.Errorf("%w: pipeline must be an Extended JSON array of stages: %v", domain.ErrValidation, err)
	}
	for _, stage := range wrapped.Stages {
		for _, el := range stage {
			for _, w := range writeStages {
				if el.Key == w {
					return nil, fmt.Errorf("%w: stage %s is not allowed", domain.ErrValidation, w)
				}
			}
		}
	}
	return mongo.Pipeline(wrapped.Stages), nil
}

// toRow renders a raw document as relaxed Extended JSON decoded into plain
// Go values, so ObjectIDs and dates keep a readable shape.
func toRow(raw bson.Raw) (map[string]any, error) {
	data, err := bson.MarshalExtJSON(raw, false, false)
	if err != nil {
		return nil, fmt.Errorf("mongo encode row: %w", err)
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return nil, fmt.Errorf("mongo decode row: %w", err)
	}
	return row, nil
}

// inferFields merges the top-level fields of docs. A field missing from
// some documents, or null in any, is nullable; conflicting types are
// reported as "mixed".
func inferFields(docs []bson.M) []datasource.Field {
	type seen struct {
		typ   string
		count int
		null  bool
	}
	fields := map[string]*seen{}
	for _, doc := range docs {
		for k, v := range doc {
			s, ok := fields[k]
			if !ok {
				s = &seen{}
				fields[k] = s
			}
			s.count++
			t := bsonType(v)
			switch {
			case t == "null":
				s.null = true
			case s.typ == "":
				s.typ = t
			case s.typ != t:
				s.typ = "mixed"
			}
		}
	}

	out := make([]datasource.Field, 0, len(fields))
	for name, s := range fields {
		typ := s.typ
		if typ == "" {
			typ = "null"
		}
		out = append(out, datasource.Field{Name: name, Type: typ, Nullable: s.null || s.count < len(docs)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == "_id" {
			return true
		}
		if out[j].Name == "_id" {
			return false
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func bsonType(v any) string {
	switch v.(type) {
	case nil, primitive.Null:
		return "null"
	case primitive.ObjectID:
		return "objectId"
	case string:
		return "string"
	case int32, int64, int:
		return "int"
	case float64:
		return "double"
	case primitive.Decimal128:
		return "decimal"
	case bool:
		return "bool"
	case primitive.DateTime, time.Time:
		return "date"
	case primitive.Timestamp:
		return "timestamp"
	case bson.M, bson.D, map[string]any:
		return "object"
	case bson.A, []any:
		return "array"
	case primitive.Binary:
		return "binData"
	}
	return fmt.Sprintf("%T", v)
}
