// Package bigquery implements the datasource driver for BigQuery workspaces.
package bigquery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	bq "cloud.google.com/go/bigquery"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	portds "github.com/Strob0t/QueryForge/internal/port/datasource"
)

var _ portds.Driver = (*Driver)(nil)

// Config holds the driver settings.
type Config struct {
	CredentialsFile string
	MaxBytesBilled  int64
	Timeout         time.Duration
}

// Driver runs read-only BigQuery jobs. One client is kept per project.
type Driver struct {
	cfg Config

	mu      sync.Mutex
	clients map[string]*bq.Client
}

// NewDriver creates a Driver.
func NewDriver(cfg Config) *Driver {
	return &Driver{cfg: cfg, clients: make(map[string]*bq.Client)}
}

// Type implements datasource.Driver.
func (d *Driver) Type() agent.BackendType { return agent.BackendBigQuery }

func (d *Driver) client(ctx context.Context, db *datasource.Database) (*bq.Client, error) {
	if db.ProjectID == "" {
		return nil, fmt.Errorf("%w: database %s has no project id", domain.ErrValidation, db.ID)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[db.ProjectID]; ok {
		return c, nil
	}

	var opts []option.ClientOption
	if d.cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(d.cfg.CredentialsFile))
	}
	// The client outlives the request that created it.
	c, err := bq.NewClient(context.WithoutCancel(ctx), db.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("bigquery client %s: %w", db.ProjectID, err)
	}
	if db.Location != "" {
		c.Location = db.Location
	}
	d.clients[db.ProjectID] = c
	slog.Info("bigquery client created", "project_id", db.ProjectID)
	return c, nil
}

func (d *Driver) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if d.cfg.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d.cfg.Timeout)
}

// ListContainers returns the dataset ids of the project.
func (d *Driver) ListContainers(ctx context.Context, db *datasource.Database) ([]string, error) {
	c, err := d.client(ctx, db)
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var out []string
	it := c.Datasets(ctx)
	for {
		ds, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery list datasets: %w", err)
		}
		out = append(out, ds.DatasetID)
	}
	sort.Strings(out)
	return out, nil
}

// ListCollections returns the table ids of a dataset.
func (d *Driver) ListCollections(ctx context.Context, db *datasource.Database, container string) ([]string, error) {
	c, err := d.client(ctx, db)
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	var out []string
	it := c.Dataset(container).Tables(ctx)
	for {
		t, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery list tables %s: %w", container, err)
		}
		out = append(out, t.TableID)
	}
	sort.Strings(out)
	return out, nil
}

// Inspect returns a table's schema from its metadata.
func (d *Driver) Inspect(ctx context.Context, db *datasource.Database, container, collection string) (*datasource.Schema, error) {
	c, err := d.client(ctx, db)
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	md, err := c.Dataset(container).Table(collection).Metadata(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery table %s.%s: %w", container, collection, err)
	}
	return &datasource.Schema{
		Container:  container,
		Collection: collection,
		Fields:     schemaFields(md.Schema, ""),
		RowCount:   int64(md.NumRows), //nolint:gosec // row counts fit in int64
	}, nil
}

// Query runs a SELECT and returns at most q.Limit rows.
func (d *Driver) Query(ctx context.Context, db *datasource.Database, q datasource.Query) (*datasource.QueryResult, error) {
	if err := checkReadOnly(q.Statement); err != nil {
		return nil, err
	}
	c, err := d.client(ctx, db)
	if err != nil {
		return nil, err
	}
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()

	query := c.Query(q.Statement)
	if d.cfg.MaxBytesBilled > 0 {
		query.MaxBytesBilled = d.cfg.MaxBytesBilled
	}
	query.Labels = map[string]string{"source": "queryforge"}

	it, err := query.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("bigquery query: %w", err)
	}

	res := &datasource.QueryResult{Rows: []map[string]any{}}
	for {
		var row map[string]bq.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bigquery read rows: %w", err)
		}
		if len(res.Rows) == q.Limit {
			res.Truncated = true
			break
		}
		res.Rows = append(res.Rows, plainRow(row))
	}
	for _, f := range it.Schema {
		res.Columns = append(res.Columns, f.Name)
	}
	return res, nil
}

// Close closes every client.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var errs []error
	for id, c := range d.clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(d.clients, id)
	}
	return errors.Join(errs...)
}

// checkReadOnly admits statements that start with SELECT or WITH after
// leading comments and whitespace.
func checkReadOnly(stmt string) error {
	s := strings.TrimSpace(stmt)
	for {
		switch {
		case strings.HasPrefix(s, "--"), strings.HasPrefix(s, "#"):
			_, rest, _ := strings.Cut(s, "\n")
			s = strings.TrimSpace(rest)
			continue
		case strings.HasPrefix(s, "/*"):
			_, rest, ok := strings.Cut(s, "*/")
			if !ok {
				s = ""
			} else {
				s = strings.TrimSpace(rest)
			}
			continue
		}
		break
	}
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return fmt.Errorf("%w: sql is required", domain.ErrValidation)
	}
	switch strings.ToUpper(strings.TrimLeft(fields[0], "(")) {
	case "SELECT", "WITH":
		return nil
	}
	return fmt.Errorf("%w: only SELECT statements are allowed", domain.ErrValidation)
}

func schemaFields(s bq.Schema, prefix string) []datasource.Field {
	var out []datasource.Field
	for _, f := range s {
		name := prefix + f.Name
		typ := string(f.Type)
		if f.Repeated {
			typ = "ARRAY<" + typ + ">"
		}
		out = append(out, datasource.Field{Name: name, Type: typ, Nullable: !f.Required})
		if f.Type == bq.RecordFieldType && len(f.Schema) > 0 {
			out = append(out, schemaFields(f.Schema, name+".")...)
		}
	}
	return out
}

// plainRow converts BigQuery values into JSON friendly ones.
func plainRow(row map[string]bq.Value) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = plainValue(v)
	}
	return out
}

func plainValue(v bq.Value) any {
	switch t := v.(type) {
	case *big.Rat:
		if t == nil {
			return nil
		}
		return bq.NumericString(t)
	case []byte:
		return t
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case []bq.Value:
		out := make([]any, len(t))
		for i := range t {
			out[i] = plainValue(t[i])
		}
		return out
	case map[string]bq.Value:
		return plainRow(t)
	case fmt.Stringer:
		// civil.Date, civil.Time and civil.DateTime
		return t.String()
	}
	return v
}
