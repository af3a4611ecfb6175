package bigquery

import (
	"context"
	"errors"
	"math/big"
	"os"
	"testing"
	"time"

	bq "cloud.google.com/go/bigquery"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
)

func TestCheckReadOnly(t *testing.T) {
	ok := []string{
		"SELECT 1",
		"  select * from t",
		"WITH a AS (SELECT 1) SELECT * FROM a",
		"(SELECT 1) UNION ALL (SELECT 2)",
		"-- count\nSELECT COUNT(*) FROM t",
		"/* note */ SELECT 1",
		"SELECT\n*\nFROM t",
	}
	for _, s := range ok {
		if err := checkReadOnly(s); err != nil {
			t.Errorf("%q rejected: %v", s, err)
		}
	}
	bad := []string{
		"",
		"-- only a comment",
		"DELETE FROM t WHERE true",
		"INSERT INTO t VALUES (1)",
		"DROP TABLE t",
		"/* unterminated SELECT 1",
	}
	for _, s := range bad {
		if err := checkReadOnly(s); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%q: err = %v, want ErrValidation", s, err)
		}
	}
}

func TestSchemaFields(t *testing.T) {
	s := bq.Schema{
		{Name: "id", Type: bq.IntegerFieldType, Required: true},
		{Name: "tags", Type: bq.StringFieldType, Repeated: true},
		{Name: "address", Type: bq.RecordFieldType, Schema: bq.Schema{
			{Name: "city", Type: bq.StringFieldType},
		}},
	}
	fields := schemaFields(s, "")
	want := []datasource.Field{
		{Name: "id", Type: "INTEGER"},
		{Name: "tags", Type: "ARRAY<STRING>", Nullable: true},
		{Name: "address", Type: "RECORD", Nullable: true},
		{Name: "address.city", Type: "STRING", Nullable: true},
	}
	if len(fields) != len(want) {
		t.Fatalf("fields = %+v", fields)
	}
	for i := range want {
		if fields[i] != want[i] {
			t.Errorf("field %d = %+v, want %+v", i, fields[i], want[i])
		}
	}
}

func TestPlainRow(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	row := plainRow(map[string]bq.Value{
		"n":     int64(3),
		"price": big.NewRat(5, 2),
		"at":    ts,
		"tags":  []bq.Value{"a", "b"},
		"addr":  map[string]bq.Value{"city": "Oslo"},
		"none":  nil,
	})
	if row["price"] != "2.500000000" {
		t.Errorf("price = %v", row["price"])
	}
	if row["at"] != "2026-03-01T12:00:00Z" {
		t.Errorf("at = %v", row["at"])
	}
	if tags, ok := row["tags"].([]any); !ok || len(tags) != 2 {
		t.Errorf("tags = %#v", row["tags"])
	}
	if addr, ok := row["addr"].(map[string]any); !ok || addr["city"] != "Oslo" {
		t.Errorf("addr = %#v", row["addr"])
	}
	if row["n"] != int64(3) || row["none"] != nil {
		t.Errorf("row = %v", row)
	}
}

func TestDriver_RequiresProject(t *testing.T) {
	d := NewDriver(Config{})
	_, err := d.ListContainers(context.Background(), &datasource.Database{ID: "b1", Type: agent.BackendBigQuery})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

func TestDriver_QueryRejectsWrites(t *testing.T) {
	d := NewDriver(Config{})
	_, err := d.Query(context.Background(), &datasource.Database{ID: "b1", ProjectID: "p"}, datasource.Query{Statement: "DELETE FROM t", Limit: 5})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}

// TestDriver_Live queries a public dataset when QUERYFORGE_TEST_BQ_PROJECT is set.
func TestDriver_Live(t *testing.T) {
	project := os.Getenv("QUERYFORGE_TEST_BQ_PROJECT")
	if project == "" {
		t.Skip("QUERYFORGE_TEST_BQ_PROJECT not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	d := NewDriver(Config{CredentialsFile: os.Getenv("QUERYFORGE_BIGQUERY_CREDENTIALS_FILE"), Timeout: 30 * time.Second})
	defer func() { _ = d.Close() }()
	db := &datasource.Database{ID: "live", Type: agent.BackendBigQuery, ProjectID: project, Location: "US"}

	res, err := d.Query(ctx, db, datasource.Query{
		Statement: "SELECT name FROM `bigquery-public-data.usa_names.usa_1910_2013` LIMIT 5",
		Limit:     2,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Rows) != 2 || !res.Truncated || len(res.Columns) != 1 {
		t.Errorf("result = %+v", res)
	}
}
