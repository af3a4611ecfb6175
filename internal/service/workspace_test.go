package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/QueryForge/internal/domain"
	"github.com/Strob0t/QueryForge/internal/domain/agent"
	"github.com/Strob0t/QueryForge/internal/domain/datasource"
	"github.com/Strob0t/QueryForge/internal/port/messagequeue"
)

type mapCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func (c *mapCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		c.data = make(map[string][]byte)
	}
	c.data[key] = value
	return nil
}

func (c *mapCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func TestValidateWorkspaceID(t *testing.T) {
	for _, id := range []string{"", "workspace-1", "6f0c7a52"} {
		if err := ValidateWorkspaceID(id); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("%q: err = %v, want ErrValidation", id, err)
		}
	}
	if err := ValidateWorkspaceID(testWorkspace); err != nil {
		t.Errorf("valid id rejected: %v", err)
	}
}

func TestWorkspaceService_AvailabilityCached(t *testing.T) {
	catalog := &fakeCatalog{dbs: []datasource.Database{mongoDB("m1")}}
	svc := NewWorkspaceService(catalog, &mapCache{}, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		a, err := svc.Availability(ctx, testWorkspace)
		if err != nil {
			t.Fatal(err)
		}
		if a != (agent.Availability{Mongo: true}) {
			t.Errorf("availability = %+v", a)
		}
	}
	if n := catalog.lists.Load(); n != 1 {
		t.Errorf("catalog consulted %d times, want 1", n)
	}
}

func TestWorkspaceService_SharedMiss(t *testing.T) {
	catalog := &fakeCatalog{dbs: []datasource.Database{bigQueryDB("b1")}, gate: make(chan struct{})}
	svc := NewWorkspaceService(catalog, nil, time.Minute)

	var wg sync.WaitGroup
	results := make([]agent.Availability, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], _ = svc.Availability(context.Background(), testWorkspace)
		}(i)
	}
	// Let the callers pile up behind the first lookup.
	time.Sleep(50 * time.Millisecond)
	close(catalog.gate)
	wg.Wait()

	for i, a := range results {
		if !a.BigQuery || a.Mongo {
			t.Errorf("caller %d got %+v", i, a)
		}
	}
	if n := catalog.lists.Load(); n >= int32(len(results)) {
		t.Errorf("concurrent misses were not shared: %d lookups", n)
	}
}

func TestWorkspaceService_CacheErrorFallsThrough(t *testing.T) {
	catalog := &fakeCatalog{dbs: []datasource.Database{mongoDB("m1"), bigQueryDB("b1")}}
	svc := NewWorkspaceService(catalog, &mapCache{getErr: errors.New("cache down")}, time.Minute)

	a, err := svc.Availability(context.Background(), testWorkspace)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Mongo || !a.BigQuery {
		t.Errorf("availability = %+v", a)
	}
}

func TestWorkspaceService_AddDatabaseInvalidates(t *testing.T) {
	catalog := &fakeCatalog{}
	svc := NewWorkspaceService(catalog, &mapCache{}, time.Minute)
	ctx := context.Background()

	a, _ := svc.Availability(ctx, testWorkspace)
	if a.Mongo {
		t.Fatal("empty workspace reported mongo")
	}

	db := mongoDB("")
	if err := svc.AddDatabase(ctx, &db); err != nil {
		t.Fatal(err)
	}
	if db.ID == "" {
		t.Error("id not assigned")
	}
	a, _ = svc.Availability(ctx, testWorkspace)
	if !a.Mongo {
		t.Error("availability not refreshed after AddDatabase")
	}
}

func TestWorkspaceService_ChangeReachesOtherReplicas(t *testing.T) {
	catalog := &fakeCatalog{}
	queue := &fakeQueue{}
	ctx := context.Background()

	writer := NewWorkspaceService(catalog, &mapCache{}, time.Hour)
	writer.SetQueue(queue)
	reader := NewWorkspaceService(catalog, &mapCache{}, time.Hour)
	reader.SetQueue(queue)
	stop, err := reader.StartChangeSubscriber(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	if a, _ := reader.Availability(ctx, testWorkspace); a.BigQuery {
		t.Fatal("empty workspace reported bigquery")
	}

	db := bigQueryDB("")
	if err := writer.AddDatabase(ctx, &db); err != nil {
		t.Fatal(err)
	}
	if n := len(queue.messages(messagequeue.SubjectWorkspaceChanged)); n != 1 {
		t.Fatalf("published %d change notifications, want 1", n)
	}
	if a, _ := reader.Availability(ctx, testWorkspace); !a.BigQuery {
		t.Error("reader kept a stale availability after the change notification")
	}
}

func TestWorkspaceService_ChangeSubscriberRejectsMalformed(t *testing.T) {
	svc := NewWorkspaceService(&fakeCatalog{}, &mapCache{}, time.Minute)
	if err := svc.handleChanged(context.Background(), messagequeue.SubjectWorkspaceChanged, []byte("{")); err == nil {
		t.Error("expected decode error")
	}
	stop, err := svc.StartChangeSubscriber(context.Background())
	if err != nil || stop == nil {
		t.Fatalf("subscriber without a queue: stop=%v err=%v", stop != nil, err)
	}
	stop()
}

func TestWorkspaceService_AddDatabaseValidation(t *testing.T) {
	svc := NewWorkspaceService(&fakeCatalog{}, nil, time.Minute)
	tests := []datasource.Database{
		{WorkspaceID: "bad", Type: agent.BackendMongo, Name: "x", ConnectionURI: "mongodb://h"},
		{WorkspaceID: testWorkspace, Type: agent.BackendMongo, Name: "x"},
		{WorkspaceID: testWorkspace, Type: agent.BackendBigQuery, Name: "x"},
		{WorkspaceID: testWorkspace, Type: "postgres", Name: "x"},
		{WorkspaceID: testWorkspace, Type: agent.BackendBigQuery, ProjectID: "p"},
	}
	for i := range tests {
		if err := svc.AddDatabase(context.Background(), &tests[i]); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("case %d: err = %v, want ErrValidation", i, err)
		}
	}
}
