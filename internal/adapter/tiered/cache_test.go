package tiered_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/QueryForge/internal/adapter/tiered"
	"github.com/Strob0t/QueryForge/internal/port/cache/cachetest"
)

const (
	wsKey  = "ws:availability:0b7d1e4a-5c2f-4e8b-a1d3-9f6e2c7b8a10"
	wsJSON = `{"mongodb":true,"bigquery":false}`
)

// memCache records TTLs and, when log is set, the order of deletes.
type memCache struct {
	name string
	log  *[]string
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	err  error
}

func newMemCache(name string, log *[]string) *memCache {
	return &memCache{name: name, log: log, data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	m.ttls[key] = ttl
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.log != nil {
		*m.log = append(*m.log, m.name)
	}
	if m.err != nil {
		return m.err
	}
	delete(m.data, key)
	return nil
}

func TestTiered_SharedHitFillsLocal(t *testing.T) {
	local, shared := newMemCache("local", nil), newMemCache("shared", nil)
	c := tiered.New(local, shared, 30*time.Second)
	shared.data[wsKey] = []byte(wsJSON)

	val, found, err := c.Get(context.Background(), wsKey)
	if err != nil || !found || string(val) != wsJSON {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}
	if string(local.data[wsKey]) != wsJSON {
		t.Errorf("local copy = %q", local.data[wsKey])
	}
	if local.ttls[wsKey] != 30*time.Second {
		t.Errorf("local ttl = %v, want 30s", local.ttls[wsKey])
	}
}

func TestTiered_LocalHitSkipsShared(t *testing.T) {
	local, shared := newMemCache("local", nil), newMemCache("shared", nil)
	shared.err = errors.New("must not be read")
	local.data[wsKey] = []byte(wsJSON)

	val, found, err := tiered.New(local, shared, time.Minute).Get(context.Background(), wsKey)
	if err != nil || !found || string(val) != wsJSON {
		t.Fatalf("Get = %q, %v, %v", val, found, err)
	}
}

func TestTiered_SetCapsLocalTTL(t *testing.T) {
	tests := []struct {
		name      string
		ttl       time.Duration
		wantLocal time.Duration
	}{
		{"longer than local cap", time.Hour, 30 * time.Second},
		{"shorter than local cap", 10 * time.Second, 10 * time.Second},
		{"no expiry", 0, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local, shared := newMemCache("local", nil), newMemCache("shared", nil)
			c := tiered.New(local, shared, 30*time.Second)
			if err := c.Set(context.Background(), wsKey, []byte(wsJSON), tt.ttl); err != nil {
				t.Fatal(err)
			}
			if local.ttls[wsKey] != tt.wantLocal {
				t.Errorf("local ttl = %v, want %v", local.ttls[wsKey], tt.wantLocal)
			}
			if shared.ttls[wsKey] != tt.ttl {
				t.Errorf("shared ttl = %v, want %v", shared.ttls[wsKey], tt.ttl)
			}
		})
	}
}

func TestTiered_DeleteClearsSharedFirst(t *testing.T) {
	var order []string
	local, shared := newMemCache("local", &order), newMemCache("shared", &order)
	local.data[wsKey] = []byte(wsJSON)
	shared.data[wsKey] = []byte(wsJSON)

	if err := tiered.New(local, shared, time.Minute).Delete(context.Background(), wsKey); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(order, []string{"shared", "local"}) {
		t.Errorf("delete order = %v, want [shared local]", order)
	}
	if len(local.data)+len(shared.data) != 0 {
		t.Error("entry survived Delete")
	}
}

func TestTiered_DeleteClearsLocalWhenSharedFails(t *testing.T) {
	local, shared := newMemCache("local", nil), newMemCache("shared", nil)
	local.data[wsKey] = []byte(wsJSON)
	shared.err = errors.New("kv unavailable")

	err := tiered.New(local, shared, time.Minute).Delete(context.Background(), wsKey)
	if !errors.Is(err, shared.err) {
		t.Errorf("err = %v, want the shared failure", err)
	}
	if _, ok := local.data[wsKey]; ok {
		t.Error("local entry kept after shared delete failed")
	}
}

func TestTiered_SharedOutageDegradesToLocal(t *testing.T) {
	local, shared := newMemCache("local", nil), newMemCache("shared", nil)
	shared.err = errors.New("kv unavailable")
	c := tiered.New(local, shared, time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, wsKey, []byte(wsJSON), time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if _, found, err := c.Get(ctx, wsKey); err != nil || !found {
		t.Fatalf("Get = %v, %v, want local hit", found, err)
	}
	if _, found, err := c.Get(ctx, "ws:availability:other"); err != nil || found {
		t.Fatalf("miss = %v, %v, want plain miss", found, err)
	}
}

func TestTiered_Compliance(t *testing.T) {
	cachetest.Run(t, tiered.New(newMemCache("local", nil), newMemCache("shared", nil), time.Minute))
}
