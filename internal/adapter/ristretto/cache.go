// Package ristretto is the in-process cache for workspace availability.
package ristretto

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/ristretto/v2"

	"github.com/Strob0t/QueryForge/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// ErrRejected is returned when ristretto's admission policy drops a value.
var ErrRejected = errors.New("ristretto: value rejected by admission policy")

// avgEntryBytes is the typical cost of one availability entry: a key like
// "ws:availability:<uuid>" and a two-field JSON object.
const avgEntryBytes = 96

// Cache is a size-bounded L1 cache. Keys count towards an entry's cost
// because availability values are smaller than their keys.
type Cache struct {
	c *ristretto.Cache[string, []byte]
}

// New creates a cache holding at most maxCostBytes of keys and values.
func New(maxCostBytes int64) (*Cache, error) {
	// ristretto wants about ten counters per entry it may hold.
	counters := max(maxCostBytes/avgEntryBytes*10, 1000)
	c, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: counters,
		MaxCost:     maxCostBytes,
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		return nil, err
	}
	return &Cache{c: c}, nil
}

func (c *Cache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	val, found := c.c.Get(key)
	return val, found, nil
}

// Set stores a value and waits until it is visible, so an Invalidate that
// follows a Set on the same replica never races the write buffer.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !c.c.SetWithTTL(key, value, int64(len(key)+len(value)), ttl) {
		return ErrRejected
	}
	c.c.Wait()
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.c.Del(key)
	return nil
}

// HitRatio returns the share of lookups served from memory since start.
func (c *Cache) HitRatio() float64 {
	return c.c.Metrics.Ratio()
}

// Close stops ristretto's background goroutines.
func (c *Cache) Close() {
	c.c.Close()
}
