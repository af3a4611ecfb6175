// Package tiered layers the per-replica availability cache over the shared
// NATS KV bucket.
package tiered

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Strob0t/QueryForge/internal/port/cache"
)

var _ cache.Cache = (*Cache)(nil)

// Cache reads memory first and falls back to the shared bucket, copying
// shared hits into memory for at most localTTL. A shared-bucket outage
// leaves the replica on its local entries and is only logged.
type Cache struct {
	local    cache.Cache
	shared   cache.Cache
	localTTL time.Duration
}

func New(local, shared cache.Cache, localTTL time.Duration) *Cache {
	return &Cache{local: local, shared: shared, localTTL: localTTL}
}

func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	if val, found, err := c.local.Get(ctx, key); err != nil || found {
		return val, found, err
	}

	val, found, err := c.shared.Get(ctx, key)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "shared cache read failed", "key", key, "error", err)
		return nil, false, nil
	case !found:
		return nil, false, nil
	}
	if err := c.local.Set(ctx, key, val, c.localTTL); err != nil {
		slog.DebugContext(ctx, "local backfill skipped", "key", key, "error", err)
	}
	return val, true, nil
}

// Set keeps the local copy no longer than localTTL so another replica's
// invalidation is picked up even if its change notification is lost.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	localTTL := ttl
	if c.localTTL > 0 && (localTTL <= 0 || c.localTTL < localTTL) {
		localTTL = c.localTTL
	}
	if err := c.local.Set(ctx, key, value, localTTL); err != nil {
		return err
	}
	if err := c.shared.Set(ctx, key, value, ttl); err != nil {
		slog.WarnContext(ctx, "shared cache write failed", "key", key, "error", err)
	}
	return nil
}

// Delete clears the shared entry before the local one, so a concurrent Get
// cannot backfill memory from a value that is about to disappear. Both
// deletes run even if the first fails.
func (c *Cache) Delete(ctx context.Context, key string) error {
	sharedErr := c.shared.Delete(ctx, key)
	return errors.Join(sharedErr, c.local.Delete(ctx, key))
}
