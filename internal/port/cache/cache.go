// Package cache is the port behind the workspace availability cache.
package cache

import (
	"context"
	"time"
)

// Cache stores opaque values by key. A miss is ok == false with a nil
// error; err is reserved for a backend that could not answer. A ttl of
// zero means the backend's own default.
type Cache interface {
	Get(ctx context.Context, key string) (value []byte, ok bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
