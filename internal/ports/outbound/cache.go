package outbound

import (
	"context"
	"errors"
	"time"
)

// ErrCacheMiss is returned by Cache.Get when no entry exists for a key.
var ErrCacheMiss = errors.New("cache miss")

// CacheEntry is a cached value with its freshness bookkeeping.
type CacheEntry struct {
	Value      []byte
	InsertedAt time.Time
	ExpiresAt  time.Time
}

// Cache is a narrow key/value store for query results.
// Freshness policy lives with the caller; stores only keep entries until retention expires.
type Cache interface {
	// Get returns the entry for key or ErrCacheMiss.
	Get(ctx context.Context, key string) (CacheEntry, error)

	// Set stores entry under key, retaining it for at least retention.
	Set(ctx context.Context, key string, entry CacheEntry, retention time.Duration) error

	// Invalidate removes key. Removing a missing key is not an error.
	Invalidate(ctx context.Context, key string) error

	// Close releases the store's resources.
	Close() error
}
