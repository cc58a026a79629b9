// Package ristretto provides an in-process, size-bounded implementation of the Cache port.
package ristretto

import (
	"context"
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/archon-research/lendview/internal/ports/outbound"
)

// Compile-time check that Cache implements outbound.Cache
var _ outbound.Cache = (*Cache)(nil)

// Config holds ristretto cache configuration.
type Config struct {
	// MaxBytes bounds the total size of cached values.
	MaxBytes int64
	// NumCounters is the number of keys tracked for admission; ~10x the expected item count.
	NumCounters int64
}

// ConfigDefaults returns defaults sized for query results.
func ConfigDefaults() Config {
	return Config{
		MaxBytes:    64 << 20,
		NumCounters: 100_000,
	}
}

// Cache is a ristretto implementation of the outbound.Cache port.
type Cache struct {
	cache *ristretto.Cache
}

// NewCache creates a ristretto cache.
func NewCache(cfg Config) (*Cache, error) {
	defaults := ConfigDefaults()
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaults.MaxBytes
	}
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = defaults.NumCounters
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating ristretto cache: %w", err)
	}
	return &Cache{cache: c}, nil
}

// Get returns the entry for key or outbound.ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string) (outbound.CacheEntry, error) {
	v, ok := c.cache.Get(key)
	if !ok {
		return outbound.CacheEntry{}, outbound.ErrCacheMiss
	}
	entry, ok := v.(outbound.CacheEntry)
	if !ok {
		return outbound.CacheEntry{}, outbound.ErrCacheMiss
	}
	return entry, nil
}

// Set stores entry under key. Ristretto admits writes asynchronously; Set
// waits for the write buffer so a following Get observes it. An entry the
// admission policy rejects is reported as an error.
func (c *Cache) Set(ctx context.Context, key string, entry outbound.CacheEntry, retention time.Duration) error {
	if !c.cache.SetWithTTL(key, entry, int64(len(entry.Value))+1, retention) {
		return fmt.Errorf("ristretto rejected key %s", key)
	}
	c.cache.Wait()
	return nil
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.cache.Del(key)
	return nil
}

// Close stops ristretto's background goroutines.
func (c *Cache) Close() error {
	c.cache.Close()
	return nil
}
