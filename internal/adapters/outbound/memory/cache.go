// cache.go provides an in-memory implementation of the Cache port.
//
// Entries are dropped lazily once their retention has elapsed. All operations
// are thread-safe. Data is lost on process restart.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/archon-research/lendview/internal/ports/outbound"
)

// Compile-time check that Cache implements outbound.Cache
var _ outbound.Cache = (*Cache)(nil)

type cacheItem struct {
	entry    outbound.CacheEntry
	deadline time.Time
}

// Cache is an in-memory implementation of the Cache port.
type Cache struct {
	mu    sync.RWMutex
	items map[string]cacheItem
	now   func() time.Time
}

// NewCache creates an in-memory cache. A nil clock means time.Now.
func NewCache(now func() time.Time) *Cache {
	if now == nil {
		now = time.Now
	}
	return &Cache{
		items: make(map[string]cacheItem),
		now:   now,
	}
}

// Get returns the entry for key or outbound.ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string) (outbound.CacheEntry, error) {
	c.mu.RLock()
	item, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || !c.now().Before(item.deadline) {
		return outbound.CacheEntry{}, outbound.ErrCacheMiss
	}
	return item.entry, nil
}

// Set stores entry under key for retention.
func (c *Cache) Set(ctx context.Context, key string, entry outbound.CacheEntry, retention time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cacheItem{entry: entry, deadline: c.now().Add(retention)}
	return nil
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
	return nil
}

// Close is a no-op.
func (c *Cache) Close() error {
	return nil
}

// Len returns the number of stored entries, expired ones included (for testing).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all entries (for testing).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]cacheItem)
}
