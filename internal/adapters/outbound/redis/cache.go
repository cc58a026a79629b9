// Package redis provides a Redis implementation of the Cache port.
//
// Each entry is stored as a hash {value, inserted_at, expires_at} under
// prefix:key, with the Redis TTL set to the retention so expired entries are
// reclaimed by the server.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/lendview/internal/ports/outbound"
)

// Compile-time check that Cache implements outbound.Cache
var _ outbound.Cache = (*Cache)(nil)

const (
	fieldValue      = "value"
	fieldInsertedAt = "inserted_at"
	fieldExpiresAt  = "expires_at"
)

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
}

// ConfigDefaults returns sensible defaults for Redis cache configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "lendview",
	}
}

// Cache is a Redis implementation of the outbound.Cache port.
type Cache struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

// NewCache creates a new Redis cache. It does not dial; use Ping to check connectivity.
func NewCache(cfg Config, logger *slog.Logger) (*Cache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = ConfigDefaults().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-cache"),
	}, nil
}

// Ping checks the Redis connection.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) key(key string) string {
	return c.keyPrefix + ":" + key
}

// Get returns the entry for key or outbound.ErrCacheMiss.
func (c *Cache) Get(ctx context.Context, key string) (outbound.CacheEntry, error) {
	fields, err := c.client.HGetAll(ctx, c.key(key)).Result()
	if err != nil {
		return outbound.CacheEntry{}, fmt.Errorf("failed to read cache entry: %w", err)
	}
	if len(fields) == 0 {
		return outbound.CacheEntry{}, outbound.ErrCacheMiss
	}
	return decodeEntry(fields)
}

// Set stores entry under key for retention.
func (c *Cache) Set(ctx context.Context, key string, entry outbound.CacheEntry, retention time.Duration) error {
	k := c.key(key)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, encodeEntry(entry))
		pipe.PExpire(ctx, k, retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to cache entry: %w", err)
	}
	return nil
}

// Invalidate removes key.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func encodeEntry(entry outbound.CacheEntry) map[string]any {
	return map[string]any{
		fieldValue:      entry.Value,
		fieldInsertedAt: strconv.FormatInt(entry.InsertedAt.UnixMilli(), 10),
		fieldExpiresAt:  strconv.FormatInt(entry.ExpiresAt.UnixMilli(), 10),
	}
}

func decodeEntry(fields map[string]string) (outbound.CacheEntry, error) {
	value, ok := fields[fieldValue]
	if !ok {
		return outbound.CacheEntry{}, outbound.ErrCacheMiss
	}
	inserted, err := strconv.ParseInt(fields[fieldInsertedAt], 10, 64)
	if err != nil {
		return outbound.CacheEntry{}, fmt.Errorf("malformed %s: %w", fieldInsertedAt, err)
	}
	expires, err := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)
	if err != nil {
		return outbound.CacheEntry{}, fmt.Errorf("malformed %s: %w", fieldExpiresAt, err)
	}
	return outbound.CacheEntry{
		Value:      []byte(value),
		InsertedAt: time.UnixMilli(inserted),
		ExpiresAt:  time.UnixMilli(expires),
	}, nil
}
