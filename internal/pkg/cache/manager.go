// Package cache implements stale-while-revalidate on top of an outbound.Cache store.
//
// An entry is fresh until FreshFor has elapsed since it was stored. For the
// following StaleFor it is still served, but the first read also starts one
// background reload. After that it is treated as missing and the caller waits
// for a synchronous load.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/archon-research/lendview/internal/ports/outbound"
)

// ErrMiss is the store's cache-miss sentinel.
var ErrMiss = outbound.ErrCacheMiss

// Config holds configuration for Manager.
type Config struct {
	FreshFor time.Duration
	StaleFor time.Duration

	// RevalidateTimeout bounds background reloads, which outlive the request that triggered them.
	RevalidateTimeout time.Duration

	Logger *slog.Logger
	Now    func() time.Time
}

// ConfigDefaults returns the default cache policy.
func ConfigDefaults() Config {
	return Config{
		FreshFor:          30 * time.Second,
		StaleFor:          5 * time.Minute,
		RevalidateTimeout: 30 * time.Second,
		Logger:            slog.Default(),
		Now:               time.Now,
	}
}

// Loader produces the value for a key on a miss or a revalidation.
type Loader func(ctx context.Context) ([]byte, error)

// Freshness classifies how a value was served.
type Freshness string

const (
	Fresh  Freshness = "fresh"
	Stale  Freshness = "stale"
	Loaded Freshness = "loaded"
)

// Manager is the process-wide query cache. Pass it by reference.
type Manager struct {
	store  outbound.Cache
	config Config
	logger *slog.Logger

	group singleflight.Group

	mu           sync.Mutex
	keys         map[string]struct{}
	revalidating map[string]bool
	wg           sync.WaitGroup
}

// NewManager creates a Manager over store.
func NewManager(store outbound.Cache, config Config) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}

	defaults := ConfigDefaults()
	if config.FreshFor <= 0 {
		config.FreshFor = defaults.FreshFor
	}
	if config.StaleFor < 0 {
		config.StaleFor = 0
	}
	if config.RevalidateTimeout <= 0 {
		config.RevalidateTimeout = defaults.RevalidateTimeout
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}
	if config.Now == nil {
		config.Now = defaults.Now
	}

	return &Manager{
		store:        store,
		config:       config,
		logger:       config.Logger.With("component", "cache-manager"),
		keys:         make(map[string]struct{}),
		revalidating: make(map[string]bool),
	}, nil
}

// Get returns the value for key, loading or revalidating it as the entry's age requires.
func (m *Manager) Get(ctx context.Context, key string, load Loader) ([]byte, Freshness, error) {
	now := m.config.Now()

	entry, err := m.store.Get(ctx, key)
	switch {
	case err == nil && now.Before(entry.ExpiresAt):
		return entry.Value, Fresh, nil
	case err == nil && now.Before(entry.ExpiresAt.Add(m.config.StaleFor)):
		m.revalidate(ctx, key, load)
		return entry.Value, Stale, nil
	case err != nil && !errors.Is(err, ErrMiss):
		m.logger.Warn("cache read failed, loading", "key", key, "error", err)
	}

	v, err, _ := m.group.Do(key, func() (any, error) {
		return m.loadAndStore(ctx, key, load)
	})
	if err != nil {
		return nil, Loaded, err
	}
	return v.([]byte), Loaded, nil
}

// Set stores value under key as a fresh entry.
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	now := m.config.Now()
	entry := outbound.CacheEntry{
		Value:      value,
		InsertedAt: now,
		ExpiresAt:  now.Add(m.config.FreshFor),
	}
	if err := m.store.Set(ctx, key, entry, m.config.FreshFor+m.config.StaleFor); err != nil {
		return fmt.Errorf("storing %s: %w", key, err)
	}
	m.mu.Lock()
	m.keys[key] = struct{}{}
	m.mu.Unlock()
	return nil
}

// Invalidate drops key so the next Get loads synchronously.
func (m *Manager) Invalidate(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.keys, key)
	m.mu.Unlock()
	return m.store.Invalidate(ctx, key)
}

// Reset waits for background reloads and invalidates every key this manager stored.
func (m *Manager) Reset(ctx context.Context) error {
	m.Wait()

	m.mu.Lock()
	keys := make([]string, 0, len(m.keys))
	for k := range m.keys {
		keys = append(keys, k)
	}
	m.keys = make(map[string]struct{})
	m.mu.Unlock()

	var errs []error
	for _, k := range keys {
		if err := m.store.Invalidate(ctx, k); err != nil {
			errs = append(errs, fmt.Errorf("invalidating %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

// Wait blocks until in-flight background reloads finish.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) loadAndStore(ctx context.Context, key string, load Loader) ([]byte, error) {
	value, err := load(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", key, err)
	}
	if err := m.Set(ctx, key, value); err != nil {
		m.logger.Warn("cache write failed", "key", key, "error", err)
	}
	return value, nil
}

func (m *Manager) revalidate(ctx context.Context, key string, load Loader) {
	m.mu.Lock()
	if m.revalidating[key] {
		m.mu.Unlock()
		return
	}
	m.revalidating[key] = true
	m.wg.Add(1)
	m.mu.Unlock()

	bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.config.RevalidateTimeout)
	go func() {
		defer m.wg.Done()
		defer cancel()
		defer func() {
			m.mu.Lock()
			delete(m.revalidating, key)
			m.mu.Unlock()
		}()

		if _, err := m.loadAndStore(bg, key, load); err != nil {
			m.logger.Warn("background revalidation failed", "key", key, "error", err)
		}
	}()
}

// GetJSON is Get for JSON-encoded values.
func GetJSON[T any](ctx context.Context, m *Manager, key string, load func(ctx context.Context) (T, error)) (T, Freshness, error) {
	var out T
	raw, freshness, err := m.Get(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
	if err != nil {
		return out, freshness, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, freshness, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return out, freshness, nil
}
