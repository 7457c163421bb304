package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates an entry that must not be cached, such as a
	// body that is not JSON
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Manager stores Census API responses in Redis. Every stored body is valid
// JSON: the API can answer 200 with an HTML maintenance page, and caching it
// would replay the failure until the entry expires.
type Manager struct {
	redis *redis.Client
}

// NewManager creates a new cache manager with Redis backend.
func NewManager(redisClient *redis.Client) *Manager {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &Manager{
		redis: redisClient,
	}
}

// Get retrieves the entry for key. Missing, expired and unreadable entries
// all yield ErrCacheMiss; expired and unreadable ones are evicted.
func (m *Manager) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	name := key.String()

	raw, err := m.redis.Get(ctx, name).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	case err != nil:
		CacheErrors.WithLabelValues("get").Inc()
		return nil, fmt.Errorf("redis get %s: %w", name, err)
	}

	entry, err := decodeEntry(raw)
	if err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
	}
	if err != nil || entry.IsExpired() {
		m.evict(ctx, name)
		CacheMisses.Inc()
		return nil, ErrCacheMiss
	}

	CacheHits.Inc()
	return entry, nil
}

// Set stores entry until its Expires time. Entries that are already expired
// are dropped; entries whose body is not JSON are rejected with
// ErrInvalidEntry.
func (m *Manager) Set(ctx context.Context, key CacheKey, entry *CacheEntry) error {
	if entry == nil {
		return fmt.Errorf("%w: nil entry", ErrInvalidEntry)
	}
	if !json.Valid(entry.Data) {
		CacheErrors.WithLabelValues("validate").Inc()
		return fmt.Errorf("%w: body of %d bytes is not JSON", ErrInvalidEntry, len(entry.Data))
	}

	ttl := entry.TTL()
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(entry)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := m.redis.Set(ctx, key.String(), raw, ttl).Err(); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	CacheSize.Add(float64(len(raw)))
	return nil
}

// Delete removes a cache entry.
func (m *Manager) Delete(ctx context.Context, key CacheKey) error {
	return m.del(ctx, key.String())
}

func (m *Manager) evict(ctx context.Context, name string) {
	// A failed eviction only costs another miss later
	_ = m.del(ctx, name)
}

func (m *Manager) del(ctx context.Context, name string) error {
	if err := m.redis.Del(ctx, name).Err(); err != nil {
		CacheErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del %s: %w", name, err)
	}
	return nil
}

// decodeEntry parses a stored entry and checks that its body is still JSON.
func decodeEntry(raw []byte) (*CacheEntry, error) {
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	if !json.Valid(entry.Data) {
		return nil, fmt.Errorf("%w: stored body is not JSON", ErrInvalidEntry)
	}
	return &entry, nil
}
