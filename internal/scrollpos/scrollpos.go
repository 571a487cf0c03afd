// Package scrollpos is an explicit scroll-position cache service: clients
// save the offset they were reading at per (viewer, route) and restore it on
// navigation back. The key space is bounded and the backing store is
// injectable; there is no hidden process-lifetime singleton.
package scrollpos

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pkgredis "github.com/worklogapp/feed-platform/pkg/redis"
)

// Position is a saved scroll offset in pixels.
type Position struct {
	Offset  int64     `json:"offset"`
	SavedAt time.Time `json:"saved_at"`
}

// Cache stores scroll positions keyed by (viewer, route).
type Cache interface {
	Get(ctx context.Context, viewerID, route string) (Position, bool, error)
	Set(ctx context.Context, viewerID, route string, pos Position) error
	Forget(ctx context.Context, viewerID, route string) error
}

func key(viewerID, route string) string {
	return viewerID + "|" + route
}

// MemoryCache is a bounded in-memory Cache. When the bound is exceeded the
// oldest entry is evicted.
type MemoryCache struct {
	mu      sync.Mutex
	maxKeys int
	entries map[string]Position
}

// NewMemoryCache creates a MemoryCache holding at most maxKeys positions.
func NewMemoryCache(maxKeys int) *MemoryCache {
	if maxKeys <= 0 {
		maxKeys = 256
	}
	return &MemoryCache{
		maxKeys: maxKeys,
		entries: make(map[string]Position),
	}
}

func (c *MemoryCache) Get(ctx context.Context, viewerID, route string) (Position, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.entries[key(viewerID, route)]
	return pos, ok, nil
}

func (c *MemoryCache) Set(ctx context.Context, viewerID, route string, pos Position) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(viewerID, route)
	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.maxKeys {
		c.evictOldest()
	}
	c.entries[k] = pos
	return nil
}

func (c *MemoryCache) Forget(ctx context.Context, viewerID, route string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key(viewerID, route))
	return nil
}

// Len reports the number of stored positions.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryCache) evictOldest() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, pos := range c.entries {
		if first || pos.SavedAt.Before(oldest) {
			first = false
			oldest = pos.SavedAt
			oldestKey = k
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// RedisCache keeps positions in Redis so they survive process restarts and
// are shared across instances.
type RedisCache struct {
	client *pkgredis.Client
	ttl    time.Duration
}

// NewRedisCache creates a RedisCache; positions expire after ttl.
func NewRedisCache(client *pkgredis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCache{client: client, ttl: ttl}
}

func redisKey(viewerID, route string) string {
	return "scrollpos:" + key(viewerID, route)
}

// encodePosition and decodePosition round-trip the whole Position, SavedAt
// included, so a restore sees when the offset was saved.
func encodePosition(pos Position) (string, error) {
	data, err := json.Marshal(pos)
	if err != nil {
		return "", fmt.Errorf("encoding scroll position: %w", err)
	}
	return string(data), nil
}

func decodePosition(raw string) (Position, error) {
	var pos Position
	if err := json.Unmarshal([]byte(raw), &pos); err != nil {
		return Position{}, fmt.Errorf("parsing scroll position: %w", err)
	}
	return pos, nil
}

func (c *RedisCache) Get(ctx context.Context, viewerID, route string) (Position, bool, error) {
	raw, err := c.client.Get(ctx, redisKey(viewerID, route))
	if err != nil {
		if pkgredis.IsNilError(err) {
			return Position{}, false, nil
		}
		return Position{}, false, fmt.Errorf("getting scroll position: %w", err)
	}
	pos, err := decodePosition(raw)
	if err != nil {
		return Position{}, false, err
	}
	return pos, true, nil
}

func (c *RedisCache) Set(ctx context.Context, viewerID, route string, pos Position) error {
	encoded, err := encodePosition(pos)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, redisKey(viewerID, route), encoded, c.ttl); err != nil {
		return fmt.Errorf("saving scroll position: %w", err)
	}
	return nil
}

func (c *RedisCache) Forget(ctx context.Context, viewerID, route string) error {
	return c.client.Del(ctx, redisKey(viewerID, route))
}
