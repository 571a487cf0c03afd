// Package cache provides a Redis-backed cache of assembled feed pages with
// singleflight collapsing of concurrent identical fetches. Anonymous
// suggested-mode pages are the main beneficiary; per-viewer pages use the
// same path with a short TTL.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/worklogapp/feed-platform/internal/feed"
	"github.com/worklogapp/feed-platform/pkg/config"
	pkgredis "github.com/worklogapp/feed-platform/pkg/redis"
)

const keyPrefix = "feedpage:"

type PageCache struct {
	client *pkgredis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *slog.Logger
	hits   atomic.Int64
	misses atomic.Int64
}

func New(client *pkgredis.Client, cfg config.RedisConfig) *PageCache {
	return &PageCache{
		client: client,
		ttl:    cfg.CacheTTL,
		logger: slog.Default().With("component", "feed-page-cache"),
	}
}

func (c *PageCache) Get(ctx context.Context, req feed.Request) (*feed.Page, bool) {
	key := c.buildKey(req)
	data, err := c.client.Get(ctx, key)
	if err != nil {
		if !pkgredis.IsNilError(err) {
			c.logger.Error("cache get failed", "key", key, "error", err)
		}
		c.misses.Add(1)
		return nil, false
	}
	var page feed.Page
	if err := json.Unmarshal([]byte(data), &page); err != nil {
		c.logger.Error("cache unmarshal failed", "key", key, "error", err)
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	return &page, true
}

func (c *PageCache) Set(ctx context.Context, req feed.Request, page *feed.Page) {
	key := c.buildKey(req)
	data, err := json.Marshal(page)
	if err != nil {
		c.logger.Error("cache marshal failed", "key", key, "error", err)
		return
	}
	if err := c.client.Set(ctx, key, data, c.ttl); err != nil {
		c.logger.Error("cache set failed", "key", key, "error", err)
	}
}

// GetOrCompute returns the cached page for req, or computes, stores, and
// returns it. Concurrent identical requests share one computation.
func (c *PageCache) GetOrCompute(
	ctx context.Context,
	req feed.Request,
	computeFn func() (*feed.Page, error),
) (*feed.Page, bool, error) {
	if page, ok := c.Get(ctx, req); ok {
		return page, true, nil
	}
	key := c.buildKey(req)
	val, err, _ := c.group.Do(key, func() (interface{}, error) {
		if page, ok := c.Get(ctx, req); ok {
			return page, nil
		}
		page, err := computeFn()
		if err != nil {
			return nil, err
		}
		c.Set(ctx, req, page)
		return page, nil
	})
	if err != nil {
		return nil, false, err
	}
	return val.(*feed.Page), false, nil
}

// Invalidate drops every cached feed page, e.g. after a moderation action.
func (c *PageCache) Invalidate(ctx context.Context) error {
	deleted, err := c.client.FlushByPattern(ctx, keyPrefix+"*")
	if err != nil {
		return fmt.Errorf("invalidating feed cache: %w", err)
	}
	c.logger.Info("feed cache invalidated", "keys_deleted", deleted)
	return nil
}

func (c *PageCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *PageCache) buildKey(req feed.Request) string {
	cursor := ""
	if req.Cursor != nil {
		cursor = req.Cursor.UTC().Format(time.RFC3339Nano)
	}
	raw := fmt.Sprintf("%s|%s|%s|%d", req.Mode, req.ViewerID, cursor, req.PageSize)
	hash := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%s%x", keyPrefix, hash[:16])
}
