// Package cache keeps the question pool in Redis so lesson selection does
// not hit Postgres on every request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/timo-math/adaptive-backend/internal/logger"
	"github.com/timo-math/adaptive-backend/internal/models"
)

const poolKey = "adaptive:question_pool"

// PoolCache is safe to use as a nil pointer; every call is then a miss or
// a no-op. Redis errors are logged and treated as misses.
type PoolCache struct {
	rdb *goredis.Client
	ttl time.Duration
	log *logger.Logger
}

// NewPoolCache connects to addr and pings it. An empty addr disables
// caching and returns nil.
func NewPoolCache(addr string, ttl time.Duration, log *logger.Logger) (*PoolCache, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewPoolCacheWithClient(rdb, ttl, log), nil
}

func NewPoolCacheWithClient(rdb *goredis.Client, ttl time.Duration, log *logger.Logger) *PoolCache {
	return &PoolCache{rdb: rdb, ttl: ttl, log: log.With("service", "PoolCache")}
}

func (c *PoolCache) Get(ctx context.Context) ([]models.Question, bool) {
	if c == nil || c.rdb == nil {
		return nil, false
	}
	raw, err := c.rdb.Get(ctx, poolKey).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.log.Warn("pool cache read failed", "error", err)
		}
		return nil, false
	}

	var pool []models.Question
	if err := json.Unmarshal(raw, &pool); err != nil {
		c.log.Warn("pool cache entry corrupt", "error", err)
		return nil, false
	}
	return pool, true
}

func (c *PoolCache) Set(ctx context.Context, pool []models.Question) {
	if c == nil || c.rdb == nil {
		return
	}
	raw, err := json.Marshal(pool)
	if err != nil {
		c.log.Warn("pool cache encode failed", "error", err)
		return
	}
	if err := c.rdb.Set(ctx, poolKey, raw, c.ttl).Err(); err != nil {
		c.log.Warn("pool cache write failed", "error", err)
	}
}

// Invalidate drops the cached pool, e.g. after item parameters change.
func (c *PoolCache) Invalidate(ctx context.Context) {
	if c == nil || c.rdb == nil {
		return
	}
	if err := c.rdb.Del(ctx, poolKey).Err(); err != nil {
		c.log.Warn("pool cache invalidate failed", "error", err)
	}
}

func (c *PoolCache) Close() error {
	if c == nil || c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}
