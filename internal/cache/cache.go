// Package cache stores KPI results in Redis.
//
// Every key embeds a generation number. Writers bump the generation after
// committing new rows, which orphans all earlier entries at once; they then
// age out through their TTL.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DefaultPrefix is prepended to every key.
const DefaultPrefix = "kpi:"

// Cache is a generation-keyed KPI result cache.
type Cache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	log    *zap.Logger
}

// Connect parses url, opens a client and pings it.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// New wraps client. prefix "" selects DefaultPrefix.
func New(client redis.UniversalClient, prefix string, ttl time.Duration, log *zap.Logger) *Cache {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Cache{client: client, prefix: prefix, ttl: ttl, log: log.Named("cache")}
}

func (c *Cache) generationKey() string {
	return c.prefix + "generation"
}

func (c *Cache) entryKey(gen int64, name, variant string) string {
	return c.prefix + "result:" + strconv.FormatInt(gen, 10) + ":" + name + ":" + variant
}

// Generation returns the current generation, 0 if none was ever set.
func (c *Cache) Generation(ctx context.Context) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey()).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

// Get decodes the entry for (name, variant) at the current generation into
// dst. It returns the generation it looked at so a miss can be filled with
// Set under the same generation.
func (c *Cache) Get(ctx context.Context, name, variant string, dst any) (gen int64, hit bool, err error) {
	gen, err = c.Generation(ctx)
	if err != nil {
		return 0, false, fmt.Errorf("cache generation: %w", err)
	}

	b, err := c.client.Get(ctx, c.entryKey(gen, name, variant)).Bytes()
	if errors.Is(err, redis.Nil) {
		return gen, false, nil
	}
	if err != nil {
		return gen, false, fmt.Errorf("cache get %s: %w", name, err)
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return gen, false, fmt.Errorf("cache decode %s: %w", name, err)
	}
	return gen, true, nil
}

// Set stores v for (name, variant) under gen.
func (c *Cache) Set(ctx context.Context, gen int64, name, variant string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", name, err)
	}
	if err := c.client.Set(ctx, c.entryKey(gen, name, variant), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", name, err)
	}
	return nil
}

// Invalidate starts a new generation.
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.generationKey()).Err(); err != nil {
		c.log.Warn("cache invalidation failed", zap.Error(err))
		return err
	}
	return nil
}
