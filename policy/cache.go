package policy

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	cacheKeyPrefix = "policy:effective:"
	cacheTTL       = 5 * time.Minute
)

// Cache is a Redis read-through cache for effective policy values. It is
// never authoritative: any miss or Redis failure falls back to the store,
// and every policy write invalidates it.
type Cache struct {
	client *redis.Client
	logger *slog.Logger
}

// NewCache connects to Redis and verifies the connection. Returns an error
// when Redis is unreachable; callers then run without a cache.
func NewCache(addr, password string, db int, logger *slog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &Cache{client: client, logger: logger.With("component", "policy_cache")}, nil
}

// Close releases the Redis client.
func (c *Cache) Close() error {
	return c.client.Close()
}

func cacheKey(envID *int64) string {
	if envID == nil {
		return cacheKeyPrefix + "global"
	}
	return cacheKeyPrefix + strconv.FormatInt(*envID, 10)
}

// Get returns the cached effective policy, or ok=false on miss or error.
func (c *Cache) Get(ctx context.Context, envID *int64) (*Effective, bool) {
	data, err := c.client.Get(ctx, cacheKey(envID)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("policy cache read failed", "error", err)
		}
		return nil, false
	}
	var eff Effective
	if err := json.Unmarshal(data, &eff); err != nil {
		c.logger.Warn("policy cache entry corrupt, dropping", "error", err)
		c.client.Del(ctx, cacheKey(envID))
		return nil, false
	}
	return &eff, true
}

// Put stores an effective policy with a TTL. Failures are logged only.
func (c *Cache) Put(ctx context.Context, envID *int64, eff *Effective) {
	data, err := json.Marshal(eff)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(envID), data, cacheTTL).Err(); err != nil {
		c.logger.Warn("policy cache write failed", "error", err)
	}
}

// Invalidate drops the entry for one environment and the global entry,
// since the global policy feeds every merge.
func (c *Cache) Invalidate(ctx context.Context, envID *int64) {
	keys := []string{cacheKey(nil)}
	if envID != nil {
		keys = append(keys, cacheKey(envID))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("policy cache invalidation failed", "error", err)
	}
}

// InvalidateAll drops every cached policy entry.
func (c *Cache) InvalidateAll(ctx context.Context) {
	iter := c.client.Scan(ctx, 0, cacheKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("policy cache scan failed", "error", err)
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.Warn("policy cache invalidation failed", "error", err)
		}
	}
}

// SetLastPass records the scheduler's last pass timestamp for dashboards.
// Best effort; the value is not authoritative.
func (c *Cache) SetLastPass(ctx context.Context, t time.Time) {
	if err := c.client.Set(ctx, "scheduler:last_pass", t.UTC().Format(time.RFC3339), 0).Err(); err != nil {
		c.logger.Warn("last pass stamp write failed", "error", err)
	}
}
