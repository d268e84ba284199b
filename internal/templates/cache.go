package templates

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/claim-automation-server/internal/domain"
)

const redisKeyPrefix = "claims:best_template:"

// Cache is a two-tier cache for best-template lookups.
// Tier 1 is an in-process LRU, tier 2 is an optional Redis instance shared
// between server replicas. A cached nil records that no successful template exists.
type Cache struct {
	memory *lru.Cache[string, cacheEntry]
	redis  *redis.Client
	ttl    time.Duration
	logger *logrus.Logger

	memoryHits atomic.Int64
	redisHits  atomic.Int64
	misses     atomic.Int64
}

type cacheEntry struct {
	template  *domain.ClaimTemplate
	expiresAt time.Time
}

// CacheStats represents cache performance statistics
type CacheStats struct {
	MemoryHits int64 `json:"memory_hits"`
	RedisHits  int64 `json:"redis_hits"`
	Misses     int64 `json:"misses"`
	Entries    int   `json:"entries"`
}

// NewCache creates a cache. redisClient may be nil for a memory-only cache.
func NewCache(size int, ttl time.Duration, redisClient *redis.Client, logger *logrus.Logger) (*Cache, error) {
	if size <= 0 {
		size = 256
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	memory, err := lru.New[string, cacheEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return &Cache{
		memory: memory,
		redis:  redisClient,
		ttl:    ttl,
		logger: logger,
	}, nil
}

// NewRedisClient connects to Redis using the cache configuration.
func NewRedisClient(ctx context.Context, config domain.CacheConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return client, nil
}

// Get returns the cached best template for the key. The second result reports
// whether the key was cached at all.
func (c *Cache) Get(ctx context.Context, provider, serviceType string) (*domain.ClaimTemplate, bool) {
	key := cacheKey(provider, serviceType)

	if entry, ok := c.memory.Get(key); ok {
		if time.Now().Before(entry.expiresAt) {
			c.memoryHits.Add(1)
			return entry.template, true
		}
		c.memory.Remove(key)
	}

	if c.redis != nil {
		val, err := c.redis.Get(ctx, redisKeyPrefix+key).Bytes()
		switch {
		case err == nil:
			var tmpl *domain.ClaimTemplate
			if err := json.Unmarshal(val, &tmpl); err != nil {
				c.logger.WithError(err).WithField("cache_key", key).Warn("Discarding corrupt cached template")
				break
			}
			c.redisHits.Add(1)
			c.memory.Add(key, cacheEntry{template: tmpl, expiresAt: time.Now().Add(c.ttl)})
			return tmpl, true
		case err != redis.Nil:
			c.logger.WithError(err).WithField("cache_key", key).Warn("Redis cache read failed")
		}
	}

	c.misses.Add(1)
	return nil, false
}

// Set caches the best template for the key. tmpl may be nil.
func (c *Cache) Set(ctx context.Context, provider, serviceType string, tmpl *domain.ClaimTemplate) {
	key := cacheKey(provider, serviceType)
	c.memory.Add(key, cacheEntry{template: tmpl, expiresAt: time.Now().Add(c.ttl)})

	if c.redis == nil {
		return
	}
	data, err := json.Marshal(tmpl)
	if err != nil {
		c.logger.WithError(err).WithField("cache_key", key).Warn("Failed to encode template for cache")
		return
	}
	if err := c.redis.Set(ctx, redisKeyPrefix+key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("cache_key", key).Warn("Redis cache write failed")
	}
}

// Invalidate drops the key from both tiers.
func (c *Cache) Invalidate(ctx context.Context, provider, serviceType string) {
	key := cacheKey(provider, serviceType)
	c.memory.Remove(key)

	if c.redis != nil {
		if err := c.redis.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
			c.logger.WithError(err).WithField("cache_key", key).Warn("Redis cache invalidation failed")
		}
	}

	c.logger.WithFields(logrus.Fields{
		"insurance_provider": provider,
		"service_type":       serviceType,
	}).Debug("Invalidated best-template cache")
}

// Purge empties the memory tier and deletes every best-template key from Redis.
// Other processes keep their memory tier until the entries expire.
func (c *Cache) Purge(ctx context.Context) {
	c.memory.Purge()
	if c.redis == nil {
		return
	}

	deleted := 0
	iter := c.redis.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	batch := make([]string, 0, 100)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := c.redis.Del(ctx, batch...).Err(); err != nil {
			c.logger.WithError(err).Warn("Redis cache purge failed")
		} else {
			deleted += len(batch)
		}
		batch = batch[:0]
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			flush()
		}
	}
	flush()
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).Warn("Redis cache scan failed")
	}

	c.logger.WithField("redis_keys", deleted).Debug("Purged best-template cache")
}

// Stats returns cache performance statistics
func (c *Cache) Stats() CacheStats {
	return CacheStats{
		MemoryHits: c.memoryHits.Load(),
		RedisHits:  c.redisHits.Load(),
		Misses:     c.misses.Load(),
		Entries:    c.memory.Len(),
	}
}

func cacheKey(provider, serviceType string) string {
	return strings.ToLower(strings.TrimSpace(provider)) + "|" + strings.ToLower(strings.TrimSpace(serviceType))
}
