// Package cache memoises cell classification results by image content.
//
// Tier 1 is an in-process expirable LRU. Tier 2, when configured, is Redis and is
// shared between server replicas.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/cervicel-cytology-server/internal/domain"
)

// Defaults applied when the cache configuration leaves a field unset.
const (
	DefaultMaxItems = 1024
	DefaultTTL      = 24 * time.Hour
)

// Stats represents cache performance counters
type Stats struct {
	MemoryHits int64 `json:"memory_hits"`
	RedisHits  int64 `json:"redis_hits"`
	Misses     int64 `json:"misses"`
	Errors     int64 `json:"errors"`
}

// CachedClassifier decorates a classifier with a two-tier result cache.
type CachedClassifier struct {
	next   domain.CellClassifier
	memory *expirable.LRU[string, domain.CellCounts]
	redis  *RedisStore
	logger *logrus.Logger

	memoryHits atomic.Int64
	redisHits  atomic.Int64
	misses     atomic.Int64
	errors     atomic.Int64
}

// NewCachedClassifier wraps next. redis may be nil to run with the memory tier only.
func NewCachedClassifier(next domain.CellClassifier, config domain.CacheConfig, redis *RedisStore, logger *logrus.Logger) *CachedClassifier {
	if config.MaxItems <= 0 {
		config.MaxItems = DefaultMaxItems
	}
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}

	return &CachedClassifier{
		next:   next,
		memory: expirable.NewLRU[string, domain.CellCounts](config.MaxItems, nil, config.TTL),
		redis:  redis,
		logger: logger,
	}
}

// Key returns the cache key for an image: the hex SHA-256 of its bytes.
func Key(image domain.Image) string {
	sum := sha256.Sum256(image.Data)
	return hex.EncodeToString(sum[:])
}

// Classify returns cached counts for identical image bytes, classifying on a miss.
// Failures are never cached.
func (c *CachedClassifier) Classify(ctx context.Context, image domain.Image) (domain.CellCounts, error) {
	key := Key(image)

	if counts, ok := c.memory.Get(key); ok {
		c.memoryHits.Add(1)
		c.logger.WithFields(logrus.Fields{
			"filename":   image.Filename,
			"cache_tier": "memory",
		}).Debug("Cache hit")
		return counts, nil
	}

	if c.redis != nil {
		counts, found, err := c.redis.Get(ctx, key)
		if err != nil {
			c.errors.Add(1)
			c.logger.WithError(err).Warn("Redis cache lookup failed, falling back to classifier")
		} else if found {
			c.redisHits.Add(1)
			c.logger.WithFields(logrus.Fields{
				"filename":   image.Filename,
				"cache_tier": "redis",
			}).Debug("Cache hit")
			c.memory.Add(key, counts)
			return counts, nil
		}
	}

	c.misses.Add(1)
	counts, err := c.next.Classify(ctx, image)
	if err != nil {
		return domain.CellCounts{}, err
	}

	c.memory.Add(key, counts)
	if c.redis != nil {
		if err := c.redis.Set(ctx, key, counts); err != nil {
			c.errors.Add(1)
			c.logger.WithError(err).Warn("Failed to store counts in Redis cache")
		}
	}
	return counts, nil
}

// Invalidate drops the cached result for an image from both tiers.
func (c *CachedClassifier) Invalidate(ctx context.Context, image domain.Image) error {
	key := Key(image)
	c.memory.Remove(key)
	if c.redis != nil {
		return c.redis.Delete(ctx, key)
	}
	return nil
}

// Len returns the number of entries in the memory tier.
func (c *CachedClassifier) Len() int {
	return c.memory.Len()
}

// Stats returns a snapshot of the cache counters.
func (c *CachedClassifier) Stats() Stats {
	return Stats{
		MemoryHits: c.memoryHits.Load(),
		RedisHits:  c.redisHits.Load(),
		Misses:     c.misses.Load(),
		Errors:     c.errors.Load(),
	}
}
