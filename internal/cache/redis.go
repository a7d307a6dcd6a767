package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/cervicel-cytology-server/internal/domain"
)

const redisKeyPrefix = "cervicel:counts:"

// RedisStore keeps classification results in Redis so that replicas share them.
type RedisStore struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// cachedCounts represents cached counts with metadata
type cachedCounts struct {
	Counts   domain.CellCounts `json:"counts"`
	CachedAt time.Time         `json:"cached_at"`
}

// NewRedisStore creates a Redis store and checks the connection.
func NewRedisStore(ctx context.Context, config domain.CacheConfig) (*RedisStore, error) {
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
	if config.MaxRetries != 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisStoreFromClient(client, config.TTL), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{redis: client, defaultTTL: ttl}
}

// Get retrieves cached counts. A miss returns found=false and no error.
func (s *RedisStore) Get(ctx context.Context, key string) (domain.CellCounts, bool, error) {
	val, err := s.redis.Get(ctx, redisKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CellCounts{}, false, nil
	}
	if err != nil {
		return domain.CellCounts{}, false, fmt.Errorf("failed to get cached counts: %w", err)
	}

	var cached cachedCounts
	if err := json.Unmarshal(val, &cached); err != nil {
		// Remove corrupted cache entry
		s.redis.Del(ctx, redisKeyPrefix+key)
		return domain.CellCounts{}, false, nil
	}
	return cached.Counts, true, nil
}

// Set caches counts under key.
func (s *RedisStore) Set(ctx context.Context, key string, counts domain.CellCounts) error {
	data, err := json.Marshal(cachedCounts{Counts: counts, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal cached counts: %w", err)
	}
	return s.redis.Set(ctx, redisKeyPrefix+key, data, s.defaultTTL).Err()
}

// Delete removes a cached entry.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	return s.redis.Del(ctx, redisKeyPrefix+key).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.redis.Close()
}
