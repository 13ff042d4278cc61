package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
)

// CacheService is the fast tier: JSON values in Redis with per key TTLs
type CacheService struct {
	redis *RedisCache
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache) *CacheService {
	return &CacheService{redis: redis}
}

// CacheKeyType is the leading segment of a cache key
type CacheKeyType string

const (
	CacheKeyActivity    CacheKeyType = "activity"
	CacheKeyLeaderboard CacheKeyType = "leaderboard"
	CacheKeyStats       CacheKeyType = "stats"
	CacheKeyRaffleMeta  CacheKeyType = "raffle:meta"
	CacheKeyProcessed   CacheKeyType = "processed"
)

// GenerateCacheKey builds <type>:<param1>:<param2>:... with lowercased params
func GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, param := range params {
		parts = append(parts, strings.ToLower(param))
	}
	return strings.Join(parts, ":")
}

// SetWithTTL stores value as JSON under key
func (c *CacheService) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.SetRaw(ctx, key, data, ttl)
}

// SetRaw stores already encoded bytes under key
func (c *CacheService) SetRaw(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if err := c.redis.Set(ctx, key, data, ttl); err != nil {
		return apperrors.NewCacheError("set", err)
	}
	return nil
}

// GetRaw returns the bytes stored at key
func (c *CacheService) GetRaw(ctx context.Context, key string) ([]byte, bool, error) {
	data, found, err := c.redis.Get(ctx, key)
	if err != nil {
		return nil, false, apperrors.NewCacheError("get", err)
	}
	return data, found, nil
}

// Get decodes the value stored at key into dest
func (c *CacheService) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	data, found, err := c.GetRaw(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// Invalidate removes one or more keys
func (c *CacheService) Invalidate(ctx context.Context, keys ...string) error {
	if err := c.redis.Del(ctx, keys...); err != nil {
		return apperrors.NewCacheError("delete", err)
	}
	return nil
}

// InvalidatePattern removes all keys matching a glob such as "activity:*"
func (c *CacheService) InvalidatePattern(ctx context.Context, pattern string) (int, error) {
	deleted, err := c.redis.DeletePattern(ctx, pattern)
	if err != nil {
		return deleted, apperrors.NewCacheError("delete pattern", err)
	}
	return deleted, nil
}

// FlushAll clears the whole fast tier in one FLUSHDB
func (c *CacheService) FlushAll(ctx context.Context) error {
	if err := c.redis.FlushDB(ctx); err != nil {
		return apperrors.NewCacheError("flush", err)
	}
	return nil
}

// Exists checks if a key exists
func (c *CacheService) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := c.redis.Exists(ctx, key)
	if err != nil {
		return false, apperrors.NewCacheError("exists", err)
	}
	return exists, nil
}

// Ping checks the fast tier connection
func (c *CacheService) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx)
}
