package service

import (
	"context"
	"strings"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/storage"
)

// FastTierAdmin is the subset of the fast tier exposed to operators
type FastTierAdmin interface {
	FlushAll(ctx context.Context) error
	Invalidate(ctx context.Context, keys ...string) error
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
}

// CacheAdmin performs operator invalidation of the fast tier. The slow tier
// is left alone and ages out through its freshness window.
type CacheAdmin struct {
	cache  FastTierAdmin
	logger *logging.Logger
}

// NewCacheAdmin creates a cache admin
func NewCacheAdmin(cache FastTierAdmin) *CacheAdmin {
	return &CacheAdmin{
		cache:  cache,
		logger: logging.GetGlobalLogger().WithComponent("cache-admin"),
	}
}

// Flush clears the whole fast tier, including ledger markers
func (a *CacheAdmin) Flush(ctx context.Context) error {
	if err := a.cache.FlushAll(ctx); err != nil {
		return err
	}
	a.logger.Info("fast tier flushed")
	return nil
}

// DeleteKey removes one fast tier key
func (a *CacheAdmin) DeleteKey(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return apperrors.NewInvalidParameterError("key", "must not be empty")
	}
	return a.cache.Invalidate(ctx, key)
}

// DeletePattern removes every fast tier key matching a glob pattern
func (a *CacheAdmin) DeletePattern(ctx context.Context, pattern string) (int, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return 0, apperrors.NewInvalidParameterError("pattern", "must not be empty")
	}
	if pattern == "*" {
		return 0, apperrors.NewInvalidParameterError("pattern", "use flush to clear every key")
	}
	deleted, err := a.cache.InvalidatePattern(ctx, pattern)
	if err != nil {
		return 0, err
	}
	a.logger.WithFields(map[string]interface{}{"pattern": pattern, "deleted": deleted}).Info("fast tier keys invalidated")
	return deleted, nil
}

// ActivityPattern matches every cached activity feed
var ActivityPattern = storage.GenerateCacheKey(storage.CacheKeyActivity, "*")
