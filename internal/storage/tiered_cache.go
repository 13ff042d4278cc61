package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/metrics"
	"github.com/edison-alpha/backendmome/internal/types"
)

// FastTier is the low latency cache consulted first
type FastTier interface {
	GetRaw(ctx context.Context, key string) ([]byte, bool, error)
	SetRaw(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// SlowTier is the persisted cache consulted after a fast miss
type SlowTier interface {
	Get(ctx context.Context, key string, freshness time.Duration) ([]byte, bool, error)
	Put(ctx context.Context, entry SlowEntry) error
}

// TierPolicy says how one data class is cached
type TierPolicy struct {
	Resource string
	// EntityID scopes slow tier rows to a raffle; nil is global
	EntityID *int64
	FastTTL  time.Duration
	// SlowTTL of zero keeps the data class out of the slow tier
	SlowTTL time.Duration
	// Freshness bounds the age of slow tier rows; older rows are misses
	Freshness time.Duration
}

// Loader recomputes a value from upstream after both tiers missed
type Loader[T any] func(ctx context.Context) (T, error)

// TieredCache orchestrates reads across the fast and slow tiers. Cache
// failures never fail a read: a read error is a miss and a write error is
// logged.
type TieredCache struct {
	fast   FastTier
	slow   SlowTier
	group  singleflight.Group
	logger *logging.Logger
}

// NewTieredCache creates an orchestrator. slow may be nil.
func NewTieredCache(fast FastTier, slow SlowTier) *TieredCache {
	return &TieredCache{
		fast:   fast,
		slow:   slow,
		logger: logging.GetGlobalLogger().WithComponent("tiered-cache"),
	}
}

// Fetch returns the value for key from the fast tier, else from a fresh
// slow tier row (backfilling the fast tier), else from loader (populating
// both tiers). Concurrent loader calls for one key share a single result.
func Fetch[T any](ctx context.Context, c *TieredCache, key string, policy TierPolicy, loader Loader[T]) (T, types.CacheSource, error) {
	var zero T
	log := c.logger.WithFields(map[string]interface{}{"key": key, "resource": policy.Resource})

	data, found, err := c.fast.GetRaw(ctx, key)
	switch {
	case err != nil:
		metrics.CacheErrors.WithLabelValues("fast", "get").Inc()
		log.WithError(err).Warn("fast tier read failed, treating as miss")
	case found:
		var value T
		if err := json.Unmarshal(data, &value); err != nil {
			log.WithError(err).Warn("undecodable fast tier entry, treating as miss")
			break
		}
		metrics.TierLookups.WithLabelValues(policy.Resource, string(types.SourceFastTier)).Inc()
		return value, types.SourceFastTier, nil
	}

	if c.slow != nil && policy.SlowTTL > 0 {
		data, found, err := c.slow.Get(ctx, key, policy.Freshness)
		switch {
		case err != nil:
			metrics.CacheErrors.WithLabelValues("slow", "get").Inc()
			log.WithError(err).Warn("slow tier read failed, treating as miss")
		case found:
			var value T
			if err := json.Unmarshal(data, &value); err != nil {
				log.WithError(err).Warn("undecodable slow tier entry, treating as miss")
				break
			}
			if err := c.fast.SetRaw(ctx, key, data, policy.FastTTL); err != nil {
				metrics.CacheErrors.WithLabelValues("fast", "set").Inc()
				log.WithError(err).Warn("fast tier backfill failed")
			}
			metrics.TierLookups.WithLabelValues(policy.Resource, string(types.SourceSlowTier)).Inc()
			return value, types.SourceSlowTier, nil
		}
	}

	// The shared load must not be cut short by whichever caller started it.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		value, err := loader(loadCtx)
		if err != nil {
			return nil, err
		}
		c.populate(loadCtx, log, key, policy, value)
		return value, nil
	})

	select {
	case <-ctx.Done():
		return zero, types.SourceComputed, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, types.SourceComputed, res.Err
		}
		value, ok := res.Val.(T)
		if !ok {
			return zero, types.SourceComputed, fmt.Errorf("cache key %s loaded %T", key, res.Val)
		}
		metrics.TierLookups.WithLabelValues(policy.Resource, string(types.SourceComputed)).Inc()
		return value, types.SourceComputed, nil
	}
}

func (c *TieredCache) populate(ctx context.Context, log *logging.Logger, key string, policy TierPolicy, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		log.WithError(err).Error("failed to encode computed value")
		return
	}

	if err := c.fast.SetRaw(ctx, key, data, policy.FastTTL); err != nil {
		metrics.CacheErrors.WithLabelValues("fast", "set").Inc()
		log.WithError(err).Warn("fast tier write failed")
	}

	if c.slow == nil || policy.SlowTTL <= 0 {
		return
	}
	err = c.slow.Put(ctx, SlowEntry{
		Key:      key,
		Resource: policy.Resource,
		EntityID: policy.EntityID,
		Payload:  data,
		TTL:      policy.SlowTTL,
	})
	if err != nil {
		metrics.CacheErrors.WithLabelValues("slow", "set").Inc()
		log.WithError(err).Warn("slow tier write failed")
	}
}
