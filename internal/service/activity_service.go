// Package service implements the read model operations and the ingestion
// path on top of the event source, the aggregation engine and the cache tiers.
package service

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/edison-alpha/backendmome/internal/adapter"
	"github.com/edison-alpha/backendmome/internal/aggregation"
	"github.com/edison-alpha/backendmome/internal/config"
	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/storage"
	"github.com/edison-alpha/backendmome/internal/types"
)

// ingestTimeout bounds a detached ingest started from the read path
const ingestTimeout = 30 * time.Second

// EventPager reads normalized records from upstream, newest first
type EventPager interface {
	FetchPage(ctx context.Context, limit, offset int) ([]types.ActivityRecord, error)
}

// Ingester applies the ingestion side effects to fetched records
type Ingester interface {
	Process(ctx context.Context, records []types.ActivityRecord) (IngestResult, error)
}

// Result is a read result tagged with the tier that produced it
type Result[T any] struct {
	Data   T                 `json:"data"`
	Cached bool              `json:"cached"`
	Source types.CacheSource `json:"source"`
}

// ActivityService serves activity feeds, leaderboards and stats
type ActivityService struct {
	events   EventPager
	cache    *storage.TieredCache
	metadata adapter.MetadataProvider
	ingester Ingester
	cfg      config.CacheConfig
	logger   *logging.Logger

	inflight sync.WaitGroup
}

// NewActivityService creates the read service. metadata and ingester may be nil.
func NewActivityService(
	events EventPager,
	cache *storage.TieredCache,
	metadata adapter.MetadataProvider,
	ingester Ingester,
	cfg config.CacheConfig,
) *ActivityService {
	if metadata == nil {
		metadata = adapter.DisabledMetadata{}
	}
	if cfg.PageSize <= 0 || cfg.PageSize > adapter.MaxFetchLimit {
		cfg.PageSize = adapter.MaxFetchLimit
	}
	return &ActivityService{
		events:   events,
		cache:    cache,
		metadata: metadata,
		ingester: ingester,
		cfg:      cfg,
		logger:   logging.GetGlobalLogger().WithComponent("activity-service"),
	}
}

// GetGlobalActivity returns the newest platform activity
func (s *ActivityService) GetGlobalActivity(ctx context.Context, limit int) (*Result[[]types.ActivityFeedItem], error) {
	limit, err := resolveLimit(limit, DefaultActivityLimit, MaxActivityLimit)
	if err != nil {
		return nil, err
	}
	key := storage.GenerateCacheKey(storage.CacheKeyActivity, "global", strconv.Itoa(limit))
	return s.activity(ctx, key, nil, func(ctx context.Context) ([]types.ActivityRecord, error) {
		records, err := s.events.FetchPage(ctx, limit, 0)
		if err != nil {
			return nil, err
		}
		return aggregation.SelectFeed(records, aggregation.FeedFilter{}, limit), nil
	})
}

// GetRaffleActivity returns the newest activity of one raffle
func (s *ActivityService) GetRaffleActivity(ctx context.Context, raffleID int64, limit int) (*Result[[]types.ActivityFeedItem], error) {
	if err := validateRaffleID(raffleID); err != nil {
		return nil, err
	}
	limit, err := resolveLimit(limit, DefaultActivityLimit, MaxActivityLimit)
	if err != nil {
		return nil, err
	}
	key := storage.GenerateCacheKey(storage.CacheKeyActivity, "raffle", strconv.FormatInt(raffleID, 10), strconv.Itoa(limit))
	filter := aggregation.FeedFilter{RaffleID: &raffleID}
	return s.activity(ctx, key, &raffleID, s.windowFeed(filter, limit))
}

// GetUserActivity returns the newest activity where address is the buyer,
// creator or winner
func (s *ActivityService) GetUserActivity(ctx context.Context, address string, limit int) (*Result[[]types.ActivityFeedItem], error) {
	address, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}
	limit, err = resolveLimit(limit, DefaultActivityLimit, MaxActivityLimit)
	if err != nil {
		return nil, err
	}
	key := storage.GenerateCacheKey(storage.CacheKeyActivity, "user", address, strconv.Itoa(limit))
	return s.activity(ctx, key, nil, s.windowFeed(aggregation.FeedFilter{Address: address}, limit))
}

// GetGlobalLeaderboard ranks buyers across every raffle in the aggregation window
func (s *ActivityService) GetGlobalLeaderboard(ctx context.Context, limit int) (*Result[[]types.LeaderboardEntry], error) {
	limit, err := resolveLimit(limit, DefaultLeaderboardLimit, MaxLeaderboardLimit)
	if err != nil {
		return nil, err
	}
	key := storage.GenerateCacheKey(storage.CacheKeyLeaderboard, "global", strconv.Itoa(limit))
	return s.leaderboard(ctx, key, nil, limit)
}

// GetRaffleLeaderboard ranks buyers of one raffle
func (s *ActivityService) GetRaffleLeaderboard(ctx context.Context, raffleID int64, limit int) (*Result[[]types.LeaderboardEntry], error) {
	if err := validateRaffleID(raffleID); err != nil {
		return nil, err
	}
	limit, err := resolveLimit(limit, DefaultLeaderboardLimit, MaxLeaderboardLimit)
	if err != nil {
		return nil, err
	}
	key := storage.GenerateCacheKey(storage.CacheKeyLeaderboard, "raffle", strconv.FormatInt(raffleID, 10), strconv.Itoa(limit))
	return s.leaderboard(ctx, key, &raffleID, limit)
}

// GetPlatformStats summarizes the aggregation window
func (s *ActivityService) GetPlatformStats(ctx context.Context) (*Result[types.StatsSnapshot], error) {
	key := storage.GenerateCacheKey(storage.CacheKeyStats, "platform")
	return s.stats(ctx, key, nil)
}

// GetRaffleStats summarizes one raffle
func (s *ActivityService) GetRaffleStats(ctx context.Context, raffleID int64) (*Result[types.StatsSnapshot], error) {
	if err := validateRaffleID(raffleID); err != nil {
		return nil, err
	}
	key := storage.GenerateCacheKey(storage.CacheKeyStats, "raffle", strconv.FormatInt(raffleID, 10))
	return s.stats(ctx, key, &raffleID)
}

// Wait blocks until detached ingests started by reads have finished
func (s *ActivityService) Wait() {
	s.inflight.Wait()
}

type recordLoader func(ctx context.Context) ([]types.ActivityRecord, error)

func (s *ActivityService) activity(ctx context.Context, key string, raffleID *int64, load recordLoader) (*Result[[]types.ActivityFeedItem], error) {
	policy := storage.TierPolicy{
		Resource: string(storage.CacheKeyActivity),
		EntityID: raffleID,
		FastTTL:  s.cfg.ActivityTTL,
	}
	items, source, err := storage.Fetch(ctx, s.cache, key, policy, func(ctx context.Context) ([]types.ActivityFeedItem, error) {
		records, err := load(ctx)
		if err != nil {
			return nil, err
		}
		s.ingestDetached(ctx, records)
		metadata := s.metadata.FetchMany(ctx, aggregation.RaffleIDs(records))
		return aggregation.Decorate(records, metadata), nil
	})
	if err != nil {
		s.degraded(key, err)
		items = []types.ActivityFeedItem{}
	}
	return newResult(items, source), nil
}

func (s *ActivityService) leaderboard(ctx context.Context, key string, raffleID *int64, limit int) (*Result[[]types.LeaderboardEntry], error) {
	policy := storage.TierPolicy{
		Resource:  string(storage.CacheKeyLeaderboard),
		EntityID:  raffleID,
		FastTTL:   s.cfg.LeaderboardTTL,
		SlowTTL:   s.cfg.LeaderboardSlowTTL,
		Freshness: s.cfg.SlowFreshness,
	}
	entries, source, err := storage.Fetch(ctx, s.cache, key, policy, func(ctx context.Context) ([]types.LeaderboardEntry, error) {
		records, err := s.loadWindow(ctx)
		if err != nil {
			return nil, err
		}
		return aggregation.ComputeLeaderboard(records, raffleID, limit), nil
	})
	if err != nil {
		s.degraded(key, err)
		entries = []types.LeaderboardEntry{}
	}
	return newResult(entries, source), nil
}

func (s *ActivityService) stats(ctx context.Context, key string, raffleID *int64) (*Result[types.StatsSnapshot], error) {
	policy := storage.TierPolicy{
		Resource:  string(storage.CacheKeyStats),
		EntityID:  raffleID,
		FastTTL:   s.cfg.StatsTTL,
		SlowTTL:   s.cfg.StatsSlowTTL,
		Freshness: s.cfg.SlowFreshness,
	}
	snapshot, source, err := storage.Fetch(ctx, s.cache, key, policy, func(ctx context.Context) (types.StatsSnapshot, error) {
		records, err := s.loadWindow(ctx)
		if err != nil {
			return types.StatsSnapshot{}, err
		}
		return aggregation.ComputeStats(records, raffleID), nil
	})
	if err != nil {
		s.degraded(key, err)
		snapshot = types.StatsSnapshot{}
	}
	return newResult(snapshot, source), nil
}

func (s *ActivityService) windowFeed(filter aggregation.FeedFilter, limit int) recordLoader {
	return func(ctx context.Context) ([]types.ActivityRecord, error) {
		records, err := s.loadWindow(ctx)
		if err != nil {
			return nil, err
		}
		return aggregation.SelectFeed(records, filter, limit), nil
	}
}

// loadWindow pages through the newest AggregationWindow records. A short
// page ends the window early.
func (s *ActivityService) loadWindow(ctx context.Context) ([]types.ActivityRecord, error) {
	window := s.cfg.AggregationWindow
	if window <= 0 {
		window = s.cfg.PageSize
	}
	records := make([]types.ActivityRecord, 0, window)
	for offset := 0; offset < window; offset += s.cfg.PageSize {
		size := min(s.cfg.PageSize, window-offset)
		page, err := s.events.FetchPage(ctx, size, offset)
		if err != nil {
			return nil, err
		}
		records = append(records, page...)
		if len(page) < size {
			break
		}
	}
	return aggregation.Deduplicate(records), nil
}

// ingestDetached hands records to the ingester without tying it to the
// request lifetime. Failures are logged only.
func (s *ActivityService) ingestDetached(ctx context.Context, records []types.ActivityRecord) {
	if s.ingester == nil || len(records) == 0 {
		return
	}
	batch := append([]types.ActivityRecord(nil), records...)
	detached := context.WithoutCancel(ctx)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		ctx, cancel := context.WithTimeout(detached, ingestTimeout)
		defer cancel()
		if _, err := s.ingester.Process(ctx, batch); err != nil {
			s.logger.WithError(err).WithField("records", len(batch)).Warn("background ingest failed")
		}
	}()
}

func (s *ActivityService) degraded(key string, err error) {
	s.logger.WithError(err).WithField("key", key).Warn("upstream unavailable, serving empty result")
}

func newResult[T any](data T, source types.CacheSource) *Result[T] {
	return &Result[T]{Data: data, Cached: source.Cached(), Source: source}
}
