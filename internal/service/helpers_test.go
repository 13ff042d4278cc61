package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/edison-alpha/backendmome/internal/config"
	"github.com/edison-alpha/backendmome/internal/storage"
	"github.com/edison-alpha/backendmome/internal/types"
)

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func newFastTier(t *testing.T) (*storage.CacheService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return storage.NewCacheService(storage.NewRedisCacheFromClient(client)), mr
}

// memorySlowTier keeps slow tier rows in a map and ignores freshness
type memorySlowTier struct {
	mu   sync.Mutex
	rows map[string]storage.SlowEntry
}

func newMemorySlowTier() *memorySlowTier {
	return &memorySlowTier{rows: map[string]storage.SlowEntry{}}
}

func (m *memorySlowTier) Get(_ context.Context, key string, _ time.Duration) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[key]
	return row.Payload, ok, nil
}

func (m *memorySlowTier) Put(_ context.Context, entry storage.SlowEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[entry.Key] = entry
	return nil
}

type pageCall struct{ limit, offset int }

// fakePager serves records newest first in pages
type fakePager struct {
	mu      sync.Mutex
	records []types.ActivityRecord
	err     error
	calls   []pageCall
}

func (p *fakePager) FetchPage(_ context.Context, limit, offset int) ([]types.ActivityRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, pageCall{limit, offset})
	if p.err != nil {
		return nil, p.err
	}
	if offset >= len(p.records) {
		return nil, nil
	}
	end := min(offset+limit, len(p.records))
	return append([]types.ActivityRecord(nil), p.records[offset:end]...), nil
}

func (p *fakePager) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

type fakeMetadata struct {
	titles map[int64]string
}

func (f fakeMetadata) FetchMany(_ context.Context, ids []int64) map[int64]types.RaffleMetadata {
	out := map[int64]types.RaffleMetadata{}
	for _, id := range ids {
		if title, ok := f.titles[id]; ok {
			out[id] = types.RaffleMetadata{RaffleID: id, Title: title}
		}
	}
	return out
}

type recordingIngester struct {
	mu      sync.Mutex
	batches [][]types.ActivityRecord
}

func (r *recordingIngester) Process(_ context.Context, records []types.ActivityRecord) (IngestResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, records)
	return IngestResult{Received: len(records)}, nil
}

var errUpstream = errors.New("indexer unavailable")

func testCacheConfig() config.CacheConfig {
	return config.CacheConfig{
		ActivityTTL:        30 * time.Second,
		LeaderboardTTL:     time.Minute,
		LeaderboardSlowTTL: time.Hour,
		StatsTTL:           time.Minute,
		StatsSlowTTL:       time.Hour,
		SlowFreshness:      5 * time.Minute,
		LedgerTTL:          24 * time.Hour,
		AggregationWindow:  2000,
		PageSize:           500,
	}
}

func purchase(version uint64, buyer string, raffle, tickets int64, paid string) types.ActivityRecord {
	return types.ActivityRecord{
		Kind:          types.KindTicketPurchase,
		RaffleID:      raffle,
		Buyer:         buyer,
		TicketCount:   &tickets,
		AmountPaid:    decimal.NewNullDecimal(decimal.RequireFromString(paid)),
		SourceVersion: version,
		Timestamp:     time.Unix(int64(version), 0).UTC(),
	}
}
