package storage

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edison-alpha/backendmome/internal/types"
)

type memorySlowTier struct {
	mu      sync.Mutex
	entries map[string]SlowEntry
	getErr  error
	gets    int
}

func newMemorySlowTier() *memorySlowTier {
	return &memorySlowTier{entries: map[string]SlowEntry{}}
}

func (m *memorySlowTier) Get(ctx context.Context, key string, freshness time.Duration) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	if m.getErr != nil {
		return nil, false, m.getErr
	}
	entry, ok := m.entries[key]
	return entry.Payload, ok, nil
}

func (m *memorySlowTier) Put(ctx context.Context, entry SlowEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.Key] = entry
	return nil
}

func (m *memorySlowTier) seed(t *testing.T, key string, value interface{}) {
	data, err := json.Marshal(value)
	require.NoError(t, err)
	m.entries[key] = SlowEntry{Key: key, Payload: data}
}

var leaderboardPolicy = TierPolicy{
	Resource:  "leaderboard",
	FastTTL:   time.Minute,
	SlowTTL:   time.Hour,
	Freshness: 5 * time.Minute,
}

func TestFetch_FallbackOrdering(t *testing.T) {
	fast, _ := newTestCache(t)
	slow := newMemorySlowTier()
	tiered := NewTieredCache(fast, slow)
	ctx := testContext(t)

	want := []types.LeaderboardEntry{{Address: "0xa", TotalTickets: 5, TotalSpent: 2.5, RaffleCount: 2, Rank: 1}}
	slow.seed(t, "leaderboard:global:10", want)

	loader := func(ctx context.Context) ([]types.LeaderboardEntry, error) {
		t.Fatal("loader must not run when the slow tier has a fresh entry")
		return nil, nil
	}

	got, source, err := Fetch(ctx, tiered, "leaderboard:global:10", leaderboardPolicy, loader)
	require.NoError(t, err)
	assert.Equal(t, types.SourceSlowTier, source)
	assert.Equal(t, want, got)

	got, source, err = Fetch(ctx, tiered, "leaderboard:global:10", leaderboardPolicy, loader)
	require.NoError(t, err)
	assert.Equal(t, types.SourceFastTier, source)
	assert.Equal(t, want, got)
}

func TestFetch_LoaderPopulatesBothTiers(t *testing.T) {
	fast, mr := newTestCache(t)
	slow := newMemorySlowTier()
	tiered := NewTieredCache(fast, slow)
	ctx := testContext(t)

	raffle := int64(3)
	policy := leaderboardPolicy
	policy.EntityID = &raffle

	calls := 0
	loader := func(ctx context.Context) (types.StatsSnapshot, error) {
		calls++
		return types.StatsSnapshot{TotalTicketsSold: 4, UniqueParticipants: 2, AverageTicketsPerUser: 2}, nil
	}

	got, source, err := Fetch(ctx, tiered, "stats:raffle:3", policy, loader)
	require.NoError(t, err)
	assert.Equal(t, types.SourceComputed, source)
	assert.Equal(t, int64(4), got.TotalTicketsSold)
	assert.Equal(t, 1, calls)

	assert.True(t, mr.Exists("stats:raffle:3"))
	assert.Equal(t, time.Minute, mr.TTL("stats:raffle:3"))
	require.Contains(t, slow.entries, "stats:raffle:3")
	assert.Equal(t, &raffle, slow.entries["stats:raffle:3"].EntityID)
	assert.Equal(t, time.Hour, slow.entries["stats:raffle:3"].TTL)

	_, source, err = Fetch(ctx, tiered, "stats:raffle:3", policy, loader)
	require.NoError(t, err)
	assert.Equal(t, types.SourceFastTier, source)
	assert.Equal(t, 1, calls)
}

func TestFetch_FastOnlyPolicySkipsSlowTier(t *testing.T) {
	fast, _ := newTestCache(t)
	slow := newMemorySlowTier()
	tiered := NewTieredCache(fast, slow)
	ctx := testContext(t)

	policy := TierPolicy{Resource: "activity", FastTTL: 30 * time.Second}
	_, source, err := Fetch(ctx, tiered, "activity:global:20", policy, func(ctx context.Context) ([]int, error) {
		return []int{1, 2}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.SourceComputed, source)
	assert.Zero(t, slow.gets)
	assert.Empty(t, slow.entries)
}

func TestFetch_CacheErrorsAreMisses(t *testing.T) {
	fast, mr := newTestCache(t)
	slow := newMemorySlowTier()
	slow.getErr = errors.New("connection reset")
	tiered := NewTieredCache(fast, slow)
	ctx := testContext(t)

	mr.SetError("boom")

	got, source, err := Fetch(ctx, tiered, "stats:platform", leaderboardPolicy, func(ctx context.Context) (types.StatsSnapshot, error) {
		return types.StatsSnapshot{TotalRaffles: 1, ActiveRaffles: 1}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.SourceComputed, source)
	assert.Equal(t, 1, got.TotalRaffles)
}

func TestFetch_UndecodableFastEntryIsMiss(t *testing.T) {
	fast, mr := newTestCache(t)
	tiered := NewTieredCache(fast, nil)
	ctx := testContext(t)

	require.NoError(t, mr.Set("stats:platform", "{not json"))

	_, source, err := Fetch(ctx, tiered, "stats:platform", leaderboardPolicy, func(ctx context.Context) (types.StatsSnapshot, error) {
		return types.StatsSnapshot{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, types.SourceComputed, source)
}

func TestFetch_LoaderErrorIsNotCached(t *testing.T) {
	fast, mr := newTestCache(t)
	slow := newMemorySlowTier()
	tiered := NewTieredCache(fast, slow)
	ctx := testContext(t)

	upstreamDown := errors.New("indexer unavailable")
	_, _, err := Fetch(ctx, tiered, "leaderboard:global:10", leaderboardPolicy, func(ctx context.Context) ([]types.LeaderboardEntry, error) {
		return nil, upstreamDown
	})
	assert.ErrorIs(t, err, upstreamDown)
	assert.False(t, mr.Exists("leaderboard:global:10"))
	assert.Empty(t, slow.entries)
}

func TestFetch_ConcurrentMissesShareOneLoad(t *testing.T) {
	fast, _ := newTestCache(t)
	tiered := NewTieredCache(fast, newMemorySlowTier())
	ctx := testContext(t)

	var calls atomic.Int32
	loader := func(ctx context.Context) ([]int, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return []int{1}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, _, err := Fetch(ctx, tiered, "activity:global:20", leaderboardPolicy, loader)
			assert.NoError(t, err)
			assert.Equal(t, []int{1}, got)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
}
