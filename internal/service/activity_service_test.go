package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
	"github.com/edison-alpha/backendmome/internal/storage"
	"github.com/edison-alpha/backendmome/internal/types"
)

type serviceFixture struct {
	svc   *ActivityService
	pager *fakePager
	fast  *storage.CacheService
	slow  *memorySlowTier
}

func newFixture(t *testing.T, records ...types.ActivityRecord) *serviceFixture {
	t.Helper()
	fast, _ := newFastTier(t)
	slow := newMemorySlowTier()
	pager := &fakePager{records: records}
	svc := NewActivityService(pager, storage.NewTieredCache(fast, slow), nil, nil, testCacheConfig())
	return &serviceFixture{svc: svc, pager: pager, fast: fast, slow: slow}
}

func TestRaffleLeaderboard_Scenario(t *testing.T) {
	f := newFixture(t,
		purchase(2, "0xa", 5, 2, "1.0"),
		purchase(1, "0xa", 5, 3, "1.5"),
	)

	res, err := f.svc.GetRaffleLeaderboard(testContext(t), 5, 0)
	require.NoError(t, err)
	assert.Equal(t, types.SourceComputed, res.Source)
	assert.False(t, res.Cached)
	assert.Equal(t, []types.LeaderboardEntry{
		{Address: "0xa", TotalTickets: 5, TotalSpent: 2.5, RaffleCount: 1, Rank: 1},
	}, res.Data)
}

func TestLeaderboard_PopulatesBothTiers(t *testing.T) {
	f := newFixture(t, purchase(1, "0xa", 1, 1, "1"))
	ctx := testContext(t)

	first, err := f.svc.GetGlobalLeaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, types.SourceComputed, first.Source)

	second, err := f.svc.GetGlobalLeaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, types.SourceFastTier, second.Source)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Data, second.Data)
	assert.Equal(t, 1, f.pager.callCount())

	row, ok := f.slow.rows["leaderboard:global:10"]
	require.True(t, ok)
	assert.Equal(t, "leaderboard", row.Resource)
	assert.Nil(t, row.EntityID)
}

func TestStats_SlowTierThenFastTier(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)
	require.NoError(t, f.slow.Put(ctx, storage.SlowEntry{
		Key:     "stats:platform",
		Payload: []byte(`{"totalTicketsSold":7,"uniqueParticipants":1,"averageTicketsPerUser":7}`),
	}))

	first, err := f.svc.GetPlatformStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SourceSlowTier, first.Source)
	assert.Equal(t, int64(7), first.Data.TotalTicketsSold)

	second, err := f.svc.GetPlatformStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.SourceFastTier, second.Source)
	assert.Zero(t, f.pager.callCount())
}

func TestStats_EmptyUpstreamIsZero(t *testing.T) {
	f := newFixture(t)

	res, err := f.svc.GetRaffleStats(testContext(t), 3)
	require.NoError(t, err)
	assert.Equal(t, types.StatsSnapshot{}, res.Data)

	row := f.slow.rows["stats:raffle:3"]
	require.NotNil(t, row.EntityID)
	assert.Equal(t, int64(3), *row.EntityID)
}

func TestUpstreamFailure_ServesEmptyWithoutCaching(t *testing.T) {
	f := newFixture(t)
	f.pager.err = errUpstream
	ctx := testContext(t)

	res, err := f.svc.GetGlobalActivity(ctx, 5)
	require.NoError(t, err)
	assert.Empty(t, res.Data)
	assert.NotNil(t, res.Data)
	assert.Equal(t, types.SourceComputed, res.Source)

	board, err := f.svc.GetGlobalLeaderboard(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, board.Data)

	f.pager.err = nil
	f.pager.records = []types.ActivityRecord{purchase(1, "0xa", 1, 1, "1")}
	res, err = f.svc.GetGlobalActivity(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, res.Data, 1)
	assert.Empty(t, f.slow.rows["activity:global:5"].Payload)
}

func TestActivity_FastTierOnly(t *testing.T) {
	f := newFixture(t, purchase(1, "0xa", 1, 1, "1"))
	ctx := testContext(t)

	_, err := f.svc.GetGlobalActivity(ctx, 0)
	require.NoError(t, err)

	exists, err := f.fast.Exists(ctx, "activity:global:20")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Empty(t, f.slow.rows)
}

func TestUserActivity_FiltersAndNormalizes(t *testing.T) {
	won := types.ActivityRecord{Kind: types.KindRaffleFinalized, RaffleID: 1, Winner: "0xab", SourceVersion: 5}
	f := newFixture(t,
		won,
		purchase(4, "0xcd", 1, 1, "1"),
		purchase(3, "0xab", 1, 2, "1"),
	)
	ctx := testContext(t)

	res, err := f.svc.GetUserActivity(ctx, "0xAB", 0)
	require.NoError(t, err)
	require.Len(t, res.Data, 2)
	assert.Equal(t, uint64(5), res.Data[0].SourceVersion)
	assert.Equal(t, uint64(3), res.Data[1].SourceVersion)

	exists, err := f.fast.Exists(ctx, "activity:user:0xab:20")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestRaffleActivity_DecoratesWithMetadata(t *testing.T) {
	fast, _ := newFastTier(t)
	pager := &fakePager{records: []types.ActivityRecord{
		purchase(2, "0xa", 7, 1, "1"),
		purchase(1, "0xb", 8, 1, "1"),
	}}
	meta := fakeMetadata{titles: map[int64]string{7: "Lucky Seven"}}
	svc := NewActivityService(pager, storage.NewTieredCache(fast, nil), meta, nil, testCacheConfig())

	res, err := svc.GetRaffleActivity(testContext(t), 7, 10)
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	assert.Equal(t, "Lucky Seven", res.Data[0].RaffleTitle)
}

func TestLoadWindow_PagesUntilShortPage(t *testing.T) {
	records := make([]types.ActivityRecord, 0, 5)
	for v := uint64(5); v >= 1; v-- {
		records = append(records, purchase(v, "0xa", 1, 1, "1"))
	}
	fast, _ := newFastTier(t)
	pager := &fakePager{records: records}
	cfg := testCacheConfig()
	cfg.PageSize = 2
	cfg.AggregationWindow = 10
	svc := NewActivityService(pager, storage.NewTieredCache(fast, nil), nil, nil, cfg)

	res, err := svc.GetRaffleStats(testContext(t), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Data.TotalTicketsSold)
	assert.Equal(t, []pageCall{{2, 0}, {2, 2}, {2, 4}}, pager.calls)
}

func TestLoadWindow_PageSizeClampedToIndexerLimit(t *testing.T) {
	records := make([]types.ActivityRecord, 0, 1200)
	for v := uint64(1200); v >= 1; v-- {
		records = append(records, purchase(v, "0xa", 1, 1, "1"))
	}
	fast, _ := newFastTier(t)
	pager := &fakePager{records: records}
	cfg := testCacheConfig()
	cfg.PageSize = 1500
	cfg.AggregationWindow = 3000
	svc := NewActivityService(pager, storage.NewTieredCache(fast, nil), nil, nil, cfg)

	res, err := svc.GetPlatformStats(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(1200), res.Data.TotalTicketsSold)
	assert.Equal(t, []pageCall{{1000, 0}, {1000, 1000}}, pager.calls)
}

func TestLoadWindow_StopsAtWindow(t *testing.T) {
	records := make([]types.ActivityRecord, 0, 10)
	for v := uint64(10); v >= 1; v-- {
		records = append(records, purchase(v, "0xa", 1, 1, "1"))
	}
	fast, _ := newFastTier(t)
	pager := &fakePager{records: records}
	cfg := testCacheConfig()
	cfg.PageSize = 3
	cfg.AggregationWindow = 5
	svc := NewActivityService(pager, storage.NewTieredCache(fast, nil), nil, nil, cfg)

	res, err := svc.GetPlatformStats(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.Data.TotalTicketsSold)
	assert.Equal(t, []pageCall{{3, 0}, {2, 3}}, pager.calls)
}

func TestActivity_HandsRecordsToIngester(t *testing.T) {
	fast, _ := newFastTier(t)
	pager := &fakePager{records: []types.ActivityRecord{purchase(1, "0xa", 1, 1, "1")}}
	ingester := &recordingIngester{}
	svc := NewActivityService(pager, storage.NewTieredCache(fast, nil), nil, ingester, testCacheConfig())

	_, err := svc.GetGlobalActivity(testContext(t), 0)
	require.NoError(t, err)
	svc.Wait()

	require.Len(t, ingester.batches, 1)
	assert.Equal(t, uint64(1), ingester.batches[0][0].SourceVersion)
}

func TestValidationErrors(t *testing.T) {
	f := newFixture(t)
	ctx := testContext(t)

	_, err := f.svc.GetGlobalActivity(ctx, 101)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.GetGlobalLeaderboard(ctx, -1)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.GetRaffleStats(ctx, -4)
	assert.True(t, apperrors.IsValidation(err))

	_, err = f.svc.GetUserActivity(ctx, "not-an-address", 0)
	assert.True(t, apperrors.IsValidation(err))

	assert.Zero(t, f.pager.callCount())
}
