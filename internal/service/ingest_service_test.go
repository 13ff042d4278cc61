package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edison-alpha/backendmome/internal/storage"
	"github.com/edison-alpha/backendmome/internal/types"
)

type fakeSink struct {
	mu       sync.Mutex
	inserted []types.ActivityRecord
	err      error
}

func (s *fakeSink) InsertRecords(_ context.Context, records []types.ActivityRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.inserted = append(s.inserted, records...)
	return nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []types.Notification
	fail map[string]bool
}

func (n *fakeNotifier) Notify(_ context.Context, msg types.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail[msg.IdempotencyKey] {
		return errors.New("database unavailable")
	}
	n.sent = append(n.sent, msg)
	return nil
}

type ingestFixture struct {
	svc      *IngestService
	sink     *fakeSink
	notifier *fakeNotifier
	fast     *storage.CacheService
}

func newIngestFixture(t *testing.T) *ingestFixture {
	t.Helper()
	fast, _ := newFastTier(t)
	sink := &fakeSink{}
	notifier := &fakeNotifier{fail: map[string]bool{}}
	svc := NewIngestService(sink, notifier,
		storage.NewEventLedger(fast, storage.LedgerActivity, 24*time.Hour),
		storage.NewEventLedger(fast, storage.LedgerNotification, 24*time.Hour),
	)
	return &ingestFixture{svc: svc, sink: sink, notifier: notifier, fast: fast}
}

func TestProcess_IsIdempotent(t *testing.T) {
	f := newIngestFixture(t)
	ctx := testContext(t)
	records := []types.ActivityRecord{
		purchase(1, "0xa", 5, 3, "1.5"),
		purchase(1, "0xa", 5, 3, "1.5"),
		purchase(2, "0xb", 5, 1, "0.5"),
	}

	first, err := f.svc.Process(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Received: 3, Unique: 2, Persisted: 2, Notified: 2}, first)

	second, err := f.svc.Process(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{Received: 3, Unique: 2}, second)

	assert.Len(t, f.sink.inserted, 2)
	assert.Len(t, f.notifier.sent, 2)

	marked, err := f.fast.Exists(ctx, "processed:activity:1")
	require.NoError(t, err)
	assert.True(t, marked)
}

func TestProcess_SinkFailureLeavesRecordsUnmarked(t *testing.T) {
	f := newIngestFixture(t)
	ctx := testContext(t)
	f.sink.err = errors.New("clickhouse down")
	records := []types.ActivityRecord{purchase(1, "0xa", 1, 1, "1")}

	res, err := f.svc.Process(ctx, records)
	require.Error(t, err)
	assert.Zero(t, res.Persisted)
	assert.Equal(t, 1, res.Notified)

	f.sink.err = nil
	res, err = f.svc.Process(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Persisted)
	assert.Zero(t, res.Notified)
}

func TestProcess_NotificationFailureIsRetried(t *testing.T) {
	f := newIngestFixture(t)
	ctx := testContext(t)
	records := []types.ActivityRecord{purchase(7, "0xa", 1, 1, "1")}
	f.notifier.fail["7:ticket_purchase"] = true

	_, err := f.svc.Process(ctx, records)
	require.Error(t, err)
	assert.Empty(t, f.notifier.sent)

	f.notifier.fail = map[string]bool{}
	res, err := f.svc.Process(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Notified)
	assert.Zero(t, res.Persisted)
}

func TestProcess_RecordsWithoutRecipientAreSkipped(t *testing.T) {
	f := newIngestFixture(t)
	orphan := types.ActivityRecord{Kind: types.KindRaffleFinalized, RaffleID: 3, SourceVersion: 9}

	res, err := f.svc.Process(testContext(t), []types.ActivityRecord{orphan})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Persisted)
	assert.Equal(t, 1, res.Skipped)
	assert.Empty(t, f.notifier.sent)
}

func TestProcess_WithoutCollaborators(t *testing.T) {
	svc := NewIngestService(nil, nil, nil, nil)

	res, err := svc.Process(context.Background(), []types.ActivityRecord{purchase(1, "0xa", 1, 1, "1")})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Persisted)
	assert.Zero(t, res.Notified)

	res, err = svc.Process(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, IngestResult{}, res)
}

func TestBuildNotification(t *testing.T) {
	n, ok := BuildNotification(purchase(1, "0xa", 5, 3, "1.5"))
	require.True(t, ok)
	assert.Equal(t, "0xa", n.Recipient)
	assert.Equal(t, types.CategoryTicketPurchased, n.Category)
	assert.Equal(t, "1:ticket_purchase", n.IdempotencyKey)
	assert.Equal(t, "You bought 3 ticket(s) for raffle #5", n.Message)
	assert.True(t, n.Amount.Decimal.Equal(decimal.RequireFromString("1.5")))

	n, ok = BuildNotification(types.ActivityRecord{Kind: types.KindRaffleCreated, RaffleID: 2, Creator: "0xc", SourceVersion: 4})
	require.True(t, ok)
	assert.Equal(t, "0xc", n.Recipient)
	assert.Equal(t, types.CategoryRaffleCreated, n.Category)
	assert.False(t, n.Amount.Valid)

	prize := decimal.NewNullDecimal(decimal.NewFromInt(10))
	n, ok = BuildNotification(types.ActivityRecord{Kind: types.KindRaffleFinalized, RaffleID: 2, Winner: "0xw", PrizeAmount: prize, SourceVersion: 8})
	require.True(t, ok)
	assert.Equal(t, types.CategoryRaffleWon, n.Category)
	assert.Equal(t, "8:raffle_finalized", n.IdempotencyKey)
	assert.True(t, n.Amount.Decimal.Equal(decimal.NewFromInt(10)))

	_, ok = BuildNotification(types.ActivityRecord{Kind: "unknown", Buyer: "0xa"})
	assert.False(t, ok)
}
