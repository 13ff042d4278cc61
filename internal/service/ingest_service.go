package service

import (
	"context"
	"fmt"

	"github.com/edison-alpha/backendmome/internal/aggregation"
	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/metrics"
	"github.com/edison-alpha/backendmome/internal/notification"
	"github.com/edison-alpha/backendmome/internal/types"
)

// ActivitySink persists normalized records for analytics
type ActivitySink interface {
	InsertRecords(ctx context.Context, records []types.ActivityRecord) error
}

// DisabledSink discards records when no analytics store is configured
type DisabledSink struct{}

func (DisabledSink) InsertRecords(context.Context, []types.ActivityRecord) error { return nil }

// Ledger tracks which source versions already had one side effect applied
type Ledger interface {
	IsProcessed(ctx context.Context, version uint64) (bool, error)
	MarkProcessed(ctx context.Context, version uint64) error
}

// IngestResult counts what one Process call did
type IngestResult struct {
	Received  int `json:"received"`
	Unique    int `json:"unique"`
	Persisted int `json:"persisted"`
	Notified  int `json:"notified"`
	Skipped   int `json:"skipped"`
}

// IngestService applies the write path side effects to normalized records:
// analytics persistence, then notifications. Each side effect is gated by
// its own ledger and a record is marked only after its side effect succeeds,
// so replays of the same records are harmless.
type IngestService struct {
	sink               ActivitySink
	notifier           notification.Notifier
	activityLedger     Ledger
	notificationLedger Ledger
	logger             *logging.Logger
}

// NewIngestService creates an ingest service. sink and notifier may be nil.
func NewIngestService(sink ActivitySink, notifier notification.Notifier, activityLedger, notificationLedger Ledger) *IngestService {
	if sink == nil {
		sink = DisabledSink{}
	}
	return &IngestService{
		sink:               sink,
		notifier:           notifier,
		activityLedger:     activityLedger,
		notificationLedger: notificationLedger,
		logger:             logging.GetGlobalLogger().WithComponent("ingest"),
	}
}

// Process persists and notifies the records not seen before. The first
// side effect failure is returned after every record has been attempted.
func (s *IngestService) Process(ctx context.Context, records []types.ActivityRecord) (IngestResult, error) {
	unique := aggregation.Deduplicate(records)
	result := IngestResult{Received: len(records), Unique: len(unique)}
	if len(unique) == 0 {
		return result, nil
	}

	var firstErr error
	persisted, err := s.persist(ctx, unique)
	result.Persisted = persisted
	if err != nil {
		firstErr = err
	}

	notified, skipped, err := s.notify(ctx, unique)
	result.Notified = notified
	result.Skipped = skipped
	if err != nil && firstErr == nil {
		firstErr = err
	}

	s.logger.WithFields(map[string]interface{}{
		"received":  result.Received,
		"persisted": result.Persisted,
		"notified":  result.Notified,
		"skipped":   result.Skipped,
	}).Debug("ingest pass complete")
	return result, firstErr
}

func (s *IngestService) persist(ctx context.Context, records []types.ActivityRecord) (int, error) {
	pending := s.unprocessed(ctx, s.activityLedger, records)
	if len(pending) == 0 {
		return 0, nil
	}

	if err := s.sink.InsertRecords(ctx, pending); err != nil {
		metrics.IngestedRecords.WithLabelValues("activity", "error").Add(float64(len(pending)))
		return 0, fmt.Errorf("persist activity: %w", err)
	}
	metrics.IngestedRecords.WithLabelValues("activity", "inserted").Add(float64(len(pending)))

	for _, r := range pending {
		s.mark(ctx, s.activityLedger, r.SourceVersion)
	}
	return len(pending), nil
}

func (s *IngestService) notify(ctx context.Context, records []types.ActivityRecord) (notified, skipped int, err error) {
	if s.notifier == nil {
		return 0, 0, nil
	}

	for _, r := range s.unprocessed(ctx, s.notificationLedger, records) {
		n, ok := BuildNotification(r)
		if !ok {
			skipped++
			continue
		}
		if nerr := s.notifier.Notify(ctx, n); nerr != nil {
			s.logger.WithError(nerr).WithField("sourceVersion", r.SourceVersion).Warn("notification failed")
			if err == nil {
				err = fmt.Errorf("notify %d: %w", r.SourceVersion, nerr)
			}
			continue
		}
		s.mark(ctx, s.notificationLedger, r.SourceVersion)
		notified++
	}
	return notified, skipped, err
}

// unprocessed filters out records the ledger already holds. A ledger read
// failure counts as unprocessed; downstream uniqueness absorbs the replay.
func (s *IngestService) unprocessed(ctx context.Context, ledger Ledger, records []types.ActivityRecord) []types.ActivityRecord {
	if ledger == nil {
		return records
	}
	out := make([]types.ActivityRecord, 0, len(records))
	for _, r := range records {
		done, err := ledger.IsProcessed(ctx, r.SourceVersion)
		if err != nil {
			metrics.CacheErrors.WithLabelValues("ledger", "get").Inc()
			s.logger.WithError(err).WithField("sourceVersion", r.SourceVersion).Warn("ledger read failed")
		}
		if done {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *IngestService) mark(ctx context.Context, ledger Ledger, version uint64) {
	if ledger == nil {
		return
	}
	if err := ledger.MarkProcessed(ctx, version); err != nil {
		metrics.CacheErrors.WithLabelValues("ledger", "set").Inc()
		s.logger.WithError(err).WithField("sourceVersion", version).Warn("ledger write failed")
	}
}

// BuildNotification derives the notification for r. ok is false when the
// record has no recipient.
func BuildNotification(r types.ActivityRecord) (n types.Notification, ok bool) {
	n = types.Notification{
		RaffleID:       r.RaffleID,
		IdempotencyKey: fmt.Sprintf("%d:%s", r.SourceVersion, r.Kind),
		CreatedAt:      r.Timestamp,
	}

	switch r.Kind {
	case types.KindTicketPurchase:
		n.Recipient = r.Buyer
		n.Category = types.CategoryTicketPurchased
		n.Title = "Tickets purchased"
		n.Message = fmt.Sprintf("You bought %d ticket(s) for raffle #%d", r.Tickets(), r.RaffleID)
		n.Amount = r.AmountPaid
	case types.KindRaffleCreated:
		n.Recipient = r.Creator
		n.Category = types.CategoryRaffleCreated
		n.Title = "Raffle created"
		n.Message = fmt.Sprintf("Your raffle #%d is live", r.RaffleID)
	case types.KindRaffleFinalized:
		n.Recipient = r.Winner
		n.Category = types.CategoryRaffleWon
		n.Title = "You won!"
		n.Message = fmt.Sprintf("You won raffle #%d", r.RaffleID)
		n.Amount = r.PrizeAmount
	default:
		return types.Notification{}, false
	}

	if n.Recipient == "" {
		return types.Notification{}, false
	}
	return n, true
}
