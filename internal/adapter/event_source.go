package adapter

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"time"

	"github.com/edison-alpha/backendmome/internal/config"
	apperrors "github.com/edison-alpha/backendmome/internal/errors"
	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/metrics"
	"github.com/edison-alpha/backendmome/internal/types"
)

// MaxFetchLimit caps a single upstream page
const MaxFetchLimit = config.MaxIndexerPageSize

// EventQuerier returns pages of raw events for a contract filter
type EventQuerier interface {
	QueryEvents(ctx context.Context, contractFilter string, limit, offset int) ([]RawEvent, error)
}

// EventSource reads raffle events from the indexer and normalizes them
type EventSource struct {
	querier        EventQuerier
	contractFilter string
	logger         *logging.Logger
	now            func() time.Time
}

// NewEventSource creates a source for the events of contractAddress
func NewEventSource(querier EventQuerier, contractAddress string) *EventSource {
	return &EventSource{
		querier:        querier,
		contractFilter: normalizeAddress(contractAddress) + "::%",
		logger:         logging.GetGlobalLogger().WithComponent("event-source"),
		now:            time.Now,
	}
}

// FetchPage returns up to limit normalized records starting at offset,
// newest first. limit is clamped to MaxFetchLimit. Malformed events are
// dropped; transport failures are returned.
func (s *EventSource) FetchPage(ctx context.Context, limit, offset int) ([]types.ActivityRecord, error) {
	if offset < 0 {
		return nil, apperrors.NewInvalidParameterError("offset", "must be non-negative")
	}
	if limit > MaxFetchLimit {
		limit = MaxFetchLimit
	}
	if limit <= 0 {
		return nil, nil
	}

	raw, err := s.querier.QueryEvents(ctx, s.contractFilter, limit, offset)
	if err != nil {
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Throttled() {
			throttled := apperrors.NewUpstreamRateLimitError("indexer", statusErr.StatusCode)
			throttled.Cause = err
			return nil, throttled
		}
		return nil, apperrors.NewUpstreamError("indexer", err)
	}
	return s.normalize(raw), nil
}

func (s *EventSource) normalize(raw []RawEvent) []types.ActivityRecord {
	now := s.now()
	records := make([]types.ActivityRecord, 0, len(raw))
	for _, ev := range raw {
		record, err := ParseEvent(ev, now)
		if err != nil {
			metrics.DroppedEvents.WithLabelValues(dropReason(err)).Inc()
			s.logger.WithError(err).WithField("type", ev.Type).Debug("dropping malformed event")
			continue
		}
		records = append(records, record)
	}
	return records
}

// FetchEvents returns a lazy single-pass sequence over one page. The upstream
// is queried when iteration starts; ranging over the sequence a second time
// yields nothing. A negative offset or a transport failure yields an empty
// sequence.
func (s *EventSource) FetchEvents(ctx context.Context, limit, offset int) iter.Seq[types.ActivityRecord] {
	var consumed atomic.Bool
	return func(yield func(types.ActivityRecord) bool) {
		if !consumed.CompareAndSwap(false, true) {
			s.logger.Warn("event sequence already consumed")
			return
		}

		records, err := s.FetchPage(ctx, limit, offset)
		if err != nil {
			s.logger.WithError(err).WithFields(map[string]interface{}{
				"limit":  limit,
				"offset": offset,
			}).Warn("event fetch failed, returning empty sequence")
			return
		}

		for _, record := range records {
			if !yield(record) {
				return
			}
		}
	}
}
