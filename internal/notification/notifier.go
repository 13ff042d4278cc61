// Package notification records user notifications produced by ingestion and
// publishes newly recorded ones.
package notification

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/metrics"
	"github.com/edison-alpha/backendmome/internal/types"
)

// Notifier is the sink ingestion hands notifications to
type Notifier interface {
	Notify(ctx context.Context, n types.Notification) error
}

// Store persists notifications, reporting whether n was newly inserted
type Store interface {
	Save(ctx context.Context, n *types.Notification) (bool, error)
}

// Service persists every notification and publishes only the ones that were
// not recorded before. A failed publish is logged, never returned: the row
// is the source of truth.
type Service struct {
	store     Store
	publisher Publisher
	logger    *logging.Logger
	now       func() time.Time
}

// NewService creates a notification service. publisher may be nil.
func NewService(store Store, publisher Publisher) *Service {
	if publisher == nil {
		publisher = DisabledPublisher{}
	}
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logging.GetGlobalLogger().WithComponent("notifications"),
		now:       time.Now,
	}
}

// Notify records n and publishes it when it is new
func (s *Service) Notify(ctx context.Context, n types.Notification) error {
	if strings.TrimSpace(n.Recipient) == "" {
		return apperrors.NewInvalidParameterError("recipient", "must not be empty")
	}
	if n.IdempotencyKey == "" {
		return apperrors.NewInvalidParameterError("idempotencyKey", "must not be empty")
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}

	inserted, err := s.store.Save(ctx, &n)
	if err != nil {
		metrics.IngestedRecords.WithLabelValues("notification", "error").Inc()
		return err
	}
	if !inserted {
		metrics.IngestedRecords.WithLabelValues("notification", "duplicate").Inc()
		s.logger.WithField("idempotencyKey", n.IdempotencyKey).Debug("notification already recorded")
		return nil
	}
	metrics.IngestedRecords.WithLabelValues("notification", "inserted").Inc()

	if err := s.publisher.Publish(ctx, &n); err != nil {
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"idempotencyKey": n.IdempotencyKey,
			"recipient":      n.Recipient,
		}).Warn("failed to publish notification")
	}
	return nil
}

// Close releases the publisher
func (s *Service) Close() error {
	return s.publisher.Close()
}
