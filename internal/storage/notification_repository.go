package storage

import (
	"context"
	"time"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
	"github.com/edison-alpha/backendmome/internal/types"
)

// NotificationRepository stores notifications in Postgres. The unique
// idempotency_key makes replays of the same event harmless.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a new notification repository
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Save inserts n unless a notification with the same idempotency key already
// exists. inserted is false for a replay.
func (r *NotificationRepository) Save(ctx context.Context, n *types.Notification) (inserted bool, err error) {
	query := `
		INSERT INTO notifications (
			id, recipient, category, title, message, raffle_id, amount, idempotency_key, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
	`

	createdAt := n.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	tag, err := r.db.Exec(ctx, query,
		n.ID,
		n.Recipient,
		string(n.Category),
		n.Title,
		n.Message,
		n.RaffleID,
		nullableDecimal(n.Amount),
		n.IdempotencyKey,
		createdAt,
	)
	if err != nil {
		if apperrors.IsDuplicateKey(err) {
			return false, nil
		}
		return false, apperrors.NewPersistenceError("insert notification", err)
	}
	return tag.RowsAffected() == 1, nil
}
