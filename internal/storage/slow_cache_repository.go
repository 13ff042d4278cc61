package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
)

// SlowEntry is one persisted aggregate in the slow tier
type SlowEntry struct {
	Key      string
	Resource string
	// EntityID is the raffle id of per-raffle aggregates; nil means global
	EntityID *int64
	Payload  []byte
	TTL      time.Duration
}

// SlowCacheRepository persists aggregates in Postgres so they survive a
// fast tier flush or restart.
type SlowCacheRepository struct {
	db  DBTX
	now func() time.Time
}

// NewSlowCacheRepository creates a slow tier over db
func NewSlowCacheRepository(db DBTX) *SlowCacheRepository {
	return &SlowCacheRepository{db: db, now: time.Now}
}

// Put upserts entry keyed on cache_key. The later writer wins.
func (r *SlowCacheRepository) Put(ctx context.Context, entry SlowEntry) error {
	now := r.now().UTC()
	query := `
		INSERT INTO aggregate_cache (cache_key, resource, entity_id, payload, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (cache_key) DO UPDATE SET
			resource = EXCLUDED.resource,
			entity_id = EXCLUDED.entity_id,
			payload = EXCLUDED.payload,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
	`

	_, err := r.db.Exec(ctx, query,
		entry.Key,
		entry.Resource,
		entry.EntityID,
		entry.Payload,
		now,
		now.Add(entry.TTL),
	)
	if err != nil {
		return apperrors.NewPersistenceError("upsert aggregate", err)
	}
	return nil
}

// Get returns the payload stored at key when it is unexpired and was
// written no longer than freshness ago. Anything else is a miss.
func (r *SlowCacheRepository) Get(ctx context.Context, key string, freshness time.Duration) ([]byte, bool, error) {
	query := `
		SELECT payload, updated_at, expires_at
		FROM aggregate_cache
		WHERE cache_key = $1
	`

	var (
		payload   []byte
		updatedAt time.Time
		expiresAt time.Time
	)
	err := r.db.QueryRow(ctx, query, key).Scan(&payload, &updatedAt, &expiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperrors.NewPersistenceError("read aggregate", err)
	}

	now := r.now()
	if !now.Before(expiresAt) {
		return nil, false, nil
	}
	if freshness > 0 && now.Sub(updatedAt) > freshness {
		return nil, false, nil
	}
	return payload, true, nil
}

// DeleteExpired removes rows past their expiry and reports how many went
func (r *SlowCacheRepository) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM aggregate_cache WHERE expires_at <= $1`, r.now().UTC())
	if err != nil {
		return 0, apperrors.NewPersistenceError("delete expired aggregates", err)
	}
	return tag.RowsAffected(), nil
}
