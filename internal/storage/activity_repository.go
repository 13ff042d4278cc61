package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/edison-alpha/backendmome/internal/types"
)

// ActivityRepository writes normalized activity records to ClickHouse. The
// table is a ReplacingMergeTree ordered by source_version, so re-inserting a
// record replaces rather than duplicates it.
type ActivityRepository struct {
	db *ClickHouseDB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *ClickHouseDB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// InsertRecords writes records in one batch. Duplicate source versions inside
// the batch are written once.
func (r *ActivityRepository) InsertRecords(ctx context.Context, records []types.ActivityRecord) error {
	if len(records) == 0 {
		return nil
	}

	batch, err := r.db.conn.PrepareBatch(ctx, `
		INSERT INTO raffle_activity (
			source_version, kind, raffle_id, buyer, creator, winner,
			ticket_count, amount_paid, prize_amount, event_time,
			block_height, event_type, ingested_at
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	ingestedAt := time.Now().UTC()
	seen := make(map[uint64]struct{}, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.SourceVersion]; dup {
			continue
		}
		seen[rec.SourceVersion] = struct{}{}

		err := batch.Append(
			rec.SourceVersion,
			string(rec.Kind),
			rec.RaffleID,
			rec.Buyer,
			rec.Creator,
			rec.Winner,
			rec.TicketCount,
			nullableDecimal(rec.AmountPaid),
			nullableDecimal(rec.PrizeAmount),
			rec.Timestamp.UTC(),
			rec.BlockHeight,
			rec.EventType,
			ingestedAt,
		)
		if err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append record %d: %w", rec.SourceVersion, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func nullableDecimal(d decimal.NullDecimal) *decimal.Decimal {
	if !d.Valid {
		return nil
	}
	v := d.Decimal
	return &v
}
