package storage

import (
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edison-alpha/backendmome/internal/config"
	"github.com/edison-alpha/backendmome/internal/types"
)

func openTestClickHouse(t *testing.T) *ClickHouseDB {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	host := os.Getenv("CLICKHOUSE_HOST")
	if host == "" {
		t.Skip("Skipping test - CLICKHOUSE_HOST not set")
	}

	db, err := NewClickHouseDB(&config.ClickHouseConfig{
		Host:     host,
		Port:     envOr("CLICKHOUSE_PORT", "9000"),
		Database: envOr("CLICKHOUSE_DB", "default"),
		User:     envOr("CLICKHOUSE_USER", "default"),
		Password: os.Getenv("CLICKHOUSE_PASSWORD"),
	})
	if err != nil {
		t.Skipf("Skipping test - ClickHouse not available: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, RunClickHouseMigrations(testContext(t), db, "../../migrations/clickhouse"))
	return db
}

func TestClickHouseDB_Ping(t *testing.T) {
	db := openTestClickHouse(t)
	assert.NotNil(t, db.Conn())
	assert.NoError(t, db.Ping(testContext(t)))
}

func TestActivityRepository_InsertRecords(t *testing.T) {
	db := openTestClickHouse(t)
	ctx := testContext(t)
	repo := NewActivityRepository(db)

	tickets := int64(3)
	version := uint64(time.Now().UnixNano())
	record := types.ActivityRecord{
		Kind:          types.KindTicketPurchase,
		RaffleID:      42,
		Buyer:         "0xa",
		TicketCount:   &tickets,
		AmountPaid:    decimal.NewNullDecimal(decimal.RequireFromString("1.5")),
		Timestamp:     time.Now().UTC(),
		SourceVersion: version,
		BlockHeight:   100,
		EventType:     "TicketPurchasedEvent",
	}

	require.NoError(t, repo.InsertRecords(ctx, []types.ActivityRecord{record, record}))
	require.NoError(t, repo.InsertRecords(ctx, nil))

	var count uint64
	row := db.Conn().QueryRow(ctx,
		"SELECT count() FROM raffle_activity FINAL WHERE source_version = ?", version)
	require.NoError(t, row.Scan(&count))
	assert.Equal(t, uint64(1), count)
}
