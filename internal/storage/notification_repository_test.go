package storage

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edison-alpha/backendmome/internal/types"
)

func testNotification() *types.Notification {
	return &types.Notification{
		ID:             "5f1b0c7e-8f0a-4c89-9a55-0f6f1f1b2c3d",
		Recipient:      "0xa",
		Category:       types.CategoryTicketPurchased,
		Title:          "Tickets purchased",
		Message:        "You bought 2 tickets",
		RaffleID:       4,
		Amount:         decimal.NewNullDecimal(decimal.RequireFromString("1.5")),
		IdempotencyKey: "100:ticket_purchase",
	}
}

func TestNotificationRepository_Save(t *testing.T) {
	tests := []struct {
		name         string
		tag          pgconn.CommandTag
		err          error
		wantInserted bool
		wantErr      bool
	}{
		{name: "fresh insert", tag: pgconn.NewCommandTag("INSERT 0 1"), wantInserted: true},
		{name: "conflict does nothing", tag: pgconn.NewCommandTag("INSERT 0 0"), wantInserted: false},
		{name: "unique violation is a replay", err: &pgconn.PgError{Code: "23505"}, wantInserted: false},
		{name: "other failures surface", err: errors.New("conn refused"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeDB{execTag: tt.tag, execErr: tt.err}
			repo := NewNotificationRepository(db)

			inserted, err := repo.Save(testContext(t), testNotification())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantInserted, inserted)
		})
	}
}

func TestNotificationRepository_SaveArgs(t *testing.T) {
	db := &fakeDB{execTag: pgconn.NewCommandTag("INSERT 0 1")}
	repo := NewNotificationRepository(db)

	n := testNotification()
	n.Amount = decimal.NullDecimal{}
	_, err := repo.Save(testContext(t), n)
	require.NoError(t, err)

	args := db.execs[0].args
	assert.Contains(t, db.execs[0].sql, "ON CONFLICT (idempotency_key) DO NOTHING")
	assert.Equal(t, "ticket_purchased", args[2])
	assert.Nil(t, args[6])
	assert.Equal(t, "100:ticket_purchase", args[7])
}
