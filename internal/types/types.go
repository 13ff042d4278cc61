// Package types provides common type definitions for the raffle read-model service.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ActivityKind classifies a normalized on-chain raffle event
type ActivityKind string

const (
	// KindTicketPurchase is emitted when a buyer purchases tickets for a raffle
	KindTicketPurchase ActivityKind = "ticket_purchase"
	// KindRaffleCreated is emitted when a creator opens a new raffle
	KindRaffleCreated ActivityKind = "raffle_created"
	// KindRaffleFinalized is emitted when a raffle draws its winner
	KindRaffleFinalized ActivityKind = "raffle_finalized"
)

// Valid reports whether k is one of the known kinds
func (k ActivityKind) Valid() bool {
	switch k {
	case KindTicketPurchase, KindRaffleCreated, KindRaffleFinalized:
		return true
	default:
		return false
	}
}

// ActivityRecord is the normalized representation of one blockchain event.
// Records are immutable once built by the event source adapter.
type ActivityRecord struct {
	Kind          ActivityKind        `json:"kind"`
	RaffleID      int64               `json:"raffleId"`
	Buyer         string              `json:"buyer,omitempty"`
	Creator       string              `json:"creator,omitempty"`
	Winner        string              `json:"winner,omitempty"`
	TicketCount   *int64              `json:"ticketCount,omitempty"`
	AmountPaid    decimal.NullDecimal `json:"amountPaid"`
	PrizeAmount   decimal.NullDecimal `json:"prizeAmount"`
	Timestamp     time.Time           `json:"timestamp"`
	SourceVersion uint64              `json:"sourceVersion,string"`
	BlockHeight   int64               `json:"blockHeight"`
	EventType     string              `json:"eventType,omitempty"`
}

// Tickets returns the ticket count, treating absent and negative values as zero
func (r *ActivityRecord) Tickets() int64 {
	if r.TicketCount == nil || *r.TicketCount < 0 {
		return 0
	}
	return *r.TicketCount
}

// Paid returns the amount paid, treating absent and negative values as zero
func (r *ActivityRecord) Paid() decimal.Decimal {
	if !r.AmountPaid.Valid || r.AmountPaid.Decimal.IsNegative() {
		return decimal.Zero
	}
	return r.AmountPaid.Decimal
}

// ActivityFeedItem is an activity record decorated with raffle metadata for feeds
type ActivityFeedItem struct {
	ActivityRecord
	RaffleTitle string `json:"raffleTitle,omitempty"`
}

// RaffleMetadata describes a raffle as reported by the chain's view function
type RaffleMetadata struct {
	RaffleID    int64     `json:"raffleId"`
	Title       string    `json:"title"`
	Creator     string    `json:"creator,omitempty"`
	TicketPrice float64   `json:"ticketPrice"`
	EndTime     time.Time `json:"endTime,omitempty"`
	Finalized   bool      `json:"finalized"`
}

// LeaderboardEntry is one ranked participant. Entries are derived and
// recomputed wholesale on every aggregation pass.
type LeaderboardEntry struct {
	Address      string  `json:"address"`
	TotalTickets int64   `json:"totalTickets"`
	TotalSpent   float64 `json:"totalSpent"`
	RaffleCount  int     `json:"raffleCount"`
	Rank         int     `json:"rank"`
}

// StatsSnapshot aggregates platform or per-raffle activity
type StatsSnapshot struct {
	TotalTicketsSold      int64   `json:"totalTicketsSold"`
	TotalVolume           float64 `json:"totalVolume"`
	UniqueParticipants    int     `json:"uniqueParticipants"`
	AverageTicketsPerUser float64 `json:"averageTicketsPerUser"`
	TotalRaffles          int     `json:"totalRaffles"`
	ActiveRaffles         int     `json:"activeRaffles"`
	CompletedRaffles      int     `json:"completedRaffles"`
}

// CacheSource tags which tier produced a read result
type CacheSource string

const (
	// SourceFastTier means the value came from Redis
	SourceFastTier CacheSource = "fast-tier"
	// SourceSlowTier means the value came from the persisted Postgres cache
	SourceSlowTier CacheSource = "slow-tier"
	// SourceComputed means the value was recomputed from upstream events
	SourceComputed CacheSource = "computed"
)

// Cached reports whether the source is one of the cache tiers
func (s CacheSource) Cached() bool {
	return s == SourceFastTier || s == SourceSlowTier
}

// NotificationCategory classifies user notifications emitted by ingestion
type NotificationCategory string

const (
	CategoryTicketPurchased NotificationCategory = "ticket_purchased"
	CategoryRaffleCreated   NotificationCategory = "raffle_created"
	CategoryRaffleWon       NotificationCategory = "raffle_won"
)

// Notification is one message for one recipient. IdempotencyKey is unique
// per logical event and side effect.
type Notification struct {
	ID             string               `json:"id"`
	Recipient      string               `json:"recipient"`
	Category       NotificationCategory `json:"category"`
	Title          string               `json:"title"`
	Message        string               `json:"message"`
	RaffleID       int64                `json:"raffleId"`
	Amount         decimal.NullDecimal  `json:"amount"`
	IdempotencyKey string               `json:"idempotencyKey"`
	CreatedAt      time.Time            `json:"createdAt"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
