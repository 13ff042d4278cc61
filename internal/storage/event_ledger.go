package storage

import (
	"context"
	"strconv"
	"time"
)

// Ledger namespaces, one per side effect gated by the ledger
const (
	LedgerActivity     = "activity"
	LedgerNotification = "notification"
)

// EventLedger records which source versions already had a side effect
// applied. Markers live in the fast tier under processed:<namespace>:<version>
// and expire after the configured TTL.
type EventLedger struct {
	cache     *CacheService
	namespace string
	ttl       time.Duration
}

// NewEventLedger creates a ledger for one side effect
func NewEventLedger(cache *CacheService, namespace string, ttl time.Duration) *EventLedger {
	return &EventLedger{cache: cache, namespace: namespace, ttl: ttl}
}

func (l *EventLedger) key(version uint64) string {
	return GenerateCacheKey(CacheKeyProcessed, l.namespace, strconv.FormatUint(version, 10))
}

// IsProcessed reports whether version has a live marker
func (l *EventLedger) IsProcessed(ctx context.Context, version uint64) (bool, error) {
	return l.cache.Exists(ctx, l.key(version))
}

// MarkProcessed writes the marker for version. Call it only after the side
// effect succeeded.
func (l *EventLedger) MarkProcessed(ctx context.Context, version uint64) error {
	return l.cache.SetWithTTL(ctx, l.key(version), true, l.ttl)
}

// Namespace returns the side effect this ledger guards
func (l *EventLedger) Namespace() string {
	return l.namespace
}
