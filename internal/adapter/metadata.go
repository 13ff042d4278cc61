package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/storage"
	"github.com/edison-alpha/backendmome/internal/types"
)

// ViewCaller invokes read-only contract functions
type ViewCaller interface {
	CallView(ctx context.Context, function string, args ...string) ([]json.RawMessage, error)
}

// MetadataProvider resolves raffle metadata for a set of raffle ids. Ids
// that cannot be resolved are absent from the result.
type MetadataProvider interface {
	FetchMany(ctx context.Context, raffleIDs []int64) map[int64]types.RaffleMetadata
}

// DisabledMetadata is used when no node is configured
type DisabledMetadata struct{}

// FetchMany returns no metadata
func (DisabledMetadata) FetchMany(context.Context, []int64) map[int64]types.RaffleMetadata {
	return map[int64]types.RaffleMetadata{}
}

var metadataFields = struct {
	title, creator, ticketPrice, endTime, finalized []string
}{
	title:       []string{"title", "name"},
	creator:     []string{"creator", "creator_address", "creatorAddress"},
	ticketPrice: []string{"ticket_price", "ticketPrice"},
	endTime:     []string{"end_time", "endTime"},
	finalized:   []string{"is_finalized", "isFinalized", "finalized"},
}

// MetadataFetcher reads raffle details through the contract's view function,
// caching each raffle in the fast tier. At most concurrency calls run at once.
type MetadataFetcher struct {
	caller      ViewCaller
	cache       *storage.CacheService
	function    string
	concurrency int
	ttl         time.Duration
	logger      *logging.Logger
}

// NewMetadataFetcher creates a fetcher calling <contract>::raffle::get_raffle
func NewMetadataFetcher(caller ViewCaller, cache *storage.CacheService, contractAddress string, concurrency int, ttl time.Duration) *MetadataFetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &MetadataFetcher{
		caller:      caller,
		cache:       cache,
		function:    normalizeAddress(contractAddress) + "::raffle::get_raffle",
		concurrency: concurrency,
		ttl:         ttl,
		logger:      logging.GetGlobalLogger().WithComponent("metadata"),
	}
}

// FetchMany resolves each distinct id from the cache or the node
func (f *MetadataFetcher) FetchMany(ctx context.Context, raffleIDs []int64) map[int64]types.RaffleMetadata {
	var (
		mu     sync.Mutex
		result = make(map[int64]types.RaffleMetadata, len(raffleIDs))
		seen   = make(map[int64]struct{}, len(raffleIDs))
		g      errgroup.Group
	)
	g.SetLimit(f.concurrency)

	for _, id := range raffleIDs {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		g.Go(func() error {
			meta, err := f.fetchOne(ctx, id)
			if err != nil {
				f.logger.WithError(err).WithField("raffleId", id).Warn("raffle metadata unavailable")
				return nil
			}
			mu.Lock()
			result[id] = meta
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	return result
}

func (f *MetadataFetcher) fetchOne(ctx context.Context, id int64) (types.RaffleMetadata, error) {
	key := storage.GenerateCacheKey(storage.CacheKeyRaffleMeta, strconv.FormatInt(id, 10))

	var meta types.RaffleMetadata
	if found, err := f.cache.Get(ctx, key, &meta); err != nil {
		f.logger.WithError(err).Debug("metadata cache read failed")
	} else if found {
		return meta, nil
	}

	values, err := f.caller.CallView(ctx, f.function, strconv.FormatInt(id, 10))
	if err != nil {
		return types.RaffleMetadata{}, err
	}
	if len(values) == 0 {
		return types.RaffleMetadata{}, fmt.Errorf("view %s returned no values", f.function)
	}

	meta, err = parseMetadata(id, values[0])
	if err != nil {
		return types.RaffleMetadata{}, err
	}

	if err := f.cache.SetWithTTL(ctx, key, meta, f.ttl); err != nil {
		f.logger.WithError(err).Debug("metadata cache write failed")
	}
	return meta, nil
}

func parseMetadata(id int64, raw json.RawMessage) (types.RaffleMetadata, error) {
	payload, err := decodePayload(raw)
	if err != nil {
		return types.RaffleMetadata{}, err
	}

	meta := types.RaffleMetadata{
		RaffleID: id,
		Title:    parseString(lookup(payload, metadataFields.title)),
		Creator:  normalizeAddress(parseString(lookup(payload, metadataFields.creator))),
	}
	if price := parseAmount(lookup(payload, metadataFields.ticketPrice)); price.Valid {
		meta.TicketPrice = price.Decimal.InexactFloat64()
	}
	if end, ok := parseTimestamp(lookup(payload, metadataFields.endTime)); ok {
		meta.EndTime = end
	}
	var finalized bool
	if v := lookup(payload, metadataFields.finalized); v != nil && json.Unmarshal(v, &finalized) == nil {
		meta.Finalized = finalized
	}
	return meta, nil
}
