// Package aggregation derives leaderboards, statistics and activity feeds
// from normalized activity records. Every function is pure: the same input
// always produces the same output.
package aggregation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/edison-alpha/backendmome/internal/types"
)

// Deduplicate keeps the first record seen for each source version,
// preserving input order.
func Deduplicate(records []types.ActivityRecord) []types.ActivityRecord {
	seen := make(map[uint64]struct{}, len(records))
	out := make([]types.ActivityRecord, 0, len(records))
	for _, r := range records {
		if _, dup := seen[r.SourceVersion]; dup {
			continue
		}
		seen[r.SourceVersion] = struct{}{}
		out = append(out, r)
	}
	return out
}

func matches(r *types.ActivityRecord, raffleID *int64) bool {
	return raffleID == nil || r.RaffleID == *raffleID
}

type participant struct {
	address   string
	tickets   int64
	spent     decimal.Decimal
	raffles   map[int64]struct{}
	firstSeen uint64
}

// ComputeLeaderboard ranks buyers of ticket purchases, optionally within one
// raffle. Entries are ordered by total tickets descending, then total spent
// descending, then earliest first purchase, then address. limit <= 0 returns
// every entry.
func ComputeLeaderboard(records []types.ActivityRecord, raffleID *int64, limit int) []types.LeaderboardEntry {
	byBuyer := make(map[string]*participant)
	for _, r := range Deduplicate(records) {
		if r.Kind != types.KindTicketPurchase || r.Buyer == "" || !matches(&r, raffleID) {
			continue
		}
		p, ok := byBuyer[r.Buyer]
		if !ok {
			p = &participant{address: r.Buyer, raffles: map[int64]struct{}{}, firstSeen: r.SourceVersion}
			byBuyer[r.Buyer] = p
		}
		p.tickets += r.Tickets()
		p.spent = p.spent.Add(r.Paid())
		p.raffles[r.RaffleID] = struct{}{}
		if r.SourceVersion < p.firstSeen {
			p.firstSeen = r.SourceVersion
		}
	}

	ranked := make([]*participant, 0, len(byBuyer))
	for _, p := range byBuyer {
		ranked = append(ranked, p)
	}
	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.tickets != b.tickets {
			return a.tickets > b.tickets
		}
		if c := a.spent.Cmp(b.spent); c != 0 {
			return c > 0
		}
		if a.firstSeen != b.firstSeen {
			return a.firstSeen < b.firstSeen
		}
		return a.address < b.address
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}

	entries := make([]types.LeaderboardEntry, len(ranked))
	for i, p := range ranked {
		entries[i] = types.LeaderboardEntry{
			Address:      p.address,
			TotalTickets: p.tickets,
			TotalSpent:   p.spent.InexactFloat64(),
			RaffleCount:  len(p.raffles),
			Rank:         i + 1,
		}
	}
	return entries
}

// ComputeStats summarizes records, optionally within one raffle. A raffle
// with no finalization record counts as active.
func ComputeStats(records []types.ActivityRecord, raffleID *int64) types.StatsSnapshot {
	var (
		sold         int64
		volume       = decimal.Zero
		participants = map[string]struct{}{}
		raffles      = map[int64]struct{}{}
		completed    = map[int64]struct{}{}
	)

	for _, r := range Deduplicate(records) {
		if !matches(&r, raffleID) {
			continue
		}
		raffles[r.RaffleID] = struct{}{}

		switch r.Kind {
		case types.KindTicketPurchase:
			sold += r.Tickets()
			volume = volume.Add(r.Paid())
			if r.Buyer != "" {
				participants[r.Buyer] = struct{}{}
			}
		case types.KindRaffleFinalized:
			completed[r.RaffleID] = struct{}{}
		}
	}

	stats := types.StatsSnapshot{
		TotalTicketsSold:   sold,
		TotalVolume:        volume.InexactFloat64(),
		UniqueParticipants: len(participants),
		TotalRaffles:       len(raffles),
		CompletedRaffles:   len(completed),
	}
	stats.ActiveRaffles = stats.TotalRaffles - stats.CompletedRaffles
	if stats.UniqueParticipants > 0 {
		stats.AverageTicketsPerUser = float64(sold) / float64(stats.UniqueParticipants)
	}
	return stats
}

// FeedFilter selects records for an activity feed
type FeedFilter struct {
	RaffleID *int64
	// Address matches the buyer, creator or winner
	Address string
}

func (f FeedFilter) match(r *types.ActivityRecord) bool {
	if !matches(r, f.RaffleID) {
		return false
	}
	if f.Address == "" {
		return true
	}
	return r.Buyer == f.Address || r.Creator == f.Address || r.Winner == f.Address
}

// SelectFeed returns up to limit distinct records matching filter, newest
// source version first.
func SelectFeed(records []types.ActivityRecord, filter FeedFilter, limit int) []types.ActivityRecord {
	selected := make([]types.ActivityRecord, 0, len(records))
	for _, r := range Deduplicate(records) {
		if filter.match(&r) {
			selected = append(selected, r)
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].SourceVersion > selected[j].SourceVersion
	})
	if limit > 0 && len(selected) > limit {
		selected = selected[:limit]
	}
	return selected
}

// Decorate attaches raffle titles to feed records where metadata is known
func Decorate(records []types.ActivityRecord, metadata map[int64]types.RaffleMetadata) []types.ActivityFeedItem {
	items := make([]types.ActivityFeedItem, len(records))
	for i, r := range records {
		items[i] = types.ActivityFeedItem{ActivityRecord: r}
		if meta, ok := metadata[r.RaffleID]; ok {
			items[i].RaffleTitle = meta.Title
		}
	}
	return items
}

// RaffleIDs returns the distinct raffle ids of records in first-seen order
func RaffleIDs(records []types.ActivityRecord) []int64 {
	seen := make(map[int64]struct{}, len(records))
	ids := make([]int64, 0, len(records))
	for _, r := range records {
		if _, dup := seen[r.RaffleID]; dup {
			continue
		}
		seen[r.RaffleID] = struct{}{}
		ids = append(ids, r.RaffleID)
	}
	return ids
}
