// Package worker runs the background control loops of the service.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/edison-alpha/backendmome/internal/config"
	apperrors "github.com/edison-alpha/backendmome/internal/errors"
	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/metrics"
	"github.com/edison-alpha/backendmome/internal/service"
	"github.com/edison-alpha/backendmome/internal/types"
)

// stopTimeout bounds how long Stop waits for an in-flight cycle
const stopTimeout = 30 * time.Second

// PatternInvalidator removes fast tier keys by glob pattern
type PatternInvalidator interface {
	InvalidatePattern(ctx context.Context, pattern string) (int, error)
}

// ExpiredPurger removes slow tier rows past their expiry
type ExpiredPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// EventPoller polls the newest page of raffle events at a fixed interval,
// hands it to ingestion and drops cached activity feeds when records newer
// than any seen before arrive.
type EventPoller struct {
	events      service.EventPager
	ingester    service.Ingester
	invalidator PatternInvalidator
	purger      ExpiredPurger
	interval    time.Duration
	pageSize    int
	invalidate  bool
	purgeEvery  time.Duration
	logger      *logging.Logger
	now         func() time.Time

	mu          sync.RWMutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	lastVersion uint64
	lastPoll    time.Time
	lastErr     error
	cycles      int
	lastPurge   time.Time
	purged      int64
}

// EventPollerConfig holds the collaborators and settings of a poller
type EventPollerConfig struct {
	Events      service.EventPager
	Ingester    service.Ingester
	Invalidator PatternInvalidator
	// Purger is optional; expired slow tier rows are kept when nil
	Purger ExpiredPurger
	Poller config.PollerConfig
}

// NewEventPoller creates a poller
func NewEventPoller(cfg *EventPollerConfig) (*EventPoller, error) {
	if cfg.Events == nil {
		return nil, fmt.Errorf("event source cannot be nil")
	}
	if cfg.Ingester == nil {
		return nil, fmt.Errorf("ingester cannot be nil")
	}
	if cfg.Poller.InvalidateOnNew && cfg.Invalidator == nil {
		return nil, fmt.Errorf("invalidator cannot be nil when invalidation is enabled")
	}

	interval := cfg.Poller.Interval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	pageSize := cfg.Poller.PageSize
	if pageSize <= 0 {
		pageSize = 100
	}

	return &EventPoller{
		events:      cfg.Events,
		ingester:    cfg.Ingester,
		invalidator: cfg.Invalidator,
		purger:      cfg.Purger,
		interval:    interval,
		pageSize:    pageSize,
		invalidate:  cfg.Poller.InvalidateOnNew,
		purgeEvery:  cfg.Poller.PurgeInterval,
		logger:      logging.GetGlobalLogger().WithComponent("event-poller"),
		now:         time.Now,
	}, nil
}

// Start runs one cycle immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (p *EventPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("event poller is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	p.logger.WithFields(map[string]interface{}{
		"interval": p.interval.String(),
		"pageSize": p.pageSize,
	}).Info("starting event poller")

	go p.pollLoop(ctx)
	return nil
}

// Stop signals the loop to exit and waits for the current cycle
func (p *EventPoller) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return fmt.Errorf("event poller is not running")
	}
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.Unlock()

	close(stopCh)

	var err error
	select {
	case <-doneCh:
		p.logger.Info("event poller stopped")
	case <-ctx.Done():
		err = ctx.Err()
	case <-time.After(stopTimeout):
		err = fmt.Errorf("stop timeout")
	}

	if err == nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}
	return err
}

func (p *EventPoller) pollLoop(ctx context.Context) {
	p.mu.RLock()
	stopCh, doneCh := p.stopCh, p.doneCh
	p.mu.RUnlock()
	defer close(doneCh)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("context cancelled")
			p.mu.Lock()
			p.running = false
			p.mu.Unlock()
			return
		case <-stopCh:
			return
		case <-ticker.C:
			p.cycle(ctx)
		}
	}
}

func (p *EventPoller) cycle(ctx context.Context) {
	defer p.purgeExpired(ctx)

	fresh, err := p.Poll(ctx)
	if err != nil {
		metrics.PollCycles.WithLabelValues("error").Inc()
		if apperrors.IsRetryable(err) {
			p.logger.WithError(err).Info("indexer throttled, retrying next cycle")
			return
		}
		p.logger.WithError(err).Warn("poll cycle failed")
		return
	}
	metrics.PollCycles.WithLabelValues("ok").Inc()
	if fresh > 0 {
		p.logger.WithField("records", fresh).Info("new raffle activity")
	}
}

// purgeExpired deletes expired slow tier rows at most once per purge
// interval.
func (p *EventPoller) purgeExpired(ctx context.Context) {
	if p.purger == nil || p.purgeEvery <= 0 {
		return
	}

	now := p.now()
	p.mu.RLock()
	due := p.lastPurge.IsZero() || now.Sub(p.lastPurge) >= p.purgeEvery
	p.mu.RUnlock()
	if !due {
		return
	}

	deleted, err := p.purger.DeleteExpired(ctx)
	if err != nil {
		metrics.CacheErrors.WithLabelValues("slow", "purge").Inc()
		p.logger.WithError(err).Warn("failed to purge expired aggregates")
		return
	}

	p.mu.Lock()
	p.lastPurge = now
	p.purged += deleted
	p.mu.Unlock()
	if deleted > 0 {
		p.logger.WithField("deleted", deleted).Debug("expired aggregates purged")
	}
}

// Poll fetches the newest page, ingests it and invalidates cached feeds when
// it holds records newer than the last seen version. It returns the number
// of such records.
func (p *EventPoller) Poll(ctx context.Context) (int, error) {
	records, err := p.events.FetchPage(ctx, p.pageSize, 0)

	p.mu.Lock()
	p.lastPoll = time.Now()
	p.lastErr = err
	p.cycles++
	lastVersion := p.lastVersion
	p.mu.Unlock()

	if err != nil {
		return 0, fmt.Errorf("fetch newest events: %w", err)
	}

	fresh, newest := newerThan(records, lastVersion)
	if len(records) > 0 {
		if _, err := p.ingester.Process(ctx, records); err != nil {
			p.logger.WithError(err).Warn("ingest incomplete, will retry next cycle")
		}
	}
	if fresh == 0 {
		return 0, nil
	}

	if p.invalidate {
		deleted, err := p.invalidator.InvalidatePattern(ctx, service.ActivityPattern)
		if err != nil {
			metrics.CacheErrors.WithLabelValues("fast", "invalidate").Inc()
			p.logger.WithError(err).Warn("failed to invalidate activity feeds")
		} else {
			p.logger.WithField("deleted", deleted).Debug("activity feeds invalidated")
		}
	}

	p.mu.Lock()
	if newest > p.lastVersion {
		p.lastVersion = newest
	}
	p.mu.Unlock()
	return fresh, nil
}

func newerThan(records []types.ActivityRecord, version uint64) (count int, newest uint64) {
	newest = version
	for _, r := range records {
		if r.SourceVersion > version {
			count++
		}
		if r.SourceVersion > newest {
			newest = r.SourceVersion
		}
	}
	return count, newest
}

// EventPollerStatus is a snapshot of the poller state
type EventPollerStatus struct {
	Running     bool      `json:"running"`
	Interval    string    `json:"interval"`
	LastVersion uint64    `json:"lastVersion,string"`
	LastPoll    time.Time `json:"lastPoll"`
	LastError   string    `json:"lastError,omitempty"`
	Cycles      int       `json:"cycles"`
	LastPurge   time.Time `json:"lastPurge"`
	Purged      int64     `json:"purged"`
}

// GetStatus returns the current poller state
func (p *EventPoller) GetStatus() *EventPollerStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()

	status := &EventPollerStatus{
		Running:     p.running,
		Interval:    p.interval.String(),
		LastVersion: p.lastVersion,
		LastPoll:    p.lastPoll,
		Cycles:      p.cycles,
		LastPurge:   p.lastPurge,
		Purged:      p.purged,
	}
	if p.lastErr != nil {
		status.LastError = p.lastErr.Error()
	}
	return status
}
