// Package app wires process-scoped handles and services from configuration.
// Optional collaborators are resolved once here into enabled or disabled
// implementations.
package app

import (
	"context"
	"fmt"

	"github.com/edison-alpha/backendmome/internal/adapter"
	"github.com/edison-alpha/backendmome/internal/api"
	"github.com/edison-alpha/backendmome/internal/config"
	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/notification"
	"github.com/edison-alpha/backendmome/internal/service"
	"github.com/edison-alpha/backendmome/internal/storage"
	"github.com/edison-alpha/backendmome/internal/worker"
)

// App holds every long lived handle of a process
type App struct {
	Config     *config.Config
	Postgres   *storage.PostgresDB
	ClickHouse *storage.ClickHouseDB
	Redis      *storage.RedisCache

	Cache         *storage.CacheService
	Events        *adapter.EventSource
	Notifications *notification.Service
	Ingest        *service.IngestService
	Activity      *service.ActivityService
	Admin         *service.CacheAdmin
	Poller        *worker.EventPoller

	logger *logging.Logger
}

// New connects to the stores and builds the services. On error every handle
// opened so far is closed.
func New(ctx context.Context, cfg *config.Config) (_ *App, err error) {
	a := &App{Config: cfg, logger: logging.FromContext(ctx).WithComponent("app")}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.logger.Info("connecting to databases")
	if a.Postgres, err = storage.NewPostgresDB(&cfg.Database.Postgres); err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if a.Redis, err = storage.NewRedisCache(&cfg.Database.Redis); err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}

	var sink service.ActivitySink = service.DisabledSink{}
	if cfg.Database.ClickHouse.Enabled() {
		if a.ClickHouse, err = storage.NewClickHouseDB(&cfg.Database.ClickHouse); err != nil {
			return nil, fmt.Errorf("clickhouse: %w", err)
		}
		sink = storage.NewActivityRepository(a.ClickHouse)
	} else {
		a.logger.Info("clickhouse not configured, analytics persistence disabled")
	}

	a.Cache = storage.NewCacheService(a.Redis)

	client := adapter.NewIndexerClient(adapter.ClientConfigFromIndexer(cfg.Indexer))
	a.Events = adapter.NewEventSource(client, cfg.Indexer.ContractAddress)

	var metadata adapter.MetadataProvider = adapter.DisabledMetadata{}
	if cfg.Indexer.NodeURL != "" {
		metadata = adapter.NewMetadataFetcher(client, a.Cache, cfg.Indexer.ContractAddress, cfg.Indexer.MetadataConcurrency, cfg.Cache.MetadataTTL)
	} else {
		a.logger.Info("node URL not configured, raffle metadata disabled")
	}

	if !cfg.Notifications.Enabled() {
		a.logger.Info("kafka not configured, notifications are recorded but not published")
	}
	a.Notifications = notification.NewService(
		storage.NewNotificationRepository(a.Postgres.Pool()),
		notification.NewPublisher(cfg.Notifications),
	)

	a.Ingest = service.NewIngestService(
		sink,
		a.Notifications,
		storage.NewEventLedger(a.Cache, storage.LedgerActivity, cfg.Cache.LedgerTTL),
		storage.NewEventLedger(a.Cache, storage.LedgerNotification, cfg.Cache.LedgerTTL),
	)

	slow := storage.NewSlowCacheRepository(a.Postgres.Pool())
	tiers := storage.NewTieredCache(a.Cache, slow)
	a.Activity = service.NewActivityService(a.Events, tiers, metadata, a.Ingest, cfg.Cache)
	a.Admin = service.NewCacheAdmin(a.Cache)

	if cfg.Poller.Enabled {
		a.Poller, err = worker.NewEventPoller(&worker.EventPollerConfig{
			Events:      a.Events,
			Ingester:    a.Ingest,
			Invalidator: a.Cache,
			Purger:      slow,
			Poller:      cfg.Poller,
		})
		if err != nil {
			return nil, fmt.Errorf("event poller: %w", err)
		}
	}

	return a, nil
}

// HealthChecks returns the dependency probes served on /health
func (a *App) HealthChecks() []api.HealthCheck {
	checks := []api.HealthCheck{
		{Name: "redis", Check: a.Cache.Ping},
		{Name: "postgres", Check: a.Postgres.Ping},
	}
	if a.ClickHouse != nil {
		checks = append(checks, api.HealthCheck{Name: "clickhouse", Check: a.ClickHouse.Ping})
	}
	return checks
}

// Close waits for detached ingests and releases every handle
func (a *App) Close() {
	if a.Activity != nil {
		a.Activity.Wait()
	}
	if a.Notifications != nil {
		if err := a.Notifications.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close notification publisher")
		}
	}
	if a.ClickHouse != nil {
		if err := a.ClickHouse.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close clickhouse")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.WithError(err).Warn("failed to close redis")
		}
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}
