// Package main provides the event poller entry point. It runs ingestion and
// feed invalidation without serving the API.
package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/edison-alpha/backendmome/internal/app"
	"github.com/edison-alpha/backendmome/internal/config"
	"github.com/edison-alpha/backendmome/internal/logging"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	).WithComponent("worker")

	// The worker exists to poll, whatever the server-side toggle says.
	cfg.Poller.Enabled = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	if err := run(ctx, cfg, logger); err != nil {
		stop()
		logger.WithError(err).Fatal("Worker terminated")
	}
}

// run polls until ctx is cancelled. Every handle it opens is closed before
// it returns.
func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer application.Close()

	if err := application.Poller.Start(ctx); err != nil {
		return fmt.Errorf("start event poller: %w", err)
	}
	logger.WithField("interval", cfg.Poller.Interval.String()).Info("Worker started")

	<-ctx.Done()
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := application.Poller.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Event poller did not stop cleanly")
	}
	status := application.Poller.GetStatus()
	logger.WithFields(map[string]interface{}{
		"cycles":      status.Cycles,
		"lastVersion": status.LastVersion,
		"purged":      status.Purged,
	}).Info("Worker exited")
	return nil
}
