// Package main provides the API server entry point for the raffle read model.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/edison-alpha/backendmome/internal/api"
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
	)
	logger.WithFields(map[string]interface{}{
		"level":  cfg.Logging.Level,
		"format": cfg.Logging.Format,
	}).Info("Structured logging initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithLogger(ctx, logger)

	if err := run(ctx, cfg, logger); err != nil {
		stop()
		logger.WithError(err).Fatal("Server terminated")
	}
	logger.Info("Server exited")
}

// run serves until ctx is cancelled or the listener fails. Every handle it
// opens is closed before it returns.
func run(ctx context.Context, cfg *config.Config, logger *logging.Logger) error {
	application, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer application.Close()

	if application.Poller != nil {
		if err := application.Poller.Start(ctx); err != nil {
			return fmt.Errorf("start event poller: %w", err)
		}
	}

	serverConfig := api.NewServerConfig(cfg)
	server := api.NewServer(serverConfig, application.Activity, application.Admin, application.HealthChecks()...)

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
		logger.WithError(serveErr).Error("Server failed")
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if application.Poller != nil {
		if err := application.Poller.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Event poller did not stop cleanly")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}
	return serveErr
}
