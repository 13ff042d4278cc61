// Package retry runs an operation with exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/edison-alpha/backendmome/internal/logging"
)

// Config configures retry behavior
type Config struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// ShouldRetry decides whether a failed attempt is retried. Nil retries
	// every error.
	ShouldRetry func(error) bool
}

// DefaultConfig returns the upstream retry policy: 3 attempts, 500ms, 1s
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
	}
}

// Result describes how an operation finished
type Result struct {
	Attempts      int
	Success       bool
	TotalDuration time.Duration
	LastError     error
}

// Err returns nil on success, otherwise the last error annotated with the
// number of attempts.
func (r *Result) Err() error {
	if r.Success {
		return nil
	}
	return fmt.Errorf("operation failed after %d attempts: %w", r.Attempts, r.LastError)
}

// Func is one attempt of a retried operation. attempt starts at 1.
type Func func(ctx context.Context, attempt int) error

// RetryAfterError is implemented by errors carrying a server supplied wait
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Do executes fn until it succeeds, ShouldRetry rejects the error, the
// attempts are exhausted or ctx is done.
func Do(ctx context.Context, cfg Config, fn Func) *Result {
	logger := logging.FromContext(ctx)
	start := time.Now()
	result := &Result{}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		err := fn(ctx, attempt)
		if err == nil {
			result.Success = true
			result.LastError = nil
			result.TotalDuration = time.Since(start)
			if attempt > 1 {
				logger.WithField("attempts", attempt).Info("operation succeeded after retry")
			}
			return result
		}
		result.LastError = err

		if cfg.ShouldRetry != nil && !cfg.ShouldRetry(err) {
			break
		}
		if attempt == maxAttempts {
			logger.WithError(err).WithField("attempts", attempt).Warn("operation failed after max retry attempts")
			break
		}

		delay := Delay(cfg, attempt)
		var ra RetryAfterError
		if errors.As(err, &ra) && ra.RetryAfter() > delay {
			delay = ra.RetryAfter()
			if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}

		logger.WithError(err).WithFields(map[string]interface{}{
			"attempt":     attempt,
			"maxAttempts": maxAttempts,
			"delay":       delay.String(),
		}).Warn("operation failed, backing off")

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			result.LastError = ctx.Err()
			result.TotalDuration = time.Since(start)
			return result
		}
	}

	result.TotalDuration = time.Since(start)
	return result
}

// Delay returns the wait after the given failed attempt:
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func Delay(cfg Config, attempt int) time.Duration {
	multiplier := cfg.Multiplier
	if multiplier <= 0 {
		multiplier = 1
	}
	delay := float64(cfg.InitialDelay) * math.Pow(multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
