// Package adapter talks to the blockchain indexer and node and turns their
// heterogeneous responses into typed activity records.
package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/edison-alpha/backendmome/internal/config"
	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/metrics"
	"github.com/edison-alpha/backendmome/internal/retry"
)

const maxErrorBody = 512

// StatusError is a non-2xx upstream response
type StatusError struct {
	Operation  string
	StatusCode int
	Body       string
	retryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Operation, e.StatusCode, e.Body)
}

// RetryAfter returns the wait requested by the upstream, if any
func (e *StatusError) RetryAfter() time.Duration {
	return e.retryAfter
}

// Throttled reports whether the upstream refused for rate or quota reasons
func (e *StatusError) Throttled() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusForbidden
}

// isThrottled is the retry predicate: only 429 and 403 are retried
func isThrottled(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Throttled()
}

// RawEvent is one untyped event as returned by the indexer
type RawEvent struct {
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
	Version     json.RawMessage `json:"transaction_version"`
	BlockHeight json.RawMessage `json:"transaction_block_height"`
}

// ClientConfig configures the indexer transport
type ClientConfig struct {
	GraphQLURL        string
	NodeURL           string
	APIKey            string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	Retry             retry.Config
}

// ClientConfigFromIndexer maps service configuration onto the transport
func ClientConfigFromIndexer(cfg config.IndexerConfig) ClientConfig {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.MaxAttempts
	retryCfg.InitialDelay = cfg.InitialBackoff
	return ClientConfig{
		GraphQLURL:        cfg.GraphQLURL,
		NodeURL:           cfg.NodeURL,
		APIKey:            cfg.APIKey,
		Timeout:           cfg.Timeout,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Burst:             cfg.Burst,
		Retry:             retryCfg,
	}
}

// IndexerClient is the HTTP transport to the indexer's GraphQL endpoint and
// the node's view function endpoint. Requests are paced by a token bucket,
// guarded by a circuit breaker and retried with backoff on 429/403.
type IndexerClient struct {
	httpClient *http.Client
	cfg        ClientConfig
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *logging.Logger
}

// NewIndexerClient creates a new indexer client
func NewIndexerClient(cfg ClientConfig) *IndexerClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	cfg.Retry.ShouldRetry = isThrottled

	logger := logging.GetGlobalLogger().WithComponent("indexer-client")
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "indexer",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// throttling and caller cancellation say nothing about upstream health
			return err == nil || isThrottled(err) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(map[string]interface{}{
				"name": name,
				"from": from.String(),
				"to":   to.String(),
			}).Warn("circuit breaker state changed")
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &IndexerClient{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		limiter:    rate.NewLimiter(limit, cfg.Burst),
		breaker:    breaker,
		logger:     logger,
	}
}

const eventsQuery = `query RaffleEvents($contract: String!, $limit: Int!, $offset: Int!) {
  events(
    where: {indexed_type: {_like: $contract}}
    order_by: {transaction_version: desc}
    limit: $limit
    offset: $offset
  ) {
    type
    data
    transaction_version
    transaction_block_height
  }
}`

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

type graphQLResponse struct {
	Data struct {
		Events []RawEvent `json:"events"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// QueryEvents returns one page of raw events, newest first
func (c *IndexerClient) QueryEvents(ctx context.Context, contractFilter string, limit, offset int) ([]RawEvent, error) {
	req := graphQLRequest{
		Query: eventsQuery,
		Variables: map[string]interface{}{
			"contract": contractFilter,
			"limit":    limit,
			"offset":   offset,
		},
	}

	var resp graphQLResponse
	if err := c.postJSON(ctx, "events", c.cfg.GraphQLURL, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		messages := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			messages[i] = e.Message
		}
		return nil, fmt.Errorf("graphql: %s", strings.Join(messages, "; "))
	}
	return resp.Data.Events, nil
}

type viewRequest struct {
	Function      string   `json:"function"`
	TypeArguments []string `json:"type_arguments"`
	Arguments     []string `json:"arguments"`
}

// CallView invokes a read-only contract function on the node and returns its
// result values.
func (c *IndexerClient) CallView(ctx context.Context, function string, args ...string) ([]json.RawMessage, error) {
	if c.cfg.NodeURL == "" {
		return nil, errors.New("node url not configured")
	}
	req := viewRequest{Function: function, TypeArguments: []string{}, Arguments: args}
	if req.Arguments == nil {
		req.Arguments = []string{}
	}

	var out []json.RawMessage
	endpoint := strings.TrimRight(c.cfg.NodeURL, "/") + "/view"
	if err := c.postJSON(ctx, "view", endpoint, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *IndexerClient) postJSON(ctx context.Context, operation, endpoint string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", operation, err)
	}

	ctx = logging.WithLogger(ctx, c.logger.WithField("operation", operation))
	result := retry.Do(ctx, c.cfg.Retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.send(ctx, operation, endpoint, body, out)
		})
		return err
	})
	return result.Err()
}

func (c *IndexerClient) send(ctx context.Context, operation, endpoint string, body []byte, out interface{}) error {
	start := time.Now()
	defer func() {
		metrics.UpstreamDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamRequests.WithLabelValues(operation, "transport_error").Inc()
		return fmt.Errorf("%s request failed: %w", operation, err)
	}
	defer resp.Body.Close()

	metrics.UpstreamRequests.WithLabelValues(operation, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Operation:  operation,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
			retryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

// parseRetryAfter accepts the delay-seconds form of Retry-After
func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds < 0 {
		return 0
	}
	return time.Duration(seconds) * time.Second
}
