// Package api provides the HTTP read API of the raffle read model.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edison-alpha/backendmome/internal/config"
	"github.com/edison-alpha/backendmome/internal/logging"
	"github.com/edison-alpha/backendmome/internal/service"
	"github.com/edison-alpha/backendmome/internal/types"
)

// ActivityReader serves the read model
type ActivityReader interface {
	GetGlobalActivity(ctx context.Context, limit int) (*service.Result[[]types.ActivityFeedItem], error)
	GetRaffleActivity(ctx context.Context, raffleID int64, limit int) (*service.Result[[]types.ActivityFeedItem], error)
	GetUserActivity(ctx context.Context, address string, limit int) (*service.Result[[]types.ActivityFeedItem], error)
	GetGlobalLeaderboard(ctx context.Context, limit int) (*service.Result[[]types.LeaderboardEntry], error)
	GetRaffleLeaderboard(ctx context.Context, raffleID int64, limit int) (*service.Result[[]types.LeaderboardEntry], error)
	GetPlatformStats(ctx context.Context) (*service.Result[types.StatsSnapshot], error)
	GetRaffleStats(ctx context.Context, raffleID int64) (*service.Result[types.StatsSnapshot], error)
}

// CacheAdministrator invalidates the fast tier on operator request
type CacheAdministrator interface {
	Flush(ctx context.Context) error
	DeleteKey(ctx context.Context, key string) error
	DeletePattern(ctx context.Context, pattern string) (int, error)
}

// HealthCheck probes one dependency
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Server represents the HTTP API server.
type Server struct {
	router      *mux.Router
	httpServer  *http.Server
	activity    ActivityReader
	admin       CacheAdministrator
	checks      []HealthCheck
	rateLimiter *RateLimiter
	config      *ServerConfig
	logger      *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	AllowedOrigins    []string
	RequestsPerSecond float64
	Burst             int
	// AdminToken guards the cache administration routes; empty disables them
	AdminToken string
}

// NewServerConfig builds the server configuration from the loaded config
func NewServerConfig(cfg *config.Config) *ServerConfig {
	return &ServerConfig{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       2 * cfg.Server.ReadTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		AdminToken:        cfg.Admin.Token,
	}
}

// NewServer creates a new API server instance. admin may be nil.
func NewServer(cfg *ServerConfig, activity ActivityReader, admin CacheAdministrator, checks ...HealthCheck) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		activity:    activity,
		admin:       admin,
		checks:      checks,
		rateLimiter: NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
		config:      cfg,
		logger:      logging.GetGlobalLogger().WithComponent("api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware(s.config.AllowedOrigins))

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.NotFoundHandler = http.HandlerFunc(handleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)

	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.NotFoundHandler = s.router.NotFoundHandler
	api.MethodNotAllowedHandler = s.router.MethodNotAllowedHandler
	api.Use(RateLimitMiddleware(s.rateLimiter))
	api.Use(CompressionMiddleware)

	api.HandleFunc("/activity", s.handleGlobalActivity).Methods(http.MethodGet)
	api.HandleFunc("/activity/raffle/{raffleId}", s.handleRaffleActivity).Methods(http.MethodGet)
	api.HandleFunc("/activity/user/{address}", s.handleUserActivity).Methods(http.MethodGet)

	api.HandleFunc("/leaderboard", s.handleGlobalLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard/raffle/{raffleId}", s.handleRaffleLeaderboard).Methods(http.MethodGet)

	api.HandleFunc("/stats", s.handlePlatformStats).Methods(http.MethodGet)
	api.HandleFunc("/stats/raffle/{raffleId}", s.handleRaffleStats).Methods(http.MethodGet)

	if s.admin == nil || s.config.AdminToken == "" {
		s.logger.Info("cache administration routes disabled")
		return
	}
	admin := api.PathPrefix("/cache").Subrouter()
	admin.Use(AdminAuthMiddleware(s.config.AdminToken))
	admin.HandleFunc("/flush", s.handleFlushCache).Methods(http.MethodPost)
	admin.HandleFunc("/keys/{key}", s.handleDeleteCacheKey).Methods(http.MethodDelete)
	admin.HandleFunc("", s.handleDeleteCachePattern).Methods(http.MethodDelete).Queries("pattern", "{pattern}")
}

// Handler returns the root handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}
