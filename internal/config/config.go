// Package config loads the raffle read-model service configuration from
// environment variables and an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	apperrors "github.com/edison-alpha/backendmome/internal/errors"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Indexer       IndexerConfig
	Cache         CacheConfig
	Notifications NotificationConfig
	Poller        PollerConfig
	RateLimit     RateLimitConfig
	Logging       LoggingConfig
	Admin         AdminConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	AllowedOrigins  []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
}

// DSN returns the keyword/value connection string
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s pool_max_conns=%d",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode, c.MaxConnections,
	)
}

// URL returns the postgres:// form used by the migration tool
func (c PostgresConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

// ClickHouseConfig holds ClickHouse configuration. Analytics history is
// disabled when Host is empty.
type ClickHouseConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// Enabled reports whether an analytics store was configured
func (c ClickHouseConfig) Enabled() bool {
	return c.Host != ""
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// IndexerConfig describes the upstream blockchain indexer and node
type IndexerConfig struct {
	GraphQLURL          string
	NodeURL             string
	ContractAddress     string
	APIKey              string
	Timeout             time.Duration
	RequestsPerSecond   float64
	Burst               int
	MaxAttempts         int
	InitialBackoff      time.Duration
	MetadataConcurrency int
}

// CacheConfig holds per data class TTLs and aggregation window sizes
type CacheConfig struct {
	ActivityTTL        time.Duration
	LeaderboardTTL     time.Duration
	LeaderboardSlowTTL time.Duration
	StatsTTL           time.Duration
	StatsSlowTTL       time.Duration
	MetadataTTL        time.Duration
	SlowFreshness      time.Duration
	LedgerTTL          time.Duration
	AggregationWindow  int
	PageSize           int
}

// NotificationConfig holds the Kafka publisher settings. Publication is
// disabled when no brokers are configured.
type NotificationConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
}

// Enabled reports whether notifications are published to Kafka
func (c NotificationConfig) Enabled() bool {
	return len(c.KafkaBrokers) > 0
}

// PollerConfig holds event poller configuration
type PollerConfig struct {
	Enabled         bool
	Interval        time.Duration
	PageSize        int
	InvalidateOnNew bool
	// PurgeInterval spaces slow tier expiry sweeps; zero disables them
	PurgeInterval time.Duration
}

// RateLimitConfig holds per client API rate limits
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// AdminConfig guards the cache administration endpoints
type AdminConfig struct {
	Token string
}

// LoadConfig loads configuration from .env file and environment variables
// and validates the required settings.
func LoadConfig() (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads the configuration without validating it. Tools that only need
// the database settings use it directly.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
			AllowedOrigins:  getEnvAsList("SERVER_ALLOWED_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "raffle_cache"),
				User:           getEnv("POSTGRES_USER", "raffle"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Host:     getEnv("CLICKHOUSE_HOST", ""),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "raffle_analytics"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Indexer: IndexerConfig{
			GraphQLURL:          getEnv("INDEXER_GRAPHQL_URL", ""),
			NodeURL:             getEnv("INDEXER_NODE_URL", ""),
			ContractAddress:     getEnv("RAFFLE_CONTRACT_ADDRESS", ""),
			APIKey:              getEnv("INDEXER_API_KEY", ""),
			Timeout:             getEnvAsDuration("INDEXER_TIMEOUT", 15*time.Second),
			RequestsPerSecond:   getEnvAsFloat("INDEXER_RPS", 5),
			Burst:               getEnvAsInt("INDEXER_BURST", 5),
			MaxAttempts:         getEnvAsInt("INDEXER_MAX_ATTEMPTS", 3),
			InitialBackoff:      getEnvAsDuration("INDEXER_INITIAL_BACKOFF", 500*time.Millisecond),
			MetadataConcurrency: getEnvAsInt("INDEXER_METADATA_CONCURRENCY", 10),
		},
		Cache: CacheConfig{
			ActivityTTL:        getEnvAsDuration("CACHE_ACTIVITY_TTL", 30*time.Second),
			LeaderboardTTL:     getEnvAsDuration("CACHE_LEADERBOARD_TTL", 60*time.Second),
			LeaderboardSlowTTL: getEnvAsDuration("CACHE_LEADERBOARD_SLOW_TTL", time.Hour),
			StatsTTL:           getEnvAsDuration("CACHE_STATS_TTL", 60*time.Second),
			StatsSlowTTL:       getEnvAsDuration("CACHE_STATS_SLOW_TTL", time.Hour),
			MetadataTTL:        getEnvAsDuration("CACHE_METADATA_TTL", 5*time.Minute),
			SlowFreshness:      getEnvAsDuration("CACHE_SLOW_FRESHNESS", 5*time.Minute),
			LedgerTTL:          getEnvAsDuration("CACHE_LEDGER_TTL", 24*time.Hour),
			AggregationWindow:  getEnvAsInt("CACHE_AGGREGATION_WINDOW", 2000),
			PageSize:           getEnvAsInt("CACHE_PAGE_SIZE", 500),
		},
		Notifications: NotificationConfig{
			KafkaBrokers: getEnvAsList("KAFKA_BROKERS", nil),
			KafkaTopic:   getEnv("KAFKA_NOTIFICATION_TOPIC", "raffle-notifications"),
		},
		Poller: PollerConfig{
			Enabled:         getEnvAsBool("POLLER_ENABLED", true),
			Interval:        getEnvAsDuration("POLLER_INTERVAL", 15*time.Second),
			PageSize:        getEnvAsInt("POLLER_PAGE_SIZE", 100),
			InvalidateOnNew: getEnvAsBool("POLLER_INVALIDATE_ON_NEW", true),
			PurgeInterval:   getEnvAsDuration("POLLER_PURGE_INTERVAL", 10*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Admin: AdminConfig{
			Token: getEnv("ADMIN_TOKEN", ""),
		},
	}

	return cfg, nil
}

// MaxIndexerPageSize is the largest page the indexer serves in one request
const MaxIndexerPageSize = 1000

// Validate checks the settings the service cannot start without
func (c *Config) Validate() error {
	if c.Indexer.GraphQLURL == "" {
		return apperrors.NewConfigError("INDEXER_GRAPHQL_URL", "indexer URL is required")
	}
	if c.Indexer.ContractAddress == "" {
		return apperrors.NewConfigError("RAFFLE_CONTRACT_ADDRESS", "contract address is required")
	}
	if c.Indexer.MaxAttempts < 1 {
		return apperrors.NewConfigError("INDEXER_MAX_ATTEMPTS", "must be at least 1")
	}
	if c.Indexer.MetadataConcurrency < 1 {
		return apperrors.NewConfigError("INDEXER_METADATA_CONCURRENCY", "must be at least 1")
	}
	if c.Cache.PageSize < 1 || c.Cache.AggregationWindow < c.Cache.PageSize {
		return apperrors.NewConfigError("CACHE_PAGE_SIZE", "page size must be positive and not exceed the aggregation window")
	}
	if c.Cache.PageSize > MaxIndexerPageSize {
		return apperrors.NewConfigError("CACHE_PAGE_SIZE", fmt.Sprintf("page size must not exceed %d", MaxIndexerPageSize))
	}
	if c.Poller.Enabled && c.Poller.Interval <= 0 {
		return apperrors.NewConfigError("POLLER_INTERVAL", "must be positive")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	value, err := strconv.ParseFloat(getEnv(key, ""), 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList splits a comma separated variable, dropping empty items
func getEnvAsList(key string, defaultValue []string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
