package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/upb/auditdrain/utils"
)

// Config represents the complete application configuration
type Config struct {
	Feed          FeedConfig
	Output        OutputConfig
	Database      *DatabaseConfig // Optional: set when the postgres sink is enabled
	Observability ObservabilityConfig
}

// FeedConfig holds the audit feed API configuration
type FeedConfig struct {
	Endpoint          string `validate:"required,url"`
	APIKey            string `validate:"required"`
	AccountID         string `validate:"required"`
	TimeFrame         string `validate:"required"`
	RequestTimeout    time.Duration
	TransientRetryMax int           // consecutive transient failures tolerated per page
	TransientBackoff  time.Duration // sleep between transient retries
	RateLimitBackoff  time.Duration // sleep after a rate-limit response; never counted against the retry budget
}

// OutputConfig holds sink configuration
type OutputConfig struct {
	Format string `validate:"required,oneof=json ndjson csv text postgres"`
	Path   string // empty means stdout; a ".gz" suffix enables gzip compression
}

// DatabaseConfig holds PostgreSQL configuration for the postgres sink.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// ObservabilityConfig holds logging configuration
type ObservabilityConfig struct {
	LogLevel  string `validate:"required"`
	LogFormat string `validate:"oneof=json console"`
}

// New creates a new Config instance by loading environment variables
func New() (*Config, error) {
	cfg, err := NewUnvalidated()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// NewUnvalidated loads configuration from the environment without
// validating it, for callers that overlay values (CLI flags) first.
func NewUnvalidated() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Feed: FeedConfig{
			Endpoint:          getEnv("AUDIT_ENDPOINT", "https://api.catonetworks.com/api/v1/graphql2"),
			APIKey:            getEnv("API_KEY", ""),
			AccountID:         getEnv("ACCOUNT_ID", ""),
			TimeFrame:         getEnv("TIMEFRAME", "last.PT5D"),
			RequestTimeout:    getEnvAsDuration("REQUEST_TIMEOUT", 30*time.Second),
			TransientRetryMax: getEnvAsInt("TRANSIENT_RETRY_MAX", 10),
			TransientBackoff:  getEnvAsDuration("TRANSIENT_BACKOFF", 2*time.Second),
			RateLimitBackoff:  getEnvAsDuration("RATE_LIMIT_BACKOFF", 5*time.Second),
		},
		Output: OutputConfig{
			Format: getEnv("OUTPUT_FORMAT", "json"),
			Path:   getEnv("OUTPUT_PATH", ""),
		},
		Database: loadDatabaseConfig(),
		Observability: ObservabilityConfig{
			LogLevel:  getEnv("LOG_LEVEL", "info"),
			LogFormat: getEnv("LOG_FORMAT", "console"),
		},
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(&c.Feed); err != nil {
		return fmt.Errorf("feed: %w", err)
	}
	if err := utils.ValidateStruct(&c.Output); err != nil {
		return fmt.Errorf("output: %w", err)
	}
	if err := utils.ValidateStruct(&c.Observability); err != nil {
		return fmt.Errorf("observability: %w", err)
	}

	if c.Feed.RequestTimeout <= 0 {
		return fmt.Errorf("request timeout must be positive")
	}
	if c.Feed.TransientRetryMax < 1 {
		return fmt.Errorf("transient retry max must be at least 1")
	}
	if c.Output.Format == "postgres" && c.Database == nil {
		return fmt.Errorf("postgres output requires database configuration: set DATABASE_URL or DB_HOST")
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither is set (no postgres sink).
func loadDatabaseConfig() *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL != "" {
		return &DatabaseConfig{
			ConnectionString: dbURL,
			MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 5),
			MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime:  getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		}
	}
	if getEnv("DB_HOST", "") == "" {
		return nil
	}
	return &DatabaseConfig{
		Host:            getEnv("DB_HOST", "localhost"),
		Port:            getEnvAsInt("DB_PORT", 5432),
		User:            getEnv("DB_USER", "audit"),
		Password:        getEnv("DB_PASSWORD", ""),
		Database:        getEnv("DB_NAME", "audit"),
		SSLMode:         getEnv("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 5),
		MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
