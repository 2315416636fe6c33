// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Run modes for the insights worker.
const (
	RunModeLoop = "loop"
	RunModeOnce = "once"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Database (PostgreSQL)
	DatabaseURL      string `env:"DATABASE_URL,required,notEmpty"`
	DatabaseMaxConns int32  `env:"DATABASE_MAX_CONNS" envDefault:"10"`
	MigrateOnStart   bool   `env:"MIGRATE_ON_START" envDefault:"false"`

	// Cache (Redis)
	RedisURL         string        `env:"REDIS_URL,required,notEmpty"`
	RedisPoolSize    int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	RedisDialTimeout time.Duration `env:"REDIS_DIAL_TIMEOUT" envDefault:"5s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Insights cache
	// Bumping the version forces recomputation of every entry regardless of hash.
	CacheVersion string `env:"INSIGHTS_CACHE_VERSION" envDefault:"v1"`

	// Insights generation thresholds
	MinDataPoints         int64   `env:"INSIGHTS_MIN_DATA_POINTS" envDefault:"10"`
	TrendThresholdPercent float64 `env:"INSIGHTS_TREND_THRESHOLD_PERCENT" envDefault:"15"`

	// Orchestrator
	RunMode         string        `env:"INSIGHTS_RUN_MODE" envDefault:"loop"`
	BatchSize       int           `env:"INSIGHTS_BATCH_SIZE" envDefault:"50"`
	Concurrency     int           `env:"INSIGHTS_CONCURRENCY" envDefault:"5"`
	JobTimeout      time.Duration `env:"INSIGHTS_TIMEOUT" envDefault:"30s"`
	PollInterval    time.Duration `env:"INSIGHTS_POLL_INTERVAL" envDefault:"30s"`
	CleanupInterval time.Duration `env:"INSIGHTS_CLEANUP_INTERVAL" envDefault:"1h"`
	NotifyEnabled   bool          `env:"INSIGHTS_NOTIFY_ENABLED" envDefault:"true"`

	// Aggregation circuit breaker
	BreakerFailures uint32        `env:"INSIGHTS_BREAKER_FAILURES" envDefault:"5"`
	BreakerTimeout  time.Duration `env:"INSIGHTS_BREAKER_TIMEOUT" envDefault:"60s"`

	// Operations endpoints are disabled when no hash is configured.
	// Format: argon2id PHC string.
	AdminTokenHash string `env:"ADMIN_TOKEN_HASH" envDefault:""`

	// Force-refresh throttling per user
	RefreshRatePerHour int `env:"REFRESH_RATE_PER_HOUR" envDefault:"6"`
	RefreshBurst       int `env:"REFRESH_BURST" envDefault:"3"`
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Validate checks values that env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.CacheVersion == "" {
		errs = append(errs, errors.New("INSIGHTS_CACHE_VERSION must not be empty"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("INSIGHTS_BATCH_SIZE must be positive, got %d", c.BatchSize))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("INSIGHTS_CONCURRENCY must be positive, got %d", c.Concurrency))
	}
	if c.JobTimeout <= 0 {
		errs = append(errs, fmt.Errorf("INSIGHTS_TIMEOUT must be positive, got %s", c.JobTimeout))
	}
	if c.RunMode != RunModeLoop && c.RunMode != RunModeOnce {
		errs = append(errs, fmt.Errorf("INSIGHTS_RUN_MODE must be %q or %q, got %q", RunModeLoop, RunModeOnce, c.RunMode))
	}
	if c.RunMode == RunModeLoop && c.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("INSIGHTS_POLL_INTERVAL must be positive, got %s", c.PollInterval))
	}
	if c.MinDataPoints < 0 {
		errs = append(errs, fmt.Errorf("INSIGHTS_MIN_DATA_POINTS must not be negative, got %d", c.MinDataPoints))
	}

	return errors.Join(errs...)
}

// Load parses environment variables and returns a validated Config.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
