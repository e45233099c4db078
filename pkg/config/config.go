package config

import (
	"fmt"
	"time"
)

// Config holds runtime configuration for the site-pulse API.
type Config struct {
	AppEnv    string          `mapstructure:"app_env"`
	Server    ServerConfig    `mapstructure:"server" validate:"required"`
	Logger    LoggerConfig    `mapstructure:"logger" validate:"required"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	Redis     RedisConfig     `mapstructure:"redis" validate:"required"`
	Database  DatabaseConfig  `mapstructure:"database" validate:"required"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" validate:"required"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Cache     CacheConfig     `mapstructure:"cache"`
}

// ServerConfig configures the public HTTP listener.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" validate:"required"`
	PublicURL         string        `mapstructure:"public_url" validate:"required,url"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LoggerConfig selects log level, format and optional file rotation.
type LoggerConfig struct {
	Level      string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format     string `mapstructure:"format" validate:"oneof=json text console"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// SentryConfig toggles error reporting.
type SentryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn" validate:"required_if=Enabled true"`
}

// RedisConfig mirrors the connection parameters of pkg/redis.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
}

// DatabaseConfig holds PostgreSQL connection settings. An empty MigrationsDir applies
// the schema embedded in the binary.
type DatabaseConfig struct {
	Host          string `mapstructure:"host" validate:"required"`
	Port          string `mapstructure:"port" validate:"required"`
	User          string `mapstructure:"user" validate:"required"`
	Password      string `mapstructure:"password"`
	Name          string `mapstructure:"name" validate:"required"`
	SSLMode       string `mapstructure:"sslmode"`
	MigrationsDir string `mapstructure:"migrations_dir"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host,
		c.Port,
		c.User,
		c.Password,
		c.Name,
		c.SSLMode,
	)
}

// RateLimitConfig configures admission control.
type RateLimitConfig struct {
	Enabled           bool                     `mapstructure:"enabled"`
	Store             string                   `mapstructure:"store" validate:"oneof=redis memory"`
	KeyPrefix         string                   `mapstructure:"key_prefix"`
	Atomic            bool                     `mapstructure:"atomic"`
	Parallel          bool                     `mapstructure:"parallel"`
	TrustForwardedFor bool                     `mapstructure:"trust_forwarded_for"`
	SweepInterval     time.Duration            `mapstructure:"sweep_interval"`
	Policies          map[string]RateLimitRule `mapstructure:"policies" validate:"dive"`
	Breaker           BreakerConfig            `mapstructure:"breaker"`
}

// RateLimitRule describes a single fixed-window policy.
type RateLimitRule struct {
	Window      string `mapstructure:"window" validate:"required"`
	MaxRequests int    `mapstructure:"max_requests" validate:"gt=0"`
}

// BreakerConfig configures the circuit breaker that guards the counter store.
type BreakerConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	ErrorRate   float64       `mapstructure:"error_rate" validate:"gte=0,lte=1"`
	MinRequests int           `mapstructure:"min_requests" validate:"gte=0"`
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
	HalfOpenMax int           `mapstructure:"half_open_max" validate:"gte=0"`
}

// JobsConfig configures the background worker.
type JobsConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	Concurrency     int    `mapstructure:"concurrency" validate:"gte=0"`
	CleanupSchedule string `mapstructure:"cleanup_schedule"`
}

// CacheConfig configures Redis-backed response caching.
type CacheConfig struct {
	IdempotencyEnabled bool          `mapstructure:"idempotency_enabled"`
	IdempotencyTTL     time.Duration `mapstructure:"idempotency_ttl" validate:"gte=0"`
	ReportTTL          time.Duration `mapstructure:"report_ttl" validate:"gte=0"`
}
