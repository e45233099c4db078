// Package config provides configuration loading and validation utilities.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	validator "github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configuration from YAML files and environment variables, validates it, and returns the resulting Config.
func Load() (*Config, *viper.Viper, error) {
	if err := godotenv.Load(".env.local", ".env"); err != nil {
		// env files are optional
		_ = err
	}

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}

	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(fmt.Sprintf("./configs/%s.yaml", env))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var pathErr *fs.PathError
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &pathErr) && !errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.AppEnv = env

	return cfg, v, nil
}

// Watch reloads the config file on change and reports the new logger level.
// Only the log level is hot-reloadable; everything else is fixed at startup.
func Watch(v *viper.Viper, log *slog.Logger, onLevel func(level string)) {
	if v == nil || v.ConfigFileUsed() == "" || onLevel == nil {
		return
	}
	if log == nil {
		log = slog.Default()
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}

		level := v.GetString("logger.level")
		log.Info("config file changed", slog.String("file", e.Name), slog.String("log_level", level))
		onLevel(level)
	})
	v.WatchConfig()
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.public_url", "http://localhost:8080")
	v.SetDefault("server.read_header_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "15s")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("logger.file", "")
	v.SetDefault("logger.max_size_mb", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age_days", 14)

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.dial_timeout", "2s")
	v.SetDefault("redis.read_timeout", "500ms")
	v.SetDefault("redis.write_timeout", "500ms")
	v.SetDefault("redis.max_retries", 0)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.user", "sitepulse")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "sitepulse")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.migrations_dir", "")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.store", "redis")
	v.SetDefault("rate_limit.key_prefix", "ratelimit:")
	v.SetDefault("rate_limit.atomic", false)
	v.SetDefault("rate_limit.parallel", false)
	v.SetDefault("rate_limit.trust_forwarded_for", false)
	v.SetDefault("rate_limit.sweep_interval", "1m")
	v.SetDefault("rate_limit.breaker.enabled", true)
	v.SetDefault("rate_limit.breaker.error_rate", 0.5)
	v.SetDefault("rate_limit.breaker.min_requests", 10)
	v.SetDefault("rate_limit.breaker.open_timeout", "30s")
	v.SetDefault("rate_limit.breaker.half_open_max", 3)

	v.SetDefault("jobs.enabled", true)
	v.SetDefault("jobs.concurrency", 2)
	v.SetDefault("jobs.cleanup_schedule", "@every 1h")

	v.SetDefault("cache.idempotency_enabled", true)
	v.SetDefault("cache.idempotency_ttl", "24h")
	v.SetDefault("cache.report_ttl", "5m")
}
