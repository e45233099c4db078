// Package logger builds the structured slog logger used across the service.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	slogsentry "github.com/samber/slog-sentry/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Proton-105/site-pulse/pkg/config"
)

// New creates the application logger and returns the level variable so the level
// can be changed at runtime.
func New(cfg config.Config) (*slog.Logger, *slog.LevelVar) {
	level := new(slog.LevelVar)
	level.Set(ParseLevel(cfg.Logger.Level))

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cfg.Logger.Level == "debug",
	}

	out := writer(cfg.Logger)

	var handler slog.Handler
	switch cfg.Logger.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	case "console":
		handler = tint.NewHandler(out, &tint.Options{
			Level:      level,
			AddSource:  opts.AddSource,
			TimeFormat: time.DateTime,
			NoColor:    cfg.Logger.File != "",
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				if err, ok := a.Value.Any().(error); ok && a.Key == "error" {
					return tint.Err(err)
				}
				return a
			},
		})
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if cfg.Sentry.Enabled {
		sentryHandler := slogsentry.Option{Level: slog.LevelError}.NewSentryHandler()
		handler = NewFanoutHandler(handler, sentryHandler)
	}

	log := slog.New(NewMaskingHandler(handler))
	if cfg.AppEnv != "" {
		log = log.With(slog.String("env", cfg.AppEnv))
	}

	return log, level
}

// ParseLevel maps a textual level to slog.Level, defaulting to info.
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func writer(cfg config.LoggerConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}

	return &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}
