package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/hibiken/asynq"
	_ "github.com/lib/pq"

	"github.com/Proton-105/site-pulse/internal/analytics"
	"github.com/Proton-105/site-pulse/internal/api"
	"github.com/Proton-105/site-pulse/internal/cache"
	"github.com/Proton-105/site-pulse/internal/database"
	apperrors "github.com/Proton-105/site-pulse/internal/errors"
	"github.com/Proton-105/site-pulse/internal/health"
	"github.com/Proton-105/site-pulse/internal/idempotency"
	"github.com/Proton-105/site-pulse/internal/jobs"
	jobhandlers "github.com/Proton-105/site-pulse/internal/jobs/handlers"
	"github.com/Proton-105/site-pulse/internal/lifecycle"
	"github.com/Proton-105/site-pulse/internal/middleware"
	"github.com/Proton-105/site-pulse/internal/ratelimit"
	"github.com/Proton-105/site-pulse/internal/repository"
	"github.com/Proton-105/site-pulse/migrations"
	"github.com/Proton-105/site-pulse/pkg/config"
	"github.com/Proton-105/site-pulse/pkg/graceful"
	"github.com/Proton-105/site-pulse/pkg/logger"
	appredis "github.com/Proton-105/site-pulse/pkg/redis"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("site-pulse exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, v, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Sentry.Enabled {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.Sentry.DSN,
			Environment: cfg.AppEnv,
		}); err != nil {
			return fmt.Errorf("init sentry: %w", err)
		}
		defer sentry.Flush(2 * time.Second)
	}

	log, level := logger.New(*cfg)
	slog.SetDefault(log)
	config.Watch(v, log, func(l string) { level.Set(logger.ParseLevel(l)) })

	log.Info("starting site-pulse",
		slog.String("addr", cfg.Server.Addr),
		slog.String("rate_limit_store", cfg.RateLimit.Store),
		slog.Bool("rate_limit_enabled", cfg.RateLimit.Enabled),
	)

	shutdown := lifecycle.NewShutdown(log)
	checker := health.NewChecker(log)

	redisClient, err := appredis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	shutdown.Register("redis", func(context.Context) error { return redisClient.Close() })
	checker.AddCheck("redis", redisClient)

	db, err := openDatabase(ctx, cfg.Database, log)
	if err != nil {
		return err
	}
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })
	checker.AddCheck("postgres", health.NewDBChecker(db))

	siteRepo := repository.NewSiteRepository(db, log)
	eventRepo := repository.NewEventRepository(db, log)

	var serviceOpts []analytics.Option
	if cfg.Cache.ReportTTL > 0 {
		reports := cache.NewJSON[analytics.Report](redisClient, "report:")
		serviceOpts = append(serviceOpts, analytics.WithReportCache(reports, cfg.Cache.ReportTTL))
	}
	svc := analytics.NewService(siteRepo, eventRepo, cfg.Server.PublicURL, log, serviceOpts...)

	admission, err := newAdmission(ctx, cfg.RateLimit, redisClient, log)
	if err != nil {
		return err
	}

	if cfg.Jobs.Enabled {
		if err := startJobs(ctx, cfg, eventRepo, shutdown, log); err != nil {
			return err
		}
	}

	errHandler := apperrors.NewHandler(log, cfg.Sentry.Enabled)

	var idempotent func(http.Handler) http.Handler
	if cfg.Cache.IdempotencyEnabled {
		manager := idempotency.NewManager(idempotency.NewRedisStore(redisClient, log), log)
		idempotent = middleware.Idempotency(manager, cfg.Cache.IdempotencyTTL, errHandler, log)
	}

	router := api.NewRouter(api.RouterConfig{
		Handlers:    api.NewHandlers(svc, errHandler, log, api.WithForwardedClientIP(cfg.RateLimit.TrustForwardedFor)),
		Admission:   admission,
		Idempotency: idempotent,
		Probes:      lifecycle.NewProbes(checker, log),
		ErrHandler:  errHandler,
		Log:         log,
	})

	srv := graceful.NewServer(log, &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}, cfg.Server.ShutdownTimeout)

	serveErr := srv.ListenAndServe(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return errors.Join(serveErr, shutdown.Execute(shutdownCtx))
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	migrator := database.NewMigrator(db, log)
	if cfg.MigrationsDir != "" {
		err = migrator.ApplyDir(ctx, cfg.MigrationsDir)
	} else {
		err = migrator.Apply(ctx, migrations.FS, ".")
	}
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	log.Info("database migrations applied")

	return db, nil
}

// newAdmission builds the rate-limit middleware from config. It returns nil when rate
// limiting is disabled.
func newAdmission(ctx context.Context, cfg config.RateLimitConfig, redisClient *appredis.Client, log *slog.Logger) (*middleware.Admission, error) {
	if !cfg.Enabled {
		log.Warn("rate limiting disabled")
		return nil, nil
	}

	policies, err := ratelimit.PoliciesFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("rate limit policies: %w", err)
	}

	var store ratelimit.Store
	switch cfg.Store {
	case "memory":
		mem := ratelimit.NewMemoryStore()
		go ratelimit.NewCleaner(mem, log, cfg.SweepInterval).Run(ctx)
		store = mem
	default:
		store = ratelimit.NewRedisStore(redisClient, cfg.KeyPrefix, log)
	}

	if cfg.Breaker.Enabled {
		breaker := apperrors.NewCircuitBreaker(apperrors.BreakerSettings{
			ErrorThreshold:      cfg.Breaker.ErrorRate,
			MinRequests:         cfg.Breaker.MinRequests,
			OpenTimeout:         cfg.Breaker.OpenTimeout,
			HalfOpenMaxRequests: cfg.Breaker.HalfOpenMax,
		})
		store = ratelimit.NewBreakerStore(store, breaker, log)
	}

	var limiterOpts []ratelimit.Option
	if cfg.Atomic {
		limiterOpts = append(limiterOpts, ratelimit.WithAtomicIncrement())
	}
	limiter := ratelimit.NewLimiter(store, policies, log, limiterOpts...)

	var aggOpts []ratelimit.AggregatorOption
	if cfg.Parallel {
		aggOpts = append(aggOpts, ratelimit.WithParallel())
	}
	aggregator := ratelimit.NewAggregator(limiter, log, aggOpts...)

	return middleware.NewAdmission(aggregator, log, middleware.WithTrustForwardedFor(cfg.TrustForwardedFor)), nil
}

func startJobs(ctx context.Context, cfg *config.Config, events repository.EventRepository, shutdown *lifecycle.Shutdown, log *slog.Logger) error {
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	worker := jobs.NewWorker(redisOpt, jobs.DefaultQueues, cfg.Jobs.Concurrency, log)
	worker.RegisterHandler(jobs.TaskTypeEventsCleanup, jobhandlers.NewEventsCleanupHandler(events, log))
	if err := worker.Start(); err != nil {
		return fmt.Errorf("start jobs worker: %w", err)
	}
	shutdown.Register("jobs-worker", func(context.Context) error {
		worker.Shutdown()
		return nil
	})

	scheduler := jobs.NewScheduler(redisOpt, log)
	if err := scheduler.RegisterTasks(cfg.Jobs.CleanupSchedule); err != nil {
		return fmt.Errorf("register scheduled tasks: %w", err)
	}
	scheduler.Run()
	shutdown.Register("jobs-scheduler", func(context.Context) error {
		scheduler.Shutdown()
		return nil
	})

	manager := jobs.NewManager(redisOpt, log)
	shutdown.Register("jobs-client", func(context.Context) error { return manager.Close() })

	task, err := jobs.NewEventsCleanupTask(time.Time{})
	if err != nil {
		return err
	}
	if _, err := manager.Enqueue(ctx, task); err != nil {
		log.Warn("initial events cleanup not enqueued", slog.Any("error", err))
	}

	return nil
}
