// Package main is the entrypoint for the insights service.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/penshort/insights/internal/aggregator"
	"github.com/penshort/insights/internal/cache"
	"github.com/penshort/insights/internal/config"
	"github.com/penshort/insights/internal/database"
	"github.com/penshort/insights/internal/generator"
	"github.com/penshort/insights/internal/handler"
	"github.com/penshort/insights/internal/insightcache"
	"github.com/penshort/insights/internal/metrics"
	"github.com/penshort/insights/internal/middleware"
	"github.com/penshort/insights/internal/orchestrator"
	"github.com/penshort/insights/internal/repository"
	"github.com/penshort/insights/internal/server"
)

func main() {
	ctx := context.Background()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if cfg.MigrateOnStart {
		if err := database.Migrate(cfg.DatabaseURL, logger); err != nil {
			logger.Error("failed to migrate database", slog.String("error", sanitizeError(err, cfg.DatabaseURL)))
			os.Exit(1)
		}
	}

	// Initialize database
	repo, err := repository.New(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		logger.Error(
			"failed to connect to database",
			slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
			slog.String("database_url", redactURL(cfg.DatabaseURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to database")

	// Initialize cache
	cacheClient, err := cache.New(ctx, cfg.RedisURL, cache.Options{
		PoolSize:    cfg.RedisPoolSize,
		DialTimeout: cfg.RedisDialTimeout,
	})
	if err != nil {
		repo.Close()
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	logger.Info("connected to Redis")

	recorder := metrics.NewPrometheus(prometheus.DefaultRegisterer)

	manager := insightcache.NewManager(
		repository.NewInsightsCacheRepository(repo),
		cfg.CacheVersion,
		recorder,
		logger,
	)
	orch := newOrchestrator(cfg, repo, cacheClient, manager, recorder, logger)

	if cfg.RunMode == config.RunModeOnce {
		code := runOnce(orch, logger)
		_ = cacheClient.Close()
		repo.Close()
		os.Exit(code)
	}

	router := handler.NewRouter(handler.RouterConfig{
		Logger:   logger,
		Service:  handler.New(manager.Version()),
		Health:   handler.NewHealthHandler(repo, cacheClient),
		Metrics:  handler.NewMetricsHandler(prometheus.DefaultGatherer),
		Insights: handler.NewInsightsHandler(manager, logger),
		Ops:      handler.NewOpsHandler(manager, orch, logger),
		Admin: middleware.AdminConfig{
			Logger:    logger,
			TokenHash: cfg.AdminTokenHash,
		},
		RefreshLimit: middleware.RefreshLimitConfig{
			Logger:      logger,
			Limiter:     cacheClient,
			RatePerHour: cfg.RefreshRatePerHour,
			Burst:       cfg.RefreshBurst,
		},
	})

	srv := server.New(router, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, logger)

	// Registered first so they close last.
	srv.OnShutdown("database", func(context.Context) error {
		repo.Close()
		return nil
	})
	srv.OnShutdown("redis", func(context.Context) error {
		return cacheClient.Close()
	})
	srv.Go("orchestrator", orch.Run)

	logger.Info("starting insights service",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"cache_version", manager.Version(),
		"batch_size", cfg.BatchSize,
		"concurrency", cfg.Concurrency,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func newOrchestrator(
	cfg *config.Config,
	repo *repository.Repository,
	cacheClient *cache.Cache,
	manager *insightcache.Manager,
	recorder metrics.Recorder,
	logger *slog.Logger,
) *orchestrator.Orchestrator {
	agg := aggregator.New(repository.NewAnalyticsRepository(repo), logger)
	gen := generator.New(generator.Config{
		MinDataPoints:         cfg.MinDataPoints,
		TrendThresholdPercent: cfg.TrendThresholdPercent,
	})

	var notifier orchestrator.Notifier
	if cfg.NotifyEnabled {
		notifier = cache.NewNotifier(cacheClient)
	}

	return orchestrator.New(manager, agg, gen, notifier, recorder, logger, orchestrator.Config{
		BatchSize:       cfg.BatchSize,
		Concurrency:     cfg.Concurrency,
		JobTimeout:      cfg.JobTimeout,
		PollInterval:    cfg.PollInterval,
		CleanupInterval: cfg.CleanupInterval,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  cfg.BreakerTimeout,
	})
}

// runOnce processes a single batch and returns the process exit code.
func runOnce(orch *orchestrator.Orchestrator, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := orch.ProcessPending(ctx)
	if err != nil {
		logger.Error("batch failed", "error", err)
		return 1
	}

	logger.Info("batch finished",
		"processed", result.Processed,
		"successful", result.Successful,
		"failed", result.Failed,
		"skipped", result.Skipped,
	)
	if result.Failed > 0 {
		return 2
	}
	return 0
}
