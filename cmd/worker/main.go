// Package main is the entrypoint for the svgforge generation worker.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/svgforge/internal/cache"
	"github.com/kiranshivaraju/svgforge/internal/config"
	"github.com/kiranshivaraju/svgforge/internal/generator"
	"github.com/kiranshivaraju/svgforge/internal/ledger"
	"github.com/kiranshivaraju/svgforge/internal/logging"
	"github.com/kiranshivaraju/svgforge/internal/queue"
	"github.com/kiranshivaraju/svgforge/internal/store"
	"github.com/kiranshivaraju/svgforge/internal/worker"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := logging.New(cfg.Log.Format, cfg.Log.Level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	gen, err := generator.New(ctx, cfg.Generator, logger)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	slog.Info("generator initialized", "provider", gen.Name())

	pgStore := store.NewPostgresStore(pool)
	q := queue.New(redisCache.Client(), queue.OptionsFromConfig(cfg.Queue))

	proc := worker.NewProcessor(
		pgStore,
		ledger.New(pgStore, logger),
		gen,
		generator.Sanitizer{},
		redisCache,
		logger,
		cfg.Worker.GenerateTimeout,
	)
	wp := worker.NewPool(q, pgStore, proc, worker.PoolConfigFromConfig(cfg), logger)

	slog.Info("worker starting",
		"queue", cfg.Queue.Name,
		"concurrency", cfg.Worker.Concurrency,
		"max_attempts", cfg.Queue.MaxAttempts)
	if err := wp.Run(ctx); err != nil {
		return fmt.Errorf("worker pool: %w", err)
	}
	slog.Info("worker stopped gracefully")
	return nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateWorker(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
