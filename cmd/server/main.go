// Package main is the entrypoint for the svgforge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kiranshivaraju/svgforge/internal/api"
	"github.com/kiranshivaraju/svgforge/internal/api/handler"
	mw "github.com/kiranshivaraju/svgforge/internal/api/middleware"
	"github.com/kiranshivaraju/svgforge/internal/cache"
	"github.com/kiranshivaraju/svgforge/internal/config"
	"github.com/kiranshivaraju/svgforge/internal/intake"
	"github.com/kiranshivaraju/svgforge/internal/logging"
	"github.com/kiranshivaraju/svgforge/internal/queue"
	"github.com/kiranshivaraju/svgforge/internal/store"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// jobQueue is what the API needs from the queue: intake enqueues, health reads counts.
type jobQueue interface {
	intake.Enqueuer
	handler.QueueStats
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(logging.New(cfg.Log.Format, cfg.Log.Level))
	slog.Info("config loaded", "env", cfg.Server.Env, "queue", cfg.Queue.Name)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Redis: one client shared by the cache and the queue
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	q := queue.New(redisCache.Client(), queue.OptionsFromConfig(cfg.Queue))
	pgStore := store.NewPostgresStore(pool)

	// 5. Build router and start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      newRouter(cfg, pgStore, redisCache, q),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

func newRouter(cfg *config.Config, s store.Store, c cache.Cache, q jobQueue) http.Handler {
	svc := intake.NewService(s, q, slog.Default())

	return api.NewRouter(api.Dependencies{
		Auth:      mw.NewAuth(s),
		RateLimit: mw.NewRateLimit(c, cfg.API.RateLimitPerMinute),

		HealthHandler:       handler.NewHealthHandler(s, c, q),
		SubmitHandler:       handler.NewSubmitHandler(svc),
		GetJobHandler:       handler.NewGetJobHandler(s),
		GetArtifactHandler:  handler.NewGetArtifactHandler(s),
		GalleryHandler:      handler.NewGalleryHandler(s, c, cfg.API.GalleryCacheTTL, cfg.API.GalleryPageSize),
		BalanceHandler:      handler.NewBalanceHandler(s),
		CreateUserHandler:   handler.NewCreateUserHandler(s),
		CreateKeyHandler:    handler.NewCreateKeyHandler(s),
		GrantCreditsHandler: handler.NewGrantCreditsHandler(s),
	})
}
