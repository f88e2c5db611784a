package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"caixa/internal/cli"
	"caixa/internal/log"
	"caixa/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		slog.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg.LogLevel).WithComponent(log.ComponentWorker)
	logger.Info("Starting caixa-worker", "cache_backend", cfg.CacheBackend, "timezone", cfg.Timezone)

	// The broker is the reason this process exists when AMQP is configured.
	app, err := cli.Bootstrap(context.Background(), cfg, logger, cli.RequireBroker())
	if err != nil {
		logger.Error("Failed to initialize", "error", err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func() {
		stats := app.Engine.Stats()
		logger.Info("Cache statistics",
			"hits", stats.Hits,
			"misses", stats.Misses,
			"recomputes", stats.Recomputes,
			"invalidated", stats.Invalidated,
			"discarded", stats.Discarded)
		if err := app.Close(); err != nil {
			logger.Error("Shutdown cleanup failed", "error", err)
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	if app.Broker != nil {
		listener := worker.NewInvalidationWorker(app.Coordinator, app.Origin, logger)
		g.Go(func() error {
			return app.Broker.ConsumeLedgerWrites(gctx, listener.HandleLedgerWrite)
		})
	} else {
		logger.Info("Invalidation listener disabled - no AMQP_URL provided")
	}

	if cfg.WarmupInterval > 0 {
		warmer := worker.NewWarmer(app.Engine, worker.DefaultRequests(app.Catalog), worker.WithWarmerLogger(logger))
		g.Go(func() error {
			return warmer.Run(gctx, cfg.WarmupInterval)
		})
	} else {
		logger.Info("Warm-up disabled")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped", "error", err)
	}
	cli.WaitForShutdown(ctx, done)
}
