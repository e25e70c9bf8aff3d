// Package main provides the outbox dispatcher that delivers pending webhook events.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/jnst/booking-outbox/internal/app"
	"github.com/jnst/booking-outbox/internal/config"
	"github.com/jnst/booking-outbox/internal/logger"
)

const exitCode = 1

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel, cfg.LogFormat))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize application", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer c.Close()

	slog.Info("starting outbox dispatcher",
		slog.String("service", "dispatcher"),
		slog.String("consumer", cfg.DispatcherName),
		slog.Duration("poll_interval", cfg.DispatchPollInterval),
		slog.Int("batch_size", cfg.DispatchBatchSize),
		slog.Int("workers", cfg.DispatchWorkers),
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Dispatcher.Run(ctx) })

	if c.Signals != nil {
		g.Go(func() error { return c.Dispatcher.Listen(ctx, c.Signals) })
	} else {
		slog.Info("redis disabled, dispatcher relies on polling only")
	}

	if err := g.Wait(); err != nil {
		slog.Error("dispatcher stopped with error", slog.String("error", err.Error()))
		return
	}
}
