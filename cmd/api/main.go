// Package main provides the HTTP API server for the booking engine.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jnst/booking-outbox/internal/app"
	"github.com/jnst/booking-outbox/internal/config"
	"github.com/jnst/booking-outbox/internal/logger"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 5 * time.Second
	exitCode          = 1
)

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

	if err := run(ctx, cfg, c); err != nil {
		slog.Error("api server stopped with error", slog.String("error", err.Error()))
		return
	}
}

func run(ctx context.Context, cfg *config.Config, c *app.Container) error {
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           c.Handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting API server", slog.String("service", "api"), slog.String("port", cfg.Port))

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping API server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if cfg.DispatcherEmbedded {
		g.Go(func() error { return c.Dispatcher.Run(ctx) })

		if c.Signals != nil {
			g.Go(func() error { return c.Dispatcher.Listen(ctx, c.Signals) })
		}
	}

	return g.Wait()
}
