// Package main provides a reference webhook receiver that verifies and deduplicates deliveries.
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

	"github.com/redis/rueidis"

	"github.com/jnst/booking-outbox/internal/config"
	"github.com/jnst/booking-outbox/internal/logger"
	"github.com/jnst/booking-outbox/internal/receiver"
)

const (
	dedupeKeyPrefix   = "webhook:seen:"
	dedupeTTL         = 24 * time.Hour
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 5 * time.Second
	exitCode          = 1
)

func setupDeduper(cfg *config.Config) (receiver.Deduper, func(), error) {
	if cfg.RedisAddr == "" {
		slog.Info("redis disabled, deduplicating in memory")
		return receiver.NewMemoryDeduper(), func() {}, nil
	}

	redisClient, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress: []string{cfg.RedisAddr},
	})
	if err != nil {
		return nil, nil, err
	}

	return receiver.NewRedisDeduper(redisClient, dedupeKeyPrefix, dedupeTTL), redisClient.Close, nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel, cfg.LogFormat))

	deduper, closeDeduper, err := setupDeduper(cfg)
	if err != nil {
		slog.Error("failed to connect to Redis", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer closeDeduper()

	if cfg.ReceiverSecret == "" {
		slog.Warn("RECEIVER_SECRET is empty, signatures are not verified")
	}

	mux := http.NewServeMux()
	mux.Handle("/webhooks", receiver.NewHandler(cfg.ReceiverSecret, deduper, receiver.LogEvent))

	server := &http.Server{
		Addr:              ":" + cfg.ReceiverPort,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, stopping receiver")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("failed to shut down receiver", slog.String("error", err.Error()))
		}
	}()

	slog.Info("starting webhook receiver", slog.String("service", "receiver"), slog.String("port", cfg.ReceiverPort))

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("receiver stopped with error", slog.String("error", err.Error()))
		return
	}
}
