// Package main applies the database schema.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/booking-outbox/internal/config"
	"github.com/jnst/booking-outbox/internal/logger"
	"github.com/jnst/booking-outbox/internal/repository"
)

const exitCode = 1

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}

	slog.SetDefault(logger.Setup(cfg.LogLevel, cfg.LogFormat))

	ctx := context.Background()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(exitCode)
	}
	defer pool.Close()

	if err := repository.Migrate(ctx, pool); err != nil {
		slog.Error("migration failed", slog.String("error", err.Error()))
		pool.Close()
		os.Exit(exitCode)
	}

	slog.Info("schema applied")
}
