// Package app wires configuration, storage and services into a runnable process.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/rueidis"

	"github.com/jnst/booking-outbox/internal/clock"
	"github.com/jnst/booking-outbox/internal/config"
	"github.com/jnst/booking-outbox/internal/notify"
	"github.com/jnst/booking-outbox/internal/repository"
	"github.com/jnst/booking-outbox/internal/repository/memory"
	"github.com/jnst/booking-outbox/internal/retry"
	"github.com/jnst/booking-outbox/internal/service"
	transport "github.com/jnst/booking-outbox/internal/transport/http"
	"github.com/jnst/booking-outbox/internal/webhook"
	"github.com/jnst/booking-outbox/internal/worker"
)

// Container holds all dependencies for the application.
type Container struct {
	Pool  *pgxpool.Pool
	Redis rueidis.Client
	// Signals is nil when Redis is disabled.
	Signals *notify.Stream

	Bookings   service.BookingService
	Catalog    service.CatalogService
	Outbox     service.OutboxService
	Monitor    service.MonitorService
	Dispatcher *worker.Dispatcher
	Handler    http.Handler
}

type storage struct {
	bookings  repository.BookingRepository
	services  repository.ServiceRepository
	endpoints repository.EndpointRepository
	outbox    repository.OutboxRepository
	status    repository.StatusReader
	txManager repository.TransactionManager
}

// New creates and wires up all application dependencies.
func New(ctx context.Context, cfg *config.Config) (*Container, error) {
	c := &Container{}

	st, err := c.openStorage(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr != "" {
		client, err := rueidis.NewClient(rueidis.ClientOption{InitAddress: []string{cfg.RedisAddr}})
		if err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}

		c.Redis = client
		c.Signals = notify.NewStream(client, notify.DefaultStreamKey, notify.DefaultGroup, cfg.DispatcherName)
	}

	clk := clock.NewRealClock()

	c.Outbox = service.NewOutboxServiceImpl(st.outbox, st.endpoints, webhook.NewClient(cfg.DeliveryTimeout), clk,
		service.DispatchOptions{
			BatchSize:         cfg.DispatchBatchSize,
			Workers:           cfg.DispatchWorkers,
			Lease:             cfg.SendingLease,
			OrderedPerBooking: cfg.OrderedPerBooking,
			Retry: retry.Policy{
				Base:        cfg.RetryBaseDelay,
				Max:         cfg.RetryMaxDelay,
				MaxAttempts: cfg.RetryMaxAttempts,
			},
			ResetAttemptsOnRetry: cfg.RetryFailedResetAttempts,
		})

	c.Catalog = service.NewCatalogServiceImpl(st.services, st.endpoints, clk)
	c.Monitor = service.NewMonitorServiceImpl(st.status, st.endpoints, clk, service.MonitorOptions{Window: cfg.MonitorWindow})

	// Passed by pointer: the embedded dispatcher needs the booking service and joins the fanout afterwards.
	var publishers notify.Fanout
	if c.Signals != nil {
		publishers = append(publishers, c.Signals)
	}

	c.Bookings = service.NewBookingServiceImpl(st.bookings, st.services, st.outbox, st.txManager, clk, &publishers,
		service.BookingOptions{AutoConfirm: cfg.BookingAutoConfirm, PendingHoldTTL: cfg.PendingHoldTTL})
	c.Dispatcher = worker.NewDispatcher(c.Outbox, c.Bookings, cfg.DispatchPollInterval)

	if cfg.DispatcherEmbedded {
		publishers = append(publishers, c.Dispatcher)
	}

	c.Handler = transport.NewRouter(transport.NewHandler(c.Bookings, c.Catalog, c.Outbox, c.Monitor, &publishers))

	slog.Info("application wired",
		slog.String("storage_driver", cfg.StorageDriver),
		slog.Bool("redis", c.Redis != nil),
		slog.Bool("dispatcher_embedded", cfg.DispatcherEmbedded),
	)

	return c, nil
}

func (c *Container) openStorage(ctx context.Context, cfg *config.Config) (*storage, error) {
	if cfg.StorageDriver == config.StorageDriverMemory {
		if !cfg.DispatcherEmbedded {
			slog.Warn("memory storage is not shared between processes; set DISPATCHER_EMBEDDED=true")
		}

		store := memory.NewStore()

		return &storage{
			bookings:  store.Bookings(),
			services:  store.Services(),
			endpoints: store.Endpoints(),
			outbox:    store.Outbox(),
			status:    store.Outbox(),
			txManager: store.TransactionManager(),
		}, nil
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	c.Pool = pool
	outbox := repository.NewOutboxRepositoryImpl(pool)

	return &storage{
		bookings:  repository.NewBookingRepositoryImpl(pool),
		services:  repository.NewServiceRepositoryImpl(pool),
		endpoints: repository.NewEndpointRepositoryImpl(pool),
		outbox:    outbox,
		status:    outbox,
		txManager: repository.NewTransactionManagerImpl(pool),
	}, nil
}

// Close closes all resources.
func (c *Container) Close() {
	if c.Redis != nil {
		c.Redis.Close()
	}

	if c.Pool != nil {
		c.Pool.Close()
	}
}
