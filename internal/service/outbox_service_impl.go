package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jnst/booking-outbox/internal/clock"
	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/repository"
	"github.com/jnst/booking-outbox/internal/retry"
	"github.com/jnst/booking-outbox/internal/webhook"
)

const (
	defaultBatchSize = 50
	defaultWorkers   = 4
	defaultLease     = time.Minute
	defaultListLimit = 50
	maxListLimit     = 500
)

// DispatchOptions holds dispatcher policy.
type DispatchOptions struct {
	BatchSize int
	Workers   int
	// Lease is how long an event may stay in sending before another pass reclaims it.
	Lease             time.Duration
	OrderedPerBooking bool
	Retry             retry.Policy
	// ResetAttemptsOnRetry restarts the backoff curve when failed events are replayed.
	ResetAttemptsOnRetry bool
}

// OutboxServiceImpl implements OutboxService. It is the only writer of event status and attempts.
type OutboxServiceImpl struct {
	outboxRepo   repository.OutboxRepository
	endpointRepo repository.EndpointRepository
	sender       webhook.Sender
	clock        clock.Clock
	opts         DispatchOptions
	newID        func() string

	// passMu keeps passes of one process from overlapping.
	passMu sync.Mutex
}

// NewOutboxServiceImpl creates a new OutboxService implementation.
func NewOutboxServiceImpl(
	outboxRepo repository.OutboxRepository,
	endpointRepo repository.EndpointRepository,
	sender webhook.Sender,
	clk clock.Clock,
	opts DispatchOptions,
) OutboxService {
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}

	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}

	if opts.Lease <= 0 {
		opts.Lease = defaultLease
	}

	return &OutboxServiceImpl{
		outboxRepo:   outboxRepo,
		endpointRepo: endpointRepo,
		sender:       sender,
		clock:        clk,
		opts:         opts,
		newID:        uuid.NewString,
	}
}

// ProcessPendingEvents claims a batch of due events and delivers them in parallel.
func (s *OutboxServiceImpl) ProcessPendingEvents(ctx context.Context, force bool) (*model.DispatchSummary, error) {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	now := s.clock.Now()

	events, err := s.outboxRepo.ClaimEvents(ctx, model.ClaimParams{
		Now:               now,
		Force:             force,
		StaleBefore:       now.Add(-s.opts.Lease),
		OrderedPerBooking: s.opts.OrderedPerBooking,
		Limit:             s.opts.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to claim events: %w", err)
	}

	summary := &model.DispatchSummary{Claimed: len(events)}
	if len(events) == 0 {
		return summary, nil
	}

	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)

	for _, event := range events {
		g.Go(func() error {
			status, err := s.process(ctx, event)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()

			switch status {
			case model.EventStatusSent:
				summary.Sent++
			case model.EventStatusFailed:
				summary.Failed++
			case model.EventStatusPending:
				summary.Retrying++
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return summary, err
	}

	slog.Debug("dispatch pass finished",
		slog.Bool("force", force),
		slog.Int("claimed", summary.Claimed),
		slog.Int("sent", summary.Sent),
		slog.Int("retrying", summary.Retrying),
		slog.Int("failed", summary.Failed),
	)

	return summary, nil
}

// process delivers one claimed event and stores the outcome.
func (s *OutboxServiceImpl) process(ctx context.Context, event *model.WebhookEvent) (model.EventStatus, error) {
	outcome, err := s.deliver(ctx, event)
	if err != nil {
		return "", err
	}

	if ctx.Err() != nil {
		// Shutting down mid-pass. Hand the event back without charging an attempt.
		outcome = model.DeliveryOutcome{
			Status:        model.EventStatusPending,
			Attempts:      event.Attempts,
			NextAttemptAt: event.NextAttemptAt,
			LastError:     event.LastError,
		}
	}

	if event.ClaimedAt != nil {
		outcome.ClaimedAt = *event.ClaimedAt
	}

	err = s.outboxRepo.CompleteDelivery(context.WithoutCancel(ctx), event.ID, outcome)
	if errors.Is(err, model.ErrClaimLost) {
		// The lease ran out and another pass owns the event now; its outcome wins.
		slog.Warn("dropped outcome of reclaimed event",
			slog.String("event_id", event.ID),
			slog.String("calendar_id", event.CalendarID),
			slog.String("status", string(outcome.Status)),
		)

		return "", nil
	}

	if err != nil {
		return "", fmt.Errorf("failed to complete event %s: %w", event.ID, err)
	}

	if outcome.Status == model.EventStatusFailed {
		slog.Error("webhook delivery exhausted",
			slog.String("event_id", event.ID),
			slog.String("calendar_id", event.CalendarID),
			slog.Int("attempt", outcome.Attempts),
			slog.String("error", model.ErrDeliveryExhausted.Error()),
			slog.String("last_error", outcome.LastError),
		)
	}

	return outcome.Status, nil
}

func (s *OutboxServiceImpl) deliver(ctx context.Context, event *model.WebhookEvent) (model.DeliveryOutcome, error) {
	endpoints, err := s.endpointRepo.ListActiveByCalendar(ctx, event.CalendarID)
	if err != nil {
		return model.DeliveryOutcome{}, fmt.Errorf("failed to list endpoints: %w", err)
	}

	acked, err := s.outboxRepo.SucceededEndpoints(ctx, event.ID)
	if err != nil {
		return model.DeliveryOutcome{}, fmt.Errorf("failed to list acknowledged endpoints: %w", err)
	}

	var remaining []*model.WebhookEndpoint

	for _, ep := range endpoints {
		if !acked[ep.ID] {
			remaining = append(remaining, ep)
		}
	}

	if len(remaining) == 0 {
		return model.DeliveryOutcome{
			Status:        model.EventStatusSent,
			Attempts:      event.Attempts,
			NextAttemptAt: event.NextAttemptAt,
		}, nil
	}

	attempt := event.Attempts + 1
	now := s.clock.Now()

	var (
		mu       sync.Mutex
		failures []string
		g        errgroup.Group
	)

	// At most Workers endpoints of one event are in flight at once.
	g.SetLimit(s.opts.Workers)

	for _, ep := range remaining {
		g.Go(func() error {
			if err := s.deliverTo(ctx, event, ep, attempt, now); err != nil {
				mu.Lock()
				failures = append(failures, err.Error())
				mu.Unlock()
			}

			return nil
		})
	}

	_ = g.Wait()
	sort.Strings(failures)

	outcome := model.DeliveryOutcome{Attempts: attempt, AttemptedAt: now}

	switch {
	case len(failures) == 0:
		outcome.Status = model.EventStatusSent
		outcome.NextAttemptAt = now
	case s.opts.Retry.Exhausted(attempt):
		outcome.Status = model.EventStatusFailed
		outcome.NextAttemptAt = now
		outcome.LastError = strings.Join(failures, "; ")
	default:
		outcome.Status = model.EventStatusPending
		outcome.NextAttemptAt = now.Add(s.opts.Retry.Delay(attempt))
		outcome.LastError = strings.Join(failures, "; ")
	}

	return outcome, nil
}

func (s *OutboxServiceImpl) deliverTo(
	ctx context.Context, event *model.WebhookEvent, ep *model.WebhookEndpoint, attempt int, now time.Time,
) error {
	started := time.Now()
	statusCode, err := s.sender.Deliver(ctx, ep, event)

	record := &model.DeliveryAttempt{
		ID:          s.newID(),
		EventID:     event.ID,
		EndpointID:  ep.ID,
		CalendarID:  event.CalendarID,
		Attempt:     attempt,
		Success:     err == nil,
		StatusCode:  statusCode,
		Latency:     time.Since(started),
		AttemptedAt: now,
	}
	if err != nil {
		record.Error = err.Error()
	}

	// A lost success record only causes a duplicate delivery on the next pass.
	if rerr := s.outboxRepo.RecordAttempt(context.WithoutCancel(ctx), record); rerr != nil {
		slog.Warn("failed to record delivery attempt",
			slog.String("event_id", event.ID),
			slog.String("endpoint_id", ep.ID),
			slog.String("error", rerr.Error()),
		)
	}

	if err != nil {
		slog.Warn("webhook delivery failed",
			slog.String("event_id", event.ID),
			slog.String("endpoint_id", ep.ID),
			slog.Int("attempt", attempt),
			slog.Int("status_code", statusCode),
			slog.String("error", err.Error()),
		)

		var derr *model.DeliveryError
		if errors.As(err, &derr) {
			return derr
		}

		return &model.DeliveryError{EndpointID: ep.ID, StatusCode: statusCode, Err: err}
	}

	slog.Debug("webhook delivered",
		slog.String("event_id", event.ID),
		slog.String("endpoint_id", ep.ID),
		slog.Int("attempt", attempt),
		slog.Int("status_code", statusCode),
	)

	return nil
}

// RetryFailed moves failed events back to pending, due immediately.
func (s *OutboxServiceImpl) RetryFailed(ctx context.Context, calendarID string, ids []string) (int, error) {
	n, err := s.outboxRepo.RequeueFailed(ctx, calendarID, ids, s.opts.ResetAttemptsOnRetry, s.clock.Now())
	if err != nil {
		return 0, err
	}

	slog.Info("requeued failed events",
		slog.String("calendar_id", calendarID),
		slog.Int("count", n),
		slog.Bool("reset_attempts", s.opts.ResetAttemptsOnRetry),
	)

	return n, nil
}

// ListEvents returns recent events, newest first.
func (s *OutboxServiceImpl) ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.WebhookEvent, error) {
	switch {
	case filter.Limit <= 0:
		filter.Limit = defaultListLimit
	case filter.Limit > maxListLimit:
		filter.Limit = maxListLimit
	}

	return s.outboxRepo.ListEvents(ctx, filter)
}
