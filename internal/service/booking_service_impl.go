package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jnst/booking-outbox/internal/clock"
	"github.com/jnst/booking-outbox/internal/conflict"
	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/notify"
	"github.com/jnst/booking-outbox/internal/repository"
)

const (
	defaultExpiryBatch = 100
	defaultTestMessage = "Test webhook from booking engine"
)

// BookingOptions holds booking policy.
type BookingOptions struct {
	// AutoConfirm stores accepted bookings as confirmed instead of pending.
	AutoConfirm bool
	// PendingHoldTTL cancels pending bookings older than this. Zero disables expiry.
	PendingHoldTTL time.Duration
	ExpiryBatch    int
}

// BookingServiceImpl implements BookingService on top of the repositories and one transaction manager.
type BookingServiceImpl struct {
	bookingRepo    repository.BookingRepository
	serviceRepo    repository.ServiceRepository
	outboxRepo     repository.OutboxRepository
	transactionMgr repository.TransactionManager
	clock          clock.Clock
	notifier       notify.Publisher
	opts           BookingOptions
	newID          func() string
}

// NewBookingServiceImpl creates a new BookingService implementation.
func NewBookingServiceImpl(
	bookingRepo repository.BookingRepository,
	serviceRepo repository.ServiceRepository,
	outboxRepo repository.OutboxRepository,
	transactionMgr repository.TransactionManager,
	clk clock.Clock,
	notifier notify.Publisher,
	opts BookingOptions,
) BookingService {
	if notifier == nil {
		notifier = notify.Nop{}
	}

	if opts.ExpiryBatch <= 0 {
		opts.ExpiryBatch = defaultExpiryBatch
	}

	return &BookingServiceImpl{
		bookingRepo:    bookingRepo,
		serviceRepo:    serviceRepo,
		outboxRepo:     outboxRepo,
		transactionMgr: transactionMgr,
		clock:          clk,
		notifier:       notifier,
		opts:           opts,
		newID:          uuid.NewString,
	}
}

// SubmitBooking checks the candidate against the calendar and inserts it with its booking.created event.
func (s *BookingServiceImpl) SubmitBooking(ctx context.Context, candidate *model.BookingCandidate) (*model.BookingResult, error) {
	if candidate == nil {
		return nil, &model.InvalidCandidateError{Reason: "candidate is required"}
	}

	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	svc, err := s.serviceRepo.GetByID(ctx, candidate.ServiceID)
	if errors.Is(err, model.ErrServiceNotFound) {
		return nil, &model.InvalidCandidateError{Reason: "unknown service " + candidate.ServiceID}
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	result, err := s.insert(ctx, candidate, svc)
	if errors.Is(err, repository.ErrOverlapConstraint) {
		// A concurrent writer committed between our check and insert. The second pass sees it.
		result, err = s.insert(ctx, candidate, svc)
		if errors.Is(err, repository.ErrOverlapConstraint) {
			err = &model.ConflictError{Kind: model.PartialOverlap}
		}
	}

	if err != nil {
		if errors.Is(err, model.ErrConflict) {
			slog.Info("booking rejected",
				slog.String("calendar_id", candidate.CalendarID),
				slog.String("error", err.Error()),
			)
		}

		return nil, err
	}

	slog.Info("booking created",
		slog.String("booking_id", result.Booking.ID),
		slog.String("calendar_id", result.Booking.CalendarID),
		slog.String("event_id", result.Event.ID),
	)

	s.signal(ctx, result.Booking.CalendarID)

	return result, nil
}

func (s *BookingServiceImpl) insert(
	ctx context.Context, candidate *model.BookingCandidate, svc *model.ServiceDefinition,
) (*model.BookingResult, error) {
	var result *model.BookingResult

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.bookingRepo.LockCalendar(ctx, candidate.CalendarID); err != nil {
			return fmt.Errorf("failed to lock calendar: %w", err)
		}

		window := svc.EffectiveRange(candidate.Billable())

		existing, err := s.bookingRepo.ListActiveIntervals(ctx, candidate.CalendarID, window)
		if err != nil {
			return fmt.Errorf("failed to list active bookings: %w", err)
		}

		decision, err := conflict.Check(candidate, svc, existing)
		if err != nil {
			return err
		}

		if !decision.Accepted() {
			return decision.Err()
		}

		now := s.clock.Now()
		status := model.BookingStatusPending
		if s.opts.AutoConfirm {
			status = model.BookingStatusConfirmed
		}

		billable := candidate.Billable()
		booking := &model.Booking{
			ID:             s.newID(),
			CalendarID:     candidate.CalendarID,
			ServiceID:      candidate.ServiceID,
			Start:          billable.Start,
			End:            billable.End,
			Status:         status,
			CustomerRef:    candidate.CustomerRef,
			CustomerName:   candidate.CustomerName,
			EffectiveStart: decision.Effective.Start,
			EffectiveEnd:   decision.Effective.End,
			CreatedAt:      now,
			UpdatedAt:      now,
		}

		if err := s.bookingRepo.Create(ctx, booking); err != nil {
			return fmt.Errorf("failed to create booking: %w", err)
		}

		event, err := s.appendEvent(ctx, model.EventTypeBookingCreated, booking, svc, model.TriggerSourceBookingMutation)
		if err != nil {
			return err
		}

		result = &model.BookingResult{Booking: booking, Event: event}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// GetBooking retrieves a booking by ID.
func (s *BookingServiceImpl) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	return s.bookingRepo.GetByID(ctx, id)
}

// Confirm moves a pending booking to confirmed.
func (s *BookingServiceImpl) Confirm(ctx context.Context, id string) (*model.BookingResult, error) {
	return s.transition(ctx, id, model.BookingActionConfirm, model.TriggerSourceBookingMutation, false)
}

// Cancel moves a pending or confirmed booking to cancelled.
func (s *BookingServiceImpl) Cancel(ctx context.Context, id string) (*model.BookingResult, error) {
	return s.transition(ctx, id, model.BookingActionCancel, model.TriggerSourceBookingMutation, false)
}

// RecordPayment applies a payment provider signal. Payment providers redeliver their own
// notifications, so a signal for a booking already in the target status is a no-op.
func (s *BookingServiceImpl) RecordPayment(ctx context.Context, id string, succeeded bool) (*model.BookingResult, error) {
	action := model.BookingActionCancel
	if succeeded {
		action = model.BookingActionConfirm
	}

	return s.transition(ctx, id, action, model.TriggerSourceBookingMutation, true)
}

// ExpirePendingHolds cancels pending bookings whose hold outlived PendingHoldTTL.
func (s *BookingServiceImpl) ExpirePendingHolds(ctx context.Context) (int, error) {
	if s.opts.PendingHoldTTL <= 0 {
		return 0, nil
	}

	cutoff := s.clock.Now().Add(-s.opts.PendingHoldTTL)

	stale, err := s.bookingRepo.ListPendingCreatedBefore(ctx, cutoff, s.opts.ExpiryBatch)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired holds: %w", err)
	}

	expired := 0

	for _, b := range stale {
		_, err := s.transition(ctx, b.ID, model.BookingActionCancel, model.TriggerSourceTimer, false)
		if errors.Is(err, model.ErrInvalidTransition) {
			// Confirmed or cancelled since it was listed.
			continue
		}

		if err != nil {
			return expired, err
		}

		expired++
	}

	if expired > 0 {
		slog.Info("expired pending holds", slog.Int("count", expired))
	}

	return expired, nil
}

// SendTestEvent enqueues a webhook.test event through the regular outbox path.
func (s *BookingServiceImpl) SendTestEvent(ctx context.Context, calendarID, message string) (*model.WebhookEvent, error) {
	if calendarID == "" {
		return nil, model.ErrCalendarRequired
	}

	if message == "" {
		message = defaultTestMessage
	}

	id := s.newID()
	now := s.clock.Now()

	payload, err := json.Marshal(model.NewTestPayload(id, calendarID, message, now))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	var event *model.WebhookEvent

	err = s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		var err error

		event, err = s.outboxRepo.CreateEvent(ctx, &model.CreateWebhookEventParams{
			ID:            id,
			CalendarID:    calendarID,
			EventType:     model.EventTypeWebhookTest,
			Payload:       payload,
			TriggerSource: model.TriggerSourceManual,
			CreatedAt:     now,
		})
		if err != nil {
			return fmt.Errorf("failed to create outbox event: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.signal(ctx, calendarID)

	return event, nil
}

func (s *BookingServiceImpl) transition(
	ctx context.Context, id string, action model.BookingAction, trigger model.TriggerSource, idempotent bool,
) (*model.BookingResult, error) {
	var result *model.BookingResult

	err := s.transactionMgr.WithTransaction(ctx, func(ctx context.Context) error {
		booking, err := s.bookingRepo.GetByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}

		next, ok := booking.Status.Transition(action)
		if !ok {
			if idempotent && booking.Status == targetOf(action) {
				result = &model.BookingResult{Booking: booking}
				return nil
			}

			return &model.InvalidTransitionError{BookingID: id, From: booking.Status, Action: action}
		}

		updated, err := s.bookingRepo.UpdateStatus(ctx, id, next, s.clock.Now())
		if err != nil {
			return fmt.Errorf("failed to update booking status: %w", err)
		}

		svc, err := s.serviceRepo.GetByID(ctx, updated.ServiceID)
		if err != nil && !errors.Is(err, model.ErrServiceNotFound) {
			return fmt.Errorf("failed to get service: %w", err)
		}

		event, err := s.appendEvent(ctx, eventTypeFor(next), updated, svc, trigger)
		if err != nil {
			return err
		}

		result = &model.BookingResult{Booking: updated, Event: event}

		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			slog.Info("booking transition rejected", slog.String("booking_id", id), slog.String("error", err.Error()))
		}

		return nil, err
	}

	if result.Event != nil {
		slog.Info("booking status changed",
			slog.String("booking_id", id),
			slog.String("status", string(result.Booking.Status)),
			slog.String("event_id", result.Event.ID),
			slog.String("trigger_source", string(trigger)),
		)

		s.signal(ctx, result.Booking.CalendarID)
	}

	return result, nil
}

func (s *BookingServiceImpl) appendEvent(
	ctx context.Context, eventType model.EventType, booking *model.Booking, svc *model.ServiceDefinition,
	trigger model.TriggerSource,
) (*model.WebhookEvent, error) {
	id := s.newID()
	now := s.clock.Now()

	payload, err := json.Marshal(model.NewBookingPayload(id, eventType, booking, svc, trigger, now))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event payload: %w", err)
	}

	event, err := s.outboxRepo.CreateEvent(ctx, &model.CreateWebhookEventParams{
		ID:            id,
		CalendarID:    booking.CalendarID,
		BookingID:     booking.ID,
		EventType:     eventType,
		Payload:       payload,
		TriggerSource: trigger,
		CreatedAt:     now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox event: %w", err)
	}

	return event, nil
}

func (s *BookingServiceImpl) signal(ctx context.Context, calendarID string) {
	sig := notify.Signal{Kind: notify.KindMutation, CalendarID: calendarID}
	if err := s.notifier.Publish(ctx, sig); err != nil {
		slog.Warn("failed to signal dispatcher", slog.String("calendar_id", calendarID), slog.String("error", err.Error()))
	}
}

func targetOf(action model.BookingAction) model.BookingStatus {
	if action == model.BookingActionConfirm {
		return model.BookingStatusConfirmed
	}

	return model.BookingStatusCancelled
}

func eventTypeFor(status model.BookingStatus) model.EventType {
	switch status {
	case model.BookingStatusConfirmed:
		return model.EventTypeBookingConfirmed
	case model.BookingStatusCancelled:
		return model.EventTypeBookingCancelled
	default:
		return model.EventTypeBookingCreated
	}
}
