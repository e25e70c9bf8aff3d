package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/repository"
	"github.com/jnst/booking-outbox/internal/repository/memory"
)

func TestSubmitBookingWritesBookingAndEvent(t *testing.T) {
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	result, err := f.submit(t, "colour", at(10, 0), at(12, 0))
	require.NoError(t, err)

	b := result.Booking
	assert.Equal(t, model.BookingStatusPending, b.Status)
	assert.Equal(t, at(10, 0), b.EffectiveStart)
	assert.Equal(t, at(12, 15), b.EffectiveEnd)

	events := f.events(t)
	require.Len(t, events, 1)
	assert.Equal(t, result.Event.ID, events[0].ID)
	assert.Equal(t, model.EventTypeBookingCreated, events[0].EventType)
	assert.Equal(t, model.EventStatusPending, events[0].Status)
	assert.Equal(t, model.TriggerSourceBookingMutation, events[0].TriggerSource)
	assert.Equal(t, b.ID, events[0].BookingID)

	var payload model.Payload
	require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
	assert.Equal(t, events[0].ID, payload.EventID)
	require.NotNil(t, payload.Booking)
	assert.Equal(t, b.ID, payload.Booking.BookingID)
	assert.Equal(t, "Colouring", payload.Booking.ServiceName)
	assert.Equal(t, "Ada", payload.Booking.CustomerName)
	assert.True(t, payload.Booking.StartTime.Equal(at(10, 0)))
}

func TestSubmitBookingAutoConfirm(t *testing.T) {
	f := newFixture(t, BookingOptions{AutoConfirm: true}, defaultDispatchOptions())

	result, err := f.submit(t, "consult", at(10, 0), at(11, 0))
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, result.Booking.Status)
}

func TestSubmitBookingConflicts(t *testing.T) {
	tests := []struct {
		name      string
		serviceID string
		start     time.Time
		end       time.Time
		want      model.ConflictKind
	}{
		{"buffer", "consult", at(12, 0), at(12, 45), model.BufferOverlap},
		{"exact", "colour", at(10, 0), at(12, 0), model.ExactOverlap},
		{"contained", "consult", at(10, 30), at(11, 30), model.ContainedOverlap},
		{"partial", "consult", at(9, 30), at(10, 30), model.PartialOverlap},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

			first, err := f.submit(t, "colour", at(10, 0), at(12, 0))
			require.NoError(t, err)

			_, err = f.submit(t, tt.serviceID, tt.start, tt.end)
			require.ErrorIs(t, err, model.ErrConflict)

			var cerr *model.ConflictError
			require.True(t, errors.As(err, &cerr))
			assert.Equal(t, tt.want, cerr.Kind)
			assert.Equal(t, first.Booking.ID, cerr.BookingID)

			assert.Len(t, f.events(t), 1, "a rejected booking writes nothing")
		})
	}
}

func TestSubmitBookingAdjacentAllowed(t *testing.T) {
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	_, err := f.submit(t, "consult", at(10, 0), at(11, 0))
	require.NoError(t, err)

	_, err = f.submit(t, "consult", at(11, 0), at(12, 0))
	require.NoError(t, err)

	_, err = f.submit(t, "consult", at(9, 0), at(10, 0))
	require.NoError(t, err)

	assert.Len(t, f.events(t), 3)
}

func TestSubmitBookingCancelledSlotIsFree(t *testing.T) {
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	first, err := f.submit(t, "consult", at(10, 0), at(11, 0))
	require.NoError(t, err)

	_, err = f.bookings.Cancel(context.Background(), first.Booking.ID)
	require.NoError(t, err)

	_, err = f.submit(t, "consult", at(10, 0), at(11, 0))
	assert.NoError(t, err)
}

func TestSubmitBookingConcurrentRace(t *testing.T) {
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	const n = 25

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		start     = make(chan struct{})
	)

	for range n {
		wg.Add(1)

		go func() {
			defer wg.Done()
			<-start

			_, err := f.submit(t, "consult", at(14, 0), at(15, 0))

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				successes++
			case errors.Is(err, model.ErrConflict):
				conflicts++
			}
		}()
	}

	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, n-1, conflicts)
	assert.Len(t, f.events(t), 1)
}

func TestSubmitBookingInvalidCandidate(t *testing.T) {
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	tests := []struct {
		name      string
		candidate *model.BookingCandidate
	}{
		{"nil", nil},
		{"unknown service", &model.BookingCandidate{CalendarID: "cal-1", ServiceID: "nope", Start: at(9, 0), End: at(10, 0)}},
		{"empty range", &model.BookingCandidate{CalendarID: "cal-1", ServiceID: "consult", Start: at(9, 0), End: at(9, 0)}},
		{"reversed", &model.BookingCandidate{CalendarID: "cal-1", ServiceID: "consult", Start: at(10, 0), End: at(9, 0)}},
		{"no calendar", &model.BookingCandidate{ServiceID: "consult", Start: at(9, 0), End: at(10, 0)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.bookings.SubmitBooking(context.Background(), tt.candidate)
			assert.ErrorIs(t, err, model.ErrInvalidCandidate)
		})
	}

	assert.Empty(t, f.events(t))
}

type failingOutbox struct {
	*memory.OutboxRepo
}

func (failingOutbox) CreateEvent(context.Context, *model.CreateWebhookEventParams) (*model.WebhookEvent, error) {
	return nil, errors.New("disk full")
}

func TestSubmitBookingRollsBackWhenEventWriteFails(t *testing.T) {
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())
	svc := NewBookingServiceImpl(
		f.store.Bookings(), f.store.Services(), failingOutbox{f.store.Outbox()}, f.store.TransactionManager(),
		f.clock, nil, BookingOptions{},
	)

	_, err := svc.SubmitBooking(context.Background(), &model.BookingCandidate{
		CalendarID: "cal-1", ServiceID: "consult", Start: at(10, 0), End: at(11, 0), CustomerRef: "c",
	})
	require.Error(t, err)

	// Neither the booking nor an event survived, so the slot is still free.
	_, err = f.submit(t, "consult", at(10, 0), at(11, 0))
	require.NoError(t, err)
	assert.Len(t, f.events(t), 1)
}

// racyBookings hides existing bookings from the first conflict check, as if a concurrent
// writer committed between check and insert.
type racyBookings struct {
	repository.BookingRepository
	calls int
}

func (r *racyBookings) ListActiveIntervals(
	ctx context.Context, calendarID string, window model.TimeRange,
) ([]model.EffectiveInterval, error) {
	r.calls++
	if r.calls == 1 {
		return nil, nil
	}

	return r.BookingRepository.ListActiveIntervals(ctx, calendarID, window)
}

func TestSubmitBookingRetriesOnOverlapConstraint(t *testing.T) {
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	first, err := f.submit(t, "consult", at(10, 0), at(11, 0))
	require.NoError(t, err)

	racy := &racyBookings{BookingRepository: f.store.Bookings()}
	svc := NewBookingServiceImpl(
		racy, f.store.Services(), f.store.Outbox(), f.store.TransactionManager(), f.clock, nil, BookingOptions{},
	)

	_, err = svc.SubmitBooking(context.Background(), &model.BookingCandidate{
		CalendarID: "cal-1", ServiceID: "consult", Start: at(10, 0), End: at(11, 0), CustomerRef: "c",
	})

	var cerr *model.ConflictError
	require.True(t, errors.As(err, &cerr))
	assert.Equal(t, model.ExactOverlap, cerr.Kind)
	assert.Equal(t, first.Booking.ID, cerr.BookingID)
	assert.Equal(t, 2, racy.calls)
	assert.Len(t, f.events(t), 1)
}

func TestBookingTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	created, err := f.submit(t, "consult", at(10, 0), at(11, 0))
	require.NoError(t, err)

	id := created.Booking.ID

	confirmed, err := f.bookings.Confirm(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, confirmed.Booking.Status)
	assert.Equal(t, model.EventTypeBookingConfirmed, confirmed.Event.EventType)

	_, err = f.bookings.Confirm(ctx, id)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	cancelled, err := f.bookings.Cancel(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, cancelled.Booking.Status)
	assert.Equal(t, model.EventTypeBookingCancelled, cancelled.Event.EventType)

	require.Len(t, f.events(t), 3)

	t.Run("cancel is not repeatable", func(t *testing.T) {
		_, err := f.bookings.Cancel(ctx, id)

		var terr *model.InvalidTransitionError
		require.True(t, errors.As(err, &terr))
		assert.Equal(t, model.BookingStatusCancelled, terr.From)
		assert.Len(t, f.events(t), 3)
	})

	t.Run("cancelled cannot be confirmed", func(t *testing.T) {
		_, err := f.bookings.Confirm(ctx, id)
		assert.ErrorIs(t, err, model.ErrInvalidTransition)
		assert.Len(t, f.events(t), 3)
	})

	t.Run("unknown booking", func(t *testing.T) {
		_, err := f.bookings.Cancel(ctx, "missing")
		assert.ErrorIs(t, err, model.ErrBookingNotFound)
	})

	stored, err := f.bookings.GetBooking(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, stored.Status)
}

func TestRecordPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	paid, err := f.submit(t, "consult", at(10, 0), at(11, 0))
	require.NoError(t, err)

	result, err := f.bookings.RecordPayment(ctx, paid.Booking.ID, true)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusConfirmed, result.Booking.Status)
	require.NotNil(t, result.Event)

	again, err := f.bookings.RecordPayment(ctx, paid.Booking.ID, true)
	require.NoError(t, err)
	assert.Nil(t, again.Event)
	assert.Len(t, f.events(t), 2)

	declined, err := f.submit(t, "consult", at(13, 0), at(14, 0))
	require.NoError(t, err)

	result, err = f.bookings.RecordPayment(ctx, declined.Booking.ID, false)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, result.Booking.Status)

	_, err = f.bookings.RecordPayment(ctx, declined.Booking.ID, true)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
}

func TestExpirePendingHolds(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, BookingOptions{PendingHoldTTL: 30 * time.Minute}, defaultDispatchOptions())

	stale, err := f.submit(t, "consult", at(10, 0), at(11, 0))
	require.NoError(t, err)

	kept, err := f.submit(t, "consult", at(12, 0), at(13, 0))
	require.NoError(t, err)
	_, err = f.bookings.Confirm(ctx, kept.Booking.ID)
	require.NoError(t, err)

	f.clock.Advance(20 * time.Minute)

	fresh, err := f.submit(t, "consult", at(14, 0), at(15, 0))
	require.NoError(t, err)

	f.clock.Advance(15 * time.Minute)

	n, err := f.bookings.ExpirePendingHolds(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	b, err := f.bookings.GetBooking(ctx, stale.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusCancelled, b.Status)

	b, err = f.bookings.GetBooking(ctx, fresh.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingStatusPending, b.Status)

	latest := f.events(t)[0]
	assert.Equal(t, model.EventTypeBookingCancelled, latest.EventType)
	assert.Equal(t, model.TriggerSourceTimer, latest.TriggerSource)
}

func TestExpirePendingHoldsDisabled(t *testing.T) {
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	_, err := f.submit(t, "consult", at(10, 0), at(11, 0))
	require.NoError(t, err)

	f.clock.Advance(48 * time.Hour)

	n, err := f.bookings.ExpirePendingHolds(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSendTestEvent(t *testing.T) {
	f := newFixture(t, BookingOptions{}, defaultDispatchOptions())

	event, err := f.bookings.SendTestEvent(context.Background(), "cal-1", "")
	require.NoError(t, err)
	assert.Equal(t, model.EventTypeWebhookTest, event.EventType)
	assert.Equal(t, model.TriggerSourceManual, event.TriggerSource)
	assert.Empty(t, event.BookingID)

	var payload model.Payload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	require.NotNil(t, payload.Test)
	assert.Equal(t, defaultTestMessage, payload.Test.Message)

	_, err = f.bookings.SendTestEvent(context.Background(), "", "hi")
	assert.ErrorIs(t, err, model.ErrCalendarRequired)
}
