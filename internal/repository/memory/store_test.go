package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/repository"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newBooking(id string, start time.Time, d time.Duration) *model.Booking {
	return &model.Booking{
		ID:             id,
		CalendarID:     "cal-1",
		ServiceID:      "svc",
		Start:          start,
		End:            start.Add(d),
		Status:         model.BookingStatusPending,
		CustomerRef:    "cust",
		EffectiveStart: start,
		EffectiveEnd:   start.Add(d),
		CreatedAt:      t0,
		UpdatedAt:      t0,
	}
}

func newEvent(id, bookingID string, createdAt time.Time) *model.CreateWebhookEventParams {
	return &model.CreateWebhookEventParams{
		ID:            id,
		CalendarID:    "cal-1",
		BookingID:     bookingID,
		EventType:     model.EventTypeBookingCreated,
		Payload:       []byte(`{}`),
		TriggerSource: model.TriggerSourceBookingMutation,
		CreatedAt:     createdAt,
	}
}

func TestWithTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store := NewStore()
	boom := errors.New("boom")

	err := store.WithTransaction(ctx, func(ctx context.Context) error {
		require.NoError(t, store.Bookings().Create(ctx, newBooking("b1", t0, time.Hour)))
		_, err := store.Outbox().CreateEvent(ctx, newEvent("e1", "b1", t0))
		require.NoError(t, err)

		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = store.Bookings().GetByID(ctx, "b1")
	require.ErrorIs(t, err, model.ErrBookingNotFound)

	_, err = store.Outbox().GetByID(ctx, "e1")
	assert.ErrorIs(t, err, model.ErrEventNotFound)
}

func TestLockCalendarRequiresTransaction(t *testing.T) {
	store := NewStore()

	err := store.Bookings().LockCalendar(context.Background(), "cal-1")
	require.ErrorIs(t, err, repository.ErrNoTransaction)

	err = store.WithTransaction(context.Background(), func(ctx context.Context) error {
		return store.Bookings().LockCalendar(ctx, "cal-1")
	})
	assert.NoError(t, err)
}

func TestCreateRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	bookings := NewStore().Bookings()

	require.NoError(t, bookings.Create(ctx, newBooking("b1", t0, time.Hour)))
	require.NoError(t, bookings.Create(ctx, newBooking("b2", t0.Add(time.Hour), time.Hour)), "adjacent is allowed")

	err := bookings.Create(ctx, newBooking("b3", t0.Add(30*time.Minute), time.Hour))
	require.ErrorIs(t, err, repository.ErrOverlapConstraint)

	_, err = bookings.UpdateStatus(ctx, "b1", model.BookingStatusCancelled, t0)
	require.NoError(t, err)

	assert.NoError(t, bookings.Create(ctx, newBooking("b4", t0, 30*time.Minute)), "cancelled bookings free their slot")
}

func TestClaimEvents(t *testing.T) {
	ctx := context.Background()

	t.Run("oldest first and limited", func(t *testing.T) {
		outbox := NewStore().Outbox()
		for i, id := range []string{"e1", "e2", "e3"} {
			_, err := outbox.CreateEvent(ctx, newEvent(id, "", t0.Add(time.Duration(i)*time.Second)))
			require.NoError(t, err)
		}

		claimed, err := outbox.ClaimEvents(ctx, model.ClaimParams{Now: t0.Add(time.Minute), Limit: 2, StaleBefore: t0})
		require.NoError(t, err)
		require.Len(t, claimed, 2)
		assert.Equal(t, "e1", claimed[0].ID)
		assert.Equal(t, "e2", claimed[1].ID)
		assert.Equal(t, model.EventStatusSending, claimed[0].Status)

		claimed, err = outbox.ClaimEvents(ctx, model.ClaimParams{Now: t0.Add(time.Minute), Limit: 10, StaleBefore: t0})
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, "e3", claimed[0].ID)
	})

	t.Run("respects next attempt unless forced", func(t *testing.T) {
		outbox := NewStore().Outbox()
		_, err := outbox.CreateEvent(ctx, newEvent("e1", "", t0))
		require.NoError(t, err)

		claimed, err := outbox.ClaimEvents(ctx, model.ClaimParams{Now: t0, Limit: 1, StaleBefore: t0})
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		require.NoError(t, outbox.CompleteDelivery(ctx, "e1", model.DeliveryOutcome{
			Status:        model.EventStatusPending,
			Attempts:      1,
			NextAttemptAt: t0.Add(time.Hour),
			AttemptedAt:   t0,
			LastError:     "503",
			ClaimedAt:     *claimed[0].ClaimedAt,
		}))

		claimed, err = outbox.ClaimEvents(ctx, model.ClaimParams{Now: t0.Add(time.Minute), Limit: 1, StaleBefore: t0})
		require.NoError(t, err)
		assert.Empty(t, claimed)

		claimed, err = outbox.ClaimEvents(ctx, model.ClaimParams{Now: t0.Add(time.Minute), Limit: 1, Force: true, StaleBefore: t0})
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, 1, claimed[0].Attempts)
	})

	t.Run("reclaims stale sending", func(t *testing.T) {
		outbox := NewStore().Outbox()
		_, err := outbox.CreateEvent(ctx, newEvent("e1", "", t0))
		require.NoError(t, err)

		_, err = outbox.ClaimEvents(ctx, model.ClaimParams{Now: t0, Limit: 1, StaleBefore: t0})
		require.NoError(t, err)

		claimed, err := outbox.ClaimEvents(ctx, model.ClaimParams{Now: t0.Add(30 * time.Second), Limit: 1, StaleBefore: t0})
		require.NoError(t, err)
		assert.Empty(t, claimed, "lease still held")

		claimed, err = outbox.ClaimEvents(ctx, model.ClaimParams{
			Now: t0.Add(2 * time.Minute), Limit: 1, StaleBefore: t0.Add(time.Minute),
		})
		require.NoError(t, err)
		assert.Len(t, claimed, 1)
	})

	t.Run("ordered per booking", func(t *testing.T) {
		outbox := NewStore().Outbox()
		for i, p := range []*model.CreateWebhookEventParams{
			newEvent("e1", "b1", t0),
			newEvent("e2", "b1", t0.Add(time.Second)),
			newEvent("e3", "b2", t0.Add(2*time.Second)),
		} {
			_, err := outbox.CreateEvent(ctx, p)
			require.NoError(t, err, i)
		}

		claimed, err := outbox.ClaimEvents(ctx, model.ClaimParams{
			Now: t0.Add(time.Minute), Limit: 10, StaleBefore: t0, OrderedPerBooking: true,
		})
		require.NoError(t, err)

		ids := make([]string, 0, len(claimed))
		for _, e := range claimed {
			ids = append(ids, e.ID)
		}

		assert.Equal(t, []string{"e1", "e3"}, ids)
	})

	t.Run("failed predecessor holds back its booking", func(t *testing.T) {
		outbox := NewStore().Outbox()
		for _, p := range []*model.CreateWebhookEventParams{
			newEvent("e1", "b1", t0),
			newEvent("e2", "b1", t0.Add(time.Second)),
		} {
			_, err := outbox.CreateEvent(ctx, p)
			require.NoError(t, err)
		}

		params := model.ClaimParams{Now: t0.Add(time.Minute), Limit: 10, StaleBefore: t0, OrderedPerBooking: true}

		claimed, err := outbox.ClaimEvents(ctx, params)
		require.NoError(t, err)
		require.Len(t, claimed, 1)

		require.NoError(t, outbox.CompleteDelivery(ctx, "e1", model.DeliveryOutcome{
			Status: model.EventStatusFailed, Attempts: 8, AttemptedAt: params.Now, ClaimedAt: params.Now,
		}))

		claimed, err = outbox.ClaimEvents(ctx, params)
		require.NoError(t, err)
		assert.Empty(t, claimed)

		_, err = outbox.RequeueFailed(ctx, "", nil, true, params.Now)
		require.NoError(t, err)

		claimed, err = outbox.ClaimEvents(ctx, params)
		require.NoError(t, err)
		require.Len(t, claimed, 1)
		assert.Equal(t, "e1", claimed[0].ID)
	})
}

func TestCompleteDeliveryRequiresCurrentClaim(t *testing.T) {
	ctx := context.Background()
	outbox := NewStore().Outbox()

	_, err := outbox.CreateEvent(ctx, newEvent("e1", "", t0))
	require.NoError(t, err)

	first, err := outbox.ClaimEvents(ctx, model.ClaimParams{Now: t0, Limit: 1, StaleBefore: t0})
	require.NoError(t, err)
	require.Len(t, first, 1)

	later := t0.Add(2 * time.Minute)
	second, err := outbox.ClaimEvents(ctx, model.ClaimParams{Now: later, Limit: 1, StaleBefore: later.Add(-time.Minute)})
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.True(t, later.Equal(*second[0].ClaimedAt))

	err = outbox.CompleteDelivery(ctx, "e1", model.DeliveryOutcome{
		Status: model.EventStatusPending, Attempts: 1, NextAttemptAt: later, ClaimedAt: *first[0].ClaimedAt,
	})
	require.ErrorIs(t, err, model.ErrClaimLost)

	require.NoError(t, outbox.CompleteDelivery(ctx, "e1", model.DeliveryOutcome{
		Status: model.EventStatusSent, Attempts: 1, AttemptedAt: later, ClaimedAt: *second[0].ClaimedAt,
	}))

	e1, err := outbox.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusSent, e1.Status)
	assert.Nil(t, e1.ClaimedAt)

	err = outbox.CompleteDelivery(ctx, "missing", model.DeliveryOutcome{ClaimedAt: later})
	assert.ErrorIs(t, err, model.ErrEventNotFound)
}

func TestRequeueFailed(t *testing.T) {
	ctx := context.Background()
	outbox := NewStore().Outbox()

	for _, id := range []string{"e1", "e2"} {
		_, err := outbox.CreateEvent(ctx, newEvent(id, "", t0))
		require.NoError(t, err)
	}

	_, err := outbox.ClaimEvents(ctx, model.ClaimParams{Now: t0, Limit: 2, StaleBefore: t0})
	require.NoError(t, err)

	for _, id := range []string{"e1", "e2"} {
		require.NoError(t, outbox.CompleteDelivery(ctx, id, model.DeliveryOutcome{
			Status: model.EventStatusFailed, Attempts: 4, NextAttemptAt: t0, AttemptedAt: t0, LastError: "410",
			ClaimedAt: t0,
		}))
	}

	n, err := outbox.RequeueFailed(ctx, "", []string{"e2"}, false, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e2, err := outbox.GetByID(ctx, "e2")
	require.NoError(t, err)
	assert.Equal(t, model.EventStatusPending, e2.Status)
	assert.Equal(t, 4, e2.Attempts)
	assert.Empty(t, e2.LastError)

	n, err = outbox.RequeueFailed(ctx, "cal-1", nil, true, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	e1, err := outbox.GetByID(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, e1.Attempts)
}

func TestStatusReader(t *testing.T) {
	ctx := context.Background()
	outbox := NewStore().Outbox()

	_, err := outbox.CreateEvent(ctx, newEvent("e1", "", t0))
	require.NoError(t, err)

	for i, ok := range []bool{false, true, false} {
		require.NoError(t, outbox.RecordAttempt(ctx, &model.DeliveryAttempt{
			ID:          string(rune('a' + i)),
			EventID:     "e1",
			EndpointID:  "ep-1",
			CalendarID:  "cal-1",
			Attempt:     i + 1,
			Success:     ok,
			AttemptedAt: t0.Add(time.Duration(i) * time.Minute),
		}))
	}

	counts, err := outbox.CountByStatus(ctx, "cal-1", t0.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, model.StatusCounts{Pending: 1}, counts)

	last, err := outbox.LastSuccessByCalendar(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Minute), last["cal-1"])

	recent, err := outbox.ListRecentAttempts(ctx, "cal-1", t0, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, 3, recent[0].Attempt)
	assert.Equal(t, 2, recent[1].Attempt)

	delivered, err := outbox.SucceededEndpoints(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"ep-1": true}, delivered)

	require.Error(t, outbox.RecordAttempt(ctx, &model.DeliveryAttempt{EventID: "missing"}))
}
