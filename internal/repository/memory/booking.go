package memory

import (
	"context"
	"sort"
	"time"

	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/repository"
)

type bookingRepo struct{ s *Store }

// LockCalendar is satisfied by the store-wide transaction lock.
func (r *bookingRepo) LockCalendar(ctx context.Context, _ string) error {
	if !r.s.inTransaction(ctx) {
		return repository.ErrNoTransaction
	}

	return nil
}

func (r *bookingRepo) ListActiveIntervals(
	ctx context.Context, calendarID string, window model.TimeRange,
) ([]model.EffectiveInterval, error) {
	defer r.s.lock(ctx)()

	var intervals []model.EffectiveInterval

	for _, b := range r.s.st.bookings {
		if b.CalendarID != calendarID || !b.Status.Active() {
			continue
		}

		if iv := b.Interval(); iv.Effective.Overlaps(window) {
			intervals = append(intervals, iv)
		}
	}

	sort.Slice(intervals, func(i, j int) bool {
		return intervals[i].Effective.Start.Before(intervals[j].Effective.Start)
	})

	return intervals, nil
}

func (r *bookingRepo) Create(ctx context.Context, b *model.Booking) error {
	defer r.s.lock(ctx)()

	effective := model.TimeRange{Start: b.EffectiveStart, End: b.EffectiveEnd}

	for _, other := range r.s.st.bookings {
		if other.CalendarID == b.CalendarID && other.Status.Active() && b.Status.Active() &&
			other.Interval().Effective.Overlaps(effective) {
			return repository.ErrOverlapConstraint
		}
	}

	r.s.st.bookings[b.ID] = *b

	return nil
}

func (r *bookingRepo) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	defer r.s.lock(ctx)()

	b, ok := r.s.st.bookings[id]
	if !ok {
		return nil, model.ErrBookingNotFound
	}

	return &b, nil
}

func (r *bookingRepo) GetByIDForUpdate(ctx context.Context, id string) (*model.Booking, error) {
	if !r.s.inTransaction(ctx) {
		return nil, repository.ErrNoTransaction
	}

	return r.GetByID(ctx, id)
}

func (r *bookingRepo) UpdateStatus(
	ctx context.Context, id string, status model.BookingStatus, now time.Time,
) (*model.Booking, error) {
	defer r.s.lock(ctx)()

	b, ok := r.s.st.bookings[id]
	if !ok {
		return nil, model.ErrBookingNotFound
	}

	b.Status = status
	b.UpdatedAt = now
	r.s.st.bookings[id] = b

	return &b, nil
}

func (r *bookingRepo) ListPendingCreatedBefore(
	ctx context.Context, before time.Time, limit int,
) ([]*model.Booking, error) {
	defer r.s.lock(ctx)()

	var bookings []*model.Booking

	for _, b := range r.s.st.bookings {
		if b.Status == model.BookingStatusPending && b.CreatedAt.Before(before) {
			b := b
			bookings = append(bookings, &b)
		}
	}

	sort.Slice(bookings, func(i, j int) bool { return bookings[i].CreatedAt.Before(bookings[j].CreatedAt) })

	if len(bookings) > limit {
		bookings = bookings[:limit]
	}

	return bookings, nil
}

type serviceRepo struct{ s *Store }

func (r *serviceRepo) GetByID(ctx context.Context, id string) (*model.ServiceDefinition, error) {
	defer r.s.lock(ctx)()

	svc, ok := r.s.st.services[id]
	if !ok {
		return nil, model.ErrServiceNotFound
	}

	return &svc, nil
}

func (r *serviceRepo) Create(ctx context.Context, svc *model.ServiceDefinition) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.st.services[svc.ID]; ok {
		return model.ErrServiceExists
	}

	r.s.st.services[svc.ID] = *svc

	return nil
}

type endpointRepo struct{ s *Store }

func (r *endpointRepo) ListActiveByCalendar(ctx context.Context, calendarID string) ([]*model.WebhookEndpoint, error) {
	endpoints, err := r.ListByCalendar(ctx, calendarID)
	if err != nil {
		return nil, err
	}

	active := endpoints[:0]

	for _, e := range endpoints {
		if e.IsActive {
			active = append(active, e)
		}
	}

	return active, nil
}

func (r *endpointRepo) ListByCalendar(ctx context.Context, calendarID string) ([]*model.WebhookEndpoint, error) {
	defer r.s.lock(ctx)()

	var endpoints []*model.WebhookEndpoint

	for _, e := range r.s.st.endpoints {
		if calendarID == "" || e.CalendarID == calendarID {
			e := e
			endpoints = append(endpoints, &e)
		}
	}

	sort.Slice(endpoints, func(i, j int) bool {
		if endpoints[i].CalendarID != endpoints[j].CalendarID {
			return endpoints[i].CalendarID < endpoints[j].CalendarID
		}

		return endpoints[i].ID < endpoints[j].ID
	})

	return endpoints, nil
}

func (r *endpointRepo) Upsert(ctx context.Context, e *model.WebhookEndpoint) error {
	defer r.s.lock(ctx)()

	stored := *e
	if existing, ok := r.s.st.endpoints[e.ID]; ok {
		stored.CreatedAt = existing.CreatedAt
	}

	r.s.st.endpoints[e.ID] = stored

	return nil
}
