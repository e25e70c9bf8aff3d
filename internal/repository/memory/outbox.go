package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/jnst/booking-outbox/internal/model"
)

// OutboxRepo implements repository.OutboxRepository and repository.StatusReader.
type OutboxRepo struct{ s *Store }

func (r *OutboxRepo) CreateEvent(ctx context.Context, p *model.CreateWebhookEventParams) (*model.WebhookEvent, error) {
	defer r.s.lock(ctx)()

	if _, ok := r.s.st.eventIdx[p.ID]; ok {
		return nil, fmt.Errorf("failed to insert outbox event: duplicate id %s", p.ID)
	}

	event := model.WebhookEvent{
		ID:            p.ID,
		CalendarID:    p.CalendarID,
		BookingID:     p.BookingID,
		EventType:     p.EventType,
		Payload:       slices.Clone(p.Payload),
		Status:        model.EventStatusPending,
		TriggerSource: p.TriggerSource,
		NextAttemptAt: p.CreatedAt,
		CreatedAt:     p.CreatedAt,
	}

	r.s.st.eventIdx[event.ID] = len(r.s.st.events)
	r.s.st.events = append(r.s.st.events, event)

	return &event, nil
}

func (r *OutboxRepo) GetByID(ctx context.Context, id string) (*model.WebhookEvent, error) {
	defer r.s.lock(ctx)()

	i, ok := r.s.st.eventIdx[id]
	if !ok {
		return nil, model.ErrEventNotFound
	}

	event := r.s.st.events[i]

	return &event, nil
}

func (r *OutboxRepo) ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.WebhookEvent, error) {
	defer r.s.lock(ctx)()

	var events []*model.WebhookEvent

	for i := len(r.s.st.events) - 1; i >= 0 && len(events) < filter.Limit; i-- {
		e := r.s.st.events[i]
		if (filter.CalendarID == "" || e.CalendarID == filter.CalendarID) &&
			(filter.Status == "" || e.Status == filter.Status) {
			events = append(events, &e)
		}
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.After(events[j].CreatedAt) })

	return events, nil
}

func (r *OutboxRepo) ClaimEvents(ctx context.Context, p model.ClaimParams) ([]*model.WebhookEvent, error) {
	defer r.s.lock(ctx)()

	order := make([]int, len(r.s.st.events))
	for i := range order {
		order[i] = i
	}

	sort.SliceStable(order, func(a, b int) bool {
		return r.s.st.events[order[a]].CreatedAt.Before(r.s.st.events[order[b]].CreatedAt)
	})

	var claimed []*model.WebhookEvent

	for _, i := range order {
		if len(claimed) >= p.Limit {
			break
		}

		e := r.s.st.events[i]
		if !r.due(e, p) || (p.OrderedPerBooking && r.blockedByEarlier(i)) {
			continue
		}

		claimedAt := p.Now
		e.Status = model.EventStatusSending
		e.ClaimedAt = &claimedAt
		r.s.st.events[i] = e
		claimed = append(claimed, &e)
	}

	return claimed, nil
}

func (r *OutboxRepo) due(e model.WebhookEvent, p model.ClaimParams) bool {
	switch e.Status {
	case model.EventStatusPending:
		return p.Force || !e.NextAttemptAt.After(p.Now)
	case model.EventStatusSending:
		return e.ClaimedAt != nil && e.ClaimedAt.Before(p.StaleBefore)
	default:
		return false
	}
}

// blockedByEarlier reports whether an earlier event of the same booking is undelivered,
// including one that failed and waits for a replay.
// Events are appended in creation order, so earlier means a lower index.
func (r *OutboxRepo) blockedByEarlier(i int) bool {
	bookingID := r.s.st.events[i].BookingID
	if bookingID == "" {
		return false
	}

	for _, prev := range r.s.st.events[:i] {
		if prev.BookingID == bookingID &&
			prev.Status != model.EventStatusSent {
			return true
		}
	}

	return false
}

func (r *OutboxRepo) CompleteDelivery(ctx context.Context, id string, o model.DeliveryOutcome) error {
	defer r.s.lock(ctx)()

	i, ok := r.s.st.eventIdx[id]
	if !ok {
		return fmt.Errorf("outbox event %s: %w", id, model.ErrEventNotFound)
	}

	if cur := r.s.st.events[i]; cur.Status != model.EventStatusSending ||
		cur.ClaimedAt == nil || !cur.ClaimedAt.Equal(o.ClaimedAt) {
		return fmt.Errorf("outbox event %s: %w", id, model.ErrClaimLost)
	}

	e := r.s.st.events[i]
	e.Status = o.Status
	e.Attempts = o.Attempts
	e.NextAttemptAt = o.NextAttemptAt
	e.LastError = o.LastError

	if !o.AttemptedAt.IsZero() {
		at := o.AttemptedAt
		e.LastAttemptAt = &at
	}

	e.ClaimedAt = nil
	r.s.st.events[i] = e

	return nil
}

func (r *OutboxRepo) RequeueFailed(
	ctx context.Context, calendarID string, ids []string, resetAttempts bool, now time.Time,
) (int, error) {
	defer r.s.lock(ctx)()

	n := 0

	for i, e := range r.s.st.events {
		if e.Status != model.EventStatusFailed ||
			(calendarID != "" && e.CalendarID != calendarID) ||
			(len(ids) > 0 && !slices.Contains(ids, e.ID)) {
			continue
		}

		e.Status = model.EventStatusPending
		e.NextAttemptAt = now
		e.LastError = ""

		if resetAttempts {
			e.Attempts = 0
		}

		r.s.st.events[i] = e
		n++
	}

	return n, nil
}

func (r *OutboxRepo) RecordAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	defer r.s.lock(ctx)()

	if _, ok := r.s.st.eventIdx[a.EventID]; !ok {
		return fmt.Errorf("failed to record delivery attempt: %w", model.ErrEventNotFound)
	}

	r.s.st.attempts = append(r.s.st.attempts, *a)

	return nil
}

func (r *OutboxRepo) SucceededEndpoints(ctx context.Context, eventID string) (map[string]bool, error) {
	defer r.s.lock(ctx)()

	delivered := make(map[string]bool)

	for _, a := range r.s.st.attempts {
		if a.EventID == eventID && a.Success {
			delivered[a.EndpointID] = true
		}
	}

	return delivered, nil
}

func (r *OutboxRepo) CountByStatus(ctx context.Context, calendarID string, since time.Time) (model.StatusCounts, error) {
	defer r.s.lock(ctx)()

	var counts model.StatusCounts

	for _, e := range r.s.st.events {
		if !e.CreatedAt.Before(since) && (calendarID == "" || e.CalendarID == calendarID) {
			counts.Add(e.Status, 1)
		}
	}

	return counts, nil
}

func (r *OutboxRepo) LastSuccessByCalendar(ctx context.Context, calendarID string) (map[string]time.Time, error) {
	defer r.s.lock(ctx)()

	last := make(map[string]time.Time)

	for _, a := range r.s.st.attempts {
		if !a.Success || (calendarID != "" && a.CalendarID != calendarID) {
			continue
		}

		if a.AttemptedAt.After(last[a.CalendarID]) {
			last[a.CalendarID] = a.AttemptedAt
		}
	}

	return last, nil
}

func (r *OutboxRepo) ListRecentAttempts(
	ctx context.Context, calendarID string, since time.Time, perEndpoint int,
) ([]*model.DeliveryAttempt, error) {
	defer r.s.lock(ctx)()

	var attempts []*model.DeliveryAttempt

	for i := len(r.s.st.attempts) - 1; i >= 0; i-- {
		a := r.s.st.attempts[i]
		if !a.AttemptedAt.Before(since) && (calendarID == "" || a.CalendarID == calendarID) {
			attempts = append(attempts, &a)
		}
	}

	sort.SliceStable(attempts, func(i, j int) bool {
		if attempts[i].EndpointID != attempts[j].EndpointID {
			return attempts[i].EndpointID < attempts[j].EndpointID
		}

		return attempts[i].AttemptedAt.After(attempts[j].AttemptedAt)
	})

	out := attempts[:0]
	seen := make(map[string]int)

	for _, a := range attempts {
		if seen[a.EndpointID] < perEndpoint {
			seen[a.EndpointID]++
			out = append(out, a)
		}
	}

	return out, nil
}
