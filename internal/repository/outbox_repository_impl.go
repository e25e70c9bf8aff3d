package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/booking-outbox/internal/model"
)

const eventColumns = `id, calendar_id, booking_id, event_type, payload, status, trigger_source,
	attempts, next_attempt_at, created_at, last_attempt_at, last_error, claimed_at`

// OutboxRepositoryImpl implements OutboxRepository and StatusReader using PostgreSQL.
type OutboxRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewOutboxRepositoryImpl creates a new OutboxRepository implementation.
func NewOutboxRepositoryImpl(pool *pgxpool.Pool) *OutboxRepositoryImpl {
	return &OutboxRepositoryImpl{pool: pool}
}

// CreateEvent creates a new outbox event.
func (r *OutboxRepositoryImpl) CreateEvent(
	ctx context.Context, params *model.CreateWebhookEventParams,
) (*model.WebhookEvent, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		INSERT INTO webhook_events (id, calendar_id, booking_id, event_type, payload, status, trigger_source,
			attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, 0, $7, $7)
		RETURNING `+eventColumns,
		params.ID, params.CalendarID, params.BookingID, string(params.EventType), []byte(params.Payload),
		string(params.TriggerSource), params.CreatedAt)

	event, err := scanEvent(row)
	if err != nil {
		return nil, fmt.Errorf("failed to insert outbox event: %w", err)
	}

	return event, nil
}

// GetByID retrieves an outbox event by ID.
func (r *OutboxRepositoryImpl) GetByID(ctx context.Context, id string) (*model.WebhookEvent, error) {
	event, err := scanEvent(conn(ctx, r.pool).QueryRow(ctx,
		`SELECT `+eventColumns+` FROM webhook_events WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrEventNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get outbox event: %w", err)
	}

	return event, nil
}

// ListEvents retrieves events newest first.
func (r *OutboxRepositoryImpl) ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.WebhookEvent, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+eventColumns+`
		FROM webhook_events
		WHERE ($1 = '' OR calendar_id = $1) AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, seq DESC
		LIMIT $3`,
		filter.CalendarID, string(filter.Status), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query outbox events: %w", err)
	}

	return collectEvents(rows)
}

// ClaimEvents marks due events as sending. SKIP LOCKED lets concurrent dispatchers split the backlog.
// A failed predecessor also holds back later events of its booking until it is replayed.
func (r *OutboxRepositoryImpl) ClaimEvents(ctx context.Context, params model.ClaimParams) ([]*model.WebhookEvent, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		UPDATE webhook_events e
		SET status = 'sending', claimed_at = $1
		WHERE e.id IN (
			SELECT c.id
			FROM webhook_events c
			WHERE ((c.status = 'pending' AND ($2 OR c.next_attempt_at <= $1))
			    OR (c.status = 'sending' AND c.claimed_at < $3))
			  AND (NOT $4 OR c.booking_id = '' OR NOT EXISTS (
			        SELECT 1 FROM webhook_events p
			        WHERE p.booking_id = c.booking_id
			          AND p.seq < c.seq
			          AND p.status IN ('pending', 'sending', 'failed')))
			ORDER BY c.created_at, c.seq
			LIMIT $5
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+eventColumns,
		params.Now, params.Force, params.StaleBefore, params.OrderedPerBooking, params.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim outbox events: %w", err)
	}

	events, err := collectEvents(rows)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].CreatedAt.Before(events[j].CreatedAt) })

	return events, nil
}

// CompleteDelivery stores the result of a dispatch pass. It only applies while o.ClaimedAt is the current claim.
func (r *OutboxRepositoryImpl) CompleteDelivery(ctx context.Context, id string, o model.DeliveryOutcome) error {
	var lastAttemptAt *time.Time
	if !o.AttemptedAt.IsZero() {
		lastAttemptAt = &o.AttemptedAt
	}

	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE webhook_events
		SET status = $2, attempts = $3, next_attempt_at = $4,
		    last_attempt_at = COALESCE($5, last_attempt_at), last_error = $6, claimed_at = NULL
		WHERE id = $1 AND status = 'sending' AND claimed_at = $7`,
		id, string(o.Status), o.Attempts, o.NextAttemptAt, lastAttemptAt, o.LastError, o.ClaimedAt)
	if err != nil {
		return fmt.Errorf("failed to complete outbox event %s: %w", id, err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("outbox event %s: %w", id, model.ErrClaimLost)
	}

	return nil
}

// RequeueFailed moves failed events back to pending.
func (r *OutboxRepositoryImpl) RequeueFailed(
	ctx context.Context, calendarID string, ids []string, resetAttempts bool, now time.Time,
) (int, error) {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		UPDATE webhook_events
		SET status = 'pending', next_attempt_at = $1, last_error = '',
		    attempts = CASE WHEN $2 THEN 0 ELSE attempts END
		WHERE status = 'failed'
		  AND ($3 = '' OR calendar_id = $3)
		  AND (COALESCE(cardinality($4::text[]), 0) = 0 OR id = ANY($4::text[]))`,
		now, resetAttempts, calendarID, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue failed events: %w", err)
	}

	return int(tag.RowsAffected()), nil
}

// RecordAttempt appends to the delivery log.
func (r *OutboxRepositoryImpl) RecordAttempt(ctx context.Context, a *model.DeliveryAttempt) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO webhook_delivery_attempts (id, event_id, endpoint_id, calendar_id, attempt, success,
			status_code, error, latency_ms, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.ID, a.EventID, a.EndpointID, a.CalendarID, a.Attempt, a.Success,
		a.StatusCode, a.Error, a.Latency.Milliseconds(), a.AttemptedAt)
	if err != nil {
		return fmt.Errorf("failed to record delivery attempt: %w", err)
	}

	return nil
}

// SucceededEndpoints retrieves the endpoints that acknowledged an event.
func (r *OutboxRepositoryImpl) SucceededEndpoints(ctx context.Context, eventID string) (map[string]bool, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT DISTINCT endpoint_id FROM webhook_delivery_attempts WHERE event_id = $1 AND success`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery attempts: %w", err)
	}
	defer rows.Close()

	delivered := make(map[string]bool)

	for rows.Next() {
		var endpointID string
		if err := rows.Scan(&endpointID); err != nil {
			return nil, err
		}

		delivered[endpointID] = true
	}

	return delivered, rows.Err()
}

// CountByStatus counts events created since the given time.
func (r *OutboxRepositoryImpl) CountByStatus(
	ctx context.Context, calendarID string, since time.Time,
) (model.StatusCounts, error) {
	var counts model.StatusCounts

	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT status, count(*)
		FROM webhook_events
		WHERE created_at >= $1 AND ($2 = '' OR calendar_id = $2)
		GROUP BY status`,
		since, calendarID)
	if err != nil {
		return counts, fmt.Errorf("failed to count outbox events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int64
		)

		if err := rows.Scan(&status, &n); err != nil {
			return counts, err
		}

		counts.Add(model.EventStatus(status), int(n))
	}

	return counts, rows.Err()
}

// LastSuccessByCalendar retrieves the latest successful delivery per calendar.
func (r *OutboxRepositoryImpl) LastSuccessByCalendar(ctx context.Context, calendarID string) (map[string]time.Time, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT calendar_id, max(attempted_at)
		FROM webhook_delivery_attempts
		WHERE success AND ($1 = '' OR calendar_id = $1)
		GROUP BY calendar_id`,
		calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to query last successful deliveries: %w", err)
	}
	defer rows.Close()

	last := make(map[string]time.Time)

	for rows.Next() {
		var (
			id string
			at time.Time
		)

		if err := rows.Scan(&id, &at); err != nil {
			return nil, err
		}

		last[id] = at
	}

	return last, rows.Err()
}

// ListRecentAttempts retrieves the latest attempts of each endpoint.
func (r *OutboxRepositoryImpl) ListRecentAttempts(
	ctx context.Context, calendarID string, since time.Time, perEndpoint int,
) ([]*model.DeliveryAttempt, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, event_id, endpoint_id, calendar_id, attempt, success, status_code, error, latency_ms, attempted_at
		FROM (
			SELECT a.*, row_number() OVER (PARTITION BY endpoint_id ORDER BY attempted_at DESC) AS rn
			FROM webhook_delivery_attempts a
			WHERE attempted_at >= $2 AND ($1 = '' OR calendar_id = $1)
		) ranked
		WHERE rn <= $3
		ORDER BY endpoint_id, attempted_at DESC`,
		calendarID, since, perEndpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*model.DeliveryAttempt

	for rows.Next() {
		var (
			a         model.DeliveryAttempt
			latencyMS int64
		)

		if err := rows.Scan(&a.ID, &a.EventID, &a.EndpointID, &a.CalendarID, &a.Attempt, &a.Success,
			&a.StatusCode, &a.Error, &latencyMS, &a.AttemptedAt); err != nil {
			return nil, err
		}

		a.Latency = time.Duration(latencyMS) * time.Millisecond
		attempts = append(attempts, &a)
	}

	return attempts, rows.Err()
}

func collectEvents(rows pgx.Rows) ([]*model.WebhookEvent, error) {
	defer rows.Close()

	var events []*model.WebhookEvent

	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}

		events = append(events, event)
	}

	return events, rows.Err()
}

func scanEvent(row pgx.Row) (*model.WebhookEvent, error) {
	var (
		e       model.WebhookEvent
		payload []byte
		kind    string
		status  string
		trigger string
	)

	if err := row.Scan(&e.ID, &e.CalendarID, &e.BookingID, &kind, &payload, &status, &trigger,
		&e.Attempts, &e.NextAttemptAt, &e.CreatedAt, &e.LastAttemptAt, &e.LastError, &e.ClaimedAt); err != nil {
		return nil, err
	}

	e.EventType = model.EventType(kind)
	e.Status = model.EventStatus(status)
	e.TriggerSource = model.TriggerSource(trigger)
	e.Payload = payload

	return &e, nil
}
