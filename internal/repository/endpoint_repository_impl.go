package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/booking-outbox/internal/model"
)

const endpointColumns = `id, calendar_id, url, secret, is_active, created_at, updated_at`

// EndpointRepositoryImpl implements EndpointRepository using PostgreSQL.
type EndpointRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewEndpointRepositoryImpl creates a new EndpointRepository implementation.
func NewEndpointRepositoryImpl(pool *pgxpool.Pool) EndpointRepository {
	return &EndpointRepositoryImpl{pool: pool}
}

// ListActiveByCalendar retrieves the active endpoints of a calendar.
func (r *EndpointRepositoryImpl) ListActiveByCalendar(
	ctx context.Context, calendarID string,
) ([]*model.WebhookEndpoint, error) {
	return r.list(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE calendar_id = $1 AND is_active ORDER BY id`, calendarID)
}

// ListByCalendar retrieves endpoints regardless of their active flag.
func (r *EndpointRepositoryImpl) ListByCalendar(ctx context.Context, calendarID string) ([]*model.WebhookEndpoint, error) {
	return r.list(ctx, `SELECT `+endpointColumns+` FROM webhook_endpoints
		WHERE $1 = '' OR calendar_id = $1 ORDER BY calendar_id, id`, calendarID)
}

// Upsert creates or replaces an endpoint.
func (r *EndpointRepositoryImpl) Upsert(ctx context.Context, e *model.WebhookEndpoint) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO webhook_endpoints (`+endpointColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			calendar_id = EXCLUDED.calendar_id,
			url = EXCLUDED.url,
			secret = EXCLUDED.secret,
			is_active = EXCLUDED.is_active,
			updated_at = EXCLUDED.updated_at`,
		e.ID, e.CalendarID, e.URL, e.Secret, e.IsActive, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert webhook endpoint: %w", err)
	}

	return nil
}

func (r *EndpointRepositoryImpl) list(ctx context.Context, sql, calendarID string) ([]*model.WebhookEndpoint, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, sql, calendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhook endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []*model.WebhookEndpoint

	for rows.Next() {
		var e model.WebhookEndpoint
		if err := rows.Scan(&e.ID, &e.CalendarID, &e.URL, &e.Secret, &e.IsActive, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, err
		}

		endpoints = append(endpoints, &e)
	}

	return endpoints, rows.Err()
}
