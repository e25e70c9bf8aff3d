package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/booking-outbox/internal/model"
)

const (
	bookingColumns = `id, calendar_id, service_id, start_at, end_at, effective_start, effective_end,
		status, customer_ref, customer_name, created_at, updated_at`

	exclusionViolation = "23P01"
)

// BookingRepositoryImpl implements BookingRepository using PostgreSQL.
type BookingRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewBookingRepositoryImpl creates a new BookingRepository implementation.
func NewBookingRepositoryImpl(pool *pgxpool.Pool) BookingRepository {
	return &BookingRepositoryImpl{pool: pool}
}

// LockCalendar takes a transaction-scoped advisory lock keyed by the calendar id.
func (r *BookingRepositoryImpl) LockCalendar(ctx context.Context, calendarID string) error {
	if !inTransaction(ctx) {
		return ErrNoTransaction
	}

	if _, err := conn(ctx, r.pool).Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, calendarID); err != nil {
		return fmt.Errorf("failed to lock calendar %s: %w", calendarID, err)
	}

	return nil
}

// ListActiveIntervals retrieves the calendar timeline around window.
func (r *BookingRepositoryImpl) ListActiveIntervals(
	ctx context.Context, calendarID string, window model.TimeRange,
) ([]model.EffectiveInterval, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT id, start_at, end_at, effective_start, effective_end
		FROM bookings
		WHERE calendar_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND effective_start < $3
		  AND effective_end > $2
		ORDER BY effective_start`,
		calendarID, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("failed to query calendar timeline: %w", err)
	}
	defer rows.Close()

	var intervals []model.EffectiveInterval

	for rows.Next() {
		var iv model.EffectiveInterval
		if err := rows.Scan(&iv.BookingID, &iv.Billable.Start, &iv.Billable.End,
			&iv.Effective.Start, &iv.Effective.End); err != nil {
			return nil, err
		}

		intervals = append(intervals, iv)
	}

	return intervals, rows.Err()
}

// Create inserts a booking.
func (r *BookingRepositoryImpl) Create(ctx context.Context, b *model.Booking) error {
	_, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		b.ID, b.CalendarID, b.ServiceID, b.Start, b.End, b.EffectiveStart, b.EffectiveEnd,
		string(b.Status), b.CustomerRef, b.CustomerName, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == exclusionViolation {
			return ErrOverlapConstraint
		}

		return fmt.Errorf("failed to insert booking: %w", err)
	}

	return nil
}

// GetByID retrieves a booking by ID.
func (r *BookingRepositoryImpl) GetByID(ctx context.Context, id string) (*model.Booking, error) {
	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
}

// GetByIDForUpdate retrieves a booking by ID and row-locks it.
func (r *BookingRepositoryImpl) GetByIDForUpdate(ctx context.Context, id string) (*model.Booking, error) {
	if !inTransaction(ctx) {
		return nil, ErrNoTransaction
	}

	return r.get(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, id)
}

// UpdateStatus changes the status of a booking.
func (r *BookingRepositoryImpl) UpdateStatus(
	ctx context.Context, id string, status model.BookingStatus, now time.Time,
) (*model.Booking, error) {
	row := conn(ctx, r.pool).QueryRow(ctx, `
		UPDATE bookings SET status = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+bookingColumns,
		id, string(status), now)

	b, err := scanBooking(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrBookingNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to update booking status: %w", err)
	}

	return b, nil
}

// ListPendingCreatedBefore retrieves pending bookings older than before.
func (r *BookingRepositoryImpl) ListPendingCreatedBefore(
	ctx context.Context, before time.Time, limit int,
) ([]*model.Booking, error) {
	rows, err := conn(ctx, r.pool).Query(ctx, `
		SELECT `+bookingColumns+`
		FROM bookings
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at
		LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*model.Booking

	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}

		bookings = append(bookings, b)
	}

	return bookings, rows.Err()
}

func (r *BookingRepositoryImpl) get(ctx context.Context, sql, id string) (*model.Booking, error) {
	b, err := scanBooking(conn(ctx, r.pool).QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrBookingNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}

	return b, nil
}

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var (
		b      model.Booking
		status string
	)

	if err := row.Scan(&b.ID, &b.CalendarID, &b.ServiceID, &b.Start, &b.End, &b.EffectiveStart, &b.EffectiveEnd,
		&status, &b.CustomerRef, &b.CustomerName, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}

	b.Status = model.BookingStatus(status)

	return &b, nil
}
