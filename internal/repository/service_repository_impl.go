package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jnst/booking-outbox/internal/model"
)

// ServiceRepositoryImpl implements ServiceRepository using PostgreSQL.
type ServiceRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewServiceRepositoryImpl creates a new ServiceRepository implementation.
func NewServiceRepositoryImpl(pool *pgxpool.Pool) ServiceRepository {
	return &ServiceRepositoryImpl{pool: pool}
}

// GetByID retrieves a service definition by ID.
func (r *ServiceRepositoryImpl) GetByID(ctx context.Context, id string) (*model.ServiceDefinition, error) {
	var (
		svc                           model.ServiceDefinition
		duration, before, afterBuffer int64
	)

	err := conn(ctx, r.pool).QueryRow(ctx, `
		SELECT id, name, duration_seconds, buffer_before_seconds, buffer_after_seconds
		FROM services WHERE id = $1`, id).
		Scan(&svc.ID, &svc.Name, &duration, &before, &afterBuffer)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrServiceNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}

	svc.Duration = time.Duration(duration) * time.Second
	svc.BufferBefore = time.Duration(before) * time.Second
	svc.BufferAfter = time.Duration(afterBuffer) * time.Second

	return &svc, nil
}

// Create inserts a service definition.
func (r *ServiceRepositoryImpl) Create(ctx context.Context, svc *model.ServiceDefinition) error {
	tag, err := conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO services (id, name, duration_seconds, buffer_before_seconds, buffer_after_seconds)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`,
		svc.ID, svc.Name, int64(svc.Duration/time.Second),
		int64(svc.BufferBefore/time.Second), int64(svc.BufferAfter/time.Second))
	if err != nil {
		return fmt.Errorf("failed to insert service: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return model.ErrServiceExists
	}

	return nil
}
