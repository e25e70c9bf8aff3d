// Package repository provides data access interfaces and implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jnst/booking-outbox/internal/model"
)

// ErrOverlapConstraint is returned when the storage-level exclusion constraint rejects a booking.
var ErrOverlapConstraint = errors.New("booking overlaps an active booking")

// ErrNoTransaction is returned by operations that must run inside WithTransaction.
var ErrNoTransaction = errors.New("operation requires a transaction")

// BookingRepository defines methods for booking data access.
type BookingRepository interface {
	// LockCalendar serializes writers of one calendar until the surrounding transaction ends.
	LockCalendar(ctx context.Context, calendarID string) error
	// ListActiveIntervals returns pending and confirmed bookings whose effective range overlaps window.
	ListActiveIntervals(ctx context.Context, calendarID string, window model.TimeRange) ([]model.EffectiveInterval, error)
	Create(ctx context.Context, booking *model.Booking) error
	GetByID(ctx context.Context, id string) (*model.Booking, error)
	// GetByIDForUpdate reads a booking and locks it for the rest of the transaction.
	GetByIDForUpdate(ctx context.Context, id string) (*model.Booking, error)
	UpdateStatus(ctx context.Context, id string, status model.BookingStatus, now time.Time) (*model.Booking, error)
	ListPendingCreatedBefore(ctx context.Context, before time.Time, limit int) ([]*model.Booking, error)
}

// ServiceRepository defines methods for service definition data access.
type ServiceRepository interface {
	GetByID(ctx context.Context, id string) (*model.ServiceDefinition, error)
	// Create stores a new definition. Definitions are immutable; an existing id yields ErrServiceExists.
	Create(ctx context.Context, service *model.ServiceDefinition) error
}

// EndpointRepository defines methods for webhook endpoint data access.
type EndpointRepository interface {
	ListActiveByCalendar(ctx context.Context, calendarID string) ([]*model.WebhookEndpoint, error)
	// ListByCalendar returns every endpoint, or those of calendarID when it is not empty.
	ListByCalendar(ctx context.Context, calendarID string) ([]*model.WebhookEndpoint, error)
	Upsert(ctx context.Context, endpoint *model.WebhookEndpoint) error
}

// OutboxRepository defines methods for outbox event data access.
type OutboxRepository interface {
	CreateEvent(ctx context.Context, params *model.CreateWebhookEventParams) (*model.WebhookEvent, error)
	GetByID(ctx context.Context, id string) (*model.WebhookEvent, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.WebhookEvent, error)
	// ClaimEvents moves due events to sending and returns them oldest first.
	ClaimEvents(ctx context.Context, params model.ClaimParams) ([]*model.WebhookEvent, error)
	// CompleteDelivery records the outcome of a pass for an event this dispatcher claimed.
	CompleteDelivery(ctx context.Context, id string, outcome model.DeliveryOutcome) error
	// RequeueFailed moves failed events back to pending. An empty ids slice selects every failed event.
	RequeueFailed(ctx context.Context, calendarID string, ids []string, resetAttempts bool, now time.Time) (int, error)
	RecordAttempt(ctx context.Context, attempt *model.DeliveryAttempt) error
	// SucceededEndpoints returns the endpoints that already acknowledged the event.
	SucceededEndpoints(ctx context.Context, eventID string) (map[string]bool, error)
}

// StatusReader defines the read-only queries behind the delivery status monitor.
type StatusReader interface {
	CountByStatus(ctx context.Context, calendarID string, since time.Time) (model.StatusCounts, error)
	LastSuccessByCalendar(ctx context.Context, calendarID string) (map[string]time.Time, error)
	// ListRecentAttempts returns at most perEndpoint attempts per endpoint since the given time, newest first.
	ListRecentAttempts(ctx context.Context, calendarID string, since time.Time, perEndpoint int) ([]*model.DeliveryAttempt, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.WebhookEvent, error)
}

// TransactionManager defines methods for database transaction management.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
