// Package service provides business logic layer implementations.
package service

import (
	"context"

	"github.com/jnst/booking-outbox/internal/model"
)

// BookingService defines the booking write path. Every mutation commits together with its outbox event.
type BookingService interface {
	SubmitBooking(ctx context.Context, candidate *model.BookingCandidate) (*model.BookingResult, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	Confirm(ctx context.Context, id string) (*model.BookingResult, error)
	Cancel(ctx context.Context, id string) (*model.BookingResult, error)
	// RecordPayment confirms on a succeeded charge and cancels on a failed one.
	RecordPayment(ctx context.Context, id string, succeeded bool) (*model.BookingResult, error)
	// ExpirePendingHolds cancels pending bookings older than the hold TTL.
	ExpirePendingHolds(ctx context.Context) (int, error)
	SendTestEvent(ctx context.Context, calendarID, message string) (*model.WebhookEvent, error)
}

// CatalogService defines the reference data used by the booking path and the dispatcher.
type CatalogService interface {
	CreateService(ctx context.Context, svc *model.ServiceDefinition) (*model.ServiceDefinition, error)
	GetService(ctx context.Context, id string) (*model.ServiceDefinition, error)
	UpsertEndpoint(ctx context.Context, endpoint *model.WebhookEndpoint) (*model.WebhookEndpoint, error)
	ListEndpoints(ctx context.Context, calendarID string) ([]*model.WebhookEndpoint, error)
}

// OutboxService defines business logic methods for outbox event processing.
type OutboxService interface {
	// ProcessPendingEvents runs one dispatch pass. Force ignores next_attempt_at without touching attempts.
	ProcessPendingEvents(ctx context.Context, force bool) (*model.DispatchSummary, error)
	// RetryFailed moves failed events back to pending. Empty ids selects every failed event in scope.
	RetryFailed(ctx context.Context, calendarID string, ids []string) (int, error)
	ListEvents(ctx context.Context, filter model.EventFilter) ([]*model.WebhookEvent, error)
}

// MonitorService defines the read-only delivery status queries.
type MonitorService interface {
	Report(ctx context.Context, query model.StatusQuery) (*model.StatusReport, error)
}
