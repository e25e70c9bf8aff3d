package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jnst/booking-outbox/internal/clock"
	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/repository"
)

// CatalogServiceImpl implements CatalogService.
type CatalogServiceImpl struct {
	serviceRepo  repository.ServiceRepository
	endpointRepo repository.EndpointRepository
	clock        clock.Clock
}

// NewCatalogServiceImpl creates a new CatalogService implementation.
func NewCatalogServiceImpl(
	serviceRepo repository.ServiceRepository,
	endpointRepo repository.EndpointRepository,
	clk clock.Clock,
) CatalogService {
	return &CatalogServiceImpl{
		serviceRepo:  serviceRepo,
		endpointRepo: endpointRepo,
		clock:        clk,
	}
}

// CreateService stores a new service definition. Existing definitions are never modified.
func (s *CatalogServiceImpl) CreateService(ctx context.Context, svc *model.ServiceDefinition) (*model.ServiceDefinition, error) {
	if svc == nil {
		return nil, model.ErrInvalidService
	}

	if err := svc.Validate(); err != nil {
		return nil, err
	}

	if err := s.serviceRepo.Create(ctx, svc); err != nil {
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	slog.Info("service created", slog.String("service_id", svc.ID))

	return svc, nil
}

// GetService retrieves a service definition by ID.
func (s *CatalogServiceImpl) GetService(ctx context.Context, id string) (*model.ServiceDefinition, error) {
	return s.serviceRepo.GetByID(ctx, id)
}

// UpsertEndpoint registers or updates a webhook endpoint. Setting IsActive to false deactivates it.
func (s *CatalogServiceImpl) UpsertEndpoint(ctx context.Context, endpoint *model.WebhookEndpoint) (*model.WebhookEndpoint, error) {
	if endpoint == nil {
		return nil, model.ErrInvalidEndpoint
	}

	if err := endpoint.Validate(); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	if endpoint.CreatedAt.IsZero() {
		endpoint.CreatedAt = now
	}

	endpoint.UpdatedAt = now

	if err := s.endpointRepo.Upsert(ctx, endpoint); err != nil {
		return nil, fmt.Errorf("failed to upsert endpoint: %w", err)
	}

	slog.Info("webhook endpoint saved",
		slog.String("endpoint_id", endpoint.ID),
		slog.String("calendar_id", endpoint.CalendarID),
		slog.Bool("is_active", endpoint.IsActive),
	)

	return endpoint, nil
}

// ListEndpoints returns the endpoints of a calendar.
func (s *CatalogServiceImpl) ListEndpoints(ctx context.Context, calendarID string) ([]*model.WebhookEndpoint, error) {
	if calendarID == "" {
		return nil, model.ErrCalendarRequired
	}

	return s.endpointRepo.ListByCalendar(ctx, calendarID)
}
