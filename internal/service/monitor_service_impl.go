package service

import (
	"context"
	"fmt"
	"time"

	"github.com/jnst/booking-outbox/internal/clock"
	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/repository"
)

const (
	defaultMonitorWindow  = 24 * time.Hour
	defaultRecentAttempts = 20
	defaultUnhealthyAfter = 3
	defaultFailedLimit    = 50
)

// MonitorOptions holds the status report settings.
type MonitorOptions struct {
	Window time.Duration
	// RecentAttempts is how many attempts per endpoint feed its health.
	RecentAttempts int
	// UnhealthyAfter is the number of consecutive failures that marks an endpoint unhealthy.
	UnhealthyAfter int
	FailedLimit    int
}

// MonitorServiceImpl implements MonitorService. It only reads.
type MonitorServiceImpl struct {
	statusReader repository.StatusReader
	endpointRepo repository.EndpointRepository
	clock        clock.Clock
	opts         MonitorOptions
}

// NewMonitorServiceImpl creates a new MonitorService implementation.
func NewMonitorServiceImpl(
	statusReader repository.StatusReader,
	endpointRepo repository.EndpointRepository,
	clk clock.Clock,
	opts MonitorOptions,
) MonitorService {
	if opts.Window <= 0 {
		opts.Window = defaultMonitorWindow
	}

	if opts.RecentAttempts <= 0 {
		opts.RecentAttempts = defaultRecentAttempts
	}

	if opts.UnhealthyAfter <= 0 {
		opts.UnhealthyAfter = defaultUnhealthyAfter
	}

	if opts.FailedLimit <= 0 {
		opts.FailedLimit = defaultFailedLimit
	}

	return &MonitorServiceImpl{
		statusReader: statusReader,
		endpointRepo: endpointRepo,
		clock:        clk,
		opts:         opts,
	}
}

// Report aggregates event counts, last successes and endpoint health for a calendar, or all calendars.
func (s *MonitorServiceImpl) Report(ctx context.Context, query model.StatusQuery) (*model.StatusReport, error) {
	now := s.clock.Now()

	window := query.Window
	if window <= 0 {
		window = s.opts.Window
	}

	since := query.Since
	if since.IsZero() {
		since = now.Add(-window)
	}

	recent := query.RecentAttempts
	if recent <= 0 {
		recent = s.opts.RecentAttempts
	}

	counts, err := s.statusReader.CountByStatus(ctx, query.CalendarID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}

	lastSuccess, err := s.statusReader.LastSuccessByCalendar(ctx, query.CalendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last successes: %w", err)
	}

	endpoints, err := s.endpointRepo.ListByCalendar(ctx, query.CalendarID)
	if err != nil {
		return nil, fmt.Errorf("failed to list endpoints: %w", err)
	}

	attempts, err := s.statusReader.ListRecentAttempts(ctx, query.CalendarID, since, recent)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery attempts: %w", err)
	}

	failed, err := s.statusReader.ListEvents(ctx, model.EventFilter{
		CalendarID: query.CalendarID,
		Status:     model.EventStatusFailed,
		Limit:      s.opts.FailedLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list failed events: %w", err)
	}

	byEndpoint := make(map[string][]*model.DeliveryAttempt)
	for _, a := range attempts {
		byEndpoint[a.EndpointID] = append(byEndpoint[a.EndpointID], a)
	}

	report := &model.StatusReport{
		GeneratedAt:   now,
		WindowStart:   since,
		Counts:        counts,
		LastSuccessAt: lastSuccess,
		Endpoints:     make([]model.EndpointHealth, 0, len(endpoints)),
		FailedEvents:  make([]model.WebhookEvent, 0, len(failed)),
	}

	for _, ep := range endpoints {
		report.Endpoints = append(report.Endpoints, s.health(ep, byEndpoint[ep.ID]))
	}

	for _, e := range failed {
		report.FailedEvents = append(report.FailedEvents, *e)
	}

	return report, nil
}

// health summarizes attempts, which are ordered newest first.
func (s *MonitorServiceImpl) health(ep *model.WebhookEndpoint, attempts []*model.DeliveryAttempt) model.EndpointHealth {
	h := model.EndpointHealth{
		EndpointID: ep.ID,
		CalendarID: ep.CalendarID,
		URL:        ep.URL,
		IsActive:   ep.IsActive,
		Attempts:   len(attempts),
	}

	streak := true

	for _, a := range attempts {
		if a.Success {
			h.Successes++
			streak = false

			if h.LastSuccessAt == nil {
				at := a.AttemptedAt
				h.LastSuccessAt = &at
			}

			continue
		}

		h.Failures++
		if streak {
			h.ConsecutiveFailures++
		}

		if h.LastFailureAt == nil {
			at := a.AttemptedAt
			h.LastFailureAt = &at
			h.LastError = a.Error
		}
	}

	if h.Attempts > 0 {
		h.SuccessRate = float64(h.Successes) / float64(h.Attempts)
	}

	h.Healthy = h.ConsecutiveFailures < s.opts.UnhealthyAfter

	return h
}
