package model

import (
	"encoding/json"
	"strings"
	"time"
)

// EventType is the webhook event name delivered to endpoints.
type EventType string

const (
	// EventTypeBookingCreated is emitted when a booking is accepted.
	EventTypeBookingCreated EventType = "booking.created"
	// EventTypeBookingConfirmed is emitted when a booking is confirmed.
	EventTypeBookingConfirmed EventType = "booking.confirmed"
	// EventTypeBookingCancelled is emitted when a booking is cancelled.
	EventTypeBookingCancelled EventType = "booking.cancelled"
	// EventTypeWebhookTest is an operator-triggered connectivity check.
	EventTypeWebhookTest EventType = "webhook.test"
)

// EventStatus is the delivery status of a webhook event.
type EventStatus string

const (
	// EventStatusPending waits for its first or next attempt.
	EventStatusPending EventStatus = "pending"
	// EventStatusSending is claimed by a dispatcher.
	EventStatusSending EventStatus = "sending"
	// EventStatusSent is delivered to every active endpoint.
	EventStatusSent EventStatus = "sent"
	// EventStatusFailed exhausted its retry budget and waits for manual replay.
	EventStatusFailed EventStatus = "failed"
)

// EventStatuses lists every status in display order.
var EventStatuses = []EventStatus{EventStatusPending, EventStatusSending, EventStatusSent, EventStatusFailed}

// ParseEventStatus validates a status string.
func ParseEventStatus(s string) (EventStatus, bool) {
	for _, st := range EventStatuses {
		if string(st) == strings.ToLower(s) {
			return st, true
		}
	}

	return "", false
}

// TriggerSource records what produced an event. It is informational only.
type TriggerSource string

const (
	// TriggerSourceBookingMutation is a booking store write.
	TriggerSourceBookingMutation TriggerSource = "booking-mutation"
	// TriggerSourceTimer is a scheduled sweep.
	TriggerSourceTimer TriggerSource = "timer"
	// TriggerSourceManual is an operator action.
	TriggerSourceManual TriggerSource = "manual"
)

// WebhookEndpoint is a receiver registered for a calendar.
type WebhookEndpoint struct {
	ID         string    `json:"id"`
	CalendarID string    `json:"calendar_id"`
	URL        string    `json:"url"`
	Secret     string    `json:"-"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Validate validates the endpoint definition.
func (e *WebhookEndpoint) Validate() error {
	url := strings.ToLower(strings.TrimSpace(e.URL))
	if e.ID == "" || e.CalendarID == "" || e.Secret == "" {
		return ErrInvalidEndpoint
	}

	if !strings.HasPrefix(url, "https://") && !strings.HasPrefix(url, "http://") {
		return ErrInvalidEndpoint
	}

	return nil
}

// WebhookEvent is an outbox row.
type WebhookEvent struct {
	ID            string          `json:"id"`
	CalendarID    string          `json:"calendar_id"`
	BookingID     string          `json:"booking_id,omitempty"`
	EventType     EventType       `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Status        EventStatus     `json:"status"`
	TriggerSource TriggerSource   `json:"trigger_source"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	LastAttemptAt *time.Time      `json:"last_attempt_at,omitempty"`
	LastError     string          `json:"last_error,omitempty"`
	// ClaimedAt identifies the claim while the event is sending.
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

// CreateWebhookEventParams represents parameters for creating a new outbox event.
type CreateWebhookEventParams struct {
	ID            string
	CalendarID    string
	BookingID     string
	EventType     EventType
	Payload       json.RawMessage
	TriggerSource TriggerSource
	CreatedAt     time.Time
}

// DeliveryOutcome is the result of one dispatch pass for an event.
type DeliveryOutcome struct {
	Status        EventStatus
	Attempts      int
	NextAttemptAt time.Time
	AttemptedAt   time.Time
	LastError     string
	// ClaimedAt must equal the event's current claim, otherwise the write is rejected with ErrClaimLost.
	ClaimedAt time.Time
}

// DeliveryAttempt is one HTTP call to one endpoint.
type DeliveryAttempt struct {
	ID          string        `json:"id"`
	EventID     string        `json:"event_id"`
	EndpointID  string        `json:"endpoint_id"`
	CalendarID  string        `json:"calendar_id"`
	Attempt     int           `json:"attempt"`
	Success     bool          `json:"success"`
	StatusCode  int           `json:"status_code,omitempty"`
	Error       string        `json:"error,omitempty"`
	Latency     time.Duration `json:"latency"`
	AttemptedAt time.Time     `json:"attempted_at"`
}

// EventFilter narrows event listings.
type EventFilter struct {
	CalendarID string
	Status     EventStatus
	Limit      int
}

// ClaimParams controls which events a dispatch pass may take.
type ClaimParams struct {
	Now time.Time
	// Force ignores next_attempt_at for pending events.
	Force bool
	// StaleBefore reclaims events left in sending by a crashed dispatcher.
	StaleBefore time.Time
	// OrderedPerBooking holds back events whose booking has an earlier undelivered event.
	OrderedPerBooking bool
	Limit             int
}

// DispatchSummary counts the outcomes of one dispatch pass.
type DispatchSummary struct {
	Claimed  int `json:"claimed"`
	Sent     int `json:"sent"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
}
