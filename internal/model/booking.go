// Package model defines domain models and data structures.
package model

import (
	"strings"
	"time"
)

// BookingStatus is the lifecycle status of a booking.
type BookingStatus string

const (
	// BookingStatusPending is a booking awaiting confirmation.
	BookingStatusPending BookingStatus = "pending"
	// BookingStatusConfirmed is a confirmed booking.
	BookingStatusConfirmed BookingStatus = "confirmed"
	// BookingStatusCancelled is a cancelled booking. It is kept for history.
	BookingStatusCancelled BookingStatus = "cancelled"
)

// Active reports whether the status still holds its slot on the calendar.
func (s BookingStatus) Active() bool {
	return s == BookingStatusPending || s == BookingStatusConfirmed
}

// BookingAction is a requested state machine transition.
type BookingAction string

const (
	// BookingActionConfirm moves pending to confirmed.
	BookingActionConfirm BookingAction = "confirm"
	// BookingActionCancel moves pending or confirmed to cancelled.
	BookingActionCancel BookingAction = "cancel"
)

// Transition returns the status reached by applying action to s.
func (s BookingStatus) Transition(action BookingAction) (BookingStatus, bool) {
	switch {
	case action == BookingActionConfirm && s == BookingStatusPending:
		return BookingStatusConfirmed, true
	case action == BookingActionCancel && s.Active():
		return BookingStatusCancelled, true
	default:
		return s, false
	}
}

// Booking represents a booking entity.
type Booking struct {
	ID           string        `json:"id"`
	CalendarID   string        `json:"calendar_id"`
	ServiceID    string        `json:"service_id"`
	Start        time.Time     `json:"start"`
	End          time.Time     `json:"end"`
	Status       BookingStatus `json:"status"`
	CustomerRef  string        `json:"customer_ref"`
	CustomerName string        `json:"customer_name,omitempty"`
	// EffectiveStart and EffectiveEnd are the billable range extended by the service buffers at insert time.
	EffectiveStart time.Time `json:"effective_start"`
	EffectiveEnd   time.Time `json:"effective_end"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Billable returns the booking's billable range.
func (b *Booking) Billable() TimeRange {
	return TimeRange{Start: b.Start, End: b.End}
}

// Interval returns the booking as an EffectiveInterval.
func (b *Booking) Interval() EffectiveInterval {
	return EffectiveInterval{
		BookingID: b.ID,
		Billable:  b.Billable(),
		Effective: TimeRange{Start: b.EffectiveStart, End: b.EffectiveEnd},
	}
}

// EffectiveInterval is one entry of a calendar timeline.
type EffectiveInterval struct {
	BookingID string
	Billable  TimeRange
	Effective TimeRange
}

// BookingCandidate represents parameters for submitting a new booking.
type BookingCandidate struct {
	CalendarID   string    `json:"calendar_id"`
	ServiceID    string    `json:"service_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	CustomerRef  string    `json:"customer_ref"`
	CustomerName string    `json:"customer_name,omitempty"`
}

// Billable returns the candidate's requested range.
func (c *BookingCandidate) Billable() TimeRange {
	return NewTimeRange(c.Start, c.End)
}

// Validate validates the candidate fields that do not need reference data.
func (c *BookingCandidate) Validate() error {
	switch {
	case strings.TrimSpace(c.CalendarID) == "":
		return &InvalidCandidateError{Reason: "calendar_id is required"}
	case strings.TrimSpace(c.ServiceID) == "":
		return &InvalidCandidateError{Reason: "service_id is required"}
	case c.Start.IsZero() || c.End.IsZero():
		return &InvalidCandidateError{Reason: "start and end are required"}
	case !c.Billable().Valid():
		return &InvalidCandidateError{Reason: "start must be before end"}
	}

	return nil
}

// BookingResult is a booking mutation together with the outbox event written with it.
// Event is nil when the mutation was a no-op.
type BookingResult struct {
	Booking *Booking      `json:"booking"`
	Event   *WebhookEvent `json:"event,omitempty"`
}
