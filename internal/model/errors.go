package model

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCandidate is returned when a booking request is malformed.
	ErrInvalidCandidate = errors.New("invalid booking candidate")
	// ErrConflict is returned when a booking request overlaps an active booking.
	ErrConflict = errors.New("booking conflict")
	// ErrInvalidTransition is returned when a booking status change is not allowed.
	ErrInvalidTransition = errors.New("invalid booking transition")
	// ErrBookingNotFound is returned when booking is not found in database.
	ErrBookingNotFound = errors.New("booking not found")
	// ErrServiceNotFound is returned when a service definition is not found.
	ErrServiceNotFound = errors.New("service not found")
	// ErrEventNotFound is returned when a webhook event is not found.
	ErrEventNotFound = errors.New("webhook event not found")
	// ErrInvalidEndpoint is returned when a webhook endpoint definition is malformed.
	ErrInvalidEndpoint = errors.New("invalid webhook endpoint")
	// ErrServiceExists is returned when a service definition id is already taken.
	ErrServiceExists = errors.New("service already exists")
	// ErrInvalidService is returned when a service definition is malformed.
	ErrInvalidService = errors.New("invalid service definition")
	// ErrCalendarRequired is returned when an operation needs a calendar id and none was given.
	ErrCalendarRequired = errors.New("calendar id is required")
	// ErrDeliveryFailure is returned when a webhook endpoint could not be reached or rejected the event.
	ErrDeliveryFailure = errors.New("webhook delivery failed")
	// ErrDeliveryExhausted marks an event whose retry budget is spent.
	ErrDeliveryExhausted = errors.New("webhook delivery attempts exhausted")
	// ErrClaimLost is returned when another dispatcher reclaimed the event after its lease ran out.
	ErrClaimLost = errors.New("webhook event claim lost")
)

// InvalidCandidateError describes why a booking request was rejected before any write.
type InvalidCandidateError struct {
	Reason string
}

func (e *InvalidCandidateError) Error() string {
	return "invalid booking candidate: " + e.Reason
}

// Is reports whether target is ErrInvalidCandidate.
func (*InvalidCandidateError) Is(target error) bool {
	return target == ErrInvalidCandidate
}

// ConflictError carries the classification and the colliding booking.
type ConflictError struct {
	Kind      ConflictKind
	BookingID string
	Interval  TimeRange
}

func (e *ConflictError) Error() string {
	if e.BookingID == "" {
		return fmt.Sprintf("booking conflict: %s", e.Kind)
	}

	return fmt.Sprintf("booking conflict: %s with booking %s (%s - %s)",
		e.Kind, e.BookingID, e.Interval.Start.Format(time.RFC3339), e.Interval.End.Format(time.RFC3339))
}

// Is reports whether target is ErrConflict.
func (*ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// InvalidTransitionError is returned for a status change the booking state machine forbids.
type InvalidTransitionError struct {
	BookingID string
	From      BookingStatus
	Action    BookingAction
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid booking transition: cannot %s booking %s in status %s", e.Action, e.BookingID, e.From)
}

// Is reports whether target is ErrInvalidTransition.
func (*InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// DeliveryError is a transient failure to deliver an event to one endpoint.
type DeliveryError struct {
	EndpointID string
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("webhook delivery to %s failed: %v", e.EndpointID, e.Err)
	}

	return fmt.Sprintf("webhook delivery to %s failed: status %d", e.EndpointID, e.StatusCode)
}

// Is reports whether target is ErrDeliveryFailure.
func (*DeliveryError) Is(target error) bool {
	return target == ErrDeliveryFailure
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
