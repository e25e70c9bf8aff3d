package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// BookingEventData is the body of booking.* events.
type BookingEventData struct {
	BookingID    string
	CustomerRef  string
	CustomerName string
	ServiceID    string
	ServiceName  string
	StartTime    time.Time
	EndTime      time.Time
	Status       BookingStatus
}

// TestEventData is the body of webhook.test events.
type TestEventData struct {
	Message string
}

// Payload is the JSON document delivered to webhook endpoints.
// Exactly one of Booking and Test is set for known event types; Extensions carries
// fields added by newer producers so older consumers can pass them through.
type Payload struct {
	EventID       string
	EventType     EventType
	CalendarID    string
	TriggerSource TriggerSource
	Timestamp     time.Time
	Booking       *BookingEventData
	Test          *TestEventData
	Extensions    map[string]json.RawMessage
}

type wirePayload struct {
	EventID       string                     `json:"event_id"`
	EventType     EventType                  `json:"event_type"`
	CalendarID    string                     `json:"calendar_id"`
	BookingID     string                     `json:"booking_id,omitempty"`
	CustomerRef   string                     `json:"customer_ref,omitempty"`
	CustomerName  string                     `json:"customer_name,omitempty"`
	ServiceID     string                     `json:"service_id,omitempty"`
	ServiceName   string                     `json:"service_name,omitempty"`
	StartTime     *time.Time                 `json:"start_time,omitempty"`
	EndTime       *time.Time                 `json:"end_time,omitempty"`
	Status        BookingStatus              `json:"status,omitempty"`
	Message       string                     `json:"message,omitempty"`
	TriggerSource TriggerSource              `json:"trigger_source"`
	Timestamp     time.Time                  `json:"timestamp"`
	Extensions    map[string]json.RawMessage `json:"extensions,omitempty"`
}

// NewBookingPayload builds the payload for a booking state change.
func NewBookingPayload(
	eventID string, eventType EventType, booking *Booking, service *ServiceDefinition,
	trigger TriggerSource, timestamp time.Time,
) *Payload {
	data := &BookingEventData{
		BookingID:    booking.ID,
		CustomerRef:  booking.CustomerRef,
		CustomerName: booking.CustomerName,
		ServiceID:    booking.ServiceID,
		StartTime:    booking.Start,
		EndTime:      booking.End,
		Status:       booking.Status,
	}
	if service != nil {
		data.ServiceName = service.Name
	}

	return &Payload{
		EventID:       eventID,
		EventType:     eventType,
		CalendarID:    booking.CalendarID,
		TriggerSource: trigger,
		Timestamp:     timestamp.UTC(),
		Booking:       data,
	}
}

// NewTestPayload builds the payload for a webhook.test event.
func NewTestPayload(eventID, calendarID, message string, timestamp time.Time) *Payload {
	return &Payload{
		EventID:       eventID,
		EventType:     EventTypeWebhookTest,
		CalendarID:    calendarID,
		TriggerSource: TriggerSourceManual,
		Timestamp:     timestamp.UTC(),
		Test:          &TestEventData{Message: message},
	}
}

// MarshalJSON flattens the active variant into the wire document.
func (p *Payload) MarshalJSON() ([]byte, error) {
	w := wirePayload{
		EventID:       p.EventID,
		EventType:     p.EventType,
		CalendarID:    p.CalendarID,
		TriggerSource: p.TriggerSource,
		Timestamp:     p.Timestamp,
		Extensions:    p.Extensions,
	}

	switch {
	case p.Booking != nil:
		start, end := p.Booking.StartTime.UTC(), p.Booking.EndTime.UTC()
		w.BookingID = p.Booking.BookingID
		w.CustomerRef = p.Booking.CustomerRef
		w.CustomerName = p.Booking.CustomerName
		w.ServiceID = p.Booking.ServiceID
		w.ServiceName = p.Booking.ServiceName
		w.StartTime = &start
		w.EndTime = &end
		w.Status = p.Booking.Status
	case p.Test != nil:
		w.Message = p.Test.Message
	}

	return json.Marshal(w)
}

// UnmarshalJSON selects the variant from event_type.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var w wirePayload
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to parse webhook payload: %w", err)
	}

	*p = Payload{
		EventID:       w.EventID,
		EventType:     w.EventType,
		CalendarID:    w.CalendarID,
		TriggerSource: w.TriggerSource,
		Timestamp:     w.Timestamp,
		Extensions:    w.Extensions,
	}

	switch w.EventType {
	case EventTypeBookingCreated, EventTypeBookingConfirmed, EventTypeBookingCancelled:
		p.Booking = &BookingEventData{
			BookingID:    w.BookingID,
			CustomerRef:  w.CustomerRef,
			CustomerName: w.CustomerName,
			ServiceID:    w.ServiceID,
			ServiceName:  w.ServiceName,
			Status:       w.Status,
		}
		if w.StartTime != nil {
			p.Booking.StartTime = *w.StartTime
		}

		if w.EndTime != nil {
			p.Booking.EndTime = *w.EndTime
		}
	case EventTypeWebhookTest:
		p.Test = &TestEventData{Message: w.Message}
	}

	return nil
}
