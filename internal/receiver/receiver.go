// Package receiver is a reference webhook consumer: it verifies signatures and drops redeliveries.
package receiver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/webhook"
)

const maxBodyBytes = 1 << 20

// EventHandler processes a verified, first-seen event.
type EventHandler func(ctx context.Context, payload *model.Payload) error

// Handler receives webhook deliveries over HTTP.
type Handler struct {
	secret  string
	deduper Deduper
	handle  EventHandler
}

// NewHandler creates a receiver. An empty secret skips signature checks.
func NewHandler(secret string, deduper Deduper, handle EventHandler) *Handler {
	if handle == nil {
		handle = LogEvent
	}

	return &Handler{secret: secret, deduper: deduper, handle: handle}
}

// ServeHTTP acknowledges duplicates with 200 so the sender stops retrying them.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if h.secret != "" && !webhook.Verify(h.secret, body, r.Header.Get(webhook.SignatureHeader)) {
		slog.Warn("rejected webhook with bad signature", slog.String("event_id", r.Header.Get(webhook.EventIDHeader)))
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload model.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	first, err := h.deduper.FirstSeen(r.Context(), payload.EventID)
	if err != nil {
		slog.Error("failed to dedupe event", slog.String("event_id", payload.EventID), slog.String("error", err.Error()))
		http.Error(w, "dedupe unavailable", http.StatusServiceUnavailable)
		return
	}

	if !first {
		slog.Info("duplicate event ignored", slog.String("event_id", payload.EventID))
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.handle(r.Context(), &payload); err != nil {
		// Forget the id so the redelivery is processed.
		if ferr := h.deduper.Forget(r.Context(), payload.EventID); ferr != nil {
			slog.Error("failed to forget event", slog.String("event_id", payload.EventID), slog.String("error", ferr.Error()))
		}

		http.Error(w, fmt.Sprintf("failed to process event: %v", err), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogEvent is the default EventHandler.
func LogEvent(_ context.Context, p *model.Payload) error {
	attrs := []any{
		slog.String("event_id", p.EventID),
		slog.String("event_type", string(p.EventType)),
		slog.String("calendar_id", p.CalendarID),
		slog.String("trigger_source", string(p.TriggerSource)),
	}

	switch {
	case p.Booking != nil:
		attrs = append(attrs,
			slog.String("booking_id", p.Booking.BookingID),
			slog.String("status", string(p.Booking.Status)),
			slog.Time("start_time", p.Booking.StartTime),
		)
	case p.Test != nil:
		attrs = append(attrs, slog.String("message", p.Test.Message))
	}

	slog.Info("webhook event received", attrs...)

	return nil
}
