// Package http exposes the booking and operations API.
package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jnst/booking-outbox/internal/notify"
	"github.com/jnst/booking-outbox/internal/service"
)

// Handler serves the HTTP API.
type Handler struct {
	bookings service.BookingService
	catalog  service.CatalogService
	outbox   service.OutboxService
	monitor  service.MonitorService
	notifier notify.Publisher
}

// NewHandler creates a new Handler. notifier receives asynchronous force requests and may be nil.
func NewHandler(
	bookings service.BookingService,
	catalog service.CatalogService,
	outbox service.OutboxService,
	monitor service.MonitorService,
	notifier notify.Publisher,
) *Handler {
	if notifier == nil {
		notifier = notify.Nop{}
	}

	return &Handler{
		bookings: bookings,
		catalog:  catalog,
		outbox:   outbox,
		monitor:  monitor,
		notifier: notifier,
	}
}

// NewRouter wires every route.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)

	r.Get("/health", h.health)

	r.Post("/services", h.createService)
	r.Get("/services/{serviceID}", h.getService)

	r.Route("/calendars/{calendarID}", func(r chi.Router) {
		r.Post("/bookings", h.submitBooking)
		r.Get("/webhooks", h.listEndpoints)
		r.Put("/webhooks/{endpointID}", h.upsertEndpoint)
	})

	r.Route("/bookings/{bookingID}", func(r chi.Router) {
		r.Get("/", h.getBooking)
		r.Post("/confirm", h.confirmBooking)
		r.Post("/cancel", h.cancelBooking)
		r.Post("/payment", h.recordPayment)
	})

	r.Route("/ops", func(r chi.Router) {
		r.Get("/events", h.listEvents)
		r.Post("/events/process", h.processEvents)
		r.Post("/events/retry-failed", h.retryFailed)
		r.Post("/calendars/{calendarID}/test-event", h.sendTestEvent)
		r.Get("/status", h.status)
	})

	return r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
