package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jnst/booking-outbox/internal/model"
)

type submitBookingRequest struct {
	ServiceID    string    `json:"service_id"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	CustomerRef  string    `json:"customer_ref"`
	CustomerName string    `json:"customer_name"`
}

type paymentRequest struct {
	Succeeded *bool `json:"succeeded"`
}

type serviceRequest struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	DurationSeconds     int64  `json:"duration_seconds"`
	BufferBeforeSeconds int64  `json:"buffer_before_seconds"`
	BufferAfterSeconds  int64  `json:"buffer_after_seconds"`
}

type serviceResponse serviceRequest

func toServiceResponse(s *model.ServiceDefinition) serviceResponse {
	return serviceResponse{
		ID:                  s.ID,
		Name:                s.Name,
		DurationSeconds:     int64(s.Duration / time.Second),
		BufferBeforeSeconds: int64(s.BufferBefore / time.Second),
		BufferAfterSeconds:  int64(s.BufferAfter / time.Second),
	}
}

type endpointRequest struct {
	URL      string `json:"url"`
	Secret   string `json:"secret"`
	IsActive *bool  `json:"is_active"`
}

func (*Handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) submitBooking(w http.ResponseWriter, r *http.Request) {
	var req submitBookingRequest
	if !decode(w, r, &req) {
		return
	}

	result, err := h.bookings.SubmitBooking(r.Context(), &model.BookingCandidate{
		CalendarID:   chi.URLParam(r, "calendarID"),
		ServiceID:    req.ServiceID,
		Start:        req.Start,
		End:          req.End,
		CustomerRef:  req.CustomerRef,
		CustomerName: req.CustomerName,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	booking, err := h.bookings.GetBooking(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, booking)
}

func (h *Handler) confirmBooking(w http.ResponseWriter, r *http.Request) {
	result, err := h.bookings.Confirm(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) cancelBooking(w http.ResponseWriter, r *http.Request) {
	result, err := h.bookings.Cancel(r.Context(), chi.URLParam(r, "bookingID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req paymentRequest
	if !decode(w, r, &req) {
		return
	}

	if req.Succeeded == nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "succeeded is required")
		return
	}

	result, err := h.bookings.RecordPayment(r.Context(), chi.URLParam(r, "bookingID"), *req.Succeeded)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) createService(w http.ResponseWriter, r *http.Request) {
	var req serviceRequest
	if !decode(w, r, &req) {
		return
	}

	svc, err := h.catalog.CreateService(r.Context(), &model.ServiceDefinition{
		ID:           req.ID,
		Name:         req.Name,
		Duration:     time.Duration(req.DurationSeconds) * time.Second,
		BufferBefore: time.Duration(req.BufferBeforeSeconds) * time.Second,
		BufferAfter:  time.Duration(req.BufferAfterSeconds) * time.Second,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toServiceResponse(svc))
}

func (h *Handler) getService(w http.ResponseWriter, r *http.Request) {
	svc, err := h.catalog.GetService(r.Context(), chi.URLParam(r, "serviceID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toServiceResponse(svc))
}

func (h *Handler) listEndpoints(w http.ResponseWriter, r *http.Request) {
	endpoints, err := h.catalog.ListEndpoints(r.Context(), chi.URLParam(r, "calendarID"))
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"endpoints": endpoints})
}

func (h *Handler) upsertEndpoint(w http.ResponseWriter, r *http.Request) {
	var req endpointRequest
	if !decode(w, r, &req) {
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	endpoint, err := h.catalog.UpsertEndpoint(r.Context(), &model.WebhookEndpoint{
		ID:         chi.URLParam(r, "endpointID"),
		CalendarID: chi.URLParam(r, "calendarID"),
		URL:        req.URL,
		Secret:     req.Secret,
		IsActive:   active,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, endpoint)
}
