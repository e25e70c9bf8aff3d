package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jnst/booking-outbox/internal/model"
	"github.com/jnst/booking-outbox/internal/notify"
)

type retryFailedRequest struct {
	CalendarID string   `json:"calendar_id"`
	EventIDs   []string `json:"event_ids"`
}

type testEventRequest struct {
	Message string `json:"message"`
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.EventFilter{CalendarID: q.Get("calendar_id")}

	if s := q.Get("status"); s != "" {
		status, ok := model.ParseEventStatus(s)
		if !ok {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "unknown status "+s)
			return
		}

		filter.Status = status
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid limit")
			return
		}

		filter.Limit = limit
	}

	events, err := h.outbox.ListEvents(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// processEvents runs a forced pass, or with ?async=true hands the request to the dispatcher.
// Without a listening dispatcher the async request runs synchronously.
func (h *Handler) processEvents(w http.ResponseWriter, r *http.Request) {
	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async && notify.Active(h.notifier) {
		sig := notify.Signal{Kind: notify.KindForce, CalendarID: r.URL.Query().Get("calendar_id")}
		if err := h.notifier.Publish(r.Context(), sig); err != nil {
			writeDomainError(w, err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})

		return
	}

	summary, err := h.outbox.ProcessPendingEvents(r.Context(), true)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) retryFailed(w http.ResponseWriter, r *http.Request) {
	var req retryFailedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json body")
		return
	}

	n, err := h.outbox.RetryFailed(r.Context(), req.CalendarID, req.EventIDs)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"requeued": n})
}

func (h *Handler) sendTestEvent(w http.ResponseWriter, r *http.Request) {
	var req testEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json body")
		return
	}

	event, err := h.bookings.SendTestEvent(r.Context(), chi.URLParam(r, "calendarID"), req.Message)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, event)
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := model.StatusQuery{CalendarID: q.Get("calendar_id")}

	if s := q.Get("window"); s != "" {
		window, err := time.ParseDuration(s)
		if err != nil || window <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "invalid window")
			return
		}

		query.Window = window
	}

	report, err := h.monitor.Report(r.Context(), query)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, report)
}
