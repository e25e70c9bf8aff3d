package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jnst/booking-outbox/internal/model"
)

const (
	contentTypeJSON = "Content-Type"
	applicationJSON = "application/json"
)

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Kind      string `json:"conflict_kind,omitempty"`
	BookingID string `json:"booking_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set(contentTypeJSON, applicationJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message}})
}

// writeDomainError maps service errors to status codes.
func writeDomainError(w http.ResponseWriter, err error) {
	var conflict *model.ConflictError
	if errors.As(err, &conflict) {
		writeJSON(w, http.StatusConflict, map[string]errorBody{"error": {
			Code:      "CONFLICT",
			Message:   err.Error(),
			Kind:      string(conflict.Kind),
			BookingID: conflict.BookingID,
		}})

		return
	}

	switch {
	case errors.Is(err, model.ErrInvalidCandidate),
		errors.Is(err, model.ErrInvalidService),
		errors.Is(err, model.ErrInvalidEndpoint),
		errors.Is(err, model.ErrCalendarRequired):
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", err.Error())
	case errors.Is(err, model.ErrServiceExists):
		writeError(w, http.StatusConflict, "ALREADY_EXISTS", err.Error())
	case errors.Is(err, model.ErrBookingNotFound),
		errors.Is(err, model.ErrServiceNotFound),
		errors.Is(err, model.ErrEventNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	default:
		slog.Error("request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid json body")
		return false
	}

	return true
}
