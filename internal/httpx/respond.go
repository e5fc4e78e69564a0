// Package httpx holds the small set of JSON response helpers shared by every
// HTTP surface in this system (the Task API and each consumer's read/health
// endpoints), so error bodies and status-code mapping stay identical across
// services.
package httpx

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/taskmesh/taskmesh/internal/domain"
)

// errorBody is the fixed JSON shape for every error response: {"detail": "..."}.
type errorBody struct {
	Detail string `json:"detail"`
}

// JSON writes v as a JSON body with status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response body", "error", err)
	}
}

// Error maps a domain error to its HTTP status and writes the fixed
// {"detail": ...} body. Unrecognized errors map to 500 with a generic
// message so internal details never leak to clients.
func Error(w http.ResponseWriter, err error) {
	status, detail := statusFor(err)
	JSON(w, status, errorBody{Detail: detail})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, err.Error()
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, err.Error()
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, err.Error()
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, err.Error()
	case isValidationError(err):
		return http.StatusBadRequest, err.Error()
	default:
		slog.Error("unhandled request error", "error", err)
		return http.StatusInternalServerError, "internal error"
	}
}

// isValidationError reports whether err is one of the domain package's
// 400-class sentinels listed below. An error that is neither in this list
// nor an auth, not-found, conflict, or availability error maps to 500.
func isValidationError(err error) bool {
	switch {
	case errors.Is(err, domain.ErrTitleRequired),
		errors.Is(err, domain.ErrTitleTooLong),
		errors.Is(err, domain.ErrDescriptionLong),
		errors.Is(err, domain.ErrInvalidPriority),
		errors.Is(err, domain.ErrInvalidRecurrenceRule),
		errors.Is(err, domain.ErrRecurrenceMismatch),
		errors.Is(err, domain.ErrReminderInPast),
		errors.Is(err, domain.ErrInvalidTimestamp),
		errors.Is(err, domain.ErrEmptyUpdateMask),
		errors.Is(err, domain.ErrUnknownField),
		errors.Is(err, domain.ErrInvalidFieldType),
		errors.Is(err, domain.ErrInvalidSortField),
		errors.Is(err, domain.ErrInvalidSortOrder),
		errors.Is(err, domain.ErrInvalidStatus):
		return true
	default:
		return false
	}
}
