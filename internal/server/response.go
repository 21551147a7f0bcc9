package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/opencode-ai/sharesync/internal/coordinator"
)

// ErrorResponse represents an API error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes
const (
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeUnauthorized   = "UNAUTHORIZED"
	ErrCodeForbidden      = "FORBIDDEN"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeUpgradeNeeded  = "UPGRADE_REQUIRED"
	ErrCodeUnavailable    = "UNAVAILABLE"
	ErrCodeInternalError  = "INTERNAL_ERROR"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// writeCoordinatorError maps a coordinator error onto its HTTP status.
// Wrapped errors keep their mapping, so handlers can annotate freely.
func writeCoordinatorError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coordinator.ErrBadRequest):
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, err.Error())
	case errors.Is(err, coordinator.ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, err.Error())
	case errors.Is(err, coordinator.ErrForbidden):
		writeError(w, http.StatusForbidden, ErrCodeForbidden, err.Error())
	case errors.Is(err, coordinator.ErrNotFound):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, coordinator.ErrConflict):
		writeError(w, http.StatusConflict, ErrCodeConflict, err.Error())
	case errors.Is(err, coordinator.ErrTransient):
		writeError(w, http.StatusBadGateway, ErrCodeUnavailable, err.Error())
	case errors.Is(err, coordinator.ErrCancelled):
		// 499 is nginx's "client closed request"; there is no stdlib
		// constant for it.
		writeError(w, 499, ErrCodeUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
	}
}
