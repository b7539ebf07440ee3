package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/scheduler"
)

// ErrorResponse represents a standard JSON error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// WriteJSONError writes a JSON error response with the given status code and message
func WriteJSONError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	}

	json.NewEncoder(w).Encode(response)
}

// statusFor maps engine and scheduler errors to a status code
func statusFor(err error) int {
	var cbe *domain.CircuitBreakingError
	switch {
	case errors.Is(err, domain.ErrCollectionNotFound),
		errors.Is(err, domain.ErrDocumentNotFound),
		errors.Is(err, domain.ErrPipelineNotFound),
		errors.Is(err, domain.ErrIndexNotFound),
		errors.Is(err, scheduler.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, scheduler.ErrExists),
		errors.Is(err, scheduler.ErrNotStopped),
		errors.Is(err, scheduler.ErrTaskFailed):
		return http.StatusConflict
	case errors.As(err, &cbe):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}
