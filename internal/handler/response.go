package handler

// Every error response has the same shape:
//
//	{"error": "not_found", "message": "poem not found with id abc123"}
//
// plus "field" for validation errors and "code" where a finer kind exists
// (e.g. "invalid_credentials", "feature_limit_exceeded"). The remote client
// maps this body back to the apperror taxonomy.

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/sakif/captured-thinkings/internal/apperror"
)

// maxBodyBytes bounds JSON request bodies. Poem content is capped well below it.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Code    string `json:"code,omitempty"`
}

// Error types carried in ErrorResponse.Error.
const (
	ErrTypeValidation = "validation_error"
	ErrTypeNotFound   = "not_found"
	ErrTypeForbidden  = "forbidden"
	ErrTypeConflict   = "conflict"
	ErrTypeAuth       = "unauthorized"
	ErrTypeNetwork    = "unavailable"
	ErrTypeInternal   = "internal_error"
)

// writeJSON sets headers, then the status, then encodes the body.
// Headers set after WriteHeader are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status and error body.
// ErrFeatureLimit is checked before ErrValidation because it matches both.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		// Never expose internal error details to the client.
		logger.Error("unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   ErrTypeInternal,
			Message: "An internal error occurred",
		})
		return
	}

	status, errType := http.StatusInternalServerError, ErrTypeInternal
	switch {
	case errors.Is(err, apperror.ErrFeatureLimit):
		status, errType = http.StatusConflict, ErrTypeConflict
	case errors.Is(err, apperror.ErrValidation):
		status, errType = http.StatusBadRequest, ErrTypeValidation
	case errors.Is(err, apperror.ErrNotFound):
		status, errType = http.StatusNotFound, ErrTypeNotFound
	case errors.Is(err, apperror.ErrForbidden):
		status, errType = http.StatusForbidden, ErrTypeForbidden
	case errors.Is(err, apperror.ErrConflict):
		status, errType = http.StatusConflict, ErrTypeConflict
	case errors.Is(err, apperror.ErrAuth):
		status, errType = http.StatusUnauthorized, ErrTypeAuth
	case errors.Is(err, apperror.ErrNetwork):
		status, errType = http.StatusServiceUnavailable, ErrTypeNetwork
	}

	writeJSON(w, status, ErrorResponse{
		Error:   errType,
		Message: appErr.Message,
		Field:   appErr.Field,
		Code:    appErr.Code,
	})
}

// decodeJSON reads a single JSON object from the body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperror.ValidationFailed("body", fmt.Sprintf("invalid JSON body: %v", err))
	}
	return nil
}
