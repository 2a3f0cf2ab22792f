package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError so the response
// shapes stay identical across endpoints.
//
// CONSISTENT ERROR FORMAT:
//   {"error": "email is already registered", "code": "email_taken", "field": "email"}
//
// "error" is always a human-readable message; "code" is the stable value the
// front end branches on. "field" and "retryAfter" only appear when set.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/sakif/quest-platform/internal/apperror"
)

// ErrorResponse is the error body returned by all API endpoints.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	Field      string `json:"field,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"` // seconds
}

// MessageResponse is the body of endpoints that only confirm an action.
type MessageResponse struct {
	Message string `json:"message"`
}

// writeJSON sends a JSON response with the given status code.
// Headers must be set before WriteHeader; the body goes last.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// statusFor maps the sentinel wrapped by an AppError to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperror.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperror.ErrUnauthenticated), errors.Is(err, apperror.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, apperror.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// writeError maps a domain error to its HTTP status and sends it.
//
// Anything that is not an *apperror.AppError is an internal failure: it is
// logged with its full chain and the client only sees a generic 500. Raw
// messages can carry SQL, file paths or upstream responses.
func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		logger.Error("request failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error: "An internal error occurred",
			Code:  "internal_error",
		})
		return
	}

	status := statusFor(appErr)
	resp := ErrorResponse{
		Error: appErr.Message,
		Code:  appErr.Code,
		Field: appErr.Field,
	}
	if status == http.StatusTooManyRequests && appErr.RetryAfter > 0 {
		secs := int(math.Ceil(appErr.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		resp.RetryAfter = secs
	}
	if status == http.StatusInternalServerError {
		logger.Error("request failed", slog.String("error", err.Error()))
	}

	writeJSON(w, status, resp)
}
