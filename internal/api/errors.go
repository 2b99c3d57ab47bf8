// errors.go - Structured error handling for API responses
package api

import (
	"fmt"
	"net/http"

	"github.com/cantrace/backend/internal/logger"
	"github.com/cantrace/backend/internal/parser"
	"github.com/cantrace/backend/internal/session"
	"github.com/cantrace/backend/internal/storage"
	"github.com/cantrace/backend/internal/upload"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// APIError represents a structured API error response
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewBadRequestError creates a 400 Bad Request error
func NewBadRequestError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusBadRequest,
		Code:    "BAD_REQUEST",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewValidationError creates a 400 validation error for a specific field
func NewValidationError(field string) *APIError {
	return &APIError{
		Status:  http.StatusBadRequest,
		Code:    "VALIDATION_ERROR",
		Message: fmt.Sprintf("validation failed for field: %s", field),
	}
}

// NewNotFoundError creates a 404 Not Found error
func NewNotFoundError(resource string, id string) *APIError {
	return &APIError{
		Status:  http.StatusNotFound,
		Code:    "NOT_FOUND",
		Message: fmt.Sprintf("%s not found: %s", resource, id),
	}
}

// NewInternalError creates a 500 Internal Server Error
func NewInternalError(message string, cause error) *APIError {
	err := &APIError{
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: message,
	}
	if cause != nil {
		err.Details = cause.Error()
	}
	return err
}

// NewServiceUnavailableError creates a 503 Service Unavailable error
func NewServiceUnavailableError(message string) *APIError {
	return &APIError{
		Status:  http.StatusServiceUnavailable,
		Code:    "SERVICE_UNAVAILABLE",
		Message: message,
	}
}

// fromDomainError maps storage, session and engine errors onto API errors.
func fromDomainError(id string, err error) *APIError {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		return NewNotFoundError("session", id)
	case errors.Is(err, session.ErrUnknownField),
		errors.Is(err, parser.ErrUnknownPacketType),
		errors.Is(err, upload.ErrUnknownEncoding):
		return NewBadRequestError(err.Error(), nil)
	case errors.Is(err, session.ErrIndexDisabled):
		return NewServiceUnavailableError("frame index is disabled")
	case errors.Is(err, storage.ErrFileNotFound):
		return NewNotFoundError("file", id)
	}
	return NewInternalError("operation failed", err)
}

// NewErrorHandler returns an echo error handler that renders every error as
// an APIError. Server errors are logged; their details are only sent to the
// client when showDetails is set.
func NewErrorHandler(log *logger.Logger, showDetails bool) echo.HTTPErrorHandler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var apiErr *APIError
		var httpErr *echo.HTTPError
		switch {
		case errors.As(err, &apiErr):
		case errors.As(err, &httpErr):
			apiErr = &APIError{
				Status:  httpErr.Code,
				Code:    "HTTP_ERROR",
				Message: fmt.Sprintf("%v", httpErr.Message),
			}
		default:
			apiErr = &APIError{
				Status:  http.StatusInternalServerError,
				Code:    "UNKNOWN_ERROR",
				Message: "An unexpected error occurred",
			}
			if showDetails {
				apiErr.Details = err.Error()
			}
		}

		if apiErr.Status >= http.StatusInternalServerError && !showDetails && apiErr.Details != "" {
			redacted := *apiErr
			redacted.Details = ""
			apiErr = &redacted
		}

		if apiErr.Status >= http.StatusInternalServerError {
			log.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("request failed")
		}

		if err := c.JSON(apiErr.Status, apiErr); err != nil {
			log.Warn().Err(err).Msg("writing error response")
		}
	}
}
