// Package errors defines the HTTP error values returned by galleryd's pages
// and JSON API.
package errors

import (
	"fmt"
	"net/http"
)

// APIError is an error with a machine-readable code, a human-readable message
// and the HTTP status to respond with.
type APIError struct {
	// Code is the error code (e.g., "NotFound", "InvalidForm").
	Code string
	// Message is a human-readable description of the error.
	Message string
	// HTTPStatus is the HTTP status code to return (e.g., 404, 400).
	HTTPStatus int
}

// Error implements the error interface for APIError.
func (e *APIError) Error() string {
	return fmt.Sprintf("APIError %s (%d): %s", e.Code, e.HTTPStatus, e.Message)
}

// WithMessage returns a copy of the error with a different message.
func (e *APIError) WithMessage(format string, args ...any) *APIError {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Pre-defined errors for common conditions.
var (
	// ErrNotFound is returned for unknown pages, images and albums.
	ErrNotFound = &APIError{
		Code:       "NotFound",
		Message:    "The requested page does not exist",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrImageNotFound is returned when the image id is unknown.
	ErrImageNotFound = &APIError{
		Code:       "ImageNotFound",
		Message:    "The requested image does not exist",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrAlbumNotFound is returned when the album id is unknown.
	ErrAlbumNotFound = &APIError{
		Code:       "AlbumNotFound",
		Message:    "The requested album does not exist",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrFileNotFound is returned when a media file is missing from storage.
	ErrFileNotFound = &APIError{
		Code:       "FileNotFound",
		Message:    "The requested file does not exist",
		HTTPStatus: http.StatusNotFound,
	}

	// ErrInvalidID is returned when a path id is not a positive integer.
	ErrInvalidID = &APIError{
		Code:       "InvalidID",
		Message:    "The id in the request path is not valid",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrInvalidForm is returned when an upload form fails validation.
	ErrInvalidForm = &APIError{
		Code:       "InvalidForm",
		Message:    "The submitted form is not valid",
		HTTPStatus: http.StatusBadRequest,
	}

	// ErrEntityTooLarge is returned when an upload exceeds the size limit.
	ErrEntityTooLarge = &APIError{
		Code:       "EntityTooLarge",
		Message:    "Your upload exceeds the maximum allowed size",
		HTTPStatus: http.StatusRequestEntityTooLarge,
	}

	// ErrUnauthorized is returned when credentials are missing or wrong.
	ErrUnauthorized = &APIError{
		Code:       "Unauthorized",
		Message:    "Login required",
		HTTPStatus: http.StatusUnauthorized,
	}

	// ErrMethodNotAllowed is returned for unsupported HTTP methods.
	ErrMethodNotAllowed = &APIError{
		Code:       "MethodNotAllowed",
		Message:    "The specified method is not allowed against this resource",
		HTTPStatus: http.StatusMethodNotAllowed,
	}

	// ErrInternalError is returned for unexpected server-side failures.
	ErrInternalError = &APIError{
		Code:       "InternalError",
		Message:    "We encountered an internal error. Please try again.",
		HTTPStatus: http.StatusInternalServerError,
	}

	// ErrServiceUnavailable is returned when a dependency is unhealthy.
	ErrServiceUnavailable = &APIError{
		Code:       "ServiceUnavailable",
		Message:    "The service is temporarily unavailable",
		HTTPStatus: http.StatusServiceUnavailable,
	}
)
