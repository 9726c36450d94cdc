// Package errors defines the sentinel errors of the search engine and an
// AppError wrapper that carries an HTTP status for the API adapter.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrDuplicateDocument = errors.New("document already exists")
	ErrDocumentNotFound  = errors.New("document not found")
	ErrInvalidPagination = errors.New("invalid pagination")
	ErrEmptyQuery        = errors.New("empty query")
	ErrMalformedFilter   = errors.New("malformed filter")
	ErrInvalidInput      = errors.New("invalid input")
	ErrInternal          = errors.New("internal error")
)

// AppError wraps a sentinel error with a human-readable message and an
// HTTP status code for the API layer.
type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates an AppError around a sentinel.
func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Newf creates an AppError with a formatted message.
func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the HTTP status the API should return.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrDocumentNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateDocument):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidPagination),
		errors.Is(err, ErrEmptyQuery),
		errors.Is(err, ErrMalformedFilter),
		errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
