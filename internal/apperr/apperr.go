// Package apperr defines the error taxonomy shared by the connection, messaging,
// profile and account services, and its mapping onto HTTP status codes.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAuthRequired       = errors.New("authentication required")
	ErrForbidden          = errors.New("not allowed for this user")
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("connection is no longer pending")
	ErrDuplicateRequest   = errors.New("request already exists")
	ErrInvalidInput       = errors.New("invalid input")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrTimeout            = errors.New("request timed out")
)

// Backend classifies an infrastructure error. Deadline expiry becomes ErrTimeout,
// taxonomy errors pass through untouched and anything else is reported as
// ErrBackendUnavailable with the cause kept in the chain.
func Backend(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	if Known(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrBackendUnavailable, err)
}

// Invalid wraps ErrInvalidInput with a field-level explanation.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Known reports whether err belongs to the taxonomy.
func Known(err error) bool {
	for _, target := range []error{
		ErrAuthRequired, ErrForbidden, ErrNotFound, ErrInvalidTransition,
		ErrDuplicateRequest, ErrInvalidInput, ErrInvalidCredentials,
		ErrBackendUnavailable, ErrTimeout,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// HTTPStatus maps an error to the status code returned by the API.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrAuthRequired), errors.Is(err, ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrDuplicateRequest):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message returns the human readable text shown to API clients. Infrastructure
// causes are not exposed.
func Message(err error) string {
	switch {
	case errors.Is(err, ErrTimeout):
		return ErrTimeout.Error()
	case errors.Is(err, ErrBackendUnavailable):
		return ErrBackendUnavailable.Error()
	case Known(err):
		return err.Error()
	default:
		return "internal error"
	}
}
