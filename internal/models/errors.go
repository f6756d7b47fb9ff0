package models

import (
	"errors"
	"fmt"
	"net/http"
)

// SessionError represents a categorized session-service error carrying a
// stable machine-readable code and the HTTP status the boundary should
// return. It implements the error interface and supports errors.Is matching
// against the package sentinels by code.
type SessionError struct {
	// Code is the stable error code (e.g. "unauthenticated", "store_unavailable").
	Code string `json:"error"`
	// Description provides additional human-readable error information.
	Description string `json:"error_description,omitempty"`
	// StatusCode is the HTTP status code to return (excluded from JSON).
	StatusCode int `json:"-"`
	// cause is the wrapped underlying error, if any.
	cause error
}

// Error returns a string representation of the session error.
// It implements the error interface.
func (e *SessionError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Description)
	}
	return e.Code
}

// Unwrap returns the wrapped underlying error, if any.
func (e *SessionError) Unwrap() error {
	return e.cause
}

// Is matches two SessionErrors by code, so wrapped instances created with
// the constructor functions compare equal to the package sentinels.
func (e *SessionError) Is(target error) bool {
	var t *SessionError
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// WithDescription returns a copy of the error with the given description.
func (e *SessionError) WithDescription(description string) *SessionError {
	clone := *e
	clone.Description = description
	return &clone
}

var (
	// ErrUnauthenticated indicates that no valid session could be resolved
	// for the request. Surfaced to the HTTP boundary as a rejection and never
	// retried internally. Returns HTTP 401 Unauthorized.
	ErrUnauthenticated = &SessionError{
		Code:       "unauthenticated",
		StatusCode: http.StatusUnauthorized,
	}

	// ErrSessionNotFound indicates that a specific session referenced by ID
	// does not exist or is no longer active. Returns HTTP 404 Not Found.
	ErrSessionNotFound = &SessionError{
		Code:       "session_not_found",
		StatusCode: http.StatusNotFound,
	}

	// ErrStoreUnavailable indicates the relational store is unreachable or
	// timed out. Request-path callers fail closed; background tasks log and
	// retry up to a bounded count. Returns HTTP 503 Service Unavailable.
	ErrStoreUnavailable = &SessionError{
		Code:       "store_unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}

	// ErrCacheUnavailable indicates the cache store is unreachable. Never
	// fail-closed: callers fall back to the relational store and log a
	// warning. Returns HTTP 503 Service Unavailable if it ever surfaces.
	ErrCacheUnavailable = &SessionError{
		Code:       "cache_unavailable",
		StatusCode: http.StatusServiceUnavailable,
	}

	// ErrOwnSessionTermination indicates an attempt to terminate the
	// caller's own current session without the force flag.
	// Returns HTTP 409 Conflict.
	ErrOwnSessionTermination = &SessionError{
		Code:       "own_session_termination",
		StatusCode: http.StatusConflict,
	}
)

// NewUnauthenticated creates an unauthenticated error wrapping the given
// cause. The cause is preserved for logging but never exposed to clients.
func NewUnauthenticated(description string, cause error) *SessionError {
	return &SessionError{
		Code:        "unauthenticated",
		Description: description,
		StatusCode:  http.StatusUnauthorized,
		cause:       cause,
	}
}

// NewStoreUnavailable creates a store-unavailable error wrapping the given
// cause.
func NewStoreUnavailable(cause error) *SessionError {
	return &SessionError{
		Code:        "store_unavailable",
		Description: "session store is unavailable",
		StatusCode:  http.StatusServiceUnavailable,
		cause:       cause,
	}
}

// NewCacheUnavailable creates a cache-unavailable error wrapping the given
// cause.
func NewCacheUnavailable(cause error) *SessionError {
	return &SessionError{
		Code:        "cache_unavailable",
		Description: "session cache is unavailable",
		StatusCode:  http.StatusServiceUnavailable,
		cause:       cause,
	}
}
