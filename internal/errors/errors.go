// Package errors defines the portal's error taxonomy and its HTTP mapping.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode is a stable, machine-readable error identifier.
type ErrorCode string

const (
	ErrCodeBadRequest        ErrorCode = "BAD_REQUEST"
	ErrCodeUnauthorized      ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeUnavailable       ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeMissingSelection  ErrorCode = "MISSING_SELECTION"
	ErrCodeRecordFetch       ErrorCode = "RECORD_FETCH_FAILED"
	ErrCodeSessionLookup     ErrorCode = "SESSION_LOOKUP_FAILED"
)

// ServiceError is an error with an HTTP status and optional details.
type ServiceError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	Err        error                  `json:"-"`
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// WithDetails returns the error with an added detail entry.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code ErrorCode, status int, message string, err error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, Err: err}
}

func BadRequest(message string) *ServiceError {
	return newError(ErrCodeBadRequest, http.StatusBadRequest, message, nil)
}

func Unauthorized(message string) *ServiceError {
	if message == "" {
		message = "Authentication required"
	}
	return newError(ErrCodeUnauthorized, http.StatusUnauthorized, message, nil)
}

func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(ErrCodeRateLimitExceeded, http.StatusTooManyRequests, "Rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

func Unavailable(message string, err error) *ServiceError {
	return newError(ErrCodeUnavailable, http.StatusServiceUnavailable, message, err)
}

// GetServiceError extracts a ServiceError from err, translating the domain errors below.
func GetServiceError(err error) *ServiceError {
	if err == nil {
		return nil
	}
	var se *ServiceError
	if stderrors.As(err, &se) {
		return se
	}

	var missing *MissingAncestor
	if stderrors.As(err, &missing) {
		return newError(ErrCodeMissingSelection, http.StatusBadRequest, missing.Error(), err).
			WithDetails("level", missing.Level).
			WithDetails("param", missing.Param)
	}
	var fetch *RecordFetchFailure
	if stderrors.As(err, &fetch) {
		return newError(ErrCodeRecordFetch, http.StatusBadGateway, fmt.Sprintf("Failed to load %s", fetch.Level), err).
			WithDetails("level", fetch.Level).
			WithDetails("parent_id", fetch.ParentID)
	}
	var lookup *SessionLookupFailure
	if stderrors.As(err, &lookup) {
		return newError(ErrCodeSessionLookup, http.StatusServiceUnavailable, "Session lookup failed", err)
	}
	return nil
}

// =============================================================================
// Navigation domain errors
// =============================================================================

var (
	// ErrNoSession means the provider answered and there is no signed-in user.
	ErrNoSession = stderrors.New("no session")
	// ErrTransport marks a provider that could not be reached or answered unexpectedly.
	ErrTransport = stderrors.New("provider transport failure")
)

// MissingAncestor is returned when a selection screen is reached without a required parent id.
type MissingAncestor struct {
	Level string
	Param string
}

func (e *MissingAncestor) Error() string {
	return fmt.Sprintf("missing selection: %s (%s)", e.Level, e.Param)
}

// RecordFetchFailure wraps a record store failure for one level and parent.
type RecordFetchFailure struct {
	Level    string
	ParentID string
	Err      error
}

func (e *RecordFetchFailure) Error() string {
	if e.ParentID == "" {
		return fmt.Sprintf("fetch %s: %v", e.Level, e.Err)
	}
	return fmt.Sprintf("fetch %s for parent %s: %v", e.Level, e.ParentID, e.Err)
}

func (e *RecordFetchFailure) Unwrap() error {
	return e.Err
}

// SessionLookupFailure wraps an identity provider failure. Navigation treats it as a guest.
type SessionLookupFailure struct {
	Err error
}

func (e *SessionLookupFailure) Error() string {
	return fmt.Sprintf("session lookup: %v", e.Err)
}

func (e *SessionLookupFailure) Unwrap() error {
	return e.Err
}

// IsMissingAncestor reports whether err is a MissingAncestor.
func IsMissingAncestor(err error) bool {
	var missing *MissingAncestor
	return stderrors.As(err, &missing)
}
