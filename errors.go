package ddns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrNotFound means the record does not exist at the provider yet.
	ErrNotFound = errors.New("record not found")
	// ErrUnauthorized means the provider rejected the credentials.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrRateLimited means the provider throttled the request.
	ErrRateLimited = errors.New("rate limited")
)

// ResolutionError reports a failure to discover the public address of one family.
type ResolutionError struct {
	Family Family
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unable to resolve public %s address: %s", e.Family, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// APIError is returned by RecordStore implementations for failed provider calls.
type APIError struct {
	Op string // "read" or "write"
	// StatusCode is the HTTP status; 0 when the request never got a response.
	StatusCode int
	Message    string
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.StatusCode == 0 {
		return fmt.Sprintf("%s failed: %s", e.Op, msg)
	}
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return fmt.Sprintf("%s failed with status %d: %s", e.Op, e.StatusCode, msg)
}

// Unwrap exposes the sentinel matching the status code along with the underlying cause.
func (e *APIError) Unwrap() []error {
	var errs []error
	switch {
	case e.StatusCode == http.StatusUnauthorized, e.StatusCode == http.StatusForbidden:
		errs = append(errs, ErrUnauthorized)
	case e.StatusCode == http.StatusNotFound:
		errs = append(errs, ErrNotFound)
	case e.StatusCode == http.StatusTooManyRequests:
		errs = append(errs, ErrRateLimited)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Temporary reports whether the call may succeed if repeated unchanged.
func (e *APIError) Temporary() bool {
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	case e.StatusCode == 0:
		return e.Err != nil && !errors.Is(e.Err, context.Canceled)
	}
	return false
}

// IsRecoverable reports whether err is transient and eligible for retry:
// rate limiting, 5xx responses, timeouts and network failures.
// Authentication failures, cancellation and malformed requests are not recoverable.
func IsRecoverable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Temporary()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
