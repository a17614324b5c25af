package shared

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Configuration errors
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Authentication errors
	ErrAuth           = fmt.Errorf("authentication failed")
	ErrNoRefreshToken = fmt.Errorf("no refresh token available")
	ErrTimeout        = fmt.Errorf("operation timed out")

	// API and service errors
	ErrAPIRequest         = fmt.Errorf("API request failed")
	ErrRateLimited        = fmt.Errorf("rate limited")
	ErrNotFound           = fmt.Errorf("not found")
	ErrModel              = fmt.Errorf("language model error")
	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// AuthError reports rejected or missing credentials for a remote service.
type AuthError struct {
	Service string
	Status  int
	Detail  string
	Err     error
}

func (e *AuthError) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Service, ErrAuth)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *AuthError) Is(target error) bool { return target == ErrAuth }

func (e *AuthError) Unwrap() error { return e.Err }

// RateLimitError reports throttling that outlasted the retry budget.
type RateLimitError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %v (retry after %s)", e.Service, ErrRateLimited, e.RetryAfter)
	}
	return fmt.Sprintf("%s: %v", e.Service, ErrRateLimited)
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// NotFoundError reports a lookup with no match. Enrichment treats it as non-fatal.
type NotFoundError struct {
	Service string
	What    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: %s %v", e.Service, e.What, ErrNotFound)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ModelError reports a language model response that could not be used.
type ModelError struct {
	Reason string
	Raw    string
	Err    error
}

func (e *ModelError) Error() string {
	msg := fmt.Sprintf("%v: %s", ErrModel, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelError) Is(target error) bool { return target == ErrModel }

func (e *ModelError) Unwrap() error { return e.Err }

// IsFatal reports whether a failed lookup must halt a run rather than degrade a single track.
// Authentication failures always halt. Rate limits halt only when the source is required.
func IsFatal(err error, required bool) bool {
	return errors.Is(err, ErrAuth) || (required && errors.Is(err, ErrRateLimited))
}
