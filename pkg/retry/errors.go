package retry

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Common errors returned by a retry session.
var (
	// ErrRetryExhausted is returned when all attempts failed within the budget.
	ErrRetryExhausted = errors.New("retry attempts exhausted")

	// ErrBudgetExceeded is returned when the wall-clock budget ran out between attempts.
	ErrBudgetExceeded = errors.New("retry budget exceeded")

	// ErrContextCancelled is returned when the context is cancelled during a backoff wait.
	ErrContextCancelled = errors.New("context cancelled")

	// ErrNotAccepted is the failure recorded when a conditional session rejects a result.
	ErrNotAccepted = errors.New("result not accepted")
)

// ThrottleError is a throttle signal: the vendor asked the caller to back off
// for RetryAfter before trying again.
type ThrottleError struct {
	RetryAfter time.Duration
	Reason     string
}

// Error implements the error interface.
func (e *ThrottleError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("throttled: retry after %s", e.RetryAfter)
	}
	return fmt.Sprintf("throttled (%s): retry after %s", e.Reason, e.RetryAfter)
}

// AsThrottle extracts a throttle signal from err.
func AsThrottle(err error) (*ThrottleError, bool) {
	var te *ThrottleError
	if errors.As(err, &te) {
		return te, true
	}
	return nil, false
}

// HeaderCarrier is implemented by errors that keep the response headers of
// the failed attempt.
type HeaderCarrier interface {
	ResponseHeaders() http.Header
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying. A session returns it unchanged.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
