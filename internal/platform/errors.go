package platform

import (
	"context"
	"errors"
	"fmt"

	"github.com/hoangnguyen-kms/TrendVault-sub001/internal/model"
)

var (
	// ErrMalformedResponse is returned when a platform answers with data we cannot interpret.
	ErrMalformedResponse = errors.New("malformed platform response")

	// ErrQuotaExhausted is returned when the platform's API budget for the day is spent.
	ErrQuotaExhausted = errors.New("platform quota exhausted")

	// ErrNotConfigured is returned when an adapter is called without credentials.
	ErrNotConfigured = errors.New("platform adapter not configured")
)

// Error wraps every failure an adapter returns so raw transport errors never leak.
type Error struct {
	Platform  model.Platform
	Op        string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Platform, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err, guessing retryability for errors that carry no status.
func NewError(p model.Platform, op string, err error) *Error {
	return &Error{Platform: p, Op: op, Retryable: transient(err), Err: err}
}

// StatusError wraps err using an HTTP status code to decide retryability.
func StatusError(p model.Platform, op string, status int, err error) *Error {
	return &Error{Platform: p, Op: op, Retryable: RetryableStatus(status), Err: err}
}

// RetryableStatus reports whether a request that got status is worth retrying.
func RetryableStatus(status int) bool {
	return status == 408 || status == 429 || status >= 500
}

// IsRetryable reports whether err is an adapter error that a retry may fix.
// Errors that are not adapter errors are treated as retryable.
func IsRetryable(err error) bool {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return err != nil
}

// transient treats timeouts and network failures as retryable and everything
// that will fail the same way again as permanent.
func transient(err error) bool {
	return !errors.Is(err, ErrMalformedResponse) &&
		!errors.Is(err, ErrQuotaExhausted) &&
		!errors.Is(err, ErrNotConfigured) &&
		!errors.Is(err, context.Canceled)
}
