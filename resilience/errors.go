package resilience

import (
	"errors"
	"time"
)

// Sentinel errors for resilience operations.
var (
	ErrCircuitOpen        = errors.New("resilience: circuit breaker is open")
	ErrMaxRetriesExceeded = errors.New("resilience: max retries exceeded")
	ErrRateLimitExceeded  = errors.New("resilience: rate limit exceeded")
	ErrBulkheadFull       = errors.New("resilience: bulkhead at capacity")
	ErrTimeout            = errors.New("resilience: operation timed out")
)

// RetryAfterError is implemented by errors that carry a server-provided
// delay, such as an HTTP 429 or 503 with Retry-After.
type RetryAfterError interface {
	error
	RetryAfter() time.Duration
}

// Permanent marks an error as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
