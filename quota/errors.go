package quota

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrQuotaExceeded      = errors.New("quota: monthly quota exceeded")
	ErrRateLimited        = errors.New("quota: rate limit exceeded")
	ErrCounterUnavailable = errors.New("quota: counter store unavailable")
)

// ExceededError is returned when the monthly quota is used up. It is a hard
// stop until ResetAt.
type ExceededError struct {
	Limit   int64
	Used    int64
	ResetAt time.Time
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("quota: monthly quota of %d exhausted (used %d), resets at %s",
		e.Limit, e.Used, e.ResetAt.UTC().Format(time.RFC3339))
}

// Is reports whether target is ErrQuotaExceeded.
func (e *ExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// RateLimitedError is returned when the per-minute limit is hit. It is safe
// to retry after RetryAfter.
type RateLimitedError struct {
	Limit int64
	Wait  time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("quota: rate limit of %d/min exceeded, retry after %s", e.Limit, e.Wait)
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitedError) Is(target error) bool { return target == ErrRateLimited }

// RetryAfter returns the wait before the next window opens.
func (e *RateLimitedError) RetryAfter() time.Duration { return e.Wait }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrCounterUnavailable, op, err)
}
