package listener

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned for unknown listeners and for listeners owned
	// by another principal.
	ErrNotFound = errors.New("listener: not found")

	// ErrInvalidURL is returned for watch URLs that are not absolute http(s).
	ErrInvalidURL = errors.New("listener: invalid url")

	// ErrIntervalTooShort is returned when the check interval is below the
	// plan floor.
	ErrIntervalTooShort = errors.New("listener: check interval below plan minimum")

	// ErrLimitReached is returned when the plan's listener count is used up.
	ErrLimitReached = errors.New("listener: listener limit reached")

	// ErrStoreUnavailable wraps listener store backend failures.
	ErrStoreUnavailable = errors.New("listener: store unavailable")

	// ErrFetchFailed wraps origin fetch failures.
	ErrFetchFailed = errors.New("listener: fetch failed")
)

// FetchError is a non-2xx origin response.
type FetchError struct {
	URL    string
	Status int
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %s returned status %d", ErrFetchFailed, e.URL, e.Status)
}

// Is reports whether target is ErrFetchFailed.
func (e *FetchError) Is(target error) bool { return target == ErrFetchFailed }

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
