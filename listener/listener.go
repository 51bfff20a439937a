package listener

import (
	"net/url"
	"time"
)

// State is a listener lifecycle state.
type State string

const (
	StateActive  State = "active"
	StatePaused  State = "paused"
	StateDeleted State = "deleted"
)

// Listener is a watched URL.
type Listener struct {
	ID        string `json:"id"`
	Owner     string `json:"-"`
	URL       string `json:"url"`
	Namespace string `json:"namespace"`

	CheckInterval      time.Duration `json:"-"`
	InvalidateOnChange bool          `json:"invalidateOnChange"`
	WebhookURL         string        `json:"webhookUrl,omitempty"`

	State       State  `json:"state"`
	InitialHash string `json:"initialHash"`
	LastHash    string `json:"lastHash"`

	LastCheckedAt time.Time `json:"lastCheckedAt,omitzero"`
	LastChangedAt time.Time `json:"lastChangedAt,omitzero"`

	// ConsecutiveFailures and FailingSince describe the current failure
	// streak; both reset on the next successful check.
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	FailingSince        time.Time `json:"failingSince,omitzero"`
	LastError           string    `json:"lastError,omitempty"`

	// PausedReason is set when the scheduler paused the listener.
	PausedReason string `json:"pausedReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Enabled reports whether the scheduler should check the listener.
func (l *Listener) Enabled() bool {
	return l.State == StateActive
}

// NextCheckAt is when the listener becomes due.
func (l *Listener) NextCheckAt() time.Time {
	if l.LastCheckedAt.IsZero() {
		return l.CreatedAt
	}
	return l.LastCheckedAt.Add(l.CheckInterval)
}

// Due reports whether an enabled listener should be checked at now.
func (l *Listener) Due(now time.Time) bool {
	return l.Enabled() && !l.NextCheckAt().After(now)
}

func (l *Listener) clone() *Listener {
	c := *l
	return &c
}

func (l *Listener) recordSuccess(now time.Time) {
	l.LastCheckedAt = now
	l.ConsecutiveFailures = 0
	l.FailingSince = time.Time{}
	l.LastError = ""
	l.UpdatedAt = now
}

func (l *Listener) recordFailure(now time.Time, err error) {
	l.LastCheckedAt = now
	l.ConsecutiveFailures++
	if l.FailingSince.IsZero() {
		l.FailingSince = now
	}
	l.LastError = err.Error()
	l.UpdatedAt = now
}

// ValidateURL checks that raw is an absolute http or https URL.
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ErrInvalidURL
	}
	return nil
}
