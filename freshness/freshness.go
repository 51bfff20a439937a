package freshness

import (
	"errors"
	"fmt"
	"time"

	"github.com/jonwraymond/cachegate/cache"
)

// Status is the freshness classification of an entry.
type Status int

const (
	// Fresh entries are served without qualification.
	Fresh Status = iota
	// Stale entries are served with a stale indicator.
	Stale
	// Expired entries are treated as a miss.
	Expired
)

// String returns the wire name of the status.
func (s Status) String() string {
	switch s {
	case Fresh:
		return "fresh"
	case Stale:
		return "stale"
	case Expired:
		return "expired"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Default thresholds, as fractions of the entry TTL.
const (
	DefaultFreshThreshold = 0.75
	DefaultStaleThreshold = 1.0
)

// ErrInvalidRule is returned for rules with unusable thresholds or patterns.
var ErrInvalidRule = errors.New("freshness: invalid rule")

// Rule tunes classification for entries whose namespace or key matches
// Pattern. An entry is fresh while elapsed/ttl < FreshThreshold, stale until
// StaleThreshold, and expired from then on. Elapsed >= ttl is always expired.
type Rule struct {
	Pattern        string  `yaml:"pattern" json:"pattern"`
	FreshThreshold float64 `yaml:"fresh_threshold" json:"fresh_threshold"`
	StaleThreshold float64 `yaml:"stale_threshold" json:"stale_threshold"`
	AutoRefresh    bool    `yaml:"auto_refresh" json:"auto_refresh"`
}

// DefaultRule is the implicit catch-all.
func DefaultRule() Rule {
	return Rule{
		Pattern:        "*",
		FreshThreshold: DefaultFreshThreshold,
		StaleThreshold: DefaultStaleThreshold,
	}
}

// withDefaults fills zero thresholds.
func (r Rule) withDefaults() Rule {
	if r.FreshThreshold == 0 {
		r.FreshThreshold = DefaultFreshThreshold
	}
	if r.StaleThreshold == 0 {
		r.StaleThreshold = DefaultStaleThreshold
	}
	return r
}

// Validate checks 0 < fresh <= stale <= 1.
func (r Rule) Validate() error {
	r = r.withDefaults()
	if r.Pattern == "" {
		return fmt.Errorf("%w: empty pattern", ErrInvalidRule)
	}
	if r.FreshThreshold <= 0 || r.FreshThreshold > 1 {
		return fmt.Errorf("%w: fresh_threshold %v outside (0, 1]", ErrInvalidRule, r.FreshThreshold)
	}
	if r.StaleThreshold < r.FreshThreshold || r.StaleThreshold > 1 {
		return fmt.Errorf("%w: stale_threshold %v outside [fresh_threshold, 1]", ErrInvalidRule, r.StaleThreshold)
	}
	return nil
}

// Classify returns the status of entry under rule at now.
func Classify(entry *cache.Entry, rule Rule, now time.Time) Status {
	ttl := entry.TTL
	elapsed := now.Sub(entry.CachedAt)
	if ttl <= 0 || elapsed >= ttl {
		return Expired
	}
	if elapsed < 0 {
		return Fresh
	}

	rule = rule.withDefaults()
	ratio := float64(elapsed) / float64(ttl)
	switch {
	case ratio >= rule.StaleThreshold:
		return Expired
	case ratio >= rule.FreshThreshold:
		return Stale
	default:
		return Fresh
	}
}

// Servable reports whether a status may return a payload.
func (s Status) Servable() bool {
	return s == Fresh || s == Stale
}
