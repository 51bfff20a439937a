// Package plan defines the subscription tiers that bound quota, rate and
// listener usage.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownTier is returned when a tier name is not in the catalog.
var ErrUnknownTier = errors.New("plan: unknown tier")

// ErrInvalidTier is returned by Tier.Validate.
var ErrInvalidTier = errors.New("plan: invalid tier")

// Tier describes the limits attached to a plan.
//
// A zero MonthlyQuota or RateLimitPerMinute means unlimited.
type Tier struct {
	Name               string        `yaml:"name" json:"name"`
	MonthlyQuota       int64         `yaml:"monthly_quota" json:"monthly_quota"`
	RateLimitPerMinute int64         `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	MinCheckInterval   time.Duration `yaml:"min_check_interval" json:"min_check_interval"`
	MaxListeners       int           `yaml:"max_listeners" json:"max_listeners"`
}

// Validate reports whether the tier limits are usable.
func (t Tier) Validate() error {
	switch {
	case t.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidTier)
	case t.MonthlyQuota < 0 || t.RateLimitPerMinute < 0:
		return fmt.Errorf("%w: %s: limits must not be negative", ErrInvalidTier, t.Name)
	case t.MinCheckInterval < time.Minute:
		return fmt.Errorf("%w: %s: min check interval must be at least 1m", ErrInvalidTier, t.Name)
	case t.MaxListeners < 0:
		return fmt.Errorf("%w: %s: max listeners must not be negative", ErrInvalidTier, t.Name)
	}
	return nil
}

// Built-in tier names.
const (
	Free       = "free"
	Starter    = "starter"
	Pro        = "pro"
	Enterprise = "enterprise"
)

// DefaultTiers returns the built-in tiers. Lower tiers get coarser listener
// intervals and fewer listeners.
func DefaultTiers() []Tier {
	return []Tier{
		{Name: Free, MonthlyQuota: 10_000, RateLimitPerMinute: 60, MinCheckInterval: time.Hour, MaxListeners: 3},
		{Name: Starter, MonthlyQuota: 100_000, RateLimitPerMinute: 300, MinCheckInterval: 30 * time.Minute, MaxListeners: 25},
		{Name: Pro, MonthlyQuota: 1_000_000, RateLimitPerMinute: 1_000, MinCheckInterval: 15 * time.Minute, MaxListeners: 100},
		{Name: Enterprise, MonthlyQuota: 0, RateLimitPerMinute: 5_000, MinCheckInterval: 15 * time.Minute, MaxListeners: 1_000},
	}
}

// Catalog is an immutable lookup of tiers by name.
type Catalog struct {
	tiers map[string]Tier
}

// NewCatalog builds a catalog. Later tiers with the same name replace
// earlier ones, so configuration can override a built-in tier.
func NewCatalog(tiers ...Tier) (*Catalog, error) {
	c := &Catalog{tiers: make(map[string]Tier, len(tiers))}
	for _, t := range tiers {
		if err := t.Validate(); err != nil {
			return nil, err
		}
		c.tiers[t.Name] = t
	}
	return c, nil
}

// DefaultCatalog returns a catalog of DefaultTiers.
func DefaultCatalog() *Catalog {
	c, _ := NewCatalog(DefaultTiers()...)
	return c
}

// Tier looks up a tier by name.
func (c *Catalog) Tier(name string) (Tier, error) {
	t, ok := c.tiers[name]
	if !ok {
		return Tier{}, fmt.Errorf("%w: %q", ErrUnknownTier, name)
	}
	return t, nil
}

// Names returns the tier names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.tiers))
	for n := range c.tiers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
