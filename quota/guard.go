package quota

import (
	"context"
	"time"

	"github.com/jonwraymond/cachegate/auth"
)

// Usage is a quota snapshot for one principal. Remaining values are -1 when
// the corresponding limit is unlimited.
type Usage struct {
	PrincipalID        string    `json:"principal_id"`
	PlanTier           string    `json:"plan"`
	MonthlyQuota       int64     `json:"monthly_quota"`
	MonthlyUsed        int64     `json:"monthly_used"`
	MonthlyRemaining   int64     `json:"monthly_remaining"`
	MonthResetAt       time.Time `json:"month_reset_at"`
	RateLimitPerMinute int64     `json:"rate_limit_per_minute"`
	MinuteUsed         int64     `json:"minute_used"`
	MinuteRemaining    int64     `json:"minute_remaining"`
	MinuteResetAt      time.Time `json:"minute_reset_at"`
}

func newUsage(p *auth.Principal, w Window, c Counts) Usage {
	return Usage{
		PrincipalID:        p.ID,
		PlanTier:           p.PlanTier,
		MonthlyQuota:       p.MonthlyQuota,
		MonthlyUsed:        c.Monthly,
		MonthlyRemaining:   remaining(p.MonthlyQuota, c.Monthly),
		MonthResetAt:       w.MonthReset,
		RateLimitPerMinute: p.RateLimitPerMinute,
		MinuteUsed:         c.Minute,
		MinuteRemaining:    remaining(p.RateLimitPerMinute, c.Minute),
		MinuteResetAt:      w.MinuteReset,
	}
}

func remaining(limit, used int64) int64 {
	if limit <= 0 {
		return -1
	}
	if used >= limit {
		return 0
	}
	return limit - used
}

// Guard enforces a principal's monthly quota and per-minute rate.
type Guard struct {
	store CounterStore
	now   func() time.Time
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) GuardOption {
	return func(g *Guard) { g.now = now }
}

// NewGuard creates a guard over store.
func NewGuard(store CounterStore, opts ...GuardOption) *Guard {
	g := &Guard{store: store, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Check admits one request for p and counts it. The monthly quota is checked
// before the rate; a rejected request is not counted. On success the
// returned Usage reflects the increment.
func (g *Guard) Check(ctx context.Context, p *auth.Principal) (Usage, error) {
	now := g.now()
	w := WindowAt(now)
	res, err := g.store.Consume(ctx, p.ID, w, Limits{Monthly: p.MonthlyQuota, PerMinute: p.RateLimitPerMinute})
	if err != nil {
		return Usage{}, err
	}
	usage := newUsage(p, w, res.Counts)

	switch res.Decision {
	case QuotaExceeded:
		return usage, &ExceededError{Limit: p.MonthlyQuota, Used: res.Monthly, ResetAt: w.MonthReset}
	case RateLimited:
		return usage, &RateLimitedError{Limit: p.RateLimitPerMinute, Wait: retryAfter(now, w.MinuteReset)}
	}
	return usage, nil
}

// Usage returns p's counters without consuming anything.
func (g *Guard) Usage(ctx context.Context, p *auth.Principal) (Usage, error) {
	w := WindowAt(g.now())
	c, err := g.store.Counts(ctx, p.ID, w)
	if err != nil {
		return Usage{}, err
	}
	return newUsage(p, w, c), nil
}

// MonthlyUsed implements auth.UsageReader.
func (g *Guard) MonthlyUsed(ctx context.Context, principalID string) (int64, error) {
	c, err := g.store.Counts(ctx, principalID, WindowAt(g.now()))
	if err != nil {
		return 0, err
	}
	return c.Monthly, nil
}

// retryAfter rounds the wait up to whole seconds, minimum one.
func retryAfter(now, reset time.Time) time.Duration {
	d := reset.Sub(now)
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

var _ auth.UsageReader = (*Guard)(nil)
