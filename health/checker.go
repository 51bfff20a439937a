package health

import (
	"context"
	"fmt"
	"time"
)

// Status represents the health status of a component.
type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Result contains the outcome of a health check.
type Result struct {
	Status    Status
	Message   string
	Details   map[string]any
	Duration  time.Duration
	Timestamp time.Time
	Error     error
}

// Healthy creates a healthy result.
func Healthy(message string) Result {
	return Result{Status: StatusHealthy, Message: message, Timestamp: time.Now()}
}

// Degraded creates a degraded result.
func Degraded(message string) Result {
	return Result{Status: StatusDegraded, Message: message, Timestamp: time.Now()}
}

// Unhealthy creates an unhealthy result.
func Unhealthy(message string, err error) Result {
	return Result{Status: StatusUnhealthy, Message: message, Error: err, Timestamp: time.Now()}
}

// WithDetails adds details to a result.
func (r Result) WithDetails(details map[string]any) Result {
	r.Details = details
	return r
}

// Checker is the interface for health checks.
type Checker interface {
	Name() string
	Check(ctx context.Context) Result
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	name string
	fn   func(context.Context) Result
}

// NewCheckerFunc creates a new CheckerFunc.
func NewCheckerFunc(name string, fn func(context.Context) Result) *CheckerFunc {
	return &CheckerFunc{name: name, fn: fn}
}

// Name returns the name of this checker.
func (f *CheckerFunc) Name() string { return f.name }

// Check performs the health check.
func (f *CheckerFunc) Check(ctx context.Context) Result { return f.fn(ctx) }

// Pinger is anything with a reachability probe: entry stores, counter
// stores, listener stores.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingChecker reports Unhealthy when Ping fails.
type PingChecker struct {
	name   string
	target Pinger
}

// NewPingChecker wraps target.
func NewPingChecker(name string, target Pinger) *PingChecker {
	return &PingChecker{name: name, target: target}
}

// Name returns the configured name.
func (p *PingChecker) Name() string { return p.name }

// Check pings the target.
func (p *PingChecker) Check(ctx context.Context) Result {
	if err := p.target.Ping(ctx); err != nil {
		return Unhealthy(p.name+" unreachable", fmt.Errorf("%w: %w", ErrUnreachable, err))
	}
	return Healthy(p.name + " reachable")
}

// Sweeper reports when a periodic job last completed and how often it
// should run. *listener.Scheduler satisfies it.
type Sweeper interface {
	LastSweep() time.Time
	SweepInterval() time.Duration
}

// SweepChecker reports Degraded when a sweep is overdue by more than
// Tolerance intervals. A job that has never run is Healthy for the first
// Tolerance intervals after the checker is created.
type SweepChecker struct {
	name      string
	sweeper   Sweeper
	tolerance int
	started   time.Time
	now       func() time.Time
}

// NewSweepChecker creates a checker. A tolerance below 1 becomes 3.
func NewSweepChecker(name string, s Sweeper, tolerance int) *SweepChecker {
	if tolerance < 1 {
		tolerance = 3
	}
	return &SweepChecker{name: name, sweeper: s, tolerance: tolerance, started: time.Now(), now: time.Now}
}

// Name returns the configured name.
func (c *SweepChecker) Name() string { return c.name }

// Check compares the last sweep with the interval.
func (c *SweepChecker) Check(context.Context) Result {
	now := c.now()
	interval := c.sweeper.SweepInterval()
	limit := time.Duration(c.tolerance) * interval
	last := c.sweeper.LastSweep()

	ref := last
	if ref.IsZero() {
		ref = c.started
	}
	age := now.Sub(ref)
	details := map[string]any{"interval": interval.String(), "age": age.Round(time.Second).String()}
	if !last.IsZero() {
		details["last_sweep"] = last.UTC().Format(time.RFC3339)
	}
	if age > limit {
		return Degraded(fmt.Sprintf("%s overdue: last sweep %s ago", c.name, age.Round(time.Second))).WithDetails(details)
	}
	return Healthy(c.name + " on schedule").WithDetails(details)
}
