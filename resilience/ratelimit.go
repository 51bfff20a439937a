package resilience

import (
	"context"
	"sync"
	"time"
)

// RateLimiterConfig configures a token bucket.
type RateLimiterConfig struct {
	// Rate is tokens per second. Default: 10.
	Rate float64

	// Burst is the bucket size. Default: 1.
	Burst int

	// WaitOnLimit makes Execute wait for a token instead of failing.
	WaitOnLimit bool

	// MaxWait bounds a single wait. Default: 1 minute.
	MaxWait time.Duration

	// Clock replaces the wall clock in tests.
	Clock Clock
}

// RateLimiter is a process-local token bucket. Cross-replica limits belong
// in the quota package.
type RateLimiter struct {
	config RateLimiterConfig

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// NewRateLimiter creates a full bucket.
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	if config.Rate <= 0 {
		config.Rate = 10
	}
	if config.Burst <= 0 {
		config.Burst = 1
	}
	if config.MaxWait <= 0 {
		config.MaxWait = time.Minute
	}
	if config.Clock == nil {
		config.Clock = SystemClock
	}
	return &RateLimiter{
		config: config,
		tokens: float64(config.Burst),
		last:   config.Clock.Now(),
	}
}

// Allow takes a token if one is available.
func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// Wait blocks until a token is taken, the context ends, or MaxWait passes.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	deadline := time.NewTimer(rl.config.MaxWait)
	defer deadline.Stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if rl.Allow() {
			return nil
		}

		t := time.NewTimer(rl.nextToken())
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-deadline.C:
			t.Stop()
			return ErrRateLimitExceeded
		case <-t.C:
		}
	}
}

// Execute runs op once a token is available.
func (rl *RateLimiter) Execute(ctx context.Context, op func(context.Context) error) error {
	if rl.config.WaitOnLimit {
		if err := rl.Wait(ctx); err != nil {
			return err
		}
	} else if !rl.Allow() {
		return ErrRateLimitExceeded
	}
	return op(ctx)
}

// Tokens returns the currently available tokens.
func (rl *RateLimiter) Tokens() float64 {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.refillLocked()
	return rl.tokens
}

func (rl *RateLimiter) nextToken() time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	missing := 1 - rl.tokens
	if missing <= 0 {
		return time.Millisecond
	}
	return time.Duration(missing / rl.config.Rate * float64(time.Second))
}

func (rl *RateLimiter) refillLocked() {
	now := rl.config.Clock.Now()
	elapsed := now.Sub(rl.last)
	rl.last = now
	if elapsed <= 0 {
		return
	}
	rl.tokens = min(float64(rl.config.Burst), rl.tokens+elapsed.Seconds()*rl.config.Rate)
}
