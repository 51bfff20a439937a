package quota

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/resilience"
)

func TestWindowAt(t *testing.T) {
	w := WindowAt(time.Date(2026, 12, 31, 23, 59, 30, 0, time.UTC))
	if w.Month != "202612" {
		t.Errorf("Month = %s", w.Month)
	}
	if want := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC); !w.MonthReset.Equal(want) {
		t.Errorf("MonthReset = %v, want %v", w.MonthReset, want)
	}
	if want := time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC); !w.MinuteReset.Equal(want) {
		t.Errorf("MinuteReset = %v, want %v", w.MinuteReset, want)
	}

	local := time.FixedZone("UTC+5", 5*3600)
	if got := WindowAt(time.Date(2026, 4, 1, 2, 0, 0, 0, local)).Month; got != "202603" {
		t.Errorf("Month in local zone = %s, want UTC month 202603", got)
	}
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func principal(quota, rate int64) *auth.Principal {
	return &auth.Principal{ID: "acct_1", PlanTier: "pro", MonthlyQuota: quota, RateLimitPerMinute: rate}
}

func TestGuard_MonthlyBoundaryAndReset(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 31, 23, 50, 0, 0, time.UTC)}
	g := NewGuard(NewMemoryCounterStore(), WithClock(c.now))
	ctx := context.Background()
	p := principal(3, 0)

	for i := 1; i <= 3; i++ {
		u, err := g.Check(ctx, p)
		if err != nil {
			t.Fatalf("Check #%d error = %v", i, err)
		}
		if u.MonthlyUsed != int64(i) {
			t.Errorf("MonthlyUsed = %d, want %d", u.MonthlyUsed, i)
		}
	}

	_, err := g.Check(ctx, p)
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) || !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("Check #4 error = %v, want ExceededError", err)
	}
	if exceeded.Limit != 3 || exceeded.Used != 3 {
		t.Errorf("ExceededError = %+v", exceeded)
	}
	if want := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC); !exceeded.ResetAt.Equal(want) {
		t.Errorf("ResetAt = %v, want %v", exceeded.ResetAt, want)
	}

	c.t = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	if _, err := g.Check(ctx, p); err != nil {
		t.Errorf("first check after reset error = %v", err)
	}
}

func TestGuard_RateLimit(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 45, 0, time.UTC)}
	g := NewGuard(NewMemoryCounterStore(), WithClock(c.now))
	ctx := context.Background()
	p := principal(100, 2)

	for i := 0; i < 2; i++ {
		if _, err := g.Check(ctx, p); err != nil {
			t.Fatalf("Check #%d error = %v", i+1, err)
		}
	}
	u, err := g.Check(ctx, p)
	var limited *RateLimitedError
	if !errors.As(err, &limited) || !errors.Is(err, ErrRateLimited) {
		t.Fatalf("Check #3 error = %v, want RateLimitedError", err)
	}
	if limited.RetryAfter() != 15*time.Second {
		t.Errorf("RetryAfter = %v, want 15s", limited.RetryAfter())
	}
	var ra resilience.RetryAfterError
	if !errors.As(err, &ra) {
		t.Error("RateLimitedError should satisfy resilience.RetryAfterError")
	}
	if u.MonthlyUsed != 2 {
		t.Errorf("rejected request was counted: MonthlyUsed = %d", u.MonthlyUsed)
	}

	c.advance(15 * time.Second)
	if _, err := g.Check(ctx, p); err != nil {
		t.Errorf("check in next minute error = %v", err)
	}
}

func TestGuard_QuotaCheckedBeforeRate(t *testing.T) {
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	g := NewGuard(NewMemoryCounterStore(), WithClock(c.now))
	p := principal(1, 1)
	_, _ = g.Check(context.Background(), p)

	_, err := g.Check(context.Background(), p)
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("error = %v, want ErrQuotaExceeded when both limits are hit", err)
	}
}

func TestGuard_Unlimited(t *testing.T) {
	g := NewGuard(NewMemoryCounterStore())
	p := principal(0, 0)
	for i := 0; i < 50; i++ {
		u, err := g.Check(context.Background(), p)
		if err != nil {
			t.Fatalf("Check() error = %v", err)
		}
		if u.MonthlyRemaining != -1 || u.MinuteRemaining != -1 {
			t.Fatalf("remaining = %d/%d, want -1/-1", u.MonthlyRemaining, u.MinuteRemaining)
		}
	}
}

func TestGuard_ConcurrentChecksNeverOvershoot(t *testing.T) {
	g := NewGuard(NewMemoryCounterStore())
	p := principal(25, 0)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Check(context.Background(), p); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	if admitted.Load() != 25 {
		t.Errorf("admitted %d, want 25", admitted.Load())
	}
}

func TestGuard_UsageDoesNotConsume(t *testing.T) {
	g := NewGuard(NewMemoryCounterStore())
	ctx := context.Background()
	p := principal(10, 5)
	_, _ = g.Check(ctx, p)

	for i := 0; i < 3; i++ {
		u, err := g.Usage(ctx, p)
		if err != nil {
			t.Fatalf("Usage() error = %v", err)
		}
		if u.MonthlyUsed != 1 || u.MonthlyRemaining != 9 || u.MinuteRemaining != 4 {
			t.Errorf("Usage() = %+v", u)
		}
	}
	used, _ := g.MonthlyUsed(ctx, p.ID)
	if used != 1 {
		t.Errorf("MonthlyUsed() = %d, want 1", used)
	}
}

func TestRedisCounterStore_Unavailable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	breaker := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Minute})
	s := NewRedisCounterStoreFromClient(client, "", breaker)
	defer s.Close()
	g := NewGuard(s)

	for i := 0; i < 3; i++ {
		_, err := g.Check(context.Background(), principal(10, 10))
		if !errors.Is(err, ErrCounterUnavailable) {
			t.Fatalf("Check() error = %v, want ErrCounterUnavailable", err)
		}
	}
	if s.BreakerState() != resilience.StateOpen {
		t.Errorf("breaker state = %v, want open", s.BreakerState())
	}
}

func TestRedisCounterStore_Consume(t *testing.T) {
	addr := os.Getenv("CACHEGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CACHEGATE_TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	s := NewRedisCounterStoreFromClient(client, fmt.Sprintf("cachegate:test:%d:", time.Now().UnixNano()), nil)
	defer s.Close()

	c := &clock{t: time.Now()}
	g := NewGuard(s, WithClock(c.now))
	ctx := context.Background()
	p := principal(2, 0)

	for i := 0; i < 2; i++ {
		if _, err := g.Check(ctx, p); err != nil {
			t.Fatalf("Check #%d error = %v", i+1, err)
		}
	}
	if _, err := g.Check(ctx, p); !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Check #3 error = %v, want ErrQuotaExceeded", err)
	}
	u, err := g.Usage(ctx, p)
	if err != nil || u.MonthlyUsed != 2 {
		t.Errorf("Usage() = %+v, %v", u, err)
	}
}
