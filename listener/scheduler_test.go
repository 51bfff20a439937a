package listener

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jonwraymond/cachegate/plan"
)

type schedulerHarness struct {
	store    *MemoryStore
	fetcher  *fakeFetcher
	inv      *recordingInvalidator
	notifier *recordingNotifier
	clock    *testClock
	registry *Registry
	sched    *Scheduler
}

func newHarness(t *testing.T, cfg SchedulerConfig) *schedulerHarness {
	t.Helper()
	h := &schedulerHarness{
		store:    NewMemoryStore(),
		fetcher:  newFakeFetcher(),
		inv:      &recordingInvalidator{n: 4},
		notifier: &recordingNotifier{},
		clock:    &testClock{now: t0},
	}
	h.registry = NewRegistry(h.store, plan.DefaultCatalog(), h.fetcher, WithRegistryClock(h.clock.Now))
	h.sched = NewScheduler(h.store, h.fetcher, h.inv, cfg,
		WithNotifier(h.notifier),
		WithSchedulerClock(h.clock.Now),
	)
	return h
}

func (h *schedulerHarness) register(t *testing.T, req RegisterRequest) *Listener {
	t.Helper()
	l, err := h.registry.Register(context.Background(), principal("acct_1", plan.Pro), req)
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return l
}

func (h *schedulerHarness) runOnce(t *testing.T) Report {
	t.Helper()
	r, err := h.sched.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	return r
}

func (h *schedulerHarness) get(t *testing.T, id string) *Listener {
	t.Helper()
	l, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	return l
}

func TestScheduler_ChangeTriggersInvalidation(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.fetcher.set(pricingURL, "<p>Pro plan: $20/month</p>")
	l := h.register(t, RegisterRequest{
		URL:                pricingURL,
		CheckInterval:      900 * time.Second,
		InvalidateOnChange: true,
		WebhookURL:         "https://hooks.example.com/cache",
	})
	h1 := l.LastHash

	h.fetcher.set(pricingURL, "<p>Pro plan: $25/month</p>")
	h.clock.Advance(900 * time.Second)

	report := h.runOnce(t)
	if report.Checked != 1 || report.Changed != 1 {
		t.Fatalf("RunOnce() = %+v, want one change", report)
	}

	got := h.get(t, l.ID)
	if got.LastHash == h1 || got.LastHash == "" {
		t.Errorf("LastHash = %q, want new hash", got.LastHash)
	}
	if got.InitialHash != h1 {
		t.Errorf("InitialHash changed to %q", got.InitialHash)
	}
	if !got.LastChangedAt.Equal(h.clock.Now()) {
		t.Errorf("LastChangedAt = %v", got.LastChangedAt)
	}

	if len(h.inv.calls) != 1 {
		t.Fatalf("invalidations = %d, want 1", len(h.inv.calls))
	}
	c := h.inv.calls[0]
	if c.SourceURL != pricingURL || c.Namespace != "acme" {
		t.Errorf("invalidation criteria = %+v", c)
	}

	if len(h.notifier.sent) != 1 {
		t.Fatalf("webhooks = %d, want 1", len(h.notifier.sent))
	}
	n := h.notifier.sent[0]
	if h.notifier.targets[0] != "https://hooks.example.com/cache" || n.PreviousHash != h1 || n.CurrentHash != got.LastHash || n.Invalidated != 4 {
		t.Errorf("webhook = %+v", n)
	}
}

func TestScheduler_UnchangedAndNotDue(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.fetcher.set(pricingURL, "<p>stable</p>")
	l := h.register(t, RegisterRequest{URL: pricingURL, InvalidateOnChange: true})

	h.clock.Advance(5 * time.Minute)
	if r := h.runOnce(t); r.Checked != 0 {
		t.Errorf("RunOnce() before interval = %+v, want nothing checked", r)
	}
	if n := h.fetcher.count(pricingURL); n != 1 {
		t.Errorf("fetches = %d, want only the registration fetch", n)
	}

	h.clock.Advance(10 * time.Minute)
	if r := h.runOnce(t); r.Checked != 1 || r.Unchanged != 1 {
		t.Errorf("RunOnce() = %+v, want one unchanged", r)
	}
	if len(h.inv.calls) != 0 {
		t.Error("unchanged content triggered invalidation")
	}
	if got := h.get(t, l.ID); !got.LastCheckedAt.Equal(h.clock.Now()) {
		t.Errorf("LastCheckedAt = %v, want %v", got.LastCheckedAt, h.clock.Now())
	}
}

func TestScheduler_InvalidateOnChangeDisabled(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.fetcher.set(pricingURL, "<p>a</p>")
	h.register(t, RegisterRequest{URL: pricingURL, InvalidateOnChange: false})

	h.fetcher.set(pricingURL, "<p>b</p>")
	h.clock.Advance(time.Hour)
	if r := h.runOnce(t); r.Changed != 1 {
		t.Errorf("RunOnce() = %+v, want one change", r)
	}
	if len(h.inv.calls) != 0 {
		t.Error("invalidation ran with invalidateOnChange off")
	}
}

func TestScheduler_BaselineAfterFailedRegistration(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.fetcher.fail(pricingURL, errors.New("connection refused"))
	l := h.register(t, RegisterRequest{URL: pricingURL, InvalidateOnChange: true})

	h.fetcher.set(pricingURL, "<p>now reachable</p>")
	h.clock.Advance(15 * time.Minute)
	if r := h.runOnce(t); r.Checked != 1 || r.Unchanged != 1 {
		t.Errorf("RunOnce() = %+v, want baseline", r)
	}
	got := h.get(t, l.ID)
	if got.InitialHash == "" || got.LastHash != got.InitialHash || got.ConsecutiveFailures != 0 {
		t.Errorf("after baseline = %+v", got)
	}
	if len(h.inv.calls) != 0 {
		t.Error("baseline triggered invalidation")
	}
}

func TestScheduler_PausesAfterFailureStreak(t *testing.T) {
	h := newHarness(t, SchedulerConfig{MaxConsecutiveFailures: 3})
	h.fetcher.set(pricingURL, "<p>a</p>")
	l := h.register(t, RegisterRequest{URL: pricingURL})
	h.fetcher.fail(pricingURL, &FetchError{URL: pricingURL, Status: 503})

	for i := 1; i <= 2; i++ {
		h.clock.Advance(15 * time.Minute)
		if r := h.runOnce(t); r.Failed != 1 || r.Paused != 0 {
			t.Fatalf("check %d: RunOnce() = %+v", i, r)
		}
	}
	h.clock.Advance(15 * time.Minute)
	if r := h.runOnce(t); r.Paused != 1 {
		t.Fatalf("RunOnce() = %+v, want paused", r)
	}

	got := h.get(t, l.ID)
	if got.State != StatePaused || got.ConsecutiveFailures != 3 || !strings.Contains(got.LastError, "503") {
		t.Errorf("paused listener = %+v", got)
	}
	if !got.FailingSince.Equal(t0.Add(15 * time.Minute)) {
		t.Errorf("FailingSince = %v", got.FailingSince)
	}

	h.clock.Advance(time.Hour)
	if r := h.runOnce(t); r.Checked != 0 {
		t.Errorf("paused listener was checked: %+v", r)
	}
	if _, err := h.store.Get(context.Background(), l.ID); err != nil {
		t.Errorf("paused listener removed: %v", err)
	}
}

func TestScheduler_PausesAfterFailureWindow(t *testing.T) {
	h := newHarness(t, SchedulerConfig{MaxConsecutiveFailures: 100, FailureWindow: 24 * time.Hour})
	h.fetcher.set(pricingURL, "<p>a</p>")
	l := h.register(t, RegisterRequest{URL: pricingURL, CheckInterval: 6 * time.Hour})
	h.fetcher.fail(pricingURL, errors.New("dns failure"))

	var paused bool
	for i := 0; i < 5 && !paused; i++ {
		h.clock.Advance(6 * time.Hour)
		paused = h.runOnce(t).Paused == 1
	}
	got := h.get(t, l.ID)
	if !paused || got.State != StatePaused {
		t.Fatalf("listener not paused after 24h of failures: %+v", got)
	}
	if got.ConsecutiveFailures != 5 {
		t.Errorf("ConsecutiveFailures = %d, want 5", got.ConsecutiveFailures)
	}
}

func TestScheduler_RecoveryResetsStreak(t *testing.T) {
	h := newHarness(t, SchedulerConfig{MaxConsecutiveFailures: 3})
	h.fetcher.set(pricingURL, "<p>a</p>")
	l := h.register(t, RegisterRequest{URL: pricingURL})

	h.fetcher.fail(pricingURL, errors.New("timeout"))
	h.clock.Advance(15 * time.Minute)
	h.runOnce(t)

	h.fetcher.set(pricingURL, "<p>a</p>")
	h.clock.Advance(15 * time.Minute)
	h.runOnce(t)

	got := h.get(t, l.ID)
	if got.ConsecutiveFailures != 0 || !got.FailingSince.IsZero() || got.LastError != "" {
		t.Errorf("after recovery = %+v", got)
	}
}

func TestScheduler_WebhookFailureIsNotCheckFailure(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.notifier.err = errors.New("hook down")
	h.fetcher.set(pricingURL, "<p>a</p>")
	l := h.register(t, RegisterRequest{URL: pricingURL, WebhookURL: "https://hooks.example.com/x"})

	h.fetcher.set(pricingURL, "<p>b</p>")
	h.clock.Advance(time.Hour)
	if r := h.runOnce(t); r.Changed != 1 || r.Failed != 0 {
		t.Errorf("RunOnce() = %+v", r)
	}
	if got := h.get(t, l.ID); got.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures = %d, want 0", got.ConsecutiveFailures)
	}
}

func TestScheduler_SlowOriginIsolated(t *testing.T) {
	h := newHarness(t, SchedulerConfig{CheckTimeout: 50 * time.Millisecond, Concurrency: 4})
	const slowURL = "https://slow.example.com/"
	h.fetcher.set(pricingURL, "<p>a</p>")
	h.fetcher.set(slowURL, "<p>a</p>")
	fast := h.register(t, RegisterRequest{URL: pricingURL})
	slow := h.register(t, RegisterRequest{URL: slowURL})

	h.fetcher.mu.Lock()
	h.fetcher.hang[slowURL] = true
	h.fetcher.mu.Unlock()
	h.fetcher.set(pricingURL, "<p>b</p>")
	h.clock.Advance(time.Hour)

	start := time.Now()
	r := h.runOnce(t)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("RunOnce() took %v", elapsed)
	}
	if r.Checked != 2 || r.Changed != 1 || r.Failed != 1 {
		t.Errorf("RunOnce() = %+v", r)
	}
	if got := h.get(t, slow.ID); got.ConsecutiveFailures != 1 {
		t.Errorf("slow ConsecutiveFailures = %d, want 1", got.ConsecutiveFailures)
	}
	if got := h.get(t, fast.ID); got.ConsecutiveFailures != 0 {
		t.Errorf("fast ConsecutiveFailures = %d, want 0", got.ConsecutiveFailures)
	}
}

func TestScheduler_DeletedDuringCheckStaysDeleted(t *testing.T) {
	h := newHarness(t, SchedulerConfig{})
	h.fetcher.set(pricingURL, "<p>a</p>")
	l := h.register(t, RegisterRequest{URL: pricingURL})

	due, _ := h.store.ListDue(context.Background(), h.clock.Now().Add(time.Hour), 0)
	_ = h.store.Delete(context.Background(), l.ID)
	h.sched.check(context.Background(), due[0])

	if _, err := h.store.Get(context.Background(), l.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	h := newHarness(t, SchedulerConfig{SweepInterval: time.Second})
	ctx := context.Background()
	if err := h.sched.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.sched.Start(ctx); err == nil {
		t.Error("second Start() succeeded")
	}

	deadline := time.Now().Add(5 * time.Second)
	for h.sched.LastSweep().IsZero() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if h.sched.LastSweep().IsZero() {
		t.Error("no sweep ran")
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := h.sched.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if err := h.sched.Stop(stopCtx); err != nil {
		t.Errorf("second Stop() error = %v", err)
	}
}
