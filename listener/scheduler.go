package listener

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/jonwraymond/cachegate/invalidation"
	"github.com/jonwraymond/cachegate/observe"
	"github.com/jonwraymond/cachegate/resilience"
	"github.com/jonwraymond/cachegate/webhook"
)

// Check results recorded in metrics and reports.
const (
	ResultUnchanged = "unchanged"
	ResultChanged   = "changed"
	ResultBaseline  = "baseline"
	ResultFailed    = "failed"
	ResultPaused    = "paused"
)

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// SweepInterval is how often due listeners are collected. Default: 1m.
	SweepInterval time.Duration

	// Concurrency caps simultaneous checks. Default: 8.
	Concurrency int

	// BatchSize caps listeners taken per sweep. Default: 500.
	BatchSize int

	// CheckTimeout bounds one fetch, hash and invalidate. Default: 20s.
	CheckTimeout time.Duration

	// MaxConsecutiveFailures pauses a listener after this many failures in a
	// row. Default: 10.
	MaxConsecutiveFailures int

	// FailureWindow pauses a listener that has failed continuously for this
	// long, whatever the count. Default: 24h.
	FailureWindow time.Duration

	// FetchRate limits origin fetches per second across all listeners.
	// Zero disables the limit.
	FetchRate float64
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 500
	}
	if c.CheckTimeout <= 0 {
		c.CheckTimeout = DefaultCheckTimeout
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 10
	}
	if c.FailureWindow <= 0 {
		c.FailureWindow = 24 * time.Hour
	}
	return c
}

// Report summarizes one sweep.
type Report struct {
	Checked   int `json:"checked"`
	Unchanged int `json:"unchanged"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
	Paused    int `json:"paused"`
}

func (r *Report) add(result string) {
	r.Checked++
	switch result {
	case ResultUnchanged, ResultBaseline:
		r.Unchanged++
	case ResultChanged:
		r.Changed++
	case ResultFailed:
		r.Failed++
	case ResultPaused:
		r.Failed++
		r.Paused++
	}
}

// Scheduler checks due listeners in the background.
//
// Contract:
// - A listener is checked by at most one worker at a time.
// - One listener's failure or slow origin never delays the others beyond the
// concurrency cap; each check runs under CheckTimeout.
// - Webhook delivery failures are logged and do not count as check failures.
type Scheduler struct {
	store       Store
	fetcher     Fetcher
	invalidator invalidation.Invalidator
	notifier    webhook.Notifier
	config      SchedulerConfig
	limiter     *resilience.RateLimiter
	now         func() time.Time
	logger      observe.Logger
	metrics     observe.Metrics

	mu        sync.Mutex
	inflight  map[string]struct{}
	lastSweep time.Time
	cron      *cron.Cron
	baseCtx   context.Context
	cancel    context.CancelFunc
	running   sync.WaitGroup
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithNotifier sets the webhook notifier.
func WithNotifier(n webhook.Notifier) SchedulerOption { return func(s *Scheduler) { s.notifier = n } }

// WithSchedulerClock replaces time.Now.
func WithSchedulerClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l observe.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// WithSchedulerMetrics sets the metrics recorder.
func WithSchedulerMetrics(m observe.Metrics) SchedulerOption {
	return func(s *Scheduler) { s.metrics = m }
}

// NewScheduler creates a scheduler. inv may be nil when no listener
// invalidates on change.
func NewScheduler(store Store, fetcher Fetcher, inv invalidation.Invalidator, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	cfg = cfg.withDefaults()
	s := &Scheduler{
		store:       store,
		fetcher:     fetcher,
		invalidator: inv,
		config:      cfg,
		now:         time.Now,
		logger:      observe.NopLogger(),
		metrics:     observe.NoopMetrics(),
		inflight:    make(map[string]struct{}),
	}
	if cfg.FetchRate > 0 {
		s.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			Rate:        cfg.FetchRate,
			Burst:       max(1, int(cfg.FetchRate)),
			WaitOnLimit: true,
			MaxWait:     cfg.CheckTimeout,
		})
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start schedules a sweep every SweepInterval until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("listener: scheduler already started")
	}

	s.baseCtx, s.cancel = context.WithCancel(ctx)
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	schedule := fmt.Sprintf("@every %s", s.config.SweepInterval)
	if _, err := c.AddFunc(schedule, s.sweep); err != nil {
		s.cancel()
		return fmt.Errorf("listener: schedule sweep: %w", err)
	}
	s.cron = c
	c.Start()
	s.logger.Info(ctx, "listener scheduler started",
		observe.F("sweep_interval", s.config.SweepInterval),
		observe.F("concurrency", s.config.Concurrency))
	return nil
}

func (s *Scheduler) sweep() {
	s.running.Add(1)
	defer s.running.Done()
	ctx := s.baseCtx
	if ctx.Err() != nil {
		return
	}
	report, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error(ctx, "listener sweep failed", observe.F("error", err))
		return
	}
	if report.Checked > 0 {
		s.logger.Info(ctx, "listener sweep complete",
			observe.F("checked", report.Checked),
			observe.F("changed", report.Changed),
			observe.F("failed", report.Failed),
			observe.F("paused", report.Paused))
	}
}

// Stop halts the trigger, cancels in-flight checks and waits for them,
// or for ctx, whichever comes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c, cancel := s.cron, s.cancel
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	stopped := c.Stop()
	cancel()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		s.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastSweep is when RunOnce last completed a sweep.
func (s *Scheduler) LastSweep() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSweep
}

// SweepInterval returns the configured sweep period.
func (s *Scheduler) SweepInterval() time.Duration {
	return s.config.SweepInterval
}

// RunOnce checks every listener due now and waits for the checks. It
// returns an error only when the due list cannot be read.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	now := s.now()
	due, err := s.store.ListDue(ctx, now, s.config.BatchSize)
	if err != nil {
		return Report{}, err
	}

	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Concurrency)
	for _, l := range due {
		if !s.claim(l.ID) {
			continue
		}
		g.Go(func() error {
			defer s.release(l.ID)
			result := s.check(gctx, l)
			mu.Lock()
			report.add(result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.mu.Lock()
	s.lastSweep = s.now()
	s.mu.Unlock()
	return report, nil
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

// check runs one listener and persists the outcome. Fetch, invalidation
// and webhook delivery share one CheckTimeout deadline.
func (s *Scheduler) check(ctx context.Context, l *Listener) string {
	ctx, cancel := context.WithTimeout(ctx, s.config.CheckTimeout)
	defer cancel()

	var page *Page
	err := resilience.ExecuteWithTimeout(ctx, s.config.CheckTimeout, func(ctx context.Context) error {
		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				return err
			}
		}
		p, err := s.fetcher.Fetch(ctx, l.URL)
		if err != nil {
			return err
		}
		page = p
		return nil
	})

	var result string
	now := s.now()
	if err != nil {
		result = s.fail(ctx, l, now, err)
	} else {
		result = s.succeed(ctx, l, now, SemanticHash(page.Body, page.ContentType))
	}

	// The outcome is recorded even when the deadline or shutdown hit.
	if err := s.store.Update(context.WithoutCancel(ctx), l); err != nil && !errors.Is(err, ErrNotFound) {
		s.logger.Error(ctx, "listener update failed", observe.F("listener_id", l.ID), observe.F("error", err))
	}
	s.metrics.RecordListenerCheck(ctx, result)
	return result
}

func (s *Scheduler) fail(ctx context.Context, l *Listener, now time.Time, err error) string {
	l.recordFailure(now, err)
	log := s.logger.With(observe.F("listener_id", l.ID), observe.F("url", l.URL))
	log.Warn(ctx, "listener check failed",
		observe.F("consecutive_failures", l.ConsecutiveFailures),
		observe.F("error", err))

	var reason string
	switch {
	case l.ConsecutiveFailures >= s.config.MaxConsecutiveFailures:
		reason = fmt.Sprintf("%d consecutive failures", l.ConsecutiveFailures)
	case now.Sub(l.FailingSince) >= s.config.FailureWindow:
		reason = fmt.Sprintf("failing since %s", l.FailingSince.UTC().Format(time.RFC3339))
	default:
		return ResultFailed
	}
	l.State = StatePaused
	l.PausedReason = reason
	observe.Audit(ctx, s.logger, "listener.pause",
		observe.F("principal", l.Owner),
		observe.F("listener_id", l.ID),
		observe.F("reason", reason),
		observe.F("last_error", l.LastError))
	return ResultPaused
}

func (s *Scheduler) succeed(ctx context.Context, l *Listener, now time.Time, hash string) string {
	previous := l.LastHash
	l.recordSuccess(now)
	if previous == "" {
		l.LastHash = hash
		if l.InitialHash == "" {
			l.InitialHash = hash
		}
		return ResultBaseline
	}
	if previous == hash {
		return ResultUnchanged
	}

	l.LastHash = hash
	l.LastChangedAt = now
	log := s.logger.With(observe.F("listener_id", l.ID), observe.F("url", l.URL))

	invalidated := 0
	if l.InvalidateOnChange && s.invalidator != nil {
		res, err := s.invalidator.Invalidate(ctx, nil, invalidation.Criteria{
			Namespace: l.Namespace,
			SourceURL: l.URL,
			Reason:    "listener " + l.ID + " detected change",
		})
		if err != nil {
			log.Error(ctx, "listener invalidation failed", observe.F("error", err))
		}
		invalidated = res.Invalidated
	}
	log.Info(ctx, "listener detected change", observe.F("invalidated", invalidated))

	if l.WebhookURL != "" && s.notifier != nil {
		n := webhook.Notification{
			ID:           uuid.NewString(),
			Event:        webhook.EventListenerChanged,
			ListenerID:   l.ID,
			URL:          l.URL,
			Namespace:    l.Namespace,
			PreviousHash: previous,
			CurrentHash:  hash,
			Invalidated:  invalidated,
			DetectedAt:   now,
		}
		if err := s.notifier.Notify(ctx, l.WebhookURL, n); err != nil {
			log.Warn(ctx, "listener webhook failed", observe.F("webhook_url", l.WebhookURL), observe.F("error", err))
		}
	}
	return ResultChanged
}
