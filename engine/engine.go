package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/cachegate/cache"
	"github.com/jonwraymond/cachegate/freshness"
	"github.com/jonwraymond/cachegate/observe"
)

// DefaultRefreshTimeout bounds one background refresh.
const DefaultRefreshTimeout = 30 * time.Second

// ErrEmptyPayload is returned by Set when there is nothing to cache.
var ErrEmptyPayload = errors.New("engine: payload is empty")

// Lookup is the outcome of a read.
type Lookup struct {
	Fingerprint string
	Namespace   string

	// Entry is set whenever the store had one, including expired entries.
	Entry *cache.Entry

	// Status is meaningful only when Found is true.
	Status freshness.Status
	Found  bool

	// Rule is the freshness rule that governed classification.
	Rule freshness.Rule

	// Fetched is set by GetOrFetch when the payload came from the origin.
	Fetched bool
}

// Hit reports whether the lookup may return a payload.
func (l *Lookup) Hit() bool {
	return l.Found && l.Status.Servable()
}

// RefreshSuggested reports a stale hit whose rule asks for refresh.
func (l *Lookup) RefreshSuggested() bool {
	return l.Found && l.Status == freshness.Stale && l.Rule.AutoRefresh
}

// Age is how long ago the entry was cached.
func (l *Lookup) Age(now time.Time) time.Duration {
	if l.Entry == nil {
		return 0
	}
	return now.Sub(l.Entry.CachedAt)
}

// SetRequest is a write.
type SetRequest struct {
	Descriptor cache.Descriptor
	Payload    []byte

	// TTL overrides the policy when positive.
	TTL time.Duration

	// Class selects a content-class TTL default.
	Class string

	SourceURL   string
	ContentHash string
}

// FetchFunc loads a payload from the origin.
type FetchFunc func(ctx context.Context) ([]byte, error)

// FetchOptions describe how GetOrFetch stores a fetched payload.
type FetchOptions struct {
	TTL       time.Duration
	Class     string
	SourceURL string
}

// Engine serves cache reads and writes.
//
// Contract:
// - Concurrency: safe for concurrent use.
// - Validation errors wrap cache.ErrInvalidDescriptor and happen before any store access.
// - Store failures wrap cache.ErrStoreUnavailable.
type Engine struct {
	store          cache.Store
	fingerprinter  cache.Fingerprinter
	rules          *freshness.RuleSet
	policy         cache.Policy
	now            func() time.Time
	mw             *observe.Middleware
	refreshTimeout time.Duration

	group     singleflight.Group
	refreshes sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithRules sets the freshness rules.
func WithRules(rs *freshness.RuleSet) Option { return func(e *Engine) { e.rules = rs } }

// WithPolicy sets the TTL policy.
func WithPolicy(p cache.Policy) Option { return func(e *Engine) { e.policy = p } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithMiddleware sets the observability middleware.
func WithMiddleware(mw *observe.Middleware) Option { return func(e *Engine) { e.mw = mw } }

// WithFingerprinter replaces the default fingerprinter.
func WithFingerprinter(f cache.Fingerprinter) Option { return func(e *Engine) { e.fingerprinter = f } }

// WithRefreshTimeout bounds background refreshes.
func WithRefreshTimeout(d time.Duration) Option { return func(e *Engine) { e.refreshTimeout = d } }

// New creates an engine over store.
func New(store cache.Store, opts ...Option) *Engine {
	e := &Engine{
		store:          store,
		fingerprinter:  cache.NewFingerprinter(),
		policy:         cache.DefaultPolicy(),
		now:            time.Now,
		mw:             observe.NopMiddleware(),
		refreshTimeout: DefaultRefreshTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying store.
func (e *Engine) Store() cache.Store { return e.store }

// Fingerprint validates d and returns its fingerprint.
func (e *Engine) Fingerprint(d cache.Descriptor) (string, error) {
	return e.fingerprinter.Fingerprint(d)
}

// Get looks up d. A miss is not an error: check Lookup.Hit. Successful reads
// update access metadata.
func (e *Engine) Get(ctx context.Context, d cache.Descriptor) (*Lookup, error) {
	fp, err := e.fingerprinter.Fingerprint(d)
	if err != nil {
		return nil, err
	}

	var lookup *Lookup
	err = e.mw.Wrap(ctx, observe.OpMeta{Operation: "lookup", Namespace: d.Namespace}, func(ctx context.Context) error {
		var err error
		lookup, err = e.lookup(ctx, fp, d.Namespace)
		return err
	})
	if err != nil {
		return nil, err
	}
	return lookup, nil
}

func (e *Engine) lookup(ctx context.Context, fp, namespace string) (*Lookup, error) {
	l := &Lookup{Fingerprint: fp, Namespace: namespace}
	entry, err := e.store.Get(ctx, fp)
	if errors.Is(err, cache.ErrNotFound) {
		e.mw.Metrics().RecordLookup(ctx, namespace, "miss")
		return l, nil
	}
	if err != nil {
		return nil, err
	}

	now := e.now()
	l.Entry = entry
	l.Found = true
	l.Rule = e.rules.For(entry)
	l.Status = freshness.Classify(entry, l.Rule, now)
	e.mw.Metrics().RecordLookup(ctx, namespace, l.Status.String())

	if l.Status.Servable() {
		if err := e.store.Touch(ctx, fp, now); err != nil {
			e.mw.Logger().Warn(ctx, "touch failed", observe.F("fingerprint", fp), observe.F("error", err))
		} else {
			entry.AccessCount++
			entry.LastAccessedAt = now
		}
	}
	return l, nil
}

// Set stores a payload for req.Descriptor and returns the written entry.
func (e *Engine) Set(ctx context.Context, req SetRequest) (*cache.Entry, error) {
	fp, err := e.fingerprinter.Fingerprint(req.Descriptor)
	if err != nil {
		return nil, err
	}
	if len(req.Payload) == 0 {
		return nil, fmt.Errorf("%w: %w", cache.ErrInvalidDescriptor, ErrEmptyPayload)
	}
	if req.TTL < 0 {
		return nil, cache.ErrInvalidTTL
	}

	entry := e.newEntry(fp, req.Descriptor, req.Payload, FetchOptions{TTL: req.TTL, Class: req.Class, SourceURL: req.SourceURL})
	entry.ContentHash = req.ContentHash

	err = e.mw.Wrap(ctx, observe.OpMeta{Operation: "store", Namespace: entry.Namespace}, func(ctx context.Context) error {
		return e.store.Set(ctx, entry)
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

func (e *Engine) newEntry(fp string, d cache.Descriptor, payload []byte, opts FetchOptions) *cache.Entry {
	return &cache.Entry{
		Fingerprint: fp,
		Namespace:   d.Namespace,
		Provider:    normalizeID(d.Provider),
		Model:       normalizeID(d.Model),
		Payload:     payload,
		CachedAt:    e.now(),
		TTL:         e.policy.EffectiveTTL(opts.TTL, d.Namespace, opts.Class),
		SourceURL:   opts.SourceURL,
	}
}

// GetOrFetch serves a fresh hit directly. A stale hit is served as-is and,
// when its rule sets AutoRefresh, refreshed in the background once per
// fingerprint. On a miss or expired entry fetch runs (deduplicated across
// concurrent callers) and its payload is stored. Fetch errors are returned
// and never cached.
func (e *Engine) GetOrFetch(ctx context.Context, d cache.Descriptor, opts FetchOptions, fetch FetchFunc) (*Lookup, error) {
	l, err := e.Get(ctx, d)
	if err != nil {
		return nil, err
	}
	if l.Hit() {
		if l.RefreshSuggested() {
			e.refreshAsync(ctx, l.Fingerprint, d, opts, fetch)
		}
		return l, nil
	}

	v, err, _ := e.group.Do(l.Fingerprint, func() (any, error) {
		return e.fetchAndStore(ctx, l.Fingerprint, d, opts, fetch)
	})
	if err != nil {
		return nil, err
	}
	entry := v.(*cache.Entry)
	return &Lookup{
		Fingerprint: l.Fingerprint,
		Namespace:   d.Namespace,
		Entry:       entry,
		Status:      freshness.Fresh,
		Found:       true,
		Rule:        e.rules.For(entry),
		Fetched:     true,
	}, nil
}

func (e *Engine) fetchAndStore(ctx context.Context, fp string, d cache.Descriptor, opts FetchOptions, fetch FetchFunc) (*cache.Entry, error) {
	var entry *cache.Entry
	err := e.mw.Wrap(ctx, observe.OpMeta{Operation: "fetch", Namespace: d.Namespace}, func(ctx context.Context) error {
		payload, err := fetch(ctx)
		if err != nil {
			return err
		}
		if len(payload) == 0 {
			return ErrEmptyPayload
		}
		entry = e.newEntry(fp, d, payload, opts)
		return e.store.Set(ctx, entry)
	})
	return entry, err
}

// refreshAsync starts a detached refresh unless one is already running for
// fp. The caller's cancellation does not stop it; refreshTimeout does.
func (e *Engine) refreshAsync(ctx context.Context, fp string, d cache.Descriptor, opts FetchOptions, fetch FetchFunc) {
	e.refreshes.Add(1)
	ch := e.group.DoChan("refresh:"+fp, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.refreshTimeout)
		defer cancel()
		return e.fetchAndStore(rctx, fp, d, opts, fetch)
	})
	go func() {
		defer e.refreshes.Done()
		if res := <-ch; res.Err != nil {
			e.mw.Logger().Warn(ctx, "background refresh failed",
				observe.F("fingerprint", fp),
				observe.F("namespace", d.Namespace),
				observe.F("error", res.Err),
			)
		}
	}()
}

// Wait blocks until in-flight background refreshes finish.
func (e *Engine) Wait() {
	e.refreshes.Wait()
}
