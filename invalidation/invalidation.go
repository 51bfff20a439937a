package invalidation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/cache"
	"github.com/jonwraymond/cachegate/observe"
	"github.com/jonwraymond/cachegate/resilience"
)

// DefaultCostPerEntry is the assumed upstream cost, in USD, of recomputing
// one invalidated entry.
const DefaultCostPerEntry = 0.002

// SystemActor is recorded in the audit log for calls without a principal.
const SystemActor = "system"

// ErrInvalidCriteria marks a request that can never succeed as written.
var ErrInvalidCriteria = errors.New("invalidation: invalid criteria")

// Criteria selects the entries to invalidate. Set fields combine with AND.
type Criteria struct {
	Namespace string
	Pattern   string

	// OlderThan selects entries cached more than this long ago.
	OlderThan time.Duration

	SourceURL string

	// Reason is free text for the audit log.
	Reason string
}

// IsEmpty reports whether no selection criterion is set.
func (c Criteria) IsEmpty() bool {
	return c.Namespace == "" && c.Pattern == "" && c.OlderThan == 0 && c.SourceURL == ""
}

// Result reports the impact of one invalidation.
type Result struct {
	ID                  string   `json:"id"`
	Invalidated         int      `json:"invalidated"`
	Namespaces          []string `json:"namespaces"`
	EstimatedCostImpact float64  `json:"estimatedCostImpact"`
}

// Invalidator is implemented by Engine.
type Invalidator interface {
	Invalidate(ctx context.Context, p *auth.Principal, c Criteria) (Result, error)
}

// Engine applies invalidations to a store.
//
// Contract:
// - Concurrency: safe for concurrent use; concurrent invalidations are capped by a bulkhead.
// - Idempotent: entries already gone count as zero.
// - Errors: validation errors wrap ErrInvalidCriteria, denied namespaces wrap auth.ErrForbidden.
type Engine struct {
	store        cache.Store
	authorizer   auth.Authorizer
	bulkhead     *resilience.Bulkhead
	costPerEntry float64
	now          func() time.Time
	logger       observe.Logger
	metrics      observe.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithCostPerEntry sets the average upstream cost used for the estimate.
func WithCostPerEntry(usd float64) Option { return func(e *Engine) { e.costPerEntry = usd } }

// WithAuthorizer replaces the namespace authorizer.
func WithAuthorizer(a auth.Authorizer) Option { return func(e *Engine) { e.authorizer = a } }

// WithBulkhead caps concurrent invalidations.
func WithBulkhead(b *resilience.Bulkhead) Option { return func(e *Engine) { e.bulkhead = b } }

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLogger sets the audit logger.
func WithLogger(l observe.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithMetrics sets the metrics recorder.
func WithMetrics(m observe.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New creates an invalidation engine.
func New(store cache.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        store,
		authorizer:   auth.NamespaceAuthorizer{},
		bulkhead:     resilience.NewBulkhead(resilience.BulkheadConfig{MaxConcurrent: 4, MaxWait: 30 * time.Second}),
		costPerEntry: DefaultCostPerEntry,
		now:          time.Now,
		logger:       observe.NopLogger(),
		metrics:      observe.NoopMetrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Invalidate deletes every entry matching c and returns when the deletes
// have been applied. A nil principal is a system call with no namespace
// scope.
func (e *Engine) Invalidate(ctx context.Context, p *auth.Principal, c Criteria) (Result, error) {
	res := Result{ID: uuid.NewString(), Namespaces: []string{}}

	criteria, err := e.compile(ctx, p, c)
	if err == nil {
		err = e.bulkhead.Execute(ctx, func(ctx context.Context) error {
			dr, err := e.store.DeleteWhere(ctx, criteria)
			res.Invalidated = dr.Count
			if dr.Namespaces != nil {
				res.Namespaces = dr.Namespaces
			}
			return err
		})
	}
	res.EstimatedCostImpact = float64(res.Invalidated) * e.costPerEntry

	e.audit(ctx, p, c, res, err)
	if res.Invalidated > 0 {
		e.metrics.RecordInvalidation(ctx, metricNamespace(res.Namespaces), res.Invalidated)
	}
	if err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) compile(ctx context.Context, p *auth.Principal, c Criteria) (cache.Criteria, error) {
	if c.IsEmpty() {
		return cache.Criteria{}, fmt.Errorf("%w: %w", ErrInvalidCriteria, cache.ErrEmptyCriteria)
	}
	if c.OlderThan < 0 {
		return cache.Criteria{}, fmt.Errorf("%w: olderThan must be positive", ErrInvalidCriteria)
	}

	out := cache.Criteria{
		Namespace: c.Namespace,
		Pattern:   c.Pattern,
		SourceURL: c.SourceURL,
	}
	if c.OlderThan > 0 {
		out.CachedBefore = e.now().Add(-c.OlderThan)
	}

	if p != nil {
		if c.Namespace != "" && !cache.IsWildcard(c.Namespace) {
			err := e.authorizer.Authorize(ctx, &auth.AuthzRequest{
				Subject:   p,
				Namespace: c.Namespace,
				Action:    auth.ActionInvalidate,
			})
			if err != nil {
				return cache.Criteria{}, err
			}
		}
		out.Scope = p.Namespaces
		if len(out.Scope) == 0 {
			out.Scope = []string{p.DefaultNamespace()}
		}
	}

	if _, err := out.Compile(); err != nil {
		return cache.Criteria{}, fmt.Errorf("%w: %w", ErrInvalidCriteria, err)
	}
	return out, nil
}

func (e *Engine) audit(ctx context.Context, p *auth.Principal, c Criteria, res Result, err error) {
	actor, kind := SystemActor, ""
	if p != nil {
		actor, kind = p.ID, string(p.CredentialKind)
	}
	fields := []observe.Field{
		observe.F("invalidation_id", res.ID),
		observe.F("principal", actor),
		observe.F("namespace", c.Namespace),
		observe.F("pattern", c.Pattern),
		observe.F("source_url", c.SourceURL),
		observe.F("older_than", c.OlderThan),
		observe.F("reason", c.Reason),
		observe.F("invalidated", res.Invalidated),
		observe.F("namespaces", res.Namespaces),
	}
	if kind != "" {
		fields = append(fields, observe.F("credential_kind", kind))
	}
	if err != nil {
		fields = append(fields, observe.F("outcome", "error"), observe.F("error", err))
	} else {
		fields = append(fields, observe.F("outcome", "ok"))
	}
	observe.Audit(ctx, e.logger, "cache.invalidate", fields...)
}

func metricNamespace(namespaces []string) string {
	if len(namespaces) == 1 {
		return namespaces[0]
	}
	return "*"
}

var _ Invalidator = (*Engine)(nil)
