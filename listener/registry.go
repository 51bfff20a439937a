package listener

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonwraymond/cachegate/auth"
	"github.com/jonwraymond/cachegate/cache"
	"github.com/jonwraymond/cachegate/observe"
	"github.com/jonwraymond/cachegate/plan"
	"github.com/jonwraymond/cachegate/resilience"
	"github.com/jonwraymond/cachegate/webhook"
)

// DefaultCheckTimeout bounds one fetch and hash.
const DefaultCheckTimeout = 20 * time.Second

// RegisterRequest describes a new listener.
type RegisterRequest struct {
	URL string

	// CheckInterval defaults to the plan minimum when zero.
	CheckInterval time.Duration

	// Namespace defaults to the principal's default namespace.
	Namespace string

	InvalidateOnChange bool
	WebhookURL         string
}

// Registry manages listeners on behalf of principals. Listeners owned by
// another principal are reported as ErrNotFound.
type Registry struct {
	store        Store
	catalog      *plan.Catalog
	fetcher      Fetcher
	authorizer   auth.Authorizer
	checkTimeout time.Duration
	now          func() time.Time
	logger       observe.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryClock replaces time.Now.
func WithRegistryClock(now func() time.Time) RegistryOption {
	return func(r *Registry) { r.now = now }
}

// WithRegistryLogger sets the logger.
func WithRegistryLogger(l observe.Logger) RegistryOption {
	return func(r *Registry) { r.logger = l }
}

// WithInitialCheckTimeout bounds the fetch made at registration.
func WithInitialCheckTimeout(d time.Duration) RegistryOption {
	return func(r *Registry) { r.checkTimeout = d }
}

// NewRegistry creates a registry.
func NewRegistry(store Store, catalog *plan.Catalog, fetcher Fetcher, opts ...RegistryOption) *Registry {
	r := &Registry{
		store:        store,
		catalog:      catalog,
		fetcher:      fetcher,
		authorizer:   auth.NamespaceAuthorizer{},
		checkTimeout: DefaultCheckTimeout,
		now:          time.Now,
		logger:       observe.NopLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register validates req against the principal's plan, takes the initial
// content hash and stores the listener. A failed initial fetch does not
// reject the registration: the listener starts with an empty hash and one
// recorded failure, and its first successful check sets the baseline.
func (r *Registry) Register(ctx context.Context, p *auth.Principal, req RegisterRequest) (*Listener, error) {
	if p == nil {
		return nil, auth.ErrUnauthenticated
	}
	if err := ValidateURL(req.URL); err != nil {
		return nil, fmt.Errorf("%w: %q", err, req.URL)
	}
	if req.WebhookURL != "" {
		if err := webhook.ValidateTarget(req.WebhookURL); err != nil {
			return nil, fmt.Errorf("%w: webhook: %w", ErrInvalidURL, err)
		}
	}

	ns := req.Namespace
	if ns == "" {
		ns = p.DefaultNamespace()
	}
	if err := cache.ValidateNamespace(ns); err != nil {
		return nil, err
	}
	if err := r.authorizer.Authorize(ctx, &auth.AuthzRequest{Subject: p, Namespace: ns, Action: auth.ActionListen}); err != nil {
		return nil, err
	}

	tier, err := r.catalog.Tier(p.PlanTier)
	if err != nil {
		return nil, err
	}
	interval := req.CheckInterval
	if interval == 0 {
		interval = tier.MinCheckInterval
	}
	if interval < tier.MinCheckInterval {
		return nil, fmt.Errorf("%w: %s plan requires at least %s, got %s",
			ErrIntervalTooShort, tier.Name, tier.MinCheckInterval, interval)
	}

	if tier.MaxListeners > 0 {
		n, err := r.store.CountByOwner(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if n >= tier.MaxListeners {
			return nil, fmt.Errorf("%w: %s plan allows %d", ErrLimitReached, tier.Name, tier.MaxListeners)
		}
	}

	now := r.now()
	l := &Listener{
		ID:                 "lst_" + uuid.NewString(),
		Owner:              p.ID,
		URL:                req.URL,
		Namespace:          ns,
		CheckInterval:      interval,
		InvalidateOnChange: req.InvalidateOnChange,
		WebhookURL:         req.WebhookURL,
		State:              StateActive,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	hash, err := r.hash(ctx, req.URL)
	if err != nil {
		l.recordFailure(now, err)
		r.logger.Warn(ctx, "initial listener fetch failed",
			observe.F("listener_id", l.ID), observe.F("url", l.URL), observe.F("error", err))
	} else {
		l.InitialHash, l.LastHash = hash, hash
		l.recordSuccess(now)
	}

	if err := r.store.Create(ctx, l); err != nil {
		return nil, err
	}
	observe.Audit(ctx, r.logger, "listener.register",
		observe.F("principal", p.ID),
		observe.F("listener_id", l.ID),
		observe.F("url", l.URL),
		observe.F("namespace", ns),
		observe.F("check_interval", interval),
	)
	return l, nil
}

func (r *Registry) hash(ctx context.Context, url string) (string, error) {
	var hash string
	err := resilience.ExecuteWithTimeout(ctx, r.checkTimeout, func(ctx context.Context) error {
		page, err := r.fetcher.Fetch(ctx, url)
		if err != nil {
			return err
		}
		hash = SemanticHash(page.Body, page.ContentType)
		return nil
	})
	return hash, err
}

// List returns the principal's listeners.
func (r *Registry) List(ctx context.Context, p *auth.Principal) ([]*Listener, error) {
	if p == nil {
		return nil, auth.ErrUnauthenticated
	}
	out, err := r.store.ListByOwner(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*Listener{}
	}
	return out, nil
}

// Get returns one of the principal's listeners.
func (r *Registry) Get(ctx context.Context, p *auth.Principal, id string) (*Listener, error) {
	if p == nil {
		return nil, auth.ErrUnauthenticated
	}
	l, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.Owner != p.ID {
		return nil, ErrNotFound
	}
	return l, nil
}

// Delete removes one of the principal's listeners and returns it in the
// deleted state.
func (r *Registry) Delete(ctx context.Context, p *auth.Principal, id string) (*Listener, error) {
	l, err := r.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return nil, err
	}
	l.State = StateDeleted
	l.UpdatedAt = r.now()
	observe.Audit(ctx, r.logger, "listener.delete", observe.F("principal", p.ID), observe.F("listener_id", id))
	return l, nil
}

// Enable moves a paused listener back to active, clears its failure streak
// and makes it due on the next sweep. Enabling an active listener is a
// no-op.
func (r *Registry) Enable(ctx context.Context, p *auth.Principal, id string) (*Listener, error) {
	l, err := r.Get(ctx, p, id)
	if err != nil {
		return nil, err
	}
	if l.State == StateActive {
		return l, nil
	}
	now := r.now()
	l.State = StateActive
	l.PausedReason = ""
	l.ConsecutiveFailures = 0
	l.FailingSince = time.Time{}
	l.LastError = ""
	l.LastCheckedAt = time.Time{}
	l.UpdatedAt = now
	if err := r.store.Update(ctx, l); err != nil {
		return nil, err
	}
	observe.Audit(ctx, r.logger, "listener.enable", observe.F("principal", p.ID), observe.F("listener_id", id))
	return l, nil
}
