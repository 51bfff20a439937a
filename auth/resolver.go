package auth

import (
	"context"
	"fmt"

	"github.com/jonwraymond/cachegate/observe"
	"github.com/jonwraymond/cachegate/plan"
)

// UsageReader reports how much of its monthly quota a principal has used.
type UsageReader interface {
	MonthlyUsed(ctx context.Context, principalID string) (int64, error)
}

// Resolver turns a request into a Principal. It parses the credential once,
// dispatches it to the authenticator that supports its kind, and applies
// the account's plan limits.
type Resolver struct {
	authenticators []Authenticator
	catalog        *plan.Catalog
	usage          UsageReader
	logger         observe.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithUsage fills Principal.MonthlyUsed from u.
func WithUsage(u UsageReader) ResolverOption {
	return func(r *Resolver) { r.usage = u }
}

// WithLogger sets the audit logger.
func WithLogger(l observe.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// NewResolver creates a resolver over the given authenticators.
func NewResolver(catalog *plan.Catalog, auths []Authenticator, opts ...ResolverOption) *Resolver {
	if catalog == nil {
		catalog = plan.DefaultCatalog()
	}
	r := &Resolver{authenticators: auths, catalog: catalog, logger: observe.NopLogger()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve authenticates req. Authentication failures are returned as
// *AuthError; any other error is internal.
func (r *Resolver) Resolve(ctx context.Context, req *AuthRequest) (*Principal, error) {
	cred, err := ParseCredential(req)
	if err != nil {
		return nil, r.fail(ctx, "", err)
	}

	var result *AuthResult
	for _, a := range r.authenticators {
		if !a.Supports(cred) {
			continue
		}
		result, err = a.Authenticate(ctx, req, cred)
		if err != nil {
			return nil, fmt.Errorf("auth: %s: %w", a.Name(), err)
		}
		break
	}
	if result == nil {
		return nil, r.fail(ctx, cred.Kind(), fmt.Errorf("%w: scheme not enabled", ErrInvalidCredentials))
	}
	if !result.Authenticated {
		return nil, r.fail(ctx, cred.Kind(), result.Error)
	}

	tier, err := r.catalog.Tier(result.Account.PlanTier)
	if err != nil {
		return nil, fmt.Errorf("auth: account %s: %w", result.Account.ID, err)
	}
	p := &Principal{
		ID:                 result.Account.ID,
		CredentialKind:     cred.Kind(),
		PlanTier:           tier.Name,
		MonthlyQuota:       tier.MonthlyQuota,
		RateLimitPerMinute: tier.RateLimitPerMinute,
		Trial:              result.Trial,
		Namespaces:         result.Account.Namespaces,
	}
	if p.Trial {
		p.RateLimitPerMinute = 0
	}
	if r.usage != nil {
		used, err := r.usage.MonthlyUsed(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		p.MonthlyUsed = used
	}

	observe.Audit(ctx, r.logger, "authenticate",
		observe.F("outcome", "success"),
		observe.F("principal", p.ID),
		observe.F("credential_kind", string(p.CredentialKind)),
		observe.F("plan", p.PlanTier),
	)
	return p, nil
}

func (r *Resolver) fail(ctx context.Context, kind CredentialKind, cause error) error {
	if cause == nil {
		cause = ErrInvalidCredentials
	}
	observe.Audit(ctx, r.logger, "authenticate",
		observe.F("outcome", "failure"),
		observe.F("credential_kind", string(kind)),
		observe.F("reason", cause.Error()),
	)
	return &AuthError{Kind: kind, Cause: cause}
}
