package secret

import (
	"context"
	"fmt"
	"strings"
)

const refPrefix = "secretref:"

// Resolver resolves configured values through providers.
type Resolver struct {
	providers map[string]Provider
	lookup    LookupFunc
}

// NewResolver creates a resolver. The env provider is always available.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: map[string]Provider{}}
	r.Register(NewEnvProvider(""))
	for _, p := range providers {
		r.Register(p)
	}
	return r
}

// Register adds or replaces a provider.
func (r *Resolver) Register(p Provider) {
	if p != nil {
		r.providers[p.Name()] = p
	}
}

// Resolve expands ${VAR} references in value, then resolves it through a
// provider when the result is a secretref. Empty input stays empty; a
// reference that resolves to an empty string is an error.
func (r *Resolver) Resolve(ctx context.Context, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	expanded, err := r.expand(value)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(expanded, refPrefix) {
		return expanded, nil
	}

	name, ref, ok := ParseSecretRef(expanded)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, expanded)
	}
	p, ok := r.providers[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, name)
	}
	v, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	if v == "" {
		return "", fmt.Errorf("%w: %s:%s", ErrEmpty, name, ref)
	}
	return v, nil
}

// ResolveAll resolves each target in place. The first failure names the
// field it came from.
func (r *Resolver) ResolveAll(ctx context.Context, targets map[string]*string) error {
	for field, ptr := range targets {
		if ptr == nil {
			continue
		}
		v, err := r.Resolve(ctx, *ptr)
		if err != nil {
			return fmt.Errorf("%s: %w", field, err)
		}
		*ptr = v
	}
	return nil
}

func (r *Resolver) expand(value string) (string, error) {
	if r.lookup != nil {
		return ExpandEnvWith(value, r.lookup)
	}
	return ExpandEnv(value)
}

// ParseSecretRef splits secretref:<provider>:<ref>.
func ParseSecretRef(value string) (provider, ref string, ok bool) {
	rest, found := strings.CutPrefix(value, refPrefix)
	if !found {
		return "", "", false
	}
	provider, ref, found = strings.Cut(rest, ":")
	if !found || provider == "" || ref == "" {
		return "", "", false
	}
	return provider, ref, true
}
