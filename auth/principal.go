package auth

import (
	"github.com/jonwraymond/cachegate/cache"
)

// Principal is the authenticated identity with its plan limits. It is
// derived on every request and never persisted.
type Principal struct {
	ID             string
	CredentialKind CredentialKind
	PlanTier       string

	// MonthlyQuota and RateLimitPerMinute of zero mean unlimited.
	MonthlyQuota       int64
	MonthlyUsed        int64
	RateLimitPerMinute int64

	// Trial is set for demo keys, which carry no per-minute limit.
	Trial bool

	// Namespaces are the glob patterns this principal may read and write.
	Namespaces []string
}

// DefaultNamespace is the first literal namespace the principal owns, or
// its ID when every pattern is a wildcard.
func (p *Principal) DefaultNamespace() string {
	for _, ns := range p.Namespaces {
		if !cache.IsWildcard(ns) {
			return ns
		}
	}
	return p.ID
}

// CanAccess reports whether the principal may operate on namespace. A
// principal with no patterns owns only the namespace named by its ID.
func (p *Principal) CanAccess(namespace string) bool {
	if len(p.Namespaces) == 0 {
		return namespace == p.ID
	}
	set, err := cache.CompilePatterns(p.Namespaces)
	if err != nil {
		return false
	}
	return set.MatchAny(namespace)
}
