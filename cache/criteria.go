package cache

import "time"

// Criteria selects entries for DeleteWhere. Set fields combine with AND.
type Criteria struct {
	// Namespace restricts to one namespace. A wildcard pattern such as "*"
	// explicitly widens the match across namespaces.
	Namespace string

	// Pattern is a wildcard matched against the entry fingerprint or its
	// provider:model:fingerprint key.
	Pattern string

	// CachedBefore selects entries written strictly before this instant.
	CachedBefore time.Time

	// SourceURL selects entries that depend on this external resource.
	SourceURL string

	// Scope limits every match to namespaces matching one of these patterns.
	// It is an authorization boundary, not a selection criterion.
	Scope []string
}

// IsEmpty reports whether no selection criterion is set. Scope alone does
// not count.
func (c Criteria) IsEmpty() bool {
	return c.Namespace == "" && c.Pattern == "" && c.CachedBefore.IsZero() && c.SourceURL == ""
}

// Predicate is a compiled Criteria.
type Predicate struct {
	namespace      string
	namespaceMatch Matcher
	pattern        Matcher
	cachedBefore   time.Time
	sourceURL      string
	scope          MatcherSet
}

// Compile validates the criteria and compiles its patterns.
func (c Criteria) Compile() (*Predicate, error) {
	if c.IsEmpty() {
		return nil, ErrEmptyCriteria
	}
	p := &Predicate{
		cachedBefore: c.CachedBefore,
		sourceURL:    c.SourceURL,
	}
	if c.Namespace != "" {
		if IsWildcard(c.Namespace) {
			m, err := CompilePattern(c.Namespace)
			if err != nil {
				return nil, err
			}
			p.namespaceMatch = m
		} else {
			if err := ValidateNamespace(c.Namespace); err != nil {
				return nil, err
			}
			p.namespace = c.Namespace
		}
	}
	if c.Pattern != "" {
		m, err := CompilePattern(c.Pattern)
		if err != nil {
			return nil, err
		}
		p.pattern = m
	}
	if len(c.Scope) > 0 {
		scope, err := CompilePatterns(c.Scope)
		if err != nil {
			return nil, err
		}
		p.scope = scope
	}
	return p, nil
}

// Match reports whether the entry satisfies every criterion.
func (p *Predicate) Match(e *Entry) bool {
	if p.scope != nil && !p.scope.MatchAny(e.Namespace) {
		return false
	}
	if p.namespace != "" && e.Namespace != p.namespace {
		return false
	}
	if p.namespaceMatch != nil && !p.namespaceMatch.Match(e.Namespace) {
		return false
	}
	if p.pattern != nil && !p.pattern.Match(e.Fingerprint) && !p.pattern.Match(e.Key()) {
		return false
	}
	if !p.cachedBefore.IsZero() && !e.CachedAt.Before(p.cachedBefore) {
		return false
	}
	if p.sourceURL != "" && e.SourceURL != p.sourceURL {
		return false
	}
	return true
}

// MatchMeta is Match over the fields a backend can read without decoding
// the payload.
func (p *Predicate) MatchMeta(fingerprint, namespace, provider, model, sourceURL string, cachedAt time.Time) bool {
	return p.Match(&Entry{
		Fingerprint: fingerprint,
		Namespace:   namespace,
		Provider:    provider,
		Model:       model,
		SourceURL:   sourceURL,
		CachedAt:    cachedAt,
	})
}
