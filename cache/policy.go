package cache

import "time"

// Policy resolves the TTL of a write.
type Policy struct {
	// DefaultTTL applies when neither the request, its class, nor its
	// namespace carries a TTL.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// MaxTTL clamps every resolved TTL. Zero means no maximum.
	MaxTTL time.Duration `yaml:"max_ttl"`

	// Classes maps a content class ("news", "pricing", "docs") to its TTL.
	Classes map[string]time.Duration `yaml:"classes"`

	// Namespaces maps a namespace to its TTL.
	Namespaces map[string]time.Duration `yaml:"namespaces"`
}

// DefaultPolicy returns the default TTL policy.
// DefaultTTL: 1 hour, MaxTTL: 30 days, with short-lived news and pricing
// classes and long-lived docs.
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: time.Hour,
		MaxTTL:     30 * 24 * time.Hour,
		Classes: map[string]time.Duration{
			"news":    15 * time.Minute,
			"pricing": time.Hour,
			"docs":    7 * 24 * time.Hour,
		},
	}
}

// EffectiveTTL returns the TTL to use for a write. The order is the explicit
// override, then the class, then the namespace, then DefaultTTL. The result
// is clamped to MaxTTL.
func (p Policy) EffectiveTTL(override time.Duration, namespace, class string) time.Duration {
	ttl := override
	if ttl <= 0 && class != "" {
		ttl = p.Classes[class]
	}
	if ttl <= 0 {
		ttl = p.Namespaces[namespace]
	}
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if p.MaxTTL > 0 && ttl > p.MaxTTL {
		ttl = p.MaxTTL
	}
	return ttl
}
