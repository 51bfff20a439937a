package cache

import (
	"errors"
	"testing"
	"time"
)

func TestCompilePattern(t *testing.T) {
	tests := []struct {
		pattern string
		input   string
		want    bool
	}{
		{"*", "anything", true},
		{"openai:*", "openai:gpt-4o:abc", true},
		{"openai:*", "anthropic:claude:abc", false},
		{"docs-?", "docs-1", true},
		{"docs-?", "docs-12", false},
		{"{news,pricing}", "pricing", true},
		{"{news,pricing}", "docs", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.input, func(t *testing.T) {
			m, err := CompilePattern(tt.pattern)
			if err != nil {
				t.Fatalf("CompilePattern() error = %v", err)
			}
			if got := m.Match(tt.input); got != tt.want {
				t.Errorf("Match(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestCompilePattern_Empty(t *testing.T) {
	if _, err := CompilePattern(""); !errors.Is(err, ErrInvalidPattern) {
		t.Errorf("CompilePattern(\"\") error = %v, want ErrInvalidPattern", err)
	}
}

func TestCriteria_EmptyRejected(t *testing.T) {
	c := Criteria{Scope: []string{"docs"}}
	if !c.IsEmpty() {
		t.Fatal("scope-only criteria should count as empty")
	}
	if _, err := c.Compile(); !errors.Is(err, ErrEmptyCriteria) {
		t.Errorf("Compile() error = %v, want ErrEmptyCriteria", err)
	}
}

func TestPredicate_Match(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{
		Fingerprint: "abc123",
		Namespace:   "docs",
		Provider:    "openai",
		Model:       "gpt-4o",
		CachedAt:    now.Add(-2 * time.Hour),
		TTL:         time.Hour,
		SourceURL:   "https://example.com/pricing",
	}

	tests := []struct {
		name     string
		criteria Criteria
		want     bool
	}{
		{"namespace equal", Criteria{Namespace: "docs"}, true},
		{"namespace other", Criteria{Namespace: "news"}, false},
		{"namespace wildcard", Criteria{Namespace: "*"}, true},
		{"pattern on key", Criteria{Pattern: "openai:*"}, true},
		{"pattern on fingerprint", Criteria{Pattern: "abc*"}, true},
		{"pattern miss", Criteria{Pattern: "anthropic:*"}, false},
		{"older than hit", Criteria{CachedBefore: now.Add(-time.Hour)}, true},
		{"older than miss", Criteria{CachedBefore: now.Add(-3 * time.Hour)}, false},
		{"source url", Criteria{SourceURL: "https://example.com/pricing"}, true},
		{"source url miss", Criteria{SourceURL: "https://example.com/other"}, false},
		{"and all hit", Criteria{Namespace: "docs", Pattern: "openai:*", SourceURL: "https://example.com/pricing"}, true},
		{"and one miss", Criteria{Namespace: "docs", Pattern: "anthropic:*"}, false},
		{"scope excludes", Criteria{Namespace: "*", Scope: []string{"news"}}, false},
		{"scope includes", Criteria{Namespace: "*", Scope: []string{"do*"}}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := tt.criteria.Compile()
			if err != nil {
				t.Fatalf("Compile() error = %v", err)
			}
			if got := p.Match(entry); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPolicy_EffectiveTTL(t *testing.T) {
	p := Policy{
		DefaultTTL: time.Hour,
		MaxTTL:     24 * time.Hour,
		Classes:    map[string]time.Duration{"news": 10 * time.Minute},
		Namespaces: map[string]time.Duration{"docs": 12 * time.Hour},
	}

	tests := []struct {
		name      string
		override  time.Duration
		namespace string
		class     string
		want      time.Duration
	}{
		{"override wins", 5 * time.Minute, "docs", "news", 5 * time.Minute},
		{"class before namespace", 0, "docs", "news", 10 * time.Minute},
		{"namespace", 0, "docs", "", 12 * time.Hour},
		{"unknown class falls through", 0, "docs", "weather", 12 * time.Hour},
		{"default", 0, "other", "", time.Hour},
		{"clamped", 48 * time.Hour, "docs", "", 24 * time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.EffectiveTTL(tt.override, tt.namespace, tt.class); got != tt.want {
				t.Errorf("EffectiveTTL() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidateNamespace(t *testing.T) {
	valid := []string{"docs", "acme-prod", "team_1.cache"}
	invalid := []string{"", "-leading", "has space", "slash/ns", string(make([]byte, MaxNamespaceLength+1))}

	for _, ns := range valid {
		if err := ValidateNamespace(ns); err != nil {
			t.Errorf("ValidateNamespace(%q) error = %v", ns, err)
		}
	}
	for _, ns := range invalid {
		if err := ValidateNamespace(ns); !errors.Is(err, ErrInvalidNamespace) {
			t.Errorf("ValidateNamespace(%q) error = %v, want ErrInvalidNamespace", ns, err)
		}
	}
}
