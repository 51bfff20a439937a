package freshness

import (
	"sort"
	"strings"

	"github.com/jonwraymond/cachegate/cache"
)

type compiledRule struct {
	rule    Rule
	matcher cache.Matcher
}

// RuleSet is an ordered list of rules. The first match wins.
type RuleSet struct {
	rules    []compiledRule
	fallback Rule
}

// NewRuleSet validates and compiles rules, ordering them most specific first.
// Specificity is the number of literal characters in the pattern; ties keep
// the configured order.
func NewRuleSet(rules []Rule) (*RuleSet, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		m, err := cache.CompilePattern(r.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: r.withDefaults(), matcher: m})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return specificity(compiled[i].rule.Pattern) > specificity(compiled[j].rule.Pattern)
	})

	return &RuleSet{rules: compiled, fallback: DefaultRule()}, nil
}

// Match returns the first rule whose pattern matches the namespace or the
// entry key, or the catch-all.
func (rs *RuleSet) Match(namespace, key string) Rule {
	if rs == nil {
		return DefaultRule()
	}
	for _, cr := range rs.rules {
		if cr.matcher.Match(namespace) || cr.matcher.Match(key) {
			return cr.rule
		}
	}
	return rs.fallback
}

// For returns the rule that governs an entry.
func (rs *RuleSet) For(e *cache.Entry) Rule {
	return rs.Match(e.Namespace, e.Key())
}

// Rules returns the ordered rules, excluding the catch-all.
func (rs *RuleSet) Rules() []Rule {
	out := make([]Rule, len(rs.rules))
	for i, cr := range rs.rules {
		out[i] = cr.rule
	}
	return out
}

func specificity(pattern string) int {
	n := 0
	depth := 0
	for _, r := range pattern {
		switch {
		case r == '[' || r == '{':
			depth++
		case r == ']' || r == '}':
			if depth > 0 {
				depth--
			}
		case depth > 0:
		case strings.ContainsRune("*?", r):
		default:
			n++
		}
	}
	return n
}
