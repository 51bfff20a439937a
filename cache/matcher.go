package cache

import (
	"fmt"

	"github.com/gobwas/glob"
)

// Matcher tests strings against a compiled wildcard pattern.
//
// Patterns use `*` for any run of characters, `?` for a single character,
// and `[...]` / `{a,b}` classes. Compile once, match many.
type Matcher interface {
	Match(s string) bool
	String() string
}

type globMatcher struct {
	pattern string
	g       glob.Glob
}

func (m *globMatcher) Match(s string) bool { return m.g.Match(s) }
func (m *globMatcher) String() string      { return m.pattern }

// CompilePattern compiles a wildcard pattern.
func CompilePattern(pattern string) (Matcher, error) {
	if pattern == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPattern)
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidPattern, pattern, err)
	}
	return &globMatcher{pattern: pattern, g: g}, nil
}

// MatcherSet matches when any member matches.
type MatcherSet []Matcher

// CompilePatterns compiles every pattern into a MatcherSet.
func CompilePatterns(patterns []string) (MatcherSet, error) {
	set := make(MatcherSet, 0, len(patterns))
	for _, p := range patterns {
		m, err := CompilePattern(p)
		if err != nil {
			return nil, err
		}
		set = append(set, m)
	}
	return set, nil
}

// MatchAny reports whether s matches any member of the set.
func (s MatcherSet) MatchAny(v string) bool {
	for _, m := range s {
		if m.Match(v) {
			return true
		}
	}
	return false
}

// IsWildcard reports whether a pattern contains glob metacharacters.
func IsWildcard(pattern string) bool {
	for _, r := range pattern {
		switch r {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}
