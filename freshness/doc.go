// Package freshness classifies cache entries as fresh, stale or expired.
//
// Classify is pure and allocation free so it can run on every read. Rules
// are matched most-specific-first against an entry's namespace or key, and
// a catch-all rule always applies when nothing else matches.
package freshness
