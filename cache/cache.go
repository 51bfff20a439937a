package cache

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"time"
)

// MaxNamespaceLength is the maximum allowed length for a namespace.
const MaxNamespaceLength = 128

// Sentinel errors for cache operations.
var (
	ErrNotFound          = errors.New("cache: entry not found")
	ErrInvalidDescriptor = errors.New("cache: invalid request descriptor")
	ErrInvalidNamespace  = errors.New("cache: namespace is invalid")
	ErrInvalidTTL        = errors.New("cache: ttl must be positive")
	ErrInvalidPattern    = errors.New("cache: pattern is invalid")
	ErrEmptyCriteria     = errors.New("cache: delete criteria are empty")
	ErrStoreUnavailable  = errors.New("cache: store unavailable")
)

var namespacePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*$`)

// Entry is a cached upstream response plus the metadata freshness and
// invalidation decisions depend on.
type Entry struct {
	Fingerprint    string        `json:"fingerprint"`
	Namespace      string        `json:"namespace"`
	Provider       string        `json:"provider"`
	Model          string        `json:"model"`
	Payload        []byte        `json:"payload"`
	CachedAt       time.Time     `json:"cached_at"`
	TTL            time.Duration `json:"ttl"`
	SourceURL      string        `json:"source_url,omitempty"`
	ContentHash    string        `json:"content_hash,omitempty"`
	AccessCount    int64         `json:"access_count"`
	LastAccessedAt time.Time     `json:"last_accessed_at,omitzero"`
}

// ExpiresAt is the hard expiry boundary of the entry.
func (e *Entry) ExpiresAt() time.Time {
	return e.CachedAt.Add(e.TTL)
}

// Key is the string patterns are matched against: provider:model:fingerprint.
func (e *Entry) Key() string {
	return e.Provider + ":" + e.Model + ":" + e.Fingerprint
}

// Store is the persistence contract for cache entries.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Writes are last-writer-wins per fingerprint.
// - Get returns expired entries too; classification is the caller's job.
// - Backend failures wrap ErrStoreUnavailable.
type Store interface {
	// Get returns the entry or ErrNotFound.
	Get(ctx context.Context, fingerprint string) (*Entry, error)

	// Set writes the entry, replacing any previous value.
	Set(ctx context.Context, entry *Entry) error

	// Touch records a successful read. It is a no-op for absent entries.
	Touch(ctx context.Context, fingerprint string, at time.Time) error

	// Delete removes one entry and reports how many were removed (0 or 1).
	Delete(ctx context.Context, fingerprint string) (int, error)

	// DeleteWhere removes every entry matching all criteria.
	DeleteWhere(ctx context.Context, criteria Criteria) (DeleteResult, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// DeleteResult reports the impact of a bulk delete.
type DeleteResult struct {
	Count      int
	Namespaces []string
}

type namespaceSet map[string]struct{}

func (s namespaceSet) add(ns string) { s[ns] = struct{}{} }

func (s namespaceSet) sorted() []string {
	out := make([]string, 0, len(s))
	for ns := range s {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out
}

// ValidateNamespace checks that a namespace is usable as a partition key.
func ValidateNamespace(ns string) error {
	if ns == "" {
		return fmt.Errorf("%w: empty", ErrInvalidNamespace)
	}
	if len(ns) > MaxNamespaceLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidNamespace, MaxNamespaceLength)
	}
	if !namespacePattern.MatchString(ns) {
		return fmt.Errorf("%w: %q", ErrInvalidNamespace, ns)
	}
	return nil
}

// ValidateEntry checks an entry before it is written.
func ValidateEntry(e *Entry) error {
	if e == nil || e.Fingerprint == "" {
		return fmt.Errorf("%w: missing fingerprint", ErrInvalidDescriptor)
	}
	if err := ValidateNamespace(e.Namespace); err != nil {
		return err
	}
	if e.TTL <= 0 {
		return ErrInvalidTTL
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
