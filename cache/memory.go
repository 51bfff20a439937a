package cache

import (
	"context"
	"sync"
	"time"
)

// DefaultExpiredRetention is how long expired entries stay readable as
// metadata before a sweep removes them.
const DefaultExpiredRetention = 24 * time.Hour

// Sweeper is implemented by stores that need periodic removal of long
// expired entries.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithRetention sets how long expired entries are kept.
func WithRetention(d time.Duration) MemoryOption {
	return func(s *MemoryStore) { s.retention = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]*Entry
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries:   make(map[string]*Entry),
		retention: DefaultExpiredRetention,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a copy of the stored entry.
func (s *MemoryStore) Get(_ context.Context, fingerprint string) (*Entry, error) {
	s.mu.RLock()
	e, ok := s.entries[fingerprint]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneEntry(e), nil
}

// Set stores a copy of the entry.
func (s *MemoryStore) Set(_ context.Context, entry *Entry) error {
	if err := ValidateEntry(entry); err != nil {
		return err
	}
	c := cloneEntry(entry)
	s.mu.Lock()
	s.entries[entry.Fingerprint] = c
	s.mu.Unlock()
	return nil
}

// Touch increments the access counter of an existing entry.
func (s *MemoryStore) Touch(_ context.Context, fingerprint string, at time.Time) error {
	s.mu.Lock()
	if e, ok := s.entries[fingerprint]; ok {
		e.AccessCount++
		e.LastAccessedAt = at
	}
	s.mu.Unlock()
	return nil
}

// Delete removes an entry. Deleting an absent entry returns 0.
func (s *MemoryStore) Delete(_ context.Context, fingerprint string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[fingerprint]; !ok {
		return 0, nil
	}
	delete(s.entries, fingerprint)
	return 1, nil
}

// DeleteWhere removes every entry matching the criteria.
func (s *MemoryStore) DeleteWhere(ctx context.Context, criteria Criteria) (DeleteResult, error) {
	pred, err := criteria.Compile()
	if err != nil {
		return DeleteResult{}, err
	}

	touched := namespaceSet{}
	count := 0

	s.mu.Lock()
	defer s.mu.Unlock()
	for fp, e := range s.entries {
		if err := ctx.Err(); err != nil {
			return DeleteResult{Count: count, Namespaces: touched.sorted()}, err
		}
		if !pred.Match(e) {
			continue
		}
		delete(s.entries, fp)
		touched.add(e.Namespace)
		count++
	}
	return DeleteResult{Count: count, Namespaces: touched.sorted()}, nil
}

// Sweep removes entries that expired longer ago than the retention window.
func (s *MemoryStore) Sweep(_ context.Context) (int, error) {
	cutoff := s.now().Add(-s.retention)
	removed := 0
	s.mu.Lock()
	for fp, e := range s.entries {
		if e.ExpiresAt().Before(cutoff) {
			delete(s.entries, fp)
			removed++
		}
	}
	s.mu.Unlock()
	return removed, nil
}

// Len returns the number of stored entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Ping always succeeds.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }

func cloneEntry(e *Entry) *Entry {
	c := *e
	if e.Payload != nil {
		c.Payload = append([]byte(nil), e.Payload...)
	}
	return &c
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Sweeper = (*MemoryStore)(nil)
)
