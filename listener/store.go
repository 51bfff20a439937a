package listener

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Store persists listeners.
//
// Contract:
// - Get and Update return ErrNotFound for unknown ids.
// - Backend failures wrap ErrStoreUnavailable.
// - Returned listeners are copies; mutating them does not change the store.
type Store interface {
	Create(ctx context.Context, l *Listener) error
	Get(ctx context.Context, id string) (*Listener, error)
	Update(ctx context.Context, l *Listener) error
	Delete(ctx context.Context, id string) error

	// ListByOwner returns the owner's listeners, oldest first.
	ListByOwner(ctx context.Context, owner string) ([]*Listener, error)

	// CountByOwner counts the owner's listeners in any state.
	CountByOwner(ctx context.Context, owner string) (int, error)

	// ListDue returns up to limit active listeners due at now, most overdue
	// first. limit <= 0 means no limit.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*Listener, error)

	Ping(ctx context.Context) error
	Close() error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	listeners map[string]*Listener
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{listeners: make(map[string]*Listener)}
}

func (s *MemoryStore) Create(_ context.Context, l *Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[l.ID] = l.clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Listener, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.listeners[id]
	if !ok {
		return nil, ErrNotFound
	}
	return l.clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, l *Listener) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[l.ID]; !ok {
		return ErrNotFound
	}
	s.listeners[l.ID] = l.clone()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.listeners[id]; !ok {
		return ErrNotFound
	}
	delete(s.listeners, id)
	return nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, owner string) ([]*Listener, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Listener
	for _, l := range s.listeners {
		if l.Owner == owner {
			out = append(out, l.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) CountByOwner(_ context.Context, owner string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, l := range s.listeners {
		if l.Owner == owner {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListDue(_ context.Context, now time.Time, limit int) ([]*Listener, error) {
	s.mu.RLock()
	var out []*Listener
	for _, l := range s.listeners {
		if l.Due(now) {
			out = append(out, l.clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].NextCheckAt(), out[j].NextCheckAt()
		if a.Equal(b) {
			return out[i].ID < out[j].ID
		}
		return a.Before(b)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
