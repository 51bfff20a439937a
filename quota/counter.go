package quota

import (
	"context"
	"sync"
	"time"
)

// CounterStore holds the monthly and per-minute counters.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use across
//     processes sharing the backend.
//   - Atomicity: Consume checks the monthly limit, then the minute limit,
//     and increments both only when neither is exhausted, as one step.
//   - Errors: backend failures wrap ErrCounterUnavailable.
type CounterStore interface {
	Consume(ctx context.Context, principalID string, w Window, l Limits) (Result, error)
	Counts(ctx context.Context, principalID string, w Window) (Counts, error)
	Ping(ctx context.Context) error
	Close() error
}

type memoryCounter struct {
	value   int64
	resetAt time.Time
}

// MemoryCounterStore keeps counters in process. It is only correct for a
// single replica.
type MemoryCounterStore struct {
	mu       sync.Mutex
	counters map[string]*memoryCounter
}

// NewMemoryCounterStore creates an empty store.
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{counters: make(map[string]*memoryCounter)}
}

func monthKey(id string, w Window) string  { return "q:m:" + id + ":" + w.Month }
func minuteKey(id string, w Window) string { return "q:r:" + id + ":" + w.Minute }

// Consume implements CounterStore.
func (s *MemoryCounterStore) Consume(_ context.Context, principalID string, w Window, l Limits) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.counter(monthKey(principalID, w), w.MonthReset, w)
	r := s.counter(minuteKey(principalID, w), w.MinuteReset, w)
	counts := Counts{Monthly: m.value, Minute: r.value}

	if l.Monthly > 0 && m.value >= l.Monthly {
		return Result{Decision: QuotaExceeded, Counts: counts}, nil
	}
	if l.PerMinute > 0 && r.value >= l.PerMinute {
		return Result{Decision: RateLimited, Counts: counts}, nil
	}
	m.value++
	r.value++
	return Result{Decision: Allowed, Counts: Counts{Monthly: m.value, Minute: r.value}}, nil
}

// Counts implements CounterStore.
func (s *MemoryCounterStore) Counts(_ context.Context, principalID string, w Window) (Counts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var c Counts
	if m, ok := s.counters[monthKey(principalID, w)]; ok {
		c.Monthly = m.value
	}
	if r, ok := s.counters[minuteKey(principalID, w)]; ok {
		c.Minute = r.value
	}
	return c, nil
}

// counter returns the counter for key. Creating a counter prunes those whose
// window closed before the current minute began.
func (s *MemoryCounterStore) counter(key string, resetAt time.Time, w Window) *memoryCounter {
	if c, ok := s.counters[key]; ok {
		return c
	}
	minuteStart := w.MinuteReset.Add(-time.Minute)
	for k, old := range s.counters {
		if !old.resetAt.After(minuteStart) {
			delete(s.counters, k)
		}
	}
	c := &memoryCounter{resetAt: resetAt}
	s.counters[key] = c
	return c
}

// Ping always succeeds.
func (s *MemoryCounterStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryCounterStore) Close() error { return nil }

var _ CounterStore = (*MemoryCounterStore)(nil)
