package health

import (
	"context"
	"fmt"
	"runtime"
)

// MemoryChecker compares heap allocation against a ceiling. The in-memory
// entry store lives on the heap, so this is its capacity signal.
type MemoryChecker struct {
	maxAlloc uint64
	warn     float64
	critical float64
	read     func(*runtime.MemStats)
}

// NewMemoryChecker creates a checker. A zero maxAlloc uses the runtime's
// reserved memory as the ceiling.
func NewMemoryChecker(maxAlloc uint64) *MemoryChecker {
	return &MemoryChecker{maxAlloc: maxAlloc, warn: 0.8, critical: 0.95, read: runtime.ReadMemStats}
}

// Name returns "memory".
func (m *MemoryChecker) Name() string { return "memory" }

// Check reads runtime memory stats.
func (m *MemoryChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	var stats runtime.MemStats
	m.read(&stats)
	ceiling := m.maxAlloc
	if ceiling == 0 {
		ceiling = stats.Sys
	}
	if ceiling == 0 {
		return Healthy("memory stats unavailable")
	}

	ratio := float64(stats.Alloc) / float64(ceiling)
	details := map[string]any{
		"alloc_bytes":   stats.Alloc,
		"max_alloc":     ceiling,
		"usage_percent": ratio * 100,
		"num_gc":        stats.NumGC,
		"goroutines":    runtime.NumGoroutine(),
	}

	switch {
	case ratio >= m.critical:
		return Unhealthy(fmt.Sprintf("memory usage critical: %.1f%%", ratio*100), ErrMemoryCritical).WithDetails(details)
	case ratio >= m.warn:
		return Degraded(fmt.Sprintf("memory usage high: %.1f%%", ratio*100)).WithDetails(details)
	default:
		return Healthy(fmt.Sprintf("memory usage normal: %.1f%%", ratio*100)).WithDetails(details)
	}
}
