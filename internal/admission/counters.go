// Package admission implements the pre-dispatch gates: the rate limiter
// that caps artifact creation per day and the budget manager that caps
// spend per day, month, and job. Both are advisory; with N concurrent
// workers the counters can transiently overshoot by up to N-1 because
// check and record are separate steps.
package admission

import (
	"sync"
	"time"
)

// Clock supplies the current time. Injected so period rollover is
// testable.
type Clock func() time.Time

// CounterStore holds per-period counters. Keys embed their period
// ("day:2026-08-29", "month:2026-08") so rollover needs no reset step:
// a new period simply reads zero.
type CounterStore interface {
	Get(key string) float64
	Add(key string, delta float64)
}

// MemoryCounters is the default in-process CounterStore.
type MemoryCounters struct {
	mu     sync.Mutex
	counts map[string]float64
}

// NewMemoryCounters creates an empty counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{counts: make(map[string]float64)}
}

func (m *MemoryCounters) Get(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

func (m *MemoryCounters) Add(key string, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key] += delta
}

// dayKey returns the daily period key, e.g. "day:2026-08-29".
func dayKey(t time.Time) string {
	return "day:" + t.UTC().Format("2006-01-02")
}

// monthKey returns the monthly period key, e.g. "month:2026-08".
func monthKey(t time.Time) string {
	return "month:" + t.UTC().Format("2006-01")
}
