package stats

import (
	"context"
	"sync"
	"time"

	"graphpool/internal/platform/pool"
)

// MemoryRecorder counts pool events in memory. It never expires anything.
type MemoryRecorder struct {
	mu        sync.Mutex
	totals    map[pool.EventKind]int64
	waitTotal time.Duration
	last      time.Time
}

var _ pool.EventRecorder = (*MemoryRecorder)(nil)

// NewMemoryRecorder creates an empty recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{totals: make(map[pool.EventKind]int64)}
}

// Record implements pool.EventRecorder.
func (m *MemoryRecorder) Record(_ context.Context, ev pool.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.totals[ev.Kind]++
	m.waitTotal += ev.Wait
	if ev.At.After(m.last) {
		m.last = ev.At
	}
	return nil
}

// Totals returns a copy of the per-kind counters.
func (m *MemoryRecorder) Totals(context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]int64, len(m.totals))
	for k, v := range m.totals {
		out[string(k)] = v
	}
	return out, nil
}

// WaitTotal returns the summed queue wait of all recorded events.
func (m *MemoryRecorder) WaitTotal() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waitTotal
}

// LastEventAt returns the time of the most recent event.
func (m *MemoryRecorder) LastEventAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}
