// Package ratelimit provides per-owner admission control: fixed-window
// request counting over a TTL-capable counter store, with per-plan minute
// and day limits.
//
// Fixed windows (rather than a sliding window or token bucket) keep storage
// O(1) per owner and make concurrent safety a single atomic
// increment-plus-expire. The tradeoff is burstiness at window boundaries,
// acceptable for a soft anti-abuse control.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Counters is the atomic increment-with-TTL primitive the window counting
// is built on. Implementations must make the increment and expiry arming a
// single atomic step with respect to concurrent callers.
type Counters interface {
	// IncrWithTTL increments key, arms its TTL, and returns the
	// post-increment value.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// MemoryCounters is an in-process Counters for tests and single-node
// deployments without Redis.
type MemoryCounters struct {
	mu    sync.Mutex
	cells map[string]*memoryCell
	now   func() time.Time
}

type memoryCell struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryCounters creates an empty in-process counter store.
func NewMemoryCounters() *MemoryCounters {
	return &MemoryCounters{cells: make(map[string]*memoryCell), now: time.Now}
}

// SetClock overrides the time source (tests only).
func (m *MemoryCounters) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

func (m *MemoryCounters) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	cell, ok := m.cells[key]
	if !ok || now.After(cell.expiresAt) {
		cell = &memoryCell{expiresAt: now.Add(ttl)}
		m.cells[key] = cell
	}
	cell.count++

	// opportunistic cleanup keeps the map from growing unbounded
	if len(m.cells) > 4096 {
		for k, c := range m.cells {
			if now.After(c.expiresAt) {
				delete(m.cells, k)
			}
		}
	}
	return cell.count, nil
}
