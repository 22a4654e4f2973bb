// Package ratelimit implements per-client fixed-window request counting.
//
// A CounterStore owns one WindowCounter per client key. The table itself is a
// sync.Map, so lookups and inserts never take a table-wide lock, and every
// counter carries its own mutex: requests for different keys never wait on
// each other.
package ratelimit

import (
	"sync"
	"sync/atomic"
	"time"
)

// WindowState is a point-in-time copy of a counter
type WindowState struct {
	WindowStart time.Time
	Count       int
}

// WindowCounter is the mutable state of one key.
type WindowCounter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
	retired     bool
}

// hit applies the window rule and counts one request. It reports false when
// the counter was swept from the table and must be looked up again.
func (w *WindowCounter) hit(now time.Time, window time.Duration) (WindowState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.retired {
		return WindowState{}, false
	}
	if now.Sub(w.windowStart) >= window {
		w.count = 0
		w.windowStart = now
	}
	w.count++
	return WindowState{WindowStart: w.windowStart, Count: w.count}, true
}

// retire marks the counter detached; it reports false if it already was
func (w *WindowCounter) retire() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.retired {
		return false
	}
	w.retired = true
	return true
}

func (w *WindowCounter) snapshot() WindowState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return WindowState{WindowStart: w.windowStart, Count: w.count}
}

// CounterStore maps client keys to their window counters. The zero value is
// an empty store ready for use.
type CounterStore struct {
	counters sync.Map // string -> *WindowCounter
	size     atomic.Int64
}

// NewCounterStore returns an empty store
func NewCounterStore() *CounterStore {
	return &CounterStore{}
}

// Hit counts one request for key at now and returns the resulting state.
// A missing counter is created with windowStart=now and count=0 first.
func (s *CounterStore) Hit(key string, now time.Time, window time.Duration) WindowState {
	for {
		state, ok := s.counter(key, now).hit(now, window)
		if ok {
			return state
		}
	}
}

func (s *CounterStore) counter(key string, now time.Time) *WindowCounter {
	if v, ok := s.counters.Load(key); ok {
		return v.(*WindowCounter)
	}
	v, loaded := s.counters.LoadOrStore(key, &WindowCounter{windowStart: now})
	if !loaded {
		s.size.Add(1)
	}
	return v.(*WindowCounter)
}

// Snapshot returns the current state for key without counting a request
func (s *CounterStore) Snapshot(key string) (WindowState, bool) {
	v, ok := s.counters.Load(key)
	if !ok {
		return WindowState{}, false
	}
	return v.(*WindowCounter).snapshot(), true
}

// Len returns the number of tracked keys
func (s *CounterStore) Len() int {
	return int(s.size.Load())
}

// Reset drops the counter for key
func (s *CounterStore) Reset(key string) {
	v, ok := s.counters.Load(key)
	if !ok {
		return
	}
	if v.(*WindowCounter).retire() && s.counters.CompareAndDelete(key, v) {
		s.size.Add(-1)
	}
}

// Sweep removes counters whose window ended at least idle ago and returns
// how many were removed. A counter is retired under its own lock so a request
// racing with the sweep re-resolves a fresh counter instead of counting into
// a detached one.
func (s *CounterStore) Sweep(now time.Time, window, idle time.Duration) int {
	removed := 0
	s.counters.Range(func(k, v any) bool {
		c := v.(*WindowCounter)
		c.mu.Lock()
		stale := !c.retired && now.Sub(c.windowStart) >= window+idle
		if stale {
			c.retired = true
		}
		c.mu.Unlock()

		if stale && s.counters.CompareAndDelete(k, v) {
			s.size.Add(-1)
			removed++
		}
		return true
	})
	return removed
}
