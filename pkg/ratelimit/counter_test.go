package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounterStore_HitCreatesCounter(t *testing.T) {
	var s CounterStore
	now := time.Unix(100, 0)

	state := s.Hit("k", now, time.Minute)
	assert.Equal(t, 1, state.Count)
	assert.Equal(t, now, state.WindowStart)
	assert.Equal(t, 1, s.Len())

	state = s.Hit("k", now.Add(time.Second), time.Minute)
	assert.Equal(t, 2, state.Count)
	assert.Equal(t, now, state.WindowStart)
}

func TestCounterStore_Snapshot(t *testing.T) {
	s := NewCounterStore()
	_, ok := s.Snapshot("missing")
	assert.False(t, ok)

	s.Hit("k", time.Unix(100, 0), time.Minute)
	state, ok := s.Snapshot("k")
	require.True(t, ok)
	assert.Equal(t, 1, state.Count)
}

func TestCounterStore_Reset(t *testing.T) {
	s := NewCounterStore()
	now := time.Unix(100, 0)
	s.Hit("k", now, time.Minute)
	s.Hit("k", now, time.Minute)

	s.Reset("k")
	assert.Equal(t, 0, s.Len())

	state := s.Hit("k", now, time.Minute)
	assert.Equal(t, 1, state.Count)
	assert.Equal(t, 1, s.Len())

	s.Reset("never-seen")
	assert.Equal(t, 1, s.Len())
}

func TestCounterStore_Sweep(t *testing.T) {
	s := NewCounterStore()
	start := time.Unix(100, 0)
	s.Hit("old", start, time.Minute)
	s.Hit("fresh", start.Add(90*time.Second), time.Minute)

	removed := s.Sweep(start.Add(2*time.Minute), time.Minute, time.Minute)
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, s.Len())

	_, ok := s.Snapshot("old")
	assert.False(t, ok)
	_, ok = s.Snapshot("fresh")
	assert.True(t, ok)
}

func TestCounterStore_SweepRacingHits(t *testing.T) {
	s := NewCounterStore()
	start := time.Unix(100, 0)
	s.Hit("k", start, time.Minute)

	later := start.Add(5 * time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Hit("k", later, time.Minute)
		}()
		go func() {
			defer wg.Done()
			s.Sweep(later, time.Minute, time.Minute)
		}()
	}
	wg.Wait()

	// the table never tracks more than the one key
	assert.LessOrEqual(t, s.Len(), 1)
	assert.GreaterOrEqual(t, s.Len(), 0)
}
