package state

import (
	"sync"
	"time"
)

// RateTracker counts events over a trailing time window. Timestamps older
// than the window are purged on every Record and Rate call, so retained
// memory is bounded by the event rate times the window.
type RateTracker struct {
	mu     sync.Mutex
	window time.Duration
	now    Clock
	stamps []time.Time
}

// NewRateTracker creates a tracker over the given trailing window.
func NewRateTracker(window time.Duration, now Clock) *RateTracker {
	if now == nil {
		now = time.Now
	}
	return &RateTracker{window: window, now: now}
}

// Record registers one event at the given timestamp.
func (rt *RateTracker) Record(ts time.Time) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.purgeLocked(rt.now())
	rt.stamps = append(rt.stamps, ts)
}

// Rate returns events per second over the trailing window.
func (rt *RateTracker) Rate() float64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.purgeLocked(rt.now())
	if rt.window <= 0 {
		return 0
	}
	return float64(len(rt.stamps)) / rt.window.Seconds()
}

// Count returns the number of events currently inside the window.
func (rt *RateTracker) Count() int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.purgeLocked(rt.now())
	return len(rt.stamps)
}

func (rt *RateTracker) purgeLocked(now time.Time) {
	cutoff := now.Add(-rt.window)
	i := 0
	for i < len(rt.stamps) && !rt.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		rt.stamps = append(rt.stamps[:0], rt.stamps[i:]...)
	}
}
