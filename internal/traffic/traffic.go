// Package traffic keeps sliding windows of request outcomes on the rate-limited API path.
// The health check derives the overloaded state from it and the metrics registry exposes
// the window counts as gauges.
package traffic

import (
	"sync"
	"time"
)

// retention bounds how long outcomes are kept regardless of the window asked for.
const retention = 5 * time.Minute

var defaultTracker = NewTracker(time.Now)

// RecordServed records a request that reached a handler on the rate-limited path.
func RecordServed() {
	defaultTracker.RecordServed()
}

// RecordDenied records a rate-limit denial (429).
func RecordDenied() {
	defaultTracker.RecordDenied()
}

// RequestCount returns the number of outcomes (served + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// Overloaded reports whether load in the window exceeds pct percent of the rps budget.
func Overloaded(window time.Duration, rps, pct int) bool {
	return defaultTracker.Overloaded(window, rps, pct)
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

// Tracker maintains sliding windows of outcome timestamps.
type Tracker struct {
	mu          sync.Mutex
	now         func() time.Time
	servedTimes []time.Time
	deniedTimes []time.Time
}

// NewTracker returns a Tracker reading the clock from now.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// RecordServed records a served request in the tracker.
func (t *Tracker) RecordServed() {
	t.recordOutcome(&t.servedTimes)
}

// RecordDenied records a rate-limit denial (429) in the tracker.
func (t *Tracker) RecordDenied() {
	t.recordOutcome(&t.deniedTimes)
}

func (t *Tracker) recordOutcome(slice *[]time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	*slice = append(*slice, now)
	t.pruneLocked(now)
}

// RequestCount returns the total number of outcomes (served + denied) within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	return countSince(t.servedTimes, cutoff) + countSince(t.deniedTimes, cutoff)
}

// DenialCount returns the number of rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return countSince(t.deniedTimes, t.now().Add(-window))
}

// Overloaded compares RequestCount(window) against rps * window * pct/100.
// A non-positive rps or window never reports overload.
func (t *Tracker) Overloaded(window time.Duration, rps, pct int) bool {
	if rps <= 0 || window <= 0 {
		return false
	}
	threshold := float64(rps) * window.Seconds() * float64(pct) / 100
	return float64(t.RequestCount(window)) > threshold
}

// Reset clears all recorded outcomes from the tracker.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.servedTimes = nil
	t.deniedTimes = nil
}

// countSince counts timestamps that are not before the cutoff time.
func countSince(times []time.Time, cutoff time.Time) int {
	n := 0
	for _, ts := range times {
		if !ts.Before(cutoff) {
			n++
		}
	}
	return n
}

// pruneLocked drops timestamps older than retention. Must be called with mutex held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	prune := func(slice *[]time.Time) {
		times := *slice
		i := 0
		for i < len(times) && times[i].Before(cutoff) {
			i++
		}
		if i > 0 {
			*slice = append(times[:0], times[i:]...)
		}
	}
	prune(&t.servedTimes)
	prune(&t.deniedTimes)
}
