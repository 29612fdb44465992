// Package ratelimit provides a per-key sliding-window limiter, used to
// throttle login attempts per client address.
package ratelimit

import (
	"sync"
	"time"
)

// SlidingWindow allows at most limit events per key within windowSize.
type SlidingWindow struct {
	limit      int
	windowSize time.Duration

	mu     sync.Mutex
	events map[string][]time.Time
}

// NewSlidingWindow creates a limiter. A non-positive limit disables it: every
// call to Allow returns true.
func NewSlidingWindow(limit int, windowSize time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:      limit,
		windowSize: windowSize,
		events:     make(map[string][]time.Time),
	}
}

// Allow records an event for key and reports whether it stays within the
// window limit. Denied events are not recorded, so a throttled client cannot
// extend its own penalty by retrying.
func (sw *SlidingWindow) Allow(key string) bool {
	if sw.limit <= 0 {
		return true
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-sw.windowSize)

	kept := sw.events[key][:0]
	for _, at := range sw.events[key] {
		if at.After(cutoff) {
			kept = append(kept, at)
		}
	}

	if len(kept) >= sw.limit {
		sw.events[key] = kept
		return false
	}
	sw.events[key] = append(kept, now)
	return true
}

// Remaining reports how many events key may still record in the current
// window. A disabled limiter reports -1.
func (sw *SlidingWindow) Remaining(key string) int {
	if sw.limit <= 0 {
		return -1
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	cutoff := time.Now().Add(-sw.windowSize)
	n := 0
	for _, at := range sw.events[key] {
		if at.After(cutoff) {
			n++
		}
	}
	if n >= sw.limit {
		return 0
	}
	return sw.limit - n
}

// Sweep drops keys whose events all fell out of the window. Call it
// periodically so idle clients do not accumulate.
func (sw *SlidingWindow) Sweep() int {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	cutoff := time.Now().Add(-sw.windowSize)
	dropped := 0
	for key, events := range sw.events {
		live := false
		for _, at := range events {
			if at.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(sw.events, key)
			dropped++
		}
	}
	return dropped
}
