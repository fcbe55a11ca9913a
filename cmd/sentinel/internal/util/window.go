// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import "sync"

// =============================================================================
// Outcome Window
// =============================================================================

// OutcomeWindow is a fixed-size sliding window over boolean probe outcomes.
//
// # Description
//
// Tracks the most recent N probe results for a component and computes the
// uptime ratio over that window. When the window is full the oldest
// outcome is evicted, so the ratio always reflects recent behavior rather
// than all-time history. Memory is pre-allocated at creation.
//
// # Use Cases
//
//   - Per-component uptime percentage in status reports
//   - Flap detection (components that alternate healthy/unhealthy)
//
// # Thread Safety
//
// OutcomeWindow is safe for concurrent use. All operations are protected
// by a mutex.
//
// # Example
//
//	window := NewOutcomeWindow(288) // 24h of 5-minute cycles
//	window.Record(probeSucceeded)
//	fmt.Printf("uptime: %.1f%%", window.UptimeRatio()*100)
//
// # Limitations
//
//   - Fixed capacity (cannot grow)
//   - Window is by count, not by wall-clock time
type OutcomeWindow struct {
	outcomes []bool
	head     int
	size     int
	healthy  int
	mu       sync.Mutex
}

// NewOutcomeWindow creates a window holding up to capacity outcomes.
//
// Panics if capacity <= 0.
func NewOutcomeWindow(capacity int) *OutcomeWindow {
	if capacity <= 0 {
		panic("outcome window capacity must be positive")
	}
	return &OutcomeWindow{outcomes: make([]bool, capacity)}
}

// Record appends a probe outcome, evicting the oldest if the window is full.
func (w *OutcomeWindow) Record(healthy bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size == len(w.outcomes) {
		// Evict the oldest outcome from the running tally.
		if w.outcomes[w.head] {
			w.healthy--
		}
		w.outcomes[w.head] = healthy
		w.head = (w.head + 1) % len(w.outcomes)
	} else {
		w.outcomes[(w.head+w.size)%len(w.outcomes)] = healthy
		w.size++
	}
	if healthy {
		w.healthy++
	}
}

// UptimeRatio returns the fraction of healthy outcomes in the window,
// in [0, 1]. Returns 1.0 when no outcomes have been recorded yet: an
// unobserved component is presumed healthy, not failing.
func (w *OutcomeWindow) UptimeRatio() float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size == 0 {
		return 1.0
	}
	return float64(w.healthy) / float64(w.size)
}

// Size returns the number of outcomes currently in the window.
func (w *OutcomeWindow) Size() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Capacity returns the maximum number of outcomes the window holds.
func (w *OutcomeWindow) Capacity() int {
	return len(w.outcomes) // Immutable, no lock needed
}

// Reset clears all recorded outcomes.
func (w *OutcomeWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.head = 0
	w.size = 0
	w.healthy = 0
}
