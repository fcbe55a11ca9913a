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

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"
)

// =============================================================================
// SafeGo Tests
// =============================================================================

func TestSafeGo_NormalExecution(t *testing.T) {
	done := make(chan struct{})
	SafeGo(func() {
		close(done)
	}, func(r PanicReport) {
		t.Errorf("onPanic called for non-panicking function: %v", r.Value)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine never ran")
	}
}

func TestSafeGo_RecoverPanic(t *testing.T) {
	reports := make(chan PanicReport, 1)
	SafeGo(func() {
		panic("badger store corrupted")
	}, func(r PanicReport) {
		reports <- r
	})

	select {
	case r := <-reports:
		if r.Value != "badger store corrupted" {
			t.Errorf("PanicReport.Value = %v, want %q", r.Value, "badger store corrupted")
		}
		if !strings.Contains(r.Stack, "goroutine") {
			t.Errorf("PanicReport.Stack missing stack trace: %s", r.Stack)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("panic was not recovered")
	}
}

func TestSafeGo_NilHandler(t *testing.T) {
	// Must not crash the test process.
	done := make(chan struct{})
	SafeGo(func() {
		defer close(done)
		panic("silently recovered")
	}, nil)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("goroutine never ran")
	}
}

func TestSafeGoWithContext_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ran := make(chan struct{}, 1)
	SafeGoWithContext(ctx, func() {
		ran <- struct{}{}
	}, nil)

	select {
	case <-ran:
		t.Error("function ran despite cancelled context")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestRecoverPanic(t *testing.T) {
	var report PanicReport
	func() {
		defer RecoverPanic(func(r PanicReport) {
			report = r
		})()
		panic("inline panic")
	}()

	if report.Value != "inline panic" {
		t.Errorf("recovered value = %v, want %q", report.Value, "inline panic")
	}
}

// =============================================================================
// OutcomeWindow Tests
// =============================================================================

func TestOutcomeWindow_EmptyIsHealthy(t *testing.T) {
	w := NewOutcomeWindow(10)
	if got := w.UptimeRatio(); got != 1.0 {
		t.Errorf("empty window UptimeRatio() = %v, want 1.0", got)
	}
}

func TestOutcomeWindow_Ratio(t *testing.T) {
	w := NewOutcomeWindow(10)
	for i := 0; i < 3; i++ {
		w.Record(true)
	}
	w.Record(false)

	if got := w.UptimeRatio(); got != 0.75 {
		t.Errorf("UptimeRatio() = %v, want 0.75", got)
	}
	if got := w.Size(); got != 4 {
		t.Errorf("Size() = %d, want 4", got)
	}
}

func TestOutcomeWindow_Eviction(t *testing.T) {
	w := NewOutcomeWindow(4)

	// Fill with failures, then push healthy outcomes until the failures
	// age out of the window entirely.
	for i := 0; i < 4; i++ {
		w.Record(false)
	}
	if got := w.UptimeRatio(); got != 0.0 {
		t.Fatalf("UptimeRatio() after failures = %v, want 0.0", got)
	}

	for i := 0; i < 4; i++ {
		w.Record(true)
	}
	if got := w.UptimeRatio(); got != 1.0 {
		t.Errorf("UptimeRatio() after eviction = %v, want 1.0", got)
	}
	if got := w.Size(); got != 4 {
		t.Errorf("Size() = %d, want capacity 4", got)
	}
}

func TestOutcomeWindow_Reset(t *testing.T) {
	w := NewOutcomeWindow(4)
	w.Record(false)
	w.Reset()

	if got := w.Size(); got != 0 {
		t.Errorf("Size() after Reset = %d, want 0", got)
	}
	if got := w.UptimeRatio(); got != 1.0 {
		t.Errorf("UptimeRatio() after Reset = %v, want 1.0", got)
	}
}

func TestOutcomeWindow_InvalidCapacity(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("NewOutcomeWindow(0) did not panic")
		}
	}()
	NewOutcomeWindow(0)
}

func TestOutcomeWindow_Concurrent(t *testing.T) {
	w := NewOutcomeWindow(100)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				w.Record(j%2 == 0)
				_ = w.UptimeRatio()
			}
		}(i)
	}
	wg.Wait()

	if got := w.Size(); got != 100 {
		t.Errorf("Size() = %d, want 100", got)
	}
}

// =============================================================================
// ID Tests
// =============================================================================

func TestGenerateID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := GenerateID()
		if len(id) != 16 {
			t.Fatalf("GenerateID() length = %d, want 16", len(id))
		}
		if seen[id] {
			t.Fatalf("GenerateID() produced duplicate: %s", id)
		}
		seen[id] = true
	}
}
