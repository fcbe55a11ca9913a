// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package util provides small shared helpers for the sentinel supervisor:
// panic-safe goroutine launching, a sliding window over probe outcomes,
// and identifier generation.
package util

import (
	"context"
	"runtime/debug"
)

// =============================================================================
// Panic Recovery
// =============================================================================

// PanicReport captures a recovered panic from a background goroutine.
//
// # Description
//
// Holds the panic value and the full stack trace at panic time. Passed
// to panic handlers so a crashed scheduler job or probe worker can be
// logged with enough context to debug, without taking down the daemon.
//
// # Thread Safety
//
// PanicReport is immutable after creation and safe for concurrent reads.
type PanicReport struct {
	// Value is the value passed to panic(). May be any type.
	Value interface{}

	// Stack is the stack trace captured by runtime/debug.Stack().
	Stack string
}

// SafeGo runs fn in a goroutine with panic recovery.
//
// # Description
//
// A supervisor whose own background jobs can crash it is worse than no
// supervisor. SafeGo wraps fn in a deferred recover; if fn panics, the
// panic is delivered to onPanic instead of terminating the process.
//
// # Inputs
//
//   - fn: The function to execute in the goroutine
//   - onPanic: Callback invoked if fn panics (may be nil to recover silently)
//
// # Limitations
//
//   - onPanic runs synchronously in the recovered goroutine
//   - If onPanic itself panics, the process will crash
//
// # Assumptions
//
//   - fn is non-nil
func SafeGo(fn func(), onPanic func(PanicReport)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if onPanic != nil {
					onPanic(PanicReport{Value: r, Stack: string(debug.Stack())})
				}
			}
		}()
		fn()
	}()
}

// SafeGoWithContext is like SafeGo but skips execution if ctx is already
// cancelled when the goroutine starts.
//
// # Limitations
//
//   - Only checks the context once at start; fn must watch ctx.Done()
//     itself for long operations
func SafeGoWithContext(ctx context.Context, fn func(), onPanic func(PanicReport)) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				if onPanic != nil {
					onPanic(PanicReport{Value: r, Stack: string(debug.Stack())})
				}
			}
		}()

		select {
		case <-ctx.Done():
			return
		default:
			fn()
		}
	}()
}

// RecoverPanic returns a function suitable for defer that recovers panics
// and passes them to onPanic.
//
// # Example
//
//	func runJob() {
//	    defer RecoverPanic(func(r PanicReport) {
//	        logger.Error("job panicked", "value", r.Value)
//	    })()
//	    // ...
//	}
//
// # Limitations
//
//   - Must be called with () after defer: defer RecoverPanic(handler)()
func RecoverPanic(onPanic func(PanicReport)) func() {
	return func() {
		if r := recover(); r != nil {
			if onPanic != nil {
				onPanic(PanicReport{Value: r, Stack: string(debug.Stack())})
			}
		}
	}
}
