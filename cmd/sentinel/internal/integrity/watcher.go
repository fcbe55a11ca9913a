// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package integrity

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/util"
	"github.com/AleutianAI/sentinel/pkg/logging"
)

// DefaultDebounceWindow batches rapid write bursts (editors, log
// rotation) into a single verification pass.
const DefaultDebounceWindow = 2 * time.Second

// ViolationHandler receives the report of an unclean verification
// triggered by an out-of-band change to a protected path.
type ViolationHandler func(report VerifyReport)

// Watcher reacts to out-of-band writes on protected paths.
//
// # Description
//
// Registers fsnotify watches on the parent directories of every
// protected path (parents, not the files themselves, so deletion and
// recreation keep being observed). Events touching a protected path are
// debounced, then a Verify runs against the latest snapshot; an unclean
// report is handed to the violation handler immediately rather than
// waiting for the next scheduled cycle.
//
// # Thread Safety
//
// Start may be called once. Stop is safe to call concurrently with event
// processing and waits for the event loop to exit.
type Watcher struct {
	guard     *Guard
	onHit     ViolationHandler
	debounce  time.Duration
	logger    *logging.Logger
	protected map[string]bool
	roots     map[string]bool

	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewWatcher creates a Watcher over the guard's protected paths.
//
// onViolation must be non-nil; a watcher that observes violations and
// tells nobody is worse than no watcher, because it looks like coverage.
func NewWatcher(guard *Guard, onViolation ViolationHandler, logger *logging.Logger) (*Watcher, error) {
	if guard == nil {
		return nil, errors.New("guard must not be nil")
	}
	if onViolation == nil {
		return nil, errors.New("violation handler must not be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}

	w := &Watcher{
		guard:     guard,
		onHit:     onViolation,
		debounce:  DefaultDebounceWindow,
		logger:    logger,
		protected: make(map[string]bool),
		roots:     make(map[string]bool),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	for _, p := range guard.paths {
		w.protected[filepath.Clean(p)] = true
		info, err := os.Stat(p)
		if err == nil && info.IsDir() {
			w.roots[filepath.Clean(p)] = true
		}
		w.roots[filepath.Dir(filepath.Clean(p))] = true
	}
	return w, nil
}

// SetDebounce overrides the debounce window. Must be called before
// Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// Start registers the watches and begins processing events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return errors.New("watcher already started")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	for root := range w.roots {
		if err := fsw.Add(root); err != nil {
			fsw.Close()
			return fmt.Errorf("watch %s: %w", root, err)
		}
	}

	w.watcher = fsw
	w.started = true

	util.SafeGo(func() {
		w.run(ctx)
	}, func(r util.PanicReport) {
		// run's deferred close of doneCh fires during unwinding, so
		// Stop never blocks; closing it here too would double-close.
		w.logger.Error("integrity watcher panicked", "value", r.Value, "stack", r.Stack)
	})

	w.logger.Info("integrity watcher started", "roots", len(w.roots))
	return nil
}

// Stop halts event processing and releases the watches.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
}

// relevant reports whether an fsnotify event touches a protected path.
func (w *Watcher) relevant(name string) bool {
	clean := filepath.Clean(name)
	if w.protected[clean] {
		return true
	}
	// Files below a protected directory.
	for root := range w.protected {
		rel, err := filepath.Rel(root, clean)
		if err == nil && rel != ".." && !filepath.IsAbs(rel) && rel != "." && !hasDotDotPrefix(rel) {
			if info, err := os.Stat(root); err == nil && info.IsDir() {
				return true
			}
		}
	}
	return false
}

func hasDotDotPrefix(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)
	defer w.watcher.Close()

	var timer *time.Timer
	var timerCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) &&
				!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Create) {
				continue
			}
			if !w.relevant(event.Name) {
				continue
			}
			w.logger.Debug("protected path touched", "path", event.Name, "op", event.Op.String())
			// Reset or start the debounce timer.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerCh = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("integrity watcher error", "error", err)

		case <-timerCh:
			timer = nil
			timerCh = nil
			w.verify(ctx)
		}
	}
}

// verify runs an on-demand verification against the latest snapshot and
// reports violations.
func (w *Watcher) verify(ctx context.Context) {
	report, err := w.guard.Verify(ctx, Latest)
	if err == ErrNoSnapshot {
		w.logger.Warn("protected path changed but no snapshot exists to verify against")
		return
	}
	if err != nil {
		w.logger.Error("on-demand verification failed", "error", err)
		return
	}
	if report.Clean() {
		w.logger.Debug("on-demand verification clean", "snapshot", report.SnapshotID)
		return
	}

	w.logger.Warn("integrity violation detected",
		"snapshot", report.SnapshotID,
		"mismatches", len(report.Mismatches))
	w.onHit(report)
}
