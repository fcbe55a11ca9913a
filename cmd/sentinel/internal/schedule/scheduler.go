// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schedule runs named periodic jobs inside the supervisor
// daemon: the probe cycle, the retention sweep, metrics snapshots and
// snapshot rotation.
package schedule

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/util"
	"github.com/AleutianAI/sentinel/pkg/logging"
)

// Job is one periodic task.
type Job struct {
	// Name identifies the job in logs.
	Name string

	// Interval is the period between runs. Must be positive.
	Interval time.Duration

	// Jitter, when positive, delays each run by a random amount up to
	// this value so jobs don't align into load spikes.
	Jitter time.Duration

	// RunOnStart runs the job once immediately when the scheduler starts
	// instead of waiting a full interval.
	RunOnStart bool

	// Fn does the work. Errors and panics are logged, never fatal; the
	// job keeps its schedule.
	Fn func(ctx context.Context) error
}

// Scheduler runs jobs on their intervals until stopped.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine. Start is
// idempotent-hostile by design: calling it twice is a programming error
// and returns an error.
type Scheduler struct {
	jobs   []Job
	logger *logging.Logger

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a Scheduler.
func New(jobs []Job, logger *logging.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logging.Default()
	}
	for _, job := range jobs {
		if job.Name == "" {
			return nil, fmt.Errorf("job with empty name")
		}
		if job.Interval <= 0 {
			return nil, fmt.Errorf("job %s: interval must be positive", job.Name)
		}
		if job.Fn == nil {
			return nil, fmt.Errorf("job %s: fn is required", job.Name)
		}
	}
	return &Scheduler{jobs: jobs, logger: logger}, nil
}

// Start launches one goroutine per job. The jobs stop when Stop is
// called or the parent context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, job := range s.jobs {
		job := job
		s.wg.Add(1)
		util.SafeGo(func() {
			defer s.wg.Done()
			s.run(ctx, job)
		}, func(r util.PanicReport) {
			s.logger.Error("scheduled job panicked",
				"job", job.Name, "panic", fmt.Sprint(r.Value))
		})
	}
	s.logger.Info("scheduler started", "jobs", len(s.jobs))
	return nil
}

// Stop cancels all jobs and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started || s.cancel == nil {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// run is one job's loop.
func (s *Scheduler) run(ctx context.Context, job Job) {
	if job.RunOnStart {
		s.runOnce(ctx, job)
	}

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if job.Jitter > 0 {
				delay := time.Duration(rand.Int63n(int64(job.Jitter)))
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			s.runOnce(ctx, job)
		}
	}
}

// runOnce executes a single run, logging duration and errors. Recovery
// lives here, per run, so a panicking run costs one tick and not the
// job's whole schedule.
func (s *Scheduler) runOnce(ctx context.Context, job Job) {
	if ctx.Err() != nil {
		return
	}
	defer util.RecoverPanic(func(r util.PanicReport) {
		s.logger.Error("scheduled job panicked",
			"job", job.Name, "panic", fmt.Sprint(r.Value))
	})()

	started := time.Now()
	err := job.Fn(ctx)
	elapsed := time.Since(started)

	if err != nil {
		s.logger.Error("scheduled job failed",
			"job", job.Name, "duration", elapsed.String(), "error", err)
		return
	}
	s.logger.Debug("scheduled job completed",
		"job", job.Name, "duration", elapsed.String())
}
