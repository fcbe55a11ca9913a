// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sentinel/cmd/sentinel/config"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/api"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/integrity"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/metrics"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/schedule"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/store"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/util"
)

// protectedPathsComponent is the synthetic component integrity
// violations on protected paths are recorded under when the tampered
// file doesn't belong to a configured service.
const protectedPathsComponent = "protected-paths"

// runDaemon runs the supervisor: periodic probe cycles, the integrity
// watcher, background maintenance and the HTTP API, until SIGINT or
// SIGTERM.
func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{openStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Badger's value log GC must be driven by the daemon.
	gc, err := store.NewGCRunner(a.store.DB(), 5*time.Minute, 0.5, a.logger.Slog())
	if err != nil {
		return err
	}
	gc.Start()
	defer gc.Stop()

	scheduler, err := schedule.New(a.daemonJobs(), a.logger)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	var watcher *integrity.Watcher
	if a.guard != nil {
		watcher, err = integrity.NewWatcher(a.guard, a.violationHandler(ctx), a.logger)
		if err != nil {
			return err
		}
		watcher.SetDebounce(a.cfg.Integrity.Debounce.Duration)
		if err := watcher.Start(ctx); err != nil {
			return err
		}
		defer watcher.Stop()
	}

	var server *api.Server
	if a.cfg.API.Enabled {
		handlers := api.NewHandlers(a.store).WithGuard(a.guard)
		server = api.NewServer(a.cfg.API.Addr, handlers, a.logger)
		util.SafeGo(func() {
			if err := server.Start(); err != nil {
				a.logger.Error("api server stopped", "error", err)
			}
		}, func(r util.PanicReport) {
			a.logger.Error("api server panicked", "value", fmt.Sprint(r.Value))
		})
	}

	a.logger.Info("sentinel daemon running",
		"components", len(a.cfg.Components),
		"protected_paths", len(a.cfg.Integrity.ProtectedPaths),
		"api", a.cfg.API.Enabled)

	<-ctx.Done()
	a.logger.Info("shutdown signal received")

	if server != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("api shutdown", "error", err)
		}
	}
	return nil
}

// daemonJobs assembles the periodic work the daemon runs.
func (a *app) daemonJobs() []schedule.Job {
	jobs := []schedule.Job{
		{
			Name:       "health-check",
			Interval:   firstPositive(a.cfg.Monitor.Interval.Duration, 5*time.Minute),
			RunOnStart: true,
			Fn: func(ctx context.Context) error {
				result, err := a.monitor.RunCycle(ctx)
				if err != nil {
					return err
				}
				if result.Unhealthy > 0 {
					a.logger.Warn("probe cycle found unhealthy components",
						"unhealthy", result.Unhealthy, "probed", result.Probed)
				}
				return nil
			},
		},
		{
			Name:     "retention-sweep",
			Interval: 24 * time.Hour,
			Jitter:   time.Hour,
			Fn: func(ctx context.Context) error {
				window := firstPositive(a.cfg.Store.Retention.Duration, store.DefaultRetentionWindow)
				result, err := a.store.SweepAttempts(ctx, window, time.Now())
				if err != nil {
					return err
				}
				metrics.RetentionPrunedTotal.Add(float64(result.Pruned))
				return nil
			},
		},
	}

	if dir := config.ExpandPath(a.cfg.Log.Dir); dir != "" {
		snapshotter := metrics.NewSnapshotter(dir, a.store, a.logger)
		jobs = append(jobs, schedule.Job{
			Name:     "metrics-snapshot",
			Interval: time.Hour,
			Fn: func(ctx context.Context) error {
				return snapshotter.Write(time.Now())
			},
		})
	}

	if a.guard != nil {
		jobs = append(jobs,
			schedule.Job{
				Name:     "snapshot-rotation",
				Interval: 24 * time.Hour,
				Jitter:   time.Hour,
				Fn: func(ctx context.Context) error {
					if _, err := a.guard.Snapshot(ctx); err != nil {
						return err
					}
					_, err := a.guard.Prune()
					return err
				},
			},
			schedule.Job{
				Name:     "integrity-verify",
				Interval: time.Hour,
				Fn:       a.verifyJob,
			},
		)
	}
	return jobs
}

// verifyJob is the scheduled integrity check: an unclean report opens
// (or escalates) an incident, a clean one clears any standing violation
// flag.
func (a *app) verifyJob(ctx context.Context) error {
	report, err := a.guard.Verify(ctx, integrity.Latest)
	if err == integrity.ErrNoSnapshot {
		return nil
	}
	if err != nil {
		return err
	}

	if report.Clean() {
		health, err := a.store.GetHealth(protectedPathsComponent)
		if err == nil && health.IntegrityViolation {
			if _, err := a.store.SetIntegrityViolation(protectedPathsComponent, false, "verification clean", time.Now()); err != nil {
				return err
			}
			return a.escalator.OnSuccess(ctx, protectedPathsComponent, "verification clean", time.Now())
		}
		return nil
	}

	return a.handleViolation(ctx, report)
}

// violationHandler adapts the escalator to the watcher's callback.
func (a *app) violationHandler(ctx context.Context) integrity.ViolationHandler {
	return func(report integrity.VerifyReport) {
		if err := a.handleViolation(ctx, report); err != nil {
			a.logger.Error("integrity violation handling failed", "error", err)
		}
	}
}

func (a *app) handleViolation(ctx context.Context, report integrity.VerifyReport) error {
	paths := make([]string, 0, len(report.Mismatches))
	for _, mismatch := range report.Mismatches {
		metrics.IntegrityMismatchesTotal.WithLabelValues(string(mismatch.Kind)).Inc()
		paths = append(paths, fmt.Sprintf("%s (%s)", mismatch.Path, mismatch.Kind))
	}
	detail := fmt.Sprintf("%d path(s) diverge from snapshot %s: %s",
		len(paths), report.SnapshotID, strings.Join(paths, ", "))
	return a.escalator.OnIntegrityViolation(ctx, protectedPathsComponent, detail, time.Now())
}
