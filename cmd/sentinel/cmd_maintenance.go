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
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sentinel/cmd/sentinel/config"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/metrics"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/process"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/schedule"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/store"
)

// runCleanupLogs sweeps old audit rows from the store and old metrics
// snapshot files from the log directory.
func runCleanupLogs(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{openStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	window := a.cfg.Store.Retention.Duration
	if window <= 0 {
		window = store.DefaultRetentionWindow
	}

	result, err := a.store.SweepAttempts(cmd.Context(), window, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("Retention sweep: scanned %d audit rows, pruned %d (older than %s)\n",
		result.Scanned, result.Pruned, window)

	if dir := config.ExpandPath(a.cfg.Log.Dir); dir != "" {
		removed, err := metrics.PruneLogs(dir, window, time.Now())
		if err != nil {
			return err
		}
		fmt.Printf("Removed %d old snapshot log file(s) from %s\n", removed, dir)
	}
	return nil
}

// runCleanupBackups prunes snapshots beyond the configured keep count.
func runCleanupBackups(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	guard, err := a.requireGuard()
	if err != nil {
		return err
	}

	pruned, err := guard.Prune()
	if err != nil {
		return err
	}
	fmt.Printf("Pruned %d snapshot(s), keeping the %d newest\n",
		pruned, a.cfg.Integrity.KeepSnapshots)
	return nil
}

// runScheduleInstall registers the crontab entry driving periodic
// health checks on hosts where the daemon isn't running.
func runScheduleInstall(cmd *cobra.Command, args []string) error {
	binary, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate the sentinel binary: %w", err)
	}

	expr := cronSchedule
	if expr == "" {
		expr = schedule.DefaultCronSchedule
	}

	crontab := schedule.NewCrontab(&process.ExecController{})
	if err := crontab.Install(cmd.Context(), expr, binary+" health-monitor"); err != nil {
		return err
	}
	fmt.Printf("Installed crontab entry: %s %s health-monitor\n", expr, binary)
	return nil
}

// runScheduleRemove removes the managed crontab entry.
func runScheduleRemove(cmd *cobra.Command, args []string) error {
	crontab := schedule.NewCrontab(&process.ExecController{})

	installed, err := crontab.Installed(cmd.Context())
	if err != nil {
		return err
	}
	if !installed {
		fmt.Println("No managed crontab entry found.")
		return nil
	}

	if err := crontab.Remove(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Removed the managed crontab entry.")
	return nil
}
