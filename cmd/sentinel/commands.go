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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath    string // --config override for the default config file
	statusJSON    bool   // status as JSON for scripting
	cronSchedule  string // cron expression for schedule install
	restoreNoWait bool   // skip the confirmation delay on restore

	rootCmd = &cobra.Command{
		Use:   "sentinel",
		Short: "A progressive self-repair supervisor for local service stacks",
		Long: `Sentinel watches configured components, repairs failures through an
				escalating three-tier ladder (cache clear, restart, snapshot restore),
				keeps an append-only audit log of every repair attempt, and guards
				protected files with checksum-verified backups.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfiguration()
		},
	}

	// --- Daemon ---
	runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the supervisor daemon (scheduler, integrity watcher, HTTP API)",
		RunE:  runDaemon, // Defined in cmd_run.go
	}

	// --- Monitoring ---
	healthMonitorCmd = &cobra.Command{
		Use:   "health-monitor",
		Short: "Run one health-check cycle across all components now",
		RunE:  runHealthMonitor, // Defined in cmd_monitor.go
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Show health, failure counters and uptime for all components",
		RunE:  runStatus, // Defined in cmd_monitor.go
	}

	// --- Integrity ---
	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Take a checksum-verified snapshot of the protected paths",
		RunE:  runBackup, // Defined in cmd_integrity.go
	}
	restoreCmd = &cobra.Command{
		Use:   "restore [snapshot-id|latest]",
		Short: "Restore protected paths from a snapshot (all-or-nothing)",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore, // Defined in cmd_integrity.go
	}
	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Verify protected paths against the latest snapshot manifest",
		RunE:  runVerify, // Defined in cmd_integrity.go
	}

	// --- Maintenance ---
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Manual retention sweeps",
	}
	cleanupLogsCmd = &cobra.Command{
		Use:   "logs",
		Short: "Prune old audit rows and metrics snapshot files",
		RunE:  runCleanupLogs, // Defined in cmd_maintenance.go
	}
	cleanupBackupsCmd = &cobra.Command{
		Use:   "backups",
		Short: "Prune old snapshots beyond the configured keep count",
		RunE:  runCleanupBackups, // Defined in cmd_maintenance.go
	}

	// --- Host Scheduling ---
	scheduleCmd = &cobra.Command{
		Use:   "schedule",
		Short: "Manage the crontab entry that runs periodic health checks",
	}
	scheduleInstallCmd = &cobra.Command{
		Use:   "install",
		Short: "Install a crontab entry invoking 'sentinel health-monitor'",
		RunE:  runScheduleInstall, // Defined in cmd_maintenance.go
	}
	scheduleRemoveCmd = &cobra.Command{
		Use:   "remove",
		Short: "Remove the managed crontab entry",
		RunE:  runScheduleRemove, // Defined in cmd_maintenance.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to a config file (default ~/.sentinel/sentinel.yaml)")

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON for scripting")
	restoreCmd.Flags().BoolVar(&restoreNoWait, "yes", false, "do not ask for confirmation")
	scheduleInstallCmd.Flags().StringVar(&cronSchedule, "schedule", "",
		"cron expression (default every five minutes)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthMonitorCmd)
	rootCmd.AddCommand(statusCmd)

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(verifyCmd)

	rootCmd.AddCommand(cleanupCmd)
	cleanupCmd.AddCommand(cleanupLogsCmd)
	cleanupCmd.AddCommand(cleanupBackupsCmd)

	rootCmd.AddCommand(scheduleCmd)
	scheduleCmd.AddCommand(scheduleInstallCmd)
	scheduleCmd.AddCommand(scheduleRemoveCmd)
}
