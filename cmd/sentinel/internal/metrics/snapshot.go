// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/store"
	"github.com/AleutianAI/sentinel/pkg/logging"
)

// SnapshotRow is one JSONL line in a health snapshot file.
//
// Prometheus scrapes answer "what is happening"; the JSONL snapshots
// answer "what was the health table at hour X" long after the scrape
// window has rolled over, without needing a metrics backend.
type SnapshotRow struct {
	Timestamp           time.Time    `json:"timestamp"`
	Component           string       `json:"component"`
	Status              store.Status `json:"status"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	TotalFailures       int          `json:"total_failures"`
	UptimePercentage    float64      `json:"uptime_percentage"`
	RecoveryTimeAvg     float64      `json:"recovery_time_avg"`
}

// Snapshotter appends periodic health-table snapshots to a dated JSONL
// file.
type Snapshotter struct {
	dir    string
	store  *store.Store
	logger *logging.Logger
}

// NewSnapshotter creates a Snapshotter writing into dir.
func NewSnapshotter(dir string, st *store.Store, logger *logging.Logger) *Snapshotter {
	if logger == nil {
		logger = logging.Default()
	}
	return &Snapshotter{dir: dir, store: st, logger: logger}
}

// Write appends one snapshot of the full health table.
//
// Each component becomes one JSONL line in snapshots_{date}.jsonl.
// Failures are returned, not fatal: a snapshot is bookkeeping, and the
// scheduler logs and moves on.
func (s *Snapshotter) Write(now time.Time) error {
	healths, err := s.store.ListHealth()
	if err != nil {
		return fmt.Errorf("snapshot health table: %w", err)
	}
	if len(healths) == 0 {
		return nil
	}

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}
	path := filepath.Join(s.dir, "snapshots_"+now.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
	if err != nil {
		return fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, h := range healths {
		row := SnapshotRow{
			Timestamp:           now,
			Component:           h.ComponentName,
			Status:              h.Status,
			ConsecutiveFailures: h.ConsecutiveFailures,
			TotalFailures:       h.TotalFailures,
			UptimePercentage:    h.UptimePercentage,
			RecoveryTimeAvg:     h.RecoveryTimeAvg,
		}
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("write snapshot row: %w", err)
		}
	}

	s.logger.Debug("health snapshot written", "file", path, "components", len(healths))
	return nil
}

// PruneLogs removes snapshot and log files in dir older than maxAge.
// Used by the cleanup command.
func PruneLogs(dir string, maxAge time.Duration, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", dir, err)
	}

	removed := 0
	cutoff := now.Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil {
				return removed, fmt.Errorf("remove %s: %w", entry.Name(), err)
			}
			removed++
		}
	}
	return removed, nil
}
