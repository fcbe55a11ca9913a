// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"sync"
	"testing"
	"time"

	"github.com/AleutianAI/sentinel/pkg/logging"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := OpenInMemoryDB()
	if err != nil {
		t.Fatalf("OpenInMemoryDB() error = %v", err)
	}
	s := New(db, logging.New(logging.Config{Quiet: true}))
	t.Cleanup(func() { s.Close() })
	return s
}

// =============================================================================
// Status Derivation Tests
// =============================================================================

func TestStatusFor(t *testing.T) {
	tests := []struct {
		failures int
		want     Status
	}{
		{0, StatusHealthy},
		{-1, StatusHealthy},
		{1, StatusDegraded},
		{2, StatusDegraded},
		{3, StatusFailing},
		{4, StatusFailing},
		{5, StatusFailing},
		{6, StatusCritical},
		{100, StatusCritical},
	}

	for _, tt := range tests {
		if got := StatusFor(tt.failures); got != tt.want {
			t.Errorf("StatusFor(%d) = %v, want %v", tt.failures, got, tt.want)
		}
	}
}

// =============================================================================
// Probe Recording Tests
// =============================================================================

// TestRecordProbe_StatusWalk verifies the status classification follows
// the failure counter through degraded, failing, and critical, and that
// a single success resets it to healthy.
func TestRecordProbe_StatusWalk(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	wantStatus := []Status{
		StatusDegraded, StatusDegraded, // 1, 2
		StatusFailing, StatusFailing, StatusFailing, // 3, 4, 5
		StatusCritical, // 6
	}
	for i, want := range wantStatus {
		health, err := s.RecordProbe("vectordb", false, "connection refused", now.Add(time.Duration(i)*time.Minute))
		if err != nil {
			t.Fatalf("RecordProbe() error = %v", err)
		}
		if health.Status != want {
			t.Errorf("after %d failures: Status = %v, want %v", i+1, health.Status, want)
		}
		if health.ConsecutiveFailures != i+1 {
			t.Errorf("ConsecutiveFailures = %d, want %d", health.ConsecutiveFailures, i+1)
		}
	}

	health, err := s.RecordProbe("vectordb", true, "ok", now.Add(time.Hour))
	if err != nil {
		t.Fatalf("RecordProbe() error = %v", err)
	}
	if health.Status != StatusHealthy {
		t.Errorf("Status after success = %v, want %v", health.Status, StatusHealthy)
	}
	if health.ConsecutiveFailures != 0 {
		t.Errorf("ConsecutiveFailures after success = %d, want 0", health.ConsecutiveFailures)
	}
	// Lifetime counter is never reset.
	if health.TotalFailures != len(wantStatus) {
		t.Errorf("TotalFailures = %d, want %d", health.TotalFailures, len(wantStatus))
	}
}

func TestRecordProbe_CreatesUnknownComponent(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.GetHealth("fresh"); err != ErrComponentUnknown {
		t.Fatalf("GetHealth(unknown) error = %v, want ErrComponentUnknown", err)
	}

	health, err := s.RecordProbe("fresh", true, "ok", time.Now())
	if err != nil {
		t.Fatalf("RecordProbe() error = %v", err)
	}
	if health.ComponentName != "fresh" || health.Status != StatusHealthy {
		t.Errorf("unexpected new record: %+v", health)
	}
	if health.Version != SchemaVersion {
		t.Errorf("Version = %q, want %q", health.Version, SchemaVersion)
	}
}

func TestRecordProbe_UptimeWindow(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	for i := 0; i < 3; i++ {
		s.RecordProbe("api", true, "ok", now)
	}
	health, err := s.RecordProbe("api", false, "timeout", now)
	if err != nil {
		t.Fatalf("RecordProbe() error = %v", err)
	}
	if health.UptimePercentage != 75 {
		t.Errorf("UptimePercentage = %v, want 75", health.UptimePercentage)
	}
}

func TestSetIntegrityViolation_ForcesCritical(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	// A single failure on its own is only degraded.
	s.RecordProbe("configstore", false, "bad read", now)

	health, err := s.SetIntegrityViolation("configstore", true, "digest mismatch: config.yaml", now)
	if err != nil {
		t.Fatalf("SetIntegrityViolation() error = %v", err)
	}
	if health.Status != StatusCritical {
		t.Errorf("Status = %v, want %v", health.Status, StatusCritical)
	}

	// Status stays critical even as probes succeed, until the flag clears.
	health, _ = s.RecordProbe("configstore", true, "ok", now.Add(time.Minute))
	if health.Status != StatusCritical {
		t.Errorf("Status with violation flag = %v, want %v", health.Status, StatusCritical)
	}

	health, err = s.SetIntegrityViolation("configstore", false, "verify clean", now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("SetIntegrityViolation(clear) error = %v", err)
	}
	if health.Status != StatusHealthy {
		t.Errorf("Status after clear = %v, want %v", health.Status, StatusHealthy)
	}
}

func TestListHealth(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	s.RecordProbe("alpha", true, "ok", now)
	s.RecordProbe("beta", false, "down", now)

	all, err := s.ListHealth()
	if err != nil {
		t.Fatalf("ListHealth() error = %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("ListHealth() returned %d records, want 2", len(all))
	}
	if all[0].ComponentName != "alpha" || all[1].ComponentName != "beta" {
		t.Errorf("ListHealth() order = %s, %s; want alpha, beta",
			all[0].ComponentName, all[1].ComponentName)
	}
}

// =============================================================================
// Repair Attempt Tests
// =============================================================================

// TestAppendAttempt_DurableBeforeCompletion verifies the audit row exists
// with an empty outcome before the action completes, then carries the
// outcome afterwards.
func TestAppendAttempt_DurableBeforeCompletion(t *testing.T) {
	s := newTestStore(t)

	attempt := &RepairAttempt{
		IncidentID:    "inc-1",
		ComponentName: "cache",
		ErrorMessage:  "probe timeout",
		ErrorType:     ErrorTypeProbe,
		RepairTier:    1,
		RepairAction:  "clear_cache",
	}
	if err := s.AppendAttempt(attempt); err != nil {
		t.Fatalf("AppendAttempt() error = %v", err)
	}
	if attempt.ID == "" || attempt.CreatedAt.IsZero() {
		t.Fatalf("AppendAttempt() did not assign identity: %+v", attempt)
	}

	rows, err := s.ListAttempts("cache", 0)
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("ListAttempts() returned %d rows, want 1", len(rows))
	}
	if rows[0].RepairOutcome != "" {
		t.Errorf("outcome set before completion: %v", rows[0].RepairOutcome)
	}

	attempt.RepairOutcome = OutcomeSuccess
	attempt.RepairDurationSeconds = 1.5
	attempt.ExecutionDetails = "removed 42 stale entries"
	if err := s.CompleteAttempt(attempt); err != nil {
		t.Fatalf("CompleteAttempt() error = %v", err)
	}

	rows, _ = s.ListAttempts("cache", 0)
	if rows[0].RepairOutcome != OutcomeSuccess {
		t.Errorf("outcome = %v, want %v", rows[0].RepairOutcome, OutcomeSuccess)
	}
	if rows[0].RepairDurationSeconds != 1.5 {
		t.Errorf("duration = %v, want 1.5", rows[0].RepairDurationSeconds)
	}
}

func TestCompleteAttempt_NotFound(t *testing.T) {
	s := newTestStore(t)

	attempt := &RepairAttempt{
		ID:            "never-written",
		ComponentName: "cache",
		CreatedAt:     time.Now(),
	}
	if err := s.CompleteAttempt(attempt); err != ErrAttemptNotFound {
		t.Errorf("CompleteAttempt() error = %v, want ErrAttemptNotFound", err)
	}
}

func TestListAttempts_NewestFirstAndLimit(t *testing.T) {
	s := newTestStore(t)
	base := time.Now()

	for i := 0; i < 5; i++ {
		attempt := &RepairAttempt{
			ComponentName: "db",
			RepairTier:    1,
			RepairAction:  "clear_cache",
			CreatedAt:     base.Add(time.Duration(i) * time.Second),
		}
		if err := s.AppendAttempt(attempt); err != nil {
			t.Fatalf("AppendAttempt() error = %v", err)
		}
	}

	rows, err := s.ListAttempts("db", 3)
	if err != nil {
		t.Fatalf("ListAttempts() error = %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("ListAttempts(limit=3) returned %d rows", len(rows))
	}
	for i := 1; i < len(rows); i++ {
		if rows[i].CreatedAt.After(rows[i-1].CreatedAt) {
			t.Errorf("rows not newest-first: %v before %v", rows[i-1].CreatedAt, rows[i].CreatedAt)
		}
	}
}

// =============================================================================
// Incident Lifecycle Tests
// =============================================================================

func TestIncidentLifecycle(t *testing.T) {
	s := newTestStore(t)
	opened := time.Now()

	if _, err := s.GetIncident("vectordb"); err != ErrNoIncident {
		t.Fatalf("GetIncident() error = %v, want ErrNoIncident", err)
	}

	incident, err := s.OpenIncident("vectordb", opened)
	if err != nil {
		t.Fatalf("OpenIncident() error = %v", err)
	}
	if incident.Tier != 1 || incident.ID == "" {
		t.Fatalf("unexpected new incident: %+v", incident)
	}

	// Attempts belonging to this incident, plus one from an older,
	// already-resolved incident that must not be restamped.
	older := time.Now().Add(-time.Hour)
	oldResolved := older.Add(time.Minute)
	oldAttempt := &RepairAttempt{
		IncidentID:    "previous-incident",
		ComponentName: "vectordb",
		RepairTier:    1,
		CreatedAt:     older,
		ResolvedAt:    &oldResolved,
	}
	if err := s.AppendAttempt(oldAttempt); err != nil {
		t.Fatalf("AppendAttempt() error = %v", err)
	}

	for tier := 1; tier <= 2; tier++ {
		attempt := &RepairAttempt{
			IncidentID:    incident.ID,
			ComponentName: "vectordb",
			RepairTier:    tier,
			CreatedAt:     opened.Add(time.Duration(tier) * time.Minute),
		}
		if err := s.AppendAttempt(attempt); err != nil {
			t.Fatalf("AppendAttempt() error = %v", err)
		}
	}

	// Health row must exist for recovery folding.
	s.RecordProbe("vectordb", false, "down", opened)

	resolvedAt := opened.Add(10 * time.Minute)
	closed, err := s.CloseIncident("vectordb", resolvedAt)
	if err != nil {
		t.Fatalf("CloseIncident() error = %v", err)
	}
	if closed.ID != incident.ID {
		t.Errorf("closed incident ID = %s, want %s", closed.ID, incident.ID)
	}

	if _, err := s.GetIncident("vectordb"); err != ErrNoIncident {
		t.Errorf("incident record survived close: err = %v", err)
	}

	rows, _ := s.ListAttempts("vectordb", 0)
	for _, row := range rows {
		switch row.IncidentID {
		case incident.ID:
			if row.ResolvedAt == nil || !row.ResolvedAt.Equal(resolvedAt) {
				t.Errorf("attempt %s resolved_at = %v, want %v", row.ID, row.ResolvedAt, resolvedAt)
			}
		case "previous-incident":
			if !row.ResolvedAt.Equal(oldResolved) {
				t.Errorf("old attempt restamped: %v", row.ResolvedAt)
			}
		}
	}

	health, _ := s.GetHealth("vectordb")
	if health.RecoveryCount != 1 {
		t.Errorf("RecoveryCount = %d, want 1", health.RecoveryCount)
	}
	if health.RecoveryTimeAvg != resolvedAt.Sub(opened).Seconds() {
		t.Errorf("RecoveryTimeAvg = %v, want %v", health.RecoveryTimeAvg, resolvedAt.Sub(opened).Seconds())
	}
}

func TestRecoveryTimeAvg_IncrementalMean(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	s.RecordProbe("api", false, "down", now)

	// Two incidents: 100s and 200s. Mean should land on 150.
	for i, dur := range []time.Duration{100 * time.Second, 200 * time.Second} {
		opened := now.Add(time.Duration(i) * time.Hour)
		if _, err := s.OpenIncident("api", opened); err != nil {
			t.Fatalf("OpenIncident() error = %v", err)
		}
		if _, err := s.CloseIncident("api", opened.Add(dur)); err != nil {
			t.Fatalf("CloseIncident() error = %v", err)
		}
	}

	health, _ := s.GetHealth("api")
	if health.RecoveryTimeAvg != 150 {
		t.Errorf("RecoveryTimeAvg = %v, want 150", health.RecoveryTimeAvg)
	}
	if health.RecoveryCount != 2 {
		t.Errorf("RecoveryCount = %d, want 2", health.RecoveryCount)
	}
}

// =============================================================================
// Concurrency Tests
// =============================================================================

// TestRecordProbe_ConcurrentSameComponent verifies the per-component lock
// serializes writes: no lost updates on the failure counters.
func TestRecordProbe_ConcurrentSameComponent(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	const writers = 8
	const probesEach = 25

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < probesEach; j++ {
				if _, err := s.RecordProbe("shared", false, "down", now); err != nil {
					t.Errorf("RecordProbe() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	health, err := s.GetHealth("shared")
	if err != nil {
		t.Fatalf("GetHealth() error = %v", err)
	}
	if health.TotalFailures != writers*probesEach {
		t.Errorf("TotalFailures = %d, want %d (lost updates)", health.TotalFailures, writers*probesEach)
	}
	if health.ConsecutiveFailures != writers*probesEach {
		t.Errorf("ConsecutiveFailures = %d, want %d", health.ConsecutiveFailures, writers*probesEach)
	}
}
