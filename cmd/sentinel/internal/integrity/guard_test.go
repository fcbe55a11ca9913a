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
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/AleutianAI/sentinel/pkg/logging"
)

type guardFixture struct {
	guard *Guard
	live  string
	files map[string]string // relative name -> content
}

func newGuardFixture(t *testing.T, keep int) *guardFixture {
	t.Helper()

	live := t.TempDir()
	files := map[string]string{
		"config.yaml":   "components:\n  - vectordb\n",
		"rules/base.cf": "threshold 5\n",
	}
	var protected []string
	for name, content := range files {
		path := filepath.Join(live, name)
		if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0640); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		protected = append(protected, path)
	}

	guard, err := NewGuard(GuardConfig{
		ProtectedPaths: protected,
		BackupRoot:     t.TempDir(),
		KeepSnapshots:  keep,
	}, logging.New(logging.Config{Quiet: true}))
	if err != nil {
		t.Fatalf("NewGuard() error = %v", err)
	}
	return &guardFixture{guard: guard, live: live, files: files}
}

func (f *guardFixture) path(name string) string {
	return filepath.Join(f.live, name)
}

// =============================================================================
// Snapshot + Verify Tests
// =============================================================================

// TestSnapshotVerify_RoundTrip verifies an untouched file set checks out
// clean against its own snapshot.
func TestSnapshotVerify_RoundTrip(t *testing.T) {
	f := newGuardFixture(t, 0)
	ctx := context.Background()

	manifest, err := f.guard.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if len(manifest.Digests) != len(f.files) {
		t.Fatalf("manifest has %d digests, want %d", len(manifest.Digests), len(f.files))
	}

	report, err := f.guard.Verify(ctx, Latest)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if !report.Clean() {
		t.Errorf("Verify() on untouched files not clean: %+v", report.Mismatches)
	}
	if report.Checked != len(f.files) {
		t.Errorf("Checked = %d, want %d", report.Checked, len(f.files))
	}
	if report.SnapshotID != manifest.ID {
		t.Errorf("SnapshotID = %s, want %s", report.SnapshotID, manifest.ID)
	}
}

// TestVerify_SingleCorruptByte verifies that flipping one byte flags
// exactly that path as modified and nothing else.
func TestVerify_SingleCorruptByte(t *testing.T) {
	f := newGuardFixture(t, 0)
	ctx := context.Background()

	if _, err := f.guard.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	target := f.path("config.yaml")
	data, _ := os.ReadFile(target)
	data[0] ^= 0xff
	if err := os.WriteFile(target, data, 0640); err != nil {
		t.Fatalf("corrupt file: %v", err)
	}

	report, err := f.guard.Verify(ctx, Latest)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(report.Mismatches) != 1 {
		t.Fatalf("Mismatches = %d, want exactly 1: %+v", len(report.Mismatches), report.Mismatches)
	}
	m := report.Mismatches[0]
	if m.Path != target {
		t.Errorf("mismatch path = %s, want %s", m.Path, target)
	}
	if m.Kind != MismatchModified {
		t.Errorf("mismatch kind = %s, want %s", m.Kind, MismatchModified)
	}
}

func TestVerify_MissingFile(t *testing.T) {
	f := newGuardFixture(t, 0)
	ctx := context.Background()

	f.guard.Snapshot(ctx)
	os.Remove(f.path("rules/base.cf"))

	report, err := f.guard.Verify(ctx, Latest)
	if err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
	if len(report.Mismatches) != 1 || report.Mismatches[0].Kind != MismatchMissing {
		t.Errorf("want single missing mismatch, got %+v", report.Mismatches)
	}
}

func TestVerify_NoSnapshot(t *testing.T) {
	f := newGuardFixture(t, 0)
	if _, err := f.guard.Verify(context.Background(), Latest); err != ErrNoSnapshot {
		t.Errorf("Verify() error = %v, want ErrNoSnapshot", err)
	}
}

// =============================================================================
// Restore Tests
// =============================================================================

// TestRestore_CorruptThenRestore is the corruption round trip: corrupt a
// protected file, restore latest, verify clean and content recovered.
func TestRestore_CorruptThenRestore(t *testing.T) {
	f := newGuardFixture(t, 0)
	ctx := context.Background()

	if _, err := f.guard.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	target := f.path("config.yaml")
	if err := os.WriteFile(target, []byte("tampered\n"), 0640); err != nil {
		t.Fatalf("tamper: %v", err)
	}
	os.Remove(f.path("rules/base.cf"))

	manifest, err := f.guard.Restore(ctx, Latest)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	report, err := f.guard.Verify(ctx, manifest.ID)
	if err != nil {
		t.Fatalf("Verify() after restore error = %v", err)
	}
	if !report.Clean() {
		t.Errorf("Verify() after restore not clean: %+v", report.Mismatches)
	}

	restored, _ := os.ReadFile(target)
	if string(restored) != f.files["config.yaml"] {
		t.Errorf("restored content = %q, want %q", restored, f.files["config.yaml"])
	}

	// The aside copies are removed on success.
	if _, err := os.Stat(target + ".pre-restore"); !os.IsNotExist(err) {
		t.Errorf("pre-restore aside left behind")
	}
}

// TestRestore_CorruptBackupAborts verifies a snapshot that fails its own
// digest check never touches the live files.
func TestRestore_CorruptBackupAborts(t *testing.T) {
	f := newGuardFixture(t, 0)
	ctx := context.Background()

	manifest, err := f.guard.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	// Corrupt the stored copy inside the snapshot.
	stored := dataPath(filepath.Join(f.guard.backupRoot, manifest.ID), f.path("config.yaml"))
	if err := os.WriteFile(stored, []byte("rotten backup"), 0640); err != nil {
		t.Fatalf("corrupt backup: %v", err)
	}

	liveBefore, _ := os.ReadFile(f.path("config.yaml"))

	if _, err := f.guard.Restore(ctx, manifest.ID); err == nil {
		t.Fatal("Restore() of corrupt snapshot did not error")
	}

	liveAfter, _ := os.ReadFile(f.path("config.yaml"))
	if string(liveBefore) != string(liveAfter) {
		t.Error("live file modified by aborted restore")
	}
}

func TestRestore_NoSnapshot(t *testing.T) {
	f := newGuardFixture(t, 0)
	if _, err := f.guard.Restore(context.Background(), Latest); err != ErrNoSnapshot {
		t.Errorf("Restore() error = %v, want ErrNoSnapshot", err)
	}
}

func TestRestore_NamedSnapshot(t *testing.T) {
	f := newGuardFixture(t, 0)
	ctx := context.Background()

	first, err := f.guard.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	// Change content and snapshot again: two generations.
	time.Sleep(5 * time.Millisecond) // distinct snapshot IDs
	os.WriteFile(f.path("config.yaml"), []byte("generation two\n"), 0640)
	if _, err := f.guard.Snapshot(ctx); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	// Restoring the first generation brings back the original content.
	if _, err := f.guard.Restore(ctx, first.ID); err != nil {
		t.Fatalf("Restore(%s) error = %v", first.ID, err)
	}
	data, _ := os.ReadFile(f.path("config.yaml"))
	if string(data) != f.files["config.yaml"] {
		t.Errorf("restored content = %q, want first generation", data)
	}
}

// =============================================================================
// Rotation Tests
// =============================================================================

func TestPrune_KeepsNewest(t *testing.T) {
	f := newGuardFixture(t, 2)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 4; i++ {
		m, err := f.guard.Snapshot(ctx)
		if err != nil {
			t.Fatalf("Snapshot() error = %v", err)
		}
		ids = append(ids, m.ID)
		time.Sleep(5 * time.Millisecond)
	}

	removed, err := f.guard.Prune()
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Prune() removed %d, want 2", removed)
	}

	remaining, err := f.guard.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots() error = %v", err)
	}
	if len(remaining) != 2 {
		t.Fatalf("%d snapshots remain, want 2", len(remaining))
	}
	// Newest two survive.
	if remaining[0].ID != ids[3] || remaining[1].ID != ids[2] {
		t.Errorf("wrong snapshots survived: %s, %s", remaining[0].ID, remaining[1].ID)
	}
}

func TestSnapshots_IgnoresAborted(t *testing.T) {
	f := newGuardFixture(t, 0)
	ctx := context.Background()

	f.guard.Snapshot(ctx)

	// A directory without a manifest is an aborted snapshot.
	os.MkdirAll(filepath.Join(f.guard.backupRoot, "9999-12-31_000000.000"), 0750)

	manifests, err := f.guard.Snapshots()
	if err != nil {
		t.Fatalf("Snapshots() error = %v", err)
	}
	if len(manifests) != 1 {
		t.Errorf("Snapshots() = %d entries, want 1 (aborted ignored)", len(manifests))
	}
}

// =============================================================================
// Constructor Tests
// =============================================================================

func TestNewGuard_Validation(t *testing.T) {
	logger := logging.New(logging.Config{Quiet: true})

	if _, err := NewGuard(GuardConfig{BackupRoot: "/tmp/x"}, logger); err == nil {
		t.Error("NewGuard() with no paths did not error")
	}
	if _, err := NewGuard(GuardConfig{ProtectedPaths: []string{"/etc/app.conf"}}, logger); err == nil {
		t.Error("NewGuard() with no backup root did not error")
	}
	if _, err := NewGuard(GuardConfig{ProtectedPaths: []string{"relative/path"}, BackupRoot: "/tmp/x"}, logger); err == nil {
		t.Error("NewGuard() with relative path did not error")
	}
}
