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
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/sentinel/pkg/logging"
)

// Latest selects the most recent snapshot in Verify and Restore calls.
const Latest = "latest"

// DefaultKeepSnapshots is how many snapshots the rotation keeps.
const DefaultKeepSnapshots = 10

// snapshotTimeFormat names snapshot directories by creation time.
const snapshotTimeFormat = "2006-01-02_150405.000"

// Sentinel errors returned by guard operations.
var (
	// ErrNoSnapshot is returned when no usable snapshot exists.
	ErrNoSnapshot = errors.New("no snapshot available")

	// ErrVerifyFailed is returned by Restore when the restored files do
	// not match the manifest after the swap.
	ErrVerifyFailed = errors.New("post-restore verification failed")
)

// MismatchKind classifies a verification finding.
type MismatchKind string

const (
	// MismatchModified means the file exists but its digest differs.
	MismatchModified MismatchKind = "modified"

	// MismatchMissing means the file no longer exists.
	MismatchMissing MismatchKind = "missing"

	// MismatchUnreadable means the file could not be read for hashing.
	MismatchUnreadable MismatchKind = "unreadable"
)

// Mismatch is one verification finding for one path.
type Mismatch struct {
	Path   string       `json:"path"`
	Kind   MismatchKind `json:"kind"`
	Detail string       `json:"detail,omitempty"`
}

// VerifyReport is the result of checking live files against a manifest.
type VerifyReport struct {
	// SnapshotID identifies the manifest the check ran against.
	SnapshotID string `json:"snapshot_id"`

	// CheckedAt is when the verification ran.
	CheckedAt time.Time `json:"checked_at"`

	// Checked is the number of paths compared.
	Checked int `json:"checked"`

	// Mismatches lists every path that failed, empty when clean.
	Mismatches []Mismatch `json:"mismatches,omitempty"`
}

// Clean reports whether the verification found no mismatches.
func (r VerifyReport) Clean() bool {
	return len(r.Mismatches) == 0
}

// GuardConfig configures an IntegrityGuard.
type GuardConfig struct {
	// ProtectedPaths are the files (or directories, walked recursively)
	// the guard snapshots and verifies. Paths must be absolute.
	ProtectedPaths []string

	// BackupRoot is the directory snapshots are stored under.
	BackupRoot string

	// KeepSnapshots is how many snapshots rotation retains.
	// Default: DefaultKeepSnapshots.
	KeepSnapshots int
}

// Guard snapshots, verifies, and restores a set of protected paths.
//
// # Thread Safety
//
// Safe for concurrent use; Snapshot, Verify, Restore and Prune serialize
// on an internal mutex so a restore can never race a snapshot.
type Guard struct {
	paths      []string
	backupRoot string
	keep       int
	logger     *logging.Logger
	mu         sync.Mutex
}

// NewGuard creates a Guard for the configured protected paths.
func NewGuard(cfg GuardConfig, logger *logging.Logger) (*Guard, error) {
	if len(cfg.ProtectedPaths) == 0 {
		return nil, errors.New("at least one protected path is required")
	}
	if cfg.BackupRoot == "" {
		return nil, errors.New("backup root is required")
	}
	for _, p := range cfg.ProtectedPaths {
		if !filepath.IsAbs(p) {
			return nil, fmt.Errorf("protected path must be absolute: %s", p)
		}
	}
	keep := cfg.KeepSnapshots
	if keep <= 0 {
		keep = DefaultKeepSnapshots
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Guard{
		paths:      cfg.ProtectedPaths,
		backupRoot: cfg.BackupRoot,
		keep:       keep,
		logger:     logger,
	}, nil
}

// expandPaths resolves the protected path list to the concrete files
// beneath it. Directories are walked; missing paths are an error because
// snapshotting a half-present configuration would bake the damage in.
func (g *Guard) expandPaths() ([]string, error) {
	var files []string
	for _, p := range g.paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("protected path %s: %w", p, err)
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		err = filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walk %s: %w", p, err)
		}
	}
	sort.Strings(files)
	return files, nil
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot captures all protected files into a new timestamped snapshot
// directory and returns its manifest.
//
// The manifest is written only after every file has been copied and
// hashed, so an interrupted snapshot can never be mistaken for a good one.
func (g *Guard) Snapshot(ctx context.Context) (Manifest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	files, err := g.expandPaths()
	if err != nil {
		return Manifest{}, err
	}

	now := time.Now()
	id := now.Format(snapshotTimeFormat)
	snapshotDir := filepath.Join(g.backupRoot, id)
	if err := os.MkdirAll(snapshotDir, 0750); err != nil {
		return Manifest{}, fmt.Errorf("create snapshot directory: %w", err)
	}

	manifest := Manifest{
		ID:        id,
		CreatedAt: now,
		Digests:   make(map[string]string, len(files)),
		Version:   ManifestVersion,
	}

	for _, file := range files {
		if err := ctx.Err(); err != nil {
			os.RemoveAll(snapshotDir)
			return Manifest{}, err
		}
		digest, err := hashFile(file)
		if err != nil {
			os.RemoveAll(snapshotDir)
			return Manifest{}, fmt.Errorf("snapshot %s: %w", file, err)
		}
		if err := copyFile(file, dataPath(snapshotDir, file)); err != nil {
			os.RemoveAll(snapshotDir)
			return Manifest{}, fmt.Errorf("snapshot %s: %w", file, err)
		}
		manifest.Digests[file] = digest
	}

	if err := writeManifest(snapshotDir, manifest); err != nil {
		os.RemoveAll(snapshotDir)
		return Manifest{}, err
	}

	g.logger.Info("snapshot created", "snapshot", id, "files", len(files))
	return manifest, nil
}

// Snapshots returns all complete snapshots, newest first.
func (g *Guard) Snapshots() ([]Manifest, error) {
	entries, err := os.ReadDir(g.backupRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read backup root: %w", err)
	}

	var manifests []Manifest
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		m, err := readManifest(filepath.Join(g.backupRoot, entry.Name()))
		if err != nil {
			// Aborted snapshot or stray directory.
			continue
		}
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool {
		return manifests[i].CreatedAt.After(manifests[j].CreatedAt)
	})
	return manifests, nil
}

// resolve returns the manifest for a snapshot ID, or the most recent one
// for Latest.
func (g *Guard) resolve(id string) (Manifest, error) {
	if id == Latest || id == "" {
		manifests, err := g.Snapshots()
		if err != nil {
			return Manifest{}, err
		}
		if len(manifests) == 0 {
			return Manifest{}, ErrNoSnapshot
		}
		return manifests[0], nil
	}
	m, err := readManifest(filepath.Join(g.backupRoot, id))
	if os.IsNotExist(err) {
		return Manifest{}, ErrNoSnapshot
	}
	if err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// =============================================================================
// Verify
// =============================================================================

// Verify compares live files against a snapshot manifest.
//
// id may be a snapshot ID or Latest. Every manifest path is re-hashed;
// modified, missing, and unreadable files are reported individually
// rather than failing fast, so one report captures the full damage.
func (g *Guard) Verify(ctx context.Context, id string) (VerifyReport, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	manifest, err := g.resolve(id)
	if err != nil {
		return VerifyReport{}, err
	}
	return verifyAgainst(ctx, manifest, "")
}

// verifyAgainst checks the manifest's files, optionally re-rooted under
// rootDir (used to verify staged copies before a swap).
func verifyAgainst(ctx context.Context, manifest Manifest, rootDir string) (VerifyReport, error) {
	report := VerifyReport{
		SnapshotID: manifest.ID,
		CheckedAt:  time.Now(),
	}

	paths := make([]string, 0, len(manifest.Digests))
	for path := range manifest.Digests {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Checked++

		livePath := path
		if rootDir != "" {
			livePath = dataPath(rootDir, path)
		}

		digest, err := hashFile(livePath)
		switch {
		case os.IsNotExist(err):
			report.Mismatches = append(report.Mismatches, Mismatch{
				Path: path, Kind: MismatchMissing,
			})
		case err != nil:
			report.Mismatches = append(report.Mismatches, Mismatch{
				Path: path, Kind: MismatchUnreadable, Detail: err.Error(),
			})
		case digest != manifest.Digests[path]:
			report.Mismatches = append(report.Mismatches, Mismatch{
				Path: path, Kind: MismatchModified,
				Detail: fmt.Sprintf("digest %s, manifest %s", digest[:12], manifest.Digests[path][:12]),
			})
		}
	}
	return report, nil
}

// =============================================================================
// Restore
// =============================================================================

// Restore replaces the protected files with a snapshot's copies,
// all-or-nothing.
//
// # Description
//
// Four phases:
//
//  1. Stage: the snapshot's data files are verified against the manifest
//     in place. A corrupt backup aborts before anything live is touched.
//  2. Aside: each live file is moved to <path>.pre-restore.
//  3. Swap: snapshot copies are placed at the live paths.
//  4. Re-verify: live digests are hashed against the manifest. Any
//     mismatch rolls every aside copy back and returns ErrVerifyFailed.
//
// On success the aside copies are removed. A file that was missing live
// (already deleted by whatever corrupted it) simply has no aside.
func (g *Guard) Restore(ctx context.Context, id string) (Manifest, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	manifest, err := g.resolve(id)
	if err != nil {
		return Manifest{}, err
	}
	snapshotDir := filepath.Join(g.backupRoot, manifest.ID)

	// Phase 1: the backup itself must be intact.
	staged, err := verifyAgainst(ctx, manifest, snapshotDir)
	if err != nil {
		return Manifest{}, err
	}
	if !staged.Clean() {
		return Manifest{}, fmt.Errorf("snapshot %s is corrupt: %d file(s) fail digest check", manifest.ID, len(staged.Mismatches))
	}

	paths := make([]string, 0, len(manifest.Digests))
	for path := range manifest.Digests {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	// Phase 2 + 3: move live aside, place snapshot copies.
	asides := make(map[string]string)
	rollback := func() {
		for live, aside := range asides {
			if err := os.Rename(aside, live); err != nil {
				g.logger.Error("rollback failed", "path", live, "aside", aside, "error", err)
			}
		}
	}

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			rollback()
			return Manifest{}, err
		}

		aside := path + ".pre-restore"
		if _, statErr := os.Stat(path); statErr == nil {
			if err := os.Rename(path, aside); err != nil {
				rollback()
				return Manifest{}, fmt.Errorf("move %s aside: %w", path, err)
			}
			asides[path] = aside
		}

		if err := copyFile(dataPath(snapshotDir, path), path); err != nil {
			rollback()
			return Manifest{}, fmt.Errorf("restore %s: %w", path, err)
		}
	}

	// Phase 4: the restored tree must match the manifest exactly.
	final, err := verifyAgainst(ctx, manifest, "")
	if err != nil {
		rollback()
		return Manifest{}, err
	}
	if !final.Clean() {
		rollback()
		return Manifest{}, fmt.Errorf("%w: %d mismatch(es) after restore of %s",
			ErrVerifyFailed, len(final.Mismatches), manifest.ID)
	}

	for _, aside := range asides {
		if err := os.Remove(aside); err != nil {
			g.logger.Warn("could not remove pre-restore copy", "path", aside, "error", err)
		}
	}

	g.logger.Info("restore completed", "snapshot", manifest.ID, "files", len(paths))
	return manifest, nil
}

// =============================================================================
// Rotation
// =============================================================================

// Prune removes the oldest snapshots beyond the configured retention
// count and returns how many were removed.
func (g *Guard) Prune() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	manifests, err := g.Snapshots()
	if err != nil {
		return 0, err
	}
	if len(manifests) <= g.keep {
		return 0, nil
	}

	removed := 0
	for _, m := range manifests[g.keep:] {
		if err := os.RemoveAll(filepath.Join(g.backupRoot, m.ID)); err != nil {
			return removed, fmt.Errorf("prune snapshot %s: %w", m.ID, err)
		}
		removed++
	}
	if removed > 0 {
		g.logger.Info("pruned snapshots", "removed", removed, "kept", g.keep)
	}
	return removed, nil
}
