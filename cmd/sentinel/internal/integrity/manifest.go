// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package integrity snapshots protected paths, verifies them against
// SHA-256 manifests, and restores them all-or-nothing when the repair
// ladder reaches its last tier.
//
// # Snapshot Layout
//
//	<backupRoot>/<snapshotID>/manifest.json
//	<backupRoot>/<snapshotID>/data/<protected path, root slash trimmed>
//
// The manifest is written last, so a snapshot directory without one is an
// aborted snapshot and is ignored by listing, verification and restore.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// ManifestVersion is the current manifest schema version.
const ManifestVersion = "1.0.0"

// manifestName is the manifest file name inside a snapshot directory.
const manifestName = "manifest.json"

// Manifest records the digests of every file captured in one snapshot.
type Manifest struct {
	// ID is the snapshot identifier, derived from its creation time.
	ID string `json:"id"`

	// CreatedAt is when the snapshot was taken.
	CreatedAt time.Time `json:"created_at"`

	// Digests maps each captured file's original absolute path to its
	// SHA-256 digest (lowercase hex).
	Digests map[string]string `json:"digests"`

	// Version is the manifest schema version.
	Version string `json:"version"`
}

// writeManifest persists a manifest into its snapshot directory.
func writeManifest(snapshotDir string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}
	path := filepath.Join(snapshotDir, manifestName)
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	return nil
}

// readManifest loads a manifest from a snapshot directory.
func readManifest(snapshotDir string) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(snapshotDir, manifestName))
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest in %s: %w", snapshotDir, err)
	}
	return m, nil
}

// hashFile computes the SHA-256 digest of a file as lowercase hex.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// copyFile copies src to dst, creating parent directories and preserving
// the source file mode.
func copyFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer srcFile.Close()

	info, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0750); err != nil {
		return fmt.Errorf("create parent: %w", err)
	}

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}
	defer dstFile.Close()

	if _, err := io.Copy(dstFile, srcFile); err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return dstFile.Sync()
}

// dataPath maps an original absolute path into a snapshot's data
// directory.
func dataPath(snapshotDir, original string) string {
	rel := original
	if filepath.IsAbs(rel) {
		rel = rel[1:]
	}
	return filepath.Join(snapshotDir, "data", rel)
}
