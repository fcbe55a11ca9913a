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
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/integrity"
)

// runBackup takes a snapshot of the protected paths.
func runBackup(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	guard, err := a.requireGuard()
	if err != nil {
		return err
	}

	manifest, err := guard.Snapshot(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Snapshot %s created (%d files)\n", manifest.ID, len(manifest.Digests))

	pruned, err := guard.Prune()
	if err != nil {
		return err
	}
	if pruned > 0 {
		fmt.Printf("Pruned %d old snapshot(s)\n", pruned)
	}
	return nil
}

// runRestore restores the protected paths from a snapshot.
func runRestore(cmd *cobra.Command, args []string) error {
	id := args[0]
	if id == "" {
		return usageError("snapshot id must not be empty")
	}

	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	guard, err := a.requireGuard()
	if err != nil {
		return err
	}

	if !restoreNoWait {
		fmt.Printf("This will overwrite the protected paths with snapshot %q. Continue? [y/N] ", id)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(answer)), "y") {
			fmt.Println("Aborted.")
			return nil
		}
	}

	manifest, err := guard.Restore(cmd.Context(), id)
	if errors.Is(err, integrity.ErrNoSnapshot) {
		return fmt.Errorf("no snapshot %q exists; run 'sentinel backup' first", id)
	}
	if err != nil {
		return err
	}
	fmt.Printf("Restored snapshot %s (%d files), verification clean\n",
		manifest.ID, len(manifest.Digests))
	return nil
}

// runVerify checks the protected paths against the latest manifest.
func runVerify(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	guard, err := a.requireGuard()
	if err != nil {
		return err
	}

	report, err := guard.Verify(cmd.Context(), integrity.Latest)
	if errors.Is(err, integrity.ErrNoSnapshot) {
		return fmt.Errorf("no snapshot exists to verify against; run 'sentinel backup' first")
	}
	if err != nil {
		return err
	}

	if report.Clean() {
		fmt.Printf("Verification clean: %d files match snapshot %s\n",
			report.Checked, report.SnapshotID)
		return nil
	}

	fmt.Printf("Verification FAILED against snapshot %s:\n", report.SnapshotID)
	for _, mismatch := range report.Mismatches {
		fmt.Printf("  %-10s %s\n", mismatch.Kind, mismatch.Path)
	}
	return fmt.Errorf("%d of %d files do not match", len(report.Mismatches), report.Checked)
}
