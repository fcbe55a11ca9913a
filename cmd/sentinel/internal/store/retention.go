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
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// DefaultRetentionWindow is how long repair attempt rows are kept.
const DefaultRetentionWindow = 3 * 365 * 24 * time.Hour

// SweepResult reports what a retention sweep did.
type SweepResult struct {
	// Scanned is the number of attempt rows examined.
	Scanned int

	// Pruned is the number of attempt rows deleted.
	Pruned int

	// ByComponent breaks the pruned count down per component.
	ByComponent map[string]int
}

// SweepAttempts deletes repair attempt rows older than the retention
// window.
//
// # Description
//
// Scans the attempt keyspace and deletes rows whose embedded creation
// timestamp falls before now minus window. Only attempt rows are
// touched: health records, incidents, and the lifetime failure counters
// they carry are never pruned, so TotalFailures survives every sweep.
//
// The creation time is parsed from the key, so the sweep never needs to
// deserialize row bodies. Rows with malformed keys are skipped and
// logged rather than deleted.
//
// # Inputs
//
//   - ctx: Cancels a long-running sweep between batches.
//   - window: Retention duration. Must be positive.
//   - now: The sweep's reference time.
//
// # Outputs
//
//   - SweepResult: Scan and prune counts.
//   - error: Non-nil on iteration or delete failure; the sweep is not
//     atomic, rows already deleted stay deleted.
func (s *Store) SweepAttempts(ctx context.Context, window time.Duration, now time.Time) (SweepResult, error) {
	result := SweepResult{ByComponent: make(map[string]int)}
	if window <= 0 {
		return result, fmt.Errorf("retention window must be positive, got %v", window)
	}
	cutoff := now.Add(-window).UnixNano()

	var expired [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("attempt/")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := it.Item().KeyCopy(nil)
			result.Scanned++

			created, ok := createdNanosFromKey(key)
			if !ok {
				s.logger.Warn("retention sweep skipping malformed attempt key", "key", string(key))
				continue
			}
			if created < cutoff {
				expired = append(expired, key)
			}
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("retention scan: %w", err)
	}

	// Delete in batches to keep transactions small.
	const batchSize = 512
	for start := 0; start < len(expired); start += batchSize {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		end := start + batchSize
		if end > len(expired) {
			end = len(expired)
		}
		err := s.db.Update(func(txn *badger.Txn) error {
			for _, key := range expired[start:end] {
				if err := txn.Delete(key); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return result, fmt.Errorf("retention delete: %w", err)
		}
		for _, key := range expired[start:end] {
			result.Pruned++
			if component := componentFromAttemptKey(key); component != "" {
				result.ByComponent[component]++
			}
		}
	}

	if result.Pruned > 0 {
		s.logger.Info("retention sweep pruned attempt rows",
			"scanned", result.Scanned,
			"pruned", result.Pruned,
			"window", window.String())
	}
	return result, nil
}

// createdNanosFromKey parses the creation timestamp embedded in an
// attempt key: attempt/<component>/<020d nanos>-<id>.
func createdNanosFromKey(key []byte) (int64, bool) {
	str := string(key)
	idx := strings.LastIndex(str, "/")
	if idx < 0 || idx+1 >= len(str) {
		return 0, false
	}
	rest := str[idx+1:]
	dash := strings.Index(rest, "-")
	if dash <= 0 {
		return 0, false
	}
	nanos, err := strconv.ParseInt(rest[:dash], 10, 64)
	if err != nil {
		return 0, false
	}
	return nanos, true
}
