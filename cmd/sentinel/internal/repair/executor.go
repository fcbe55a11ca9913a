// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package repair contains the escalation state machine and the tiered
// repair actions it drives.
//
// Escalation ladder per component: Idle -> Tier1 -> Tier2 -> Tier3 ->
// Exhausted. Any successful probe returns to Idle. Tier never decreases
// within an incident.
package repair

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/integrity"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/process"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/store"
	"github.com/AleutianAI/sentinel/pkg/logging"
)

// MaxTier is the top of the escalation ladder.
const MaxTier = 3

// DefaultTier1Timeout bounds tier-1 cleanup actions.
const DefaultTier1Timeout = 30 * time.Second

// DefaultGracePeriod is how long escalation is suppressed after a
// restart so a slow-starting component isn't immediately re-escalated.
const DefaultGracePeriod = 60 * time.Second

// DefaultMaxLogBytes is the truncation threshold for oversized logs.
const DefaultMaxLogBytes = 512 << 20 // 512 MiB

// ErrUnknownTier is returned for tiers outside 1..MaxTier.
var ErrUnknownTier = errors.New("unknown repair tier")

// Result is the outcome of one executed repair action.
type Result struct {
	// Outcome classifies what happened.
	Outcome store.Outcome

	// Details is human-readable output for the audit row.
	Details string

	// Grace, when positive, suppresses escalation for this component
	// until the window elapses (set by restart-class actions).
	Grace time.Duration
}

// Executor runs the repair action for a tier.
//
// # Thread Safety
//
// Execute is called with the component's store lock held; the escalator
// guarantees per-component serialization, implementations only need to
// tolerate concurrent calls for distinct components.
type Executor interface {
	// Execute runs the tier's action for the component.
	Execute(ctx context.Context, tier int, component string) Result

	// ActionFor names the action a tier performs, for audit rows.
	ActionFor(tier int) string
}

// =============================================================================
// Component Operations
// =============================================================================

// ComponentOps describes the repair surface of one component.
type ComponentOps struct {
	// Service controls the component's process.
	Service process.Service

	// CachePaths are directories whose contents tier 1 clears.
	CachePaths []string

	// LogPaths are files tier 1 truncates when oversized.
	LogPaths []string

	// MaxLogBytes is the truncation threshold. Default DefaultMaxLogBytes.
	MaxLogBytes int64

	// Grace overrides the post-restart grace period.
	Grace time.Duration
}

// =============================================================================
// Tier Executor
// =============================================================================

// TierExecutor implements the three-tier repair ladder.
//
//	Tier 1: clear caches, truncate oversized logs, soft reload
//	Tier 2: process restart
//	Tier 3: snapshot restore, then restart
type TierExecutor struct {
	ops    map[string]ComponentOps
	runner *process.Runner
	guard  *integrity.Guard
	logger *logging.Logger
}

// NewTierExecutor creates a TierExecutor.
//
// guard may be nil when no protected paths are configured; tier 3 then
// fails immediately, which is correct: there is nothing to restore from.
func NewTierExecutor(ops map[string]ComponentOps, runner *process.Runner, guard *integrity.Guard, logger *logging.Logger) *TierExecutor {
	if logger == nil {
		logger = logging.Default()
	}
	return &TierExecutor{ops: ops, runner: runner, guard: guard, logger: logger}
}

// ActionFor names each tier's action.
func (e *TierExecutor) ActionFor(tier int) string {
	switch tier {
	case 1:
		return "clear_cache"
	case 2:
		return "restart"
	case 3:
		return "restore_snapshot"
	default:
		return "unknown"
	}
}

// Execute runs the tier's action for the component.
func (e *TierExecutor) Execute(ctx context.Context, tier int, component string) Result {
	ops, known := e.ops[component]
	if !known {
		// Integrity violations on protected paths aren't tied to a
		// configured service; a snapshot restore is still meaningful.
		if tier == MaxTier {
			return e.tier3(ctx, component, ComponentOps{})
		}
		return Result{
			Outcome: store.OutcomeFailure,
			Details: fmt.Sprintf("no repair operations configured for %s", component),
		}
	}

	switch tier {
	case 1:
		return e.tier1(ctx, component, ops)
	case 2:
		return e.tier2(ctx, component, ops)
	case 3:
		return e.tier3(ctx, component, ops)
	default:
		return Result{
			Outcome: store.OutcomeFailure,
			Details: fmt.Sprintf("%v: %d", ErrUnknownTier, tier),
		}
	}
}

// tier1 clears cache directories, truncates oversized logs, and sends a
// soft reload. Timeout is a failure, not a shrug.
func (e *TierExecutor) tier1(ctx context.Context, component string, ops ComponentOps) Result {
	ctx, cancel := context.WithTimeout(ctx, DefaultTier1Timeout)
	defer cancel()

	var details []string
	var leftovers int

	for _, dir := range ops.CachePaths {
		removed, failed := clearDirectory(ctx, dir)
		leftovers += failed
		details = append(details, fmt.Sprintf("cleared %d entries from %s", removed, dir))
		if err := ctx.Err(); err != nil {
			return Result{Outcome: store.OutcomeFailure, Details: "tier 1 timed out: " + strings.Join(details, "; ")}
		}
	}

	maxBytes := ops.MaxLogBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxLogBytes
	}
	for _, logPath := range ops.LogPaths {
		info, err := os.Stat(logPath)
		if err != nil || info.Size() <= maxBytes {
			continue
		}
		if err := os.Truncate(logPath, 0); err != nil {
			leftovers++
			details = append(details, fmt.Sprintf("truncate %s failed: %v", logPath, err))
		} else {
			details = append(details, fmt.Sprintf("truncated %s (%d bytes)", logPath, info.Size()))
		}
	}

	if ops.Service.Pattern != "" {
		if err := e.runner.Reload(ctx, ops.Service); err != nil {
			details = append(details, "soft reload skipped: "+err.Error())
		} else {
			details = append(details, "soft reload sent")
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{Outcome: store.OutcomeFailure, Details: "tier 1 timed out: " + strings.Join(details, "; ")}
	}
	outcome := store.OutcomeSuccess
	if leftovers > 0 {
		outcome = store.OutcomePartial
	}
	return Result{Outcome: outcome, Details: strings.Join(details, "; ")}
}

// tier2 restarts the component's process and opens a grace window.
func (e *TierExecutor) tier2(ctx context.Context, component string, ops ComponentOps) Result {
	if err := e.runner.Restart(ctx, ops.Service); err != nil {
		return Result{Outcome: store.OutcomeFailure, Details: "restart failed: " + err.Error()}
	}
	if ops.Service.Pattern != "" {
		if err := e.runner.WaitUntilAlive(ctx, ops.Service, 15*time.Second); err != nil {
			return Result{Outcome: store.OutcomeFailure, Details: "restarted but not alive: " + err.Error()}
		}
	}

	grace := ops.Grace
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	return Result{
		Outcome: store.OutcomeSuccess,
		Details: "process restarted",
		Grace:   grace,
	}
}

// tier3 restores the latest snapshot, then restarts.
func (e *TierExecutor) tier3(ctx context.Context, component string, ops ComponentOps) Result {
	if e.guard == nil {
		return Result{Outcome: store.OutcomeFailure, Details: "no integrity guard configured, nothing to restore"}
	}

	manifest, err := e.guard.Restore(ctx, integrity.Latest)
	if errors.Is(err, integrity.ErrNoSnapshot) {
		return Result{Outcome: store.OutcomeFailure, Details: "no snapshot available to restore"}
	}
	if err != nil {
		return Result{Outcome: store.OutcomeFailure, Details: "restore failed: " + err.Error()}
	}

	// No process to bounce: the restore itself is the repair.
	if len(ops.Service.RestartCmd) == 0 && len(ops.Service.StartCmd) == 0 {
		return Result{
			Outcome: store.OutcomeSuccess,
			Details: fmt.Sprintf("restored snapshot %s", manifest.ID),
		}
	}

	restart := e.tier2(ctx, component, ops)
	if restart.Outcome != store.OutcomeSuccess {
		return Result{
			Outcome: store.OutcomeFailure,
			Details: fmt.Sprintf("restored snapshot %s but %s", manifest.ID, restart.Details),
		}
	}
	return Result{
		Outcome: store.OutcomeSuccess,
		Details: fmt.Sprintf("restored snapshot %s and restarted", manifest.ID),
		Grace:   restart.Grace,
	}
}

// clearDirectory removes the direct entries of dir. Returns how many
// were removed and how many could not be.
func clearDirectory(ctx context.Context, dir string) (removed, failed int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 1
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return removed, failed + 1
		}
		if err := os.RemoveAll(filepath.Join(dir, entry.Name())); err != nil {
			failed++
		} else {
			removed++
		}
	}
	return removed, failed
}

// =============================================================================
// Mock Executor
// =============================================================================

// MockExecutor is a test double for Executor.
type MockExecutor struct {
	// ExecuteFunc decides the result. Defaults to success when nil.
	ExecuteFunc func(ctx context.Context, tier int, component string) Result

	// Calls records all Execute invocations.
	Calls []ExecutorCall

	mu sync.Mutex
}

// ExecutorCall records a single Execute invocation.
type ExecutorCall struct {
	Tier      int
	Component string
}

// Execute records the call and delegates to ExecuteFunc.
func (m *MockExecutor) Execute(ctx context.Context, tier int, component string) Result {
	m.mu.Lock()
	m.Calls = append(m.Calls, ExecutorCall{Tier: tier, Component: component})
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, tier, component)
	}
	return Result{Outcome: store.OutcomeSuccess, Details: "mock"}
}

// ActionFor mirrors TierExecutor's action names.
func (m *MockExecutor) ActionFor(tier int) string {
	return (&TierExecutor{}).ActionFor(tier)
}

// GetCalls returns a copy of recorded calls.
func (m *MockExecutor) GetCalls() []ExecutorCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ExecutorCall, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// Compile-time interface compliance check.
var (
	_ Executor = (*TierExecutor)(nil)
	_ Executor = (*MockExecutor)(nil)
)
