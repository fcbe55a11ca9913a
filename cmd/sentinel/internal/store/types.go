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
	"errors"
	"time"
)

// SchemaVersion is the current version of the persisted record schemas.
// Increment when record semantics change to enable backwards compatibility.
const SchemaVersion = "1.0.0"

// Status thresholds. Status is always derived from ConsecutiveFailures;
// it is never stored independently of the counter that produced it.
const (
	// DegradedThreshold is the consecutive-failure count at which a
	// component leaves healthy.
	DegradedThreshold = 1

	// FailingThreshold is the consecutive-failure count at which a
	// component becomes failing.
	FailingThreshold = 3

	// CriticalThreshold is the consecutive-failure count beyond which a
	// component becomes critical.
	CriticalThreshold = 5
)

// Sentinel errors returned by store operations.
var (
	// ErrComponentUnknown is returned when no health record exists for
	// the requested component.
	ErrComponentUnknown = errors.New("component unknown")

	// ErrAttemptNotFound is returned when completing an attempt that was
	// never appended.
	ErrAttemptNotFound = errors.New("repair attempt not found")

	// ErrNoIncident is returned when no open incident exists for a
	// component.
	ErrNoIncident = errors.New("no open incident")
)

// Status represents the derived health classification of a component.
//
// # Description
//
// Status is a pure function of a component's consecutive failure count
// (see StatusFor), with one exception: a detected integrity violation
// forces critical regardless of the counter. States are mutually
// exclusive and represent a point-in-time classification.
//
// # Examples
//
//	health := store.StatusFor(4)  // StatusFailing
//
// # Limitations
//
//   - Status does not capture degraded performance, only failed probes
//   - Point-in-time; may change on the next probe cycle
type Status string

const (
	// StatusHealthy indicates zero consecutive failures.
	StatusHealthy Status = "healthy"

	// StatusDegraded indicates 1-2 consecutive failures.
	StatusDegraded Status = "degraded"

	// StatusFailing indicates 3-5 consecutive failures.
	StatusFailing Status = "failing"

	// StatusCritical indicates more than 5 consecutive failures, or a
	// confirmed integrity violation.
	StatusCritical Status = "critical"
)

// StatusFor derives the status for a consecutive-failure count.
func StatusFor(consecutiveFailures int) Status {
	switch {
	case consecutiveFailures <= 0:
		return StatusHealthy
	case consecutiveFailures < FailingThreshold:
		return StatusDegraded
	case consecutiveFailures <= CriticalThreshold:
		return StatusFailing
	default:
		return StatusCritical
	}
}

// Outcome represents the result of an executed repair action.
type Outcome string

const (
	// OutcomeSuccess means the repair action completed and post-checks passed.
	OutcomeSuccess Outcome = "success"

	// OutcomeFailure means the repair action failed or timed out.
	OutcomeFailure Outcome = "failure"

	// OutcomePartial means the action completed but left work undone
	// (for example some cache entries could not be removed).
	OutcomePartial Outcome = "partial"
)

// ErrorType classifies the failure that triggered a repair.
type ErrorType string

const (
	// ErrorTypeProbe is a failed or timed-out health probe.
	ErrorTypeProbe ErrorType = "probe_failure"

	// ErrorTypeIntegrity is a checksum mismatch on a protected path.
	ErrorTypeIntegrity ErrorType = "integrity_violation"

	// ErrorTypeRepair is a repair action that itself failed.
	ErrorTypeRepair ErrorType = "repair_failure"
)

// ComponentHealth is the mutable health record for a monitored component.
//
// # Description
//
// One record per component, updated on every probe. Lifetime counters
// (TotalFailures) are monotonic; incident-scoped counters live on the
// Incident record, never here.
//
// # Thread Safety
//
// Records are value types. Concurrent mutation is serialized by the
// Store's per-component lock; callers outside the store must treat a
// returned record as a snapshot.
type ComponentHealth struct {
	// ComponentName is the unique component identifier.
	ComponentName string `json:"component_name"`

	// Status is the derived classification. See StatusFor.
	Status Status `json:"status"`

	// ConsecutiveFailures counts probe failures since the last success.
	// Reset to zero by any successful probe.
	ConsecutiveFailures int `json:"consecutive_failures"`

	// TotalFailures counts all probe failures ever observed.
	// Never reset, survives retention sweeps.
	TotalFailures int `json:"total_failures"`

	// UptimePercentage is the healthy fraction of recent probes, 0-100.
	UptimePercentage float64 `json:"uptime_percentage"`

	// LastCheck is when the component was last probed.
	LastCheck time.Time `json:"last_check"`

	// LastFailureAt is when the component last failed a probe.
	// Zero if it has never failed.
	LastFailureAt time.Time `json:"last_failure_at,omitempty"`

	// LastDetail is the detail string from the most recent probe.
	LastDetail string `json:"last_detail,omitempty"`

	// RecoveryTimeAvg is the incremental mean of observed recovery
	// durations in seconds (failure first observed -> success observed).
	RecoveryTimeAvg float64 `json:"recovery_time_avg"`

	// RecoveryCount is the number of recoveries folded into the mean.
	RecoveryCount int `json:"recovery_count"`

	// IntegrityViolation forces StatusCritical while set. Cleared when a
	// verify pass comes back clean.
	IntegrityViolation bool `json:"integrity_violation,omitempty"`

	// Metadata holds operator-supplied labels.
	Metadata map[string]string `json:"metadata,omitempty"`

	// Version is the schema version this record was written with.
	Version string `json:"version"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// RepairAttempt is one row in the append-only repair audit log.
//
// # Description
//
// A row is persisted BEFORE its action executes, so a crash mid-repair
// leaves evidence of what was attempted. Once written, only the
// completion fields (RepairOutcome, RepairDurationSeconds, ResolvedAt)
// may change, via Store.CompleteAttempt and Store.CloseIncident.
type RepairAttempt struct {
	// ID is a short random identifier assigned by the store.
	ID string `json:"id"`

	// IncidentID ties the attempt to the open incident it belongs to.
	IncidentID string `json:"incident_id"`

	// ComponentName is the component being repaired.
	ComponentName string `json:"component_name"`

	// ErrorMessage describes the failure that triggered this attempt.
	ErrorMessage string `json:"error_message"`

	// ErrorType classifies the triggering failure.
	ErrorType ErrorType `json:"error_type"`

	// RepairTier is the escalation tier of the action, 1-3.
	RepairTier int `json:"repair_tier"`

	// RepairAction names the action taken ("clear_cache", "restart",
	// "restore_snapshot", ...).
	RepairAction string `json:"repair_action"`

	// RepairOutcome is set on completion. Empty while executing.
	RepairOutcome Outcome `json:"repair_outcome,omitempty"`

	// ExecutionDetails holds human-readable output from the action.
	ExecutionDetails string `json:"execution_details,omitempty"`

	// ErrorContext carries structured context captured at failure time.
	ErrorContext map[string]string `json:"error_context,omitempty"`

	// RepairDurationSeconds is how long the action ran.
	RepairDurationSeconds float64 `json:"repair_duration_seconds,omitempty"`

	// NextEscalationTier is the tier a further failure escalates to.
	// Nil when the ladder is exhausted.
	NextEscalationTier *int `json:"next_escalation_tier,omitempty"`

	// FailureCount is the incident's failure count at attempt time,
	// denormalized from the incident record for audit readability.
	FailureCount int `json:"failure_count"`

	// LastFailureAt is the incident's most recent failure at attempt time.
	LastFailureAt time.Time `json:"last_failure_at"`

	// Version is the schema version this row was written with.
	Version string `json:"version"`

	CreatedAt time.Time `json:"created_at"`

	// ResolvedAt is set when the incident this attempt belongs to closes.
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Incident is the durable record of an open escalation for a component.
//
// At most one incident is open per component. It is created on the first
// failure out of healthy, carries the incident-scoped counters the
// escalator needs across restarts, and is deleted when a successful probe
// closes it.
type Incident struct {
	// ID is a UUID assigned when the incident opens.
	ID string `json:"id"`

	// ComponentName is the affected component.
	ComponentName string `json:"component_name"`

	// Tier is the current escalation tier, 1-3. Never decreases within
	// an incident.
	Tier int `json:"tier"`

	// Exhausted is set when tier 3 has failed and no automation remains.
	Exhausted bool `json:"exhausted"`

	// Alerted is set once the exhaustion alert has been sent, so the
	// sink is notified exactly once per incident.
	Alerted bool `json:"alerted"`

	// FailureCount counts failures observed within this incident.
	FailureCount int `json:"failure_count"`

	// LastFailureAt is the most recent failure within this incident.
	LastFailureAt time.Time `json:"last_failure_at"`

	// LastAttemptID is the most recent attempt row for this incident.
	LastAttemptID string `json:"last_attempt_id,omitempty"`

	// LastAttemptDone is true once the most recent attempt has a
	// recorded completion. A failure observed before completion re-enters
	// the same tier instead of escalating.
	LastAttemptDone bool `json:"last_attempt_done"`

	// AttemptIDs lists all attempt rows belonging to this incident, in
	// order, so closing the incident can stamp their resolved_at.
	AttemptIDs []string `json:"attempt_ids,omitempty"`

	OpenedAt time.Time `json:"opened_at"`
}
