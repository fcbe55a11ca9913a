// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package repair

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/alert"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/metrics"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/store"
	"github.com/AleutianAI/sentinel/pkg/logging"
)

// Escalator drives the per-component escalation state machine.
//
// # Description
//
// Every probe result funnels through OnSuccess or OnFailure. A failure
// out of healthy opens an incident at tier 1; each subsequent failure
// observed after the previous attempt completed advances the tier until
// tier 3 has been tried, at which point the incident is marked exhausted
// and the sink is notified exactly once. Only a successful probe closes
// the incident.
//
// Audit rows are written before their action executes. A failure
// observed while an attempt is still incomplete (crash mid-repair,
// overlapping cycles) re-enters the same tier instead of advancing.
//
// # Thread Safety
//
// All methods are safe for concurrent use. Work on the same component is
// serialized by the store's per-component lock; distinct components
// repair concurrently.
type Escalator struct {
	store    *store.Store
	executor Executor
	sink     alert.Sink
	logger   *logging.Logger

	// grace holds per-component escalation-suppression deadlines set by
	// restart-class repairs.
	grace   map[string]time.Time
	graceMu sync.Mutex
}

// NewEscalator creates an Escalator.
func NewEscalator(st *store.Store, executor Executor, sink alert.Sink, logger *logging.Logger) (*Escalator, error) {
	if st == nil {
		return nil, fmt.Errorf("store is required")
	}
	if executor == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if sink == nil {
		sink = alert.NewLogSink(logger)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Escalator{
		store:    st,
		executor: executor,
		sink:     sink,
		logger:   logger,
		grace:    make(map[string]time.Time),
	}, nil
}

// InGrace reports whether escalation is currently suppressed for a
// component.
func (e *Escalator) InGrace(component string, at time.Time) bool {
	e.graceMu.Lock()
	defer e.graceMu.Unlock()
	deadline, ok := e.grace[component]
	return ok && at.Before(deadline)
}

func (e *Escalator) setGrace(component string, until time.Time) {
	e.graceMu.Lock()
	defer e.graceMu.Unlock()
	e.grace[component] = until
}

func (e *Escalator) clearGrace(component string) {
	e.graceMu.Lock()
	defer e.graceMu.Unlock()
	delete(e.grace, component)
}

// OnSuccess records a successful probe. If an incident was open it is
// closed, its attempt rows are stamped resolved, and - when the incident
// had alerted - a resolved notice follows so the pager stops.
func (e *Escalator) OnSuccess(ctx context.Context, component, detail string, at time.Time) error {
	unlock := e.store.LockComponent(component)
	defer unlock()

	if _, err := e.store.RecordProbeLocked(component, true, detail, at); err != nil {
		return err
	}
	metrics.ConsecutiveFailures.WithLabelValues(component).Set(0)
	e.clearGrace(component)

	incident, err := e.store.CloseIncident(component, at)
	if errors.Is(err, store.ErrNoIncident) {
		return nil
	}
	if err != nil {
		return err
	}
	metrics.IncidentsOpen.Dec()

	if incident.Alerted {
		e.notify(ctx, alert.Context{
			Component:      component,
			IncidentID:     incident.ID,
			Severity:       alert.SeverityResolved,
			Summary:        fmt.Sprintf("%s recovered", component),
			Detail:         detail,
			TierReached:    incident.Tier,
			FailureCount:   incident.FailureCount,
			FirstFailureAt: incident.OpenedAt,
		})
	}
	return nil
}

// OnFailure records a failed probe and runs the escalation step it calls
// for. The error return covers persistence problems only; a repair
// action failing is recorded in the audit log, not returned.
func (e *Escalator) OnFailure(ctx context.Context, component, detail string, errType store.ErrorType, at time.Time) error {
	unlock := e.store.LockComponent(component)
	defer unlock()

	health, err := e.store.RecordProbeLocked(component, false, detail, at)
	if err != nil {
		return err
	}
	metrics.ConsecutiveFailures.WithLabelValues(component).Set(float64(health.ConsecutiveFailures))

	if e.InGrace(component, at) {
		e.logger.Debug("failure within grace window, not escalating",
			"component", component, "detail", detail)
		return e.touchIncident(component, at)
	}

	incident, opened, err := e.ensureIncident(component, at)
	if err != nil {
		return err
	}
	if opened {
		metrics.IncidentsOpen.Inc()
	}

	if incident.Exhausted {
		// Ladder already spent. Keep counting, alert only if the one
		// exhaustion alert somehow never went out.
		incident.FailureCount++
		incident.LastFailureAt = at
		if !incident.Alerted {
			e.alertExhausted(ctx, &incident, detail)
		}
		return e.store.PutIncident(incident)
	}

	tier := incident.Tier
	if !opened && incident.LastAttemptDone {
		tier = incident.Tier + 1
	}

	if tier > MaxTier {
		incident.FailureCount++
		incident.LastFailureAt = at
		incident.Exhausted = true
		e.alertExhausted(ctx, &incident, detail)
		if err := e.store.PutIncident(incident); err != nil {
			return err
		}
		e.logger.Error("repair ladder exhausted",
			"component", component, "incident", incident.ID,
			"failures", incident.FailureCount)
		return nil
	}

	if !opened {
		incident.FailureCount++
		incident.LastFailureAt = at
	}
	incident.Tier = tier

	return e.runAttempt(ctx, &incident, detail, errType, at)
}

// OnIntegrityViolation routes a checksum mismatch straight to critical:
// the component is flagged, an incident opens (or escalates) at tier 3,
// and a critical alert goes out immediately.
func (e *Escalator) OnIntegrityViolation(ctx context.Context, component, detail string, at time.Time) error {
	unlock := e.store.LockComponent(component)
	defer unlock()

	if _, err := e.store.SetIntegrityViolationLocked(component, true, detail, at); err != nil {
		return err
	}

	incident, opened, err := e.ensureIncident(component, at)
	if err != nil {
		return err
	}
	if opened {
		metrics.IncidentsOpen.Inc()
	} else {
		incident.FailureCount++
		incident.LastFailureAt = at
	}
	incident.Tier = MaxTier

	if !incident.Alerted {
		incident.Alerted = true
		e.notify(ctx, alert.Context{
			Component:      component,
			IncidentID:     incident.ID,
			Severity:       alert.SeverityCritical,
			Summary:        fmt.Sprintf("integrity violation on %s", component),
			Detail:         detail,
			TierReached:    incident.Tier,
			FailureCount:   incident.FailureCount,
			FirstFailureAt: incident.OpenedAt,
		})
	}

	return e.runAttempt(ctx, &incident, detail, store.ErrorTypeIntegrity, at)
}

// ensureIncident returns the open incident, creating one at tier 1 when
// none exists. The caller holds the component lock.
func (e *Escalator) ensureIncident(component string, at time.Time) (store.Incident, bool, error) {
	incident, err := e.store.GetIncident(component)
	if err == nil {
		return incident, false, nil
	}
	if !errors.Is(err, store.ErrNoIncident) {
		return store.Incident{}, false, err
	}
	incident, err = e.store.OpenIncident(component, at)
	if err != nil {
		return store.Incident{}, false, err
	}
	e.logger.Info("incident opened", "component", component, "incident", incident.ID)
	return incident, true, nil
}

// touchIncident bumps the failure counters of an open incident without
// touching its tier. Used for failures inside a grace window.
func (e *Escalator) touchIncident(component string, at time.Time) error {
	incident, err := e.store.GetIncident(component)
	if errors.Is(err, store.ErrNoIncident) {
		return nil
	}
	if err != nil {
		return err
	}
	incident.FailureCount++
	incident.LastFailureAt = at
	return e.store.PutIncident(incident)
}

// runAttempt persists the audit row, executes the tier's action, then
// records the completion. The row hits disk before the action runs so a
// crash mid-repair still leaves evidence of what was attempted.
func (e *Escalator) runAttempt(ctx context.Context, incident *store.Incident, detail string, errType store.ErrorType, at time.Time) error {
	tier := incident.Tier
	attempt := store.RepairAttempt{
		IncidentID:    incident.ID,
		ComponentName: incident.ComponentName,
		ErrorMessage:  detail,
		ErrorType:     errType,
		RepairTier:    tier,
		RepairAction:  e.executor.ActionFor(tier),
		FailureCount:  incident.FailureCount,
		LastFailureAt: incident.LastFailureAt,
	}
	if tier < MaxTier {
		next := tier + 1
		attempt.NextEscalationTier = &next
	}

	if err := e.store.AppendAttempt(&attempt); err != nil {
		return err
	}
	incident.LastAttemptID = attempt.ID
	incident.LastAttemptDone = false
	incident.AttemptIDs = append(incident.AttemptIDs, attempt.ID)
	if err := e.store.PutIncident(*incident); err != nil {
		return err
	}

	e.logger.Info("repair attempt starting",
		"component", incident.ComponentName,
		"incident", incident.ID,
		"attempt", attempt.ID,
		"tier", tier,
		"action", attempt.RepairAction)

	started := time.Now()
	result := e.executor.Execute(ctx, tier, incident.ComponentName)
	elapsed := time.Since(started)

	attempt.RepairOutcome = result.Outcome
	attempt.ExecutionDetails = result.Details
	attempt.RepairDurationSeconds = elapsed.Seconds()
	if err := e.store.CompleteAttempt(&attempt); err != nil {
		return err
	}

	incident.LastAttemptDone = true
	if err := e.store.PutIncident(*incident); err != nil {
		return err
	}

	if result.Grace > 0 {
		e.setGrace(incident.ComponentName, at.Add(result.Grace))
	}

	metrics.RepairAttemptsTotal.WithLabelValues(
		incident.ComponentName, strconv.Itoa(tier), string(result.Outcome)).Inc()
	metrics.RepairDuration.WithLabelValues(strconv.Itoa(tier)).Observe(elapsed.Seconds())

	e.logger.Info("repair attempt finished",
		"component", incident.ComponentName,
		"attempt", attempt.ID,
		"tier", tier,
		"outcome", string(result.Outcome),
		"duration", elapsed.String())
	return nil
}

// alertExhausted sends the once-per-incident exhaustion alert and marks
// the incident alerted.
func (e *Escalator) alertExhausted(ctx context.Context, incident *store.Incident, detail string) {
	attempts, err := e.store.ListAttempts(incident.ComponentName, 10)
	var lines []string
	if err == nil {
		for i := len(attempts) - 1; i >= 0; i-- {
			a := attempts[i]
			if a.IncidentID != incident.ID {
				continue
			}
			lines = append(lines, fmt.Sprintf("tier %d %s: %s", a.RepairTier, a.RepairAction, a.RepairOutcome))
		}
	}

	incident.Alerted = true
	e.notify(ctx, alert.Context{
		Component:      incident.ComponentName,
		IncidentID:     incident.ID,
		Severity:       alert.SeverityCritical,
		Summary:        fmt.Sprintf("automated repair exhausted for %s", incident.ComponentName),
		Detail:         detail,
		TierReached:    MaxTier,
		FailureCount:   incident.FailureCount,
		FirstFailureAt: incident.OpenedAt,
		Attempts:       lines,
	})
}

// notify delivers an alert, logging but never propagating sink failures.
func (e *Escalator) notify(ctx context.Context, a alert.Context) {
	if err := e.sink.Notify(ctx, a); err != nil {
		metrics.AlertsTotal.WithLabelValues(string(a.Severity), "error").Inc()
		e.logger.Error("alert delivery failed",
			"component", a.Component, "incident", a.IncidentID, "error", err)
		return
	}
	metrics.AlertsTotal.WithLabelValues(string(a.Severity), "delivered").Inc()
}
