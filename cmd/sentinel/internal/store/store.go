// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store persists the supervisor's durable state in BadgerDB:
// per-component health records, the append-only repair audit log, and
// open incident records.
//
// # Key Layout
//
//	health/<component>                      ComponentHealth (JSON, mutable)
//	attempt/<component>/<nanos>-<id>        RepairAttempt (JSON, append-only)
//	incident/<component>                    Incident (JSON, one open max)
//
// Attempt keys embed a zero-padded creation timestamp so a prefix scan
// returns rows in chronological order and the retention sweep can prune
// by key alone.
//
// # Write Discipline
//
// All mutation goes through typed methods, and every method serializes on
// a per-component lock, so two goroutines can never interleave writes to
// the same component's records. Distinct components proceed concurrently.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/util"
	"github.com/AleutianAI/sentinel/pkg/logging"
)

// UptimeWindowSize is how many recent probe outcomes feed the uptime
// percentage. At the default 5-minute cycle this covers roughly a day.
const UptimeWindowSize = 288

// =============================================================================
// Keys
// =============================================================================

func healthKey(component string) []byte {
	return []byte("health/" + component)
}

func incidentKey(component string) []byte {
	return []byte("incident/" + component)
}

func attemptKey(component string, createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("attempt/%s/%020d-%s", component, createdAt.UnixNano(), id))
}

func attemptPrefix(component string) []byte {
	return []byte("attempt/" + component + "/")
}

// =============================================================================
// Keyed Mutex
// =============================================================================

// keyedMutex provides one mutex per component name. Mutexes are created
// on first use and never removed; the component set is small and fixed
// by configuration.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// =============================================================================
// Store
// =============================================================================

// Store is the persistence layer for health records, repair attempts and
// incidents.
//
// # Thread Safety
//
// Safe for concurrent use. Mutations on the same component are
// serialized; see LockComponent for callers that need to hold the same
// exclusion across a longer operation (the repair executor does).
type Store struct {
	db      *badger.DB
	locks   *keyedMutex
	logger  *logging.Logger
	windows struct {
		mu sync.Mutex
		m  map[string]*util.OutcomeWindow
	}
}

// New creates a Store over an opened database.
func New(db *badger.DB, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Store{
		db:     db,
		locks:  newKeyedMutex(),
		logger: logger,
	}
	s.windows.m = make(map[string]*util.OutcomeWindow)
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying database for the GC runner.
func (s *Store) DB() *badger.DB {
	return s.db
}

// LockComponent acquires the component's mutex and returns the unlock
// function. Store methods acquire this lock internally; external callers
// (the repair executor) use it to serialize a probe-repair-verify span
// that covers several store calls.
//
//	unlock := st.LockComponent("vectordb")
//	defer unlock()
func (s *Store) LockComponent(component string) func() {
	m := s.locks.get(component)
	m.Lock()
	return m.Unlock
}

func (s *Store) window(component string) *util.OutcomeWindow {
	s.windows.mu.Lock()
	defer s.windows.mu.Unlock()
	w, ok := s.windows.m[component]
	if !ok {
		w = util.NewOutcomeWindow(UptimeWindowSize)
		s.windows.m[component] = w
	}
	return w
}

// =============================================================================
// JSON helpers
// =============================================================================

func (s *Store) getJSON(key []byte, out interface{}) error {
	return s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
}

func (s *Store) setJSON(key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
}

// =============================================================================
// Component Health
// =============================================================================

// GetHealth returns the health record for a component.
//
// Returns ErrComponentUnknown if the component has never been probed.
func (s *Store) GetHealth(component string) (ComponentHealth, error) {
	var health ComponentHealth
	err := s.getJSON(healthKey(component), &health)
	if err == badger.ErrKeyNotFound {
		return ComponentHealth{}, ErrComponentUnknown
	}
	if err != nil {
		return ComponentHealth{}, fmt.Errorf("get health %s: %w", component, err)
	}
	return health, nil
}

// ListHealth returns health records for all known components, sorted by
// key (component name).
func (s *Store) ListHealth() ([]ComponentHealth, error) {
	var out []ComponentHealth
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("health/")
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var health ComponentHealth
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &health)
			})
			if err != nil {
				return err
			}
			out = append(out, health)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list health: %w", err)
	}
	return out, nil
}

// RecordProbe folds one probe outcome into the component's health record
// and returns the updated record.
//
// # Description
//
// On failure, ConsecutiveFailures and TotalFailures increment and
// LastFailureAt is stamped. On success, ConsecutiveFailures resets to
// zero; the lifetime counter is untouched. Status is re-derived from the
// counter on every call (or forced critical while an integrity violation
// is flagged), and the uptime window absorbs the outcome.
//
// A record is created on first probe of an unknown component.
func (s *Store) RecordProbe(component string, healthy bool, detail string, at time.Time) (ComponentHealth, error) {
	unlock := s.LockComponent(component)
	defer unlock()
	return s.recordProbeLocked(component, healthy, detail, at)
}

// RecordProbeLocked is RecordProbe for callers already holding the
// component lock via LockComponent.
func (s *Store) RecordProbeLocked(component string, healthy bool, detail string, at time.Time) (ComponentHealth, error) {
	return s.recordProbeLocked(component, healthy, detail, at)
}

func (s *Store) recordProbeLocked(component string, healthy bool, detail string, at time.Time) (ComponentHealth, error) {
	health, err := s.GetHealth(component)
	if err == ErrComponentUnknown {
		health = ComponentHealth{
			ComponentName: component,
			Status:        StatusHealthy,
			Version:       SchemaVersion,
			CreatedAt:     at,
		}
	} else if err != nil {
		return ComponentHealth{}, err
	}

	health.LastCheck = at
	health.LastDetail = detail
	health.UpdatedAt = at

	if healthy {
		health.ConsecutiveFailures = 0
	} else {
		health.ConsecutiveFailures++
		health.TotalFailures++
		health.LastFailureAt = at
	}

	window := s.window(component)
	window.Record(healthy)
	health.UptimePercentage = window.UptimeRatio() * 100

	if health.IntegrityViolation {
		health.Status = StatusCritical
	} else {
		health.Status = StatusFor(health.ConsecutiveFailures)
	}

	if err := s.setJSON(healthKey(component), health); err != nil {
		return ComponentHealth{}, fmt.Errorf("record probe %s: %w", component, err)
	}
	return health, nil
}

// SetIntegrityViolation flags or clears the integrity override on a
// component's health record. While flagged, status is critical regardless
// of the failure counter.
func (s *Store) SetIntegrityViolation(component string, violated bool, detail string, at time.Time) (ComponentHealth, error) {
	unlock := s.LockComponent(component)
	defer unlock()
	return s.setIntegrityViolationLocked(component, violated, detail, at)
}

// SetIntegrityViolationLocked is SetIntegrityViolation for callers
// already holding the component lock via LockComponent.
func (s *Store) SetIntegrityViolationLocked(component string, violated bool, detail string, at time.Time) (ComponentHealth, error) {
	return s.setIntegrityViolationLocked(component, violated, detail, at)
}

func (s *Store) setIntegrityViolationLocked(component string, violated bool, detail string, at time.Time) (ComponentHealth, error) {
	health, err := s.GetHealth(component)
	if err == ErrComponentUnknown {
		health = ComponentHealth{
			ComponentName: component,
			Version:       SchemaVersion,
			CreatedAt:     at,
		}
	} else if err != nil {
		return ComponentHealth{}, err
	}

	health.IntegrityViolation = violated
	health.UpdatedAt = at
	if detail != "" {
		health.LastDetail = detail
	}
	if violated {
		health.Status = StatusCritical
	} else {
		health.Status = StatusFor(health.ConsecutiveFailures)
	}

	if err := s.setJSON(healthKey(component), health); err != nil {
		return ComponentHealth{}, fmt.Errorf("set integrity violation %s: %w", component, err)
	}
	return health, nil
}

// =============================================================================
// Repair Attempts
// =============================================================================

// AppendAttempt persists a repair attempt row.
//
// The row must be written and synced before the repair action runs, so a
// crash mid-repair still leaves evidence of what was attempted. Assigns
// ID, Version and CreatedAt if unset. The caller holds the component lock.
func (s *Store) AppendAttempt(attempt *RepairAttempt) error {
	if attempt.ID == "" {
		attempt.ID = util.GenerateID()
	}
	if attempt.CreatedAt.IsZero() {
		attempt.CreatedAt = time.Now()
	}
	if attempt.Version == "" {
		attempt.Version = SchemaVersion
	}

	key := attemptKey(attempt.ComponentName, attempt.CreatedAt, attempt.ID)
	if err := s.setJSON(key, attempt); err != nil {
		return fmt.Errorf("append attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// CompleteAttempt rewrites an attempt row with its completion fields
// (outcome, duration, execution details) filled in.
//
// Only completion fields change; everything else on the row is already
// immutable history. Returns ErrAttemptNotFound if the row was never
// appended.
func (s *Store) CompleteAttempt(attempt *RepairAttempt) error {
	key := attemptKey(attempt.ComponentName, attempt.CreatedAt, attempt.ID)

	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key)
		return err
	})
	if err == badger.ErrKeyNotFound {
		return ErrAttemptNotFound
	}
	if err != nil {
		return fmt.Errorf("complete attempt %s: %w", attempt.ID, err)
	}

	if err := s.setJSON(key, attempt); err != nil {
		return fmt.Errorf("complete attempt %s: %w", attempt.ID, err)
	}
	return nil
}

// ListAttempts returns attempt rows for a component, newest first.
// A limit <= 0 returns all rows.
func (s *Store) ListAttempts(component string, limit int) ([]RepairAttempt, error) {
	var out []RepairAttempt
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = attemptPrefix(component)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var attempt RepairAttempt
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &attempt)
			})
			if err != nil {
				return err
			}
			out = append(out, attempt)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list attempts %s: %w", component, err)
	}

	// Keys scan oldest-first; callers want recent history first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// Incidents
// =============================================================================

// GetIncident returns the open incident for a component, or ErrNoIncident.
func (s *Store) GetIncident(component string) (Incident, error) {
	var incident Incident
	err := s.getJSON(incidentKey(component), &incident)
	if err == badger.ErrKeyNotFound {
		return Incident{}, ErrNoIncident
	}
	if err != nil {
		return Incident{}, fmt.Errorf("get incident %s: %w", component, err)
	}
	return incident, nil
}

// OpenIncident creates the open-incident record for a component at tier 1.
// The caller holds the component lock.
func (s *Store) OpenIncident(component string, at time.Time) (Incident, error) {
	incident := Incident{
		ID:            uuid.NewString(),
		ComponentName: component,
		Tier:          1,
		FailureCount:  1,
		LastFailureAt: at,
		OpenedAt:      at,
	}
	if err := s.setJSON(incidentKey(component), incident); err != nil {
		return Incident{}, fmt.Errorf("open incident %s: %w", component, err)
	}
	return incident, nil
}

// PutIncident rewrites the open-incident record. The caller holds the
// component lock.
func (s *Store) PutIncident(incident Incident) error {
	if err := s.setJSON(incidentKey(incident.ComponentName), incident); err != nil {
		return fmt.Errorf("put incident %s: %w", incident.ComponentName, err)
	}
	return nil
}

// CloseIncident resolves the open incident for a component.
//
// # Description
//
// Stamps resolvedAt on every attempt row belonging to the incident,
// folds the incident's duration into the component's recovery-time mean,
// then deletes the incident record. Only a successful probe closes an
// incident; a successful repair action alone does not.
//
// Returns the closed incident, or ErrNoIncident if none was open.
// The caller holds the component lock.
func (s *Store) CloseIncident(component string, resolvedAt time.Time) (Incident, error) {
	incident, err := s.GetIncident(component)
	if err != nil {
		return Incident{}, err
	}

	if err := s.stampResolved(component, incident.ID, resolvedAt); err != nil {
		return Incident{}, fmt.Errorf("close incident %s: %w", component, err)
	}

	if err := s.foldRecovery(component, resolvedAt.Sub(incident.OpenedAt).Seconds(), resolvedAt); err != nil {
		return Incident{}, err
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(incidentKey(component))
	})
	if err != nil {
		return Incident{}, fmt.Errorf("close incident %s: %w", component, err)
	}

	s.logger.Info("incident closed",
		"component", component,
		"incident", incident.ID,
		"tier_reached", incident.Tier,
		"failures", incident.FailureCount,
		"duration", resolvedAt.Sub(incident.OpenedAt).String())
	return incident, nil
}

// stampResolved sets ResolvedAt on all unresolved attempt rows of the
// given incident.
func (s *Store) stampResolved(component, incidentID string, resolvedAt time.Time) error {
	attempts, err := s.ListAttempts(component, 0)
	if err != nil {
		return err
	}
	for i := range attempts {
		attempt := &attempts[i]
		if attempt.IncidentID != incidentID || attempt.ResolvedAt != nil {
			continue
		}
		attempt.ResolvedAt = &resolvedAt
		key := attemptKey(attempt.ComponentName, attempt.CreatedAt, attempt.ID)
		if err := s.setJSON(key, attempt); err != nil {
			return err
		}
	}
	return nil
}

// foldRecovery updates the incremental recovery-time mean on the health
// record.
func (s *Store) foldRecovery(component string, seconds float64, at time.Time) error {
	health, err := s.GetHealth(component)
	if err != nil {
		return err
	}
	health.RecoveryCount++
	health.RecoveryTimeAvg += (seconds - health.RecoveryTimeAvg) / float64(health.RecoveryCount)
	health.UpdatedAt = at
	if err := s.setJSON(healthKey(component), health); err != nil {
		return fmt.Errorf("fold recovery %s: %w", component, err)
	}
	return nil
}

// componentFromAttemptKey extracts the component name from an attempt key.
func componentFromAttemptKey(key []byte) string {
	parts := strings.SplitN(string(key), "/", 3)
	if len(parts) != 3 {
		return ""
	}
	return parts[1]
}
