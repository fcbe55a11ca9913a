// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/metrics"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/store"
	"github.com/AleutianAI/sentinel/pkg/logging"
)

// MaxConcurrentProbes caps probe parallelism per cycle.
const MaxConcurrentProbes = 50

// Sink receives probe verdicts. The repair escalator implements it.
type Sink interface {
	OnSuccess(ctx context.Context, component, detail string, at time.Time) error
	OnFailure(ctx context.Context, component, detail string, errType store.ErrorType, at time.Time) error
}

// Target is one component under watch.
type Target struct {
	// Component is the component name, unique across targets.
	Component string

	// Probe checks the component.
	Probe Probe

	// Timeout overrides DefaultProbeTimeout when positive.
	Timeout time.Duration
}

// CycleResult summarizes one monitoring pass.
type CycleResult struct {
	Probed    int
	Healthy   int
	Unhealthy int
}

// Monitor probes every target and funnels results into the sink.
//
// # Thread Safety
//
// RunCycle may be called concurrently, though the scheduler never does;
// per-component ordering is the sink's responsibility (the escalator
// serializes on the component lock).
type Monitor struct {
	targets []Target
	sink    Sink
	logger  *logging.Logger
	sem     *semaphore.Weighted
}

// New creates a Monitor.
func New(targets []Target, sink Sink, logger *logging.Logger) (*Monitor, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	seen := make(map[string]bool, len(targets))
	for _, t := range targets {
		if t.Component == "" {
			return nil, fmt.Errorf("target with empty component name")
		}
		if t.Probe == nil {
			return nil, fmt.Errorf("target %s has no probe", t.Component)
		}
		if seen[t.Component] {
			return nil, fmt.Errorf("duplicate target %s", t.Component)
		}
		seen[t.Component] = true
	}
	return &Monitor{
		targets: targets,
		sink:    sink,
		logger:  logger,
		sem:     semaphore.NewWeighted(MaxConcurrentProbes),
	}, nil
}

// RunCycle probes all targets in parallel and reports each verdict to
// the sink. A probe that exceeds its timeout is a failure. Sink errors
// are logged per component; the cycle always completes.
func (m *Monitor) RunCycle(ctx context.Context) (CycleResult, error) {
	var (
		result CycleResult
		mu     sync.Mutex
		wg     sync.WaitGroup
	)
	result.Probed = len(m.targets)

	for _, target := range m.targets {
		if err := m.sem.Acquire(ctx, 1); err != nil {
			return result, fmt.Errorf("probe cycle aborted: %w", err)
		}
		wg.Add(1)
		go func(t Target) {
			defer wg.Done()
			defer m.sem.Release(1)

			healthy := m.probeOne(ctx, t)

			mu.Lock()
			if healthy {
				result.Healthy++
			} else {
				result.Unhealthy++
			}
			mu.Unlock()
		}(target)
	}
	wg.Wait()
	return result, ctx.Err()
}

// probeOne runs a single probe and delivers the verdict.
func (m *Monitor) probeOne(ctx context.Context, t Target) bool {
	timeout := t.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	healthy, detail, err := t.Probe.Check(probeCtx)
	elapsed := time.Since(started)
	at := time.Now()

	metrics.ProbeDuration.WithLabelValues(t.Component).Observe(elapsed.Seconds())

	if err != nil {
		// Probe infrastructure problem: misconfiguration, not a verdict.
		// Treated as a failure so a broken probe can't hide a broken
		// component, but logged loudly.
		m.logger.Error("probe error", "component", t.Component, "error", err)
		healthy = false
		detail = "probe error: " + err.Error()
	}
	if probeCtx.Err() == context.DeadlineExceeded {
		healthy = false
		detail = fmt.Sprintf("probe timed out after %s", timeout)
	}

	resultLabel := "success"
	if !healthy {
		resultLabel = "failure"
	}
	metrics.ProbesTotal.WithLabelValues(t.Component, resultLabel).Inc()

	var sinkErr error
	if healthy {
		sinkErr = m.sink.OnSuccess(ctx, t.Component, detail, at)
	} else {
		sinkErr = m.sink.OnFailure(ctx, t.Component, detail, store.ErrorTypeProbe, at)
	}
	if sinkErr != nil {
		m.logger.Error("probe result not processed",
			"component", t.Component, "healthy", healthy, "error", sinkErr)
	}
	return healthy
}
