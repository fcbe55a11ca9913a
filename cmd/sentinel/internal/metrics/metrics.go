// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics exposes the supervisor's Prometheus instrumentation
// and the hourly JSONL health snapshot.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProbesTotal counts health probes by component and result.
	ProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_probes_total",
		Help: "Total health probes by component and result",
	}, []string{"component", "result"})

	// ProbeDuration tracks probe latency.
	ProbeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_probe_duration_seconds",
		Help:    "Probe duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~16s
	}, []string{"component"})

	// RepairAttemptsTotal counts repair attempts by component, tier and
	// outcome.
	RepairAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_repair_attempts_total",
		Help: "Total repair attempts by component, tier and outcome",
	}, []string{"component", "tier", "outcome"})

	// RepairDuration tracks repair action latency by tier.
	RepairDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sentinel_repair_duration_seconds",
		Help:    "Repair action duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
	}, []string{"tier"})

	// ConsecutiveFailures gauges the current failure streak per component.
	ConsecutiveFailures = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sentinel_consecutive_failures",
		Help: "Current consecutive probe failures per component",
	}, []string{"component"})

	// AlertsTotal counts alerts by severity and delivery result.
	AlertsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_alerts_total",
		Help: "Total alerts by severity and delivery result",
	}, []string{"severity", "result"})

	// IntegrityMismatchesTotal counts verification mismatches by kind.
	IntegrityMismatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sentinel_integrity_mismatches_total",
		Help: "Total integrity verification mismatches by kind",
	}, []string{"kind"})

	// IncidentsOpen gauges the number of currently open incidents.
	IncidentsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "sentinel_incidents_open",
		Help: "Number of currently open incidents",
	})

	// RetentionPrunedTotal counts audit rows removed by the retention
	// sweep.
	RetentionPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sentinel_retention_pruned_total",
		Help: "Total repair attempt rows pruned by retention sweeps",
	})
)
