// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package alert delivers exhaustion and integrity notifications to a
// configured sink: a Slack-compatible webhook, or the log when no
// webhook is configured. Alert failures are never allowed to block or
// fail the repair pipeline; the supervisor's job is repairing, alerting
// is best effort.
package alert

import (
	"context"
	"sync"
	"time"

	"github.com/AleutianAI/sentinel/pkg/logging"
)

// Severity grades an alert.
type Severity string

const (
	// SeverityCritical is an exhausted repair ladder or an integrity
	// violation: human attention required.
	SeverityCritical Severity = "critical"

	// SeverityWarning is a notable but self-healing condition.
	SeverityWarning Severity = "warning"

	// SeverityResolved announces a previously alerted incident closing.
	SeverityResolved Severity = "resolved"
)

// Context is everything a human needs to act on an alert.
type Context struct {
	// Component is the affected component.
	Component string

	// IncidentID ties the alert to the audit log.
	IncidentID string

	// Severity grades the alert.
	Severity Severity

	// Summary is the one-line headline.
	Summary string

	// Detail is the longer free-form explanation.
	Detail string

	// TierReached is the highest repair tier attempted, 0 if none.
	TierReached int

	// FailureCount is the incident's failure count.
	FailureCount int

	// FirstFailureAt is when the incident opened.
	FirstFailureAt time.Time

	// Attempts summarizes the repair actions taken, in order.
	Attempts []string
}

// Sink receives alerts.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Notify delivers one alert. Implementations must not block
	// indefinitely; the caller treats errors as log-only.
	Notify(ctx context.Context, alert Context) error
}

// =============================================================================
// Log Sink
// =============================================================================

// LogSink writes alerts to the structured log. It is the fallback when
// no webhook is configured, so exhausted incidents are never silent.
type LogSink struct {
	logger *logging.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *logging.Logger) *LogSink {
	if logger == nil {
		logger = logging.Default()
	}
	return &LogSink{logger: logger}
}

// Notify logs the alert at error level for critical severity, warn
// otherwise.
func (s *LogSink) Notify(_ context.Context, alert Context) error {
	args := []any{
		"component", alert.Component,
		"incident", alert.IncidentID,
		"severity", string(alert.Severity),
		"tier_reached", alert.TierReached,
		"failures", alert.FailureCount,
		"detail", alert.Detail,
	}
	if alert.Severity == SeverityCritical {
		s.logger.Error("ALERT: "+alert.Summary, args...)
	} else {
		s.logger.Warn("ALERT: "+alert.Summary, args...)
	}
	return nil
}

// =============================================================================
// Mock Sink
// =============================================================================

// MockSink is a test double for Sink.
//
// Records every alert; NotifyFunc can be set to inject failures.
type MockSink struct {
	// NotifyFunc, when set, decides the return value.
	NotifyFunc func(ctx context.Context, alert Context) error

	// Alerts records all delivered alerts.
	Alerts []Context

	mu sync.Mutex
}

// Notify records the alert and delegates to NotifyFunc when set.
func (m *MockSink) Notify(ctx context.Context, alert Context) error {
	m.mu.Lock()
	m.Alerts = append(m.Alerts, alert)
	m.mu.Unlock()

	if m.NotifyFunc != nil {
		return m.NotifyFunc(ctx, alert)
	}
	return nil
}

// GetAlerts returns a copy of all recorded alerts.
func (m *MockSink) GetAlerts() []Context {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Context, len(m.Alerts))
	copy(out, m.Alerts)
	return out
}

// Reset clears recorded alerts.
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Alerts = nil
}

// Compile-time interface compliance check.
var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*MockSink)(nil)
	_ Sink = (*WebhookSink)(nil)
)
