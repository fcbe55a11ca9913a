// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/AleutianAI/sentinel/pkg/logging"
)

// Severity colors for Slack-compatible attachments.
const (
	colorCritical = "#dc3545"
	colorWarning  = "#ffc107"
	colorResolved = "#36a64f"
)

// ErrRateLimited is returned when an alert is dropped because the sink's
// rate limit is saturated.
var ErrRateLimited = errors.New("alert dropped: rate limited")

// maxDeliveryAttempts bounds delivery of one alert: the first POST plus
// retries on transport errors and 5xx responses. 4xx responses are
// configuration problems and never retried.
const maxDeliveryAttempts = 3

// defaultRetryBackoff spaces retry attempts. Grows linearly per attempt.
const defaultRetryBackoff = 2 * time.Second

// webhookPayload is the Slack-compatible message body.
type webhookPayload struct {
	Text        string       `json:"text,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	Color  string  `json:"color"`
	Title  string  `json:"title"`
	Text   string  `json:"text"`
	Footer string  `json:"footer,omitempty"`
	Ts     int64   `json:"ts,omitempty"`
	Fields []field `json:"fields,omitempty"`
}

type field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// WebhookConfig configures a WebhookSink.
type WebhookConfig struct {
	// URL is the webhook endpoint. Treat as a secret; it usually embeds
	// a token.
	URL string

	// Timeout bounds each delivery attempt. Default 10s.
	Timeout time.Duration

	// RatePerMinute caps deliveries; excess alerts are dropped with
	// ErrRateLimited rather than queued. Default 6.
	RatePerMinute int
}

// WebhookSink posts alerts as Slack-compatible JSON.
//
// # Description
//
// Posts the alert as a color-coded attachment carrying the incident
// context, retrying transport errors and 5xx responses up to
// maxDeliveryAttempts with linear backoff. Deliveries are rate limited
// so an alert storm can never wedge the supervisor behind a slow
// webhook endpoint: when the limiter has no capacity the alert is
// dropped immediately and the caller logs it.
//
// # Thread Safety
//
// Safe for concurrent use.
type WebhookSink struct {
	url     string
	client  *http.Client
	limiter *rate.Limiter
	backoff time.Duration
	logger  *logging.Logger
}

// NewWebhookSink creates a WebhookSink.
func NewWebhookSink(cfg WebhookConfig, logger *logging.Logger) (*WebhookSink, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook URL is required")
	}
	if !strings.HasPrefix(cfg.URL, "http://") && !strings.HasPrefix(cfg.URL, "https://") {
		return nil, fmt.Errorf("webhook URL must be http(s), got scheme of %q", cfg.URL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 6
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &WebhookSink{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		backoff: defaultRetryBackoff,
		logger:  logger,
	}, nil
}

// Notify delivers the alert, dropping it if the rate limit is saturated.
// Transient delivery failures are retried up to maxDeliveryAttempts.
func (s *WebhookSink) Notify(ctx context.Context, alert Context) error {
	if !s.limiter.Allow() {
		s.logger.Warn("alert rate limited",
			"component", alert.Component,
			"incident", alert.IncidentID)
		return ErrRateLimited
	}

	body, err := json.Marshal(buildPayload(alert))
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxDeliveryAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.backoff * time.Duration(attempt-1)):
			}
		}

		retryable, err := s.post(ctx, body)
		if err == nil {
			s.logger.Debug("alert delivered",
				"component", alert.Component,
				"incident", alert.IncidentID,
				"severity", string(alert.Severity),
				"attempt", attempt)
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
		s.logger.Warn("alert delivery failed",
			"component", alert.Component,
			"attempt", attempt,
			"error", err)
	}
	return fmt.Errorf("deliver alert after %d attempts: %w", maxDeliveryAttempts, lastErr)
}

// post performs one delivery attempt. retryable marks failures worth
// another attempt (transport errors, 5xx); 4xx failures are not.
func (s *WebhookSink) post(ctx context.Context, body []byte) (retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build alert request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return true, fmt.Errorf("deliver alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return true, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return false, nil
}

// buildPayload renders an alert as a Slack-compatible attachment.
func buildPayload(alert Context) webhookPayload {
	color := colorWarning
	switch alert.Severity {
	case SeverityCritical:
		color = colorCritical
	case SeverityResolved:
		color = colorResolved
	}

	fields := []field{
		{Title: "Component", Value: alert.Component, Short: true},
		{Title: "Severity", Value: string(alert.Severity), Short: true},
	}
	if alert.TierReached > 0 {
		fields = append(fields, field{Title: "Tier Reached", Value: strconv.Itoa(alert.TierReached), Short: true})
	}
	if alert.FailureCount > 0 {
		fields = append(fields, field{Title: "Failures", Value: strconv.Itoa(alert.FailureCount), Short: true})
	}
	if !alert.FirstFailureAt.IsZero() {
		fields = append(fields, field{
			Title: "First Failure",
			Value: alert.FirstFailureAt.UTC().Format(time.RFC3339),
			Short: true,
		})
	}
	if len(alert.Attempts) > 0 {
		fields = append(fields, field{
			Title: "Repair Attempts",
			Value: strings.Join(alert.Attempts, "\n"),
		})
	}

	return webhookPayload{
		Text: alert.Summary,
		Attachments: []attachment{{
			Color:  color,
			Title:  alert.Summary,
			Text:   alert.Detail,
			Footer: "sentinel incident " + alert.IncidentID,
			Ts:     time.Now().Unix(),
			Fields: fields,
		}},
	}
}
