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
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/AleutianAI/sentinel/pkg/logging"
)

func quietLogger() *logging.Logger {
	return logging.New(logging.Config{Quiet: true})
}

func TestNewWebhookSink_Validation(t *testing.T) {
	if _, err := NewWebhookSink(WebhookConfig{}, quietLogger()); err == nil {
		t.Error("NewWebhookSink() with empty URL did not error")
	}
	if _, err := NewWebhookSink(WebhookConfig{URL: "ftp://bad"}, quietLogger()); err == nil {
		t.Error("NewWebhookSink() with non-http URL did not error")
	}
}

// TestWebhookSink_DeliversSlackPayload verifies the POST body carries the
// incident context in the attachment format.
func TestWebhookSink_DeliversSlackPayload(t *testing.T) {
	received := make(chan webhookPayload, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %s, want application/json", ct)
		}
		body, _ := io.ReadAll(r.Body)
		var payload webhookPayload
		if err := json.Unmarshal(body, &payload); err != nil {
			t.Errorf("invalid JSON body: %v", err)
		}
		received <- payload
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, err := NewWebhookSink(WebhookConfig{URL: server.URL}, quietLogger())
	if err != nil {
		t.Fatalf("NewWebhookSink() error = %v", err)
	}

	opened := time.Now().Add(-15 * time.Minute)
	err = sink.Notify(context.Background(), Context{
		Component:      "vectordb",
		IncidentID:     "inc-42",
		Severity:       SeverityCritical,
		Summary:        "vectordb repair ladder exhausted",
		Detail:         "tier 3 restore failed",
		TierReached:    3,
		FailureCount:   7,
		FirstFailureAt: opened,
		Attempts:       []string{"tier 1: clear_cache (failure)", "tier 2: restart (failure)", "tier 3: restore_snapshot (failure)"},
	})
	if err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	payload := <-received
	if len(payload.Attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(payload.Attachments))
	}
	att := payload.Attachments[0]
	if att.Color != colorCritical {
		t.Errorf("color = %s, want %s", att.Color, colorCritical)
	}
	if att.Title != "vectordb repair ladder exhausted" {
		t.Errorf("title = %q", att.Title)
	}

	var sawTier, sawAttempts bool
	for _, f := range att.Fields {
		switch f.Title {
		case "Tier Reached":
			sawTier = f.Value == "3"
		case "Repair Attempts":
			sawAttempts = f.Value != ""
		}
	}
	if !sawTier || !sawAttempts {
		t.Errorf("fields missing context: %+v", att.Fields)
	}
}

// TestWebhookSink_ServerErrorRetriesThenFails verifies 5xx responses are
// retried up to the attempt budget before the error surfaces.
func TestWebhookSink_ServerErrorRetriesThenFails(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	sink, _ := NewWebhookSink(WebhookConfig{URL: server.URL}, quietLogger())
	sink.backoff = time.Millisecond

	if err := sink.Notify(context.Background(), Context{Component: "x", Summary: "s"}); err == nil {
		t.Error("Notify() against 500 server did not error")
	}
	if attempts != maxDeliveryAttempts {
		t.Errorf("attempts = %d, want %d", attempts, maxDeliveryAttempts)
	}
}

// TestWebhookSink_TransientErrorRecovers verifies a delivery succeeds
// when a retry lands after initial 5xx responses.
func TestWebhookSink_TransientErrorRecovers(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, _ := NewWebhookSink(WebhookConfig{URL: server.URL}, quietLogger())
	sink.backoff = time.Millisecond

	if err := sink.Notify(context.Background(), Context{Component: "x", Summary: "s"}); err != nil {
		t.Errorf("Notify() error = %v, want recovery on retry", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

// TestWebhookSink_ClientErrorNotRetried verifies 4xx responses fail
// immediately: retrying a rejected payload cannot help.
func TestWebhookSink_ClientErrorNotRetried(t *testing.T) {
	var attempts int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	sink, _ := NewWebhookSink(WebhookConfig{URL: server.URL}, quietLogger())
	sink.backoff = time.Millisecond

	if err := sink.Notify(context.Background(), Context{Component: "x", Summary: "s"}); err == nil {
		t.Error("Notify() against 403 server did not error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 (no retry on 4xx)", attempts)
	}
}

// TestWebhookSink_RateLimit verifies excess alerts are dropped, not
// queued.
func TestWebhookSink_RateLimit(t *testing.T) {
	var delivered int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		delivered++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sink, _ := NewWebhookSink(WebhookConfig{URL: server.URL, RatePerMinute: 2}, quietLogger())

	var dropped int
	for i := 0; i < 10; i++ {
		err := sink.Notify(context.Background(), Context{Component: "noisy", Summary: "storm"})
		if errors.Is(err, ErrRateLimited) {
			dropped++
		} else if err != nil {
			t.Fatalf("Notify() error = %v", err)
		}
	}

	if delivered != 2 {
		t.Errorf("delivered = %d, want burst of 2", delivered)
	}
	if dropped != 8 {
		t.Errorf("dropped = %d, want 8", dropped)
	}
}

func TestLogSink_NeverFails(t *testing.T) {
	sink := NewLogSink(quietLogger())
	err := sink.Notify(context.Background(), Context{
		Component: "db",
		Severity:  SeverityCritical,
		Summary:   "exhausted",
	})
	if err != nil {
		t.Errorf("LogSink.Notify() error = %v", err)
	}
}

func TestMockSink_Records(t *testing.T) {
	mock := &MockSink{}
	mock.Notify(context.Background(), Context{Component: "a"})
	mock.Notify(context.Background(), Context{Component: "b"})

	alerts := mock.GetAlerts()
	if len(alerts) != 2 || alerts[0].Component != "a" || alerts[1].Component != "b" {
		t.Errorf("recorded alerts wrong: %+v", alerts)
	}

	mock.Reset()
	if len(mock.GetAlerts()) != 0 {
		t.Error("Reset() did not clear alerts")
	}
}
