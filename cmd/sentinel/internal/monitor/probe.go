// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package monitor runs health probes against configured components and
// funnels every result into the repair escalator.
package monitor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/sys/unix"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/process"
)

// DefaultProbeTimeout bounds a single probe. A probe that has not
// answered by then counts as a failure, not an error in the monitor.
const DefaultProbeTimeout = 5 * time.Second

// Probe checks one aspect of a component's health.
//
// # Outputs
//
// healthy reports the verdict; detail is a short human-readable
// explanation recorded on the health record either way. err is reserved
// for probe-infrastructure problems (bad configuration), NOT for the
// component being down - a down component is healthy=false, err=nil.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the monitor probes
// components in parallel.
type Probe interface {
	Check(ctx context.Context) (healthy bool, detail string, err error)
}

// HTTPDoer lets tests substitute the HTTP client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// =============================================================================
// HTTP Probe
// =============================================================================

// HTTPProbe performs a GET and checks the status code.
type HTTPProbe struct {
	// URL is the endpoint to probe.
	URL string

	// ExpectedStatus is the healthy status code. Defaults to 200.
	ExpectedStatus int

	// Client defaults to a plain http.Client; the probe relies on the
	// caller's context for its deadline.
	Client HTTPDoer
}

// Check issues the GET.
func (p *HTTPProbe) Check(ctx context.Context) (bool, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return false, "", fmt.Errorf("build probe request: %w", err)
	}

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Sprintf("GET %s: %v", p.URL, err), nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	want := p.ExpectedStatus
	if want == 0 {
		want = http.StatusOK
	}
	if resp.StatusCode != want {
		return false, fmt.Sprintf("GET %s: status %d, want %d", p.URL, resp.StatusCode, want), nil
	}
	return true, fmt.Sprintf("GET %s: %d", p.URL, resp.StatusCode), nil
}

// =============================================================================
// TCP Probe
// =============================================================================

// TCPProbe checks that a TCP connect succeeds.
type TCPProbe struct {
	// Address is host:port.
	Address string
}

// Check dials and immediately closes.
func (p *TCPProbe) Check(ctx context.Context) (bool, string, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return false, fmt.Sprintf("dial %s: %v", p.Address, err), nil
	}
	_ = conn.Close()
	return true, "tcp connect to " + p.Address, nil
}

// =============================================================================
// Process Probe
// =============================================================================

// ProcessProbe checks that the component's process is running.
type ProcessProbe struct {
	Runner  *process.Runner
	Service process.Service
}

// Check asks the runner whether the process pattern matches anything.
func (p *ProcessProbe) Check(ctx context.Context) (bool, string, error) {
	if p.Service.Pattern == "" {
		return false, "", fmt.Errorf("process probe for %s has no pattern", p.Service.Name)
	}
	alive, err := p.Runner.IsAlive(ctx, p.Service)
	if err != nil {
		return false, fmt.Sprintf("liveness check for %s: %v", p.Service.Name, err), nil
	}
	if !alive {
		return false, fmt.Sprintf("process %q not running", p.Service.Pattern), nil
	}
	return true, fmt.Sprintf("process %q running", p.Service.Pattern), nil
}

// =============================================================================
// Disk Probe
// =============================================================================

// DiskProbe checks free space on a filesystem.
type DiskProbe struct {
	// Path is any path on the filesystem to check.
	Path string

	// MaxUsedPercent is the failure threshold. Defaults to 90.
	MaxUsedPercent float64
}

// Check reads filesystem usage via statfs.
func (p *DiskProbe) Check(_ context.Context) (bool, string, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(p.Path, &stat); err != nil {
		return false, "", fmt.Errorf("statfs %s: %w", p.Path, err)
	}
	if stat.Blocks == 0 {
		return false, "", fmt.Errorf("statfs %s: zero total blocks", p.Path)
	}

	used := 100 * (1 - float64(stat.Bavail)/float64(stat.Blocks))
	max := p.MaxUsedPercent
	if max <= 0 {
		max = 90
	}
	detail := fmt.Sprintf("%s is %.1f%% full (threshold %.0f%%)", p.Path, used, max)
	return used <= max, detail, nil
}

// =============================================================================
// Mock Probe
// =============================================================================

// MockProbe is a test double for Probe.
type MockProbe struct {
	// CheckFunc decides the result. Defaults to healthy when nil.
	CheckFunc func(ctx context.Context) (bool, string, error)
}

// Check delegates to CheckFunc.
func (m *MockProbe) Check(ctx context.Context) (bool, string, error) {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx)
	}
	return true, "mock", nil
}

// Compile-time interface compliance check.
var (
	_ Probe = (*HTTPProbe)(nil)
	_ Probe = (*TCPProbe)(nil)
	_ Probe = (*ProcessProbe)(nil)
	_ Probe = (*DiskProbe)(nil)
	_ Probe = (*MockProbe)(nil)
)
