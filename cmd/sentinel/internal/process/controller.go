// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package process abstracts interaction with host processes: running
// repair commands, restarting supervised components, and checking
// process liveness. The Controller interface keeps everything above it
// testable without real process execution.
package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

// Controller handles external process operations.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use from multiple
// goroutines.
//
// # Context Handling
//
// All methods accept a context.Context; repair actions run under
// deadlines, and a timed-out command must die with its context.
type Controller interface {
	// Run executes a command synchronously and returns its stdout.
	// Stderr is folded into the returned error on failure.
	Run(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInput executes a command with data piped to stdin.
	// Used for crontab installation, which reads the table from stdin.
	RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// Start launches a background process and returns its PID without
	// waiting for completion.
	Start(ctx context.Context, name string, args ...string) (int, error)

	// IsRunning checks whether a process matching the pgrep pattern
	// exists, returning its PID when found.
	IsRunning(ctx context.Context, pattern string) (bool, int, error)

	// Signal sends a named signal (e.g. "HUP", "TERM") to a PID.
	Signal(ctx context.Context, pid int, signal string) error
}

// =============================================================================
// Exec Implementation
// =============================================================================

// ExecController executes real processes with os/exec.
type ExecController struct{}

// NewExecController creates the production Controller.
func NewExecController() *ExecController {
	return &ExecController{}
}

// Run executes a command synchronously and returns its stdout.
func (c *ExecController) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// RunWithInput executes a command with data piped to stdin.
func (c *ExecController) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(input)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderr.Len() > 0 {
			return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Start launches a background process and returns immediately.
//
// The child is deliberately not tied to ctx: a restarted component must
// outlive the repair action that launched it.
func (c *ExecController) Start(_ context.Context, name string, args ...string) (int, error) {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("failed to start %s: %w", name, err)
	}
	// Reap the child when it exits so it doesn't linger as a zombie.
	go cmd.Wait()
	return cmd.Process.Pid, nil
}

// IsRunning checks if a process matching the pattern exists.
func (c *ExecController) IsRunning(ctx context.Context, pattern string) (bool, int, error) {
	cmd := exec.CommandContext(ctx, "pgrep", "-f", pattern)
	output, err := cmd.Output()
	if err != nil {
		// pgrep exits 1 when nothing matches; that is a clean "not running".
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("pgrep failed: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	if len(lines) > 0 && lines[0] != "" {
		pid, err := strconv.Atoi(lines[0])
		if err != nil {
			return true, 0, nil // Process found but PID parse failed
		}
		return true, pid, nil
	}
	return false, 0, nil
}

// Signal sends a named signal to a PID via kill(1).
func (c *ExecController) Signal(ctx context.Context, pid int, signal string) error {
	if pid <= 0 {
		return fmt.Errorf("invalid pid %d", pid)
	}
	_, err := c.Run(ctx, "kill", "-"+signal, strconv.Itoa(pid))
	if err != nil {
		return fmt.Errorf("signal %s to pid %d: %w", signal, pid, err)
	}
	return nil
}

// =============================================================================
// Mock Implementation for Testing
// =============================================================================

// MockController is a test double for Controller.
//
// Configure the mock by setting function fields before use. If a function
// field is nil and the corresponding method is called, it will panic.
//
// # Examples
//
//	mock := &MockController{
//	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
//	        if name == "systemctl" {
//	            return []byte("ok"), nil
//	        }
//	        return nil, fmt.Errorf("unexpected command: %s", name)
//	    },
//	}
type MockController struct {
	// RunFunc is called when Run is invoked
	RunFunc func(ctx context.Context, name string, args ...string) ([]byte, error)

	// RunWithInputFunc is called when RunWithInput is invoked
	RunWithInputFunc func(ctx context.Context, name string, input []byte, args ...string) ([]byte, error)

	// StartFunc is called when Start is invoked
	StartFunc func(ctx context.Context, name string, args ...string) (int, error)

	// IsRunningFunc is called when IsRunning is invoked
	IsRunningFunc func(ctx context.Context, pattern string) (bool, int, error)

	// SignalFunc is called when Signal is invoked
	SignalFunc func(ctx context.Context, pid int, signal string) error

	// Calls records all method invocations for verification
	Calls []ControllerCall

	// mu protects Calls for concurrent access
	mu sync.Mutex
}

// ControllerCall records a single method invocation.
type ControllerCall struct {
	Method string
	Name   string
	Args   []string
	Input  []byte
	PID    int
	Signal string
}

func (m *MockController) record(call ControllerCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, call)
}

// Run delegates to RunFunc and records the call.
func (m *MockController) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.record(ControllerCall{Method: "Run", Name: name, Args: args})
	if m.RunFunc == nil {
		panic("MockController.RunFunc not set")
	}
	return m.RunFunc(ctx, name, args...)
}

// RunWithInput delegates to RunWithInputFunc and records the call.
func (m *MockController) RunWithInput(ctx context.Context, name string, input []byte, args ...string) ([]byte, error) {
	m.record(ControllerCall{Method: "RunWithInput", Name: name, Args: args, Input: input})
	if m.RunWithInputFunc == nil {
		panic("MockController.RunWithInputFunc not set")
	}
	return m.RunWithInputFunc(ctx, name, input, args...)
}

// Start delegates to StartFunc and records the call.
func (m *MockController) Start(ctx context.Context, name string, args ...string) (int, error) {
	m.record(ControllerCall{Method: "Start", Name: name, Args: args})
	if m.StartFunc == nil {
		panic("MockController.StartFunc not set")
	}
	return m.StartFunc(ctx, name, args...)
}

// IsRunning delegates to IsRunningFunc and records the call.
func (m *MockController) IsRunning(ctx context.Context, pattern string) (bool, int, error) {
	m.record(ControllerCall{Method: "IsRunning", Name: pattern})
	if m.IsRunningFunc == nil {
		panic("MockController.IsRunningFunc not set")
	}
	return m.IsRunningFunc(ctx, pattern)
}

// Signal delegates to SignalFunc and records the call.
func (m *MockController) Signal(ctx context.Context, pid int, signal string) error {
	m.record(ControllerCall{Method: "Signal", PID: pid, Signal: signal})
	if m.SignalFunc == nil {
		panic("MockController.SignalFunc not set")
	}
	return m.SignalFunc(ctx, pid, signal)
}

// Reset clears all recorded calls.
func (m *MockController) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}

// GetCalls returns a copy of all recorded calls.
func (m *MockController) GetCalls() []ControllerCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ControllerCall, len(m.Calls))
	copy(result, m.Calls)
	return result
}

// Compile-time interface compliance check.
var (
	_ Controller = (*ExecController)(nil)
	_ Controller = (*MockController)(nil)
)
