// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package process

import (
	"context"
	"errors"
	"testing"
)

func TestRunner_Restart_OneStep(t *testing.T) {
	mock := &MockController{
		RunFunc: func(_ context.Context, name string, args ...string) ([]byte, error) {
			return []byte("ok"), nil
		},
	}
	runner := NewRunner(mock)

	svc := Service{
		Name:       "vectordb",
		RestartCmd: []string{"systemctl", "restart", "vectordb"},
	}
	if err := runner.Restart(context.Background(), svc); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}

	calls := mock.GetCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "systemctl" || calls[0].Args[0] != "restart" {
		t.Errorf("unexpected command: %s %v", calls[0].Name, calls[0].Args)
	}
}

func TestRunner_Restart_StopStartFallback(t *testing.T) {
	mock := &MockController{
		RunFunc: func(_ context.Context, name string, args ...string) ([]byte, error) {
			return nil, nil
		},
	}
	runner := NewRunner(mock)

	svc := Service{
		Name:     "cached",
		StopCmd:  []string{"pkill", "-f", "cached"},
		StartCmd: []string{"cached", "--daemon"},
	}
	if err := runner.Restart(context.Background(), svc); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}

	calls := mock.GetCalls()
	if len(calls) != 2 {
		t.Fatalf("expected stop+start, got %d calls", len(calls))
	}
	if calls[0].Name != "pkill" || calls[1].Name != "cached" {
		t.Errorf("unexpected order: %s then %s", calls[0].Name, calls[1].Name)
	}
}

// TestRunner_Restart_ToleratesDeadStop verifies a failing stop command is
// not fatal when the process is already gone.
func TestRunner_Restart_ToleratesDeadStop(t *testing.T) {
	mock := &MockController{
		RunFunc: func(_ context.Context, name string, args ...string) ([]byte, error) {
			if name == "pkill" {
				return nil, errors.New("exit status 1")
			}
			return nil, nil
		},
		IsRunningFunc: func(_ context.Context, pattern string) (bool, int, error) {
			return false, 0, nil
		},
	}
	runner := NewRunner(mock)

	svc := Service{
		Name:     "cached",
		StopCmd:  []string{"pkill", "-f", "cached"},
		StartCmd: []string{"cached", "--daemon"},
		Pattern:  "cached",
	}
	if err := runner.Restart(context.Background(), svc); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}
}

func TestRunner_Restart_NoCommands(t *testing.T) {
	runner := NewRunner(&MockController{})
	err := runner.Restart(context.Background(), Service{Name: "bare"})
	if !errors.Is(err, ErrNoCommand) {
		t.Errorf("Restart() error = %v, want ErrNoCommand", err)
	}
}

func TestRunner_Reload(t *testing.T) {
	mock := &MockController{
		IsRunningFunc: func(_ context.Context, pattern string) (bool, int, error) {
			return true, 4242, nil
		},
		SignalFunc: func(_ context.Context, pid int, signal string) error {
			if pid != 4242 {
				t.Errorf("Signal pid = %d, want 4242", pid)
			}
			if signal != "HUP" {
				t.Errorf("Signal = %s, want HUP (default)", signal)
			}
			return nil
		},
	}
	runner := NewRunner(mock)

	svc := Service{Name: "api", Pattern: "api-server"}
	if err := runner.Reload(context.Background(), svc); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
}

func TestRunner_Reload_NotRunning(t *testing.T) {
	mock := &MockController{
		IsRunningFunc: func(_ context.Context, pattern string) (bool, int, error) {
			return false, 0, nil
		},
	}
	runner := NewRunner(mock)

	if err := runner.Reload(context.Background(), Service{Name: "api", Pattern: "api"}); err == nil {
		t.Error("Reload() of dead process did not error")
	}
}

func TestRunner_IsAlive(t *testing.T) {
	mock := &MockController{
		IsRunningFunc: func(_ context.Context, pattern string) (bool, int, error) {
			return pattern == "alive-one", 10, nil
		},
	}
	runner := NewRunner(mock)

	alive, err := runner.IsAlive(context.Background(), Service{Name: "a", Pattern: "alive-one"})
	if err != nil || !alive {
		t.Errorf("IsAlive(alive-one) = %v, %v; want true, nil", alive, err)
	}
	alive, err = runner.IsAlive(context.Background(), Service{Name: "b", Pattern: "dead-one"})
	if err != nil || alive {
		t.Errorf("IsAlive(dead-one) = %v, %v; want false, nil", alive, err)
	}
}
