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
	"fmt"
	"time"
)

// Service describes how to control one supervised component's process.
//
// Command templates are argv slices, not shell strings; nothing here
// passes through a shell.
type Service struct {
	// Name is the component name the service belongs to.
	Name string

	// StartCmd launches the component (e.g. ["systemctl", "start", "vectordb"]).
	StartCmd []string

	// StopCmd stops the component. Optional when RestartCmd is set.
	StopCmd []string

	// RestartCmd restarts the component in one step. When empty, Restart
	// falls back to StopCmd followed by StartCmd.
	RestartCmd []string

	// Pattern is the pgrep pattern identifying the component's process.
	Pattern string

	// ReloadSignal is the signal name for a soft reload (default "HUP").
	ReloadSignal string
}

// ErrNoCommand is returned when a Service lacks the command template an
// operation needs.
var ErrNoCommand = errors.New("no command configured")

// Runner drives Service command templates through a Controller.
type Runner struct {
	controller Controller
}

// NewRunner creates a Runner over the given controller.
func NewRunner(controller Controller) *Runner {
	return &Runner{controller: controller}
}

// Restart restarts the service's process.
//
// Uses RestartCmd when configured, otherwise StopCmd then StartCmd. A
// missing process at stop time is tolerated; the point is the process
// running afterwards, not the path taken.
func (r *Runner) Restart(ctx context.Context, svc Service) error {
	if len(svc.RestartCmd) > 0 {
		if _, err := r.controller.Run(ctx, svc.RestartCmd[0], svc.RestartCmd[1:]...); err != nil {
			return fmt.Errorf("restart %s: %w", svc.Name, err)
		}
		return nil
	}

	if len(svc.StopCmd) == 0 || len(svc.StartCmd) == 0 {
		return fmt.Errorf("%w: restart of %s needs restart_cmd or stop_cmd+start_cmd", ErrNoCommand, svc.Name)
	}

	if _, err := r.controller.Run(ctx, svc.StopCmd[0], svc.StopCmd[1:]...); err != nil {
		// Stopping something already dead is fine; log-worthy, not fatal.
		running, _, checkErr := r.controller.IsRunning(ctx, svc.Pattern)
		if checkErr != nil || running {
			return fmt.Errorf("stop %s: %w", svc.Name, err)
		}
	}

	if _, err := r.controller.Run(ctx, svc.StartCmd[0], svc.StartCmd[1:]...); err != nil {
		return fmt.Errorf("start %s: %w", svc.Name, err)
	}
	return nil
}

// Reload sends the service's soft reload signal to its running process.
// Returns an error if the process is not running.
func (r *Runner) Reload(ctx context.Context, svc Service) error {
	if svc.Pattern == "" {
		return fmt.Errorf("%w: reload of %s needs a process pattern", ErrNoCommand, svc.Name)
	}
	running, pid, err := r.controller.IsRunning(ctx, svc.Pattern)
	if err != nil {
		return fmt.Errorf("reload %s: %w", svc.Name, err)
	}
	if !running || pid == 0 {
		return fmt.Errorf("reload %s: process not running", svc.Name)
	}

	signal := svc.ReloadSignal
	if signal == "" {
		signal = "HUP"
	}
	if err := r.controller.Signal(ctx, pid, signal); err != nil {
		return fmt.Errorf("reload %s: %w", svc.Name, err)
	}
	return nil
}

// IsAlive reports whether the service's process is running.
func (r *Runner) IsAlive(ctx context.Context, svc Service) (bool, error) {
	if svc.Pattern == "" {
		return false, fmt.Errorf("%w: liveness of %s needs a process pattern", ErrNoCommand, svc.Name)
	}
	running, _, err := r.controller.IsRunning(ctx, svc.Pattern)
	if err != nil {
		return false, err
	}
	return running, nil
}

// WaitUntilAlive polls the service's liveness until it comes up or the
// deadline passes. Used after a restart to confirm the process survived
// its own startup.
func (r *Runner) WaitUntilAlive(ctx context.Context, svc Service, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		alive, err := r.IsAlive(ctx, svc)
		if err != nil {
			return err
		}
		if alive {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%s not running after %v", svc.Name, timeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}
