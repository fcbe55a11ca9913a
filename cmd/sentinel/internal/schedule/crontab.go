// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schedule

import (
	"context"
	"fmt"
	"strings"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/process"
)

// cronMarker tags the lines this tool owns in the user's crontab, so
// install and remove never touch entries written by anything else.
const cronMarker = "# managed by sentinel"

// DefaultCronSchedule runs the health cycle every five minutes.
const DefaultCronSchedule = "*/5 * * * *"

// Crontab installs and removes the supervisor's cron entry in the
// current user's crontab.
type Crontab struct {
	controller process.Controller
}

// NewCrontab creates a Crontab over the given controller.
func NewCrontab(controller process.Controller) *Crontab {
	if controller == nil {
		controller = &process.ExecController{}
	}
	return &Crontab{controller: controller}
}

// Install adds (or replaces) the managed cron entry.
//
//	schedule: a five-field cron expression, e.g. "*/5 * * * *"
//	command:  the full command line cron should run
func (c *Crontab) Install(ctx context.Context, schedule, command string) error {
	if strings.Count(schedule, " ") != 4 {
		return fmt.Errorf("invalid cron schedule %q: want five fields", schedule)
	}
	if command == "" {
		return fmt.Errorf("command is required")
	}

	lines, err := c.current(ctx)
	if err != nil {
		return err
	}
	lines = withoutManaged(lines)
	lines = append(lines, fmt.Sprintf("%s %s %s", schedule, command, cronMarker))
	return c.write(ctx, lines)
}

// Remove deletes the managed cron entry. A crontab with no managed
// entry is left untouched.
func (c *Crontab) Remove(ctx context.Context) error {
	lines, err := c.current(ctx)
	if err != nil {
		return err
	}
	kept := withoutManaged(lines)
	if len(kept) == len(lines) {
		return nil
	}
	return c.write(ctx, kept)
}

// Installed reports whether a managed entry exists.
func (c *Crontab) Installed(ctx context.Context) (bool, error) {
	lines, err := c.current(ctx)
	if err != nil {
		return false, err
	}
	return len(withoutManaged(lines)) != len(lines), nil
}

// current reads the user's crontab. A missing crontab ("no crontab for
// user") is an empty one, not an error.
func (c *Crontab) current(ctx context.Context) ([]string, error) {
	out, err := c.controller.Run(ctx, "crontab", "-l")
	if err != nil {
		if strings.Contains(err.Error(), "no crontab") {
			return nil, nil
		}
		return nil, fmt.Errorf("read crontab: %w", err)
	}
	var lines []string
	for _, line := range strings.Split(string(out), "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	return lines, nil
}

// write replaces the user's crontab via `crontab -` on stdin.
func (c *Crontab) write(ctx context.Context, lines []string) error {
	content := strings.Join(lines, "\n")
	if content != "" {
		content += "\n"
	}
	if _, err := c.controller.RunWithInput(ctx, "crontab", []byte(content), "-"); err != nil {
		return fmt.Errorf("write crontab: %w", err)
	}
	return nil
}

func withoutManaged(lines []string) []string {
	var kept []string
	for _, line := range lines {
		if strings.Contains(line, cronMarker) {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}
