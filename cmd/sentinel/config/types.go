// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML configs can say "5m" or "24h".
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses Go duration syntax.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders Go duration syntax.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}

type SentinelConfig struct {
	// Log: structured logging destination and level
	Log LogConfig `yaml:"log"`

	// Store: health and audit persistence
	Store StoreConfig `yaml:"store"`

	// Monitor: probe cadence
	Monitor MonitorConfig `yaml:"monitor"`

	// Repair: escalation behavior
	Repair RepairConfig `yaml:"repair"`

	// Integrity: protected paths and snapshots
	Integrity IntegrityConfig `yaml:"integrity"`

	// Alert: exhaustion notification sink
	Alert AlertConfig `yaml:"alert"`

	// API: the daemon's HTTP surface
	API APIConfig `yaml:"api"`

	// Components: what to watch and how to repair it
	Components []ComponentConfig `yaml:"components" validate:"dive"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Dir   string `yaml:"dir"`
	JSON  bool   `yaml:"json"`
}

type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`

	// Retention bounds how long repair audit rows are kept.
	Retention Duration `yaml:"retention"`
}

type MonitorConfig struct {
	// Interval between probe cycles.
	Interval Duration `yaml:"interval"`

	// ProbeTimeout bounds a single probe.
	ProbeTimeout Duration `yaml:"probe_timeout"`
}

type RepairConfig struct {
	// GracePeriod suppresses escalation after a restart.
	GracePeriod Duration `yaml:"grace_period"`

	// MaxLogBytes is the tier-1 log truncation threshold.
	MaxLogBytes int64 `yaml:"max_log_bytes"`
}

type IntegrityConfig struct {
	// ProtectedPaths are files and directories under checksum watch.
	ProtectedPaths []string `yaml:"protected_paths"`

	// BackupRoot is where snapshots live.
	BackupRoot string `yaml:"backup_root"`

	// KeepSnapshots bounds the snapshot inventory.
	KeepSnapshots int `yaml:"keep_snapshots" validate:"omitempty,min=1"`

	// Debounce coalesces bursts of file events before verification.
	Debounce Duration `yaml:"debounce"`
}

type AlertConfig struct {
	// WebhookURL, when set, delivers alerts to a Slack-compatible
	// webhook. Empty means alerts go to the log.
	WebhookURL string `yaml:"webhook_url" validate:"omitempty,url"`

	// RatePerMinute caps webhook deliveries.
	RatePerMinute int `yaml:"rate_per_minute" validate:"omitempty,min=1"`
}

type APIConfig struct {
	// Enabled toggles the HTTP surface.
	Enabled bool `yaml:"enabled"`

	// Addr is host:port.
	Addr string `yaml:"addr"`
}

type ComponentConfig struct {
	// Name is the unique component identifier.
	Name string `yaml:"name" validate:"required"`

	// Probe decides how health is checked.
	Probe ProbeConfig `yaml:"probe"`

	// Service describes the process the repair tiers control.
	Service ServiceConfig `yaml:"service"`

	// CachePaths are directories tier 1 clears.
	CachePaths []string `yaml:"cache_paths"`

	// LogPaths are files tier 1 truncates when oversized.
	LogPaths []string `yaml:"log_paths"`
}

type ProbeConfig struct {
	// Type can be "http", "tcp", "process", or "disk".
	Type string `yaml:"type" validate:"required,oneof=http tcp process disk"`

	// URL for http probes.
	URL string `yaml:"url,omitempty" validate:"required_if=Type http"`

	// ExpectedStatus for http probes. Defaults to 200.
	ExpectedStatus int `yaml:"expected_status,omitempty"`

	// Address (host:port) for tcp probes.
	Address string `yaml:"address,omitempty" validate:"required_if=Type tcp"`

	// Path for disk probes.
	Path string `yaml:"path,omitempty" validate:"required_if=Type disk"`

	// MaxUsedPercent for disk probes. Defaults to 90.
	MaxUsedPercent float64 `yaml:"max_used_percent,omitempty"`

	// Timeout overrides the global probe timeout.
	Timeout Duration `yaml:"timeout,omitempty"`
}

type ServiceConfig struct {
	// StartCmd, StopCmd and RestartCmd are argv vectors, not shell lines.
	StartCmd   []string `yaml:"start_cmd,omitempty"`
	StopCmd    []string `yaml:"stop_cmd,omitempty"`
	RestartCmd []string `yaml:"restart_cmd,omitempty"`

	// Pattern is the pgrep -f pattern identifying the process.
	Pattern string `yaml:"pattern,omitempty"`

	// ReloadSignal is the tier-1 soft reload signal. Defaults to HUP.
	ReloadSignal string `yaml:"reload_signal,omitempty"`
}

// Validate checks the config against its struct tags plus the rules the
// tags can't express.
func (c *SentinelConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	seen := make(map[string]bool, len(c.Components))
	for _, component := range c.Components {
		if seen[component.Name] {
			return fmt.Errorf("invalid configuration: duplicate component %q", component.Name)
		}
		seen[component.Name] = true

		if component.Probe.Type == "process" && component.Service.Pattern == "" {
			return fmt.Errorf("invalid configuration: component %q uses a process probe but has no service pattern", component.Name)
		}
	}
	return nil
}

func DefaultConfig() SentinelConfig {
	return SentinelConfig{
		Log: LogConfig{
			Level: "info",
			Dir:   "~/.sentinel/logs",
		},
		Store: StoreConfig{
			Path:      "~/.sentinel/db",
			Retention: Duration{3 * 365 * 24 * time.Hour},
		},
		Monitor: MonitorConfig{
			Interval:     Duration{5 * time.Minute},
			ProbeTimeout: Duration{5 * time.Second},
		},
		Repair: RepairConfig{
			GracePeriod: Duration{60 * time.Second},
		},
		Integrity: IntegrityConfig{
			BackupRoot:    "~/.sentinel/backups",
			KeepSnapshots: 10,
			Debounce:      Duration{2 * time.Second},
		},
		Alert: AlertConfig{
			RatePerMinute: 6,
		},
		API: APIConfig{
			Enabled: true,
			Addr:    "127.0.0.1:8844",
		},
		Components: []ComponentConfig{},
	}
}
