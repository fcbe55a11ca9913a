// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"time"

	"github.com/AleutianAI/sentinel/cmd/sentinel/config"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/alert"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/integrity"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/monitor"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/process"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/repair"
	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/store"
	"github.com/AleutianAI/sentinel/pkg/logging"
)

// app holds the wired-up object graph every command works against.
type app struct {
	cfg       config.SentinelConfig
	logger    *logging.Logger
	store     *store.Store
	guard     *integrity.Guard // nil when no protected paths configured
	runner    *process.Runner
	sink      alert.Sink
	escalator *repair.Escalator
	monitor   *monitor.Monitor
}

// appOptions tweaks wiring per command.
type appOptions struct {
	// openStore controls whether the persistent database is opened.
	// Integrity-only commands (backup, verify, restore) don't need it.
	openStore bool

	// quiet suppresses stderr logging (status output would drown in it).
	quiet bool
}

// newApp wires the object graph from the loaded global config.
func newApp(opts appOptions) (*app, error) {
	cfg := config.Global

	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.Log.Level),
		LogDir:  cfg.Log.Dir,
		Service: "sentinel",
		JSON:    cfg.Log.JSON,
		Quiet:   opts.quiet,
	})

	a := &app{
		cfg:    cfg,
		logger: logger,
		runner: process.NewRunner(&process.ExecController{}),
	}

	if len(cfg.Integrity.ProtectedPaths) > 0 {
		guard, err := integrity.NewGuard(integrity.GuardConfig{
			ProtectedPaths: expandAll(cfg.Integrity.ProtectedPaths),
			BackupRoot:     config.ExpandPath(cfg.Integrity.BackupRoot),
			KeepSnapshots:  cfg.Integrity.KeepSnapshots,
		}, logger)
		if err != nil {
			logger.Close()
			return nil, err
		}
		a.guard = guard
	}

	if opts.openStore {
		dbCfg := store.DefaultDBConfig()
		dbCfg.Path = config.ExpandPath(cfg.Store.Path)
		dbCfg.Logger = logger.Slog()
		db, err := store.OpenDB(dbCfg)
		if err != nil {
			logger.Close()
			return nil, err
		}
		a.store = store.New(db, logger)

		if err := a.wireRepairPipeline(); err != nil {
			a.Close()
			return nil, err
		}
	}

	return a, nil
}

// wireRepairPipeline builds sink, executor, escalator and monitor. Needs
// the store.
func (a *app) wireRepairPipeline() error {
	cfg := a.cfg

	if cfg.Alert.WebhookURL != "" {
		sink, err := alert.NewWebhookSink(alert.WebhookConfig{
			URL:           cfg.Alert.WebhookURL,
			RatePerMinute: cfg.Alert.RatePerMinute,
		}, a.logger)
		if err != nil {
			return err
		}
		a.sink = sink
	} else {
		a.sink = alert.NewLogSink(a.logger)
	}

	ops := make(map[string]repair.ComponentOps, len(cfg.Components))
	targets := make([]monitor.Target, 0, len(cfg.Components))
	for _, component := range cfg.Components {
		svc := process.Service{
			Name:         component.Name,
			StartCmd:     component.Service.StartCmd,
			StopCmd:      component.Service.StopCmd,
			RestartCmd:   component.Service.RestartCmd,
			Pattern:      component.Service.Pattern,
			ReloadSignal: component.Service.ReloadSignal,
		}
		ops[component.Name] = repair.ComponentOps{
			Service:     svc,
			CachePaths:  expandAll(component.CachePaths),
			LogPaths:    expandAll(component.LogPaths),
			MaxLogBytes: cfg.Repair.MaxLogBytes,
			Grace:       cfg.Repair.GracePeriod.Duration,
		}

		probe, err := buildProbe(component, svc, a.runner)
		if err != nil {
			return err
		}
		targets = append(targets, monitor.Target{
			Component: component.Name,
			Probe:     probe,
			Timeout:   firstPositive(component.Probe.Timeout.Duration, cfg.Monitor.ProbeTimeout.Duration),
		})
	}

	executor := repair.NewTierExecutor(ops, a.runner, a.guard, a.logger)
	escalator, err := repair.NewEscalator(a.store, executor, a.sink, a.logger)
	if err != nil {
		return err
	}
	a.escalator = escalator

	mon, err := monitor.New(targets, escalator, a.logger)
	if err != nil {
		return err
	}
	a.monitor = mon
	return nil
}

// buildProbe maps a probe config stanza onto a Probe implementation.
func buildProbe(component config.ComponentConfig, svc process.Service, runner *process.Runner) (monitor.Probe, error) {
	p := component.Probe
	switch p.Type {
	case "http":
		return &monitor.HTTPProbe{URL: p.URL, ExpectedStatus: p.ExpectedStatus}, nil
	case "tcp":
		return &monitor.TCPProbe{Address: p.Address}, nil
	case "process":
		return &monitor.ProcessProbe{Runner: runner, Service: svc}, nil
	case "disk":
		return &monitor.DiskProbe{Path: config.ExpandPath(p.Path), MaxUsedPercent: p.MaxUsedPercent}, nil
	default:
		return nil, fmt.Errorf("component %s: unknown probe type %q", component.Name, p.Type)
	}
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("closing store", "error", err)
		}
	}
	if a.logger != nil {
		_ = a.logger.Close()
	}
}

// requireGuard fails commands that need protected paths configured.
func (a *app) requireGuard() (*integrity.Guard, error) {
	if a.guard == nil {
		return nil, fmt.Errorf("no protected paths configured; set integrity.protected_paths in the config")
	}
	return a.guard, nil
}

func expandAll(paths []string) []string {
	out := make([]string, len(paths))
	for i, p := range paths {
		out[i] = config.ExpandPath(p)
	}
	return out
}

func firstPositive(values ...time.Duration) time.Duration {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}
