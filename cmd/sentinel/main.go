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
	"os"

	"github.com/AleutianAI/sentinel/cmd/sentinel/config"
)

// Exit codes: 0 success, 1 failure, 2 invalid invocation.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// invocationValid flips once argument parsing and validation have
// passed. An Execute error before that point is a usage error.
var invocationValid bool

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if !invocationValid {
			os.Exit(exitUsage)
		}
		os.Exit(exitFailure)
	}
	os.Exit(exitOK)
}

// loadConfiguration runs as the root PersistentPreRunE: flags and args
// have parsed by now, so the invocation itself is valid.
func loadConfiguration() error {
	invocationValid = true

	if configPath != "" {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return err
		}
		config.Global = cfg
		return nil
	}
	return config.Load()
}

// usageError marks an error as an invalid invocation discovered after
// flag parsing, e.g. a bad positional value.
func usageError(format string, args ...interface{}) error {
	invocationValid = false
	return fmt.Errorf(format, args...)
}
