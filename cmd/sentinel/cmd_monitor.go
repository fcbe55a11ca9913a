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
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/sentinel/cmd/sentinel/internal/store"
)

// runHealthMonitor executes one probe cycle across all configured
// components, driving any repairs the results call for.
func runHealthMonitor(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{openStore: true})
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.monitor.RunCycle(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("Probed %d components: %d healthy, %d unhealthy\n",
		result.Probed, result.Healthy, result.Unhealthy)
	if result.Unhealthy > 0 {
		fmt.Println("Repair attempts, if any, are recorded in the audit log (see 'sentinel status').")
	}
	return nil
}

// runStatus prints the health table for all known components.
func runStatus(cmd *cobra.Command, args []string) error {
	a, err := newApp(appOptions{openStore: true, quiet: true})
	if err != nil {
		return err
	}
	defer a.Close()

	components, err := a.store.ListHealth()
	if err != nil {
		return err
	}

	if statusJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(components)
	}

	if len(components) == 0 {
		fmt.Println("No components have been probed yet. Run 'sentinel health-monitor' first.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "COMPONENT\tSTATUS\tFAILURES\tTOTAL\tUPTIME\tLAST CHECK\tDETAIL")
	for _, c := range components {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.1f%%\t%s\t%s\n",
			c.ComponentName,
			statusBadge(c),
			c.ConsecutiveFailures,
			c.TotalFailures,
			c.UptimePercentage,
			c.LastCheck.Format(time.RFC3339),
			truncate(c.LastDetail, 60))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	open, err := openIncidents(a.store, components)
	if err != nil {
		return err
	}
	for _, incident := range open {
		fmt.Printf("\nOpen incident on %s: tier %d, %d failures since %s",
			incident.ComponentName, incident.Tier, incident.FailureCount,
			incident.OpenedAt.Format(time.RFC3339))
		if incident.Exhausted {
			fmt.Print(" [EXHAUSTED - human attention required]")
		}
		fmt.Println()
	}
	return nil
}

func statusBadge(c store.ComponentHealth) string {
	if c.IntegrityViolation {
		return string(c.Status) + "!"
	}
	return string(c.Status)
}

func openIncidents(st *store.Store, components []store.ComponentHealth) ([]store.Incident, error) {
	var open []store.Incident
	for _, c := range components {
		incident, err := st.GetIncident(c.ComponentName)
		if err == store.ErrNoIncident {
			continue
		}
		if err != nil {
			return nil, err
		}
		open = append(open, incident)
	}
	return open, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
