// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import "time"

// ProcessUsage is the peak CPU usage ratio of one process over the window.
type ProcessUsage struct {
	Name  string  `json:"name"`
	Usage float64 `json:"usage"`
}

// BenchmarkWindow is the time range every metric query in a run is scoped to.
type BenchmarkWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Score int64     `json:"score"`
}

// Valid reports whether the window has a positive length.
func (w BenchmarkWindow) Valid() bool {
	return !w.Start.IsZero() && w.End.After(w.Start)
}

// SQLReport is the output of one SQL diagnosis run.
type SQLReport struct {
	Plans []FixPlan `json:"plans"`

	// Notes records per-query anomalies that were absorbed rather than
	// failing the run, such as a query missing from a metric map.
	Notes []string `json:"notes"`
}

// CPUReport is the output of CPU triage. Processes over the usage limit are
// sorted into the bucket that explains them.
type CPUReport struct {
	ID               string          `json:"id"`
	Window           BenchmarkWindow `json:"window"`
	AppPlans         []ProcessUsage  `json:"appPlans"`
	NginxPlans       []ProcessUsage  `json:"nginxPlans"`
	UnknownProcesses []ProcessUsage  `json:"unknownProcesses"`
	SQL              *SQLReport      `json:"sql,omitempty"`
	GeneratedAt      time.Time       `json:"generatedAt"`
}

// Plans returns the SQL fix plans of the report, if the database was hot.
func (r *CPUReport) Plans() []FixPlan {
	if r == nil || r.SQL == nil {
		return nil
	}
	return r.SQL.Plans
}

// FindPlan returns the plan with the given id.
func (r *CPUReport) FindPlan(id string) (FixPlan, bool) {
	for _, p := range r.Plans() {
		if p.ID == id {
			return p, true
		}
	}
	return FixPlan{}, false
}
