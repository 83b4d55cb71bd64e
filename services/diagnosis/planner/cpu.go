// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

// nginxProcess is the reverse proxy process name.
const nginxProcess = "nginx"

// AnalyzeCPU triages the processes that were CPU-bound during the benchmark.
//
// # Description
//
// Processes whose peak usage exceeds CPUUsageLimit are visited in order of
// usage, highest first. The application process and nginx are reported as
// is. The database process triggers AnalyzeSQL, at most once per run.
// Anything else is listed as an unknown process.
//
// # Outputs
//
//   - *model.CPUReport: The triage, with SQL set when the database was hot.
//   - error: *UpstreamError when metrics or the SQL diagnosis failed;
//     ErrMissingDependency when the engine has no CPU metrics.
func (e *Engine) AnalyzeCPU(ctx context.Context) (*model.CPUReport, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}
	if e.deps.CPU == nil {
		return nil, fmt.Errorf("%w: cpu metrics", ErrMissingDependency)
	}

	ctx, span := tracer.Start(ctx, "planner.AnalyzeCPU")
	defer span.End()

	report, err := e.analyzeCPU(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("app", len(report.AppPlans)),
		attribute.Int("nginx", len(report.NginxPlans)),
		attribute.Int("unknown", len(report.UnknownProcesses)),
		attribute.Int("sql_plans", len(report.Plans())),
	)
	return report, nil
}

func (e *Engine) analyzeCPU(ctx context.Context) (*model.CPUReport, error) {
	window, err := e.deps.CPU.Window(ctx)
	if err != nil {
		return nil, &UpstreamError{Service: ServiceMetrics, Err: err}
	}
	usage, err := e.deps.CPU.QueryMaxCPUUsage(ctx)
	if err != nil {
		return nil, &UpstreamError{Service: ServiceMetrics, Err: err}
	}

	report := &model.CPUReport{
		ID:               e.newID(),
		Window:           window,
		AppPlans:         []model.ProcessUsage{},
		NginxPlans:       []model.ProcessUsage{},
		UnknownProcesses: []model.ProcessUsage{},
		GeneratedAt:      time.Now().UTC(),
	}

	for _, p := range e.hotProcesses(usage) {
		switch p.Name {
		case e.cfg.AppName:
			report.AppPlans = append(report.AppPlans, p)
		case e.cfg.DBName:
			if report.SQL != nil {
				continue
			}
			sql, err := e.AnalyzeSQL(ctx)
			if err != nil {
				return nil, err
			}
			report.SQL = sql
		case nginxProcess:
			report.NginxPlans = append(report.NginxPlans, p)
		default:
			report.UnknownProcesses = append(report.UnknownProcesses, p)
		}
	}

	slog.Info("CPU triage complete",
		slog.String("report_id", report.ID),
		slog.Int("hot_processes", len(report.AppPlans)+len(report.NginxPlans)+len(report.UnknownProcesses)),
		slog.Bool("database_hot", report.SQL != nil),
	)
	return report, nil
}

// hotProcesses returns the processes over the limit, highest usage first.
func (e *Engine) hotProcesses(usage map[string]float64) []model.ProcessUsage {
	var hot []model.ProcessUsage
	for name, u := range usage {
		if u > e.cfg.CPUUsageLimit {
			hot = append(hot, model.ProcessUsage{Name: name, Usage: u})
		}
	}
	sort.Slice(hot, func(i, j int) bool {
		if hot[i].Usage != hot[j].Usage {
			return hot[i].Usage > hot[j].Usage
		}
		return hot[i].Name < hot[j].Name
	})
	return hot
}

// DiagnoseSQL runs AnalyzeSQL alone and wraps the result in a report with
// empty process buckets, so SQL-only runs are stored and rendered like a
// full triage.
func (e *Engine) DiagnoseSQL(ctx context.Context) (*model.CPUReport, error) {
	sql, err := e.AnalyzeSQL(ctx)
	if err != nil {
		return nil, err
	}
	return &model.CPUReport{
		ID:               e.newID(),
		AppPlans:         []model.ProcessUsage{},
		NginxPlans:       []model.ProcessUsage{},
		UnknownProcesses: []model.ProcessUsage{},
		SQL:              sql,
		GeneratedAt:      time.Now().UTC(),
	}, nil
}
