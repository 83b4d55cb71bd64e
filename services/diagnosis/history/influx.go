// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package history stores the outcome of each diagnosis run in InfluxDB so
// that plan counts and query costs can be charted across benchmark runs.
package history

import (
	"context"
	"log/slog"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

const (
	measurementPlan = "isurus_fix_plan"
	measurementRun  = "isurus_run"
)

// Recorder stores diagnosis runs. Implementations never fail the run: write
// errors are logged and swallowed.
type Recorder interface {
	Record(ctx context.Context, report *model.CPUReport)
	Close()
}

// PointWriter is the subset of the Influx blocking write API used here.
type PointWriter interface {
	WritePoint(ctx context.Context, point ...*write.Point) error
}

// InfluxRecorder writes one point per fix plan and one per run.
type InfluxRecorder struct {
	client influxdb2.Client
	writer PointWriter
}

// NewInfluxRecorder connects to the Influx server at url. Nothing is sent
// until the first Record.
func NewInfluxRecorder(url, token, org, bucket string) *InfluxRecorder {
	client := influxdb2.NewClient(url, token)
	return &InfluxRecorder{client: client, writer: client.WriteAPIBlocking(org, bucket)}
}

// NewInfluxRecorderWithWriter creates a recorder around an existing writer.
func NewInfluxRecorderWithWriter(w PointWriter) *InfluxRecorder {
	return &InfluxRecorder{writer: w}
}

// Record writes the report.
//
// # Description
//
// Each fix plan becomes an isurus_fix_plan point tagged with plan_type,
// query_type and driver, carrying duration, latency and execution_count.
// The run itself becomes an isurus_run point with plan and process counts.
// All points share the report's GeneratedAt timestamp and run_id tag.
func (r *InfluxRecorder) Record(ctx context.Context, report *model.CPUReport) {
	if report == nil {
		return
	}
	points := Points(report)
	if err := r.writer.WritePoint(ctx, points...); err != nil {
		slog.Warn("Failed to record diagnosis history",
			slog.String("report_id", report.ID),
			slog.Int("points", len(points)),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Debug("Recorded diagnosis history",
		slog.String("report_id", report.ID),
		slog.Int("points", len(points)),
	)
}

// Close releases the client.
func (r *InfluxRecorder) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// Points converts a report into Influx points, plans first.
func Points(report *model.CPUReport) []*write.Point {
	at := report.GeneratedAt
	if at.IsZero() {
		at = time.Now().UTC()
	}

	plans := report.Plans()
	points := make([]*write.Point, 0, len(plans)+1)
	for _, p := range plans {
		points = append(points, influxdb2.NewPointWithMeasurement(measurementPlan).
			AddTag("run_id", report.ID).
			AddTag("plan_type", string(p.Type())).
			AddTag("query_type", string(p.QueryType)).
			AddTag("driver", p.TargetQuery.Driver).
			AddField("query", p.TargetQuery.Query).
			AddField("duration", p.TargetQuery.Duration).
			AddField("latency", p.TargetQuery.Latency).
			AddField("execution_count", p.TargetQuery.ExecutionCount).
			SetTime(at))
	}

	notes := 0
	if report.SQL != nil {
		notes = len(report.SQL.Notes)
	}
	points = append(points, influxdb2.NewPointWithMeasurement(measurementRun).
		AddTag("run_id", report.ID).
		AddField("plans", len(plans)).
		AddField("notes", notes).
		AddField("app_hot", len(report.AppPlans)).
		AddField("nginx_hot", len(report.NginxPlans)).
		AddField("unknown_hot", len(report.UnknownProcesses)).
		AddField("database_hot", report.SQL != nil).
		SetTime(at))
	return points
}

// Nop discards every run.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, *model.CPUReport) {}

// Close implements Recorder.
func (Nop) Close() {}
