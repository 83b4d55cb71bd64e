// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("isurus.metrics")
	meter  = otel.Meter("isurus.metrics")
)

var (
	queryLatency metric.Float64Histogram
	seriesTotal  metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the instruments. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		queryLatency, err = meter.Float64Histogram(
			"isurus_prometheus_query_duration_seconds",
			metric.WithDescription("Duration of Prometheus range queries"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		seriesTotal, err = meter.Int64Counter(
			"isurus_prometheus_series_total",
			metric.WithDescription("Series returned by Prometheus range queries"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordQuery(ctx context.Context, name string, duration time.Duration, series int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("query", name),
		attribute.Bool("success", success),
	)
	queryLatency.Record(ctx, duration.Seconds(), attrs)
	if success {
		seriesTotal.Add(ctx, int64(series), attrs)
	}
}
