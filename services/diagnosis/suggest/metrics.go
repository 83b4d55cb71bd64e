// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package suggest

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("isurus.suggest")
	meter  = otel.Meter("isurus.suggest")
)

var (
	generateLatency metric.Float64Histogram
	suggestTotal    metric.Int64Counter
	memoHits        metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		generateLatency, err = meter.Float64Histogram(
			"isurus_suggest_generate_duration_seconds",
			metric.WithDescription("Duration of model completions"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		suggestTotal, err = meter.Int64Counter(
			"isurus_suggest_total",
			metric.WithDescription("Suggestions generated by plan type and outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		memoHits, err = meter.Int64Counter(
			"isurus_suggest_memo_hits_total",
			metric.WithDescription("Suggestions served from the memo"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

func recordSuggest(ctx context.Context, backend, planType string, dur time.Duration, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	generateLatency.Record(ctx, dur.Seconds(), metric.WithAttributes(
		attribute.String("backend", backend),
	))
	suggestTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("plan_type", planType),
		attribute.Bool("success", success),
	))
}

func recordMemoHit(ctx context.Context) {
	if err := initMetrics(); err != nil {
		return
	}
	memoHits.Add(ctx, 1)
}
