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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("isurus.planner")

// Skip reasons recorded on skippedQueriesTotal.
const (
	skipMalformedKey  = "malformed_key"
	skipMissingMetric = "missing_metric"
)

var (
	// fixPlansTotal counts emitted fix plans by type.
	fixPlansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isurus_fix_plans_total",
		Help: "Total fix plans emitted by plan type",
	}, []string{"plan_type"})

	// skippedQueriesTotal counts ranked queries dropped before classification.
	skippedQueriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "isurus_skipped_queries_total",
		Help: "Ranked queries skipped before classification by reason",
	}, []string{"reason"})

	// runDuration tracks SQL diagnosis latency.
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "isurus_sql_diagnosis_duration_seconds",
		Help:    "SQL diagnosis duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
	}, []string{"result"})
)
