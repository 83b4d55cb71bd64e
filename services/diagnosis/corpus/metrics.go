// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package corpus

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	tracer = otel.Tracer("isurus.corpus")
	meter  = otel.Meter("isurus.corpus")
)

var (
	filesSent metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

func initMetrics() error {
	metricsOnce.Do(func() {
		filesSent, metricsErr = meter.Int64Counter(
			"isurus_corpus_files_sent_total",
			metric.WithDescription("Files sent to the analysis service by initial loads"),
		)
	})
	return metricsErr
}

func recordLoad(ctx context.Context, files int, success bool) {
	if err := initMetrics(); err != nil {
		return
	}
	filesSent.Add(ctx, int64(files), metric.WithAttributes(attribute.Bool("success", success)))
}
