// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "isurus", cfg.ServiceName)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.Equal(t, ExporterPrometheus, cfg.MetricExporter)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

func TestInit_NilContext(t *testing.T) {
	_, err := Init(nil, DefaultConfig()) //nolint:staticcheck
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_Exporters(t *testing.T) {
	tests := []struct {
		name    string
		trace   string
		metric  string
		wantErr error
	}{
		{"all disabled", ExporterNone, ExporterNone, nil},
		{"stdout traces", ExporterStdout, ExporterNone, nil},
		{"stdout metrics", ExporterNone, ExporterStdout, nil},
		{"unknown trace exporter", "zipkin", ExporterNone, ErrUnknownExporter},
		{"unknown metric exporter", ExporterNone, "statsd", ErrUnknownExporter},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TraceExporter = tt.trace
			cfg.MetricExporter = tt.metric

			shutdown, err := Init(context.Background(), cfg)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NoError(t, shutdown(context.Background()))
		})
	}
}

func TestInit_PrometheusHandler(t *testing.T) {
	cfg := DefaultConfig()
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	counter, err := otel.Meter("isurus.test").Int64Counter("isurus_test_total")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	h := MetricsHandler()
	require.NotNil(t, h)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "isurus_test_total")
}

func TestTracingHelpers(t *testing.T) {
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	defer otel.SetTracerProvider(prev)

	ctx, span := StartSpan(context.Background(), "isurus.test", "op.fail")
	assert.NotEmpty(t, TraceID(ctx))
	RecordError(span, errors.New("boom"))
	span.End()

	_, ok := StartSpan(context.Background(), "isurus.test", "op.ok")
	SetSpanOK(ok)
	ok.End()

	RecordError(nil, errors.New("ignored"))
	RecordError(span, nil)

	ended := sr.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Equal(t, "boom", ended[0].Status().Description)
	assert.Equal(t, codes.Ok, ended[1].Status().Code)
}

func TestLoggerWithTrace(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	assert.Same(t, logger, LoggerWithTrace(context.Background(), logger))
	assert.Empty(t, TraceID(context.Background()))

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("isurus.test").Start(context.Background(), "op")
	defer span.End()

	LoggerWithTrace(ctx, logger).Info("hello")
	assert.Contains(t, buf.String(), `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)
}

func TestInjectContext(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MetricExporter = ExporterNone
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	defer func() { _ = shutdown(context.Background()) }()

	tp := sdktrace.NewTracerProvider()
	ctx, span := tp.Tracer("isurus.test").Start(context.Background(), "op")
	defer span.End()

	h := http.Header{}
	InjectContext(ctx, h)
	assert.Contains(t, h.Get("traceparent"), span.SpanContext().TraceID().String())
}
