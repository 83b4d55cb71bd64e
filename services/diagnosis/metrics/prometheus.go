// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics reads process CPU usage and per-statement SQL metrics from
// Prometheus, scoped to the latest benchmark window.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	prommodel "github.com/prometheus/common/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

// PromQL expressions. Every SQL series is labelled by driver and query.
const (
	cpuUsageQuery       = `sum by (name) (irate(process_cpu_seconds_total{job="nodes"}[4s]))`
	sqlDurationQuery    = `sum by (driver, query)(increase(isutools_db_query_duration_seconds_sum{job="app"}[4s]))`
	sqlCountQuery       = `sum by (driver, query)(increase(isutools_db_query_count{job="app"}[5s]))`
	sqlLatencyQuery     = `sum by (driver, query)(rate(isutools_db_query_duration_seconds_sum{job="app"}[4s])) / sum by (driver, query)(rate(isutools_db_query_duration_seconds_count{job="app"}[4s]))`
	defaultStep         = 4 * time.Second
	defaultQueryTimeout = time.Minute
)

// WindowSource provides the benchmark window metric queries are scoped to.
type WindowSource interface {
	LatestBenchmark(ctx context.Context) (model.BenchmarkWindow, error)
}

// Options tunes range queries. Zero fields take the defaults (step 4s,
// timeout 1m).
type Options struct {
	Step    time.Duration
	Timeout time.Duration
}

// PrometheusClient queries Prometheus for the diagnosis metrics.
//
// # Description
//
// Each query is a range query over the latest benchmark window. The result
// must be a matrix; each series is reduced to its maximum numeric sample.
// Series without the expected labels or without numeric samples are
// skipped.
//
// # Thread Safety
//
// Safe for concurrent use. Concurrent window lookups share one request.
type PrometheusClient struct {
	api     v1.API
	window  WindowSource
	step    time.Duration
	timeout time.Duration

	windowGroup singleflight.Group
}

// NewPrometheusClient creates a client for the Prometheus server at address.
func NewPrometheusClient(address string, window WindowSource, opts Options) (*PrometheusClient, error) {
	client, err := api.NewClient(api.Config{Address: address})
	if err != nil {
		return nil, fmt.Errorf("create prometheus client: %w", err)
	}
	return NewPrometheusClientFromAPI(v1.NewAPI(client), window, opts), nil
}

// NewPrometheusClientFromAPI wraps an existing v1.API.
func NewPrometheusClientFromAPI(promAPI v1.API, window WindowSource, opts Options) *PrometheusClient {
	if opts.Step <= 0 {
		opts.Step = defaultStep
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultQueryTimeout
	}
	return &PrometheusClient{
		api:     promAPI,
		window:  window,
		step:    opts.Step,
		timeout: opts.Timeout,
	}
}

// Window returns the latest benchmark window. A missing or malformed
// window is returned as an error and is fatal for a run.
func (c *PrometheusClient) Window(ctx context.Context) (model.BenchmarkWindow, error) {
	if c.window == nil {
		return model.BenchmarkWindow{}, ErrNoWindowSource
	}
	v, err, _ := c.windowGroup.Do("latest", func() (any, error) {
		return c.window.LatestBenchmark(ctx)
	})
	if err != nil {
		return model.BenchmarkWindow{}, err
	}
	w, ok := v.(model.BenchmarkWindow)
	if !ok {
		return model.BenchmarkWindow{}, fmt.Errorf("unexpected type from singleflight group 'windowGroup': got %T", v)
	}
	return w, nil
}

// QueryMaxCPUUsage returns the peak CPU usage ratio per process name.
func (c *PrometheusClient) QueryMaxCPUUsage(ctx context.Context) (map[string]float64, error) {
	return c.queryMax(ctx, "cpu_usage", cpuUsageQuery, processKey)
}

// QuerySQLDuration returns the peak total duration per "driver:query" key.
func (c *PrometheusClient) QuerySQLDuration(ctx context.Context) (map[string]float64, error) {
	return c.queryMax(ctx, "sql_duration", sqlDurationQuery, statementKey)
}

// QuerySQLLatency returns the peak mean latency per "driver:query" key.
func (c *PrometheusClient) QuerySQLLatency(ctx context.Context) (map[string]float64, error) {
	return c.queryMax(ctx, "sql_latency", sqlLatencyQuery, statementKey)
}

// QuerySQLExecutionCount returns the peak execution count per
// "driver:query" key.
func (c *PrometheusClient) QuerySQLExecutionCount(ctx context.Context) (map[string]float64, error) {
	return c.queryMax(ctx, "sql_execution_count", sqlCountQuery, statementKey)
}

func processKey(m prommodel.Metric) (string, bool) {
	name, ok := m["name"]
	if !ok || name == "" {
		return "", false
	}
	return string(name), true
}

func statementKey(m prommodel.Metric) (string, bool) {
	driver, ok := m["driver"]
	if !ok || driver == "" {
		return "", false
	}
	query, ok := m["query"]
	if !ok || query == "" {
		return "", false
	}
	return model.TargetQuery{Driver: string(driver), Query: string(query)}.Key(), true
}

// queryMax runs a range query over the benchmark window and reduces every
// series to its maximum sample.
func (c *PrometheusClient) queryMax(
	ctx context.Context,
	name, expr string,
	key func(prommodel.Metric) (string, bool),
) (map[string]float64, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	window, err := c.Window(ctx)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "metrics.queryMax")
	defer span.End()
	span.SetAttributes(attribute.String("query", name))

	start := time.Now()
	value, warnings, err := c.api.QueryRange(ctx, expr, v1.Range{
		Start: window.Start,
		End:   window.End,
		Step:  c.step,
	}, v1.WithTimeout(c.timeout))
	if err != nil {
		recordQuery(ctx, name, time.Since(start), 0, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%w: %s: %v", ErrQueryFailed, name, err)
	}
	for _, w := range warnings {
		slog.Warn("Prometheus warning", slog.String("query", name), slog.String("warning", w))
	}

	matrix, ok := value.(prommodel.Matrix)
	if !ok {
		typ := "nothing"
		if value != nil {
			typ = value.Type().String()
		}
		err := fmt.Errorf("%w: %s returned %s", ErrUnexpectedResultType, name, typ)
		recordQuery(ctx, name, time.Since(start), 0, false)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	out := make(map[string]float64, len(matrix))
	for _, series := range matrix {
		k, ok := key(series.Metric)
		if !ok {
			continue
		}
		peak, ok := maxSample(series.Values)
		if !ok {
			continue
		}
		if prev, exists := out[k]; !exists || peak > prev {
			out[k] = peak
		}
	}

	recordQuery(ctx, name, time.Since(start), len(out), true)
	span.SetAttributes(attribute.Int("series", len(out)))
	return out, nil
}

// maxSample returns the largest numeric value. NaN samples are ignored.
func maxSample(values []prommodel.SamplePair) (float64, bool) {
	found := false
	peak := 0.0
	for _, v := range values {
		f := float64(v.Value)
		if math.IsNaN(f) {
			continue
		}
		if !found || f > peak {
			peak = f
			found = true
		}
	}
	return peak, found
}
