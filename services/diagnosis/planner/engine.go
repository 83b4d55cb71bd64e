// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package planner correlates live SQL metrics with the CRUD graph and
// classifies every slow query into fix plans.
//
// # Pipeline
//
//	  analysis service         Prometheus (3 maps)
//	        │                        │
//	        ▼                        ▼
//	  crud.Build ──────┐      rank by duration, top N
//	                   │             │
//	                   │             ▼
//	                   │      EXPLAIN per query (concurrent)
//	                   ▼             │
//	              match + classify ◄─┘
//	                   │
//	                   ▼
//	            ordered []FixPlan
package planner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/isurus/services/diagnosis/crud"
	"github.com/AleutianAI/isurus/services/diagnosis/explain"
	"github.com/AleutianAI/isurus/services/diagnosis/model"
	"github.com/AleutianAI/isurus/services/diagnosis/querykey"
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// CRUDSource returns the static CRUD graph of the workspace.
type CRUDSource interface {
	CRUD(ctx context.Context) (crud.Response, error)
}

// SQLMetrics returns per-statement metrics keyed by "driver:query".
type SQLMetrics interface {
	QuerySQLDuration(ctx context.Context) (map[string]float64, error)
	QuerySQLLatency(ctx context.Context) (map[string]float64, error)
	QuerySQLExecutionCount(ctx context.Context) (map[string]float64, error)
}

// CPUMetrics returns peak CPU usage per process and the benchmark window.
type CPUMetrics interface {
	QueryMaxCPUUsage(ctx context.Context) (map[string]float64, error)
	Window(ctx context.Context) (model.BenchmarkWindow, error)
}

// ExplainSource returns EXPLAIN rows for a live query. A false second
// return means no data.
type ExplainSource interface {
	ExplainQuery(ctx context.Context, driver, query string) ([]explain.Row, bool)
}

// Deps are the engine's collaborators. CRUD and SQL are required. Explain
// may be nil, in which case no query gets index findings. CPU is only needed
// by AnalyzeCPU. Resolver defaults to one without a DDL source.
type Deps struct {
	CRUD     CRUDSource
	SQL      SQLMetrics
	CPU      CPUMetrics
	Explain  ExplainSource
	Resolver *explain.Resolver
}

// =============================================================================
// CONFIG
// =============================================================================

// Config holds the engine thresholds.
type Config struct {
	// SQLCheckLimit is how many of the slowest queries are classified.
	SQLCheckLimit int

	// CacheExecutionCount is the execution count above which a query over
	// cacheable tables gets a cache plan.
	CacheExecutionCount float64

	// CPUUsageLimit is the usage ratio above which a process is hot.
	CPUUsageLimit float64

	// AppName and DBName identify the application and database processes.
	AppName string
	DBName  string
}

// DefaultConfig returns the stock thresholds.
func DefaultConfig() Config {
	return Config{
		SQLCheckLimit:       5,
		CacheExecutionCount: 500,
		CPUUsageLimit:       0.5,
		AppName:             "app",
		DBName:              "mysql",
	}
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine runs diagnoses. Every run fetches fresh inputs and rebuilds its
// graph; nothing is kept between runs.
//
// # Thread Safety
//
// Safe for concurrent use if the collaborators are.
type Engine struct {
	deps  Deps
	cfg   Config
	newID func() string
}

// NewEngine creates an engine.
//
// # Inputs
//
//   - deps: Collaborators. CRUD and SQL must be non-nil.
//   - cfg: Thresholds. Non-positive values take the defaults.
//
// # Outputs
//
//   - *Engine: The engine.
//   - error: ErrMissingDependency when a required collaborator is nil.
func NewEngine(deps Deps, cfg Config) (*Engine, error) {
	if deps.CRUD == nil {
		return nil, fmt.Errorf("%w: crud source", ErrMissingDependency)
	}
	if deps.SQL == nil {
		return nil, fmt.Errorf("%w: sql metrics", ErrMissingDependency)
	}
	if deps.Resolver == nil {
		deps.Resolver = explain.NewResolver(nil, explain.DefaultThresholds())
	}

	def := DefaultConfig()
	if cfg.SQLCheckLimit <= 0 {
		cfg.SQLCheckLimit = def.SQLCheckLimit
	}
	if cfg.CacheExecutionCount < 0 {
		cfg.CacheExecutionCount = def.CacheExecutionCount
	}
	if cfg.CPUUsageLimit <= 0 {
		cfg.CPUUsageLimit = def.CPUUsageLimit
	}
	if cfg.AppName == "" {
		cfg.AppName = def.AppName
	}
	if cfg.DBName == "" {
		cfg.DBName = def.DBName
	}

	return &Engine{deps: deps, cfg: cfg, newID: uuid.NewString}, nil
}

// sqlMetrics are the three maps fetched for a run.
type sqlMetrics struct {
	duration, latency, count map[string]float64
}

// candidate is a ranked query that survived the metric checks, with its
// EXPLAIN outcome once resolved.
type candidate struct {
	target model.TargetQuery
	index  explain.Result
}

// AnalyzeSQL diagnoses the slowest SQL statements of the benchmark window.
//
// # Description
//
// The CRUD graph and the three SQL metric maps are fetched concurrently.
// Statements are ranked by duration (descending, key ascending on ties) and
// the top SQLCheckLimit are kept. A kept statement missing from the latency
// or execution-count map is skipped with a note. EXPLAIN runs for every
// remaining statement concurrently; classification then walks the
// statements in ranked order, so plans come out ordered by duration.
//
// # Outputs
//
//   - *model.SQLReport: Plans in ranked order plus per-query notes.
//   - error: *UpstreamError if the analysis or metrics service failed.
//
// # Example
//
//	report, err := engine.AnalyzeSQL(ctx)
//	if errors.Is(err, planner.ErrUpstreamUnavailable) {
//	    // nothing to show this run
//	}
func (e *Engine) AnalyzeSQL(ctx context.Context) (*model.SQLReport, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := tracer.Start(ctx, "planner.AnalyzeSQL")
	defer span.End()
	start := time.Now()

	report, err := e.analyzeSQL(ctx)
	if err != nil {
		runDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("SQL diagnosis failed", slog.String("error", err.Error()))
		return nil, err
	}

	runDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("plans", len(report.Plans)),
		attribute.Int("notes", len(report.Notes)),
	)
	return report, nil
}

func (e *Engine) analyzeSQL(ctx context.Context) (*model.SQLReport, error) {
	var (
		resp    crud.Response
		metrics sqlMetrics
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		r, err := e.deps.CRUD.CRUD(gctx)
		if err != nil {
			return &UpstreamError{Service: ServiceAnalysis, Err: err}
		}
		resp = r
		return nil
	})
	g.Go(func() error {
		m, err := e.fetchSQLMetrics(gctx)
		if err != nil {
			return &UpstreamError{Service: ServiceMetrics, Err: err}
		}
		metrics = m
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary := crud.Build(resp)
	report := &model.SQLReport{Plans: []model.FixPlan{}, Notes: []string{}}

	candidates := e.rank(metrics, report)
	e.resolveExplain(ctx, candidates)

	c := classifier{
		summary:      summary,
		cacheability: summary.Cacheability(),
		cacheCount:   e.cfg.CacheExecutionCount,
		newID:        e.newID,
	}
	for _, cand := range candidates {
		plans := c.classify(cand.target, cand.index)
		for _, p := range plans {
			fixPlansTotal.WithLabelValues(string(p.Type())).Inc()
		}
		report.Plans = append(report.Plans, plans...)
	}

	slog.Info("SQL diagnosis complete",
		slog.Int("functions", len(summary.Nodes())),
		slog.Int("tables", len(summary.Tables())),
		slog.Int("queries", len(candidates)),
		slog.Int("plans", len(report.Plans)),
	)
	return report, nil
}

// fetchSQLMetrics fetches the three SQL metric maps concurrently.
func (e *Engine) fetchSQLMetrics(ctx context.Context) (sqlMetrics, error) {
	var m sqlMetrics
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		m.duration, err = e.deps.SQL.QuerySQLDuration(gctx)
		return err
	})
	g.Go(func() (err error) {
		m.latency, err = e.deps.SQL.QuerySQLLatency(gctx)
		return err
	})
	g.Go(func() (err error) {
		m.count, err = e.deps.SQL.QuerySQLExecutionCount(gctx)
		return err
	})
	return m, g.Wait()
}

// rank orders statements by duration, keeps the top SQLCheckLimit and drops
// those with a malformed key or a metric gap, noting each drop.
func (e *Engine) rank(m sqlMetrics, report *model.SQLReport) []candidate {
	type ranked struct {
		raw      string
		duration float64
	}
	all := make([]ranked, 0, len(m.duration))
	for raw, d := range m.duration {
		all = append(all, ranked{raw: raw, duration: d})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].duration != all[j].duration {
			return all[i].duration > all[j].duration
		}
		return all[i].raw < all[j].raw
	})
	if len(all) > e.cfg.SQLCheckLimit {
		all = all[:e.cfg.SQLCheckLimit]
	}

	out := make([]candidate, 0, len(all))
	for _, r := range all {
		key, err := querykey.Parse(r.raw)
		if err != nil {
			e.skip(report, skipMalformedKey, fmt.Sprintf("SQL %s has a malformed metric key and was skipped.", r.raw))
			continue
		}
		latency, okLatency := m.latency[r.raw]
		count, okCount := m.count[r.raw]
		if !okLatency || !okCount {
			e.skip(report, skipMissingMetric, fmt.Sprintf("SQL %s is too slow, but its latency or execution count is missing.", r.raw))
			continue
		}
		out = append(out, candidate{target: model.TargetQuery{
			Driver:         key.Driver,
			Query:          key.Query,
			Duration:       r.duration,
			Latency:        latency,
			ExecutionCount: count,
		}})
	}
	return out
}

func (e *Engine) skip(report *model.SQLReport, reason, note string) {
	skippedQueriesTotal.WithLabelValues(reason).Inc()
	slog.Warn("Skipping ranked query", slog.String("reason", reason), slog.String("note", note))
	report.Notes = append(report.Notes, note)
}

// resolveExplain fetches EXPLAIN rows and DDL for every candidate
// concurrently. Failures leave the candidate's index result empty.
func (e *Engine) resolveExplain(ctx context.Context, candidates []candidate) {
	if e.deps.Explain == nil {
		return
	}
	var g errgroup.Group
	for i := range candidates {
		g.Go(func() error {
			t := candidates[i].target
			rows, ok := e.deps.Explain.ExplainQuery(ctx, t.Driver, t.Query)
			if !ok {
				return nil
			}
			candidates[i].index = e.deps.Resolver.Resolve(ctx, t.Driver, rows)
			return nil
		})
	}
	_ = g.Wait()
}

// IsUpstream reports whether err is an upstream failure.
func IsUpstream(err error) bool {
	return errors.Is(err, ErrUpstreamUnavailable)
}
