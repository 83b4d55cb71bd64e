// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/AleutianAI/isurus/cmd/isurus/config"
	"github.com/AleutianAI/isurus/services/diagnosis/analysis"
	"github.com/AleutianAI/isurus/services/diagnosis/corpus"
	"github.com/AleutianAI/isurus/services/diagnosis/explain"
	"github.com/AleutianAI/isurus/services/diagnosis/history"
	"github.com/AleutianAI/isurus/services/diagnosis/isutools"
	"github.com/AleutianAI/isurus/services/diagnosis/metrics"
	"github.com/AleutianAI/isurus/services/diagnosis/planner"
	"github.com/AleutianAI/isurus/services/diagnosis/suggest"
	"github.com/AleutianAI/isurus/services/diagnosis/telemetry"
)

const shutdownTimeout = 10 * time.Second

// app is every collaborator of one CLI invocation, built from the config.
type app struct {
	cfg config.IsurusConfig

	isutools *isutools.Client
	metrics  *metrics.PrometheusClient
	analysis *analysis.Client
	engine   *planner.Engine
	corpus   *corpus.Loader
	memo     *suggest.Memo
	recorder history.Recorder

	shutdownTelemetry func(context.Context) error
}

// newApp builds and starts the collaborators. The analysis service is
// spawned here; call close to stop it.
func newApp(ctx context.Context, cfg config.IsurusConfig) (*app, error) {
	shutdown, err := telemetry.Init(ctx, telemetryConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	a := &app{cfg: cfg, shutdownTelemetry: shutdown}

	a.isutools = isutools.NewClient(cfg.Isutools.URL, isutools.Options{
		RequestsPerSecond: cfg.Isutools.RequestsPerSecond,
		Burst:             cfg.Isutools.Burst,
	})

	a.metrics, err = metrics.NewPrometheusClient(cfg.Prometheus.URL, a.isutools, metrics.Options{
		Step:    cfg.Prometheus.Step,
		Timeout: cfg.Prometheus.Timeout,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	root, err := workspaceRoot(cfg)
	if err != nil {
		a.close()
		return nil, err
	}
	a.analysis = analysis.NewClient(analysis.Config{
		Command:        cfg.Analysis.Command,
		Args:           cfg.Analysis.Args,
		RootPath:       root,
		RequestTimeout: cfg.Analysis.RequestTimeout,
	})
	if err := a.analysis.Start(ctx); err != nil {
		a.analysis = nil
		a.close()
		return nil, fmt.Errorf("start analysis service: %w", err)
	}
	a.corpus = corpus.NewLoader(root, a.analysis)

	resolver := explain.NewResolver(a.isutools, explain.Thresholds{
		ScanRows:        cfg.Thresholds.IndexScanRows,
		FilteredPercent: cfg.Thresholds.IndexFilteredPercent,
	})
	a.engine, err = planner.NewEngine(planner.Deps{
		CRUD:     a.analysis,
		SQL:      a.metrics,
		CPU:      a.metrics,
		Explain:  a.isutools,
		Resolver: resolver,
	}, plannerConfig(cfg))
	if err != nil {
		a.close()
		return nil, err
	}

	gen, err := newGenerator(ctx, cfg.Suggest)
	if err != nil {
		a.close()
		return nil, err
	}
	if gen != nil {
		s := suggest.NewSuggester(gen, &suggest.FileSourceReader{Root: root}, 0)
		a.memo = suggest.NewMemo(s.Suggest)
	}

	a.recorder = newRecorder(cfg.History)
	return a, nil
}

// close stops the analysis service, flushes history and shuts telemetry down.
func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if a.analysis != nil {
		if err := a.analysis.Shutdown(ctx); err != nil && !errors.Is(err, analysis.ErrServerNotRunning) {
			slog.Warn("Analysis service shutdown failed", slog.String("error", err.Error()))
		}
	}
	if a.recorder != nil {
		a.recorder.Close()
	}
	if a.shutdownTelemetry != nil {
		if err := a.shutdownTelemetry(ctx); err != nil {
			slog.Warn("Telemetry shutdown failed", slog.String("error", err.Error()))
		}
	}
}

// loadCorpus sends the workspace sources to the analysis service.
func (a *app) loadCorpus(ctx context.Context) error {
	n, err := a.corpus.Load(ctx)
	if err != nil {
		return err
	}
	slog.Info("Corpus loaded", slog.String("root", a.corpus.Root()), slog.Int("files", n))
	return nil
}

// =============================================================================
// CONFIG MAPPING
// =============================================================================

func plannerConfig(cfg config.IsurusConfig) planner.Config {
	return planner.Config{
		SQLCheckLimit:       cfg.Thresholds.SQLCheckLimit,
		CacheExecutionCount: cfg.Thresholds.CacheExecutionCount,
		CPUUsageLimit:       cfg.Thresholds.CPUUsageLimit,
		AppName:             cfg.Processes.AppName,
		DBName:              cfg.Processes.DBName,
	}
}

func telemetryConfig(cfg config.IsurusConfig) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = version
	tc.TraceExporter = cfg.Telemetry.TraceExporter
	tc.MetricExporter = cfg.Telemetry.MetricExporter
	if cfg.Telemetry.OTLPEndpoint != "" {
		tc.OTLPEndpoint = cfg.Telemetry.OTLPEndpoint
	}
	return tc
}

func workspaceRoot(cfg config.IsurusConfig) (string, error) {
	if cfg.Analysis.RootPath != "" {
		return cfg.Analysis.RootPath, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}
	return wd, nil
}

// newGenerator returns the configured model backend, or nil for "none".
func newGenerator(ctx context.Context, cfg config.SuggestConfig) (suggest.Generator, error) {
	switch cfg.Backend {
	case "", "none":
		return nil, nil
	case "openai":
		gen, err := suggest.NewOpenAIGenerator(suggest.OpenAIConfig{
			APIKey:      cfg.APIKey(),
			Model:       cfg.Model,
			BaseURL:     cfg.BaseURL,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return gen, nil
	case "bedrock":
		gen, err := suggest.NewBedrockGenerator(ctx, suggest.BedrockConfig{
			Region:      cfg.Region,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		return gen, nil
	default:
		return nil, fmt.Errorf("unknown suggest backend %q", cfg.Backend)
	}
}

func newRecorder(cfg config.HistoryConfig) history.Recorder {
	if !cfg.Enabled {
		return history.Nop{}
	}
	return history.NewInfluxRecorder(cfg.InfluxURL, cfg.Token(), cfg.Org, cfg.Bucket)
}
