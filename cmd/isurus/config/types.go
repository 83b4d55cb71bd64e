// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"time"
)

// Environment variables holding secrets. Secrets never live in the YAML file.
const (
	EnvOpenAIKey   = "OPENAI_API_KEY"
	EnvInfluxToken = "ISURUS_INFLUX_TOKEN"
)

// IsurusConfig is the on-disk configuration of the isurus CLI and server.
type IsurusConfig struct {
	// Thresholds tune the diagnosis engine.
	Thresholds ThresholdsConfig `yaml:"thresholds"`

	// Processes names the processes CPU triage recognizes.
	Processes ProcessesConfig `yaml:"processes"`

	// Prometheus is the metrics backend.
	Prometheus PrometheusConfig `yaml:"prometheus"`

	// Isutools provides the benchmark window, EXPLAIN rows and table DDL.
	Isutools IsutoolsConfig `yaml:"isutools"`

	// Analysis is the static analysis service spawned as a child process.
	Analysis AnalysisConfig `yaml:"analysis"`

	// Suggest selects the language model used for fix suggestions.
	Suggest SuggestConfig `yaml:"suggest"`

	// History optionally records every run to InfluxDB.
	History HistoryConfig `yaml:"history"`

	Telemetry TelemetryConfig `yaml:"telemetry"`
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
}

type ThresholdsConfig struct {
	CPUUsageLimit        float64 `yaml:"cpu_usage_limit" validate:"gt=0"`
	SQLCheckLimit        int     `yaml:"sql_check_limit" validate:"gte=1,lte=100"`
	CacheExecutionCount  float64 `yaml:"cache_execution_count" validate:"gte=0"`
	IndexScanRows        int64   `yaml:"index_scan_rows" validate:"gte=0"`
	IndexFilteredPercent float64 `yaml:"index_filtered_percent" validate:"gte=0,lte=100"`
}

type ProcessesConfig struct {
	AppName string `yaml:"app_name" validate:"required"`
	DBName  string `yaml:"db_name" validate:"required"`
}

type PrometheusConfig struct {
	URL     string        `yaml:"url" validate:"required,url"`
	Step    time.Duration `yaml:"step" validate:"gt=0"`
	Timeout time.Duration `yaml:"timeout" validate:"gt=0"`
}

type IsutoolsConfig struct {
	URL               string  `yaml:"url" validate:"required,url"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gt=0"`
	Burst             int     `yaml:"burst" validate:"gte=1"`
}

type AnalysisConfig struct {
	// Command is the analysis server binary, looked up on PATH.
	Command string   `yaml:"command" validate:"required"`
	Args    []string `yaml:"args,omitempty"`

	// RootPath is the workspace to analyze. Empty means the current directory.
	RootPath       string        `yaml:"root_path,omitempty"`
	RequestTimeout time.Duration `yaml:"request_timeout" validate:"gt=0"`
}

type SuggestConfig struct {
	// Backend is "openai", "bedrock" or "none".
	Backend     string  `yaml:"backend" validate:"oneof=openai bedrock none"`
	// Model empty selects the backend default.
	Model       string  `yaml:"model,omitempty"`
	BaseURL     string  `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Region      string  `yaml:"region,omitempty"`
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`
}

// APIKey returns the OpenAI key from the environment.
func (s SuggestConfig) APIKey() string {
	return os.Getenv(EnvOpenAIKey)
}

type HistoryConfig struct {
	Enabled   bool   `yaml:"enabled"`
	InfluxURL string `yaml:"influx_url" validate:"required_if=Enabled true,omitempty,url"`
	Org       string `yaml:"org" validate:"required_if=Enabled true"`
	Bucket    string `yaml:"bucket" validate:"required_if=Enabled true"`
}

// Token returns the InfluxDB token from the environment.
func (h HistoryConfig) Token() string {
	return os.Getenv(EnvInfluxToken)
}

type TelemetryConfig struct {
	TraceExporter  string `yaml:"trace_exporter" validate:"oneof=otlp stdout none"`
	MetricExporter string `yaml:"metric_exporter" validate:"oneof=prometheus stdout none"`
	OTLPEndpoint   string `yaml:"otlp_endpoint,omitempty"`
}

type ServerConfig struct {
	Port int `yaml:"port" validate:"gte=1,lte=65535"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() IsurusConfig {
	return IsurusConfig{
		Thresholds: ThresholdsConfig{
			CPUUsageLimit:        0.5,
			SQLCheckLimit:        5,
			CacheExecutionCount:  500,
			IndexScanRows:        100,
			IndexFilteredPercent: 80,
		},
		Processes: ProcessesConfig{
			AppName: "app",
			DBName:  "mysql",
		},
		Prometheus: PrometheusConfig{
			URL:     "http://localhost:9090",
			Step:    4 * time.Second,
			Timeout: time.Minute,
		},
		Isutools: IsutoolsConfig{
			URL:               "http://localhost:6061",
			RequestsPerSecond: 20,
			Burst:             5,
		},
		Analysis: AnalysisConfig{
			Command:        "isurus-analyzer",
			RequestTimeout: 2 * time.Minute,
		},
		Suggest: SuggestConfig{
			Backend:     "none",
			Temperature: 0.2,
		},
		History: HistoryConfig{
			Enabled:   false,
			InfluxURL: "http://localhost:8086",
			Org:       "isurus",
			Bucket:    "diagnosis",
		},
		Telemetry: TelemetryConfig{
			TraceExporter:  "none",
			MetricExporter: "prometheus",
			OTLPEndpoint:   "localhost:4317",
		},
		Server: ServerConfig{Port: 8088},
		Log:    LogConfig{Level: "info", Dir: "~/.isurus/logs"},
	}
}
