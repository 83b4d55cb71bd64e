// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package isutools is the HTTP client for the isutools collector, which
// records benchmark windows, normalized SQL statements with their EXPLAIN
// output, and table DDL.
package isutools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/isurus/pkg/validation"
	"github.com/AleutianAI/isurus/services/diagnosis/explain"
	"github.com/AleutianAI/isurus/services/diagnosis/model"
	"github.com/AleutianAI/isurus/services/diagnosis/querykey"
	"github.com/AleutianAI/isurus/services/diagnosis/telemetry"
)

// Defaults for NewClient.
const (
	DefaultURL               = "http://localhost:6061"
	DefaultRequestsPerSecond = 20
	DefaultBurst             = 5
	DefaultTimeout           = 30 * time.Second
)

// Options tunes a Client. Zero fields take the package defaults.
type Options struct {
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// Client talks to the isutools collector.
//
// # Description
//
// Every request passes through a token-bucket limiter so that a burst of
// EXPLAIN lookups does not overload the collector during a benchmark.
// Concurrent fetches of the query list and of a driver's DDL map are
// collapsed into one request.
//
// # Thread Safety
//
// Client is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter

	queriesGroup singleflight.Group
	tablesGroup  singleflight.Group
}

// NewClient creates a Client for the collector at baseURL.
//
// # Example
//
//	c := isutools.NewClient("http://localhost:6061", isutools.Options{})
//	window, err := c.LatestBenchmark(ctx)
func NewClient(baseURL string, opts Options) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultBurst
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: opts.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
	}
}

type benchmarkResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Score int64     `json:"score"`
}

// queryEntry is one collected statement.
type queryEntry struct {
	ID         string  `json:"id"`
	Driver     string  `json:"driver"`
	Normalized string  `json:"normalized"`
	Latency    float64 `json:"latency"`
}

// LatestBenchmark returns the window of the most recent benchmark.
//
// # Outputs
//
//   - model.BenchmarkWindow: The window. Always Valid when err is nil.
//   - error: Wraps ErrInvalidWindow for any failure.
func (c *Client) LatestBenchmark(ctx context.Context) (model.BenchmarkWindow, error) {
	if ctx == nil {
		return model.BenchmarkWindow{}, fmt.Errorf("ctx must not be nil")
	}

	var resp benchmarkResponse
	if err := c.getJSON(ctx, "/benchmark/latest", &resp); err != nil {
		return model.BenchmarkWindow{}, fmt.Errorf("%w: %v", ErrInvalidWindow, err)
	}

	w := model.BenchmarkWindow{Start: resp.Start, End: resp.End, Score: resp.Score}
	if !w.Valid() {
		return model.BenchmarkWindow{}, fmt.Errorf("%w: start %s, end %s",
			ErrInvalidWindow, resp.Start.Format(time.RFC3339), resp.End.Format(time.RFC3339))
	}
	return w, nil
}

// ExplainQuery returns the EXPLAIN rows of a collected statement.
//
// # Description
//
// The statement is located in the collector's query list by driver and by
// whitespace-normalized, lower-cased text. The lookup is best effort: every
// failure is logged at Info and reported as absent.
//
// # Outputs
//
//   - []explain.Row: EXPLAIN rows in collector order.
//   - bool: False when the rows are unavailable.
func (c *Client) ExplainQuery(ctx context.Context, driver, query string) ([]explain.Row, bool) {
	rows, err := c.explain(ctx, driver, query)
	if err != nil {
		slog.Info("EXPLAIN unavailable",
			slog.String("driver", driver),
			slog.String("query", query),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	return rows, true
}

func (c *Client) explain(ctx context.Context, driver, query string) ([]explain.Row, error) {
	if err := validation.ValidateDriver(driver); err != nil {
		return nil, err
	}
	entries, err := c.queries(ctx)
	if err != nil {
		return nil, err
	}

	want := querykey.Normalize(query)
	id := ""
	for _, e := range entries {
		if e.Driver == driver && querykey.Normalize(e.Normalized) == want {
			id = e.ID
			break
		}
	}
	if id == "" {
		return nil, ErrQueryNotFound
	}

	var rows []explain.Row
	if err := c.getJSON(ctx, "/queries/"+url.PathEscape(id)+"/explain", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *Client) queries(ctx context.Context) ([]queryEntry, error) {
	v, err, _ := c.queriesGroup.Do("queries", func() (any, error) {
		var entries []queryEntry
		if err := c.getJSON(ctx, "/queries", &entries); err != nil {
			return nil, err
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	entries, ok := v.([]queryEntry)
	if !ok {
		return nil, fmt.Errorf("unexpected type from singleflight group 'queriesGroup': got %T", v)
	}
	return entries, nil
}

// GetTableCreateQuery returns the CREATE TABLE statement of a table.
// A false second return means the DDL is unavailable.
func (c *Client) GetTableCreateQuery(ctx context.Context, driver, table string) (string, bool) {
	if err := validation.ValidateDriver(driver); err != nil {
		slog.Info("Table DDL unavailable", slog.String("driver", driver), slog.String("error", err.Error()))
		return "", false
	}
	v, err, _ := c.tablesGroup.Do(driver, func() (any, error) {
		var tables map[string]string
		if err := c.getJSON(ctx, "/tables?driver="+url.QueryEscape(driver), &tables); err != nil {
			return nil, err
		}
		return tables, nil
	})
	if err != nil {
		slog.Info("Table DDL unavailable",
			slog.String("driver", driver),
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return "", false
	}
	tables, _ := v.(map[string]string)
	ddl, ok := tables[table]
	return ddl, ok && ddl != ""
}

// getJSON performs a rate-limited GET and decodes the JSON body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	telemetry.InjectContext(ctx, req.Header)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: GET %s returned %d: %s", ErrUnexpectedStatus, path, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
