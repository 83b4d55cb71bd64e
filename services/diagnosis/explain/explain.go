// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package explain turns EXPLAIN statistics into index issues and large-table
// lists, fetching table DDL only for the tables that end up in either list.
package explain

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

// Default thresholds.
const (
	DefaultScanRows        int64   = 100
	DefaultFilteredPercent float64 = 80

	// maxConcurrentDDL bounds parallel DDL lookups for one query.
	maxConcurrentDDL = 4
)

// Row is one EXPLAIN row for a query.
type Row struct {
	Table        string  `json:"table"`
	PossibleKeys string  `json:"possibleKeys"`
	Key          string  `json:"key"`
	Rows         int64   `json:"rows"`
	Filtered     float64 `json:"filtered"`
}

// Thresholds decide which rows count as a problem.
type Thresholds struct {
	// ScanRows is the row count above which a scan is large.
	ScanRows int64

	// FilteredPercent is the selectivity below which a large scan is an
	// index issue.
	FilteredPercent float64
}

// DefaultThresholds returns rows > 100 and filtered < 80%.
func DefaultThresholds() Thresholds {
	return Thresholds{ScanRows: DefaultScanRows, FilteredPercent: DefaultFilteredPercent}
}

// IsIndexIssue reports a large scan with poor selectivity.
func (t Thresholds) IsIndexIssue(r Row) bool {
	return r.Rows > t.ScanRows && r.Filtered < t.FilteredPercent
}

// IsLargeTable reports a large scan regardless of selectivity.
func (t Thresholds) IsLargeTable(r Row) bool {
	return r.Rows > t.ScanRows
}

// DDLSource fetches CREATE TABLE statements. A false second return means the
// DDL is unavailable; that is never an error for the caller.
type DDLSource interface {
	GetTableCreateQuery(ctx context.Context, driver, table string) (string, bool)
}

// Result is the index-related outcome for one query.
type Result struct {
	Issues []model.IndexIssue
	Tables []model.LargeTable
}

// Resolver classifies EXPLAIN rows for a query.
//
// # Thread Safety
//
// Safe for concurrent use if the DDLSource is.
type Resolver struct {
	ddl        DDLSource
	thresholds Thresholds
}

// NewResolver creates a Resolver. ddl may be nil, in which case no DDL is
// attached to the results.
func NewResolver(ddl DDLSource, thresholds Thresholds) *Resolver {
	return &Resolver{ddl: ddl, thresholds: thresholds}
}

// Resolve classifies rows and attaches DDL to implicated tables.
//
// # Description
//
// Rows are filtered into index issues and large tables, preserving EXPLAIN
// order. DDL is then fetched concurrently, once per distinct table name and
// only for tables in one of the two lists. An empty rows slice produces an
// empty Result without touching the DDL source.
//
// # Inputs
//
//   - ctx: Context for the DDL lookups.
//   - driver: Database driver of the query.
//   - rows: EXPLAIN rows; nil when EXPLAIN had no data.
//
// # Outputs
//
//   - Result: Issues and large tables. Never an error: DDL failures leave
//     CreateQuery empty.
func (r *Resolver) Resolve(ctx context.Context, driver string, rows []Row) Result {
	var issues, large []Row
	for _, row := range rows {
		if r.thresholds.IsIndexIssue(row) {
			issues = append(issues, row)
		}
		if r.thresholds.IsLargeTable(row) {
			large = append(large, row)
		}
	}
	if len(large) == 0 {
		return Result{}
	}

	ddl := r.fetchDDL(ctx, driver, large)

	res := Result{
		Issues: make([]model.IndexIssue, 0, len(issues)),
		Tables: make([]model.LargeTable, 0, len(large)),
	}
	for _, row := range issues {
		res.Issues = append(res.Issues, model.IndexIssue{
			Table:    model.TableRef{Name: row.Table, CreateQuery: ddl[row.Table]},
			Key:      row.Key,
			Rows:     row.Rows,
			Filtered: row.Filtered,
		})
	}
	for _, row := range large {
		res.Tables = append(res.Tables, model.LargeTable{
			Name:        row.Table,
			CreateQuery: ddl[row.Table],
			Rows:        row.Rows,
		})
	}
	return res
}

// fetchDDL looks up DDL for every distinct table in rows. Index issues are a
// subset of large tables, so rows covers both lists.
func (r *Resolver) fetchDDL(ctx context.Context, driver string, rows []Row) map[string]string {
	if r.ddl == nil {
		return nil
	}

	var names []string
	seen := make(map[string]bool, len(rows))
	for _, row := range rows {
		if !seen[row.Table] {
			seen[row.Table] = true
			names = append(names, row.Table)
		}
	}

	results := make([]string, len(names))
	var g errgroup.Group
	g.SetLimit(maxConcurrentDDL)
	for i, name := range names {
		g.Go(func() error {
			ddl, ok := r.ddl.GetTableCreateQuery(ctx, driver, name)
			if !ok {
				slog.Debug("Table DDL unavailable",
					slog.String("driver", driver),
					slog.String("table", name),
				)
				return nil
			}
			results[i] = ddl
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]string, len(names))
	for i, name := range names {
		if results[i] != "" {
			out[name] = results[i]
		}
	}
	return out
}
