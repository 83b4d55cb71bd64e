// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package querykey parses "driver:query" metric keys and rewrites SQL text
// into a placeholder-count-invariant form so that a live query and its
// statically extracted counterpart compare equal.
//
// # Canonical Form
//
//	"SELECT *  FROM t WHERE id IN ($1, $2, $3)"  (postgres)
//	    -> "select * from t where id in (..., ?)"
//
//	"INSERT INTO t VALUES (?, ?), (?, ?), (?, ?)"  (mysql)
//	"INSERT INTO t VALUES (?, ?)"                  (mysql)
//	"INSERT INTO t VALUES (?), (?)"                (mysql)
//	    -> "insert into t values ..., (..., ?)"
//
// Canonicalize is idempotent for every driver.
package querykey

import (
	"errors"
	"regexp"
	"strings"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

// ErrMalformedKey indicates a metric key without a "driver:" prefix.
var ErrMalformedKey = errors.New("metric key must have the form driver:query")

const (
	collapsedRun  = "..., ?"
	collapsedRows = "values ..., (..., ?)"
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)

	// Runs of two or more placeholders separated by commas.
	postgresRun = regexp.MustCompile(`(?:\$\d*\s*,\s*)+\$\d*`)
	mysqlRun    = regexp.MustCompile(`(?:\?\s*,\s*)+\?`)
	sqliteRun   = regexp.MustCompile(`(?:(?:\?\d*|[@:$][0-9a-z_]+)\s*,\s*)+(?:\?\d*|[@:$][0-9a-z_]+)`)

	// A VALUES list of single-placeholder rows such as "values (?), (?)".
	postgresRows = singleRows(`\$\d*`)
	mysqlRows    = singleRows(`\?`)
	sqliteRows   = singleRows(`(?:\?\d*|[@:$][0-9a-z_]+)`)

	// A VALUES list of collapsed row groups, optionally already prefixed by
	// the ellipsis from an earlier pass.
	rowGroups = regexp.MustCompile(`\bvalues\s*(?:\.\.\., )?(?:\(\.\.\., \?\)\s*,\s*)*\(\.\.\., \?\)`)
)

func singleRows(placeholder string) *regexp.Regexp {
	row := `\(\s*` + placeholder + `\s*\)`
	return regexp.MustCompile(`\bvalues\s*(?:` + row + `\s*,\s*)*` + row)
}

// Key is a parsed metric key.
type Key struct {
	Driver string
	Query  string
}

// String returns the key in "driver:query" form.
func (k Key) String() string {
	return k.Driver + ":" + k.Query
}

// Parse splits a metric key on its first colon.
//
// # Description
//
// The driver is lower-cased. The query is whitespace-normalized (see
// Normalize) but not canonicalized, so it still reads like the SQL the
// application issued.
//
// # Inputs
//
//   - raw: Metric key such as "mysql:SELECT * FROM users WHERE id = ?".
//
// # Outputs
//
//   - Key: Parsed driver and normalized query.
//   - error: ErrMalformedKey if there is no colon or the driver is empty.
func Parse(raw string) (Key, error) {
	driver, query, ok := strings.Cut(raw, ":")
	driver = strings.ToLower(strings.TrimSpace(driver))
	if !ok || driver == "" {
		return Key{}, ErrMalformedKey
	}
	return Key{Driver: driver, Query: Normalize(query)}, nil
}

// Normalize lower-cases a query, trims surrounding whitespace and collapses
// every interior whitespace run to a single space.
func Normalize(query string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(strings.ToLower(query)), " ")
}

// Canonicalize rewrites a query into the driver's canonical form.
//
// # Description
//
// Normalizes whitespace and case, collapses every run of consecutive
// placeholders into "..., ?" and every VALUES list of collapsed or
// single-placeholder row groups into "values ..., (..., ?)". Unknown drivers only get whitespace
// normalization. A query without placeholders is returned normalized and
// otherwise unchanged.
//
// # Thread Safety
//
// Safe for concurrent use.
func Canonicalize(driver, query string) string {
	q := Normalize(query)
	var run, rows *regexp.Regexp
	switch strings.ToLower(driver) {
	case DriverPostgres:
		run, rows = postgresRun, postgresRows
	case DriverMySQL:
		run, rows = mysqlRun, mysqlRows
	case DriverSQLite:
		run, rows = sqliteRun, sqliteRows
	default:
		return q
	}
	q = run.ReplaceAllLiteralString(q, collapsedRun)
	q = rows.ReplaceAllLiteralString(q, collapsedRows)
	q = rowGroups.ReplaceAllLiteralString(q, collapsedRows)
	return q
}

// Canonical parses a metric key and canonicalizes its query.
func Canonical(raw string) (Key, error) {
	k, err := Parse(raw)
	if err != nil {
		return Key{}, err
	}
	k.Query = Canonicalize(k.Driver, k.Query)
	return k, nil
}

// Match reports whether two queries are equal under the driver's canonical
// form.
func Match(driver, a, b string) bool {
	return Canonicalize(driver, a) == Canonicalize(driver, b)
}

// Matcher compares statically extracted queries against one live query,
// canonicalizing the live side once.
type Matcher struct {
	driver string
	want   string
}

// NewMatcher builds a Matcher for a live query.
func NewMatcher(driver, query string) Matcher {
	return Matcher{driver: driver, want: Canonicalize(driver, query)}
}

// Matches reports whether raw canonicalizes to the live query.
func (m Matcher) Matches(raw string) bool {
	return Canonicalize(m.driver, raw) == m.want
}

// Canonical returns the canonical live query.
func (m Matcher) Canonical() string {
	return m.want
}
