// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the value types shared by the diagnosis services:
// source ranges, fix plans and CPU triage reports.
//
// Everything in this package is a plain value. Nothing here performs I/O,
// and all types are safe to share across goroutines once constructed.
package model

import "fmt"

// Position is a 1-indexed line/column location in a source file.
type Position struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Range locates a span of source text.
//
// Ranges are produced by the analysis service and passed through verbatim.
// The engine never does arithmetic on them; only the suggestion layer reads
// the text they cover.
type Range struct {
	File  string   `json:"file"`
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// String formats the range as file:line:col-line:col.
func (r Range) String() string {
	return fmt.Sprintf("%s:%d:%d-%d:%d", r.File, r.Start.Line, r.Start.Column, r.End.Line, r.End.Column)
}

// IsZero reports whether the range carries no location.
func (r Range) IsZero() bool {
	return r.File == "" && r.Start == (Position{}) && r.End == (Position{})
}
