// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import (
	"encoding/json"
	"fmt"
	"strings"
)

// =============================================================================
// QUERY TYPES
// =============================================================================

// QueryType is the statement kind of a SQL query.
type QueryType string

const (
	QuerySelect  QueryType = "select"
	QueryInsert  QueryType = "insert"
	QueryUpdate  QueryType = "update"
	QueryDelete  QueryType = "delete"
	QueryUnknown QueryType = "unknown"
)

// ParseQueryType maps a wire value onto a QueryType. Anything unrecognized
// is QueryUnknown.
func ParseQueryType(s string) QueryType {
	switch QueryType(strings.ToLower(strings.TrimSpace(s))) {
	case QuerySelect:
		return QuerySelect
	case QueryInsert:
		return QueryInsert
	case QueryUpdate:
		return QueryUpdate
	case QueryDelete:
		return QueryDelete
	default:
		return QueryUnknown
	}
}

// IsReadOrAppend reports whether the query type keeps a table cache-safe.
// Selects and inserts qualify; anything that rewrites or removes rows does not.
func (q QueryType) IsReadOrAppend() bool {
	return q == QuerySelect || q == QueryInsert
}

// InferQueryType guesses the statement kind from the leading keyword of a
// query. Used when a live query has no static counterpart to take the type
// from.
func InferQueryType(query string) QueryType {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return QueryUnknown
	}
	return ParseQueryType(fields[0])
}

// =============================================================================
// PLAN VARIANTS
// =============================================================================

// PlanType names a remediation class.
type PlanType string

const (
	PlanCache   PlanType = "cache"
	PlanJoin    PlanType = "join"
	PlanBulk    PlanType = "bulk"
	PlanIndex   PlanType = "index"
	PlanUnknown PlanType = "unknown"
)

// AllPlanTypes lists every plan type in classification order.
var AllPlanTypes = []PlanType{PlanCache, PlanJoin, PlanBulk, PlanIndex, PlanUnknown}

// Plan is the remediation-specific part of a FixPlan.
//
// The set of implementations is closed: CachePlan, JoinPlan, BulkPlan,
// IndexPlan and UnknownPlan. Consumers type-switch on the concrete value to
// reach variant fields.
type Plan interface {
	Type() PlanType
	sealed()
}

// CachePlan recommends caching the query result in memory.
type CachePlan struct{}

// JoinPlan recommends replacing per-iteration selects with a join or a
// single batched read.
type JoinPlan struct{}

// BulkPlan recommends batching per-iteration mutations.
type BulkPlan struct{}

// IndexPlan recommends adding an index for the listed scan issues.
type IndexPlan struct {
	Issues []IndexIssue `json:"issues"`
}

// UnknownPlan is the fallback when no specific cause was found. Tables lists
// the large tables the query touched, which may be empty.
type UnknownPlan struct {
	Tables []LargeTable `json:"tables"`
}

func (CachePlan) Type() PlanType   { return PlanCache }
func (JoinPlan) Type() PlanType    { return PlanJoin }
func (BulkPlan) Type() PlanType    { return PlanBulk }
func (IndexPlan) Type() PlanType   { return PlanIndex }
func (UnknownPlan) Type() PlanType { return PlanUnknown }

func (CachePlan) sealed()   {}
func (JoinPlan) sealed()    {}
func (BulkPlan) sealed()    {}
func (IndexPlan) sealed()   {}
func (UnknownPlan) sealed() {}

// TableRef names a table and, when it was fetched, its DDL.
type TableRef struct {
	Name        string `json:"name"`
	CreateQuery string `json:"createQuery,omitempty"`
}

// IndexIssue is one EXPLAIN row with a large scan and poor selectivity.
type IndexIssue struct {
	Table    TableRef `json:"table"`
	Key      string   `json:"key"`
	Rows     int64    `json:"rows"`
	Filtered float64  `json:"filtered"`
}

// LargeTable is one EXPLAIN row with a large scan.
type LargeTable struct {
	Name        string `json:"name"`
	CreateQuery string `json:"createQuery,omitempty"`
	Rows        int64  `json:"rows"`
}

// =============================================================================
// FIX PLAN
// =============================================================================

// TargetQuery is a live query with its metrics for the benchmark window.
type TargetQuery struct {
	Driver         string  `json:"driver"`
	Query          string  `json:"query"`
	Duration       float64 `json:"duration"`
	Latency        float64 `json:"latency"`
	ExecutionCount float64 `json:"executionCount"`
}

// Key returns the "driver:query" form used by the metrics backend.
func (q TargetQuery) Key() string {
	return q.Driver + ":" + q.Query
}

// PlanFunction is a function surfaced by a fix plan.
//
// QueryPositions holds the execution sites of the target query inside this
// function. In a loop stack only the innermost function carries them.
type PlanFunction struct {
	ID             string  `json:"id"`
	Name           string  `json:"name"`
	Position       Range   `json:"position"`
	NamePosition   Range   `json:"namePosition"`
	QueryPositions []Range `json:"queryPositions"`
}

// FixPlan is one classified remediation for a slow query.
//
// TargetFunction is nil when the live query matched nothing in the CRUD
// graph; such plans are always UnknownPlan.
type FixPlan struct {
	ID               string         `json:"id"`
	Plan             Plan           `json:"-"`
	TargetQuery      TargetQuery    `json:"targetQuery"`
	QueryType        QueryType      `json:"queryType"`
	TargetFunction   *PlanFunction  `json:"targetFunction"`
	RelatedFunctions []PlanFunction `json:"relatedFunctions"`
}

// Type returns the plan type, or PlanUnknown for a plan with no variant.
func (f FixPlan) Type() PlanType {
	if f.Plan == nil {
		return PlanUnknown
	}
	return f.Plan.Type()
}

// DiagnosticRanges returns every range a presentation layer should annotate:
// the target's name and query sites, then each related function's name and
// query sites, in chain order.
func (f FixPlan) DiagnosticRanges() []Range {
	var out []Range
	if f.TargetFunction != nil {
		out = append(out, f.TargetFunction.NamePosition)
		out = append(out, f.TargetFunction.QueryPositions...)
	}
	for _, fn := range f.RelatedFunctions {
		out = append(out, fn.NamePosition)
		out = append(out, fn.QueryPositions...)
	}
	return out
}

// Message renders the one-line warning shown next to each diagnostic range.
func (f FixPlan) Message() string {
	q := f.TargetQuery.Query
	switch f.Type() {
	case PlanIndex:
		return fmt.Sprintf("SQL %s is too slow. Please add index.", q)
	case PlanJoin:
		return fmt.Sprintf("SQL %s is too slow. Please join the table.", q)
	case PlanBulk:
		verb := "batch"
		if f.QueryType == QueryInsert {
			verb = "bulk insert"
		}
		return fmt.Sprintf("SQL %s is too slow. Please %s the %s statements.", q, verb, f.QueryType)
	case PlanCache:
		return fmt.Sprintf("SQL %s is cacheable. Please cache the query result.", q)
	default:
		return fmt.Sprintf("SQL %s is too slow.", q)
	}
}

// MarshalJSON encodes the variant under "plan" with a "type" discriminator.
func (f FixPlan) MarshalJSON() ([]byte, error) {
	plan, err := marshalPlan(f.Plan)
	if err != nil {
		return nil, err
	}
	type wire FixPlan
	return json.Marshal(struct {
		wire
		Plan json.RawMessage `json:"plan"`
	}{wire: wire(f), Plan: plan})
}

// UnmarshalJSON decodes the shape written by MarshalJSON.
func (f *FixPlan) UnmarshalJSON(data []byte) error {
	type wire FixPlan
	var aux struct {
		wire
		Plan json.RawMessage `json:"plan"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	plan, err := unmarshalPlan(aux.Plan)
	if err != nil {
		return err
	}
	*f = FixPlan(aux.wire)
	f.Plan = plan
	return nil
}

func marshalPlan(p Plan) (json.RawMessage, error) {
	switch v := p.(type) {
	case IndexPlan:
		return json.Marshal(struct {
			Type   PlanType     `json:"type"`
			Issues []IndexIssue `json:"issues"`
		}{PlanIndex, nonNil(v.Issues)})
	case UnknownPlan:
		return json.Marshal(struct {
			Type   PlanType     `json:"type"`
			Tables []LargeTable `json:"tables"`
		}{PlanUnknown, nonNil(v.Tables)})
	case nil:
		return json.Marshal(struct {
			Type PlanType `json:"type"`
		}{PlanUnknown})
	default:
		return json.Marshal(struct {
			Type PlanType `json:"type"`
		}{v.Type()})
	}
}

func unmarshalPlan(data []byte) (Plan, error) {
	if len(data) == 0 {
		return UnknownPlan{}, nil
	}
	var head struct {
		Type PlanType `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case PlanCache:
		return CachePlan{}, nil
	case PlanJoin:
		return JoinPlan{}, nil
	case PlanBulk:
		return BulkPlan{}, nil
	case PlanIndex:
		var p IndexPlan
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case PlanUnknown:
		var p UnknownPlan
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown plan type %q", head.Type)
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
