// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package crud

import (
	"log/slog"
	"slices"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
	"github.com/AleutianAI/isurus/services/diagnosis/querykey"
)

// Summary is the CRUD graph for one diagnosis run.
//
// # Thread Safety
//
// Read-only after Build returns; safe for concurrent use.
type Summary struct {
	nodes      map[string]*Node
	nodeOrder  []*Node
	tables     map[string]*TableSummary
	tableOrder []*TableSummary
	executions []*Execution

	// DroppedCalls counts calls whose callee was not in the function list.
	DroppedCalls int
}

// execGroup is the first phase of per-function query reduction: one entry
// per distinct (raw, position) pair, still holding raw table ids.
type execGroup struct {
	raw      string
	position model.Range
	typ      model.QueryType
	inLoop   bool
	tableIDs []string
}

type execGroupKey struct {
	raw      string
	position model.Range
}

// Build constructs a Summary from an analysis-service response.
//
// # Description
//
// Pass 1 indexes functions by id; a repeated id keeps the first node and
// its calls and queries are attributed to it. Pass 2 appends a caller edge to the
// callee of every call; calls to unknown function ids are dropped. Pass 3
// reduces each function's queries in two phases: queries are grouped by
// raw text and execution site, then each group becomes one Execution whose
// table ids are merged and which is appended to every table it touches.
// Table ids without a Table record are kept under UnknownTableName.
//
// # Inputs
//
//   - resp: The raw functions and tables. Not modified.
//
// # Outputs
//
//   - *Summary: The read-only graph.
func Build(resp Response) *Summary {
	s := &Summary{
		nodes:  make(map[string]*Node, len(resp.Functions)),
		tables: make(map[string]*TableSummary),
	}

	// Pass 1: function index.
	for _, fn := range resp.Functions {
		if _, dup := s.nodes[fn.ID]; dup {
			slog.Warn("Duplicate function id in CRUD graph, keeping first",
				slog.String("function_id", fn.ID),
				slog.String("name", fn.Name),
			)
			continue
		}
		n := &Node{
			ID:           fn.ID,
			Name:         fn.Name,
			Position:     fn.Position,
			NamePosition: fn.NamePosition,
		}
		s.nodes[fn.ID] = n
		s.nodeOrder = append(s.nodeOrder, n)
	}

	// Pass 2: reverse call edges.
	for _, fn := range resp.Functions {
		caller := s.nodes[fn.ID]
		for _, call := range fn.Calls {
			callee, ok := s.nodes[call.FunctionID]
			if !ok {
				s.DroppedCalls++
				continue
			}
			callee.Callers = append(callee.Callers, CallerEdge{
				Caller:   caller,
				Position: call.Position,
				InLoop:   call.InLoop,
			})
		}
	}

	tableNames := make(map[string]string, len(resp.Tables))
	for _, t := range resp.Tables {
		tableNames[t.ID] = t.Name
	}

	// Pass 3: executions per table. Queries of a duplicate id are
	// attributed to the surviving node.
	for _, fn := range resp.Functions {
		executor := s.nodes[fn.ID]
		for _, g := range groupQueries(fn.Queries) {
			exec := &Execution{
				Type:     g.typ,
				Raw:      g.raw,
				TableIDs: g.tableIDs,
				Executor: executor,
				Position: g.position,
				InLoop:   g.inLoop,
			}
			s.executions = append(s.executions, exec)
			for _, id := range g.tableIDs {
				t := s.table(id, tableNames)
				t.Executions = append(t.Executions, exec)
			}
		}
	}

	if s.DroppedCalls > 0 {
		slog.Debug("Dropped calls to unknown functions",
			slog.Int("count", s.DroppedCalls),
		)
	}

	return s
}

// groupQueries reduces a function's queries to one group per (raw, site),
// preserving first-seen order of both groups and table ids.
func groupQueries(queries []Query) []*execGroup {
	var groups []*execGroup
	index := make(map[execGroupKey]*execGroup, len(queries))

	for _, q := range queries {
		key := execGroupKey{raw: q.Raw, position: q.Position}
		g, ok := index[key]
		if !ok {
			g = &execGroup{
				raw:      q.Raw,
				position: q.Position,
				typ:      model.ParseQueryType(q.Type),
			}
			index[key] = g
			groups = append(groups, g)
		}
		g.inLoop = g.inLoop || q.InLoop
		if !slices.Contains(g.tableIDs, q.TableID) {
			g.tableIDs = append(g.tableIDs, q.TableID)
		}
	}
	return groups
}

func (s *Summary) table(id string, names map[string]string) *TableSummary {
	if t, ok := s.tables[id]; ok {
		return t
	}
	name, ok := names[id]
	if !ok {
		name = UnknownTableName
	}
	t := &TableSummary{ID: id, Name: name}
	s.tables[id] = t
	s.tableOrder = append(s.tableOrder, t)
	return t
}

// Node returns the function with the given id.
func (s *Summary) Node(id string) (*Node, bool) {
	n, ok := s.nodes[id]
	return n, ok
}

// Nodes returns every function in input order.
func (s *Summary) Nodes() []*Node {
	return s.nodeOrder
}

// Table returns the table summary for the given id.
func (s *Summary) Table(id string) (*TableSummary, bool) {
	t, ok := s.tables[id]
	return t, ok
}

// Tables returns every table with at least one execution, in first-seen
// order.
func (s *Summary) Tables() []*TableSummary {
	return s.tableOrder
}

// Executions returns every execution, each exactly once, in input order.
func (s *Summary) Executions() []*Execution {
	return s.executions
}

// Match returns the executions whose raw text canonicalizes to the live
// query under the driver's rules. Several executions may match the same
// live query when the statement is issued from different sites.
func (s *Summary) Match(driver, query string) []*Execution {
	m := querykey.NewMatcher(driver, query)
	var out []*Execution
	for _, e := range s.executions {
		if m.Matches(e.Raw) {
			out = append(out, e)
		}
	}
	return out
}
