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

import "github.com/AleutianAI/isurus/services/diagnosis/model"

// UnknownTableName is the name given to executions whose table id does not
// resolve to a known table.
const UnknownTableName = "unknown"

// =============================================================================
// WIRE TYPES
// =============================================================================

// Response is the payload of the analysis service's "crud" method.
type Response struct {
	Functions []Function `json:"functions"`
	Tables    []Table    `json:"tables"`
}

// Function is one function as reported by the analysis service, with its
// outgoing calls and the queries it executes.
type Function struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Position     model.Range `json:"position"`
	NamePosition model.Range `json:"namePosition"`
	Calls        []Call      `json:"calls"`
	Queries      []Query     `json:"queries"`
}

// Call is an outgoing call edge. Calls between the same pair of functions
// stay distinct because each has its own site and loop flag.
type Call struct {
	FunctionID string      `json:"functionId"`
	Position   model.Range `json:"position"`
	InLoop     bool        `json:"inLoop"`
}

// Query is one SQL execution site. A statement touching several tables is
// reported once per table with the same raw text and position.
type Query struct {
	TableID  string      `json:"tableId"`
	Position model.Range `json:"position"`
	Type     string      `json:"type"`
	Raw      string      `json:"raw"`
	InLoop   bool        `json:"inLoop"`
}

// Table is a table known to the analysis service.
type Table struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// =============================================================================
// GRAPH TYPES
// =============================================================================

// Node is a function in the CRUD graph with its incoming call edges.
type Node struct {
	ID           string
	Name         string
	Position     model.Range
	NamePosition model.Range

	// Callers holds one entry per call site that invokes this function,
	// in the order the analysis service reported the calls.
	Callers []CallerEdge
}

// CallerEdge is a reverse call edge: Caller invokes the owning node at
// Position.
type CallerEdge struct {
	Caller   *Node
	Position model.Range
	InLoop   bool
}

// PlanFunction converts the node into a fix-plan function carrying the
// given query positions.
func (n *Node) PlanFunction(queryPositions ...model.Range) model.PlanFunction {
	positions := make([]model.Range, 0, len(queryPositions))
	positions = append(positions, queryPositions...)
	return model.PlanFunction{
		ID:             n.ID,
		Name:           n.Name,
		Position:       n.Position,
		NamePosition:   n.NamePosition,
		QueryPositions: positions,
	}
}

// Execution is one SQL statement executed at one site by one function.
type Execution struct {
	Type     model.QueryType
	Raw      string
	TableIDs []string
	Executor *Node
	Position model.Range
	InLoop   bool
}

// TableSummary lists every execution that touches a table.
type TableSummary struct {
	ID         string
	Name       string
	Executions []*Execution
}
