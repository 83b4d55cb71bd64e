// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package planner

import (
	"github.com/AleutianAI/isurus/services/diagnosis/crud"
	"github.com/AleutianAI/isurus/services/diagnosis/explain"
	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

// classifier turns one live query into fix plans against a built graph.
// It is pure apart from id generation.
type classifier struct {
	summary      *crud.Summary
	cacheability crud.Cacheability
	cacheCount   float64
	newID        func() string
}

// classify returns every plan for target, in match order.
//
// For each matching execution: a cache plan when the query runs often and
// every table it touches is cacheable; one join (select) or bulk (other
// types) plan per loop call stack; an index plan when EXPLAIN found index
// issues; and an unknown plan carrying the large tables only when none of
// those applied. A query that matches nothing gets a single unknown plan
// without a target function.
func (c classifier) classify(target model.TargetQuery, idx explain.Result) []model.FixPlan {
	matches := c.summary.Match(target.Driver, target.Query)
	if len(matches) == 0 {
		return []model.FixPlan{c.plan(
			model.UnknownPlan{Tables: idx.Tables},
			target,
			model.InferQueryType(target.Query),
			nil,
			nil,
		)}
	}

	var plans []model.FixPlan
	for _, exec := range matches {
		plans = append(plans, c.classifyExecution(target, idx, exec)...)
	}
	return plans
}

func (c classifier) classifyExecution(target model.TargetQuery, idx explain.Result, exec *crud.Execution) []model.FixPlan {
	var plans []model.FixPlan
	local := func() *model.PlanFunction {
		fn := exec.Executor.PlanFunction(exec.Position)
		return &fn
	}

	if target.ExecutionCount > c.cacheCount && c.cacheability.Allows(exec) {
		plans = append(plans, c.plan(model.CachePlan{}, target, exec.Type, local(), nil))
	}

	for _, stack := range crud.FindLoopCallStacks(exec.Executor, exec.InLoop) {
		var kind model.Plan = model.BulkPlan{}
		if exec.Type == model.QuerySelect {
			kind = model.JoinPlan{}
		}
		head, related := attachStack(stack, exec.Position)
		plans = append(plans, c.plan(kind, target, exec.Type, head, related))
	}

	if len(idx.Issues) > 0 {
		plans = append(plans, c.plan(model.IndexPlan{Issues: idx.Issues}, target, exec.Type, local(), nil))
	}

	if len(plans) == 0 {
		plans = append(plans, c.plan(model.UnknownPlan{Tables: idx.Tables}, target, exec.Type, local(), nil))
	}
	return plans
}

// attachStack converts a call stack into the plan's target and related
// functions. Only the innermost function carries the query position.
func attachStack(stack crud.CallStack, position model.Range) (*model.PlanFunction, []model.PlanFunction) {
	fns := make([]model.PlanFunction, len(stack))
	last := len(stack) - 1
	for i, node := range stack {
		if i == last {
			fns[i] = node.PlanFunction(position)
		} else {
			fns[i] = node.PlanFunction()
		}
	}
	head := fns[0]
	return &head, fns[1:]
}

func (c classifier) plan(
	kind model.Plan,
	target model.TargetQuery,
	queryType model.QueryType,
	fn *model.PlanFunction,
	related []model.PlanFunction,
) model.FixPlan {
	if related == nil {
		related = []model.PlanFunction{}
	}
	return model.FixPlan{
		ID:               c.newID(),
		Plan:             kind,
		TargetQuery:      target,
		QueryType:        queryType,
		TargetFunction:   fn,
		RelatedFunctions: related,
	}
}
