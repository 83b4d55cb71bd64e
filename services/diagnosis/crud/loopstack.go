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

// CallStack is a caller chain, outermost first. The last element is the
// function that executes the query.
type CallStack []*Node

// Head returns the outermost function of the stack.
func (cs CallStack) Head() *Node { return cs[0] }

// FindLoopCallStacks returns every caller chain that explains repeated
// execution of a query.
//
// # Description
//
// When the execution itself sits inside a loop, the single-element stack
// [executor] comes first. The reverse call graph is then searched depth
// first from the executor. A caller edge whose call site is inside a loop
// ends its branch and yields [caller, ..., executor]; ancestors above that
// loop are not explored. A caller already on the current path is skipped,
// so cycles terminate. Stacks are returned in caller-edge insertion order
// without deduplication: each distinct path is its own finding.
//
// # Inputs
//
//   - executor: The function executing the query. Must not be nil.
//   - inLoop: Whether the execution site itself is inside a loop.
//
// # Outputs
//
//   - []CallStack: Every loop-enclosing chain; nil when there are none.
//
// # Thread Safety
//
// Pure; safe for concurrent use on a built Summary.
func FindLoopCallStacks(executor *Node, inLoop bool) []CallStack {
	var stacks []CallStack
	if inLoop {
		stacks = append(stacks, CallStack{executor})
	}
	onPath := make(map[*Node]bool)
	return append(stacks, searchCallers(executor, nil, onPath)...)
}

// searchCallers extends path with fn and walks fn's caller edges. onPath
// holds the members of the chain being built and is restored before return.
func searchCallers(fn *Node, path CallStack, onPath map[*Node]bool) []CallStack {
	chain := make(CallStack, 0, len(path)+1)
	chain = append(chain, fn)
	chain = append(chain, path...)

	onPath[fn] = true
	defer delete(onPath, fn)

	var found []CallStack
	for _, edge := range fn.Callers {
		if edge.InLoop {
			stack := make(CallStack, 0, len(chain)+1)
			stack = append(stack, edge.Caller)
			stack = append(stack, chain...)
			found = append(found, stack)
			continue
		}
		if onPath[edge.Caller] {
			continue
		}
		found = append(found, searchCallers(edge.Caller, chain, onPath)...)
	}
	return found
}
