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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(stacks []CallStack) [][]string {
	out := make([][]string, 0, len(stacks))
	for _, s := range stacks {
		row := make([]string, 0, len(s))
		for _, n := range s {
			row = append(row, n.ID)
		}
		out = append(out, row)
	}
	return out
}

func call(to string, inLoop bool) Call {
	return Call{FunctionID: to, InLoop: inLoop}
}

func TestFindLoopCallStacks_ExecutionInLoop(t *testing.T) {
	s := Build(Response{Functions: []Function{{ID: "f"}}})
	f, _ := s.Node("f")

	stacks := FindLoopCallStacks(f, true)
	assert.Equal(t, [][]string{{"f"}}, ids(stacks))

	assert.Empty(t, FindLoopCallStacks(f, false))
}

func TestFindLoopCallStacks_StopsAtFirstLoop(t *testing.T) {
	// outer --(loop)--> mid --(loop)--> leaf
	s := Build(Response{Functions: []Function{
		{ID: "outer", Calls: []Call{call("mid", true)}},
		{ID: "mid", Calls: []Call{call("leaf", true)}},
		{ID: "leaf"},
	}})
	leaf, _ := s.Node("leaf")

	stacks := FindLoopCallStacks(leaf, false)
	assert.Equal(t, [][]string{{"mid", "leaf"}}, ids(stacks), "search does not continue past the first loop")
}

func TestFindLoopCallStacks_OneStackPerChain(t *testing.T) {
	// a --(loop)--> helper, b --> c --(loop)--> helper... via intermediate
	s := Build(Response{Functions: []Function{
		{ID: "a", Calls: []Call{call("helper", true)}},
		{ID: "b", Calls: []Call{call("c", true)}},
		{ID: "c", Calls: []Call{call("helper", false)}},
		{ID: "d", Calls: []Call{call("c", false)}},
		{ID: "helper"},
	}})
	helper, _ := s.Node("helper")

	stacks := FindLoopCallStacks(helper, true)
	assert.Equal(t, [][]string{
		{"helper"},
		{"a", "helper"},
		{"b", "c", "helper"},
	}, ids(stacks))
	assert.Equal(t, "b", stacks[2].Head().ID)
}

func TestFindLoopCallStacks_CycleSafety(t *testing.T) {
	// A calls B calls A, neither in a loop.
	s := Build(Response{Functions: []Function{
		{ID: "A", Calls: []Call{call("B", false)}},
		{ID: "B", Calls: []Call{call("A", false)}},
	}})
	a, _ := s.Node("A")

	stacks := FindLoopCallStacks(a, false)
	assert.Empty(t, stacks)
}

func TestFindLoopCallStacks_SelfRecursion(t *testing.T) {
	s := Build(Response{Functions: []Function{
		{ID: "r", Calls: []Call{call("r", false)}},
	}})
	r, _ := s.Node("r")
	assert.Empty(t, FindLoopCallStacks(r, false))
}

func TestFindLoopCallStacks_CycleWithLoopElsewhere(t *testing.T) {
	// top --(loop)--> A, A <-> B, B executes.
	s := Build(Response{Functions: []Function{
		{ID: "top", Calls: []Call{call("A", true)}},
		{ID: "A", Calls: []Call{call("B", false)}},
		{ID: "B", Calls: []Call{call("A", false)}},
	}})
	b, _ := s.Node("B")

	stacks := FindLoopCallStacks(b, false)
	require.Len(t, stacks, 1)
	assert.Equal(t, []string{"top", "A", "B"}, ids(stacks)[0])
}

func TestFindLoopCallStacks_DiamondYieldsEveryPath(t *testing.T) {
	//        ┌──> l ──┐
	// root ──┤        ├──> exec    (root calls l and r inside one loop each)
	//        └──> r ──┘
	s := Build(Response{Functions: []Function{
		{ID: "root", Calls: []Call{call("l", true), call("r", true)}},
		{ID: "l", Calls: []Call{call("exec", false)}},
		{ID: "r", Calls: []Call{call("exec", false)}},
		{ID: "exec"},
	}})
	exec, _ := s.Node("exec")

	stacks := FindLoopCallStacks(exec, false)
	assert.Equal(t, [][]string{
		{"root", "l", "exec"},
		{"root", "r", "exec"},
	}, ids(stacks))
}

func TestNode_PlanFunction(t *testing.T) {
	n := &Node{ID: "f", Name: "f", Position: at("f.go", 1)}

	pf := n.PlanFunction()
	assert.NotNil(t, pf.QueryPositions)
	assert.Empty(t, pf.QueryPositions)

	pf = n.PlanFunction(at("f.go", 3))
	assert.Equal(t, "f", pf.Name)
	require.Len(t, pf.QueryPositions, 1)
}
