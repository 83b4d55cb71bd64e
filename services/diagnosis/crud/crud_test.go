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

	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

func at(file string, line int) model.Range {
	return model.Range{File: file, Start: model.Position{Line: line, Column: 1}, End: model.Position{Line: line, Column: 10}}
}

// createTestResponse models:
//
//	handler --(loop)--> loadUser --> queryUser   [select users]
//	batch   ----------> loadUser
//	cleanup                                      [delete sessions, in loop]
//	report                                       [select users join orders]
func createTestResponse() Response {
	return Response{
		Functions: []Function{
			{
				ID: "handler", Name: "getHandler", Position: at("h.go", 1), NamePosition: at("h.go", 1),
				Calls: []Call{{FunctionID: "loadUser", Position: at("h.go", 5), InLoop: true}},
			},
			{
				ID: "batch", Name: "runBatch", Position: at("b.go", 1), NamePosition: at("b.go", 1),
				Calls: []Call{
					{FunctionID: "loadUser", Position: at("b.go", 3)},
					{FunctionID: "missing", Position: at("b.go", 4)},
				},
			},
			{
				ID: "loadUser", Name: "loadUser", Position: at("u.go", 1), NamePosition: at("u.go", 1),
				Calls: []Call{{FunctionID: "queryUser", Position: at("u.go", 2)}},
			},
			{
				ID: "queryUser", Name: "queryUser", Position: at("q.go", 1), NamePosition: at("q.go", 1),
				Queries: []Query{{TableID: "t_users", Position: at("q.go", 3), Type: "select", Raw: "SELECT * FROM users WHERE id = ?"}},
			},
			{
				ID: "cleanup", Name: "cleanup", Position: at("c.go", 1), NamePosition: at("c.go", 1),
				Queries: []Query{{TableID: "t_sessions", Position: at("c.go", 4), Type: "delete", Raw: "DELETE FROM sessions WHERE id = ?", InLoop: true}},
			},
			{
				ID: "report", Name: "report", Position: at("r.go", 1), NamePosition: at("r.go", 1),
				Queries: []Query{
					{TableID: "t_users", Position: at("r.go", 2), Type: "select", Raw: "SELECT * FROM users JOIN orders"},
					{TableID: "t_orders", Position: at("r.go", 2), Type: "select", Raw: "SELECT * FROM users JOIN orders"},
					{TableID: "t_ghost", Position: at("r.go", 8), Type: "insert", Raw: "INSERT INTO ghost VALUES (?)"},
				},
			},
		},
		Tables: []Table{
			{ID: "t_users", Name: "users"},
			{ID: "t_sessions", Name: "sessions"},
			{ID: "t_orders", Name: "orders"},
		},
	}
}

func TestBuild_ReverseEdges(t *testing.T) {
	s := Build(createTestResponse())

	loadUser, ok := s.Node("loadUser")
	require.True(t, ok)
	require.Len(t, loadUser.Callers, 2, "loadUser is called from handler and batch")
	assert.Equal(t, "handler", loadUser.Callers[0].Caller.ID)
	assert.True(t, loadUser.Callers[0].InLoop)
	assert.Equal(t, "batch", loadUser.Callers[1].Caller.ID)
	assert.False(t, loadUser.Callers[1].InLoop)

	handler, _ := s.Node("handler")
	assert.Empty(t, handler.Callers)

	assert.Equal(t, 1, s.DroppedCalls, "call to missing function is dropped")
	assert.Len(t, s.Nodes(), 6)
}

func TestBuild_DuplicateCallsAreDistinct(t *testing.T) {
	s := Build(Response{Functions: []Function{
		{ID: "a", Calls: []Call{{FunctionID: "b", Position: at("a.go", 1)}, {FunctionID: "b", Position: at("a.go", 2), InLoop: true}}},
		{ID: "b"},
	}})
	b, _ := s.Node("b")
	require.Len(t, b.Callers, 2)
	assert.NotEqual(t, b.Callers[0].Position, b.Callers[1].Position)
}

func TestBuild_DuplicateFunctionIDKeepsQueries(t *testing.T) {
	s := Build(Response{
		Functions: []Function{
			{ID: "f", Name: "get", Queries: []Query{{TableID: "t", Position: at("f.go", 2), Type: "select", Raw: "select a from t"}}},
			{ID: "f", Name: "purge", Queries: []Query{{TableID: "t", Position: at("g.go", 4), Type: "delete", Raw: "delete from t"}}},
		},
		Tables: []Table{{ID: "t", Name: "t"}},
	})

	require.Len(t, s.Nodes(), 1)
	require.Len(t, s.Executions(), 2)
	f, _ := s.Node("f")
	for _, e := range s.Executions() {
		assert.Same(t, f, e.Executor)
	}
	assert.False(t, s.Cacheability()["t"], "delete from the duplicate makes t non-cacheable")
	assert.Len(t, s.Match("mysql", "delete from t"), 1)
}

func TestBuild_Executions(t *testing.T) {
	s := Build(createTestResponse())

	t.Run("multi-table statement is one execution", func(t *testing.T) {
		var join *Execution
		for _, e := range s.Executions() {
			if e.Raw == "SELECT * FROM users JOIN orders" {
				require.Nil(t, join, "join statement should appear once")
				join = e
			}
		}
		require.NotNil(t, join)
		assert.Equal(t, []string{"t_users", "t_orders"}, join.TableIDs)
		assert.Equal(t, "report", join.Executor.ID)
	})

	t.Run("tables list their executions", func(t *testing.T) {
		users, ok := s.Table("t_users")
		require.True(t, ok)
		assert.Equal(t, "users", users.Name)
		assert.Len(t, users.Executions, 2)

		orders, ok := s.Table("t_orders")
		require.True(t, ok)
		assert.Len(t, orders.Executions, 1)
	})

	t.Run("unresolved table is kept as unknown", func(t *testing.T) {
		ghost, ok := s.Table("t_ghost")
		require.True(t, ok)
		assert.Equal(t, UnknownTableName, ghost.Name)
		require.Len(t, ghost.Executions, 1)
		assert.Equal(t, at("r.go", 8), ghost.Executions[0].Position)
	})

	t.Run("query types are parsed", func(t *testing.T) {
		sessions, _ := s.Table("t_sessions")
		assert.Equal(t, model.QueryDelete, sessions.Executions[0].Type)
		assert.True(t, sessions.Executions[0].InLoop)
	})

	assert.Len(t, s.Executions(), 4)
	assert.Len(t, s.Tables(), 4)
}

func TestSummary_Match(t *testing.T) {
	s := Build(createTestResponse())

	matches := s.Match("mysql", "select * from users where id = ?")
	require.Len(t, matches, 1)
	assert.Equal(t, "queryUser", matches[0].Executor.ID)

	assert.Empty(t, s.Match("mysql", "select * from nothing"))
}

func TestSummary_Match_MultipleSites(t *testing.T) {
	s := Build(Response{Functions: []Function{
		{ID: "a", Queries: []Query{{TableID: "t", Position: at("a.go", 1), Type: "insert", Raw: "INSERT INTO t VALUES (?, ?)"}}},
		{ID: "b", Queries: []Query{{TableID: "t", Position: at("b.go", 1), Type: "insert", Raw: "INSERT INTO t VALUES (?, ?), (?, ?)"}}},
	}})

	matches := s.Match("mysql", "insert into t values ..., (..., ?)")
	require.Len(t, matches, 2)
	assert.Equal(t, "a", matches[0].Executor.ID)
	assert.Equal(t, "b", matches[1].Executor.ID)
}

func TestCacheability(t *testing.T) {
	s := Build(createTestResponse())
	c := s.Cacheability()

	assert.True(t, c["t_users"])
	assert.True(t, c["t_orders"])
	assert.True(t, c["t_ghost"])
	assert.False(t, c["t_sessions"])

	users, _ := s.Table("t_users")
	assert.True(t, c.Allows(users.Executions[1]), "join touches only cacheable tables")

	assert.False(t, c.Allows(&Execution{TableIDs: []string{"t_users", "t_absent"}}))
}

func TestCacheability_Monotonic(t *testing.T) {
	resp := Response{
		Functions: []Function{{ID: "f", Queries: []Query{
			{TableID: "t", Position: at("f.go", 1), Type: "select", Raw: "select a from t"},
			{TableID: "t", Position: at("f.go", 2), Type: "insert", Raw: "insert into t values (?)"},
		}}},
		Tables: []Table{{ID: "t", Name: "t"}},
	}
	require.True(t, Build(resp).Cacheability()["t"])

	for _, destructive := range []string{"update", "delete", "unknown"} {
		t.Run(destructive, func(t *testing.T) {
			mutated := resp
			fn := resp.Functions[0]
			fn.Queries = append(append([]Query{}, fn.Queries...),
				Query{TableID: "t", Position: at("f.go", 3), Type: destructive, Raw: destructive + " t"})
			mutated.Functions = []Function{fn}

			assert.False(t, Build(mutated).Cacheability()["t"])
		})
	}
}
