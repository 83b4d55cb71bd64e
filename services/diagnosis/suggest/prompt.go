// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package suggest

import (
	"github.com/tmc/langchaingo/prompts"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

// =============================================================================
// TEMPLATES
// =============================================================================

// Templates use Go text/template syntax. Every value is pre-rendered text.

var indexPrompt = prompts.NewPromptTemplate(
	"Create appropriate indexes for the target SQL below, issued by a Go application.\n"+
		"EXPLAIN shows that the query reads many rows it then discards.\n"+
		"Output only the SQL that creates the indexes, in a single code block.\n\n"+
		"# target SQL\n```sql\n{{.query}}\n```\n\n"+
		"# target SQL issues\n{{.issues}}\n\n"+
		"# table schema\n```sql\n{{.schema}}\n```\n\n"+
		"# SQL for creating indexes",
	[]string{"query", "issues", "schema"},
)

var loopPrompt = prompts.NewPromptTemplate(
	"Modify the target Go function below to reduce how many times the target SQL is executed.\n"+
		"{{.direction}}\n"+
		"Output only the source code of the target function and any new function in a single code block.\n\n"+
		"# target SQL\n```sql\n{{.query}}\n```\n\n"+
		"{{if .exec}}# SQL execution function\n```go\n{{.exec}}\n```\n\n"+
		"# related functions\n```go\n{{.related}}\n```\n\n{{end}}"+
		"# target function\n```go\n{{.target}}\n```\n\n"+
		"# Fixed `{{.name}}`",
	[]string{"direction", "query", "exec", "related", "target", "name"},
)

var cachePrompt = prompts.NewPromptTemplate(
	"Modify the Go function below to cache the result of the target SQL in memory.\n"+
		"The cache must be shared across requests and refreshed when the underlying rows change.\n"+
		"Only inserts and reads touch these tables, so cached rows never need rewriting.\n"+
		"Output only the source code of the target function in a single code block.\n\n"+
		"# target SQL\n```sql\n{{.query}}\n```\n\n"+
		"# target function\n```go\n{{.target}}\n```\n\n"+
		"# Fixed `{{.name}}`",
	[]string{"query", "target", "name"},
)

var unknownPrompt = prompts.NewPromptTemplate(
	"Fix the performance problem of the target SQL in the Go function below.\n"+
		"The SQL takes a long total time, yet each execution is short and it runs few times per request, so the cause is unclear.\n"+
		"Consider whether the SQL needs to run at all.\n"+
		"Output only the source code of the target function in a single code block.\n\n"+
		"# target SQL\n```sql\n{{.query}}\n```\n\n"+
		"{{if .schema}}# table schema\n```sql\n{{.schema}}\n```\n\n{{end}}"+
		"# target function\n```go\n{{.target}}\n```\n\n"+
		"# Fixed `{{.name}}`",
	[]string{"query", "schema", "target", "name"},
)

// =============================================================================
// DIRECTIONS
// =============================================================================

const joinDirection = "The target SQL runs inside a for statement. " +
	"Use a join, or a single query that fetches every row at once."

const chainDirection = "Functions called on the way from the target function to the SQL " +
	"execution function are listed as related functions."

// bulkDirection explains how to batch a mutation of the given kind.
func bulkDirection(q model.QueryType) string {
	switch q {
	case model.QueryInsert:
		return "The target SQL is an INSERT executed inside a for statement. Use a bulk insert."
	case model.QueryUpdate:
		return "The target SQL is an UPDATE executed inside a for statement. Execute the updates as a batch."
	case model.QueryDelete:
		return "The target SQL is a DELETE executed inside a for statement. Delete the rows as a batch."
	default:
		return "The target SQL is executed inside a for statement. Execute it as a batch."
	}
}
