// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package crud builds the CRUD graph: functions, reverse call edges and the
// SQL executions each function issues, grouped by table.
//
// The raw records come from the analysis service (see the analysis
// package). A Summary is built once per diagnosis run and never mutated
// afterwards.
//
// # Architecture
//
//	┌─────────────────────────────────────────────────────────────────────────┐
//	│                        CRUD Graph Construction                          │
//	├─────────────────────────────────────────────────────────────────────────┤
//	│                                                                         │
//	│  ┌─────────────┐    ┌─────────────┐    ┌─────────────┐                  │
//	│  │  Response   │───▶│  Function   │───▶│  Reverse    │                  │
//	│  │ (functions, │    │   Index     │    │  Call Edges │                  │
//	│  │   tables)   │    │  (pass 1)   │    │  (pass 2)   │                  │
//	│  └─────────────┘    └─────────────┘    └─────────────┘                  │
//	│                                               │                         │
//	│                                               ▼                         │
//	│  ┌─────────────┐    ┌─────────────┐    ┌─────────────┐                  │
//	│  │ Per-table   │◀───│ Merge table │◀───│ Group by    │                  │
//	│  │ executions  │    │ ids         │    │ raw + site  │                  │
//	│  └─────────────┘    └─────────────┘    └─────────────┘                  │
//	│                                                                         │
//	└─────────────────────────────────────────────────────────────────────────┘
//
// On top of a Summary the package answers three questions:
//
//   - Cacheability: is every access to a table a select or an insert?
//   - FindLoopCallStacks: which caller chains reach an execution through a
//     call site inside a loop?
//   - Match: which executions are the same statement as a live query?
//
// # Thread Safety
//
// A built Summary is read-only and safe for concurrent use.
package crud
