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

// Cacheability is the per-table cache verdict for one run.
type Cacheability map[string]bool

// Cacheability computes, for every table, whether all of its executions are
// selects or inserts. A single update, delete or unknown statement anywhere
// makes the table non-cacheable for the run.
func (s *Summary) Cacheability() Cacheability {
	out := make(Cacheability, len(s.tableOrder))
	for _, t := range s.tableOrder {
		ok := true
		for _, e := range t.Executions {
			if !e.Type.IsReadOrAppend() {
				ok = false
				break
			}
		}
		out[t.ID] = ok
	}
	return out
}

// Allows reports whether every table the execution touches is cacheable.
// Tables missing from the verdict map count as non-cacheable.
func (c Cacheability) Allows(e *Execution) bool {
	for _, id := range e.TableIDs {
		if !c[id] {
			return false
		}
	}
	return true
}
