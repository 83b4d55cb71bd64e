// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import "errors"

var (
	// ErrUnexpectedResultType indicates a range query returned something
	// other than a matrix.
	ErrUnexpectedResultType = errors.New("unexpected prometheus result type")

	// ErrQueryFailed wraps transport and evaluation failures.
	ErrQueryFailed = errors.New("prometheus query failed")

	// ErrNoWindowSource indicates the client was built without a window source.
	ErrNoWindowSource = errors.New("no benchmark window source")
)
