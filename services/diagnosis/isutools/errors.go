// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package isutools

import "errors"

var (
	// ErrInvalidWindow indicates the latest benchmark window is missing or
	// malformed. It is fatal for a diagnosis run.
	ErrInvalidWindow = errors.New("invalid benchmark window")

	// ErrUnexpectedStatus indicates a non-200 response.
	ErrUnexpectedStatus = errors.New("unexpected status from isutools")

	// ErrQueryNotFound indicates no collected query matches the requested
	// driver and text.
	ErrQueryNotFound = errors.New("query not found")
)
