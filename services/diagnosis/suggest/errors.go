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

import "errors"

var (
	// ErrNoTargetFunction indicates a code plan without a function to rewrite.
	ErrNoTargetFunction = errors.New("plan has no target function")

	// ErrUnsupportedPlan indicates a plan variant with no prompt.
	ErrUnsupportedPlan = errors.New("unsupported plan type")

	// ErrEmptyCompletion indicates the model returned no text.
	ErrEmptyCompletion = errors.New("model returned an empty completion")

	// ErrMissingAPIKey indicates a generator configured without credentials.
	ErrMissingAPIKey = errors.New("api key not set")

	// ErrInvalidRange indicates a source range outside its file.
	ErrInvalidRange = errors.New("source range outside file")
)
