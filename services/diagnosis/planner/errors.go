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
	"errors"
	"fmt"
)

var (
	// ErrUpstreamUnavailable is wrapped by every UpstreamError.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrMissingDependency indicates the engine was built without a
	// collaborator the requested operation needs.
	ErrMissingDependency = errors.New("missing engine dependency")
)

// Upstream services the engine depends on.
const (
	ServiceAnalysis = "analysis"
	ServiceMetrics  = "metrics"
)

// UpstreamError reports a failed upstream service. It is fatal for the run.
type UpstreamError struct {
	Service string
	Err     error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s service unavailable: %v", e.Service, e.Err)
}

// Unwrap exposes both the sentinel and the cause to errors.Is.
func (e *UpstreamError) Unwrap() []error {
	return []error{ErrUpstreamUnavailable, e.Err}
}
