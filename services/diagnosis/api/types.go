// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import "github.com/AleutianAI/isurus/services/diagnosis/model"

// ServiceVersion is reported by the health endpoint.
const ServiceVersion = "0.1.0"

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeDiagnosisFailed     = "DIAGNOSIS_FAILED"
	CodeNoReport            = "NO_REPORT"
	CodePlanNotFound        = "PLAN_NOT_FOUND"
	CodeSuggestDisabled     = "SUGGESTIONS_DISABLED"
	CodeSuggestFailed       = "SUGGESTION_FAILED"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is the error message.
	Error string `json:"error"`

	// Code is a stable machine-readable code.
	Code string `json:"code,omitempty"`
}

// HealthResponse is the body of GET /v1/isurus/health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// DiagnoseRequest is the optional body of POST /v1/isurus/diagnose.
type DiagnoseRequest struct {
	// SQLOnly skips CPU triage and diagnoses SQL directly.
	SQLOnly bool `json:"sqlOnly"`
}

// PlansResponse is the body of GET /v1/isurus/plans: the latest report
// with its plans flattened for clients that only want the list.
type PlansResponse struct {
	Report *model.CPUReport `json:"report"`
	Plans  []model.FixPlan  `json:"plans"`
}
