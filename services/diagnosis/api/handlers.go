// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api serves diagnoses and suggestions over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/AleutianAI/isurus/pkg/validation"
	"github.com/AleutianAI/isurus/services/diagnosis/history"
	"github.com/AleutianAI/isurus/services/diagnosis/model"
	"github.com/AleutianAI/isurus/services/diagnosis/planner"
	"github.com/AleutianAI/isurus/services/diagnosis/suggest"
)

// Diagnoser runs diagnoses. *planner.Engine implements it.
type Diagnoser interface {
	AnalyzeCPU(ctx context.Context) (*model.CPUReport, error)
	DiagnoseSQL(ctx context.Context) (*model.CPUReport, error)
}

// Suggester generates suggestions for plans of the latest report.
// *suggest.Memo implements it.
type Suggester interface {
	Suggest(ctx context.Context, plan model.FixPlan) (suggest.Suggestion, error)
	Forget()
}

// Handlers holds the HTTP handlers and the latest report.
//
// # Thread Safety
//
// Safe for concurrent use. Diagnoses run one at a time.
type Handlers struct {
	diag     Diagnoser
	suggest  Suggester
	recorder history.Recorder

	runMu sync.Mutex

	mu     sync.RWMutex
	latest *model.CPUReport
}

// NewHandlers creates handlers. suggester may be nil to disable
// suggestions; recorder may be nil to disable history.
func NewHandlers(diag Diagnoser, suggester Suggester, recorder history.Recorder) *Handlers {
	if recorder == nil {
		recorder = history.Nop{}
	}
	return &Handlers{diag: diag, suggest: suggester, recorder: recorder}
}

// Latest returns the most recent report, or nil.
func (h *Handlers) Latest() *model.CPUReport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// HandleDiagnose handles POST /v1/isurus/diagnose.
//
// Description:
//
//	Runs CPU triage (or, with sqlOnly, the SQL diagnosis alone), stores the
//	report as the latest and records it to history. Earlier suggestions
//	are discarded because plan IDs are per run.
//
// Response:
//
//	200 OK: model.CPUReport
//	400 Bad Request: malformed body
//	502 Bad Gateway: an upstream service is unavailable
//	500 Internal Server Error: any other failure
func (h *Handlers) HandleDiagnose(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleDiagnose")

	var req DiagnoseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		logger.Warn("Invalid diagnose request", "error", err)
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}

	report, err := h.run(c.Request.Context(), req.SQLOnly)
	if err != nil {
		if planner.IsUpstream(err) {
			logger.Warn("Diagnosis upstream unavailable", "error", err)
			c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: CodeUpstreamUnavailable})
			return
		}
		logger.Error("Diagnosis failed", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: CodeDiagnosisFailed})
		return
	}

	h.mu.Lock()
	h.latest = report
	h.mu.Unlock()
	if h.suggest != nil {
		h.suggest.Forget()
	}
	h.recorder.Record(c.Request.Context(), report)

	logger.Info("Diagnosis complete", "report_id", report.ID, "plans", len(report.Plans()))
	c.JSON(http.StatusOK, report)
}

// run serializes diagnosis runs. The lock is released even if the
// diagnoser panics.
func (h *Handlers) run(ctx context.Context, sqlOnly bool) (*model.CPUReport, error) {
	h.runMu.Lock()
	defer h.runMu.Unlock()

	if sqlOnly {
		return h.diag.DiagnoseSQL(ctx)
	}
	return h.diag.AnalyzeCPU(ctx)
}

// HandlePlans handles GET /v1/isurus/plans.
//
// Response:
//
//	200 OK: PlansResponse
//	404 Not Found: no diagnosis has run yet
func (h *Handlers) HandlePlans(c *gin.Context) {
	report := h.Latest()
	if report == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no diagnosis has run yet", Code: CodeNoReport})
		return
	}
	plans := report.Plans()
	if plans == nil {
		plans = []model.FixPlan{}
	}
	c.JSON(http.StatusOK, PlansResponse{Report: report, Plans: plans})
}

// HandleSuggestion handles POST /v1/isurus/plans/:id/suggestion.
//
// Response:
//
//	200 OK: suggest.Suggestion
//	400 Bad Request: malformed plan id
//	404 Not Found: no report, or no plan with that id in it
//	502 Bad Gateway: generation failed
//	503 Service Unavailable: suggestions are disabled
func (h *Handlers) HandleSuggestion(c *gin.Context) {
	logger := slog.With("request_id", getOrCreateRequestID(c), "handler", "HandleSuggestion")

	if h.suggest == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "suggestions are disabled", Code: CodeSuggestDisabled})
		return
	}
	report := h.Latest()
	if report == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "no diagnosis has run yet", Code: CodeNoReport})
		return
	}

	id := c.Param("id")
	if err := validation.ValidatePlanID(id); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: CodeInvalidRequest})
		return
	}
	plan, ok := report.FindPlan(id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "plan " + id + " not found in the latest report", Code: CodePlanNotFound})
		return
	}

	s, err := h.suggest.Suggest(c.Request.Context(), plan)
	if err != nil {
		logger.Warn("Suggestion failed", "plan_id", id, "error", err)
		c.JSON(http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: CodeSuggestFailed})
		return
	}
	c.JSON(http.StatusOK, s)
}

// HandleHealth handles GET /v1/isurus/health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{Status: "healthy", Version: ServiceVersion})
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
