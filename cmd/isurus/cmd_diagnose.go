// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/isurus/pkg/ux"
	"github.com/AleutianAI/isurus/services/diagnosis/model"
	"github.com/AleutianAI/isurus/services/diagnosis/suggest"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	diagnoseJSON    bool // Output as JSON
	diagnoseSQLOnly bool // Skip CPU triage
	diagnoseSuggest bool // Generate a fix per plan
)

// diagnoseOutput is the --json document.
type diagnoseOutput struct {
	Report      *model.CPUReport     `json:"report"`
	Messages    []string             `json:"messages"`
	Diagnostics []ux.Diagnostic      `json:"diagnostics"`
	Suggestions []suggest.Suggestion `json:"suggestions,omitempty"`
}

// runDiagnose executes the diagnose command.
//
// # Description
//
// Starts the analysis service, sends it the workspace, runs CPU triage (or
// only the SQL diagnosis with --sql-only) and prints the report. With
// --suggest every plan also gets a generated fix; a failed suggestion is
// reported and the remaining plans still run.
//
// # Examples
//
//	isurus diagnose
//	isurus diagnose --sql-only --json
//	isurus diagnose --suggest
func runDiagnose(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.loadCorpus(ctx); err != nil {
		return err
	}

	report, err := diagnose(ctx, a, diagnoseSQLOnly)
	if err != nil {
		return err
	}
	a.recorder.Record(ctx, report)

	var suggestions []suggest.Suggestion
	if diagnoseSuggest {
		if a.memo == nil {
			return errors.New("--suggest needs a suggest backend; set suggest.backend in the config")
		}
		suggestions = suggestAll(ctx, a.memo, report)
	}

	out := cmd.OutOrStdout()
	if diagnoseJSON {
		return writeJSON(out, report, cfg.Thresholds.CPUUsageLimit, suggestions)
	}

	r := ux.NewRenderer(out, cfg.Thresholds.CPUUsageLimit)
	if err := r.RenderReport(report); err != nil {
		return err
	}
	for _, s := range suggestions {
		plan, _ := report.FindPlan(s.PlanID)
		fmt.Fprintln(out)
		if err := r.RenderSuggestion(plan, s); err != nil {
			return err
		}
	}
	return nil
}

func diagnose(ctx context.Context, a *app, sqlOnly bool) (*model.CPUReport, error) {
	if sqlOnly {
		return a.engine.DiagnoseSQL(ctx)
	}
	return a.engine.AnalyzeCPU(ctx)
}

// suggestAll generates a suggestion per plan in report order, skipping
// plans whose generation fails.
func suggestAll(ctx context.Context, memo *suggest.Memo, report *model.CPUReport) []suggest.Suggestion {
	var out []suggest.Suggestion
	for _, plan := range report.Plans() {
		s, err := memo.Suggest(ctx, plan)
		if err != nil {
			slog.Warn("Suggestion failed",
				slog.String("plan_id", plan.ID),
				slog.String("plan_type", string(plan.Type())),
				slog.String("error", err.Error()))
			continue
		}
		out = append(out, s)
	}
	return out
}

func writeJSON(w io.Writer, report *model.CPUReport, limit float64, suggestions []suggest.Suggestion) error {
	doc := diagnoseOutput{
		Report:      report,
		Messages:    ux.CPUMessages(report, limit),
		Diagnostics: ux.Diagnostics(report),
		Suggestions: suggestions,
	}
	if doc.Messages == nil {
		doc.Messages = []string{}
	}
	if doc.Diagnostics == nil {
		doc.Diagnostics = []ux.Diagnostic{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
