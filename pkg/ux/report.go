// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
	"github.com/AleutianAI/isurus/services/diagnosis/suggest"
)

// =============================================================================
// MESSAGES
// =============================================================================

// CPUMessages returns one line per hot process, applications first, then
// nginx, then unknown processes. limit is the usage ratio that made them
// hot.
func CPUMessages(report *model.CPUReport, limit float64) []string {
	if report == nil {
		return nil
	}
	pct := formatPercent(limit)
	var out []string
	for _, p := range report.AppPlans {
		out = append(out, fmt.Sprintf("Application %s has CPU usage over %s: %s", p.Name, pct, formatUsage(p.Usage)))
	}
	for _, p := range report.NginxPlans {
		out = append(out, fmt.Sprintf("Nginx has CPU usage over %s: %s", pct, formatUsage(p.Usage)))
	}
	for _, p := range report.UnknownProcesses {
		out = append(out, fmt.Sprintf("Unknown process %s has CPU usage over %s: %s", p.Name, pct, formatUsage(p.Usage)))
	}
	return out
}

// Diagnostic is one warning attached to a source range.
type Diagnostic struct {
	PlanID  string      `json:"planId"`
	Range   model.Range `json:"range"`
	Message string      `json:"message"`
}

// Diagnostics expands every plan of report into one warning per diagnostic
// range, in plan order.
func Diagnostics(report *model.CPUReport) []Diagnostic {
	var out []Diagnostic
	for _, p := range report.Plans() {
		msg := p.Message()
		for _, r := range p.DiagnosticRanges() {
			out = append(out, Diagnostic{PlanID: p.ID, Range: r, Message: msg})
		}
	}
	return out
}

// SuggestionMessage renders a generated suggestion. Index plans show the
// DDL; every other plan shows the rewritten target function.
func SuggestionMessage(plan model.FixPlan, s suggest.Suggestion) string {
	if s.CreateIndexQuery != "" {
		return fmt.Sprintf("SQL %s is too slow. Please add index with below SQL.\n\n%s", plan.TargetQuery.Query, s.CreateIndexQuery)
	}
	where := "target function"
	if plan.TargetFunction != nil {
		where = fmt.Sprintf("%s (%s)", plan.TargetFunction.Name, plan.TargetFunction.Position)
	}
	return fmt.Sprintf("fix by isurus for %s:\n\n%s", where, s.TargetFunction)
}

func formatPercent(limit float64) string {
	return strconv.FormatFloat(math.Round(limit*10000)/100, 'f', -1, 64) + "%"
}

func formatUsage(u float64) string {
	return strconv.FormatFloat(u, 'f', -1, 64)
}

// =============================================================================
// RENDERER
// =============================================================================

// Renderer writes reports to a terminal, styled when the destination is a
// TTY and as plain text otherwise.
type Renderer struct {
	w     io.Writer
	rich  bool
	limit float64
}

// NewRenderer creates a renderer for w. Styling is enabled when w is a
// terminal. limit is the CPU usage limit quoted in process messages.
func NewRenderer(w io.Writer, limit float64) *Renderer {
	return &Renderer{w: w, rich: IsTerminal(w), limit: limit}
}

// NewPlainRenderer creates a renderer that never styles.
func NewPlainRenderer(w io.Writer, limit float64) *Renderer {
	return &Renderer{w: w, limit: limit}
}

func (r *Renderer) style(s lipgloss.Style, text string) string {
	if !r.rich {
		return text
	}
	return s.Render(text)
}

// RenderReport writes the CPU triage, every SQL plan with its locations and
// any notes.
func (r *Renderer) RenderReport(report *model.CPUReport) error {
	var b strings.Builder

	b.WriteString(r.style(Styles.Title, "isurus diagnosis "+report.ID))
	b.WriteString("\n")
	if report.Window.Valid() {
		fmt.Fprintf(&b, "%s\n", r.style(Styles.Muted, fmt.Sprintf("window %s .. %s (score %d)",
			report.Window.Start.Format("15:04:05"), report.Window.End.Format("15:04:05"), report.Window.Score)))
	}

	cpu := CPUMessages(report, r.limit)
	if len(cpu) == 0 {
		fmt.Fprintf(&b, "%s no process over %s\n", r.style(Styles.Success, string(IconSuccess)), formatPercent(r.limit))
	}
	for _, line := range cpu {
		fmt.Fprintf(&b, "%s %s\n", r.style(Styles.Warning, string(IconWarning)), line)
	}

	plans := report.Plans()
	if report.SQL != nil && len(plans) == 0 {
		fmt.Fprintf(&b, "%s no slow query needs a fix\n", r.style(Styles.Success, string(IconSuccess)))
	}
	for _, p := range plans {
		b.WriteString("\n")
		b.WriteString(r.renderPlan(p))
		b.WriteString("\n")
	}

	if report.SQL != nil && len(report.SQL.Notes) > 0 {
		b.WriteString("\n")
		for _, n := range report.SQL.Notes {
			fmt.Fprintf(&b, "%s\n", r.style(Styles.Muted, "note: "+n))
		}
	}

	_, err := io.WriteString(r.w, b.String())
	return err
}

func (r *Renderer) renderPlan(p model.FixPlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", r.style(Styles.Highlight, "["+string(p.Type())+"]"), r.style(Styles.Muted, p.ID))
	b.WriteString(p.Message())

	q := p.TargetQuery
	fmt.Fprintf(&b, "\n%s", r.style(Styles.Muted, fmt.Sprintf("duration %.3fs  latency %.4fs  executions %.0f", q.Duration, q.Latency, q.ExecutionCount)))

	for _, rg := range p.DiagnosticRanges() {
		fmt.Fprintf(&b, "\n  %s %s", IconBullet, rg)
	}
	if p.TargetFunction == nil {
		fmt.Fprintf(&b, "\n  %s %s", IconBullet, r.style(Styles.Muted, "query not found in source"))
	}

	if !r.rich {
		return b.String()
	}
	return Styles.PlanBox.Render(b.String())
}

// RenderSuggestion writes a suggestion for plan.
func (r *Renderer) RenderSuggestion(plan model.FixPlan, s suggest.Suggestion) error {
	head, body, found := strings.Cut(SuggestionMessage(plan, s), "\n\n")
	out := r.style(Styles.Subtitle, head)
	if found {
		out += "\n\n" + r.style(Styles.Code, body)
	}
	_, err := fmt.Fprintln(r.w, out)
	return err
}

// RenderError writes err as a failure line.
func (r *Renderer) RenderError(err error) {
	fmt.Fprintf(r.w, "%s %s\n", r.style(Styles.Error, string(IconError)), err)
}
