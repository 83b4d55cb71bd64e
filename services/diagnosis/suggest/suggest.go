// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package suggest asks a language model for a concrete fix for one plan.
//
// The suggestion layer only reads plans; nothing it returns feeds back into
// classification.
package suggest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

// DefaultFunctionBudget bounds each function source placed in a prompt.
const DefaultFunctionBudget = 8000

// Suggestion is a generated fix for one plan.
type Suggestion struct {
	PlanID   string         `json:"planId"`
	PlanType model.PlanType `json:"planType"`

	// CreateIndexQuery is set for index plans.
	CreateIndexQuery string `json:"createIndexQuery,omitempty"`

	// TargetFunction is the rewritten function for every other plan.
	TargetFunction string `json:"targetFunction,omitempty"`
}

// Suggester builds prompts for plans and extracts the code from replies.
//
// # Thread Safety
//
// Safe for concurrent use if the Generator and SourceReader are.
type Suggester struct {
	gen    Generator
	source SourceReader
	budget int
}

// NewSuggester creates a Suggester. budget bounds each function source in
// bytes; zero takes DefaultFunctionBudget and a negative value disables it.
func NewSuggester(gen Generator, source SourceReader, budget int) *Suggester {
	if budget == 0 {
		budget = DefaultFunctionBudget
	}
	return &Suggester{gen: gen, source: source, budget: budget}
}

// Suggest generates a fix for plan.
//
// # Description
//
// Builds the prompt for the plan's type, calls the generator and extracts
// the first fenced code block of the reply (the whole reply when it has
// none). Index plans yield CreateIndexQuery; join, bulk, cache and unknown
// plans yield the rewritten TargetFunction.
//
// # Outputs
//
//   - Suggestion: The extracted fix.
//   - error: ErrNoTargetFunction for a code plan with no function,
//     source read errors, or generator errors.
func (s *Suggester) Suggest(ctx context.Context, plan model.FixPlan) (Suggestion, error) {
	if ctx == nil {
		return Suggestion{}, fmt.Errorf("ctx must not be nil")
	}

	ctx, span := tracer.Start(ctx, "suggest.Suggest")
	defer span.End()
	span.SetAttributes(
		attribute.String("plan.id", plan.ID),
		attribute.String("plan.type", string(plan.Type())),
		attribute.String("backend", s.gen.Name()),
	)

	start := time.Now()
	out, err := s.suggest(ctx, plan)
	recordSuggest(ctx, s.gen.Name(), string(plan.Type()), time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Warn("Suggestion failed",
			slog.String("plan_id", plan.ID),
			slog.String("plan_type", string(plan.Type())),
			slog.String("error", err.Error()),
		)
		return Suggestion{}, err
	}
	return out, nil
}

func (s *Suggester) suggest(ctx context.Context, plan model.FixPlan) (Suggestion, error) {
	prompt, lang, err := s.Prompt(ctx, plan)
	if err != nil {
		return Suggestion{}, err
	}

	reply, err := s.gen.Generate(ctx, prompt)
	if err != nil {
		return Suggestion{}, err
	}
	code := ExtractCodeBlock(reply, lang)
	if code == "" {
		return Suggestion{}, ErrEmptyCompletion
	}

	out := Suggestion{PlanID: plan.ID, PlanType: plan.Type()}
	if lang == "sql" {
		out.CreateIndexQuery = code
	} else {
		out.TargetFunction = code
	}
	return out, nil
}

// Prompt renders the prompt for plan and returns it with the language of
// the expected code block.
func (s *Suggester) Prompt(ctx context.Context, plan model.FixPlan) (string, string, error) {
	switch p := plan.Plan.(type) {
	case model.IndexPlan:
		text, err := indexPrompt.Format(map[string]any{
			"query":  plan.TargetQuery.Query,
			"issues": describeIssues(p.Issues),
			"schema": joinSchemas(issueSchemas(p.Issues)),
		})
		return text, "sql", err

	case model.JoinPlan, model.BulkPlan:
		values, err := s.loopValues(ctx, plan)
		if err != nil {
			return "", "", err
		}
		text, err := loopPrompt.Format(values)
		return text, "go", err

	case model.CachePlan:
		target, err := s.targetText(ctx, plan)
		if err != nil {
			return "", "", err
		}
		text, err := cachePrompt.Format(map[string]any{
			"query":  plan.TargetQuery.Query,
			"target": target,
			"name":   plan.TargetFunction.Name,
		})
		return text, "go", err

	case model.UnknownPlan:
		target, err := s.targetText(ctx, plan)
		if err != nil {
			return "", "", err
		}
		text, err := unknownPrompt.Format(map[string]any{
			"query":  plan.TargetQuery.Query,
			"schema": joinSchemas(tableSchemas(p.Tables)),
			"target": target,
			"name":   plan.TargetFunction.Name,
		})
		return text, "go", err

	default:
		return "", "", fmt.Errorf("%w: %s", ErrUnsupportedPlan, plan.Type())
	}
}

// loopValues fills the join/bulk template. A stack longer than one function
// adds the SQL execution function (the innermost) and the whole chain.
func (s *Suggester) loopValues(ctx context.Context, plan model.FixPlan) (map[string]any, error) {
	target, err := s.targetText(ctx, plan)
	if err != nil {
		return nil, err
	}

	direction := joinDirection
	if plan.Type() == model.PlanBulk {
		direction = bulkDirection(plan.QueryType)
	}
	values := map[string]any{
		"query":   plan.TargetQuery.Query,
		"target":  target,
		"name":    plan.TargetFunction.Name,
		"exec":    "",
		"related": "",
	}

	if n := len(plan.RelatedFunctions); n > 0 {
		related := make([]string, 0, n)
		for _, fn := range plan.RelatedFunctions {
			text, err := s.read(ctx, fn.Position)
			if err != nil {
				return nil, err
			}
			related = append(related, text)
		}
		values["exec"] = related[n-1]
		values["related"] = strings.Join(related, "\n\n")
		direction += "\n" + chainDirection
	}
	values["direction"] = direction
	return values, nil
}

func (s *Suggester) targetText(ctx context.Context, plan model.FixPlan) (string, error) {
	if plan.TargetFunction == nil {
		return "", fmt.Errorf("%w: plan %s", ErrNoTargetFunction, plan.ID)
	}
	return s.read(ctx, plan.TargetFunction.Position)
}

func (s *Suggester) read(ctx context.Context, r model.Range) (string, error) {
	text, err := s.source.ReadRange(ctx, r)
	if err != nil {
		return "", err
	}
	return clip(text, s.budget), nil
}

func describeIssues(issues []model.IndexIssue) string {
	lines := make([]string, 0, len(issues))
	for _, is := range issues {
		key := is.Key
		if key == "" {
			key = "no"
		}
		lines = append(lines, fmt.Sprintf(
			"The `%s` table uses the `%s` index for reading, but reads an average of %d rows, of which only %g%% remain after filtering.",
			is.Table.Name, key, is.Rows, is.Filtered,
		))
	}
	return strings.Join(lines, "\n")
}

func issueSchemas(issues []model.IndexIssue) []string {
	out := make([]string, 0, len(issues))
	for _, is := range issues {
		out = append(out, is.Table.CreateQuery)
	}
	return out
}

func tableSchemas(tables []model.LargeTable) []string {
	out := make([]string, 0, len(tables))
	for _, t := range tables {
		out = append(out, t.CreateQuery)
	}
	return out
}

// joinSchemas joins the non-empty DDL statements, each table once.
func joinSchemas(ddl []string) string {
	seen := make(map[string]bool, len(ddl))
	var out []string
	for _, d := range ddl {
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return strings.Join(out, "\n\n")
}

// ExtractCodeBlock returns the body of the first fenced code block in text.
// A fence tagged with lang is preferred over an untagged one. Text without
// a fence is returned trimmed.
func ExtractCodeBlock(text, lang string) string {
	text = strings.TrimSpace(text)
	var fallback string
	found := false

	rest := text
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			break
		}
		rest = rest[open+3:]
		tag, body, ok := strings.Cut(rest, "\n")
		if !ok {
			break
		}
		end := strings.Index(body, "```")
		if end < 0 {
			break
		}
		code := strings.TrimRight(body[:end], " \t\n")
		rest = body[end+3:]

		if strings.EqualFold(strings.TrimSpace(tag), lang) {
			return code
		}
		if !found {
			fallback, found = code, true
		}
	}
	if found {
		return fallback
	}
	return text
}

// =============================================================================
// MEMO
// =============================================================================

// SuggestFunc produces a suggestion for a plan.
type SuggestFunc func(ctx context.Context, plan model.FixPlan) (Suggestion, error)

// Memo caches suggestions by plan ID and runs at most one generation per
// plan at a time. Failures are not cached.
//
// # Thread Safety
//
// Safe for concurrent use.
type Memo struct {
	fn    SuggestFunc
	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]Suggestion
}

// NewMemo wraps fn, typically (*Suggester).Suggest.
func NewMemo(fn SuggestFunc) *Memo {
	return &Memo{fn: fn, cache: make(map[string]Suggestion)}
}

// Suggest returns the cached suggestion for plan.ID or generates one.
func (m *Memo) Suggest(ctx context.Context, plan model.FixPlan) (Suggestion, error) {
	m.mu.RLock()
	s, ok := m.cache[plan.ID]
	m.mu.RUnlock()
	if ok {
		recordMemoHit(ctx)
		return s, nil
	}

	v, err, _ := m.group.Do(plan.ID, func() (interface{}, error) {
		s, err := m.fn(ctx, plan)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		m.cache[plan.ID] = s
		m.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return Suggestion{}, err
	}
	out, ok := v.(Suggestion)
	if !ok {
		return Suggestion{}, fmt.Errorf("unexpected type from singleflight group 'suggest': got %T", v)
	}
	return out, nil
}

// Forget drops every cached suggestion, e.g. after a new diagnosis run.
func (m *Memo) Forget() {
	m.mu.Lock()
	m.cache = make(map[string]Suggestion)
	m.mu.Unlock()
}
