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

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

// =============================================================================
// FAKES
// =============================================================================

type fakeGenerator struct {
	mu      sync.Mutex
	prompts []string
	reply   string
	err     error
}

func (f *fakeGenerator) Name() string { return "fake" }

func (f *fakeGenerator) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeGenerator) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}

// mapSource serves ranges by file name.
type mapSource map[string]string

func (m mapSource) ReadRange(_ context.Context, r model.Range) (string, error) {
	text, ok := m[r.File]
	if !ok {
		return "", os.ErrNotExist
	}
	return text, nil
}

func fn(name, file string) model.PlanFunction {
	return model.PlanFunction{ID: name, Name: name, Position: model.Range{File: file}}
}

func fnPtr(name, file string) *model.PlanFunction {
	f := fn(name, file)
	return &f
}

var source = mapSource{
	"handler.go": "func getIsuList(c echo.Context) error { for ... }",
	"loader.go":  "func loadCondition(id string) {}",
	"query.go":   "func queryCondition(id string) { db.Get(...) }",
}

// =============================================================================
// PROMPTS
// =============================================================================

func TestSuggester_IndexPlan(t *testing.T) {
	gen := &fakeGenerator{reply: "Sure.\n```sql\nCREATE INDEX idx_user ON orders (user_id);\n```"}
	s := NewSuggester(gen, source, 0)

	plan := model.FixPlan{
		ID:          "p1",
		Plan:        model.IndexPlan{Issues: []model.IndexIssue{{Table: model.TableRef{Name: "orders", CreateQuery: "CREATE TABLE orders (id int)"}, Rows: 5000, Filtered: 10}}},
		TargetQuery: model.TargetQuery{Driver: "mysql", Query: "select * from orders where user_id = ?"},
	}

	got, err := s.Suggest(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, "CREATE INDEX idx_user ON orders (user_id);", got.CreateIndexQuery)
	assert.Empty(t, got.TargetFunction)
	assert.Equal(t, model.PlanIndex, got.PlanType)
	assert.Equal(t, "p1", got.PlanID)

	prompt := gen.lastPrompt()
	assert.Contains(t, prompt, "select * from orders where user_id = ?")
	assert.Contains(t, prompt, "reads an average of 5000 rows, of which only 10% remain")
	assert.Contains(t, prompt, "`no` index")
	assert.Contains(t, prompt, "CREATE TABLE orders (id int)")
}

func TestSuggester_JoinPlanWithChain(t *testing.T) {
	gen := &fakeGenerator{reply: "```go\nfunc getIsuList(c echo.Context) error { join }\n```"}
	s := NewSuggester(gen, source, 0)

	plan := model.FixPlan{
		ID:             "p2",
		Plan:           model.JoinPlan{},
		QueryType:      model.QuerySelect,
		TargetQuery:    model.TargetQuery{Query: "select * from isu_condition where jia_isu_uuid = ?"},
		TargetFunction: fnPtr("getIsuList", "handler.go"),
		RelatedFunctions: []model.PlanFunction{
			fn("loadCondition", "loader.go"),
			fn("queryCondition", "query.go"),
		},
	}

	got, err := s.Suggest(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, "func getIsuList(c echo.Context) error { join }", got.TargetFunction)

	prompt := gen.lastPrompt()
	assert.Contains(t, prompt, "Use a join")
	assert.Contains(t, prompt, "# SQL execution function\n```go\nfunc queryCondition(id string) { db.Get(...) }\n```")
	assert.Contains(t, prompt, "func loadCondition(id string) {}\n\nfunc queryCondition")
	assert.Contains(t, prompt, "# Fixed `getIsuList`")
}

func TestSuggester_BulkDirections(t *testing.T) {
	tests := []struct {
		queryType model.QueryType
		want      string
	}{
		{model.QueryInsert, "Use a bulk insert."},
		{model.QueryUpdate, "Execute the updates as a batch."},
		{model.QueryDelete, "Delete the rows as a batch."},
	}

	for _, tt := range tests {
		t.Run(string(tt.queryType), func(t *testing.T) {
			gen := &fakeGenerator{reply: "```go\nfunc f() {}\n```"}
			s := NewSuggester(gen, source, 0)

			_, err := s.Suggest(context.Background(), model.FixPlan{
				ID:             "b",
				Plan:           model.BulkPlan{},
				QueryType:      tt.queryType,
				TargetFunction: fnPtr("queryCondition", "query.go"),
			})
			require.NoError(t, err)

			prompt := gen.lastPrompt()
			assert.Contains(t, prompt, tt.want)
			assert.NotContains(t, prompt, "# SQL execution function", "single-function stacks have no chain")
		})
	}
}

func TestSuggester_CacheAndUnknown(t *testing.T) {
	gen := &fakeGenerator{reply: "```go\nfunc f() {}\n```"}
	s := NewSuggester(gen, source, 0)

	_, err := s.Suggest(context.Background(), model.FixPlan{
		ID: "c", Plan: model.CachePlan{}, TargetFunction: fnPtr("getIsuList", "handler.go"),
	})
	require.NoError(t, err)
	assert.Contains(t, gen.lastPrompt(), "cache the result of the target SQL in memory")

	_, err = s.Suggest(context.Background(), model.FixPlan{
		ID:             "u",
		Plan:           model.UnknownPlan{Tables: []model.LargeTable{{Name: "isu", CreateQuery: "CREATE TABLE isu (id int)"}, {Name: "isu", CreateQuery: "CREATE TABLE isu (id int)"}}},
		TargetFunction: fnPtr("getIsuList", "handler.go"),
	})
	require.NoError(t, err)
	prompt := gen.lastPrompt()
	assert.Contains(t, prompt, "# table schema")
	assert.Equal(t, 1, strings.Count(prompt, "CREATE TABLE isu"), "each schema appears once")

	_, err = s.Suggest(context.Background(), model.FixPlan{
		ID: "u2", Plan: model.UnknownPlan{}, TargetFunction: fnPtr("getIsuList", "handler.go"),
	})
	require.NoError(t, err)
	assert.NotContains(t, gen.lastPrompt(), "# table schema")
}

func TestSuggester_Errors(t *testing.T) {
	t.Run("no target function", func(t *testing.T) {
		s := NewSuggester(&fakeGenerator{}, source, 0)
		_, err := s.Suggest(context.Background(), model.FixPlan{ID: "x", Plan: model.UnknownPlan{}})
		assert.ErrorIs(t, err, ErrNoTargetFunction)
	})

	t.Run("unreadable source", func(t *testing.T) {
		s := NewSuggester(&fakeGenerator{}, source, 0)
		_, err := s.Suggest(context.Background(), model.FixPlan{
			ID: "x", Plan: model.CachePlan{}, TargetFunction: fnPtr("gone", "missing.go"),
		})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("generator failure", func(t *testing.T) {
		cause := errors.New("rate limited")
		s := NewSuggester(&fakeGenerator{err: cause}, source, 0)
		_, err := s.Suggest(context.Background(), model.FixPlan{
			ID: "x", Plan: model.CachePlan{}, TargetFunction: fnPtr("getIsuList", "handler.go"),
		})
		assert.ErrorIs(t, err, cause)
	})

	t.Run("empty reply", func(t *testing.T) {
		s := NewSuggester(&fakeGenerator{reply: "   "}, source, 0)
		_, err := s.Suggest(context.Background(), model.FixPlan{
			ID: "x", Plan: model.CachePlan{}, TargetFunction: fnPtr("getIsuList", "handler.go"),
		})
		assert.ErrorIs(t, err, ErrEmptyCompletion)
	})

	t.Run("nil variant", func(t *testing.T) {
		s := NewSuggester(&fakeGenerator{}, source, 0)
		_, err := s.Suggest(context.Background(), model.FixPlan{ID: "x"})
		assert.ErrorIs(t, err, ErrUnsupportedPlan)
	})
}

// =============================================================================
// EXTRACTION
// =============================================================================

func TestExtractCodeBlock(t *testing.T) {
	tests := []struct {
		name string
		text string
		lang string
		want string
	}{
		{"tagged block", "```go\nfunc a() {}\n```", "go", "func a() {}"},
		{"surrounding prose", "Here you go:\n\n```sql\nCREATE INDEX i ON t (c);\n```\nDone.", "sql", "CREATE INDEX i ON t (c);"},
		{"prefers matching tag", "```text\nnotes\n```\n```go\nfunc b() {}\n```", "go", "func b() {}"},
		{"falls back to first block", "```\nfunc c() {}\n```", "go", "func c() {}"},
		{"no fence", "  func d() {}  ", "go", "func d() {}"},
		{"unterminated fence", "```go\nfunc e() {}", "go", "```go\nfunc e() {}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractCodeBlock(tt.text, tt.lang))
		})
	}
}

// =============================================================================
// SOURCE
// =============================================================================

func TestFileSourceReader(t *testing.T) {
	dir := t.TempDir()
	content := "package main\n\nfunc getUser(id int) {\n\tdb.Get(id)\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "user.go"), []byte(content), 0o644))
	r := FileSourceReader{Root: dir}
	ctx := context.Background()

	t.Run("whole lines", func(t *testing.T) {
		got, err := r.ReadRange(ctx, model.Range{File: "user.go", Start: model.Position{Line: 3, Column: 1}, End: model.Position{Line: 5, Column: 2}})
		require.NoError(t, err)
		assert.Equal(t, "func getUser(id int) {\n\tdb.Get(id)\n}", got)
	})

	t.Run("columns", func(t *testing.T) {
		got, err := r.ReadRange(ctx, model.Range{File: "user.go", Start: model.Position{Line: 3, Column: 6}, End: model.Position{Line: 3, Column: 13}})
		require.NoError(t, err)
		assert.Equal(t, "getUser", got)
	})

	t.Run("absolute path", func(t *testing.T) {
		got, err := FileSourceReader{}.ReadRange(ctx, model.Range{File: filepath.Join(dir, "user.go"), Start: model.Position{Line: 1}, End: model.Position{Line: 1}})
		require.NoError(t, err)
		assert.Equal(t, "package main", got)
	})

	t.Run("out of range", func(t *testing.T) {
		_, err := r.ReadRange(ctx, model.Range{File: "user.go", Start: model.Position{Line: 3}, End: model.Position{Line: 40}})
		assert.ErrorIs(t, err, ErrInvalidRange)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := r.ReadRange(ctx, model.Range{File: "nope.go", Start: model.Position{Line: 1}, End: model.Position{Line: 1}})
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestClip(t *testing.T) {
	short := "func a() {}"
	assert.Equal(t, short, clip(short, 100))
	assert.Equal(t, short, clip(short, -1))

	long := "func a() {\n\treturn\n}\n\nfunc b() {\n\treturn\n}\n"
	got := clip(long, 24)
	assert.True(t, strings.HasSuffix(got, "\n// ..."))
	assert.Less(t, len(got), len(long))
	assert.True(t, strings.HasPrefix(got, "func a()"))
}

// =============================================================================
// MEMO
// =============================================================================

func TestMemo(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	memo := NewMemo(func(ctx context.Context, plan model.FixPlan) (Suggestion, error) {
		calls.Add(1)
		<-release
		return Suggestion{PlanID: plan.ID, TargetFunction: "func f() {}"}, nil
	})

	plan := model.FixPlan{ID: "p1", Plan: model.CachePlan{}}
	var wg sync.WaitGroup
	results := make([]Suggestion, 5)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := memo.Suggest(context.Background(), plan)
			assert.NoError(t, err)
			results[i] = s
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load(), "concurrent requests share one generation")
	for _, s := range results {
		assert.Equal(t, "p1", s.PlanID)
	}

	_, err := memo.Suggest(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "served from cache")

	memo.Forget()
	_, err = memo.Suggest(context.Background(), plan)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemo_FailuresNotCached(t *testing.T) {
	var calls atomic.Int32
	memo := NewMemo(func(context.Context, model.FixPlan) (Suggestion, error) {
		if calls.Add(1) == 1 {
			return Suggestion{}, errors.New("transient")
		}
		return Suggestion{PlanID: "p"}, nil
	})

	_, err := memo.Suggest(context.Background(), model.FixPlan{ID: "p"})
	assert.Error(t, err)
	got, err := memo.Suggest(context.Background(), model.FixPlan{ID: "p"})
	require.NoError(t, err)
	assert.Equal(t, "p", got.PlanID)
}

// =============================================================================
// BACKENDS
// =============================================================================

func TestOpenAIGenerator(t *testing.T) {
	var got struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","model":"gpt-4o","choices":[{"index":0,"message":{"role":"assistant","content":"` + "```go\\nfunc f() {}\\n```" + `"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	assert.Equal(t, "openai", gen.Name())

	out, err := gen.Generate(context.Background(), "fix it")
	require.NoError(t, err)
	assert.Equal(t, "```go\nfunc f() {}\n```", out)
	assert.Equal(t, DefaultOpenAIModel, got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "fix it", got.Messages[1].Content)
}

func TestOpenAIGenerator_Errors(t *testing.T) {
	_, err := NewOpenAIGenerator(OpenAIConfig{})
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","choices":[]}`))
	}))
	defer srv.Close()

	gen, err := NewOpenAIGenerator(OpenAIConfig{APIKey: "k", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	_, err = gen.Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

type fakeInvoker struct {
	input *bedrockruntime.InvokeModelInput
	body  string
	err   error
}

func (f *fakeInvoker) InvokeModel(_ context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.body)}, nil
}

func TestBedrockGenerator(t *testing.T) {
	inv := &fakeInvoker{body: `{"content":[{"type":"text","text":"CREATE INDEX "},{"type":"text","text":"i ON t (c);"}],"stop_reason":"end_turn"}`}
	gen := NewBedrockGeneratorFromClient(inv, BedrockConfig{Temperature: 0.2})

	out, err := gen.Generate(context.Background(), "index please")
	require.NoError(t, err)
	assert.Equal(t, "CREATE INDEX i ON t (c);", out)
	assert.Equal(t, "bedrock", gen.Name())

	require.NotNil(t, inv.input)
	assert.Equal(t, DefaultBedrockModel, *inv.input.ModelId)
	var req anthropicRequest
	require.NoError(t, json.Unmarshal(inv.input.Body, &req))
	assert.Equal(t, anthropicVersion, req.AnthropicVersion)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "index please", req.Messages[0].Content[0].Text)
}

func TestBedrockGenerator_Errors(t *testing.T) {
	cause := errors.New("throttled")
	_, err := NewBedrockGeneratorFromClient(&fakeInvoker{err: cause}, BedrockConfig{}).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, cause)

	_, err = NewBedrockGeneratorFromClient(&fakeInvoker{body: `{"content":[]}`}, BedrockConfig{}).Generate(context.Background(), "p")
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}
