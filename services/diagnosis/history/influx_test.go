// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/isurus/services/diagnosis/model"
)

type mockWriteAPI struct {
	points []*write.Point
	err    error
}

func (m *mockWriteAPI) WritePoint(_ context.Context, point ...*write.Point) error {
	m.points = append(m.points, point...)
	return m.err
}

func createTestReport() *model.CPUReport {
	return &model.CPUReport{
		ID:          "run-1",
		GeneratedAt: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		AppPlans:    []model.ProcessUsage{{Name: "app", Usage: 0.9}},
		SQL: &model.SQLReport{
			Plans: []model.FixPlan{
				{
					ID:          "p1",
					Plan:        model.CachePlan{},
					QueryType:   model.QuerySelect,
					TargetQuery: model.TargetQuery{Driver: "mysql", Query: "select * from isu", Duration: 12, Latency: 0.002, ExecutionCount: 6000},
				},
				{
					ID:          "p2",
					Plan:        model.IndexPlan{},
					QueryType:   model.QuerySelect,
					TargetQuery: model.TargetQuery{Driver: "mysql", Query: "select * from isu where name = ?", Duration: 8, Latency: 0.1, ExecutionCount: 80},
				},
			},
			Notes: []string{"skipped"},
		},
	}
}

func TestPoints(t *testing.T) {
	points := Points(createTestReport())
	require.Len(t, points, 3)

	plan := points[0]
	assert.Equal(t, measurementPlan, plan.Name())
	tags := map[string]string{}
	for _, tg := range plan.TagList() {
		tags[tg.Key] = tg.Value
	}
	assert.Equal(t, map[string]string{"run_id": "run-1", "plan_type": "cache", "query_type": "select", "driver": "mysql"}, tags)

	fields := map[string]any{}
	for _, f := range plan.FieldList() {
		fields[f.Key] = f.Value
	}
	assert.Equal(t, 12.0, fields["duration"])
	assert.Equal(t, 6000.0, fields["execution_count"])
	assert.Equal(t, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC), plan.Time())

	run := points[2]
	assert.Equal(t, measurementRun, run.Name())
	runFields := map[string]any{}
	for _, f := range run.FieldList() {
		runFields[f.Key] = f.Value
	}
	assert.Equal(t, int64(2), runFields["plans"])
	assert.Equal(t, int64(1), runFields["notes"])
	assert.Equal(t, true, runFields["database_hot"])
}

func TestPoints_NoSQL(t *testing.T) {
	points := Points(&model.CPUReport{ID: "run-2"})
	require.Len(t, points, 1)
	assert.Equal(t, measurementRun, points[0].Name())
	assert.False(t, points[0].Time().IsZero())
}

func TestInfluxRecorder_Record(t *testing.T) {
	w := &mockWriteAPI{}
	NewInfluxRecorderWithWriter(w).Record(context.Background(), createTestReport())
	assert.Len(t, w.points, 3)
}

func TestInfluxRecorder_FailuresAreSwallowed(t *testing.T) {
	w := &mockWriteAPI{err: errors.New("influx unavailable")}
	r := NewInfluxRecorderWithWriter(w)

	assert.NotPanics(t, func() {
		r.Record(context.Background(), createTestReport())
		r.Record(context.Background(), nil)
		r.Close()
	})
}

func TestInfluxRecorder_WritesLineProtocol(t *testing.T) {
	var (
		mu   sync.Mutex
		body string
		org  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v2/write" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, org = string(b), r.URL.Query().Get("org")
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	r := NewInfluxRecorder(srv.URL, "token", "isurus", "diagnosis")
	defer r.Close()
	r.Record(context.Background(), createTestReport())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "isurus", org)
	assert.Contains(t, body, "isurus_fix_plan,")
	assert.Contains(t, body, "plan_type=index")
	assert.Equal(t, 3, strings.Count(strings.TrimSpace(body), "\n")+1)
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.Record(context.Background(), createTestReport())
	r.Close()
}
