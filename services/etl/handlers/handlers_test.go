// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianETL/services/etl/content"
	"github.com/AleutianAI/AleutianETL/services/etl/dag"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ============================================================================
// Helpers
// ============================================================================

func perform(t *testing.T, router *gin.Engine, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// blockingPipeline builds a single step runner whose step waits for release.
func blockingPipeline(t *testing.T) (*dag.Runner, chan struct{}, chan struct{}, *atomic.Int32) {
	t.Helper()
	entered := make(chan struct{}, 4)
	release := make(chan struct{})
	var runs atomic.Int32

	g, err := dag.NewGraph("test_dag", "Test DAG", dag.Step{
		ID:   "only",
		Name: "Only step",
		Task: func(ctx context.Context, _ dag.Inputs) (dag.Output, error) {
			runs.Add(1)
			entered <- struct{}{}
			<-release
			return dag.Output{}, nil
		},
	})
	require.NoError(t, err)
	r, err := dag.NewRunner(g)
	require.NoError(t, err)
	return r, entered, release, &runs
}

func waitRun(t *testing.T, r *dag.Runner) dag.Snapshot {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	snap, err := r.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func etlRouter(p Pipeline) *gin.Engine {
	router := gin.New()
	router.POST("/etl/start", StartETL(p))
	router.GET("/etl/status", GetETLStatus(p))
	router.POST("/etl/reset", ResetETL(p))
	return router
}

// ============================================================================
// ETL control
// ============================================================================

func TestStartETL_SecondStartConflicts(t *testing.T) {
	runner, entered, release, runs := blockingPipeline(t)
	router := etlRouter(runner)

	w := perform(t, router, http.MethodPost, "/etl/start")
	require.Equal(t, http.StatusOK, w.Code)
	first := decode[DAGResponse](t, w)
	assert.True(t, first.Success)
	assert.Equal(t, dag.RunRunning, first.DAG.Status)
	assert.NotEmpty(t, first.DAG.ExecutionID)

	<-entered

	w = perform(t, router, http.MethodPost, "/etl/start")
	require.Equal(t, http.StatusConflict, w.Code)
	second := decode[DAGResponse](t, w)
	assert.False(t, second.Success)
	assert.Equal(t, CodeAlreadyRunning, second.Code)
	assert.Equal(t, "already running", second.Message)
	assert.Equal(t, first.DAG.ExecutionID, second.DAG.ExecutionID)

	close(release)
	final := waitRun(t, runner)
	assert.Equal(t, dag.RunSucceeded, final.Status)
	assert.Equal(t, int32(1), runs.Load())

	w = perform(t, router, http.MethodGet, "/etl/status")
	require.Equal(t, http.StatusOK, w.Code)
	status := decode[DAGResponse](t, w)
	assert.True(t, status.Success)
	assert.Equal(t, dag.RunSucceeded, status.DAG.Status)
	require.Len(t, status.DAG.Nodes, 1)
	assert.Equal(t, dag.StepSucceeded, status.DAG.Nodes[0].Status)
}

func TestResetETL(t *testing.T) {
	runner, entered, release, _ := blockingPipeline(t)
	router := etlRouter(runner)

	require.Equal(t, http.StatusOK, perform(t, router, http.MethodPost, "/etl/start").Code)
	<-entered

	t.Run("busy while running", func(t *testing.T) {
		w := perform(t, router, http.MethodPost, "/etl/reset")
		require.Equal(t, http.StatusConflict, w.Code)
		resp := decode[DAGResponse](t, w)
		assert.False(t, resp.Success)
		assert.Equal(t, CodePipelineBusy, resp.Code)
		assert.Equal(t, dag.RunRunning, resp.DAG.Status)
	})

	close(release)
	waitRun(t, runner)

	t.Run("idle after completion", func(t *testing.T) {
		for range 2 {
			w := perform(t, router, http.MethodPost, "/etl/reset")
			require.Equal(t, http.StatusOK, w.Code)
			resp := decode[DAGResponse](t, w)
			assert.True(t, resp.Success)
			assert.Equal(t, dag.RunIdle, resp.DAG.Status)
			assert.Empty(t, resp.DAG.ExecutionID)
			assert.Equal(t, dag.StepPending, resp.DAG.Nodes[0].Status)
		}
	})
}

func TestGetETLStatus_Idle(t *testing.T) {
	runner, _, _, _ := blockingPipeline(t)
	w := perform(t, etlRouter(runner), http.MethodGet, "/etl/status")

	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[DAGResponse](t, w)
	assert.Equal(t, "test_dag", resp.DAG.ID)
	assert.Equal(t, dag.RunIdle, resp.DAG.Status)
}

// ============================================================================
// Content
// ============================================================================

type fakeLoader struct {
	result content.Result
	err    error
}

func (f fakeLoader) Run(context.Context) (content.Result, error) {
	return f.result, f.err
}

func TestRunContentETL(t *testing.T) {
	tests := []struct {
		name     string
		loader   fakeLoader
		wantCode int
		wantErr  string
	}{
		{
			name: "success",
			loader: fakeLoader{result: content.Result{
				Success: true,
				Message: "ok",
				Stats:   content.RunStats{TotalDocuments: 3, Inserted: 3},
			}},
			wantCode: http.StatusOK,
		},
		{
			name:     "already running",
			loader:   fakeLoader{result: content.Result{Message: "busy"}, err: content.ErrAlreadyRunning},
			wantCode: http.StatusConflict,
			wantErr:  CodeAlreadyRunning,
		},
		{
			name:     "fatal",
			loader:   fakeLoader{result: content.Result{Message: "boom"}, err: errors.New("boom")},
			wantCode: http.StatusInternalServerError,
			wantErr:  CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.POST("/content/etl", RunContentETL(tt.loader))

			w := perform(t, router, http.MethodPost, "/content/etl")
			require.Equal(t, tt.wantCode, w.Code)
			resp := decode[ContentRunResponse](t, w)
			assert.Equal(t, tt.loader.result.Success, resp.Success)
			assert.Equal(t, tt.loader.result.Message, resp.Message)
			assert.Equal(t, tt.loader.result.Stats, resp.Stats)
			assert.Equal(t, tt.wantErr, resp.Code)
		})
	}
}

func ptr[T any](v T) *T { return &v }

func seededContent(t *testing.T) *content.MemoryStore {
	t.Helper()
	store := content.NewMemoryStore("movies")
	_, err := store.Upsert(context.Background(), []content.Record{
		{ContentID: "m1", Title: "Alpha", Genre: []string{"Drama"}, DurationMinutes: 100, ReleaseYear: 2001, Rating: ptr(4.5)},
		{ContentID: "m2", Title: "Beta", Genre: []string{"Comedy"}, DurationMinutes: 90, ReleaseYear: 1999, Rating: ptr(3.0)},
		{ContentID: "m3", Title: "Gamma", Genre: []string{"Drama", "Comedy"}, DurationMinutes: 120, ReleaseYear: 2010, Rating: ptr(4.0)},
	})
	require.NoError(t, err)
	return store
}

type listResponse struct {
	Success    bool             `json:"success"`
	Data       []content.Record `json:"data"`
	Pagination Pagination       `json:"pagination"`
}

func TestListContent(t *testing.T) {
	router := gin.New()
	router.GET("/content", ListContent(seededContent(t)))

	t.Run("defaults sort by rating descending", func(t *testing.T) {
		w := perform(t, router, http.MethodGet, "/content")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[listResponse](t, w)
		require.Len(t, resp.Data, 3)
		assert.Equal(t, []string{"m1", "m3", "m2"},
			[]string{resp.Data[0].ContentID, resp.Data[1].ContentID, resp.Data[2].ContentID})
		assert.Equal(t, Pagination{Page: 1, Limit: 10, Total: 3, Pages: 1}, resp.Pagination)
	})

	t.Run("paging and ascending order", func(t *testing.T) {
		w := perform(t, router, http.MethodGet, "/content?sortBy=release_year&order=asc&limit=2&page=2")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[listResponse](t, w)
		require.Len(t, resp.Data, 1)
		assert.Equal(t, "m3", resp.Data[0].ContentID)
		assert.Equal(t, Pagination{Page: 2, Limit: 2, Total: 3, Pages: 2}, resp.Pagination)
	})

	t.Run("genre filter", func(t *testing.T) {
		w := perform(t, router, http.MethodGet, "/content?genre=Comedy")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(2), decode[listResponse](t, w).Pagination.Total)
	})

	t.Run("rejected parameters", func(t *testing.T) {
		for _, target := range []string{
			"/content?sortBy=password",
			"/content?year=abc",
			"/content?page=x",
		} {
			w := perform(t, router, http.MethodGet, target)
			require.Equal(t, http.StatusBadRequest, w.Code, target)
			resp := decode[ErrorResponse](t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, CodeInvalidQuery, resp.Code)
		}
	})
}

func TestContentStatsAndSchema(t *testing.T) {
	store := seededContent(t)
	router := gin.New()
	router.GET("/content/stats", GetContentStats(store))
	router.GET("/content/schema", GetContentSchema(store))

	w := perform(t, router, http.MethodGet, "/content/stats")
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[struct {
		Success bool          `json:"success"`
		Stats   content.Stats `json:"stats"`
	}](t, w)
	assert.True(t, stats.Success)
	assert.Equal(t, int64(3), stats.Stats.TotalMovies)

	w = perform(t, router, http.MethodGet, "/content/schema")
	require.Equal(t, http.StatusOK, w.Code)
	schema := decode[struct {
		Success bool           `json:"success"`
		Schema  content.Schema `json:"schema"`
	}](t, w)
	assert.True(t, schema.Success)
	assert.Equal(t, "movies", schema.Schema.Collection)
	assert.Equal(t, int64(3), schema.Schema.DocumentCount)
}

// ============================================================================
// Warehouse
// ============================================================================

type fakeWarehouse struct {
	lastQuery warehouse.UserQuery
	page      warehouse.UserPage
	err       error
}

func (f *fakeWarehouse) Analytics(context.Context) (warehouse.Analytics, error) {
	return warehouse.Analytics{TotalUsers: 3, TotalSessions: 4}, f.err
}

func (f *fakeWarehouse) ActivityMetrics(context.Context) (warehouse.ActivityMetrics, error) {
	return warehouse.ActivityMetrics{UniqueUsers: 3, TotalWatchMinutes: 86}, f.err
}

func (f *fakeWarehouse) ListUsers(_ context.Context, q warehouse.UserQuery) (warehouse.UserPage, error) {
	f.lastQuery = q
	return f.page, f.err
}

func (f *fakeWarehouse) UserStats(context.Context) (warehouse.UserStats, error) {
	return warehouse.UserStats{TotalUsers: 3}, f.err
}

func warehouseRouter(w WarehouseReader) *gin.Engine {
	router := gin.New()
	router.GET("/analytics", GetAnalytics(w))
	router.GET("/analytics/metrics", GetActivityMetrics(w))
	router.GET("/users", ListUsers(w))
	router.GET("/users/stats", GetUserStats(w))
	return router
}

func TestListUsers_PassesQuery(t *testing.T) {
	wh := &fakeWarehouse{page: warehouse.UserPage{
		Users: []warehouse.UserSummary{{UserID: "u1"}},
		Total: 41,
	}}
	router := warehouseRouter(wh)

	w := perform(t, router, http.MethodGet, "/users?search=%20us%20&sortBy=age&order=DESC&page=3&limit=20")
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, warehouse.UserQuery{
		Search: "us",
		SortBy: "age",
		Desc:   true,
		Limit:  20,
		Offset: 40,
	}, wh.lastQuery)

	resp := decode[struct {
		Data       []warehouse.UserSummary `json:"data"`
		Pagination Pagination              `json:"pagination"`
	}](t, w)
	require.Len(t, resp.Data, 1)
	assert.Equal(t, Pagination{Page: 3, Limit: 20, Total: 41, Pages: 3}, resp.Pagination)
}

func TestListUsers_Defaults(t *testing.T) {
	wh := &fakeWarehouse{}
	w := perform(t, warehouseRouter(wh), http.MethodGet, "/users?limit=1000")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, maxPageLimit, wh.lastQuery.Limit)
	assert.False(t, wh.lastQuery.Desc)
	assert.Zero(t, wh.lastQuery.Offset)
}

func TestWarehouseErrors(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		target   string
		wantCode int
		wantErr  string
	}{
		{"storage", warehouse.Wrap("analytics", errors.New("conn refused")), "/analytics", http.StatusInternalServerError, CodeStorage},
		{"invalid sort", warehouse.ErrInvalidQuery, "/users?sortBy=nope", http.StatusBadRequest, CodeInvalidQuery},
		{"metrics", errors.New("boom"), "/analytics/metrics", http.StatusInternalServerError, CodeInternal},
		{"stats", warehouse.Wrap("user stats", errors.New("gone")), "/users/stats", http.StatusInternalServerError, CodeStorage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(t, warehouseRouter(&fakeWarehouse{err: tt.err}), http.MethodGet, tt.target)
			require.Equal(t, tt.wantCode, w.Code)
			resp := decode[ErrorResponse](t, w)
			assert.False(t, resp.Success)
			assert.Equal(t, tt.wantErr, resp.Code)
			assert.NotEmpty(t, resp.Message)
		})
	}
}

func TestAnalyticsEndpoints(t *testing.T) {
	router := warehouseRouter(&fakeWarehouse{})

	w := perform(t, router, http.MethodGet, "/analytics")
	require.Equal(t, http.StatusOK, w.Code)
	a := decode[struct {
		Analytics warehouse.Analytics `json:"analytics"`
	}](t, w)
	assert.Equal(t, int64(4), a.Analytics.TotalSessions)

	w = perform(t, router, http.MethodGet, "/analytics/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	m := decode[struct {
		Data warehouse.ActivityMetrics `json:"data"`
	}](t, w)
	assert.Equal(t, int64(86), m.Data.TotalWatchMinutes)
}

func TestHealthCheck(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck)

	w := perform(t, router, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	resp := decode[map[string]string](t, w)
	assert.Equal(t, "OK", resp["status"])
	_, err := time.Parse(time.RFC3339Nano, resp["timestamp"])
	assert.NoError(t, err)
}

func TestNewPagination(t *testing.T) {
	assert.Equal(t, int64(0), newPagination(1, 10, 0).Pages)
	assert.Equal(t, int64(1), newPagination(1, 10, 10).Pages)
	assert.Equal(t, int64(2), newPagination(1, 10, 11).Pages)
}
