// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianETL/services/etl/dag"
	"github.com/AleutianAI/AleutianETL/services/etl/observability"
	"github.com/AleutianAI/AleutianETL/services/etl/source"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse/sqlite"
)

const usersCSV = `user_id,age,country,subscription_type,registration_date,total_watch_time_hours
U1,34,US,Premium,2024-01-15,120.5
,28,UK,Basic,2024-02-01,10
U2,abc,DE,Gold,2024/03/10,
U3,45,US,standard,,5
`

const sessionsCSV = `session_id,user_id,content_id,device_type,quality_level,watch_date,watch_duration_minutes,completion_percentage
S1,U1,C1,Mobile,HD,2024-03-01,45,90.5
S2,U1,C2,Toaster,4K,2024-03-02,abc,50
S3,U2,C1,Desktop,SD,2024-03-03,30.6,
S4,U9,C3,,HD,2024-03-04,10,100
,U1,C4,Mobile,HD,2024-03-05,10,10
`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func openStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "warehouse.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testOptions(t *testing.T, users, sessions string) Options {
	t.Helper()
	dir := t.TempDir()
	return Options{
		UsersCSV:       writeFile(t, dir, "users.csv", users),
		SessionsCSV:    writeFile(t, dir, "viewing_sessions.csv", sessions),
		BatchSize:      2,
		DeviceFallback: warehouse.FallbackDevice,
	}
}

func runPipeline(t *testing.T, store warehouse.Store, opts Options) dag.Snapshot {
	t.Helper()
	graph, err := NewGraph(store, opts)
	require.NoError(t, err)
	runner, err := dag.NewRunner(graph)
	require.NoError(t, err)

	_, err = runner.Start(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	snap, err := runner.Wait(ctx)
	require.NoError(t, err)
	return snap
}

func TestNewGraph_Topology(t *testing.T) {
	graph, err := NewGraph(openStore(t), Options{})
	require.NoError(t, err)

	assert.Equal(t, PipelineID, graph.ID())
	assert.Equal(t, PipelineName, graph.Name())
	assert.Equal(t, []string{
		StepValidateFiles, StepCreateSchema, StepLoadDimensions, StepProcessUsers,
		StepProcessSessions, StepCreateAggregations, StepValidateData, StepGenerateStats,
	}, graph.Order())
}

func TestPipeline_EndToEnd(t *testing.T) {
	store := openStore(t)
	reg := prometheus.NewRegistry()
	opts := testOptions(t, usersCSV, sessionsCSV)
	opts.Metrics = observability.NewETLMetrics(reg)

	snap := runPipeline(t, store, opts)
	require.Equal(t, dag.RunSucceeded, snap.Status, snap.Error)
	assert.Equal(t, 8, snap.CountByStatus(dag.StepSucceeded))

	users, _ := snap.Node(StepProcessUsers)
	require.NotNil(t, users.Records)
	assert.Equal(t, int64(3), *users.Records)
	assert.Equal(t, []string{"dropped 1 row(s): missing user_id"}, users.Warnings)

	sessions, _ := snap.Node(StepProcessSessions)
	require.NotNil(t, sessions.Records)
	assert.Equal(t, int64(4), *sessions.Records)
	assert.Equal(t, []string{"dropped 1 row(s): missing session_id"}, sessions.Warnings)

	aggs, _ := snap.Node(StepCreateAggregations)
	require.NotNil(t, aggs.Records)
	assert.Equal(t, int64(3), *aggs.Records)

	quality, _ := snap.Node(StepValidateData)
	assert.Contains(t, quality.Warnings, "1 users missing age")
	assert.Contains(t, quality.Warnings, "1 users missing subscription type")
	assert.Contains(t, quality.Warnings, "1 sessions missing duration")
	assert.Contains(t, quality.Warnings, "1 sessions missing completion percentage")
	assert.Contains(t, quality.Warnings, "1 users without sessions")
	assert.Contains(t, quality.Warnings, "1 sessions referencing unknown users")
	assert.NotContains(t, quality.Warnings, "1 sessions missing device type")

	ctx := context.Background()
	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalUsers)
	assert.Equal(t, int64(4), stats.TotalSessions)
	assert.Equal(t, int64(86), stats.TotalWatchMinutes)
	assert.Equal(t, int64(3), stats.DistinctContent)

	final, _ := snap.Node(StepGenerateStats)
	assert.Equal(t, StatsSummary(stats), final.Summary)

	// Three valid users in batches of two, four sessions in batches of two.
	assert.Equal(t, 2.0, testutil.ToFloat64(opts.Metrics.BatchesTotal.WithLabelValues(StepProcessUsers, "success")))
	assert.Equal(t, 2.0, testutil.ToFloat64(opts.Metrics.BatchesTotal.WithLabelValues(StepProcessSessions, "success")))
	assert.Equal(t, 4.0, testutil.ToFloat64(opts.Metrics.RowsTotal.WithLabelValues(StepProcessUsers, "read")))
	assert.Equal(t, 1.0, testutil.ToFloat64(opts.Metrics.RowsTotal.WithLabelValues(StepProcessUsers, "dropped")))
}

func TestPipeline_RerunIsFullRefresh(t *testing.T) {
	store := openStore(t)
	opts := testOptions(t, usersCSV, sessionsCSV)

	first := runPipeline(t, store, opts)
	require.Equal(t, dag.RunSucceeded, first.Status, first.Error)
	second := runPipeline(t, store, opts)
	require.Equal(t, dag.RunSucceeded, second.Status, second.Error)

	stats, err := store.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.TotalUsers)
	assert.Equal(t, int64(4), stats.TotalSessions)
}

func TestPipeline_NoDeviceFallback(t *testing.T) {
	store := openStore(t)
	opts := testOptions(t, usersCSV, sessionsCSV)
	opts.DeviceFallback = ""

	snap := runPipeline(t, store, opts)
	require.Equal(t, dag.RunSucceeded, snap.Status, snap.Error)

	report, err := store.QualityReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), report.SessionsMissingDevice)
}

func TestPipeline_MissingFile(t *testing.T) {
	store := openStore(t)
	opts := testOptions(t, usersCSV, sessionsCSV)
	opts.SessionsCSV = filepath.Join(t.TempDir(), "missing.csv")

	snap := runPipeline(t, store, opts)
	assert.Equal(t, dag.RunFailed, snap.Status)

	first, _ := snap.Node(StepValidateFiles)
	assert.Equal(t, dag.StepFailed, first.Status)
	assert.Contains(t, first.Error, "missing.csv")
	assert.Equal(t, 7, snap.CountByStatus(dag.StepSkipped))
}

func TestPipeline_QualityGate(t *testing.T) {
	store := openStore(t)
	header := "session_id,user_id,content_id,device_type,quality_level,watch_date,watch_duration_minutes,completion_percentage\n"
	opts := testOptions(t, usersCSV, header)

	snap := runPipeline(t, store, opts)
	assert.Equal(t, dag.RunFailed, snap.Status)

	gate, _ := snap.Node(StepValidateData)
	assert.Equal(t, dag.StepFailed, gate.Status)
	assert.Contains(t, gate.Error, "no sessions loaded")

	stats, _ := snap.Node(StepGenerateStats)
	assert.Equal(t, dag.StepSkipped, stats.Status)
	aggs, _ := snap.Node(StepCreateAggregations)
	assert.Equal(t, dag.StepSucceeded, aggs.Status)
}

// failingStore fails the nth session batch.
type failingStore struct {
	*sqlite.Store
	failAt int32
	calls  atomic.Int32
}

var errDiskFull = errors.New("disk full")

func (f *failingStore) UpsertSessions(ctx context.Context, sessions []warehouse.Session) (int64, error) {
	if f.calls.Add(1) == f.failAt {
		return 0, warehouse.Wrap("upsert sessions", errDiskFull)
	}
	return f.Store.UpsertSessions(ctx, sessions)
}

func TestPipeline_StorageFailureKeepsCommittedBatches(t *testing.T) {
	store := &failingStore{Store: openStore(t), failAt: 2}
	opts := testOptions(t, usersCSV, sessionsCSV)
	opts.BatchSize = 1

	snap := runPipeline(t, store, opts)
	assert.Equal(t, dag.RunFailed, snap.Status)
	assert.Contains(t, snap.Error, StepProcessSessions)

	node, _ := snap.Node(StepProcessSessions)
	assert.Equal(t, dag.StepFailed, node.Status)
	assert.Contains(t, node.Error, "disk full")
	assert.Contains(t, node.Error, "batch 2 starting at line 3")
	assert.Equal(t, 3, snap.CountByStatus(dag.StepSkipped))

	report, err := store.QualityReport(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), report.Users)
	assert.Equal(t, int64(1), report.Sessions)
}

func TestCheckQuality(t *testing.T) {
	assert.NoError(t, CheckQuality(warehouse.QualityReport{Users: 1, Sessions: 1}))

	for _, r := range []warehouse.QualityReport{
		{},
		{Users: 1},
		{Sessions: 1},
	} {
		assert.ErrorIs(t, CheckQuality(r), ErrQualityGate)
	}
}

func TestQualityWarnings(t *testing.T) {
	assert.Empty(t, QualityWarnings(warehouse.QualityReport{Users: 5, Sessions: 5}))
	assert.Equal(t,
		[]string{"2 users missing age", "3 sessions missing device type"},
		QualityWarnings(warehouse.QualityReport{Users: 5, Sessions: 5, UsersMissingAge: 2, SessionsMissingDevice: 3}),
	)
}

func TestLoadResult(t *testing.T) {
	r := LoadResult{Read: 10, Loaded: 7, Batches: 2, Dropped: map[string]int64{
		reasonMissingUserID:    2,
		reasonMissingSessionID: 1,
	}}
	assert.Equal(t, int64(3), r.DroppedTotal())
	assert.Equal(t, []string{
		"dropped 1 row(s): missing session_id",
		"dropped 2 row(s): missing user_id",
	}, r.Warnings())
	assert.Equal(t, "loaded 7 users from 10 rows (3 dropped) in 2 batch(es)", loadSummary("users", r))
}

func TestValidateFiles_NotRegular(t *testing.T) {
	dir := t.TempDir()
	s := &steps{opts: Options{UsersCSV: dir, SessionsCSV: dir}.withDefaults()}
	_, err := s.validateFiles(context.Background(), dag.Inputs{})
	assert.ErrorIs(t, err, source.ErrFileNotFound)
}
