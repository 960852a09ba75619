// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianETL/services/etl/config"
	"github.com/AleutianAI/AleutianETL/services/etl/dag"
)

const usersCSV = `user_id,age,country,subscription_type
U1,34,US,Premium
U2,28,UK,Basic
`

const sessionsCSV = `session_id,user_id,content_id,device_type,watch_date,watch_duration_minutes,completion_percentage
S1,U1,C1,Mobile,2024-03-01,45,90
S2,U2,C2,Desktop,2024-03-02,30,60
`

const catalogueJSON = `[{"content_id": "m1", "title": "Alpha", "genre": ["Drama"], "duration_minutes": 100, "release_year": 2001}]`

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	cfg := config.Default()
	cfg.Database.Driver = "sqlite"
	cfg.Database.SQLitePath = filepath.Join(dir, "warehouse.db")
	cfg.Mongo.URI = config.MemoryURI
	cfg.Inputs.UsersCSV = write("users.csv", usersCSV)
	cfg.Inputs.SessionsCSV = write("viewing_sessions.csv", sessionsCSV)
	cfg.Inputs.ContentJSON = write("content.json", catalogueJSON)
	cfg.Server.Port = freePort(t)
	cfg.Server.Mode = "test"
	cfg.Server.ShutdownTimeout = 2 * time.Second
	cfg.Telemetry.TraceExporter = "none"
	cfg.Telemetry.MetricExporter = "none"
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := New(context.Background(), cfg, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Close(ctx))
	})
	return a
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "oracle"

	_, err := New(context.Background(), cfg, quietLogger())
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestApp_RunsPipelineAndContent(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx := context.Background()

	_, err := a.Runner().Start(ctx)
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snap, err := a.Runner().Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, dag.RunSucceeded, snap.Status, snap.Error)

	res, err := a.Loader().Run(ctx)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, int64(1), res.Stats.Inserted)

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/analytics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestApp_OnInputChangeIgnoresRunningPipeline(t *testing.T) {
	a := newApp(t, testConfig(t))
	ctx := context.Background()

	require.NoError(t, a.onInputChange(ctx, []string{"users.csv"}))
	// Either the first run is still executing or it finished; both are fine.
	require.NoError(t, a.onInputChange(ctx, []string{"users.csv"}))

	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snap, err := a.Runner().Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, dag.RunSucceeded, snap.Status, snap.Error)
}

func TestApp_ServeShutsDownOnCancel(t *testing.T) {
	cfg := testConfig(t)
	cfg.Watch.Enabled = true
	cfg.Watch.Debounce = 50 * time.Millisecond
	a := newApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- a.Serve(ctx) }()

	url := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
