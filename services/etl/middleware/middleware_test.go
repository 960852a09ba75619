// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianETL/services/etl/handlers"
	"github.com/AleutianAI/AleutianETL/services/etl/observability"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(router *gin.Engine, method, target string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	t.Run("generated when absent", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/ping", nil)
		id := w.Header().Get(RequestIDHeader)
		_, err := uuid.Parse(id)
		require.NoError(t, err)
		assert.Equal(t, id, w.Body.String())
	})

	t.Run("client id kept", func(t *testing.T) {
		w := serve(router, http.MethodGet, "/ping", http.Header{RequestIDHeader: {"trace-abc-123"}})
		assert.Equal(t, "trace-abc-123", w.Header().Get(RequestIDHeader))
		assert.Equal(t, "trace-abc-123", w.Body.String())
	})

	t.Run("malformed id replaced", func(t *testing.T) {
		for _, bad := range []string{"has space", strings.Repeat("x", maxRequestIDLength+1)} {
			w := serve(router, http.MethodGet, "/ping", http.Header{RequestIDHeader: {bad}})
			assert.NotEqual(t, bad, w.Header().Get(RequestIDHeader))
			_, err := uuid.Parse(w.Header().Get(RequestIDHeader))
			assert.NoError(t, err)
		}
	})
}

func TestRequestMetrics(t *testing.T) {
	m := observability.NewETLMetrics(prometheus.NewRegistry())
	router := gin.New()
	router.Use(RequestMetrics(m))
	router.GET("/users/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	serve(router, http.MethodGet, "/users/1", nil)
	serve(router, http.MethodGet, "/users/2", nil)
	serve(router, http.MethodGet, "/nowhere", nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("/users/:id", "GET", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(unmatchedRoute, "GET", "404")))
}

func TestRequestMetrics_NilMetrics(t *testing.T) {
	router := gin.New()
	router.Use(RequestMetrics(nil))
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, serve(router, http.MethodGet, "/ok", nil).Code)
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	router := gin.New()
	router.Use(RequestID(), RequestLogger(logger))
	router.GET("/fail", func(c *gin.Context) {
		handlers.AbortWithStatus(c, http.StatusInternalServerError, handlers.CodeInternal, "boom")
	})

	serve(router, http.MethodGet, "/fail", http.Header{RequestIDHeader: {"req-1"}})

	out := buf.String()
	assert.Contains(t, out, `"level":"ERROR"`)
	assert.Contains(t, out, `"request_id":"req-1"`)
	assert.Contains(t, out, `"route":"/fail"`)
	assert.Contains(t, out, `"status":500`)
}

func TestRateLimit(t *testing.T) {
	router := gin.New()
	router.POST("/etl/start", RateLimit(rate.NewLimiter(rate.Every(1<<62), 2)), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/etl/start", nil).Code)
	assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/etl/start", nil).Code)

	w := serve(router, http.MethodPost, "/etl/start", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), handlers.CodeRateLimited)
}

func TestRateLimit_NilLimiterAllows(t *testing.T) {
	router := gin.New()
	router.POST("/x", RateLimit(nil), func(c *gin.Context) { c.Status(http.StatusOK) })

	for range 5 {
		assert.Equal(t, http.StatusOK, serve(router, http.MethodPost, "/x", nil).Code)
	}
}

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(0.5, 3)
	assert.Equal(t, rate.Limit(0.5), l.Limit())
	assert.Equal(t, 3, l.Burst())
}
