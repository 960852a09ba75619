// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides the gin middleware of the ETL service.
//
// # Request Flow
//
//	Request
//	   │
//	   ▼
//	RequestID ──► reuse or mint X-Request-ID
//	   │
//	   ▼
//	RequestMetrics ──► count by route, method and status after the handler
//	   │
//	   ▼
//	RequestLogger ──► one structured line per request
//	   │
//	   ▼
//	RateLimit (control routes only) ──► 429 when the token bucket is empty
//	   │
//	   ▼
//	Handler
package middleware

import (
	"log/slog"
	"net/http"
	"time"
	"unicode"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianETL/services/etl/handlers"
	"github.com/AleutianAI/AleutianETL/services/etl/observability"
)

// =============================================================================
// Context Keys
// =============================================================================

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// requestIDKey is the gin context key for the request id.
const requestIDKey = "aleutian_request_id"

// maxRequestIDLength bounds ids accepted from clients.
const maxRequestIDLength = 128

// unmatchedRoute labels requests that did not match any route, keeping the
// metric cardinality bounded.
const unmatchedRoute = "unmatched"

// =============================================================================
// Request ID
// =============================================================================

// RequestID assigns every request an id.
//
// # Description
//
// A well formed X-Request-ID sent by the client is kept; otherwise a random
// UUID is generated. The id is echoed in the response header and stored in
// the gin context for GetRequestID.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if !validRequestID(id) {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}

// GetRequestID returns the id assigned by RequestID, or "" when the
// middleware did not run.
func GetRequestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, r := range id {
		if unicode.IsControl(r) || unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

// =============================================================================
// Metrics and Logging
// =============================================================================

// RequestMetrics counts requests by matched route, method and status code.
// A nil m disables counting.
func RequestMetrics(m *observability.ETLMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		m.RecordRequest(routeLabel(c), c.Request.Method, c.Writer.Status())
	}
}

// RequestLogger writes one line per request. Server errors are logged at
// Error, everything else at Debug.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("request_id", GetRequestID(c)),
			slog.String("method", c.Request.Method),
			slog.String("route", routeLabel(c)),
			slog.Int("status", status),
			slog.Duration("latency", time.Since(start)),
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, slog.String("error", c.Errors.Last().Error()))
		}
		logger.LogAttrs(c.Request.Context(), level, "http request", attrs...)
	}
}

func routeLabel(c *gin.Context) string {
	if route := c.FullPath(); route != "" {
		return route
	}
	return unmatchedRoute
}

// =============================================================================
// Rate Limiting
// =============================================================================

// RateLimit rejects requests with 429 once limiter has no tokens left.
//
// # Description
//
// The limiter is shared by every route the middleware is attached to, so
// the control endpoints of one service draw from a single bucket.
//
// # Inputs
//
//   - limiter: Token bucket. A nil limiter allows everything.
func RateLimit(limiter *rate.Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter != nil && !limiter.Allow() {
			handlers.AbortWithStatus(c, http.StatusTooManyRequests, handlers.CodeRateLimited, "too many requests")
			return
		}
		c.Next()
	}
}

// NewLimiter builds a token bucket refilling perSecond tokens per second
// with room for burst.
func NewLimiter(perSecond float64, burst int) *rate.Limiter {
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
