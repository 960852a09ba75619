// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP surface of the ETL service.
//
// Every constructor takes the narrow interface it needs and returns a
// gin.HandlerFunc, so routes can be assembled from real stores in the
// service and from fakes in tests.
package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianETL/services/etl/content"
	"github.com/AleutianAI/AleutianETL/services/etl/dag"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"
)

// Error codes carried in the "code" field of error responses.
const (
	CodeAlreadyRunning = "ALREADY_RUNNING"
	CodePipelineBusy   = "PIPELINE_BUSY"
	CodeInvalidQuery   = "INVALID_QUERY"
	CodeStorage        = "STORAGE_ERROR"
	CodeRateLimited    = "RATE_LIMITED"
	CodeInternal       = "INTERNAL_ERROR"
)

// ErrBadParameter indicates a query parameter that could not be parsed.
var ErrBadParameter = errors.New("invalid query parameter")

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Pagination describes the page returned by a list endpoint.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int64 `json:"pages"`
}

func newPagination(page, limit int, total int64) Pagination {
	p := Pagination{Page: page, Limit: limit, Total: total}
	if limit > 0 {
		p.Pages = (total + int64(limit) - 1) / int64(limit)
	}
	return p
}

// classify maps an error to an HTTP status and error code.
func classify(err error) (int, string) {
	switch {
	case errors.Is(err, dag.ErrAlreadyRunning), errors.Is(err, content.ErrAlreadyRunning):
		return http.StatusConflict, CodeAlreadyRunning
	case errors.Is(err, dag.ErrPipelineBusy):
		return http.StatusConflict, CodePipelineBusy
	case errors.Is(err, ErrBadParameter),
		errors.Is(err, content.ErrInvalidQuery),
		errors.Is(err, warehouse.ErrInvalidQuery):
		return http.StatusBadRequest, CodeInvalidQuery
	case errors.Is(err, warehouse.ErrStorage):
		return http.StatusInternalServerError, CodeStorage
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

// AbortWithError writes the error envelope for err and stops the chain.
func AbortWithError(c *gin.Context, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err)
	}
	_ = c.Error(err)
	c.AbortWithStatusJSON(status, ErrorResponse{Message: err.Error(), Code: code})
}

// queryInt parses the integer query parameter key, returning def when it is
// absent or empty.
func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrBadParameter, key, raw)
	}
	return n, nil
}

// AbortWithStatus writes the error envelope with an explicit status and code.
func AbortWithStatus(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Message: message, Code: code})
}
