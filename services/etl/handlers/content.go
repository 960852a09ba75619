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
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianETL/pkg/validation"
	"github.com/AleutianAI/AleutianETL/services/etl/content"
)

const (
	defaultContentLimit = 10
	maxPageLimit        = 100
)

// ContentLoader runs the document pipeline.
type ContentLoader interface {
	Run(ctx context.Context) (content.Result, error)
}

// ContentReader serves the document read endpoints.
type ContentReader interface {
	List(ctx context.Context, q content.Query) (content.Page, error)
	Stats(ctx context.Context) (content.Stats, error)
	Schema(ctx context.Context) (content.Schema, error)
}

// ContentRunResponse is the result of a document load, with an error code
// when it did not complete.
type ContentRunResponse struct {
	content.Result
	Code string `json:"code,omitempty"`
}

// RunContentETL loads the content catalogue synchronously. The load keeps
// going if the client disconnects.
func RunContentETL(l ContentLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := l.Run(context.WithoutCancel(c.Request.Context()))
		switch {
		case err == nil:
			c.JSON(http.StatusOK, ContentRunResponse{Result: res})
		case errors.Is(err, content.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, ContentRunResponse{Result: res, Code: CodeAlreadyRunning})
		default:
			_, code := classify(err)
			c.JSON(http.StatusInternalServerError, ContentRunResponse{Result: res, Code: code})
		}
	}
}

// ListContent pages through the catalogue.
//
// Query parameters: page (1-based), limit (default 10, max 100), genre,
// year, sortBy (default rating) and order (desc unless "asc").
func ListContent(r ContentReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := queryInt(c, "page", 1)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		limit, err := queryInt(c, "limit", defaultContentLimit)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		year, err := queryInt(c, "year", 0)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		page, limit, offset := validation.ClampPage(page, limit, defaultContentLimit, maxPageLimit)

		q := content.Query{
			Genre:  strings.TrimSpace(c.Query("genre")),
			Year:   year,
			SortBy: c.Query("sortBy"),
			Desc:   !strings.EqualFold(strings.TrimSpace(c.Query("order")), "asc"),
			Limit:  limit,
			Offset: offset,
		}
		result, err := r.List(c.Request.Context(), q)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"data":       result.Items,
			"pagination": newPagination(page, limit, result.Total),
		})
	}
}

// GetContentStats returns collection level aggregates.
func GetContentStats(r ContentReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := r.Stats(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
	}
}

// GetContentSchema describes the collection: indexes, a sample document and
// its fields.
func GetContentSchema(r ContentReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		schema, err := r.Schema(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "schema": schema})
	}
}
