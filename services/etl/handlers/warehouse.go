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
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianETL/pkg/validation"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"
)

const defaultUserLimit = 50

// WarehouseReader serves the dashboard read endpoints.
type WarehouseReader interface {
	Analytics(ctx context.Context) (warehouse.Analytics, error)
	ActivityMetrics(ctx context.Context) (warehouse.ActivityMetrics, error)
	ListUsers(ctx context.Context, q warehouse.UserQuery) (warehouse.UserPage, error)
	UserStats(ctx context.Context) (warehouse.UserStats, error)
}

// GetAnalytics returns dashboard aggregates.
func GetAnalytics(w WarehouseReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, err := w.Analytics(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "analytics": a})
	}
}

// GetActivityMetrics returns headline activity numbers.
func GetActivityMetrics(w WarehouseReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := w.ActivityMetrics(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": m})
	}
}

// ListUsers pages through users with their metrics.
//
// Query parameters: search, sortBy (default user_id), order (asc unless
// "desc"), page and limit (default 50, max 100).
func ListUsers(w WarehouseReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		search, err := validation.SanitizeSearchTerm(c.Query("search"))
		if err != nil {
			AbortWithError(c, fmt.Errorf("%w: %v", ErrBadParameter, err))
			return
		}
		page, err := queryInt(c, "page", 1)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		limit, err := queryInt(c, "limit", defaultUserLimit)
		if err != nil {
			AbortWithError(c, err)
			return
		}
		page, limit, offset := validation.ClampPage(page, limit, defaultUserLimit, maxPageLimit)

		result, err := w.ListUsers(c.Request.Context(), warehouse.UserQuery{
			Search: search,
			SortBy: c.Query("sortBy"),
			Desc:   validation.IsDescending(c.Query("order")),
			Limit:  limit,
			Offset: offset,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"data":       result.Users,
			"pagination": newPagination(page, limit, result.Total),
		})
	}
}

// GetUserStats summarizes the user base.
func GetUserStats(w WarehouseReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := w.UserStats(c.Request.Context())
		if err != nil {
			AbortWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "stats": stats})
	}
}

// HealthCheck reports liveness.
func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "OK",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}
