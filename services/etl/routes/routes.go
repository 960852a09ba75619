// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianETL/services/etl/handlers"
	"github.com/AleutianAI/AleutianETL/services/etl/middleware"
	"github.com/AleutianAI/AleutianETL/services/etl/observability"
	"github.com/AleutianAI/AleutianETL/services/etl/telemetry"
)

// APIPrefix is the second mount point of every route, kept for dashboards
// that call the service under /api.
const APIPrefix = "/api"

// Deps holds what the routes serve. Nil readers leave their routes
// unregistered.
type Deps struct {
	ServiceName    string
	Pipeline       handlers.Pipeline
	Warehouse      handlers.WarehouseReader
	ContentLoader  handlers.ContentLoader
	Content        handlers.ContentReader
	Metrics        *observability.ETLMetrics
	Gatherer       prometheus.Gatherer
	Limiter        *rate.Limiter
	TracerProvider trace.TracerProvider
	Logger         *slog.Logger
}

// NewRouter builds the engine with the standard middleware chain and every
// route registered.
func NewRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	var otelOpts []otelgin.Option
	if d.TracerProvider != nil {
		otelOpts = append(otelOpts, otelgin.WithTracerProvider(d.TracerProvider))
	}
	router.Use(otelgin.Middleware(d.ServiceName, otelOpts...))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestMetrics(d.Metrics))
	router.Use(middleware.RequestLogger(d.Logger))

	SetupRoutes(router, d)
	return router
}

// SetupRoutes registers every route at the root of router and again under
// APIPrefix.
func SetupRoutes(router *gin.Engine, d Deps) {
	register(router, d)
	register(router.Group(APIPrefix), d)
}

func register(r gin.IRouter, d Deps) {
	r.GET("/health", handlers.HealthCheck)
	if d.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(telemetry.MetricsHandler(d.Gatherer)))
	}

	limited := middleware.RateLimit(d.Limiter)

	if d.Pipeline != nil {
		etl := r.Group("/etl")
		{
			etl.POST("/start", limited, handlers.StartETL(d.Pipeline))
			etl.GET("/status", handlers.GetETLStatus(d.Pipeline))
			etl.POST("/reset", limited, handlers.ResetETL(d.Pipeline))
		}
	}

	if d.Warehouse != nil {
		r.GET("/analytics", handlers.GetAnalytics(d.Warehouse))
		r.GET("/analytics/metrics", handlers.GetActivityMetrics(d.Warehouse))
		r.GET("/users", handlers.ListUsers(d.Warehouse))
		r.GET("/users/stats", handlers.GetUserStats(d.Warehouse))
	}

	if d.ContentLoader != nil {
		r.POST("/content/etl", limited, handlers.RunContentETL(d.ContentLoader))
	}
	if d.Content != nil {
		r.GET("/content", handlers.ListContent(d.Content))
		r.GET("/content/stats", handlers.GetContentStats(d.Content))
		r.GET("/content/schema", handlers.GetContentSchema(d.Content))
	}
}
