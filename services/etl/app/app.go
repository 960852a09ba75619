// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package app assembles the ETL service from its configuration: stores,
// the pipeline runner, the document loader, telemetry, the HTTP router and
// the optional input watcher.
//
// # Lifecycle
//
//	New ──► Serve (blocks until ctx is done) ──► Close
//
// The one-shot commands skip Serve and drive Runner or Loader directly.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianETL/services/etl/config"
	"github.com/AleutianAI/AleutianETL/services/etl/content"
	"github.com/AleutianAI/AleutianETL/services/etl/content/mongostore"
	"github.com/AleutianAI/AleutianETL/services/etl/dag"
	"github.com/AleutianAI/AleutianETL/services/etl/middleware"
	"github.com/AleutianAI/AleutianETL/services/etl/observability"
	"github.com/AleutianAI/AleutianETL/services/etl/pipeline"
	"github.com/AleutianAI/AleutianETL/services/etl/routes"
	"github.com/AleutianAI/AleutianETL/services/etl/telemetry"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse/postgres"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse/sqlite"
	"github.com/AleutianAI/AleutianETL/services/etl/watch"
)

// ServiceName identifies the service in logs, traces and metrics.
const ServiceName = "aleutian-etl"

// App is one configured ETL service.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	registry  *prometheus.Registry
	metrics   *observability.ETLMetrics
	providers *telemetry.Providers

	warehouse warehouse.Store
	docs      content.Store
	runner    *dag.Runner
	loader    *content.Runner
	router    *gin.Engine
}

// New builds every component described by cfg. Stores are opened but not
// written to; the schema is created by the pipeline itself.
//
// # Inputs
//
//   - ctx: Bounds store connection and telemetry setup.
//   - cfg: Validated configuration.
//   - logger: Nil means slog.Default().
//
// # Outputs
//
//   - *App: Ready to Serve. The caller must Close it.
//   - error: Any store or telemetry failure. Resources opened before the
//     failure are released.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	a := &App{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = observability.NewETLMetrics(a.registry)

	tcfg := cfg.Telemetry
	if tcfg.ServiceName == "" {
		tcfg.ServiceName = ServiceName
	}
	if a.providers, err = telemetry.Init(ctx, tcfg, a.registry); err != nil {
		return nil, err
	}

	if a.warehouse, err = openWarehouse(ctx, cfg); err != nil {
		return nil, err
	}
	if a.docs, err = openContent(ctx, cfg); err != nil {
		return nil, err
	}

	graph, err := pipeline.NewGraph(a.warehouse, pipeline.Options{
		UsersCSV:       cfg.Inputs.UsersCSV,
		SessionsCSV:    cfg.Inputs.SessionsCSV,
		BatchSize:      cfg.ETL.BatchSize,
		DeviceFallback: cfg.ETL.DeviceFallback,
		Metrics:        a.metrics,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}
	a.runner, err = dag.NewRunner(graph,
		dag.WithLogger(logger),
		dag.WithTracerProvider(a.providers.TracerProvider),
		dag.WithMeterProvider(a.providers.MeterProvider),
	)
	if err != nil {
		return nil, fmt.Errorf("build runner: %w", err)
	}

	a.loader = content.NewRunner(a.docs, content.Options{
		Path:      cfg.Inputs.ContentJSON,
		ListKey:   cfg.Inputs.ContentListKey,
		BatchSize: cfg.ETL.ContentBatchSize,
		Metrics:   a.metrics,
		Logger:    logger,
	})

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	a.router = routes.NewRouter(routes.Deps{
		ServiceName:    ServiceName,
		Pipeline:       a.runner,
		Warehouse:      a.warehouse,
		ContentLoader:  a.loader,
		Content:        a.docs,
		Metrics:        a.metrics,
		Gatherer:       a.registry,
		Limiter:        middleware.NewLimiter(cfg.Server.StartRate, cfg.Server.StartBurst),
		TracerProvider: a.providers.TracerProvider,
		Logger:         logger,
	})

	return a, nil
}

func openWarehouse(ctx context.Context, cfg config.Config) (warehouse.Store, error) {
	if cfg.Database.Driver == "sqlite" {
		s, err := sqlite.Open(cfg.Database.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite warehouse: %w", err)
		}
		return s, nil
	}
	s, err := postgres.Open(ctx, cfg.Postgres())
	if err != nil {
		return nil, fmt.Errorf("open postgres warehouse: %w", err)
	}
	return s, nil
}

func openContent(ctx context.Context, cfg config.Config) (content.Store, error) {
	if cfg.UseMemoryContent() {
		return content.NewMemoryStore(cfg.Mongo.Collection), nil
	}
	s, err := mongostore.Open(ctx, cfg.MongoStore())
	if err != nil {
		return nil, fmt.Errorf("open document store: %w", err)
	}
	return s, nil
}

// Runner returns the pipeline runner.
func (a *App) Runner() *dag.Runner { return a.runner }

// Loader returns the document loader.
func (a *App) Loader() *content.Runner { return a.loader }

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler { return a.router }

// Serve runs the HTTP server, and the input watcher when enabled, until ctx
// is done or one of them fails. The server is then shut down gracefully
// within the configured timeout.
func (a *App) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(a.cfg.Server.Port)),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	if a.cfg.Watch.Enabled {
		w, err := watch.New(
			[]string{a.cfg.Inputs.UsersCSV, a.cfg.Inputs.SessionsCSV},
			a.onInputChange,
			watch.Options{Debounce: a.cfg.Watch.Debounce, Logger: a.logger},
		)
		if err != nil {
			return fmt.Errorf("input watcher: %w", err)
		}
		g.Go(func() error { return w.Run(gctx) })
	}

	return g.Wait()
}

// onInputChange starts a pipeline run after the input files changed. A run
// that is already executing picks up nothing new, so the change is logged
// and dropped.
func (a *App) onInputChange(ctx context.Context, changed []string) error {
	snap, err := a.runner.Start(ctx)
	if errors.Is(err, dag.ErrAlreadyRunning) {
		a.logger.Info("input changed while pipeline running; ignoring",
			slog.Any("files", changed),
			slog.String("execution_id", snap.ExecutionID))
		return nil
	}
	if err != nil {
		return err
	}
	a.logger.Info("pipeline started by input change",
		slog.Any("files", changed),
		slog.String("execution_id", snap.ExecutionID))
	return nil
}

// Close waits for an executing pipeline run up to ctx, then releases the
// stores and flushes telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.runner != nil {
		if _, err := a.runner.Wait(ctx); err != nil {
			errs = append(errs, fmt.Errorf("wait for pipeline: %w", err))
		}
	}
	if a.warehouse != nil {
		errs = append(errs, a.warehouse.Close())
	}
	if a.docs != nil {
		errs = append(errs, a.docs.Close(ctx))
	}
	if a.providers != nil {
		errs = append(errs, a.providers.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
