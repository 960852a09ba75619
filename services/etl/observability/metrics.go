// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the ETL service.
//
// # Description
//
// Metrics cover the work done inside pipeline steps, which the DAG runner's
// OpenTelemetry instruments cannot see:
//   - Rows read, loaded and dropped per loader step
//   - Batch flushes by outcome
//   - Document ETL runs and documents by outcome
//   - HTTP requests by route and status
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
// Every Record method is a no-op on a nil *ETLMetrics.
package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "aleutian"

// Subsystem for ETL metrics
const etlSubsystem = "etl"

// ETLMetrics holds all Prometheus metrics of the ETL service.
type ETLMetrics struct {
	// RowsTotal counts source rows by step and outcome.
	// Labels: step (process_users, process_sessions), outcome (read, loaded, dropped)
	RowsTotal *prometheus.CounterVec

	// BatchesTotal counts batch flushes.
	// Labels: step, status (success, error)
	BatchesTotal *prometheus.CounterVec

	// BatchDurationSeconds measures one batch flush.
	// Labels: step
	BatchDurationSeconds *prometheus.HistogramVec

	// DocumentsTotal counts documents handled by the document ETL.
	// Labels: outcome (inserted, updated, failed)
	DocumentsTotal *prometheus.CounterVec

	// DocumentRunsTotal counts document ETL runs.
	// Labels: status (success, error)
	DocumentRunsTotal *prometheus.CounterVec

	// HTTPRequestsTotal counts HTTP requests.
	// Labels: route, method, code
	HTTPRequestsTotal *prometheus.CounterVec
}

// NewETLMetrics creates and registers the metrics with reg.
//
// # Inputs
//
//   - reg: Registerer to use. Nil means prometheus.DefaultRegisterer.
//
// # Limitations
//
//   - Panics if the metrics are already registered with reg.
func NewETLMetrics(reg prometheus.Registerer) *ETLMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &ETLMetrics{
		RowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: etlSubsystem,
				Name:      "rows_total",
				Help:      "Source rows by loader step and outcome",
			},
			[]string{"step", "outcome"},
		),

		BatchesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: etlSubsystem,
				Name:      "batches_total",
				Help:      "Batch flushes by loader step and status",
			},
			[]string{"step", "status"},
		),

		BatchDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: etlSubsystem,
				Name:      "batch_duration_seconds",
				Help:      "Time to flush one batch in seconds",
				Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"step"},
		),

		DocumentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: etlSubsystem,
				Name:      "documents_total",
				Help:      "Documents processed by the document ETL by outcome",
			},
			[]string{"outcome"},
		),

		DocumentRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: etlSubsystem,
				Name:      "document_runs_total",
				Help:      "Document ETL runs by status",
			},
			[]string{"status"},
		),

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: etlSubsystem,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
	}
}

// RecordRows adds n rows with the given outcome for step.
func (m *ETLMetrics) RecordRows(step, outcome string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.RowsTotal.WithLabelValues(step, outcome).Add(float64(n))
}

// RecordBatch records one batch flush.
func (m *ETLMetrics) RecordBatch(step string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(step, statusLabel(err)).Inc()
	m.BatchDurationSeconds.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordDocuments records the outcome counts of one document ETL run.
func (m *ETLMetrics) RecordDocuments(inserted, updated, failed int64, err error) {
	if m == nil {
		return
	}
	m.DocumentsTotal.WithLabelValues("inserted").Add(float64(inserted))
	m.DocumentsTotal.WithLabelValues("updated").Add(float64(updated))
	m.DocumentsTotal.WithLabelValues("failed").Add(float64(failed))
	m.DocumentRunsTotal.WithLabelValues(statusLabel(err)).Inc()
}

// RecordRequest records one HTTP request.
func (m *ETLMetrics) RecordRequest(route, method string, code int) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequestsTotal.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
}

func statusLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
