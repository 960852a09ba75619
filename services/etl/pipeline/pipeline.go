// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline defines the streaming-platform ETL as a fixed graph of
// eight steps executed by the dag runner:
//
//	validate_files → create_schema → load_dimensions → process_users →
//	process_sessions → create_aggregations → validate_data → generate_stats
//
// Each step is a dag.Task bound to a warehouse.Store. The dimension lookup
// built by load_dimensions is passed to the loaders as that step's output and
// lives only as long as one execution.
package pipeline

import (
	"errors"
	"log/slog"

	"github.com/AleutianAI/AleutianETL/services/etl/dag"
	"github.com/AleutianAI/AleutianETL/services/etl/observability"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"
)

// Pipeline identity.
const (
	PipelineID   = "streaming_etl_dag"
	PipelineName = "Streaming Data ETL Pipeline"
)

// Step ids in declaration order.
const (
	StepValidateFiles      = "validate_files"
	StepCreateSchema       = "create_schema"
	StepLoadDimensions     = "load_dimensions"
	StepProcessUsers       = "process_users"
	StepProcessSessions    = "process_sessions"
	StepCreateAggregations = "create_aggregations"
	StepValidateData       = "validate_data"
	StepGenerateStats      = "generate_stats"
)

// DefaultBatchSize is the number of rows written per transaction.
const DefaultBatchSize = 500

// ErrQualityGate indicates the loaded data failed a blocking quality check.
var ErrQualityGate = errors.New("data quality check failed")

// Options configures the pipeline steps.
type Options struct {
	// UsersCSV and SessionsCSV are the source file paths.
	UsersCSV    string
	SessionsCSV string

	// BatchSize is the number of rows per write. Zero means DefaultBatchSize.
	BatchSize int

	// DeviceFallback names the device type used for unknown or missing
	// devices. Empty stores NULL instead.
	DeviceFallback string

	// SubscriptionTiers and DeviceTypes are the dimension seeds. Nil means
	// the warehouse defaults.
	SubscriptionTiers []warehouse.SubscriptionTier
	DeviceTypes       []warehouse.DeviceType

	// Metrics is optional.
	Metrics *observability.ETLMetrics

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.SubscriptionTiers == nil {
		o.SubscriptionTiers = warehouse.DefaultSubscriptionTiers
	}
	if o.DeviceTypes == nil {
		o.DeviceTypes = warehouse.DefaultDeviceTypes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// NewGraph builds the eight-step graph over store.
func NewGraph(store warehouse.Store, opts Options) (*dag.Graph, error) {
	s := &steps{store: store, opts: opts.withDefaults()}
	s.logger = s.opts.Logger.With(slog.String("component", "pipeline"))

	return dag.NewGraph(PipelineID, PipelineName,
		dag.Step{ID: StepValidateFiles, Name: "Validate CSV Files", Task: s.validateFiles},
		dag.Step{ID: StepCreateSchema, Name: "Create Database Schema",
			DependsOn: []string{StepValidateFiles}, Task: s.createSchema},
		dag.Step{ID: StepLoadDimensions, Name: "Load Dimension Tables",
			DependsOn: []string{StepCreateSchema}, Task: s.loadDimensions},
		dag.Step{ID: StepProcessUsers, Name: "Process Users Data",
			DependsOn: []string{StepLoadDimensions}, Task: s.processUsers},
		dag.Step{ID: StepProcessSessions, Name: "Process Sessions Data",
			DependsOn: []string{StepProcessUsers}, Task: s.processSessions},
		dag.Step{ID: StepCreateAggregations, Name: "Create Aggregations",
			DependsOn: []string{StepProcessSessions}, Task: s.createAggregations},
		dag.Step{ID: StepValidateData, Name: "Validate Data Quality",
			DependsOn: []string{StepCreateAggregations}, Task: s.validateData},
		dag.Step{ID: StepGenerateStats, Name: "Generate Statistics",
			DependsOn: []string{StepValidateData}, Task: s.generateStats},
	)
}
