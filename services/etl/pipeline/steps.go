// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianETL/services/etl/dag"
	"github.com/AleutianAI/AleutianETL/services/etl/source"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"
)

type steps struct {
	store  warehouse.Store
	opts   Options
	logger *slog.Logger
}

func (s *steps) validateFiles(_ context.Context, _ dag.Inputs) (dag.Output, error) {
	var errs []error
	for _, path := range []string{s.opts.UsersCSV, s.opts.SessionsCSV} {
		if err := source.CheckFile(path); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return dag.Output{}, err
	}
	return dag.Output{Summary: fmt.Sprintf("found %s and %s", s.opts.UsersCSV, s.opts.SessionsCSV)}, nil
}

func (s *steps) createSchema(ctx context.Context, _ dag.Inputs) (dag.Output, error) {
	if err := s.store.CreateSchema(ctx); err != nil {
		return dag.Output{}, err
	}
	return dag.Output{Summary: "schema ready"}, nil
}

func (s *steps) loadDimensions(ctx context.Context, _ dag.Inputs) (dag.Output, error) {
	if err := s.store.UpsertSubscriptionTiers(ctx, s.opts.SubscriptionTiers); err != nil {
		return dag.Output{}, err
	}
	if err := s.store.UpsertDeviceTypes(ctx, s.opts.DeviceTypes); err != nil {
		return dag.Output{}, err
	}
	lookup, err := s.store.Lookup(ctx)
	if err != nil {
		return dag.Output{}, err
	}

	subs, devices := lookup.Sizes()
	out := dag.Output{
		Value:   lookup,
		Records: dag.RecordCount(int64(subs + devices)),
		Summary: fmt.Sprintf("%d subscription types, %d device types", subs, devices),
	}
	if s.opts.DeviceFallback != "" && lookup.DeviceID(s.opts.DeviceFallback) == nil {
		out.Warnings = append(out.Warnings,
			fmt.Sprintf("device fallback %q is not a known device type; unknown devices will be stored as null", s.opts.DeviceFallback))
	}
	return out, nil
}

func (s *steps) processUsers(ctx context.Context, in dag.Inputs) (dag.Output, error) {
	lookup, err := dag.InputAs[warehouse.Lookup](in, StepLoadDimensions)
	if err != nil {
		return dag.Output{}, err
	}

	rows, err := source.OpenCSV(s.opts.UsersCSV)
	if err != nil {
		return dag.Output{}, err
	}
	defer rows.Close()

	if err := s.store.ClearUsers(ctx); err != nil {
		return dag.Output{}, err
	}

	loader := batchLoader[warehouse.User]{
		step:      StepProcessUsers,
		batchSize: s.opts.BatchSize,
		parse: func(row source.Row) Parsed[warehouse.User] {
			return ParseUser(row, lookup)
		},
		flush:   s.store.UpsertUsers,
		metrics: s.opts.Metrics,
		logger:  s.logger,
	}
	res, err := loader.load(ctx, rows)
	if err != nil {
		return dag.Output{}, err
	}

	s.logger.Info("users loaded",
		slog.Int64("read", res.Read),
		slog.Int64("loaded", res.Loaded),
		slog.Int64("dropped", res.DroppedTotal()))
	return dag.Output{
		Records:  dag.RecordCount(res.Loaded),
		Warnings: res.Warnings(),
		Summary:  loadSummary("users", res),
	}, nil
}

func (s *steps) processSessions(ctx context.Context, in dag.Inputs) (dag.Output, error) {
	lookup, err := dag.InputAs[warehouse.Lookup](in, StepLoadDimensions)
	if err != nil {
		return dag.Output{}, err
	}

	rows, err := source.OpenCSV(s.opts.SessionsCSV)
	if err != nil {
		return dag.Output{}, err
	}
	defer rows.Close()

	if err := s.store.ClearSessions(ctx); err != nil {
		return dag.Output{}, err
	}

	fallback := s.opts.DeviceFallback
	loader := batchLoader[warehouse.Session]{
		step:      StepProcessSessions,
		batchSize: s.opts.BatchSize,
		parse: func(row source.Row) Parsed[warehouse.Session] {
			return ParseSession(row, lookup, fallback)
		},
		flush:   s.store.UpsertSessions,
		metrics: s.opts.Metrics,
		logger:  s.logger,
	}
	res, err := loader.load(ctx, rows)
	if err != nil {
		return dag.Output{}, err
	}

	s.logger.Info("sessions loaded",
		slog.Int64("read", res.Read),
		slog.Int64("loaded", res.Loaded),
		slog.Int64("dropped", res.DroppedTotal()))
	return dag.Output{
		Records:  dag.RecordCount(res.Loaded),
		Warnings: res.Warnings(),
		Summary:  loadSummary("sessions", res),
	}, nil
}

func (s *steps) createAggregations(ctx context.Context, _ dag.Inputs) (dag.Output, error) {
	n, err := s.store.RebuildUserMetrics(ctx)
	if err != nil {
		return dag.Output{}, err
	}
	return dag.Output{
		Records: dag.RecordCount(n),
		Summary: fmt.Sprintf("built metrics for %d users", n),
	}, nil
}

func (s *steps) validateData(ctx context.Context, _ dag.Inputs) (dag.Output, error) {
	report, err := s.store.QualityReport(ctx)
	if err != nil {
		return dag.Output{}, err
	}
	if err := CheckQuality(report); err != nil {
		return dag.Output{}, err
	}

	warnings := QualityWarnings(report)
	for _, w := range warnings {
		s.logger.Warn("data quality", slog.String("finding", w))
	}
	return dag.Output{
		Warnings: warnings,
		Summary:  fmt.Sprintf("%d users, %d sessions, %d warning(s)", report.Users, report.Sessions, len(warnings)),
	}, nil
}

func (s *steps) generateStats(ctx context.Context, _ dag.Inputs) (dag.Output, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return dag.Output{}, err
	}

	s.logger.Info("pipeline statistics",
		slog.Int64("total_users", stats.TotalUsers),
		slog.Int64("total_sessions", stats.TotalSessions),
		slog.Float64("avg_completion", stats.AvgCompletion),
		slog.Int64("total_watch_minutes", stats.TotalWatchMinutes),
		slog.Int64("distinct_content", stats.DistinctContent))
	return dag.Output{
		Value:   stats,
		Summary: StatsSummary(stats),
	}, nil
}
