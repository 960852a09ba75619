// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/AleutianETL/pkg/validation"
	"github.com/AleutianAI/AleutianETL/services/etl/observability"
	"github.com/AleutianAI/AleutianETL/services/etl/source"
)

// Defaults for Options.
const (
	DefaultListKey   = "movies"
	DefaultBatchSize = 100
	DefaultSortBy    = "rating"
)

// Options configures a Runner.
type Options struct {
	// Path is the JSON file holding the records.
	Path string

	// ListKey is the object key of the record list. Defaults to "movies".
	ListKey string

	// BatchSize is the number of records per upsert. Defaults to 100.
	BatchSize int

	Metrics *observability.ETLMetrics
	Logger  *slog.Logger
}

// RunStats counts the records processed by one run. Duration is in
// milliseconds.
type RunStats struct {
	TotalDocuments int64 `json:"totalDocuments" yaml:"totalDocuments"`
	Inserted       int64 `json:"inserted" yaml:"inserted"`
	Updated        int64 `json:"updated" yaml:"updated"`
	Failed         int64 `json:"failed" yaml:"failed"`
	Duration       int64 `json:"duration" yaml:"duration"`
}

// Result is the outcome of one run.
type Result struct {
	Success bool     `json:"success" yaml:"success"`
	Message string   `json:"message" yaml:"message"`
	Stats   RunStats `json:"stats" yaml:"stats"`
}

// Runner loads the JSON catalogue into a Store.
type Runner struct {
	store    Store
	opts     Options
	validate *validator.Validate
	logger   *slog.Logger
	mu       sync.Mutex
	now      func() time.Time
}

// NewRunner creates a Runner over store.
func NewRunner(store Store, opts Options) *Runner {
	if opts.ListKey == "" {
		opts.ListKey = DefaultListKey
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store:    store,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger.With(slog.String("component", "content_etl")),
		now:      time.Now,
	}
}

// Store returns the store the runner writes to.
func (r *Runner) Store() Store {
	return r.store
}

// Run performs one load.
//
// Outputs:
//
//	Result - Always populated; Success is false when err is non-nil.
//	error - ErrAlreadyRunning when a load is executing, or the fatal error
//	        that stopped this one (unreachable store, unreadable file,
//	        failed clear or index build).
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if !r.mu.TryLock() {
		return Result{Message: ErrAlreadyRunning.Error()}, ErrAlreadyRunning
	}
	defer r.mu.Unlock()

	start := r.now()
	stats, err := r.run(ctx)
	stats.Duration = r.now().Sub(start).Milliseconds()
	r.opts.Metrics.RecordDocuments(stats.Inserted, stats.Updated, stats.Failed, err)

	if err != nil {
		r.logger.Error("content ETL failed",
			slog.String("error", err.Error()),
			slog.Int64("duration_ms", stats.Duration))
		return Result{Message: err.Error(), Stats: stats}, err
	}

	r.logger.Info("content ETL completed",
		slog.Int64("total", stats.TotalDocuments),
		slog.Int64("inserted", stats.Inserted),
		slog.Int64("updated", stats.Updated),
		slog.Int64("failed", stats.Failed),
		slog.Int64("duration_ms", stats.Duration))
	return Result{Success: true, Message: "content ETL completed successfully", Stats: stats}, nil
}

func (r *Runner) run(ctx context.Context) (RunStats, error) {
	var stats RunStats

	if err := r.store.Ping(ctx); err != nil {
		return stats, fmt.Errorf("connect document store: %w", err)
	}

	raw, err := source.ReadJSONList(r.opts.Path, r.opts.ListKey)
	if err != nil {
		return stats, err
	}
	stats.TotalDocuments = int64(len(raw))
	r.logger.Info("content records found", slog.Int("count", len(raw)), slog.String("path", r.opts.Path))

	removed, err := r.store.DeleteAll(ctx)
	if err != nil {
		return stats, fmt.Errorf("clear collection: %w", err)
	}
	r.logger.Debug("collection cleared", slog.Int64("removed", removed))

	batch := make([]Record, 0, r.opts.BatchSize)
	batchNo := 0
	flush := func() {
		if len(batch) == 0 {
			return
		}
		batchNo++
		res, err := r.store.Upsert(ctx, batch)
		if err != nil {
			stats.Failed += int64(len(batch))
			r.logger.Error("content batch failed",
				slog.Int("batch", batchNo),
				slog.Int("records", len(batch)),
				slog.String("error", err.Error()))
		} else {
			stats.Inserted += res.Inserted
			stats.Updated += res.Updated
			r.logger.Debug("content batch written",
				slog.Int("batch", batchNo),
				slog.Int64("inserted", res.Inserted),
				slog.Int64("updated", res.Updated))
		}
		batch = batch[:0]
	}

	for i, msg := range raw {
		rec, err := r.Decode(msg)
		if err != nil {
			stats.Failed++
			r.logger.Warn("content record rejected", slog.Int("index", i), slog.String("error", err.Error()))
			continue
		}
		batch = append(batch, rec)
		if len(batch) >= r.opts.BatchSize {
			flush()
		}
	}
	flush()

	if err := r.store.EnsureIndexes(ctx); err != nil {
		return stats, fmt.Errorf("create indexes: %w", err)
	}
	return stats, nil
}

// Decode parses and validates one JSON record.
func (r *Runner) Decode(msg json.RawMessage) (Record, error) {
	var rec Record
	if err := json.Unmarshal(msg, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	if err := r.validate.Struct(rec); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return Record{}, fmt.Errorf("%w: %s: field %s failed %q", ErrInvalidRecord, rec.ContentID, verrs[0].Field(), verrs[0].Tag())
		}
		return Record{}, fmt.Errorf("%w: %w", ErrInvalidRecord, err)
	}
	return rec, nil
}

// NormalizeQuery applies defaults and rejects unsupported sort fields.
func NormalizeQuery(q Query) (Query, error) {
	if q.SortBy == "" {
		q.SortBy = DefaultSortBy
	}
	if err := validation.ValidateSortField(q.SortBy, SortFields); err != nil {
		return q, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}
	if q.Limit <= 0 {
		q.Limit = 10
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q, nil
}
