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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianETL/services/etl/observability"
	"github.com/AleutianAI/AleutianETL/services/etl/source"
)

// LoadResult summarizes one streamed CSV load.
type LoadResult struct {
	Read    int64
	Loaded  int64
	Dropped map[string]int64
	Batches int
}

// DroppedTotal returns the number of rows dropped for any reason.
func (r LoadResult) DroppedTotal() int64 {
	var n int64
	for _, c := range r.Dropped {
		n += c
	}
	return n
}

// Warnings renders one warning per drop reason, sorted by reason.
func (r LoadResult) Warnings() []string {
	if len(r.Dropped) == 0 {
		return nil
	}
	reasons := make([]string, 0, len(r.Dropped))
	for reason := range r.Dropped {
		reasons = append(reasons, reason)
	}
	sort.Strings(reasons)

	out := make([]string, 0, len(reasons))
	for _, reason := range reasons {
		out = append(out, fmt.Sprintf("dropped %d row(s): %s", r.Dropped[reason], reason))
	}
	return out
}

// batchLoader streams parsed rows into flush in fixed-size batches.
type batchLoader[T any] struct {
	step      string
	batchSize int
	parse     func(source.Row) Parsed[T]
	flush     func(context.Context, []T) (int64, error)
	metrics   *observability.ETLMetrics
	logger    *slog.Logger
}

// load consumes rows until exhaustion. The first flush error stops the load;
// batches flushed before it stay written.
func (l batchLoader[T]) load(ctx context.Context, rows *source.CSVRows) (LoadResult, error) {
	res := LoadResult{Dropped: map[string]int64{}}
	batch := make([]T, 0, l.batchSize)
	firstLine := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		start := time.Now()
		n, err := l.flush(ctx, batch)
		l.metrics.RecordBatch(l.step, time.Since(start), err)
		if err != nil {
			return fmt.Errorf("batch %d starting at line %d: %w", res.Batches+1, firstLine, err)
		}
		res.Batches++
		res.Loaded += n
		l.logger.Debug("batch flushed",
			slog.String("step", l.step),
			slog.Int("batch", res.Batches),
			slog.Int("rows", len(batch)),
			slog.Duration("duration", time.Since(start)))
		batch = batch[:0]
		return nil
	}

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		row := rows.Row()
		res.Read++

		p := l.parse(row)
		if !p.OK() {
			res.Dropped[p.Dropped]++
			l.logger.Debug("row dropped",
				slog.String("step", l.step),
				slog.Int("line", row.Line),
				slog.String("reason", p.Dropped))
			continue
		}
		if len(batch) == 0 {
			firstLine = row.Line
		}
		batch = append(batch, p.Record)
		if len(batch) >= l.batchSize {
			if err := flush(); err != nil {
				l.record(res)
				return res, err
			}
		}
	}
	if err := rows.Err(); err != nil {
		l.record(res)
		return res, err
	}
	err := flush()
	l.record(res)
	return res, err
}

func (l batchLoader[T]) record(res LoadResult) {
	l.metrics.RecordRows(l.step, "read", res.Read)
	l.metrics.RecordRows(l.step, "loaded", res.Loaded)
	l.metrics.RecordRows(l.step, "dropped", res.DroppedTotal())
}

func loadSummary(noun string, res LoadResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "loaded %d %s from %d rows", res.Loaded, noun, res.Read)
	if d := res.DroppedTotal(); d > 0 {
		fmt.Fprintf(&b, " (%d dropped)", d)
	}
	fmt.Fprintf(&b, " in %d batch(es)", res.Batches)
	return b.String()
}
