// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package warehouse defines the relational star schema of the streaming
// platform and the Store contract the pipeline loads it through.
//
// Two implementations live in subpackages: postgres (pgx) for deployments
// and sqlite (modernc, pure Go) for local runs and tests. Both share the
// read-side SQL in this package through the Querier abstraction.
package warehouse

import (
	"context"
	"errors"
	"fmt"
)

// ErrStorage wraps every error returned by the underlying database driver.
var ErrStorage = errors.New("storage error")

// ErrInvalidQuery indicates caller-supplied query options were rejected.
var ErrInvalidQuery = errors.New("invalid query")

// Wrap tags err as a storage error for operation op. A nil err stays nil.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// Store is the relational warehouse.
//
// Writes are batched by the caller: each UpsertUsers or UpsertSessions call
// is atomic on its own, but nothing spans calls. A failure after some
// batches have been written leaves those batches in place.
type Store interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// CreateSchema creates every table that does not exist yet.
	CreateSchema(ctx context.Context) error

	// UpsertSubscriptionTiers inserts tiers by name, updating the price of
	// existing ones.
	UpsertSubscriptionTiers(ctx context.Context, tiers []SubscriptionTier) error

	// UpsertDeviceTypes inserts device types by name, updating the category
	// of existing ones.
	UpsertDeviceTypes(ctx context.Context, devices []DeviceType) error

	// Lookup reads the natural key to surrogate id maps of both dimensions.
	Lookup(ctx context.Context) (Lookup, error)

	// ClearUsers removes all user metrics and users.
	ClearUsers(ctx context.Context) error

	// UpsertUsers writes one batch atomically and returns the rows written.
	UpsertUsers(ctx context.Context, users []User) (int64, error)

	// ClearSessions removes all viewing sessions.
	ClearSessions(ctx context.Context) error

	// UpsertSessions writes one batch atomically and returns the rows written.
	UpsertSessions(ctx context.Context, sessions []Session) (int64, error)

	// RebuildUserMetrics replaces user_metrics from users and sessions and
	// returns the number of metric rows.
	RebuildUserMetrics(ctx context.Context) (int64, error)

	// QualityReport counts rows and missing values.
	QualityReport(ctx context.Context) (QualityReport, error)

	// Stats summarizes the loaded data.
	Stats(ctx context.Context) (Stats, error)

	// Analytics returns dashboard aggregates.
	Analytics(ctx context.Context) (Analytics, error)

	// ActivityMetrics returns headline activity numbers.
	ActivityMetrics(ctx context.Context) (ActivityMetrics, error)

	// ListUsers pages through users joined with their metrics.
	ListUsers(ctx context.Context, q UserQuery) (UserPage, error)

	// UserStats summarizes the user base.
	UserStats(ctx context.Context) (UserStats, error)

	// Close releases the connection pool.
	Close() error
}
