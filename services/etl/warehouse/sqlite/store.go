// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package sqlite implements warehouse.Store on an embedded SQLite database.
// It is suitable for local runs and tests; dates are stored as YYYY-MM-DD text.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// MemoryDSN opens a private in-memory database.
const MemoryDSN = ":memory:"

const (
	upsertTierSQL = `INSERT INTO subscription_types (name, price) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET price = excluded.price`

	upsertDeviceSQL = `INSERT INTO device_types (name, category) VALUES (?, ?)
ON CONFLICT(name) DO UPDATE SET category = excluded.category`

	upsertUserSQL = `INSERT INTO users
    (user_id, age, country, subscription_type_id, registration_date, total_watch_hours)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(user_id) DO UPDATE SET
    age = excluded.age,
    country = excluded.country,
    subscription_type_id = excluded.subscription_type_id,
    registration_date = excluded.registration_date,
    total_watch_hours = excluded.total_watch_hours`

	upsertSessionSQL = `INSERT INTO viewing_sessions
    (session_id, user_id, content_id, device_type_id, quality, watch_date, duration_minutes, completion_percentage)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET
    user_id = excluded.user_id,
    content_id = excluded.content_id,
    device_type_id = excluded.device_type_id,
    quality = excluded.quality,
    watch_date = excluded.watch_date,
    duration_minutes = excluded.duration_minutes,
    completion_percentage = excluded.completion_percentage`
)

// Store implements warehouse.Store using SQLite.
type Store struct {
	*warehouse.Reader
	db *sql.DB
}

var _ warehouse.Store = (*Store)(nil)

// Open opens (creating if needed) the database at dsn. Use MemoryDSN for a
// throwaway database.
func Open(dsn string) (*Store, error) {
	if dsn != MemoryDSN {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, warehouse.Wrap("open sqlite", err)
	}

	// One connection serializes writes and keeps an in-memory database alive.
	db.SetMaxOpenConns(1)

	if dsn == MemoryDSN {
		if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
			db.Close()
			return nil, warehouse.Wrap("enable foreign keys", err)
		}
	}

	return &Store{Reader: warehouse.NewReader(querier{db: db}), db: db}, nil
}

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return warehouse.Wrap("ping sqlite", s.db.PingContext(ctx))
}

// CreateSchema creates missing tables.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return warehouse.Wrap("create schema", err)
		}
	}
	return nil
}

// UpsertSubscriptionTiers inserts or updates tiers by name.
func (s *Store) UpsertSubscriptionTiers(ctx context.Context, tiers []warehouse.SubscriptionTier) error {
	_, err := s.execBatch(ctx, upsertTierSQL, len(tiers), func(i int) []any {
		return []any{tiers[i].Name, tiers[i].Price}
	})
	return warehouse.Wrap("upsert subscription types", err)
}

// UpsertDeviceTypes inserts or updates device types by name.
func (s *Store) UpsertDeviceTypes(ctx context.Context, devices []warehouse.DeviceType) error {
	_, err := s.execBatch(ctx, upsertDeviceSQL, len(devices), func(i int) []any {
		return []any{devices[i].Name, devices[i].Category}
	})
	return warehouse.Wrap("upsert device types", err)
}

// ClearUsers removes user metrics, then users.
func (s *Store) ClearUsers(ctx context.Context) error {
	return warehouse.Wrap("clear users", s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, warehouse.DeleteUserMetricsSQL); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, warehouse.DeleteUsersSQL)
		return err
	}))
}

// UpsertUsers writes one batch in a transaction.
func (s *Store) UpsertUsers(ctx context.Context, users []warehouse.User) (int64, error) {
	n, err := s.execBatch(ctx, upsertUserSQL, len(users), func(i int) []any {
		u := users[i]
		return []any{
			u.UserID,
			u.Age,
			u.Country,
			u.SubscriptionTypeID,
			warehouse.FormatDay(u.RegistrationDate),
			u.TotalWatchHours,
		}
	})
	return n, warehouse.Wrap("upsert users", err)
}

// ClearSessions removes all sessions.
func (s *Store) ClearSessions(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, warehouse.DeleteSessionsSQL)
	return warehouse.Wrap("clear sessions", err)
}

// UpsertSessions writes one batch in a transaction.
func (s *Store) UpsertSessions(ctx context.Context, sessions []warehouse.Session) (int64, error) {
	n, err := s.execBatch(ctx, upsertSessionSQL, len(sessions), func(i int) []any {
		v := sessions[i]
		return []any{
			v.SessionID,
			v.UserID,
			v.ContentID,
			v.DeviceTypeID,
			v.Quality,
			warehouse.FormatDay(v.WatchDate),
			v.DurationMinutes,
			v.CompletionPercentage,
		}
	})
	return n, warehouse.Wrap("upsert sessions", err)
}

// RebuildUserMetrics replaces user_metrics in one transaction.
func (s *Store) RebuildUserMetrics(ctx context.Context) (int64, error) {
	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, warehouse.DeleteUserMetricsSQL); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, warehouse.RebuildUserMetricsSQL); err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, warehouse.CountUserMetricsSQL).Scan(&n)
	})
	if err != nil {
		return 0, warehouse.Wrap("rebuild user metrics", err)
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// execBatch runs query once per row inside a single transaction.
func (s *Store) execBatch(ctx context.Context, query string, n int, args func(i int) []any) (int64, error) {
	if n == 0 {
		return 0, nil
	}

	var written int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := 0; i < n; i++ {
			if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
				return fmt.Errorf("row %d: %w", i, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// querier adapts *sql.DB to warehouse.Querier.
type querier struct {
	db *sql.DB
}

func (q querier) QueryRow(ctx context.Context, query string, args ...any) warehouse.Row {
	return q.db.QueryRowContext(ctx, query, args...)
}

func (q querier) Query(ctx context.Context, query string, args ...any) (warehouse.Rows, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlRows{Rows: rows}, nil
}

func (q querier) Placeholder(int) string {
	return "?"
}

// sqlRows drops the error from Close to match warehouse.Rows.
type sqlRows struct {
	*sql.Rows
}

func (r sqlRows) Close() {
	_ = r.Rows.Close()
}
