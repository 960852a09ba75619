// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package postgres implements warehouse.Store on PostgreSQL using a pgx
// connection pool. Batches are sent with pgx.Batch inside one transaction
// per batch.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"
)

//go:embed schema.sql
var schemaSQL string

const (
	upsertTierSQL = `INSERT INTO subscription_types (name, price) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET price = EXCLUDED.price`

	upsertDeviceSQL = `INSERT INTO device_types (name, category) VALUES ($1, $2)
ON CONFLICT (name) DO UPDATE SET category = EXCLUDED.category`

	upsertUserSQL = `INSERT INTO users
    (user_id, age, country, subscription_type_id, registration_date, total_watch_hours)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE SET
    age = EXCLUDED.age,
    country = EXCLUDED.country,
    subscription_type_id = EXCLUDED.subscription_type_id,
    registration_date = EXCLUDED.registration_date,
    total_watch_hours = EXCLUDED.total_watch_hours`

	upsertSessionSQL = `INSERT INTO viewing_sessions
    (session_id, user_id, content_id, device_type_id, quality, watch_date, duration_minutes, completion_percentage)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (session_id) DO UPDATE SET
    user_id = EXCLUDED.user_id,
    content_id = EXCLUDED.content_id,
    device_type_id = EXCLUDED.device_type_id,
    quality = EXCLUDED.quality,
    watch_date = EXCLUDED.watch_date,
    duration_minutes = EXCLUDED.duration_minutes,
    completion_percentage = EXCLUDED.completion_percentage`
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	// URL, when set, is used verbatim and the discrete fields are ignored.
	URL string

	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// MaxConns caps the pool size. Zero keeps the pgx default.
	MaxConns int32
}

// ConnString renders the configuration as a postgres:// URL.
func (c Config) ConnString() string {
	if c.URL != "" {
		return c.URL
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:     "/" + c.Database,
		RawQuery: url.Values{"sslmode": []string{sslMode}}.Encode(),
	}
	return u.String()
}

// Store implements warehouse.Store using PostgreSQL.
type Store struct {
	*warehouse.Reader
	pool *pgxpool.Pool
}

var _ warehouse.Store = (*Store)(nil)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString())
	if err != nil {
		return nil, warehouse.Wrap("parse pg config", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, warehouse.Wrap("create pg pool", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, warehouse.Wrap("ping pg", err)
	}

	return &Store{Reader: warehouse.NewReader(querier{pool: pool}), pool: pool}, nil
}

// Pool returns the underlying pgxpool.Pool.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Ping verifies the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return warehouse.Wrap("ping pg", s.pool.Ping(ctx))
}

// CreateSchema creates missing tables in one transaction.
func (s *Store) CreateSchema(ctx context.Context) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, stmt := range strings.Split(schemaSQL, ";") {
			if strings.TrimSpace(stmt) == "" {
				continue
			}
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
	return warehouse.Wrap("create schema", err)
}

// UpsertSubscriptionTiers inserts or updates tiers by name.
func (s *Store) UpsertSubscriptionTiers(ctx context.Context, tiers []warehouse.SubscriptionTier) error {
	batch := &pgx.Batch{}
	for _, t := range tiers {
		batch.Queue(upsertTierSQL, t.Name, t.Price)
	}
	_, err := s.sendBatch(ctx, batch)
	return warehouse.Wrap("upsert subscription types", err)
}

// UpsertDeviceTypes inserts or updates device types by name.
func (s *Store) UpsertDeviceTypes(ctx context.Context, devices []warehouse.DeviceType) error {
	batch := &pgx.Batch{}
	for _, d := range devices {
		batch.Queue(upsertDeviceSQL, d.Name, d.Category)
	}
	_, err := s.sendBatch(ctx, batch)
	return warehouse.Wrap("upsert device types", err)
}

// ClearUsers removes user metrics, then users.
func (s *Store) ClearUsers(ctx context.Context) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, warehouse.DeleteUserMetricsSQL); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, warehouse.DeleteUsersSQL)
		return err
	})
	return warehouse.Wrap("clear users", err)
}

// UpsertUsers writes one batch in a transaction.
func (s *Store) UpsertUsers(ctx context.Context, users []warehouse.User) (int64, error) {
	batch := &pgx.Batch{}
	for _, u := range users {
		batch.Queue(upsertUserSQL,
			u.UserID,
			u.Age,
			u.Country,
			u.SubscriptionTypeID,
			u.RegistrationDate,
			u.TotalWatchHours,
		)
	}
	n, err := s.sendBatch(ctx, batch)
	return n, warehouse.Wrap("upsert users", err)
}

// ClearSessions removes all sessions.
func (s *Store) ClearSessions(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, warehouse.DeleteSessionsSQL)
	return warehouse.Wrap("clear sessions", err)
}

// UpsertSessions writes one batch in a transaction.
func (s *Store) UpsertSessions(ctx context.Context, sessions []warehouse.Session) (int64, error) {
	batch := &pgx.Batch{}
	for _, v := range sessions {
		batch.Queue(upsertSessionSQL,
			v.SessionID,
			v.UserID,
			v.ContentID,
			v.DeviceTypeID,
			v.Quality,
			v.WatchDate,
			v.DurationMinutes,
			v.CompletionPercentage,
		)
	}
	n, err := s.sendBatch(ctx, batch)
	return n, warehouse.Wrap("upsert sessions", err)
}

// RebuildUserMetrics replaces user_metrics in one transaction.
func (s *Store) RebuildUserMetrics(ctx context.Context) (int64, error) {
	var n int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, warehouse.DeleteUserMetricsSQL); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, warehouse.RebuildUserMetricsSQL)
		if err != nil {
			return err
		}
		n = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, warehouse.Wrap("rebuild user metrics", err)
	}
	return n, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// sendBatch sends batch in its own transaction and returns the number of
// rows affected.
func (s *Store) sendBatch(ctx context.Context, batch *pgx.Batch) (int64, error) {
	if batch.Len() == 0 {
		return 0, nil
	}

	var affected int64
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			tag, err := results.Exec()
			if err != nil {
				results.Close()
				return fmt.Errorf("row %d: %w", i, err)
			}
			affected += tag.RowsAffected()
		}
		return results.Close()
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// querier adapts *pgxpool.Pool to warehouse.Querier.
type querier struct {
	pool *pgxpool.Pool
}

func (q querier) QueryRow(ctx context.Context, sql string, args ...any) warehouse.Row {
	return q.pool.QueryRow(ctx, sql, args...)
}

func (q querier) Query(ctx context.Context, sql string, args ...any) (warehouse.Rows, error) {
	return q.pool.Query(ctx, sql, args...)
}

func (q querier) Placeholder(n int) string {
	return "$" + strconv.Itoa(n)
}
