// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package warehouse

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianETL/pkg/validation"
)

// Row is a single result row.
type Row interface {
	Scan(dest ...any) error
}

// Rows is a result set. Close must be called when done.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Querier is the read access a driver hands to Reader.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) Row
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// Placeholder returns the bind parameter for the n-th (1-based) argument.
	Placeholder(n int) string
}

// Reader implements the read side of Store on top of a Querier.
// Drivers embed it.
type Reader struct {
	q Querier
}

// NewReader wraps q.
func NewReader(q Querier) *Reader {
	return &Reader{q: q}
}

// Lookup reads both dimension tables.
func (r *Reader) Lookup(ctx context.Context) (Lookup, error) {
	subs, err := r.idsByName(ctx, subscriptionLookupSQL)
	if err != nil {
		return Lookup{}, Wrap("read subscription types", err)
	}
	devices, err := r.idsByName(ctx, deviceLookupSQL)
	if err != nil {
		return Lookup{}, Wrap("read device types", err)
	}
	return NewLookup(subs, devices), nil
}

func (r *Reader) idsByName(ctx context.Context, query string) (map[string]int64, error) {
	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var id int64
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		out[name] = id
	}
	return out, rows.Err()
}

// QualityReport counts rows and missing values.
func (r *Reader) QualityReport(ctx context.Context) (QualityReport, error) {
	var q QualityReport
	err := r.q.QueryRow(ctx, qualityReportSQL).Scan(
		&q.Users,
		&q.Sessions,
		&q.UsersMissingAge,
		&q.UsersMissingCountry,
		&q.UsersMissingSubscription,
		&q.SessionsMissingWatchDate,
		&q.SessionsMissingDuration,
		&q.SessionsMissingCompletion,
		&q.SessionsMissingDevice,
		&q.UsersWithoutSessions,
		&q.SessionsWithUnknownUser,
	)
	if err != nil {
		return QualityReport{}, Wrap("quality report", err)
	}
	return q, nil
}

// Stats summarizes the loaded data.
func (r *Reader) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := r.q.QueryRow(ctx, statsSQL).Scan(
		&s.TotalUsers,
		&s.TotalSessions,
		&s.AvgCompletion,
		&s.TotalWatchMinutes,
		&s.DistinctContent,
	)
	if err != nil {
		return Stats{}, Wrap("stats", err)
	}
	return s, nil
}

// Analytics returns dashboard aggregates.
func (r *Reader) Analytics(ctx context.Context) (Analytics, error) {
	stats, err := r.Stats(ctx)
	if err != nil {
		return Analytics{}, err
	}

	a := Analytics{
		TotalUsers:    stats.TotalUsers,
		TotalSessions: stats.TotalSessions,
	}

	var avgWatch, avgCompletion *float64
	if err := r.q.QueryRow(ctx, sessionAveragesSQL).Scan(&avgWatch, &avgCompletion); err != nil {
		return Analytics{}, Wrap("session averages", err)
	}
	a.AvgWatchTimeMinutes = roundPtr(avgWatch)
	a.CompletionRate = roundPtr(avgCompletion)

	if a.DeviceDistribution, err = r.shares(ctx, deviceDistributionSQL, a.TotalSessions); err != nil {
		return Analytics{}, Wrap("device distribution", err)
	}
	if a.SubscriptionTypes, err = r.shares(ctx, subscriptionDistributionSQL, a.TotalUsers); err != nil {
		return Analytics{}, Wrap("subscription distribution", err)
	}
	if a.SessionsOverTime, err = r.sessionsOverTime(ctx); err != nil {
		return Analytics{}, Wrap("sessions over time", err)
	}
	return a, nil
}

func (r *Reader) shares(ctx context.Context, query string, total int64) ([]Share, error) {
	out := []Share{}
	if total == 0 {
		return out, nil
	}

	rows, err := r.q.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var s Share
		if err := rows.Scan(&s.Label, &s.Count); err != nil {
			return nil, err
		}
		s.Percent = Percent(s.Count, total)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Reader) sessionsOverTime(ctx context.Context) ([]DailyCount, error) {
	rows, err := r.q.Query(ctx, sessionsOverTimeSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []DailyCount{}
	for rows.Next() {
		var d DailyCount
		if err := rows.Scan(&d.Date, &d.Count); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ActivityMetrics returns headline activity numbers.
func (r *Reader) ActivityMetrics(ctx context.Context) (ActivityMetrics, error) {
	var m ActivityMetrics
	var last *string
	err := r.q.QueryRow(ctx, activityMetricsSQL).Scan(
		&m.UniqueUsers,
		&m.UniqueContent,
		&m.TotalWatchMinutes,
		&last,
	)
	if err != nil {
		return ActivityMetrics{}, Wrap("activity metrics", err)
	}
	m.LastActivity = ParseDay(last)
	return m, nil
}

// ListUsers pages through users joined with their metrics.
func (r *Reader) ListUsers(ctx context.Context, q UserQuery) (UserPage, error) {
	sortBy := q.SortBy
	if sortBy == "" {
		sortBy = "user_id"
	}
	if err := validation.ValidateSortField(sortBy, sortKeys(UserSortColumns)); err != nil {
		return UserPage{}, fmt.Errorf("%w: %v", ErrInvalidQuery, err)
	}
	if q.Limit <= 0 || q.Offset < 0 {
		return UserPage{}, fmt.Errorf("%w: limit %d offset %d", ErrInvalidQuery, q.Limit, q.Offset)
	}

	var where string
	var args []any
	if term := strings.TrimSpace(q.Search); term != "" {
		like := "%" + strings.ToLower(term) + "%"
		args = append(args, like, like, like)
		where = fmt.Sprintf(
			" WHERE LOWER(u.user_id) LIKE %s OR LOWER(u.country) LIKE %s OR LOWER(s.name) LIKE %s",
			r.q.Placeholder(1), r.q.Placeholder(2), r.q.Placeholder(3),
		)
	}

	var page UserPage
	if err := r.q.QueryRow(ctx, countUsersSelect+where, args...).Scan(&page.Total); err != nil {
		return UserPage{}, Wrap("count users", err)
	}

	order := "ASC"
	if q.Desc {
		order = "DESC"
	}
	n := len(args)
	query := fmt.Sprintf("%s%s ORDER BY %s %s, u.user_id ASC LIMIT %s OFFSET %s",
		listUsersSelect, where, UserSortColumns[sortBy], order,
		r.q.Placeholder(n+1), r.q.Placeholder(n+2),
	)
	args = append(args, q.Limit, q.Offset)

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return UserPage{}, Wrap("list users", err)
	}
	defer rows.Close()

	page.Users = []UserSummary{}
	for rows.Next() {
		var u UserSummary
		var last *string
		if err := rows.Scan(
			&u.UserID,
			&u.Age,
			&u.Country,
			&u.SubscriptionType,
			&u.TotalSessions,
			&u.TotalMinutes,
			&u.AvgCompletion,
			&u.FavoriteDevice,
			&last,
		); err != nil {
			return UserPage{}, Wrap("scan user", err)
		}
		u.LastActivity = ParseDay(last)
		page.Users = append(page.Users, u)
	}
	if err := rows.Err(); err != nil {
		return UserPage{}, Wrap("list users", err)
	}
	return page, nil
}

// UserStats summarizes the user base.
func (r *Reader) UserStats(ctx context.Context) (UserStats, error) {
	var s UserStats
	err := r.q.QueryRow(ctx, userStatsSQL).Scan(
		&s.TotalUsers,
		&s.AvgAge,
		&s.Countries,
		&s.AvgSessions,
		&s.AvgMinutes,
	)
	if err != nil {
		return UserStats{}, Wrap("user stats", err)
	}

	rows, err := r.q.Query(ctx, topCountriesSQL)
	if err != nil {
		return UserStats{}, Wrap("top countries", err)
	}
	defer rows.Close()

	s.TopCountries = []CountryCount{}
	for rows.Next() {
		var c CountryCount
		if err := rows.Scan(&c.Country, &c.Count); err != nil {
			return UserStats{}, Wrap("scan country", err)
		}
		s.TopCountries = append(s.TopCountries, c)
	}
	if err := rows.Err(); err != nil {
		return UserStats{}, Wrap("top countries", err)
	}
	return s, nil
}

// Percent returns count as a rounded percentage of total, 0 when total is 0.
func Percent(count, total int64) int64 {
	if total == 0 {
		return 0
	}
	return int64(math.Round(float64(count) * 100 / float64(total)))
}

// ParseDay parses a YYYY-MM-DD prefix. Nil or unparsable input yields nil.
func ParseDay(s *string) *time.Time {
	if s == nil || len(*s) < len(time.DateOnly) {
		return nil
	}
	t, err := time.Parse(time.DateOnly, (*s)[:len(time.DateOnly)])
	if err != nil {
		return nil
	}
	return &t
}

// FormatDay renders t as YYYY-MM-DD, or nil.
func FormatDay(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.DateOnly)
	return &s
}

func roundPtr(f *float64) *int64 {
	if f == nil {
		return nil
	}
	n := int64(math.Round(*f))
	return &n
}

func sortKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
