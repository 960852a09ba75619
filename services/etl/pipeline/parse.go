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
	"math"

	"github.com/AleutianAI/AleutianETL/services/etl/source"
	"github.com/AleutianAI/AleutianETL/services/etl/warehouse"
)

// Column aliases accepted for each field.
var (
	colUserID           = []string{"user_id", "userid", "id", "user"}
	colAge              = []string{"age"}
	colCountry          = []string{"country", "country_code", "region"}
	colSubscription     = []string{"subscription_type", "subscription", "plan", "tier"}
	colRegistrationDate = []string{"registration_date", "signup_date", "created_at"}
	colWatchHours       = []string{"total_watch_time_hours", "total_watch_hours", "watch_hours"}

	colSessionID   = []string{"session_id", "sessionid", "id"}
	colSessionUser = []string{"user_id", "userid", "user"}
	colContentID   = []string{"content_id", "movie_id"}
	colDevice      = []string{"device_type", "device"}
	colQuality     = []string{"quality_level", "quality"}
	colWatchDate   = []string{"watch_date", "date", "session_date"}
	colDuration    = []string{"watch_duration_minutes", "duration_minutes", "duration"}
	colCompletion  = []string{"completion_percentage", "completion"}
)

// Drop reasons.
const (
	reasonMissingUserID    = "missing user_id"
	reasonMissingSessionID = "missing session_id"
)

// Parsed is the result of parsing one source row: either a Record or the
// reason the row was dropped.
type Parsed[T any] struct {
	Record  T
	Dropped string
}

// OK reports whether the row produced a record.
func (p Parsed[T]) OK() bool {
	return p.Dropped == ""
}

func keep[T any](record T) Parsed[T] {
	return Parsed[T]{Record: record}
}

func drop[T any](reason string) Parsed[T] {
	return Parsed[T]{Dropped: reason}
}

// ParseUser converts a users.csv row. Only user_id is required; every other
// field becomes nil when missing or unparsable. Integer columns are 32-bit in
// the warehouse, so values outside that range are unparsable too.
func ParseUser(row source.Row, lookup warehouse.Lookup) Parsed[warehouse.User] {
	id, ok := row.Lookup(colUserID...)
	if !ok {
		return drop[warehouse.User](reasonMissingUserID)
	}

	u := warehouse.User{
		UserID:             id,
		Country:            optString(row, colCountry),
		SubscriptionTypeID: lookup.SubscriptionID(row.Get(colSubscription...)),
	}
	if age, ok := source.ParseInt(row.Get(colAge...)); ok && age >= 0 && age <= math.MaxInt32 {
		u.Age = &age
	}
	if d, ok := source.ParseDate(row.Get(colRegistrationDate...)); ok {
		u.RegistrationDate = &d
	}
	if h, ok := source.ParseFloat(row.Get(colWatchHours...)); ok {
		u.TotalWatchHours = &h
	}
	return keep(u)
}

// ParseSession converts a viewing_sessions.csv row. session_id and user_id
// are required. A device that is missing or not in the lookup resolves to
// fallbackDevice, or nil when fallbackDevice is empty or unknown.
func ParseSession(row source.Row, lookup warehouse.Lookup, fallbackDevice string) Parsed[warehouse.Session] {
	id, ok := row.Lookup(colSessionID...)
	if !ok {
		return drop[warehouse.Session](reasonMissingSessionID)
	}
	userID, ok := row.Lookup(colSessionUser...)
	if !ok {
		return drop[warehouse.Session](reasonMissingUserID)
	}

	s := warehouse.Session{
		SessionID: id,
		UserID:    userID,
		ContentID: optString(row, colContentID),
		Quality:   optString(row, colQuality),
	}

	s.DeviceTypeID = lookup.DeviceID(row.Get(colDevice...))
	if s.DeviceTypeID == nil && fallbackDevice != "" {
		s.DeviceTypeID = lookup.DeviceID(fallbackDevice)
	}
	if d, ok := source.ParseDate(row.Get(colWatchDate...)); ok {
		s.WatchDate = &d
	}
	if m, ok := source.ParseNonNegativeInt(row.Get(colDuration...)); ok && m <= math.MaxInt32 {
		s.DurationMinutes = &m
	}
	if c, ok := source.ParseFloat(row.Get(colCompletion...)); ok {
		s.CompletionPercentage = &c
	}
	return keep(s)
}

func optString(row source.Row, aliases []string) *string {
	return source.TrimOrNil(row.Get(aliases...))
}
