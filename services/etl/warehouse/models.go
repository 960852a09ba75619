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
	"strings"
	"time"
)

// SubscriptionTier is a row of the subscription_types dimension.
type SubscriptionTier struct {
	Name  string
	Price float64
}

// DeviceType is a row of the device_types dimension.
type DeviceType struct {
	Name     string
	Category string
}

// FallbackDevice is the device bucket for session rows whose device is
// missing or unknown.
const FallbackDevice = "Other"

// DefaultSubscriptionTiers are the seed rows of subscription_types.
var DefaultSubscriptionTiers = []SubscriptionTier{
	{Name: "Basic", Price: 8.99},
	{Name: "Standard", Price: 13.99},
	{Name: "Premium", Price: 17.99},
}

// DefaultDeviceTypes are the seed rows of device_types.
var DefaultDeviceTypes = []DeviceType{
	{Name: "Desktop", Category: "Computer"},
	{Name: "Mobile", Category: "Phone"},
	{Name: "Smart TV", Category: "Television"},
	{Name: "Tablet", Category: "Tablet"},
	{Name: FallbackDevice, Category: FallbackDevice},
}

// Lookup maps dimension natural keys to surrogate ids for one run.
//
// Keys are matched case-insensitively with surrounding whitespace ignored.
type Lookup struct {
	subscriptions map[string]int64
	devices       map[string]int64
}

// NewLookup builds a Lookup from name to id maps.
func NewLookup(subscriptions, devices map[string]int64) Lookup {
	l := Lookup{
		subscriptions: make(map[string]int64, len(subscriptions)),
		devices:       make(map[string]int64, len(devices)),
	}
	for name, id := range subscriptions {
		l.subscriptions[lookupKey(name)] = id
	}
	for name, id := range devices {
		l.devices[lookupKey(name)] = id
	}
	return l
}

// SubscriptionID resolves a tier name. Unknown names resolve to nil.
func (l Lookup) SubscriptionID(name string) *int64 {
	return resolve(l.subscriptions, name)
}

// DeviceID resolves a device name. Unknown names resolve to nil.
func (l Lookup) DeviceID(name string) *int64 {
	return resolve(l.devices, name)
}

// Sizes returns the number of subscription tiers and device types.
func (l Lookup) Sizes() (subscriptions, devices int) {
	return len(l.subscriptions), len(l.devices)
}

func resolve(m map[string]int64, name string) *int64 {
	key := lookupKey(name)
	if key == "" {
		return nil
	}
	id, ok := m[key]
	if !ok {
		return nil
	}
	return &id
}

func lookupKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// User is a row of the users table. Nil fields are stored as NULL.
type User struct {
	UserID             string
	Age                *int64
	Country            *string
	SubscriptionTypeID *int64
	RegistrationDate   *time.Time
	TotalWatchHours    *float64
}

// Session is a row of the viewing_sessions table. Nil fields are stored as
// NULL.
type Session struct {
	SessionID            string
	UserID               string
	ContentID            *string
	DeviceTypeID         *int64
	Quality              *string
	WatchDate            *time.Time
	DurationMinutes      *int64
	CompletionPercentage *float64
}

// QualityReport holds the counts checked after loading.
type QualityReport struct {
	Users                     int64
	Sessions                  int64
	UsersMissingAge           int64
	UsersMissingCountry       int64
	UsersMissingSubscription  int64
	SessionsMissingWatchDate  int64
	SessionsMissingDuration   int64
	SessionsMissingCompletion int64
	SessionsMissingDevice     int64
	UsersWithoutSessions      int64
	SessionsWithUnknownUser   int64
}

// Stats summarizes the loaded warehouse.
type Stats struct {
	TotalUsers        int64   `json:"totalUsers"`
	TotalSessions     int64   `json:"totalSessions"`
	AvgCompletion     float64 `json:"avgCompletion"`
	TotalWatchMinutes int64   `json:"totalWatchMinutes"`
	DistinctContent   int64   `json:"distinctContent"`
}

// Share is one bucket of a distribution.
type Share struct {
	Label   string `json:"label"`
	Count   int64  `json:"count"`
	Percent int64  `json:"value"`
}

// DailyCount is the number of sessions on one date.
type DailyCount struct {
	Date  string `json:"date"`
	Count int64  `json:"value"`
}

// Analytics holds the dashboard aggregates.
type Analytics struct {
	TotalUsers          int64        `json:"totalUsers"`
	TotalSessions       int64        `json:"totalSessions"`
	AvgWatchTimeMinutes *int64       `json:"avgWatchTimeMinutes"`
	CompletionRate      *int64       `json:"completionRate"`
	DeviceDistribution  []Share      `json:"deviceDistribution"`
	SubscriptionTypes   []Share      `json:"subscriptionTypes"`
	SessionsOverTime    []DailyCount `json:"sessionsOverTime"`
}

// ActivityMetrics holds headline activity numbers.
type ActivityMetrics struct {
	UniqueUsers       int64      `json:"uniqueUsers"`
	UniqueContent     int64      `json:"uniqueContent"`
	TotalWatchMinutes int64      `json:"totalWatchMinutes"`
	LastActivity      *time.Time `json:"lastActivity"`
}

// UserSummary is a user joined with its metrics.
type UserSummary struct {
	UserID           string     `json:"user_id"`
	Age              *int64     `json:"age"`
	Country          *string    `json:"country"`
	SubscriptionType *string    `json:"subscription_type"`
	TotalSessions    int64      `json:"total_sessions"`
	TotalMinutes     int64      `json:"total_minutes"`
	AvgCompletion    float64    `json:"avg_completion"`
	FavoriteDevice   *string    `json:"favorite_device"`
	LastActivity     *time.Time `json:"last_activity"`
}

// UserQuery selects a page of users.
type UserQuery struct {
	// Search matches user id, country or subscription name by substring.
	Search string
	// SortBy is one of UserSortColumns. Empty sorts by user_id.
	SortBy string
	// Desc reverses the sort order.
	Desc   bool
	Limit  int
	Offset int
}

// UserPage is one page of users and the total number of matches.
type UserPage struct {
	Users []UserSummary `json:"data"`
	Total int64         `json:"total"`
}

// CountryCount is the number of users in one country.
type CountryCount struct {
	Country string `json:"country"`
	Count   int64  `json:"count"`
}

// UserStats summarizes the user base.
type UserStats struct {
	TotalUsers   int64          `json:"total_users"`
	AvgAge       float64        `json:"avg_age"`
	Countries    int64          `json:"countries"`
	AvgSessions  float64        `json:"avg_sessions"`
	AvgMinutes   float64        `json:"avg_minutes"`
	TopCountries []CountryCount `json:"top_countries"`
}
