// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package source

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// dateLayouts are tried in order by ParseDate. Only layouts that cannot be
// confused with each other are accepted.
var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006/01/02",
	"01/02/2006",
}

// ParseInt converts s to an integer. Decimal input is truncated toward zero.
func ParseInt(s string) (int64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, true
	}
	f, ok := ParseFloat(s)
	if !ok || f >= int64Limit || f < -int64Limit {
		return 0, false
	}
	return int64(f), true
}

// int64Limit is 2^63. float64(math.MaxInt64) rounds up to this value, so
// converted floats must stay strictly below it.
const int64Limit = float64(1 << 63)

// ParseFloat converts s to a finite float.
func ParseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseNonNegativeInt converts s to a whole, non-negative number, rounding
// decimals to the nearest integer.
func ParseNonNegativeInt(s string) (int64, bool) {
	if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
		if n < 0 {
			return 0, false
		}
		return n, true
	}
	f, ok := ParseFloat(s)
	if !ok || f < 0 {
		return 0, false
	}
	f = math.Round(f)
	if f >= int64Limit {
		return 0, false
	}
	return int64(f), true
}

// ParseDate converts s to a calendar date at UTC midnight.
func ParseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// TrimOrNil returns nil for blank input and a pointer to the trimmed value
// otherwise.
func TrimOrNil(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
