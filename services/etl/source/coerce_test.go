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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInt(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"42", 42, true},
		{" 7 ", 7, true},
		{"-3", -3, true},
		{"42.9", 42, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
		{"9223372036854775807", math.MaxInt64, true},
		{"-9223372036854775808", math.MinInt64, true},
		{"9223372036854775808", 0, false},
		{"9.223372036854775807e18", 0, false},
		{"9.2e18", 9200000000000000000, true},
		{"-9.3e18", 0, false},
	}
	for _, tt := range tests {
		got, ok := ParseInt(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseNonNegativeInt(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"45", 45, true},
		{"45.6", 46, true},
		{"0", 0, true},
		{"-1", 0, false},
		{"n/a", 0, false},
		{"Inf", 0, false},
		{"9223372036854775807", math.MaxInt64, true},
		{"9223372036854775808", 0, false},
		{"9.223372036854775807e18", 0, false},
		{"9223372036854775807.4", 0, false},
		{"1e3", 1000, true},
	}
	for _, tt := range tests {
		got, ok := ParseNonNegativeInt(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseFloat(t *testing.T) {
	f, ok := ParseFloat("87.5")
	assert.True(t, ok)
	assert.InDelta(t, 87.5, f, 1e-9)

	_, ok = ParseFloat("eighty")
	assert.False(t, ok)
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 9, 0, 0, 0, 0, time.UTC)

	for _, in := range []string{
		"2024-03-09",
		"2024-03-09T17:45:00Z",
		"2024-03-09 17:45:00",
		"2024/03/09",
		"03/09/2024",
	} {
		got, ok := ParseDate(in)
		assert.True(t, ok, in)
		assert.True(t, want.Equal(got), "%s -> %s", in, got)
	}

	for _, in := range []string{"", "yesterday", "2024-13-01", "09.03.2024"} {
		_, ok := ParseDate(in)
		assert.False(t, ok, in)
	}
}

func TestTrimOrNil(t *testing.T) {
	assert.Nil(t, TrimOrNil(""))
	assert.Nil(t, TrimOrNil("  \t"))

	v := TrimOrNil("  US ")
	require.NotNil(t, v)
	assert.Equal(t, "US", *v)
}
