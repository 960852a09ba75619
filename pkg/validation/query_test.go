// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"strings"
	"testing"
)

func TestValidateSortField(t *testing.T) {
	allowed := []string{"user_id", "age", "rating"}

	tests := []struct {
		name    string
		field   string
		wantErr bool
	}{
		{"allowed", "age", false},
		{"allowed underscore", "user_id", false},
		{"empty", "", true},
		{"not allowed", "password", true},
		{"injection", "age; DROP TABLE users", true},
		{"mongo operator", "$where", true},
		{"dotted path", "a.b", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSortField(tt.field, allowed)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSortField(%q) error = %v, wantErr %v", tt.field, err, tt.wantErr)
			}
		})
	}
}

func TestIsDescending(t *testing.T) {
	for _, in := range []string{"desc", "DESC", " Desc ", "-1"} {
		if !IsDescending(in) {
			t.Errorf("IsDescending(%q) = false", in)
		}
	}
	for _, in := range []string{"", "asc", "1", "descending"} {
		if IsDescending(in) {
			t.Errorf("IsDescending(%q) = true", in)
		}
	}
}

func TestSanitizeSearchTerm(t *testing.T) {
	got, err := SanitizeSearchTerm("  US ")
	if err != nil || got != "US" {
		t.Errorf("SanitizeSearchTerm = %q, %v", got, err)
	}

	if _, err := SanitizeSearchTerm("a\x00b"); err == nil {
		t.Error("expected error for control character")
	}
	if _, err := SanitizeSearchTerm(strings.Repeat("x", MaxSearchLength+1)); err == nil {
		t.Error("expected error for long term")
	}
}

func TestClampPage(t *testing.T) {
	tests := []struct {
		page, limit         int
		wantPage, wantLimit int
		wantOffset          int
	}{
		{1, 20, 1, 20, 0},
		{3, 20, 3, 20, 40},
		{0, 0, 1, 50, 0},
		{-2, 500, 1, 100, 0},
	}
	for _, tt := range tests {
		p, l, o := ClampPage(tt.page, tt.limit, 50, 100)
		if p != tt.wantPage || l != tt.wantLimit || o != tt.wantOffset {
			t.Errorf("ClampPage(%d, %d) = %d, %d, %d", tt.page, tt.limit, p, l, o)
		}
	}
}
