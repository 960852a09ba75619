// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation utilities for security-critical operations.
//
// This package contains validators for user-provided inputs that end up in
// database queries. Column names and sort directions cannot be bound as
// query parameters, so they must be checked against an allowlist before
// being interpolated into SQL or a document-store sort specification.
package validation

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"unicode"
)

// MaxSearchLength bounds free-text search terms.
const MaxSearchLength = 100

// fieldPattern matches plain identifiers: letters, digits and underscores,
// starting with a letter.
var fieldPattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]{0,63}$`)

// ValidateSortField checks that field is a plain identifier and one of allowed.
//
// Example:
//
//	if err := validation.ValidateSortField(sortBy, []string{"title", "rating"}); err != nil {
//	    return fmt.Errorf("invalid sort: %w", err)
//	}
//	// Safe to interpolate
func ValidateSortField(field string, allowed []string) error {
	if field == "" {
		return fmt.Errorf("sort field cannot be empty")
	}
	if !fieldPattern.MatchString(field) {
		return fmt.Errorf("invalid sort field format: %q", field)
	}
	if !slices.Contains(allowed, field) {
		return fmt.Errorf("unsupported sort field %q (allowed: %s)", field, strings.Join(allowed, ", "))
	}
	return nil
}

// IsDescending reports whether order asks for descending order.
// Anything other than "desc" (any case) or "-1" is ascending.
func IsDescending(order string) bool {
	order = strings.TrimSpace(order)
	return strings.EqualFold(order, "desc") || order == "-1"
}

// SanitizeSearchTerm trims term, rejects control characters and enforces
// MaxSearchLength.
func SanitizeSearchTerm(term string) (string, error) {
	term = strings.TrimSpace(term)
	if len(term) > MaxSearchLength {
		return "", fmt.Errorf("search term too long: %d > %d", len(term), MaxSearchLength)
	}
	for _, r := range term {
		if unicode.IsControl(r) {
			return "", fmt.Errorf("search term contains control characters")
		}
	}
	return term, nil
}

// ClampPage normalizes 1-based page and limit values and returns the offset.
// Non-positive values fall back to page 1 and defaultLimit; limit is capped
// at maxLimit.
func ClampPage(page, limit, defaultLimit, maxLimit int) (int, int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit, (page - 1) * limit
}
