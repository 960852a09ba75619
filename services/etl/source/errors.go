// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package source reads the raw CSV and JSON inputs of the pipeline.
//
// Readers never fail on a bad value: coercion helpers report whether a field
// could be converted and callers decide what a missing value means.
// Only a missing file or a structurally broken file is an error.
package source

import "errors"

var (
	// ErrFileNotFound indicates the input file does not exist.
	ErrFileNotFound = errors.New("input file not found")

	// ErrMalformedInput indicates the file exists but cannot be parsed.
	ErrMalformedInput = errors.New("malformed input")
)
