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
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
)

const utf8BOM = "\uFEFF"

// Row is one CSV record keyed by normalized header name.
type Row struct {
	// Line is the 1-based line number of the record in the file.
	Line   int
	values map[string]string
}

// NewRow builds a Row from header name to value pairs. Keys are normalized
// the same way CSV headers are.
func NewRow(line int, values map[string]string) Row {
	norm := make(map[string]string, len(values))
	for k, v := range values {
		norm[normalizeKey(k)] = v
	}
	return Row{Line: line, values: norm}
}

// Lookup returns the trimmed value of the first alias present with a
// non-empty value.
//
// Matching ignores case, spaces, underscores and hyphens, so "User ID",
// "user_id" and "userId" all match the alias "user_id".
func (r Row) Lookup(aliases ...string) (string, bool) {
	for _, alias := range aliases {
		v, ok := r.values[normalizeKey(alias)]
		if !ok {
			continue
		}
		if v = strings.TrimSpace(v); v != "" {
			return v, true
		}
	}
	return "", false
}

// Get is Lookup without the presence flag.
func (r Row) Get(aliases ...string) string {
	v, _ := r.Lookup(aliases...)
	return v
}

// Len returns the number of columns in the row.
func (r Row) Len() int {
	return len(r.values)
}

// normalizeKey lowercases s and drops whitespace, underscores and hyphens.
func normalizeKey(s string) string {
	s = strings.TrimPrefix(s, utf8BOM)
	var b strings.Builder
	b.Grow(len(s))
	for _, c := range strings.ToLower(s) {
		switch c {
		case ' ', '\t', '_', '-':
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

// CSVRows iterates the records of a CSV file with a header line.
//
// Usage:
//
//	rows, err := source.OpenCSV(path)
//	if err != nil { ... }
//	defer rows.Close()
//	for rows.Next() {
//	    row := rows.Row()
//	}
//	if err := rows.Err(); err != nil { ... }
//
// The file is streamed; only the current record is held in memory. To read
// the file again, open it again.
type CSVRows struct {
	file   *os.File
	reader *csv.Reader
	path   string
	header []string
	keys   []string
	row    Row
	err    error
	done   bool
}

// OpenCSV opens path and reads its header line.
//
// Outputs:
//
//	*CSVRows - Iterator positioned before the first record.
//	error - ErrFileNotFound if path does not exist, ErrMalformedInput if the
//	        header cannot be parsed.
func OpenCSV(path string) (*CSVRows, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.LazyQuotes = true

	rows := &CSVRows{file: f, reader: r, path: path}

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		rows.done = true
		return rows, nil
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: %s header: %v", ErrMalformedInput, path, err)
	}

	rows.header = make([]string, len(header))
	rows.keys = make([]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, utf8BOM))
		rows.header[i] = h
		rows.keys[i] = normalizeKey(h)
	}

	return rows, nil
}

// Header returns the trimmed header names in file order.
func (c *CSVRows) Header() []string {
	out := make([]string, len(c.header))
	copy(out, c.header)
	return out
}

// Next advances to the next record. It returns false at end of file or on
// a parse error; check Err afterwards.
func (c *CSVRows) Next() bool {
	if c.done {
		return false
	}

	for {
		record, err := c.reader.Read()
		if errors.Is(err, io.EOF) {
			c.done = true
			return false
		}
		if err != nil {
			c.err = fmt.Errorf("%w: %s: %v", ErrMalformedInput, c.path, err)
			c.done = true
			return false
		}
		if blank(record) {
			continue
		}

		line, _ := c.reader.FieldPos(0)
		values := make(map[string]string, len(c.keys))
		for i, key := range c.keys {
			if i >= len(record) {
				break
			}
			if _, seen := values[key]; seen {
				continue
			}
			values[key] = record[i]
		}
		c.row = Row{Line: line, values: values}
		return true
	}
}

// Row returns the current record.
func (c *CSVRows) Row() Row {
	return c.row
}

// Err returns the error that stopped iteration, if any.
func (c *CSVRows) Err() error {
	return c.err
}

// Close releases the underlying file.
func (c *CSVRows) Close() error {
	return c.file.Close()
}

func blank(record []string) bool {
	for _, f := range record {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// CheckFile returns ErrFileNotFound unless path exists and is a regular file.
func CheckFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrFileNotFound, path)
		}
		return fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s is not a regular file", ErrFileNotFound, path)
	}
	return nil
}
