// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package content loads the movie catalogue from a JSON file into a document
// store and serves read queries over it.
//
// A Runner performs one load at a time: read the list, clear the collection,
// validate every record, upsert valid records in batches keyed by content_id
// and rebuild the indexes. Records that fail validation and batches that fail
// to write are counted as failed without aborting the run.
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

var (
	// ErrAlreadyRunning is returned by Run while another load is executing.
	ErrAlreadyRunning = errors.New("content ETL already running")

	// ErrInvalidRecord indicates a record failed decoding or validation.
	ErrInvalidRecord = errors.New("invalid content record")

	// ErrInvalidQuery indicates a List query with an unsupported parameter.
	ErrInvalidQuery = errors.New("invalid content query")
)

// Record is one movie document.
type Record struct {
	ContentID        string   `json:"content_id" bson:"content_id" validate:"required"`
	Title            string   `json:"title" bson:"title" validate:"required"`
	Genre            []string `json:"genre" bson:"genre" validate:"dive,required"`
	DurationMinutes  int64    `json:"duration_minutes" bson:"duration_minutes" validate:"gte=0"`
	ReleaseYear      int      `json:"release_year" bson:"release_year"`
	Rating           *float64 `json:"rating,omitempty" bson:"rating,omitempty" validate:"omitempty,gte=0,lte=5"`
	ViewsCount       int64    `json:"views_count" bson:"views_count" validate:"gte=0"`
	ProductionBudget *float64 `json:"production_budget,omitempty" bson:"production_budget,omitempty" validate:"omitempty,gte=0"`
}

// UnmarshalJSON accepts any JSON number for the integer fields, including
// 95.5 and 1.0e3. Fractions round to the nearest whole value.
func (r *Record) UnmarshalJSON(data []byte) error {
	type plain Record
	aux := struct {
		*plain
		DurationMinutes float64 `json:"duration_minutes"`
		ReleaseYear     float64 `json:"release_year"`
		ViewsCount      float64 `json:"views_count"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	var err error
	if r.DurationMinutes, err = wholeNumber("duration_minutes", aux.DurationMinutes); err != nil {
		return err
	}
	year, err := wholeNumber("release_year", aux.ReleaseYear)
	if err != nil {
		return err
	}
	if year > math.MaxInt32 || year < math.MinInt32 {
		return fmt.Errorf("release_year %v out of range", aux.ReleaseYear)
	}
	r.ReleaseYear = int(year)
	if r.ViewsCount, err = wholeNumber("views_count", aux.ViewsCount); err != nil {
		return err
	}
	return nil
}

func wholeNumber(field string, f float64) (int64, error) {
	n := math.Round(f)
	if n >= 1<<63 || n < -(1<<63) {
		return 0, fmt.Errorf("%s %v out of range", field, f)
	}
	return int64(n), nil
}

// Query filters and pages List.
type Query struct {
	Genre  string
	Year   int
	SortBy string
	Desc   bool
	Limit  int
	Offset int
}

// SortFields are the fields List accepts in Query.SortBy.
var SortFields = []string{"rating", "release_year", "views_count", "title", "duration_minutes", "production_budget"}

// Page is one page of List results.
type Page struct {
	Items []Record `json:"data"`
	Total int64    `json:"total"`
}

// YearRange aggregates the whole collection.
type YearRange struct {
	MinYear    int     `json:"minYear"`
	MaxYear    int     `json:"maxYear"`
	AvgRating  float64 `json:"avgRating"`
	TotalViews int64   `json:"totalViews"`
	AvgBudget  float64 `json:"avgBudget"`
}

// GenreCount is one entry of the genre distribution.
type GenreCount struct {
	Genre     string  `json:"genre"`
	Count     int64   `json:"count"`
	AvgRating float64 `json:"avgRating"`
}

// Stats describes the loaded collection.
type Stats struct {
	TotalMovies       int64        `json:"totalMovies"`
	UniqueGenres      int          `json:"uniqueGenres"`
	YearRange         YearRange    `json:"yearRange"`
	GenreDistribution []GenreCount `json:"genreDistribution"`
}

// IndexKey is one field of an index with its direction (1 or -1).
type IndexKey struct {
	Field     string `json:"field"`
	Direction int    `json:"direction"`
}

// Index describes one collection index.
type Index struct {
	Name   string     `json:"name"`
	Keys   []IndexKey `json:"keys"`
	Unique bool       `json:"unique,omitempty"`
}

// Indexes are the indexes every load (re)creates.
var Indexes = []Index{
	{Name: "content_id_1", Keys: []IndexKey{{Field: "content_id", Direction: 1}}, Unique: true},
	{Name: "genre_1", Keys: []IndexKey{{Field: "genre", Direction: 1}}},
	{Name: "release_year_-1", Keys: []IndexKey{{Field: "release_year", Direction: -1}}},
	{Name: "rating_-1", Keys: []IndexKey{{Field: "rating", Direction: -1}}},
}

// Schema describes the collection for display.
type Schema struct {
	Database       string         `json:"database"`
	Collection     string         `json:"collection"`
	DocumentCount  int64          `json:"documentCount"`
	Indexes        []Index        `json:"indexes"`
	SampleDocument map[string]any `json:"sampleDocument"`
	Fields         []string       `json:"fields"`
	Statistics     Stats          `json:"statistics"`
}

// WriteResult counts the effect of one upsert batch.
type WriteResult struct {
	Inserted int64
	Updated  int64
}

// Store is a document collection of Records.
type Store interface {
	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// DeleteAll removes every document and returns how many were removed.
	DeleteAll(ctx context.Context) (int64, error)

	// Upsert writes records keyed by content_id.
	Upsert(ctx context.Context, records []Record) (WriteResult, error)

	// EnsureIndexes creates Indexes when missing.
	EnsureIndexes(ctx context.Context) error

	// List returns one filtered, sorted page.
	List(ctx context.Context, q Query) (Page, error)

	// Stats aggregates the collection.
	Stats(ctx context.Context) (Stats, error)

	// Schema describes the collection.
	Schema(ctx context.Context) (Schema, error)

	// Close releases the connection.
	Close(ctx context.Context) error
}
