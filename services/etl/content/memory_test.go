// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package content

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f64(v float64) *float64 { return &v }

func seedMemory(t *testing.T) *MemoryStore {
	t.Helper()
	m := NewMemoryStore("movies")
	_, err := m.Upsert(context.Background(), []Record{
		{ContentID: "M1", Title: "Alpha", Genre: []string{"Drama"}, DurationMinutes: 100, ReleaseYear: 2020, Rating: f64(4.5), ViewsCount: 10, ProductionBudget: f64(100)},
		{ContentID: "M2", Title: "Beta", Genre: []string{"Drama", "Comedy"}, DurationMinutes: 90, ReleaseYear: 2018, Rating: f64(3.5), ViewsCount: 5, ProductionBudget: f64(300)},
		{ContentID: "M3", Title: "Gamma", Genre: []string{"Action"}, DurationMinutes: 120, ReleaseYear: 2022, ViewsCount: 7},
	})
	require.NoError(t, err)
	return m
}

func ids(items []Record) []string {
	out := make([]string, 0, len(items))
	for _, r := range items {
		out = append(out, r.ContentID)
	}
	return out
}

func TestMemoryStore_List(t *testing.T) {
	m := seedMemory(t)
	ctx := context.Background()

	page, err := m.List(ctx, Query{Desc: true})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, []string{"M1", "M2", "M3"}, ids(page.Items))

	page, err = m.List(ctx, Query{Genre: "Drama", SortBy: "release_year"})
	require.NoError(t, err)
	assert.Equal(t, []string{"M2", "M1"}, ids(page.Items))

	page, err = m.List(ctx, Query{Year: 2022})
	require.NoError(t, err)
	assert.Equal(t, []string{"M3"}, ids(page.Items))

	page, err = m.List(ctx, Query{SortBy: "title", Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Total)
	assert.Equal(t, []string{"M3"}, ids(page.Items))

	page, err = m.List(ctx, Query{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)

	_, err = m.List(ctx, Query{SortBy: "title; drop"})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}

func TestMemoryStore_Stats(t *testing.T) {
	st, err := seedMemory(t).Stats(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(3), st.TotalMovies)
	assert.Equal(t, 3, st.UniqueGenres)
	assert.Equal(t, 2018, st.YearRange.MinYear)
	assert.Equal(t, 2022, st.YearRange.MaxYear)
	assert.InDelta(t, 4.0, st.YearRange.AvgRating, 1e-9)
	assert.InDelta(t, 200.0, st.YearRange.AvgBudget, 1e-9)
	assert.Equal(t, int64(22), st.YearRange.TotalViews)

	require.Len(t, st.GenreDistribution, 3)
	assert.Equal(t, GenreCount{Genre: "Drama", Count: 2, AvgRating: 4.0}, st.GenreDistribution[0])
	assert.Equal(t, "Action", st.GenreDistribution[1].Genre)
	assert.Equal(t, 0.0, st.GenreDistribution[1].AvgRating)
}

func TestMemoryStore_EmptySchema(t *testing.T) {
	sc, err := NewMemoryStore("movies").Schema(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "movies", sc.Collection)
	assert.Zero(t, sc.DocumentCount)
	assert.Empty(t, sc.Indexes)
	assert.Nil(t, sc.SampleDocument)
	assert.Equal(t, int64(0), sc.Statistics.TotalMovies)
}
