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
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store for tests and local runs.
type MemoryStore struct {
	collection string
	mu         sync.RWMutex
	items      map[string]Record
	indexed    bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore(collection string) *MemoryStore {
	return &MemoryStore{collection: collection, items: make(map[string]Record)}
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) DeleteAll(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.items))
	m.items = make(map[string]Record)
	return n, nil
}

func (m *MemoryStore) Upsert(_ context.Context, records []Record) (WriteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res WriteResult
	for _, rec := range records {
		if rec.ContentID == "" {
			return res, fmt.Errorf("memory store %q: content_id must not be empty", m.collection)
		}
		if _, ok := m.items[rec.ContentID]; ok {
			res.Updated++
		} else {
			res.Inserted++
		}
		rec.Genre = slices.Clone(rec.Genre)
		m.items[rec.ContentID] = rec
	}
	return res, nil
}

func (m *MemoryStore) EnsureIndexes(context.Context) error {
	m.mu.Lock()
	m.indexed = true
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) List(_ context.Context, q Query) (Page, error) {
	q, err := NormalizeQuery(q)
	if err != nil {
		return Page{}, err
	}

	m.mu.RLock()
	matched := make([]Record, 0, len(m.items))
	for _, rec := range m.items {
		if q.Genre != "" && !slices.Contains(rec.Genre, q.Genre) {
			continue
		}
		if q.Year != 0 && rec.ReleaseYear != q.Year {
			continue
		}
		matched = append(matched, rec)
	}
	m.mu.RUnlock()

	slices.SortFunc(matched, func(a, b Record) int {
		c := compareField(a, b, q.SortBy)
		if q.Desc {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.ContentID, b.ContentID)
	})

	page := Page{Total: int64(len(matched)), Items: []Record{}}
	if q.Offset < len(matched) {
		end := min(q.Offset+q.Limit, len(matched))
		page.Items = matched[q.Offset:end]
	}
	return page, nil
}

// compareField orders nil numeric fields before any value.
func compareField(a, b Record, field string) int {
	switch field {
	case "title":
		return cmp.Compare(a.Title, b.Title)
	case "release_year":
		return cmp.Compare(a.ReleaseYear, b.ReleaseYear)
	case "views_count":
		return cmp.Compare(a.ViewsCount, b.ViewsCount)
	case "duration_minutes":
		return cmp.Compare(a.DurationMinutes, b.DurationMinutes)
	case "production_budget":
		return comparePtr(a.ProductionBudget, b.ProductionBudget)
	default:
		return comparePtr(a.Rating, b.Rating)
	}
}

func comparePtr(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	}
	return cmp.Compare(*a, *b)
}

func (m *MemoryStore) Stats(context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats(), nil
}

func (m *MemoryStore) stats() Stats {
	st := Stats{TotalMovies: int64(len(m.items)), GenreDistribution: []GenreCount{}}
	if len(m.items) == 0 {
		return st
	}

	type genreAcc struct {
		count       int64
		ratingSum   float64
		ratingCount int64
	}
	genres := map[string]*genreAcc{}

	var ratingSum, budgetSum float64
	var ratingN, budgetN int64
	first := true
	for _, rec := range m.items {
		if first || rec.ReleaseYear < st.YearRange.MinYear {
			st.YearRange.MinYear = rec.ReleaseYear
		}
		if first || rec.ReleaseYear > st.YearRange.MaxYear {
			st.YearRange.MaxYear = rec.ReleaseYear
		}
		first = false
		st.YearRange.TotalViews += rec.ViewsCount
		if rec.Rating != nil {
			ratingSum += *rec.Rating
			ratingN++
		}
		if rec.ProductionBudget != nil {
			budgetSum += *rec.ProductionBudget
			budgetN++
		}
		for _, g := range rec.Genre {
			acc, ok := genres[g]
			if !ok {
				acc = &genreAcc{}
				genres[g] = acc
			}
			acc.count++
			if rec.Rating != nil {
				acc.ratingSum += *rec.Rating
				acc.ratingCount++
			}
		}
	}
	if ratingN > 0 {
		st.YearRange.AvgRating = ratingSum / float64(ratingN)
	}
	if budgetN > 0 {
		st.YearRange.AvgBudget = budgetSum / float64(budgetN)
	}

	st.UniqueGenres = len(genres)
	for _, g := range slices.Sorted(maps.Keys(genres)) {
		acc := genres[g]
		gc := GenreCount{Genre: g, Count: acc.count}
		if acc.ratingCount > 0 {
			gc.AvgRating = acc.ratingSum / float64(acc.ratingCount)
		}
		st.GenreDistribution = append(st.GenreDistribution, gc)
	}
	slices.SortStableFunc(st.GenreDistribution, func(a, b GenreCount) int {
		return cmp.Compare(b.Count, a.Count)
	})
	return st
}

func (m *MemoryStore) Schema(context.Context) (Schema, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sc := Schema{
		Database:      "memory",
		Collection:    m.collection,
		DocumentCount: int64(len(m.items)),
		Indexes:       []Index{},
		Fields:        []string{},
		Statistics:    m.stats(),
	}
	if m.indexed {
		sc.Indexes = slices.Clone(Indexes)
	}
	if len(m.items) > 0 {
		id := slices.Min(slices.Collect(maps.Keys(m.items)))
		doc, err := toDocument(m.items[id])
		if err != nil {
			return Schema{}, err
		}
		sc.SampleDocument = doc
		sc.Fields = slices.Sorted(maps.Keys(doc))
	}
	return sc, nil
}

func (m *MemoryStore) Close(context.Context) error { return nil }

func toDocument(rec Record) (map[string]any, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}
