// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mongostore implements content.Store on MongoDB.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/AleutianAI/AleutianETL/services/etl/content"
)

// Config holds connection settings.
type Config struct {
	URI        string        `yaml:"uri" validate:"required"`
	Database   string        `yaml:"database" validate:"required"`
	Collection string        `yaml:"collection" validate:"required"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Store is a content.Store backed by one MongoDB collection.
type Store struct {
	client   *mongo.Client
	database string
	coll     *mongo.Collection
}

var _ content.Store = (*Store)(nil)

// Open creates a client for cfg. The driver connects lazily; call Ping to
// verify the server is reachable.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.Timeout > 0 {
		opts.SetConnectTimeout(cfg.Timeout).SetServerSelectionTimeout(cfg.Timeout)
	}
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	return &Store{
		client:   client,
		database: cfg.Database,
		coll:     client.Database(cfg.Database).Collection(cfg.Collection),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *Store) DeleteAll(ctx context.Context) (int64, error) {
	res, err := s.coll.DeleteMany(ctx, bson.D{})
	if err != nil {
		return 0, fmt.Errorf("delete documents: %w", err)
	}
	return res.DeletedCount, nil
}

// Upsert writes records with one unordered bulk write. created_at is set on
// insert and updated_at on every write.
func (s *Store) Upsert(ctx context.Context, records []content.Record) (content.WriteResult, error) {
	if len(records) == 0 {
		return content.WriteResult{}, nil
	}
	models := make([]mongo.WriteModel, 0, len(records))
	now := time.Now().UTC()
	for _, rec := range records {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.D{{Key: "content_id", Value: rec.ContentID}}).
			SetUpdate(bson.D{
				{Key: "$set", Value: rec},
				{Key: "$setOnInsert", Value: bson.D{{Key: "created_at", Value: now}}},
				{Key: "$currentDate", Value: bson.D{{Key: "updated_at", Value: true}}},
			}).
			SetUpsert(true))
	}

	res, err := s.coll.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		return content.WriteResult{}, fmt.Errorf("bulk write: %w", err)
	}
	return content.WriteResult{Inserted: res.UpsertedCount, Updated: res.ModifiedCount}, nil
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.coll.Indexes().CreateMany(ctx, indexModels(content.Indexes)); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}
	return nil
}

func indexModels(indexes []content.Index) []mongo.IndexModel {
	models := make([]mongo.IndexModel, 0, len(indexes))
	for _, idx := range indexes {
		keys := bson.D{}
		for _, k := range idx.Keys {
			keys = append(keys, bson.E{Key: k.Field, Value: k.Direction})
		}
		opts := options.Index().SetName(idx.Name)
		if idx.Unique {
			opts.SetUnique(true)
		}
		models = append(models, mongo.IndexModel{Keys: keys, Options: opts})
	}
	return models
}

func (s *Store) List(ctx context.Context, q content.Query) (content.Page, error) {
	q, err := content.NormalizeQuery(q)
	if err != nil {
		return content.Page{}, err
	}
	filter := listFilter(q)

	total, err := s.coll.CountDocuments(ctx, filter)
	if err != nil {
		return content.Page{}, fmt.Errorf("count documents: %w", err)
	}

	cur, err := s.coll.Find(ctx, filter, options.Find().
		SetSort(sortSpec(q)).
		SetSkip(int64(q.Offset)).
		SetLimit(int64(q.Limit)))
	if err != nil {
		return content.Page{}, fmt.Errorf("find documents: %w", err)
	}
	items := []content.Record{}
	if err := cur.All(ctx, &items); err != nil {
		return content.Page{}, fmt.Errorf("decode documents: %w", err)
	}
	return content.Page{Items: items, Total: total}, nil
}

func listFilter(q content.Query) bson.D {
	filter := bson.D{}
	if q.Genre != "" {
		filter = append(filter, bson.E{Key: "genre", Value: q.Genre})
	}
	if q.Year != 0 {
		filter = append(filter, bson.E{Key: "release_year", Value: q.Year})
	}
	return filter
}

func sortSpec(q content.Query) bson.D {
	dir := 1
	if q.Desc {
		dir = -1
	}
	return bson.D{{Key: q.SortBy, Value: dir}, {Key: "content_id", Value: 1}}
}

type summaryRow struct {
	MinYear    int      `bson:"minYear"`
	MaxYear    int      `bson:"maxYear"`
	AvgRating  *float64 `bson:"avgRating"`
	TotalViews int64    `bson:"totalViews"`
	AvgBudget  *float64 `bson:"avgBudget"`
}

type genreRow struct {
	Genre     string   `bson:"_id"`
	Count     int64    `bson:"count"`
	AvgRating *float64 `bson:"avgRating"`
}

func (s *Store) Stats(ctx context.Context) (content.Stats, error) {
	st := content.Stats{GenreDistribution: []content.GenreCount{}}

	total, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return st, fmt.Errorf("count documents: %w", err)
	}
	st.TotalMovies = total

	genres, err := s.coll.Distinct(ctx, "genre", bson.D{})
	if err != nil {
		return st, fmt.Errorf("distinct genres: %w", err)
	}
	st.UniqueGenres = len(genres)

	var summary []summaryRow
	if err := s.aggregate(ctx, &summary, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "minYear", Value: bson.D{{Key: "$min", Value: "$release_year"}}},
			{Key: "maxYear", Value: bson.D{{Key: "$max", Value: "$release_year"}}},
			{Key: "avgRating", Value: bson.D{{Key: "$avg", Value: "$rating"}}},
			{Key: "totalViews", Value: bson.D{{Key: "$sum", Value: "$views_count"}}},
			{Key: "avgBudget", Value: bson.D{{Key: "$avg", Value: "$production_budget"}}},
		}}},
	}); err != nil {
		return st, err
	}
	if len(summary) > 0 {
		row := summary[0]
		st.YearRange = content.YearRange{
			MinYear:    row.MinYear,
			MaxYear:    row.MaxYear,
			AvgRating:  deref(row.AvgRating),
			TotalViews: row.TotalViews,
			AvgBudget:  deref(row.AvgBudget),
		}
	}

	var dist []genreRow
	if err := s.aggregate(ctx, &dist, mongo.Pipeline{
		{{Key: "$unwind", Value: "$genre"}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$genre"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "avgRating", Value: bson.D{{Key: "$avg", Value: "$rating"}}},
		}}},
		{{Key: "$sort", Value: bson.D{{Key: "count", Value: -1}, {Key: "_id", Value: 1}}}},
	}); err != nil {
		return st, err
	}
	for _, g := range dist {
		st.GenreDistribution = append(st.GenreDistribution, content.GenreCount{
			Genre:     g.Genre,
			Count:     g.Count,
			AvgRating: deref(g.AvgRating),
		})
	}
	return st, nil
}

func (s *Store) aggregate(ctx context.Context, out any, pipeline mongo.Pipeline) error {
	cur, err := s.coll.Aggregate(ctx, pipeline)
	if err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	if err := cur.All(ctx, out); err != nil {
		return fmt.Errorf("decode aggregate: %w", err)
	}
	return nil
}

func (s *Store) Schema(ctx context.Context) (content.Schema, error) {
	sc := content.Schema{
		Database:   s.database,
		Collection: s.coll.Name(),
		Indexes:    []content.Index{},
		Fields:     []string{},
	}

	count, err := s.coll.CountDocuments(ctx, bson.D{})
	if err != nil {
		return sc, fmt.Errorf("count documents: %w", err)
	}
	sc.DocumentCount = count

	specs, err := s.coll.Indexes().ListSpecifications(ctx)
	if err != nil {
		return sc, fmt.Errorf("list indexes: %w", err)
	}
	for _, spec := range specs {
		idx, err := fromSpecification(spec)
		if err != nil {
			return sc, err
		}
		sc.Indexes = append(sc.Indexes, idx)
	}

	var sample bson.M
	err = s.coll.FindOne(ctx, bson.D{}, options.FindOne().SetSort(bson.D{{Key: "content_id", Value: 1}})).Decode(&sample)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
	case err != nil:
		return sc, fmt.Errorf("sample document: %w", err)
	default:
		sc.SampleDocument = map[string]any(sample)
		for k := range sample {
			sc.Fields = append(sc.Fields, k)
		}
		slices.Sort(sc.Fields)
	}

	stats, err := s.Stats(ctx)
	if err != nil {
		return sc, err
	}
	sc.Statistics = stats
	return sc, nil
}

func fromSpecification(spec *mongo.IndexSpecification) (content.Index, error) {
	idx := content.Index{Name: spec.Name, Unique: spec.Unique != nil && *spec.Unique}
	elems, err := spec.KeysDocument.Elements()
	if err != nil {
		return idx, fmt.Errorf("index %s keys: %w", spec.Name, err)
	}
	for _, e := range elems {
		idx.Keys = append(idx.Keys, content.IndexKey{Field: e.Key(), Direction: direction(e.Value())})
	}
	return idx, nil
}

func direction(v bson.RawValue) int {
	if i, ok := v.Int32OK(); ok {
		return int(i)
	}
	if i, ok := v.Int64OK(); ok {
		return int(i)
	}
	if f, ok := v.DoubleOK(); ok {
		return int(f)
	}
	return 1
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
