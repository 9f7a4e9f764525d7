// Package transform derives the cleaned relations from staging.
package transform

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/marquee/marquee/internal/indexes"
	"github.com/marquee/marquee/internal/loader"
	"github.com/marquee/marquee/internal/metrics"
	"github.com/marquee/marquee/internal/store"
)

const (
	CleanedMovies  = "cleaned_movies"
	CleanedRatings = "cleaned_ratings"

	DefaultGenre = "Unknown"
	MinRating    = 0.5
	MaxRating    = 5.0
)

// MovieColumns is the schema of cleaned_movies.
var MovieColumns = []store.Column{
	{Name: "movie_id", Kind: store.KindInteger, NotNull: true},
	{Name: "title", Kind: store.KindText},
	{Name: "release_year", Kind: store.KindInteger},
	{Name: "clean_title", Kind: store.KindText},
	{Name: "genres", Kind: store.KindText, NotNull: true},
}

// RatingColumns is the schema of cleaned_ratings.
var RatingColumns = []store.Column{
	{Name: "user_id", Kind: store.KindInteger, NotNull: true},
	{Name: "movie_id", Kind: store.KindInteger, NotNull: true},
	{Name: "rating", Kind: store.KindReal, NotNull: true},
	{Name: "rating_timestamp", Kind: store.KindInteger},
	{Name: "rating_datetime", Kind: store.KindTimestamp},
}

var keyPlan = indexes.Infer([]indexes.Table{
	{Name: CleanedMovies, Key: []string{"movie_id"}},
	{Name: CleanedRatings, Key: []string{"user_id", "movie_id"}},
})

// Result summarizes one transform run.
type Result struct {
	Movies   int64         `json:"movies"`
	Ratings  int64         `json:"ratings"`
	Profiles []Profile     `json:"profiles"`
	Duration time.Duration `json:"duration"`
}

// Transformer cleans staging data into the cleaned relations.
type Transformer struct {
	Store      store.Store
	Logger     *slog.Logger
	SampleSize int
}

// New creates a Transformer that logs five sample rows per relation.
func New(s store.Store, logger *slog.Logger) *Transformer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transformer{Store: s, Logger: logger, SampleSize: 5}
}

// Run profiles staging, then rebuilds cleaned_movies and cleaned_ratings.
func (t *Transformer) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}

	profiles, err := t.Profile(ctx)
	if err != nil {
		return nil, err
	}
	res.Profiles = profiles

	if res.Movies, err = t.CleanMovies(ctx); err != nil {
		return nil, err
	}
	if res.Ratings, err = t.CleanRatings(ctx); err != nil {
		return nil, err
	}
	if err := indexes.Apply(ctx, t.Store, keyPlan, t.Logger); err != nil {
		return nil, err
	}

	t.logSample(ctx, CleanedMovies, "movie_id")
	t.logSample(ctx, CleanedRatings, "user_id, movie_id")

	res.Duration = time.Since(start)
	t.Logger.Info("transform complete", "movies", res.Movies, "ratings", res.Ratings,
		"duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

// CleanMovies rebuilds cleaned_movies: one row per movie identifier (first in
// file order wins), trimmed title, release year parsed from a trailing
// "(YYYY)", and genres defaulted to Unknown. Rows whose identifier is missing
// or not an integer are dropped.
func (t *Transformer) CleanMovies(ctx context.Context) (int64, error) {
	d := t.Store.Dialect()
	q := d.Quote

	title := "title"
	sql := fmt.Sprintf(`INSERT INTO %%s (%s)
SELECT movie_id, title,
  CASE WHEN %s THEN %s ELSE NULL END,
  CASE WHEN %s THEN %s ELSE title END,
  genres
FROM (
  SELECT movie_id, title, genres,
    ROW_NUMBER() OVER (PARTITION BY movie_id ORDER BY ord) AS rn
  FROM (
    SELECT %s AS movie_id,
      TRIM(CAST(%s AS TEXT)) AS title,
      COALESCE(NULLIF(TRIM(CAST(%s AS TEXT)), ''), '%s') AS genres,
      %s AS ord
    FROM %s
  ) c
  WHERE movie_id IS NOT NULL
) s
WHERE rn = 1`,
		store.ColumnList(d, MovieColumns),
		d.TitleHasYear(title), d.TitleYear(title),
		d.TitleHasYear(title), d.TitleWithoutYear(title),
		d.ToInteger(q("movieId")),
		q("title"),
		q("genres"), DefaultGenre,
		d.RowOrdinal(),
		q(loader.StagingMovies))

	return t.rebuild(ctx, CleanedMovies, MovieColumns, sql)
}

// CleanRatings rebuilds cleaned_ratings: complete rows with a rating in
// [0.5, 5.0], one row per (user, movie) keeping the latest timestamp and, on
// a tie, the first row in file order. Non-numeric values count as missing.
func (t *Transformer) CleanRatings(ctx context.Context) (int64, error) {
	d := t.Store.Dialect()
	q := d.Quote

	sql := fmt.Sprintf(`INSERT INTO %%s (%s)
SELECT user_id, movie_id, rating, rating_timestamp, %s
FROM (
  SELECT user_id, movie_id, rating, rating_timestamp,
    ROW_NUMBER() OVER (PARTITION BY user_id, movie_id ORDER BY rating_timestamp DESC NULLS LAST, ord ASC) AS rn
  FROM (
    SELECT %s AS user_id,
      %s AS movie_id,
      %s AS rating,
      %s AS rating_timestamp,
      %s AS ord
    FROM %s
  ) c
  WHERE user_id IS NOT NULL AND movie_id IS NOT NULL AND rating IS NOT NULL
    AND rating >= %v AND rating <= %v
) s
WHERE rn = 1`,
		store.ColumnList(d, RatingColumns),
		d.UnixToTimestamp("rating_timestamp"),
		d.ToInteger(q("userId")),
		d.ToInteger(q("movieId")),
		d.ToReal(q("rating")),
		d.ToInteger(q("timestamp")),
		d.RowOrdinal(),
		q(loader.StagingRatings),
		MinRating, MaxRating)

	return t.rebuild(ctx, CleanedRatings, RatingColumns, sql)
}

// rebuild creates the shadow of table, fills it with insertSQL (which has a
// %s placeholder for the shadow name) and swaps it in.
func (t *Transformer) rebuild(ctx context.Context, table string, columns []store.Column, insertSQL string) (int64, error) {
	log := t.Logger.With("stage", "transform", "table", table)
	log.Info("rebuilding relation")

	err := store.Rebuild(ctx, t.Store, table, func(ctx context.Context, shadow string) error {
		if err := store.CreateTable(ctx, t.Store, shadow, columns); err != nil {
			return err
		}
		if err := t.Store.Exec(ctx, fmt.Sprintf(insertSQL, t.Store.Dialect().Quote(shadow))); err != nil {
			return fmt.Errorf("filling %s: %w", shadow, err)
		}
		return nil
	})
	if err != nil {
		log.Error("rebuild failed", "error", err)
		return 0, fmt.Errorf("rebuilding %s: %w", table, err)
	}

	n, err := store.RowCount(ctx, t.Store, table)
	if err != nil {
		return 0, err
	}
	metrics.RecordRows(table, n)
	metrics.SetTableRows(table, n)
	log.Info("relation rebuilt", "rows", n)
	return n, nil
}

func (t *Transformer) logSample(ctx context.Context, table, orderBy string) {
	if t.SampleSize <= 0 {
		return
	}
	rows, err := t.Store.QueryRows(ctx, fmt.Sprintf("SELECT * FROM %s ORDER BY %s LIMIT %d",
		t.Store.Dialect().Quote(table), orderBy, t.SampleSize))
	if err != nil {
		t.Logger.Warn("sampling failed", "table", table, "error", err)
		return
	}
	for _, r := range rows.Values {
		parts := make([]string, len(r))
		for i, v := range r {
			parts[i] = rows.Columns[i] + "=" + store.FormatValue(v)
		}
		t.Logger.Debug("sample row", "table", table, "row", strings.Join(parts, " "))
	}
}
