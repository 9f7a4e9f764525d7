// Package warehouse builds the star schema from the cleaned relations.
package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/marquee/marquee/internal/indexes"
	"github.com/marquee/marquee/internal/metrics"
	"github.com/marquee/marquee/internal/store"
	"github.com/marquee/marquee/internal/transform"
)

const (
	DimMovies   = "dim_movies"
	DimGenres   = "dim_genres"
	DimUsers    = "dim_users"
	BridgeGenre = "bridge_movie_genres"
	FactRatings = "fact_ratings"
)

// Tables lists the warehouse relations in build order.
var Tables = []string{DimMovies, DimGenres, DimUsers, BridgeGenre, FactRatings}

// Plan is the index plan applied after every build.
var Plan = indexes.Infer([]indexes.Table{
	{Name: DimMovies, Key: []string{"movie_id"}},
	{Name: DimGenres, Key: []string{"genre_name"}},
	{Name: DimUsers, Key: []string{"user_id"}},
	{
		Name: BridgeGenre,
		Key:  []string{"movie_id", "genre_key"},
		References: []indexes.Reference{
			{Column: "movie_id", Parent: DimMovies},
			{Column: "genre_key", Parent: DimGenres},
		},
	},
	{
		Name: FactRatings,
		Key:  []string{"user_id", "movie_id"},
		References: []indexes.Reference{
			{Column: "user_id", Parent: DimUsers},
			{Column: "movie_id", Parent: DimMovies},
		},
		Lookups: [][]string{{"rating_datetime"}},
	},
})

var schemas = map[string][]store.Column{
	DimMovies: {
		{Name: "movie_key", Kind: store.KindInteger, NotNull: true},
		{Name: "movie_id", Kind: store.KindInteger, NotNull: true},
		{Name: "title", Kind: store.KindText},
		{Name: "clean_title", Kind: store.KindText},
		{Name: "release_year", Kind: store.KindInteger},
	},
	DimGenres: {
		{Name: "genre_key", Kind: store.KindInteger, NotNull: true},
		{Name: "genre_name", Kind: store.KindText, NotNull: true},
	},
	DimUsers: {
		{Name: "user_key", Kind: store.KindInteger, NotNull: true},
		{Name: "user_id", Kind: store.KindInteger, NotNull: true},
	},
	BridgeGenre: {
		{Name: "movie_id", Kind: store.KindInteger, NotNull: true},
		{Name: "genre_key", Kind: store.KindInteger, NotNull: true},
	},
	FactRatings: {
		{Name: "rating_key", Kind: store.KindInteger, NotNull: true},
		{Name: "user_id", Kind: store.KindInteger, NotNull: true},
		{Name: "movie_id", Kind: store.KindInteger, NotNull: true},
		{Name: "rating", Kind: store.KindReal, NotNull: true},
		{Name: "rating_timestamp", Kind: store.KindInteger},
		{Name: "rating_datetime", Kind: store.KindTimestamp},
	},
}

// Result summarizes one warehouse build.
type Result struct {
	Counts   map[string]int64 `json:"counts"`
	Genres   []string         `json:"genres"`
	Indexes  int              `json:"indexes"`
	Duration time.Duration    `json:"duration"`
}

// Builder rebuilds the warehouse relations.
type Builder struct {
	Store  store.Store
	Logger *slog.Logger
}

// New creates a Builder.
func New(s store.Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{Store: s, Logger: logger}
}

// Build rebuilds the dimensions, then the bridge, then the fact relation, and
// finally creates the secondary indexes.
func (b *Builder) Build(ctx context.Context) (*Result, error) {
	start := time.Now()
	d := b.Store.Dialect()
	q := d.Quote
	split := d.SplitGenres(transform.CleanedMovies)

	steps := []struct {
		table  string
		insert string
	}{
		{DimMovies, fmt.Sprintf(`SELECT ROW_NUMBER() OVER (ORDER BY movie_id), movie_id, title, clean_title, release_year
FROM %s`, q(transform.CleanedMovies))},
		{DimGenres, fmt.Sprintf(`SELECT ROW_NUMBER() OVER (ORDER BY genre_name), genre_name
FROM (SELECT DISTINCT genre_name FROM (%s) g) d`, split)},
		{DimUsers, fmt.Sprintf(`SELECT ROW_NUMBER() OVER (ORDER BY user_id), user_id
FROM (SELECT DISTINCT user_id FROM %s) u`, q(transform.CleanedRatings))},
		{BridgeGenre, fmt.Sprintf(`SELECT DISTINCT g.movie_id, dg.genre_key
FROM (%s) g INNER JOIN %s dg ON dg.genre_name = g.genre_name`, split, q(DimGenres))},
		{FactRatings, fmt.Sprintf(`SELECT ROW_NUMBER() OVER (ORDER BY user_id, movie_id), user_id, movie_id, rating, rating_timestamp, rating_datetime
FROM %s`, q(transform.CleanedRatings))},
	}

	res := &Result{Counts: make(map[string]int64, len(steps))}
	for _, step := range steps {
		n, err := b.rebuild(ctx, step.table, step.insert)
		if err != nil {
			return nil, err
		}
		res.Counts[step.table] = n
	}

	genres, err := b.genres(ctx)
	if err != nil {
		return nil, err
	}
	res.Genres = genres
	b.Logger.Info("genres", "stage", "warehouse", "count", len(genres), "names", genres)

	if err := indexes.Apply(ctx, b.Store, Plan, b.Logger.With("stage", "warehouse")); err != nil {
		return nil, err
	}
	res.Indexes = len(Plan.Indexes)
	res.Duration = time.Since(start)

	b.Logger.Info("warehouse complete", "stage", "warehouse",
		"dim_movies", res.Counts[DimMovies], "dim_genres", res.Counts[DimGenres],
		"dim_users", res.Counts[DimUsers], "bridge_movie_genres", res.Counts[BridgeGenre],
		"fact_ratings", res.Counts[FactRatings], "duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

func (b *Builder) rebuild(ctx context.Context, table, selectSQL string) (int64, error) {
	log := b.Logger.With("stage", "warehouse", "table", table)
	columns := schemas[table]

	err := store.Rebuild(ctx, b.Store, table, func(ctx context.Context, shadow string) error {
		if err := store.CreateTable(ctx, b.Store, shadow, columns); err != nil {
			return err
		}
		sql := fmt.Sprintf("INSERT INTO %s (%s)\n%s",
			b.Store.Dialect().Quote(shadow), store.ColumnList(b.Store.Dialect(), columns), selectSQL)
		if err := b.Store.Exec(ctx, sql); err != nil {
			return fmt.Errorf("filling %s: %w", shadow, err)
		}
		return nil
	})
	if err != nil {
		log.Error("rebuild failed", "error", err)
		return 0, fmt.Errorf("rebuilding %s: %w", table, err)
	}

	n, err := store.RowCount(ctx, b.Store, table)
	if err != nil {
		return 0, err
	}
	metrics.RecordRows(table, n)
	metrics.SetTableRows(table, n)
	log.Info("relation rebuilt", "rows", n)
	return n, nil
}

func (b *Builder) genres(ctx context.Context) ([]string, error) {
	rows, err := b.Store.QueryRows(ctx, fmt.Sprintf("SELECT genre_name FROM %s ORDER BY genre_key", b.Store.Dialect().Quote(DimGenres)))
	if err != nil {
		return nil, fmt.Errorf("listing genres: %w", err)
	}
	out := make([]string, 0, len(rows.Values))
	for _, r := range rows.Values {
		out = append(out, store.FormatValue(r[0]))
	}
	return out, nil
}

// Counts returns the current row count of every warehouse relation.
func Counts(ctx context.Context, s store.Store) (map[string]int64, error) {
	out := make(map[string]int64, len(Tables))
	for _, t := range Tables {
		n, err := store.RowCount(ctx, s, t)
		if err != nil {
			return nil, err
		}
		out[t] = n
	}
	return out, nil
}
