// Package analytics runs the aggregate queries over the warehouse and writes
// each result as a CSV artifact.
package analytics

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/store"
	"github.com/marquee/marquee/internal/warehouse"
)

// Query is one analytic extract.
type Query struct {
	Name    string
	Columns []string
	SQL     string
}

// Artifact is a written CSV file.
type Artifact struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

var (
	movieColumns = []string{"movie_id", "title", "release_year", "avg_rating", "num_ratings"}
	genreColumns = []string{"genre_name", "num_ratings", "avg_rating"}
)

// Reporter runs the analytic queries.
type Reporter struct {
	Store     store.Store
	Config    config.AnalyticsConfig
	OutputDir string
	Logger    *slog.Logger
}

// New creates a Reporter writing into outputDir.
func New(s store.Store, cfg config.AnalyticsConfig, outputDir string, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{Store: s, Config: cfg, OutputDir: outputDir, Logger: logger}
}

// Queries returns the five extracts in output order. Every ordering ends on
// the natural key so results are stable across runs.
func (r *Reporter) Queries() []Query {
	d := r.Store.Dialect()
	avg := d.RoundAvg("f.rating")

	movies := func(order string) string {
		return fmt.Sprintf(`SELECT m.movie_id AS movie_id, m.title AS title, m.release_year AS release_year,
  %s AS avg_rating, COUNT(f.rating) AS num_ratings
FROM %s f
JOIN %s m ON f.movie_id = m.movie_id
GROUP BY m.movie_id, m.title, m.release_year
HAVING COUNT(f.rating) >= %d
ORDER BY %s
LIMIT %d`, avg, d.Quote(warehouse.FactRatings), d.Quote(warehouse.DimMovies),
			r.Config.MinRatings, order, r.Config.MovieLimit)
	}
	genres := func(order string) string {
		return fmt.Sprintf(`SELECT g.genre_name AS genre_name, COUNT(f.rating) AS num_ratings, %s AS avg_rating
FROM %s f
JOIN %s bmg ON f.movie_id = bmg.movie_id
JOIN %s g ON bmg.genre_key = g.genre_key
GROUP BY g.genre_name
ORDER BY %s
LIMIT %d`, avg, d.Quote(warehouse.FactRatings), d.Quote(warehouse.BridgeGenre), d.Quote(warehouse.DimGenres),
			order, r.Config.GenreLimit)
	}

	return []Query{
		{
			Name:    fmt.Sprintf("top_%d_movies_by_avg_rating", r.Config.MovieLimit),
			Columns: movieColumns,
			SQL:     movies("avg_rating DESC, num_ratings DESC, movie_id ASC"),
		},
		{
			Name:    fmt.Sprintf("least_%d_movies_by_avg_rating", r.Config.MovieLimit),
			Columns: movieColumns,
			SQL:     movies("avg_rating ASC, num_ratings DESC, movie_id ASC"),
		},
		{
			Name:    fmt.Sprintf("top_%d_genres_by_num_ratings", r.Config.GenreLimit),
			Columns: genreColumns,
			SQL:     genres("num_ratings DESC, genre_name ASC"),
		},
		{
			Name:    fmt.Sprintf("least_%d_genres_by_num_ratings", r.Config.GenreLimit),
			Columns: genreColumns,
			SQL:     genres("num_ratings ASC, genre_name ASC"),
		},
		{
			Name:    fmt.Sprintf("top_%d_genres_by_avg_rating", r.Config.GenreLimit),
			Columns: genreColumns,
			SQL:     genres("avg_rating DESC, num_ratings DESC, genre_name ASC"),
		},
	}
}

// Run executes every query and writes <output_dir>/<name>.csv for each.
func (r *Reporter) Run(ctx context.Context) ([]Artifact, error) {
	start := time.Now()
	log := r.Logger.With("stage", "analytics")

	if err := os.MkdirAll(r.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	var artifacts []Artifact
	for _, q := range r.Queries() {
		rows, err := r.Store.QueryRows(ctx, q.SQL)
		if err != nil {
			log.Error("query failed", "query", q.Name, "error", err)
			return artifacts, fmt.Errorf("running %s: %w", q.Name, err)
		}

		path := filepath.Join(r.OutputDir, q.Name+".csv")
		if err := WriteCSV(path, q.Columns, rows.Values); err != nil {
			log.Error("writing artifact failed", "query", q.Name, "path", path, "error", err)
			return artifacts, fmt.Errorf("writing %s: %w", q.Name, err)
		}

		a := Artifact{Name: q.Name, Path: path, Rows: len(rows.Values)}
		artifacts = append(artifacts, a)
		log.Info("artifact written", "query", q.Name, "rows", a.Rows, "path", path)
		if len(rows.Values) == 0 {
			log.Warn("query returned no rows", "query", q.Name)
		}
	}

	log.Info("analytics complete", "artifacts", len(artifacts), "duration", time.Since(start).Round(time.Millisecond))
	return artifacts, nil
}

// WriteCSV writes a header and rows to path, replacing any existing file only
// once the new content is complete.
func WriteCSV(path string, header []string, rows [][]any) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	record := make([]string, len(header))
	for _, row := range rows {
		for i := range record {
			record[i] = ""
			if i < len(row) {
				record[i] = store.FormatValue(row[i])
			}
		}
		if err := w.Write(record); err != nil {
			tmp.Close()
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
