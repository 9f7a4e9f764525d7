package analytics

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/logging"
	"github.com/marquee/marquee/internal/store"
	"github.com/marquee/marquee/internal/transform"
	"github.com/marquee/marquee/internal/warehouse"
)

func seedWarehouse(t *testing.T) store.Store {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)

	if err := store.CreateTable(ctx, s, transform.CleanedMovies, transform.MovieColumns); err != nil {
		t.Fatal(err)
	}
	if err := store.CreateTable(ctx, s, transform.CleanedRatings, transform.RatingColumns); err != nil {
		t.Fatal(err)
	}
	stmts := []string{
		`INSERT INTO cleaned_movies (movie_id, title, release_year, clean_title, genres) VALUES
		 (1, 'A (2000)', 2000, 'A', 'Comedy'),
		 (2, 'B', NULL, 'B', 'Drama|Comedy'),
		 (3, 'C', NULL, 'C', 'Drama')`,
		`INSERT INTO cleaned_ratings (user_id, movie_id, rating, rating_timestamp) VALUES
		 (1, 1, 5.0, 1), (2, 1, 4.0, 1),
		 (1, 2, 3.0, 1), (2, 2, 4.0, 1),
		 (1, 3, 5.0, 1)`,
	}
	for _, stmt := range stmts {
		if err := s.Exec(ctx, stmt); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := warehouse.New(s, logging.Discard()).Build(ctx); err != nil {
		t.Fatalf("building warehouse: %v", err)
	}
	return s
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestRunWritesAllArtifacts(t *testing.T) {
	s := seedWarehouse(t)
	dir := t.TempDir()
	cfg := config.AnalyticsConfig{MinRatings: 2, MovieLimit: 10, GenreLimit: 5}

	artifacts, err := New(s, cfg, dir, logging.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(artifacts) != 5 {
		t.Fatalf("expected 5 artifacts, got %d", len(artifacts))
	}

	want := map[string]string{
		"top_10_movies_by_avg_rating": "movie_id,title,release_year,avg_rating,num_ratings\n" +
			"1,A (2000),2000,4.5,2\n" +
			"2,B,,3.5,2\n",
		"least_10_movies_by_avg_rating": "movie_id,title,release_year,avg_rating,num_ratings\n" +
			"2,B,,3.5,2\n" +
			"1,A (2000),2000,4.5,2\n",
		"top_5_genres_by_num_ratings": "genre_name,num_ratings,avg_rating\n" +
			"Comedy,4,4\n" +
			"Drama,3,4\n",
		"least_5_genres_by_num_ratings": "genre_name,num_ratings,avg_rating\n" +
			"Drama,3,4\n" +
			"Comedy,4,4\n",
		"top_5_genres_by_avg_rating": "genre_name,num_ratings,avg_rating\n" +
			"Comedy,4,4\n" +
			"Drama,3,4\n",
	}
	for _, a := range artifacts {
		w, ok := want[a.Name]
		if !ok {
			t.Errorf("unexpected artifact %s", a.Name)
			continue
		}
		if a.Path != filepath.Join(dir, a.Name+".csv") {
			t.Errorf("unexpected path %s", a.Path)
		}
		if got := readFile(t, a.Path); got != w {
			t.Errorf("%s:\n got  %q\n want %q", a.Name, got, w)
		}
	}
}

func TestTopMoviesEmptyWithHighThreshold(t *testing.T) {
	s := seedWarehouse(t)
	dir := t.TempDir()
	cfg := config.AnalyticsConfig{MinRatings: 100, MovieLimit: 10, GenreLimit: 5}

	artifacts, err := New(s, cfg, dir, logging.Discard()).Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, a := range artifacts {
		if a.Name != "top_10_movies_by_avg_rating" {
			continue
		}
		if a.Rows != 0 {
			t.Errorf("expected no rows, got %d", a.Rows)
		}
		if got := readFile(t, a.Path); got != "movie_id,title,release_year,avg_rating,num_ratings\n" {
			t.Errorf("expected header-only file, got %q", got)
		}
		return
	}
	t.Fatal("top movies artifact missing")
}

func TestRunIsByteStable(t *testing.T) {
	s := seedWarehouse(t)
	dir := t.TempDir()
	r := New(s, config.AnalyticsConfig{MinRatings: 1, MovieLimit: 10, GenreLimit: 5}, dir, logging.Discard())

	first, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	contents := map[string]string{}
	for _, a := range first {
		contents[a.Name] = readFile(t, a.Path)
	}

	second, err := r.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	for _, a := range second {
		if readFile(t, a.Path) != contents[a.Name] {
			t.Errorf("%s changed between runs", a.Name)
		}
	}
}

func TestRunFailsWithoutWarehouse(t *testing.T) {
	s, err := store.OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	dir := t.TempDir()
	if _, err := New(s, config.Default().Analytics, dir, logging.Discard()).Run(context.Background()); err == nil {
		t.Fatal("expected error when warehouse relations are missing")
	}
}

func TestWriteCSVReplacesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.csv")
	if err := os.WriteFile(path, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := WriteCSV(path, []string{"a", "b"}, [][]any{{int64(1), "x,y"}, {nil, 2.5}}); err != nil {
		t.Fatal(err)
	}
	want := "a,b\n1,\"x,y\"\n,2.5\n"
	if got := readFile(t, path); got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %v", entries)
	}
}
