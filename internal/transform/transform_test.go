package transform

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/marquee/marquee/internal/loader"
	"github.com/marquee/marquee/internal/logging"
	"github.com/marquee/marquee/internal/store"
)

const moviesCSV = `movieId,title,genres
1,Toy Story (1995),Adventure|Animation
2,Heat,
3,  Padded (2000)  ,Drama
1,Duplicate (1999),Comedy
,Orphan (2001),Drama
4,Bad (20x0),(no genres listed)
`

const ratingsCSV = `userId,movieId,rating,timestamp
1,1,4.0,100
1,1,3.0,200
2,1,5.5,300
2,2,0.0,300
3,1,2.5,500
3,1,4.5,500
4,2,,10
5,3,0.5,0
`

func setup(t *testing.T) (store.Store, *Transformer) {
	t.Helper()
	return setupWith(t, moviesCSV, ratingsCSV)
}

func setupWith(t *testing.T, moviesData, ratingsData string) (store.Store, *Transformer) {
	t.Helper()
	ctx := context.Background()
	s, err := store.OpenSQLite(ctx, ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(s.Close)

	dir := t.TempDir()
	movies := filepath.Join(dir, "movies.csv")
	ratings := filepath.Join(dir, "ratings.csv")
	if err := os.WriteFile(movies, []byte(moviesData), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ratings, []byte(ratingsData), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := loader.New(s, 3, logging.Discard()).LoadAll(ctx, movies, ratings); err != nil {
		t.Fatalf("loading staging: %v", err)
	}
	return s, New(s, logging.Discard())
}

type movieRow struct {
	title, cleanTitle, genres string
	year                      int64
	hasYear                   bool
}

func readMovies(t *testing.T, s store.Store) map[int64]movieRow {
	t.Helper()
	rows, err := s.QueryRows(context.Background(),
		"SELECT movie_id, title, release_year, clean_title, genres FROM cleaned_movies")
	if err != nil {
		t.Fatal(err)
	}
	out := map[int64]movieRow{}
	for _, r := range rows.Values {
		id, _ := store.Int(r[0])
		year, ok := store.Int(r[2])
		out[id] = movieRow{
			title:      store.FormatValue(r[1]),
			year:       year,
			hasYear:    ok,
			cleanTitle: store.FormatValue(r[3]),
			genres:     store.FormatValue(r[4]),
		}
	}
	return out
}

func TestCleanMovies(t *testing.T) {
	s, tr := setup(t)
	n, err := tr.CleanMovies(context.Background())
	if err != nil {
		t.Fatalf("clean movies: %v", err)
	}
	if n != 4 {
		t.Fatalf("expected 4 movies, got %d", n)
	}

	got := readMovies(t, s)
	want := map[int64]movieRow{
		1: {title: "Toy Story (1995)", cleanTitle: "Toy Story", genres: "Adventure|Animation", year: 1995, hasYear: true},
		2: {title: "Heat", cleanTitle: "Heat", genres: "Unknown"},
		3: {title: "Padded (2000)", cleanTitle: "Padded", genres: "Drama", year: 2000, hasYear: true},
		4: {title: "Bad (20x0)", cleanTitle: "Bad (20x0)", genres: "(no genres listed)"},
	}
	for id, w := range want {
		g, ok := got[id]
		if !ok {
			t.Errorf("movie %d missing", id)
			continue
		}
		if g != w {
			t.Errorf("movie %d = %+v, want %+v", id, g, w)
		}
	}
}

func TestCleanRatings(t *testing.T) {
	s, tr := setup(t)
	n, err := tr.CleanRatings(context.Background())
	if err != nil {
		t.Fatalf("clean ratings: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 ratings, got %d", n)
	}

	rows, err := s.QueryRows(context.Background(),
		"SELECT user_id, movie_id, rating, rating_timestamp, rating_datetime FROM cleaned_ratings ORDER BY user_id, movie_id")
	if err != nil {
		t.Fatal(err)
	}
	type rating struct {
		user, movie int64
		rating      float64
		ts          int64
		dt          string
	}
	want := []rating{
		{1, 1, 3.0, 200, "1970-01-01 00:03:20"},
		{3, 1, 2.5, 500, "1970-01-01 00:08:20"},
		{5, 3, 0.5, 0, "1970-01-01 00:00:00"},
	}
	for i, r := range rows.Values {
		u, _ := store.Int(r[0])
		m, _ := store.Int(r[1])
		v, _ := store.Float(r[2])
		ts, _ := store.Int(r[3])
		got := rating{u, m, v, ts, store.FormatValue(r[4])}
		if got != want[i] {
			t.Errorf("row %d = %+v, want %+v", i, got, want[i])
		}
	}
}

func TestRunIsIdempotent(t *testing.T) {
	s, tr := setup(t)
	ctx := context.Background()

	first, err := tr.Run(ctx)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := readMovies(t, s)

	second, err := tr.Run(ctx)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	after := readMovies(t, s)

	if first.Movies != second.Movies || first.Ratings != second.Ratings {
		t.Errorf("counts differ between runs: %+v vs %+v", first, second)
	}
	if len(before) != len(after) {
		t.Fatalf("content differs between runs")
	}
	for id, row := range before {
		if after[id] != row {
			t.Errorf("movie %d changed between runs: %+v vs %+v", id, row, after[id])
		}
	}
}

func TestCleanedKeysAreUnique(t *testing.T) {
	s, tr := setup(t)
	ctx := context.Background()
	if _, err := tr.Run(ctx); err != nil {
		t.Fatal(err)
	}

	v, err := store.QueryScalar(ctx, s,
		"SELECT COUNT(*) FROM (SELECT user_id, movie_id FROM cleaned_ratings GROUP BY user_id, movie_id HAVING COUNT(*) > 1) d")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := store.Int(v); n != 0 {
		t.Errorf("expected no duplicate rating keys, got %d", n)
	}
	if err := s.Exec(ctx, "INSERT INTO cleaned_movies (movie_id, genres) VALUES (1, 'x')"); err == nil {
		t.Error("unique index should reject a duplicate movie_id")
	}
}

func TestProfile(t *testing.T) {
	_, tr := setup(t)
	profiles, err := tr.Profile(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	movies := profiles[0]
	if movies.Rows != 6 || movies.NullCounts["movieId"] != 1 || movies.NullCounts["genres"] != 1 {
		t.Errorf("unexpected movie profile %+v", movies)
	}
	if movies.DuplicateKeys != 1 {
		t.Errorf("expected 1 duplicate movie id, got %d", movies.DuplicateKeys)
	}

	ratings := profiles[1]
	if ratings.Rows != 8 || ratings.NullCounts["rating"] != 1 {
		t.Errorf("unexpected ratings profile %+v", ratings)
	}
	if ratings.DuplicateKeys != 2 {
		t.Errorf("expected 2 duplicate rating keys, got %d", ratings.DuplicateKeys)
	}
	if ratings.InvalidRatings != 2 {
		t.Errorf("expected 2 invalid ratings, got %d", ratings.InvalidRatings)
	}
}

func TestCleanTextTypedColumns(t *testing.T) {
	movies := "movieId,title,genres\n" +
		"x1,Junk,Drama\n" +
		"7,Kept (2001),Comedy\n"
	ratings := "userId,movieId,rating,timestamp\n" +
		"1,7,10,100\n" +
		"2,7,n/a,100\n" +
		"3,7,4.0,100\n" +
		"4,7,4.5.1,100\n" +
		"5,7,0.5,100\n"
	s, tr := setupWith(t, movies, ratings)
	ctx := context.Background()

	res, err := tr.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	got := readMovies(t, s)
	if len(got) != 1 {
		t.Fatalf("expected only movie 7, got %+v", got)
	}
	if m, ok := got[7]; !ok || m.title != "Kept (2001)" || m.year != 2001 {
		t.Errorf("unexpected movie 7: %+v", got)
	}

	rows, err := s.QueryRows(ctx, "SELECT user_id, rating FROM cleaned_ratings ORDER BY user_id")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"3=4", "5=0.5"}
	if len(rows.Values) != len(want) {
		t.Fatalf("expected %d ratings, got %v", len(want), rows.Values)
	}
	for i, r := range rows.Values {
		if got := store.FormatValue(r[0]) + "=" + store.FormatValue(r[1]); got != want[i] {
			t.Errorf("row %d = %s, want %s", i, got, want[i])
		}
	}

	// 10, n/a and 4.5.1 are all outside the accepted range.
	if res.Profiles[1].InvalidRatings != 3 {
		t.Errorf("expected 3 invalid ratings, got %d", res.Profiles[1].InvalidRatings)
	}
}
