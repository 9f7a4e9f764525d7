//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/history"
	"github.com/marquee/marquee/internal/logging"
	"github.com/marquee/marquee/internal/pipeline"
	"github.com/marquee/marquee/internal/quality"
	"github.com/marquee/marquee/internal/state"
	"github.com/marquee/marquee/internal/store"
	"github.com/marquee/marquee/internal/warehouse"
)

const moviesCSV = "movieId,title,genres\n" +
	"1,Toy Story (1995),Adventure|Animation|Children|Comedy|Fantasy\n" +
	"2,Jumanji (1995),Adventure|Children|Fantasy\n" +
	"3,\"Grumpier Old Men, The (1995)\",Comedy|Romance\n" +
	"3,Duplicate Row,Drama\n" +
	"4,Untitled,(no genres listed)\n" +
	"5,No Ratings Yet,\n"

const ratingsCSV = "userId,movieId,rating,timestamp\n" +
	"1,1,4.0,964982703\n" +
	"1,1,4.5,964982900\n" +
	"1,3,4.0,964981247\n" +
	"2,1,5.0,964982224\n" +
	"2,2,3.5,964983815\n" +
	"3,2,2.0,964982931\n" +
	"3,3,6.0,964982400\n" +
	"4,4,0.0,964982400\n"

func testConfig(t *testing.T, db config.DatabaseConfig) *config.Config {
	t.Helper()
	dir := t.TempDir()
	movies := filepath.Join(dir, "movies.csv")
	ratings := filepath.Join(dir, "ratings.csv")
	if err := os.WriteFile(movies, []byte(moviesCSV), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(ratings, []byte(ratingsCSV), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	cfg.Database = db
	cfg.Paths = config.PathsConfig{
		MoviesFile:  movies,
		RatingsFile: ratings,
		OutputDir:   filepath.Join(dir, "output"),
		StateFile:   filepath.Join(dir, "state.yaml"),
		LockFile:    filepath.Join(dir, "marquee.lock"),
	}
	cfg.Quality = config.QualityConfig{
		Mode:           quality.ModeEnforce,
		MaxMovies:      100,
		MaxRatings:     100,
		MinAvgRating:   2.0,
		MaxAvgRating:   4.5,
		MinReleaseYear: 1800,
		MaxReleaseYear: 2030,
	}
	cfg.Analytics = config.AnalyticsConfig{MinRatings: 1, MovieLimit: 10, GenreLimit: 5}
	cfg.Schedule.RetryDelay = time.Second
	return cfg
}

func TestPipelineOnPostgres(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, config.DatabaseConfig{Driver: "postgres", DSN: postgresDSN(t), MaxConnections: 4})

	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer s.Close()

	r := pipeline.New(cfg, s, logging.Discard())
	res, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if res.Transform.Movies != 5 || res.Transform.Ratings != 5 {
		t.Errorf("unexpected cleaned counts: movies=%d ratings=%d", res.Transform.Movies, res.Transform.Ratings)
	}
	if !res.Quality.AllPassed {
		for _, c := range res.Quality.Results {
			if !c.Passed {
				t.Errorf("check %s failed (value=%v error=%s)", c.Name, c.Value, c.Error)
			}
		}
	}

	// Movie 3 keeps its first row and the comma inside the quoted title.
	v, err := store.QueryScalar(ctx, s, "SELECT title FROM cleaned_movies WHERE movie_id = 3")
	if err != nil {
		t.Fatal(err)
	}
	if store.FormatValue(v) != "Grumpier Old Men, The (1995)" {
		t.Errorf("unexpected title %v", v)
	}

	// (1,1) keeps the latest rating.
	v, err = store.QueryScalar(ctx, s, "SELECT rating FROM cleaned_ratings WHERE user_id = 1 AND movie_id = 1")
	if err != nil {
		t.Fatal(err)
	}
	if f, _ := store.Float(v); f != 4.5 {
		t.Errorf("expected latest rating 4.5, got %v", v)
	}

	counts, err := warehouse.Counts(ctx, s)
	if err != nil {
		t.Fatal(err)
	}
	if counts[warehouse.DimMovies] != 5 || counts[warehouse.FactRatings] != 5 || counts[warehouse.DimUsers] != 3 {
		t.Errorf("unexpected warehouse counts %v", counts)
	}

	if len(res.Artifacts) != 5 {
		t.Fatalf("expected 5 artifacts, got %d", len(res.Artifacts))
	}

	// A second run replaces every relation and produces identical extracts.
	first := map[string]string{}
	for _, a := range res.Artifacts {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			t.Fatal(err)
		}
		first[a.Name] = string(data)
	}
	if _, err := r.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	for _, a := range res.Artifacts {
		data, err := os.ReadFile(a.Path)
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != first[a.Name] {
			t.Errorf("%s changed between runs", a.Name)
		}
	}

	st, err := state.Load(cfg.Paths.StateFile)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != state.StatusComplete {
		t.Errorf("expected complete state, got %s", st.Status)
	}
}

func TestHistoryOnMongo(t *testing.T) {
	ctx := context.Background()
	uri := mongoURI(t)

	rec, err := history.NewMongoRecorder(ctx, uri, "marquee_test", "pipeline_runs")
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer rec.Close(ctx)

	cfg := testConfig(t, config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"})
	s, err := store.Open(ctx, cfg.Database)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	r := pipeline.New(cfg, s, logging.Discard())
	r.History = rec
	res, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	entries, err := rec.Recent(ctx, 5)
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range entries {
		if e.RunID == res.RunID {
			found = true
			if e.Status != "SUCCESS" || len(e.Stages) != 5 || e.Artifacts != 5 {
				t.Errorf("unexpected history entry %+v", e)
			}
		}
	}
	if !found {
		t.Errorf("run %s not found in history", res.RunID)
	}
}
