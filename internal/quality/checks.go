package quality

import (
	"fmt"

	"github.com/marquee/marquee/internal/config"
	"github.com/marquee/marquee/internal/store"
	"github.com/marquee/marquee/internal/transform"
)

// Check is one named assertion. Query returns a single scalar; Pass decides
// whether that value is acceptable. A NULL result never passes.
type Check struct {
	Name        string
	Description string
	Query       string
	Pass        func(v float64) bool
}

func zero(v float64) bool     { return v == 0 }
func positive(v float64) bool { return v > 0 }

// between is exclusive at both ends.
func between(lo, hi float64) func(float64) bool {
	return func(v float64) bool { return v > lo && v < hi }
}

// Battery returns the fixed, ordered list of checks over the cleaned
// relations, with bounds taken from cfg.
func Battery(cfg config.QualityConfig, d store.Dialect) []Check {
	movies := d.Quote(transform.CleanedMovies)
	ratings := d.Quote(transform.CleanedRatings)

	return []Check{
		// cleaned_movies
		{
			Name:        "movies_not_empty",
			Description: "cleaned_movies has at least one row",
			Query:       "SELECT COUNT(*) FROM " + movies,
			Pass:        positive,
		},
		{
			Name:        "movies_no_null_movie_id",
			Description: "every movie has a movie_id",
			Query:       "SELECT COUNT(*) FROM " + movies + " WHERE movie_id IS NULL",
			Pass:        zero,
		},
		{
			Name:        "movies_unique_movie_id",
			Description: "each movie_id appears once",
			Query:       "SELECT COUNT(*) - COUNT(DISTINCT movie_id) FROM " + movies,
			Pass:        zero,
		},
		{
			Name:        "movies_no_empty_title",
			Description: "every movie has a non-empty title",
			Query:       "SELECT COUNT(*) FROM " + movies + " WHERE title IS NULL OR title = ''",
			Pass:        zero,
		},
		{
			Name:        "movies_no_empty_genres",
			Description: "every movie has non-empty genres",
			Query:       "SELECT COUNT(*) FROM " + movies + " WHERE genres IS NULL OR genres = ''",
			Pass:        zero,
		},
		{
			Name:        "movies_release_year_range",
			Description: fmt.Sprintf("release years fall within %d-%d", cfg.MinReleaseYear, cfg.MaxReleaseYear),
			Query: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE release_year IS NOT NULL AND (release_year < %d OR release_year > %d)",
				movies, cfg.MinReleaseYear, cfg.MaxReleaseYear),
			Pass: zero,
		},
		{
			Name:        "movies_row_count",
			Description: fmt.Sprintf("movie count is between %d and %d", cfg.MinMovies, cfg.MaxMovies),
			Query:       "SELECT COUNT(*) FROM " + movies,
			Pass:        between(float64(cfg.MinMovies), float64(cfg.MaxMovies)),
		},

		// cleaned_ratings
		{
			Name:        "ratings_not_empty",
			Description: "cleaned_ratings has at least one row",
			Query:       "SELECT COUNT(*) FROM " + ratings,
			Pass:        positive,
		},
		{
			Name:        "ratings_no_null_user_id",
			Description: "every rating has a user_id",
			Query:       "SELECT COUNT(*) FROM " + ratings + " WHERE user_id IS NULL",
			Pass:        zero,
		},
		{
			Name:        "ratings_no_null_movie_id",
			Description: "every rating has a movie_id",
			Query:       "SELECT COUNT(*) FROM " + ratings + " WHERE movie_id IS NULL",
			Pass:        zero,
		},
		{
			Name:        "ratings_no_null_rating",
			Description: "every rating has a value",
			Query:       "SELECT COUNT(*) FROM " + ratings + " WHERE rating IS NULL",
			Pass:        zero,
		},
		{
			Name:        "ratings_value_range",
			Description: fmt.Sprintf("ratings fall within %.1f-%.1f", transform.MinRating, transform.MaxRating),
			Query: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE rating < %v OR rating > %v",
				ratings, transform.MinRating, transform.MaxRating),
			Pass: zero,
		},
		{
			Name:        "ratings_half_star_increments",
			Description: "ratings are multiples of 0.5",
			Query:       fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE rating * 2 <> %s", ratings, d.Floor("rating * 2")),
			Pass:        zero,
		},
		{
			Name:        "ratings_row_count",
			Description: fmt.Sprintf("rating count is between %d and %d", cfg.MinRatings, cfg.MaxRatings),
			Query:       "SELECT COUNT(*) FROM " + ratings,
			Pass:        between(float64(cfg.MinRatings), float64(cfg.MaxRatings)),
		},
		{
			Name:        "ratings_referential_integrity",
			Description: "every rated movie exists in cleaned_movies",
			Query: fmt.Sprintf("SELECT COUNT(*) FROM %s r LEFT JOIN %s m ON r.movie_id = m.movie_id WHERE m.movie_id IS NULL",
				ratings, movies),
			Pass: zero,
		},

		// cross-relation
		{
			Name:        "cross_movies_with_ratings",
			Description: "at least one movie has ratings",
			Query: fmt.Sprintf("SELECT COUNT(DISTINCT m.movie_id) FROM %s m INNER JOIN %s r ON m.movie_id = r.movie_id",
				movies, ratings),
			Pass: positive,
		},
		{
			Name:        "cross_average_rating",
			Description: fmt.Sprintf("average rating is between %.1f and %.1f", cfg.MinAvgRating, cfg.MaxAvgRating),
			Query:       "SELECT AVG(rating) FROM " + ratings,
			Pass:        between(cfg.MinAvgRating, cfg.MaxAvgRating),
		},
	}
}
