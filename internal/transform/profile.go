package transform

import (
	"context"
	"fmt"

	"github.com/marquee/marquee/internal/loader"
	"github.com/marquee/marquee/internal/store"
)

// Profile summarizes the state of one staging relation before cleaning.
type Profile struct {
	Table          string           `json:"table"`
	Rows           int64            `json:"rows"`
	NullCounts     map[string]int64 `json:"null_counts"`
	DuplicateKeys  int64            `json:"duplicate_keys"`
	InvalidRatings int64            `json:"invalid_ratings,omitempty"`
}

type profileSpec struct {
	table   string
	columns []string
	key     []string
	rating  string
}

var profileSpecs = []profileSpec{
	{table: loader.StagingMovies, columns: []string{"movieId", "title", "genres"}, key: []string{"movieId"}},
	{table: loader.StagingRatings, columns: []string{"userId", "movieId", "rating", "timestamp"}, key: []string{"userId", "movieId"}, rating: "rating"},
}

// Profile reports null counts, duplicate keys and out-of-range or
// non-numeric ratings for each staging relation and logs them.
func (t *Transformer) Profile(ctx context.Context) ([]Profile, error) {
	var out []Profile
	for _, spec := range profileSpecs {
		p, err := t.profile(ctx, spec)
		if err != nil {
			t.Logger.Error("profiling failed", "stage", "transform", "table", spec.table, "error", err)
			return nil, fmt.Errorf("profiling %s: %w", spec.table, err)
		}
		t.Logger.Info("staging profile", "table", p.Table, "rows", p.Rows,
			"nulls", p.NullCounts, "duplicate_keys", p.DuplicateKeys, "invalid_ratings", p.InvalidRatings)
		out = append(out, *p)
	}
	return out, nil
}

func (t *Transformer) profile(ctx context.Context, spec profileSpec) (*Profile, error) {
	d := t.Store.Dialect()
	table := d.Quote(spec.table)
	p := &Profile{Table: spec.table, NullCounts: make(map[string]int64, len(spec.columns))}

	rows, err := store.RowCount(ctx, t.Store, spec.table)
	if err != nil {
		return nil, err
	}
	p.Rows = rows

	for _, c := range spec.columns {
		n, err := t.count(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL", table, d.Quote(c)))
		if err != nil {
			return nil, err
		}
		p.NullCounts[c] = n
	}

	key := ""
	notNull := ""
	for i, c := range spec.key {
		if i > 0 {
			key += ", "
			notNull += " AND "
		}
		key += d.Quote(c)
		notNull += d.Quote(c) + " IS NOT NULL"
	}
	p.DuplicateKeys, err = t.count(ctx, fmt.Sprintf(
		"SELECT COALESCE(SUM(n - 1), 0) FROM (SELECT COUNT(*) AS n FROM %s WHERE %s GROUP BY %s HAVING COUNT(*) > 1) dup",
		table, notNull, key))
	if err != nil {
		return nil, err
	}

	if spec.rating != "" {
		r := d.Quote(spec.rating)
		p.InvalidRatings, err = t.count(ctx, fmt.Sprintf(
			"SELECT COUNT(*) FROM (SELECT %s AS raw, %s AS rating FROM %s) r WHERE raw IS NOT NULL AND (rating IS NULL OR rating < %v OR rating > %v)",
			r, d.ToReal(r), table, MinRating, MaxRating))
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (t *Transformer) count(ctx context.Context, sql string) (int64, error) {
	v, err := store.QueryScalar(ctx, t.Store, sql)
	if err != nil {
		return 0, err
	}
	n, _ := store.Int(v)
	return n, nil
}
