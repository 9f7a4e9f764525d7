package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/marquee/marquee/internal/config"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	s, err := OpenSQLite(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}

func TestOpenUnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), config.DatabaseConfig{Driver: "oracle"})
	if !errors.Is(err, ErrUnsupportedDriver) {
		t.Fatalf("expected ErrUnsupportedDriver, got %v", err)
	}
}

func TestOpenSQLiteRequiresDSN(t *testing.T) {
	if _, err := OpenSQLite(context.Background(), " "); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}

func TestCopyRowsAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	cols := []Column{{Name: "movieId", Kind: KindInteger}, {Name: "title", Kind: KindText}, {Name: "score", Kind: KindReal}}
	if err := CreateTable(ctx, s, "t", cols); err != nil {
		t.Fatal(err)
	}
	n, err := s.CopyRows(ctx, "t", []string{"movieId", "title", "score"}, [][]any{
		{int64(1), "Toy Story (1995)", 4.5},
		{int64(2), nil, nil},
	})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows copied, got %d", n)
	}

	count, err := RowCount(ctx, s, "t")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected 2 rows, got %d", count)
	}

	rows, err := s.QueryRows(ctx, `SELECT "movieId", title, score FROM t ORDER BY "movieId"`)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows.Columns) != 3 || rows.Columns[0] != "movieId" {
		t.Errorf("unexpected columns %v", rows.Columns)
	}
	if got := FormatValue(rows.Values[0][1]); got != "Toy Story (1995)" {
		t.Errorf("unexpected title %q", got)
	}
	if rows.Values[1][1] != nil {
		t.Errorf("expected NULL title, got %v", rows.Values[1][1])
	}
}

func TestCopyRowsRejectsShortRow(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := CreateTable(ctx, s, "t", []Column{{Name: "a", Kind: KindInteger}, {Name: "b", Kind: KindInteger}}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.CopyRows(ctx, "t", []string{"a", "b"}, [][]any{{int64(1)}}); err == nil {
		t.Fatal("expected error for short row")
	}
	count, _ := RowCount(ctx, s, "t")
	if count != 0 {
		t.Errorf("failed copy should insert nothing, got %d rows", count)
	}
}

func TestRebuildSwapsAtomically(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	build := func(values ...int64) func(ctx context.Context, shadow string) error {
		return func(ctx context.Context, shadow string) error {
			if err := CreateTable(ctx, s, shadow, []Column{{Name: "v", Kind: KindInteger}}); err != nil {
				return err
			}
			rows := make([][]any, len(values))
			for i, v := range values {
				rows[i] = []any{v}
			}
			_, err := s.CopyRows(ctx, shadow, []string{"v"}, rows)
			return err
		}
	}

	if err := Rebuild(ctx, s, "live", build(1, 2, 3)); err != nil {
		t.Fatalf("first rebuild: %v", err)
	}
	if err := Rebuild(ctx, s, "live", build(4, 5)); err != nil {
		t.Fatalf("second rebuild: %v", err)
	}
	count, err := RowCount(ctx, s, "live")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("expected replacement content (2 rows), got %d", count)
	}

	exists, err := TableExists(ctx, s, ShadowName("live"))
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("shadow relation should not survive a successful rebuild")
	}
}

func TestRebuildFailureKeepsLiveTable(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	if err := CreateTable(ctx, s, "live", []Column{{Name: "v", Kind: KindInteger}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Exec(ctx, "INSERT INTO live (v) VALUES (1), (2)"); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := Rebuild(ctx, s, "live", func(ctx context.Context, shadow string) error {
		if err := CreateTable(ctx, s, shadow, []Column{{Name: "v", Kind: KindInteger}}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected build error, got %v", err)
	}

	count, err := RowCount(ctx, s, "live")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("live table should be untouched, got %d rows", count)
	}
	if exists, _ := TableExists(ctx, s, ShadowName("live")); exists {
		t.Error("shadow should be dropped after a failed build")
	}
}

func TestSQLiteDialectFragments(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := s.Dialect()

	tests := []struct {
		title    string
		hasYear  bool
		year     int64
		stripped string
	}{
		{"Toy Story (1995)", true, 1995, "Toy Story"},
		{"Heat", false, 0, ""},
		{"Movie (1999) ", false, 0, ""},
		{"Year (abcd)", false, 0, ""},
		{"(2001)", true, 2001, ""},
	}
	for _, tt := range tests {
		lit := quoteLiteral(tt.title)
		v, err := QueryScalar(ctx, s, "SELECT CASE WHEN "+d.TitleHasYear(lit)+" THEN 1 ELSE 0 END")
		if err != nil {
			t.Fatal(err)
		}
		has, _ := Int(v)
		if (has == 1) != tt.hasYear {
			t.Errorf("%q: hasYear = %v, want %v", tt.title, has == 1, tt.hasYear)
			continue
		}
		if !tt.hasYear {
			continue
		}
		v, err = QueryScalar(ctx, s, "SELECT "+d.TitleYear(lit))
		if err != nil {
			t.Fatal(err)
		}
		if y, _ := Int(v); y != tt.year {
			t.Errorf("%q: year = %d, want %d", tt.title, y, tt.year)
		}
		v, err = QueryScalar(ctx, s, "SELECT "+d.TitleWithoutYear(lit))
		if err != nil {
			t.Fatal(err)
		}
		if got := FormatValue(v); got != tt.stripped {
			t.Errorf("%q: stripped = %q, want %q", tt.title, got, tt.stripped)
		}
	}

	v, err := QueryScalar(ctx, s, "SELECT "+d.UnixToTimestamp("0"))
	if err != nil {
		t.Fatal(err)
	}
	if got := FormatValue(v); got != "1970-01-01 00:00:00" {
		t.Errorf("unexpected epoch timestamp %q", got)
	}
}

// numericCases are text inputs with the value both dialects must produce,
// "NULL" meaning the input is rejected.
var numericCases = []struct {
	in      string
	integer string
	real    string
}{
	{"12", "12", "12"},
	{" 12 ", "12", "12"},
	{"-3", "-3", "-3"},
	{"4.0", "NULL", "4"},
	{"-0.5", "NULL", "-0.5"},
	{"x1", "NULL", "NULL"},
	{"n/a", "NULL", "NULL"},
	{"4.5.1", "NULL", "NULL"},
	{"5.", "NULL", "NULL"},
	{".5", "NULL", "NULL"},
	{"1-2", "NULL", "NULL"},
	{"-", "NULL", "NULL"},
	{"", "NULL", "NULL"},
}

func TestSQLiteNumericConversions(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	d := s.Dialect()

	scalar := func(expr string) string {
		t.Helper()
		v, err := QueryScalar(ctx, s, "SELECT "+expr)
		if err != nil {
			t.Fatalf("%s: %v", expr, err)
		}
		if v == nil {
			return "NULL"
		}
		return FormatValue(v)
	}

	for _, tt := range numericCases {
		lit := quoteLiteral(tt.in)
		if got := scalar(d.ToInteger(lit)); got != tt.integer {
			t.Errorf("ToInteger(%q) = %s, want %s", tt.in, got, tt.integer)
		}
		if got := scalar(d.ToReal(lit)); got != tt.real {
			t.Errorf("ToReal(%q) = %s, want %s", tt.in, got, tt.real)
		}
	}

	stored := []struct {
		expr, integer, real string
	}{
		{"7", "7", "7"},
		{"2.0", "2", "2"},
		{"2.5", "NULL", "2.5"},
		{"NULL", "NULL", "NULL"},
	}
	for _, tt := range stored {
		if got := scalar(d.ToInteger(tt.expr)); got != tt.integer {
			t.Errorf("ToInteger(%s) = %s, want %s", tt.expr, got, tt.integer)
		}
		if got := scalar(d.ToReal(tt.expr)); got != tt.real {
			t.Errorf("ToReal(%s) = %s, want %s", tt.expr, got, tt.real)
		}
	}
}

func TestPostgresNumericPatterns(t *testing.T) {
	intRe := regexp.MustCompile(pgIntegerPattern)
	realRe := regexp.MustCompile(pgRealPattern)
	for _, tt := range numericCases {
		in := strings.TrimSpace(tt.in)
		if got := intRe.MatchString(in); got != (tt.integer != "NULL") {
			t.Errorf("integer pattern on %q = %v", tt.in, got)
		}
		if got := realRe.MatchString(in); got != (tt.real != "NULL") {
			t.Errorf("real pattern on %q = %v", tt.in, got)
		}
	}
}

func TestPostgresDialectFragments(t *testing.T) {
	d := Postgres
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"placeholder", d.Placeholder(2), "$2"},
		{"real type", d.ColumnType(KindReal), "DOUBLE PRECISION"},
		{"integer type", d.ColumnType(KindInteger), "BIGINT"},
		{"row ordinal", d.RowOrdinal(), "ctid"},
		{"has year", d.TitleHasYear("title"), `(title ~ '\([0-9]{4}\)$')`},
		{"year", d.TitleYear("title"), `CAST(SUBSTRING(title FROM '\(([0-9]{4})\)$') AS BIGINT)`},
		{"without year", d.TitleWithoutYear("title"), `TRIM(REGEXP_REPLACE(title, '\([0-9]{4}\)$', ''))`},
		{"unix timestamp", d.UnixToTimestamp("rating_timestamp"), `(TO_TIMESTAMP(rating_timestamp) AT TIME ZONE 'UTC')`},
		{"round avg", d.RoundAvg("f.rating"), `ROUND(AVG(f.rating)::numeric, 2)::double precision`},
		{"floor", d.Floor("x"), "FLOOR(x)"},
		{"to integer", d.ToInteger(`"movieId"`),
			`(CASE WHEN TRIM(CAST("movieId" AS TEXT)) ~ '^-?[0-9]+$' THEN CAST(TRIM(CAST("movieId" AS TEXT)) AS BIGINT) END)`},
		{"to real", d.ToReal(`"rating"`),
			`(CASE WHEN TRIM(CAST("rating" AS TEXT)) ~ '^-?[0-9]+(\.[0-9]+)?$' THEN CAST(TRIM(CAST("rating" AS TEXT)) AS DOUBLE PRECISION) END)`},
		{"table exists", d.TableExistsQuery("o'k"),
			`SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = 'o''k'`},
		{"split genres", d.SplitGenres("cleaned_movies"), `SELECT m.movie_id, TRIM(g.part) AS genre_name
FROM "cleaned_movies" m CROSS JOIN LATERAL unnest(string_to_array(m.genres, '|')) AS g(part)
WHERE TRIM(g.part) <> ''`},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s:\n got  %s\n want %s", tt.name, tt.got, tt.want)
		}
	}
}

func TestSQLiteSplitGenres(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	if err := CreateTable(ctx, s, "m", []Column{{Name: "movie_id", Kind: KindInteger}, {Name: "genres", Kind: KindText}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Exec(ctx, "INSERT INTO m VALUES (1, 'Action| Comedy ||Action'), (2, 'Drama')"); err != nil {
		t.Fatal(err)
	}
	rows, err := s.QueryRows(ctx, "SELECT movie_id, genre_name FROM ("+s.Dialect().SplitGenres("m")+") g ORDER BY movie_id, genre_name")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, r := range rows.Values {
		got = append(got, FormatValue(r[0])+":"+FormatValue(r[1]))
	}
	want := []string{"1:Action", "1:Action", "1:Comedy", "2:Drama"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("row %d: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestFloatConversions(t *testing.T) {
	tests := []struct {
		in   any
		want float64
		ok   bool
	}{
		{int64(3), 3, true},
		{int32(4), 4, true},
		{2.5, 2.5, true},
		{"3.25", 3.25, true},
		{[]byte("1.5"), 1.5, true},
		{nil, 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		got, ok := Float(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("Float(%v) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
