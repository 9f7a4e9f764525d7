package store

import (
	"fmt"
	"strings"
)

// Kind is a portable column type.
type Kind int

const (
	KindText Kind = iota
	KindInteger
	KindReal
	KindTimestamp
)

func (k Kind) String() string {
	switch k {
	case KindInteger:
		return "integer"
	case KindReal:
		return "real"
	case KindTimestamp:
		return "timestamp"
	default:
		return "text"
	}
}

// Dialect renders the SQL fragments that differ between backends. Every
// fragment takes already-rendered SQL expressions.
type Dialect interface {
	Name() string
	Quote(ident string) string
	Placeholder(n int) string
	ColumnType(k Kind) string
	// TitleHasYear is a boolean expression true when title ends with "(YYYY)".
	TitleHasYear(title string) string
	// TitleYear extracts YYYY from a title for which TitleHasYear holds.
	TitleYear(title string) string
	// TitleWithoutYear strips the trailing "(YYYY)" and surrounding spaces.
	TitleWithoutYear(title string) string
	// ToInteger converts expr to an integer, or NULL when its value is not
	// an optionally signed run of digits.
	ToInteger(expr string) string
	// ToReal converts expr to a double, or NULL when its value is not a
	// plain decimal number.
	ToReal(expr string) string
	// UnixToTimestamp converts Unix seconds to a UTC timestamp.
	UnixToTimestamp(seconds string) string
	// RoundAvg is AVG(expr) rounded to two decimals as a double.
	RoundAvg(expr string) string
	// Floor rounds a non-negative expression down to an integer.
	Floor(expr string) string
	// RowOrdinal is a pseudo-column ordering rows in insertion order.
	RowOrdinal() string
	// SplitGenres yields (movie_id, genre_name) rows, one per non-empty
	// trimmed element of the pipe-delimited genres column of table.
	SplitGenres(table string) string
	TableExistsQuery(table string) string
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

type postgresDialect struct{}

// Postgres is the PostgreSQL dialect.
var Postgres Dialect = postgresDialect{}

func (postgresDialect) Name() string              { return "postgres" }
func (postgresDialect) Quote(ident string) string { return quoteIdent(ident) }
func (postgresDialect) Placeholder(n int) string  { return fmt.Sprintf("$%d", n) }

func (postgresDialect) ColumnType(k Kind) string {
	switch k {
	case KindInteger:
		return "BIGINT"
	case KindReal:
		return "DOUBLE PRECISION"
	case KindTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (postgresDialect) TitleHasYear(title string) string {
	return fmt.Sprintf(`(%s ~ '\([0-9]{4}\)$')`, title)
}

func (postgresDialect) TitleYear(title string) string {
	return fmt.Sprintf(`CAST(SUBSTRING(%s FROM '\(([0-9]{4})\)$') AS BIGINT)`, title)
}

func (postgresDialect) TitleWithoutYear(title string) string {
	return fmt.Sprintf(`TRIM(REGEXP_REPLACE(%s, '\([0-9]{4}\)$', ''))`, title)
}

const (
	pgIntegerPattern = `^-?[0-9]+$`
	pgRealPattern    = `^-?[0-9]+(\.[0-9]+)?$`
)

func (postgresDialect) ToInteger(expr string) string {
	return fmt.Sprintf(`(CASE WHEN %[1]s ~ '%[2]s' THEN CAST(%[1]s AS BIGINT) END)`, pgText(expr), pgIntegerPattern)
}

func (postgresDialect) ToReal(expr string) string {
	return fmt.Sprintf(`(CASE WHEN %[1]s ~ '%[2]s' THEN CAST(%[1]s AS DOUBLE PRECISION) END)`, pgText(expr), pgRealPattern)
}

func pgText(expr string) string {
	return "TRIM(CAST(" + expr + " AS TEXT))"
}

func (postgresDialect) UnixToTimestamp(seconds string) string {
	return fmt.Sprintf("(TO_TIMESTAMP(%s) AT TIME ZONE 'UTC')", seconds)
}

func (postgresDialect) RoundAvg(expr string) string {
	return fmt.Sprintf("ROUND(AVG(%s)::numeric, 2)::double precision", expr)
}

func (postgresDialect) Floor(expr string) string { return "FLOOR(" + expr + ")" }

func (postgresDialect) RowOrdinal() string { return "ctid" }

func (postgresDialect) SplitGenres(table string) string {
	return fmt.Sprintf(`SELECT m.movie_id, TRIM(g.part) AS genre_name
FROM %s m CROSS JOIN LATERAL unnest(string_to_array(m.genres, '|')) AS g(part)
WHERE TRIM(g.part) <> ''`, quoteIdent(table))
}

func (postgresDialect) TableExistsQuery(table string) string {
	return "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = " + quoteLiteral(table)
}

type sqliteDialect struct{}

// SQLite is the SQLite dialect.
var SQLite Dialect = sqliteDialect{}

func (sqliteDialect) Name() string              { return "sqlite" }
func (sqliteDialect) Quote(ident string) string { return quoteIdent(ident) }
func (sqliteDialect) Placeholder(int) string    { return "?" }

func (sqliteDialect) ColumnType(k Kind) string {
	switch k {
	case KindInteger:
		return "INTEGER"
	case KindReal:
		return "REAL"
	case KindTimestamp:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (sqliteDialect) TitleHasYear(title string) string {
	return fmt.Sprintf("(%s GLOB '*([0-9][0-9][0-9][0-9])')", title)
}

func (sqliteDialect) TitleYear(title string) string {
	return fmt.Sprintf("CAST(substr(%s, -5, 4) AS INTEGER)", title)
}

func (sqliteDialect) TitleWithoutYear(title string) string {
	return fmt.Sprintf("TRIM(substr(%[1]s, 1, length(%[1]s) - 6))", title)
}

// ToInteger keeps stored integers, integral reals and digit-only text.
func (sqliteDialect) ToInteger(expr string) string {
	t := "TRIM(" + expr + ")"
	return fmt.Sprintf(`(CASE typeof(%[1]s)
  WHEN 'integer' THEN %[1]s
  WHEN 'real' THEN CASE WHEN %[1]s = CAST(%[1]s AS INTEGER) THEN CAST(%[1]s AS INTEGER) END
  WHEN 'text' THEN CASE WHEN (%[2]s GLOB '[0-9]*' OR %[2]s GLOB '-[0-9]*') AND substr(%[2]s, 2) NOT GLOB '*[^0-9]*'
    THEN CAST(%[2]s AS INTEGER) END
END)`, expr, t)
}

func (sqliteDialect) ToReal(expr string) string {
	t := "TRIM(" + expr + ")"
	return fmt.Sprintf(`(CASE typeof(%[1]s)
  WHEN 'integer' THEN CAST(%[1]s AS REAL)
  WHEN 'real' THEN %[1]s
  WHEN 'text' THEN CASE WHEN (%[2]s GLOB '[0-9]*' OR %[2]s GLOB '-[0-9]*') AND substr(%[2]s, 2) NOT GLOB '*[^0-9.]*'
    AND %[2]s NOT GLOB '*.*.*' AND %[2]s NOT GLOB '*.' THEN CAST(%[2]s AS REAL) END
END)`, expr, t)
}

func (sqliteDialect) UnixToTimestamp(seconds string) string {
	return fmt.Sprintf("datetime(%s, 'unixepoch')", seconds)
}

func (sqliteDialect) RoundAvg(expr string) string {
	return fmt.Sprintf("ROUND(AVG(%s), 2)", expr)
}

// Floor truncates toward zero.
func (sqliteDialect) Floor(expr string) string { return "CAST(" + expr + " AS INTEGER)" }

func (sqliteDialect) RowOrdinal() string { return "rowid" }

func (sqliteDialect) SplitGenres(table string) string {
	return fmt.Sprintf(`WITH RECURSIVE split(movie_id, part, rest) AS (
  SELECT movie_id, '', genres || '|' FROM %s
  UNION ALL
  SELECT movie_id, substr(rest, 1, instr(rest, '|') - 1), substr(rest, instr(rest, '|') + 1)
  FROM split WHERE rest <> ''
)
SELECT movie_id, TRIM(part) AS genre_name FROM split WHERE TRIM(part) <> ''`, quoteIdent(table))
}

func (sqliteDialect) TableExistsQuery(table string) string {
	return "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = " + quoteLiteral(table)
}
