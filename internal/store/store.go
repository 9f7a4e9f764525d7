// Package store is the database client used by every pipeline stage. It hides
// the two supported backends (PostgreSQL through pgx, SQLite through modernc)
// behind one small interface and a SQL dialect.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/marquee/marquee/internal/config"
)

// ErrUnsupportedDriver is returned by Open for an unknown database driver.
var ErrUnsupportedDriver = errors.New("unsupported database driver")

// Execer runs a statement that returns no rows.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) error
}

// Store is a connected database.
type Store interface {
	Execer
	Dialect() Dialect
	Ping(ctx context.Context) error
	// Tx runs fn inside a transaction; a non-nil error from fn rolls back.
	Tx(ctx context.Context, fn func(ctx context.Context, tx Execer) error) error
	// CopyRows bulk-inserts rows into table and returns the count inserted.
	CopyRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error)
	// QueryRows runs a query and reads the whole result into memory.
	QueryRows(ctx context.Context, sql string, args ...any) (*Rows, error)
	Close()
}

// Rows is a fully materialized query result.
type Rows struct {
	Columns []string
	Values  [][]any
}

// Open connects to the configured database.
func Open(ctx context.Context, cfg config.DatabaseConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return OpenPostgres(ctx, cfg.ConnString(), cfg.MaxConnections)
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// QueryScalar runs a query expected to return a single value. It returns nil
// when the query yields no rows.
func QueryScalar(ctx context.Context, s Store, sql string, args ...any) (any, error) {
	rows, err := s.QueryRows(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	if len(rows.Values) == 0 || len(rows.Values[0]) == 0 {
		return nil, nil
	}
	return rows.Values[0][0], nil
}

// RowCount returns the number of rows in table.
func RowCount(ctx context.Context, s Store, table string) (int64, error) {
	v, err := QueryScalar(ctx, s, "SELECT COUNT(*) FROM "+s.Dialect().Quote(table))
	if err != nil {
		return 0, fmt.Errorf("counting rows in %s: %w", table, err)
	}
	n, ok := Int(v)
	if !ok {
		return 0, fmt.Errorf("counting rows in %s: unexpected value %v", table, v)
	}
	return n, nil
}

// TableExists reports whether table exists in the current schema.
func TableExists(ctx context.Context, s Store, table string) (bool, error) {
	v, err := QueryScalar(ctx, s, s.Dialect().TableExistsQuery(table))
	if err != nil {
		return false, fmt.Errorf("checking table %s: %w", table, err)
	}
	n, _ := Int(v)
	return n > 0, nil
}

// Float converts a scalar returned by either backend to float64. The second
// result is false for NULL and for non-numeric values.
func Float(v any) (float64, bool) {
	switch x := v.(type) {
	case nil:
		return 0, false
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case int16:
		return float64(x), true
	case int:
		return float64(x), true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	case pgtype.Numeric:
		f, err := x.Float64Value()
		if err != nil || !f.Valid {
			return 0, false
		}
		return f.Float64, true
	default:
		return 0, false
	}
}

// Int converts a scalar returned by either backend to int64.
func Int(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case int:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(x, 10, 64)
		return n, err == nil
	case []byte:
		n, err := strconv.ParseInt(string(x), 10, 64)
		return n, err == nil
	}
	f, ok := Float(v)
	if !ok {
		return 0, false
	}
	return int64(f), true
}

// FormatValue renders a scalar for CSV output and log samples.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.UTC().Format("2006-01-02 15:04:05")
	}
	if f, ok := Float(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}
