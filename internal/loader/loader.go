// Package loader copies the raw MovieLens CSV files into staging relations
// without modifying their content.
package loader

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/marquee/marquee/internal/metrics"
	"github.com/marquee/marquee/internal/store"
)

const (
	StagingMovies  = "staging_movies"
	StagingRatings = "staging_ratings"

	DefaultChunkSize = 100000
)

// ErrMalformed is returned when an input file cannot be parsed as CSV with a
// usable header.
var ErrMalformed = errors.New("malformed input file")

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Source names an input file and the staging relation it is loaded into.
type Source struct {
	Path  string
	Table string
}

// Result describes one loaded staging relation.
type Result struct {
	Table    string         `json:"table"`
	Columns  []store.Column `json:"-"`
	Rows     int64          `json:"rows"`
	Duration time.Duration  `json:"duration"`
}

// Loader bulk-loads CSV files in bounded chunks.
type Loader struct {
	Store     store.Store
	ChunkSize int
	Logger    *slog.Logger
}

// New creates a Loader. A non-positive chunk size uses DefaultChunkSize.
func New(s store.Store, chunkSize int, logger *slog.Logger) *Loader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{Store: s, ChunkSize: chunkSize, Logger: logger}
}

// LoadAll loads movies then ratings and verifies both staging row counts.
func (l *Loader) LoadAll(ctx context.Context, moviesPath, ratingsPath string) ([]Result, error) {
	sources := []Source{
		{Path: moviesPath, Table: StagingMovies},
		{Path: ratingsPath, Table: StagingRatings},
	}

	results := make([]Result, 0, len(sources))
	for _, src := range sources {
		res, err := l.Load(ctx, src)
		if err != nil {
			return results, err
		}
		results = append(results, *res)
	}

	for _, res := range results {
		n, err := store.RowCount(ctx, l.Store, res.Table)
		if err != nil {
			return results, fmt.Errorf("verifying %s: %w", res.Table, err)
		}
		if n != res.Rows {
			return results, fmt.Errorf("verifying %s: relation has %d rows, file had %d", res.Table, n, res.Rows)
		}
		l.Logger.Info("staging verified", "table", res.Table, "rows", n)
	}
	return results, nil
}

// Load replaces src.Table with the content of src.Path. Column names are
// taken verbatim from the header and column types are inferred from the data.
// The previous relation stays in place until the new one is fully written.
func (l *Loader) Load(ctx context.Context, src Source) (*Result, error) {
	start := time.Now()
	log := l.Logger.With("stage", "load", "table", src.Table, "file", src.Path)
	log.Info("loading file")

	columns, total, err := inspect(src.Path)
	if err != nil {
		log.Error("inspecting file failed", "error", err)
		return nil, err
	}
	log.Info("inferred schema", "columns", describe(columns), "rows", total)

	var inserted int64
	err = store.Rebuild(ctx, l.Store, src.Table, func(ctx context.Context, shadow string) error {
		if err := store.CreateTable(ctx, l.Store, shadow, columns); err != nil {
			return err
		}
		n, err := l.copyFile(ctx, src.Path, shadow, columns, total, log)
		inserted = n
		return err
	})
	if err != nil {
		log.Error("loading failed", "error", err)
		return nil, fmt.Errorf("loading %s into %s: %w", src.Path, src.Table, err)
	}

	metrics.RecordRows(src.Table, inserted)
	res := &Result{Table: src.Table, Columns: columns, Rows: inserted, Duration: time.Since(start)}
	log.Info("load complete", "rows", res.Rows, "duration", res.Duration.Round(time.Millisecond))
	return res, nil
}

func (l *Loader) copyFile(ctx context.Context, path, table string, columns []store.Column, total int64, log *slog.Logger) (int64, error) {
	f, r, err := open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}

	var loaded int64
	chunk := make([][]any, 0, l.ChunkSize)
	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		n, err := l.Store.CopyRows(ctx, table, names, chunk)
		if err != nil {
			return err
		}
		loaded += n
		chunk = chunk[:0]
		metrics.RecordBatch(table)
		log.Info("chunk loaded", "rows", loaded, "total", total, "percent", percent(loaded, total))
		return nil
	}

	line := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return loaded, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
		row, err := convert(rec, columns)
		if err != nil {
			return loaded, fmt.Errorf("%w: %s line %d: %v", ErrMalformed, path, line, err)
		}
		chunk = append(chunk, row)
		if len(chunk) >= l.ChunkSize {
			if err := ctx.Err(); err != nil {
				return loaded, err
			}
			if err := flush(); err != nil {
				return loaded, err
			}
		}
	}
	if err := flush(); err != nil {
		return loaded, err
	}
	return loaded, nil
}

// open returns the file and a CSV reader positioned after the header.
func open(path string) (*os.File, *csv.Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening %s: %w", path, err)
	}
	r := csv.NewReader(f)
	r.ReuseRecord = true
	if _, err := r.Read(); err != nil {
		f.Close()
		if err == io.EOF {
			return nil, nil, fmt.Errorf("%w: %s: missing header", ErrMalformed, path)
		}
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	return f, r, nil
}

type columnStats struct {
	seen    bool
	isInt   bool
	isFloat bool
}

// inspect reads the whole file once to validate the header, infer column
// types and count data rows.
func inspect(path string) ([]store.Column, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return nil, 0, fmt.Errorf("%w: %s: missing header", ErrMalformed, path)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}
	names, err := headerNames(header)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
	}

	stats := make([]columnStats, len(names))
	for i := range stats {
		stats[i] = columnStats{isInt: true, isFloat: true}
	}

	var rows int64
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %v", ErrMalformed, path, err)
		}
		rows++
		for i, v := range rec {
			if v == "" {
				continue
			}
			s := &stats[i]
			s.seen = true
			if s.isInt {
				if _, err := strconv.ParseInt(v, 10, 64); err != nil {
					s.isInt = false
				}
			}
			if s.isFloat && !s.isInt {
				if _, err := strconv.ParseFloat(v, 64); err != nil {
					s.isFloat = false
				}
			}
		}
	}

	columns := make([]store.Column, len(names))
	for i, name := range names {
		columns[i] = store.Column{Name: name, Kind: stats[i].kind()}
	}
	return columns, rows, nil
}

func (s columnStats) kind() store.Kind {
	switch {
	case !s.seen:
		return store.KindText
	case s.isInt:
		return store.KindInteger
	case s.isFloat:
		return store.KindReal
	default:
		return store.KindText
	}
}

func headerNames(header []string) ([]string, error) {
	names := make([]string, len(header))
	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = string(bytes.TrimPrefix([]byte(h), utf8BOM))
		}
		if h == "" {
			return nil, fmt.Errorf("header column %d is empty", i+1)
		}
		if seen[h] {
			return nil, fmt.Errorf("duplicate header column %q", h)
		}
		seen[h] = true
		names[i] = h
	}
	return names, nil
}

// convert parses one record according to the inferred column kinds. Empty
// fields become NULL.
func convert(rec []string, columns []store.Column) ([]any, error) {
	row := make([]any, len(columns))
	for i, c := range columns {
		v := rec[i]
		if v == "" {
			continue
		}
		switch c.Kind {
		case store.KindInteger:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("column %s: %v", c.Name, err)
			}
			row[i] = n
		case store.KindReal:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("column %s: %v", c.Name, err)
			}
			row[i] = f
		default:
			row[i] = v
		}
	}
	return row, nil
}

func describe(columns []store.Column) string {
	var b bytes.Buffer
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s:%s", c.Name, c.Kind)
	}
	return b.String()
}

func percent(done, total int64) float64 {
	if total == 0 {
		return 100
	}
	return float64(int(float64(done)/float64(total)*1000)) / 10
}
