package indexes

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/marquee/marquee/internal/store"
)

// Index is a secondary index on one relation.
type Index struct {
	Name    string   `yaml:"name"`
	Table   string   `yaml:"table"`
	Columns []string `yaml:"columns"`
	Unique  bool     `yaml:"unique,omitempty"`
}

// Reference is a column of a relation that points at another relation.
type Reference struct {
	Column string
	Parent string
}

// Table describes the keys of one relation for index inference.
type Table struct {
	Name       string
	Key        []string
	References []Reference
	// Lookups are extra column sets queried by range or filter.
	Lookups [][]string
}

// Plan describes the set of indexes to create.
type Plan struct {
	Indexes      []Index  `yaml:"indexes"`
	Explanations []string `yaml:"explanations"`
}

// Infer builds an index plan from relation keys and references.
func Infer(tables []Table) *Plan {
	plan := &Plan{}
	for _, t := range tables {
		// 1. Natural key → unique index
		if len(t.Key) > 0 {
			plan.addIfNew(Index{
				Name:    fmt.Sprintf("ux_%s_%s", t.Name, strings.Join(t.Key, "_")),
				Table:   t.Name,
				Columns: t.Key,
				Unique:  true,
			}, fmt.Sprintf("Unique index on %s(%s) from natural key", t.Name, strings.Join(t.Key, ", ")))
		}

		// 2. References → index on referencing column
		for _, ref := range t.References {
			plan.addIfNew(Index{
				Name:    fmt.Sprintf("idx_%s_%s", t.Name, ref.Column),
				Table:   t.Name,
				Columns: []string{ref.Column},
			}, fmt.Sprintf("Index on %s.%s from reference to %s", t.Name, ref.Column, ref.Parent))
		}

		// 3. Lookup columns
		for _, cols := range t.Lookups {
			plan.addIfNew(Index{
				Name:    fmt.Sprintf("idx_%s_%s", t.Name, strings.Join(cols, "_")),
				Table:   t.Name,
				Columns: cols,
			}, fmt.Sprintf("Index on %s(%s) for lookups", t.Name, strings.Join(cols, ", ")))
		}
	}
	return plan
}

// addIfNew skips an index whose columns are already covered by a planned
// index on the same relation.
func (p *Plan) addIfNew(idx Index, explanation string) {
	key := strings.Join(idx.Columns, ",")
	for _, existing := range p.Indexes {
		if existing.Table == idx.Table && strings.Join(existing.Columns, ",") == key {
			return
		}
	}
	p.Indexes = append(p.Indexes, idx)
	p.Explanations = append(p.Explanations, explanation)
}

// ForTable returns the planned indexes of one relation.
func (p *Plan) ForTable(table string) []Index {
	var out []Index
	for _, idx := range p.Indexes {
		if idx.Table == table {
			out = append(out, idx)
		}
	}
	return out
}

// SQL renders the idempotent CREATE INDEX statement for idx.
func (idx Index) SQL(d store.Dialect) string {
	cols := make([]string, len(idx.Columns))
	for i, c := range idx.Columns {
		cols[i] = d.Quote(c)
	}
	unique := ""
	if idx.Unique {
		unique = "UNIQUE "
	}
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s (%s)",
		unique, d.Quote(idx.Name), d.Quote(idx.Table), strings.Join(cols, ", "))
}

// Apply creates every index of the plan, skipping ones that already exist.
func Apply(ctx context.Context, s store.Store, p *Plan, logger *slog.Logger) error {
	for _, idx := range p.Indexes {
		if err := s.Exec(ctx, idx.SQL(s.Dialect())); err != nil {
			logger.Error("creating index failed", "index", idx.Name, "table", idx.Table, "error", err)
			return fmt.Errorf("creating index %s on %s: %w", idx.Name, idx.Table, err)
		}
		logger.Debug("index ready", "index", idx.Name, "table", idx.Table, "unique", idx.Unique)
	}
	logger.Info("indexes ready", "count", len(p.Indexes))
	return nil
}

// WriteYAML writes the index plan to a YAML file.
func (p *Plan) WriteYAML(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	data, err := yaml.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshaling index plan: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadYAML reads an index plan from a YAML file.
func LoadYAML(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading index plan: %w", err)
	}
	p := &Plan{}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("parsing index plan: %w", err)
	}
	return p, nil
}
