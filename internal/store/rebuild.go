package store

import (
	"context"
	"fmt"
	"strings"
)

const shadowSuffix = "__next"

// ShadowName is the name of the relation a rebuild of table writes into.
func ShadowName(table string) string {
	return table + shadowSuffix
}

// Rebuild replaces table with the output of build. build receives the name of
// a shadow relation that it must create and fill. Once it succeeds the shadow
// is swapped in for table atomically. On failure the shadow is dropped and the
// live table is left untouched.
func Rebuild(ctx context.Context, s Store, table string, build func(ctx context.Context, shadow string) error) error {
	shadow := ShadowName(table)
	if err := DropTable(ctx, s, shadow); err != nil {
		return err
	}

	if err := build(ctx, shadow); err != nil {
		_ = DropTable(context.WithoutCancel(ctx), s, shadow)
		return err
	}

	if err := Swap(ctx, s, shadow, table); err != nil {
		_ = DropTable(context.WithoutCancel(ctx), s, shadow)
		return err
	}
	return nil
}

// Swap drops table and renames shadow to table in one transaction.
func Swap(ctx context.Context, s Store, shadow, table string) error {
	d := s.Dialect()
	err := s.Tx(ctx, func(ctx context.Context, tx Execer) error {
		if err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+d.Quote(table)); err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
		if err := tx.Exec(ctx, fmt.Sprintf("ALTER TABLE %s RENAME TO %s", d.Quote(shadow), d.Quote(table))); err != nil {
			return fmt.Errorf("renaming %s to %s: %w", shadow, table, err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("swapping %s into place: %w", table, err)
	}
	return nil
}

// DropTable drops table if it exists.
func DropTable(ctx context.Context, s Store, table string) error {
	if err := s.Exec(ctx, "DROP TABLE IF EXISTS "+s.Dialect().Quote(table)); err != nil {
		return fmt.Errorf("dropping %s: %w", table, err)
	}
	return nil
}

// Column is a column definition for CreateTable.
type Column struct {
	Name    string
	Kind    Kind
	NotNull bool
}

// CreateTable creates table with the given columns.
func CreateTable(ctx context.Context, s Store, table string, columns []Column) error {
	d := s.Dialect()
	defs := make([]string, len(columns))
	for i, c := range columns {
		defs[i] = d.Quote(c.Name) + " " + d.ColumnType(c.Kind)
		if c.NotNull {
			defs[i] += " NOT NULL"
		}
	}
	sql := fmt.Sprintf("CREATE TABLE %s (%s)", d.Quote(table), strings.Join(defs, ", "))
	if err := s.Exec(ctx, sql); err != nil {
		return fmt.Errorf("creating %s: %w", table, err)
	}
	return nil
}

// ColumnList quotes and joins column names.
func ColumnList(d Dialect, columns []Column) string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = d.Quote(c.Name)
	}
	return strings.Join(names, ", ")
}
