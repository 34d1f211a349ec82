package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Column describes one column of a replaced table. A non-empty Generated
// expression makes it a stored generated column, which is skipped by COPY.
type Column struct {
	Name      string
	Type      string
	Generated string
}

// TableSpec names a table and its columns.
type TableSpec struct {
	Schema  string
	Name    string
	Columns []Column
}

// Identifier returns the quoted, schema-qualified table identifier.
func (s TableSpec) Identifier() pgx.Identifier {
	if s.Schema == "" {
		return pgx.Identifier{s.Name}
	}
	return pgx.Identifier{s.Schema, s.Name}
}

// CopyColumns returns the names of the columns that receive COPY data.
func (s TableSpec) CopyColumns() []string {
	var cols []string
	for _, c := range s.Columns {
		if c.Generated == "" {
			cols = append(cols, c.Name)
		}
	}
	return cols
}

// CreateSQL renders the CREATE TABLE statement.
func (s TableSpec) CreateSQL() string {
	defs := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		def := pgx.Identifier{c.Name}.Sanitize() + " " + c.Type
		if c.Generated != "" {
			def += fmt.Sprintf(" GENERATED ALWAYS AS (%s) STORED", c.Generated)
		}
		defs[i] = def
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", s.Identifier().Sanitize(), strings.Join(defs, ", "))
}

// ReplaceTable drops the table if it exists, recreates it and COPYs rows
// into it, all in one transaction.
// 1. DROP TABLE IF EXISTS
// 2. CREATE TABLE
// 3. COPY rows (values ordered as CopyColumns)
func ReplaceTable(ctx context.Context, pool Pool, spec TableSpec, rows [][]any) (int64, error) {
	if spec.Name == "" {
		return 0, eris.New("db: replace: no table name specified")
	}
	if len(spec.Columns) == 0 {
		return 0, eris.Errorf("db: replace: no columns specified for %s", spec.Name)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: replace: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	ident := spec.Identifier().Sanitize()
	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return 0, eris.Wrapf(err, "db: replace: drop %s", ident)
	}
	if _, err := tx.Exec(ctx, spec.CreateSQL()); err != nil {
		return 0, eris.Wrapf(err, "db: replace: create %s", ident)
	}

	var n int64
	if len(rows) > 0 {
		n, err = tx.CopyFrom(ctx, spec.Identifier(), spec.CopyColumns(), pgx.CopyFromRows(rows))
		if err != nil {
			return 0, eris.Wrapf(err, "db: replace: COPY INTO %s", ident)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: replace: commit tx")
	}
	return n, nil
}
