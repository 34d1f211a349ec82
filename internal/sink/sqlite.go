package sink

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"
)

const sqliteGeomColumn = "geom"

var sqliteTypes = map[kind]string{kindText: "TEXT", kindInt: "INTEGER", kindFloat: "REAL"}

func writeSQLite(ctx context.Context, path string, l layer) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrap(err, "sqlite: remove existing file")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return eris.Wrap(err, "sqlite: open")
	}
	defer db.Close() //nolint:errcheck

	kinds := columnKinds(l.table)
	withGeom := true
	defs := make([]string, 0, len(kinds)+1)
	for i, c := range l.table.Columns {
		if strings.EqualFold(c, sqliteGeomColumn) {
			withGeom = false
		}
		defs = append(defs, quoteIdent(c)+" "+sqliteTypes[kinds[i]])
	}
	if withGeom {
		defs = append(defs, quoteIdent(sqliteGeomColumn)+" BLOB")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(l.name), strings.Join(defs, ", "))); err != nil {
		return eris.Wrapf(err, "sqlite: create table %s", l.name)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(defs)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(l.name), placeholders))
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	args := make([]any, len(defs))
	for i, row := range l.table.Rows {
		for c, v := range row {
			args[c] = cellValue(v, kinds[c])
		}
		if withGeom {
			blob, err := wkb.Marshal(pointAt(l, i), wkb.NDR)
			if err != nil {
				return eris.Wrapf(err, "sqlite: encode geometry of row %d", i+1)
			}
			args[len(args)-1] = blob
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert row %d", i+1)
		}
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrap(err, "sqlite: commit")
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
