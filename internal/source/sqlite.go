package source

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	_ "modernc.org/sqlite"

	"github.com/sells-group/geodbscan/internal/table"
)

// geometryColumns are BLOB columns decoded as WKB geometry instead of kept as attributes.
var geometryColumns = map[string]bool{"geom": true, "geometry": true}

func loadSQLite(ctx context.Context, path string, opts Options) (*table.Table, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	defer db.Close() //nolint:errcheck

	name := opts.Table
	if name == "" {
		name, err = onlyTable(ctx, db)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: %s", path)
		}
	}

	geomCol, err := gpkgGeometryColumn(ctx, db, name)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: %s", path)
	}

	rows, err := db.QueryContext(ctx, `SELECT * FROM "`+strings.ReplaceAll(name, `"`, `""`)+`"`)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query table %q", name)
	}
	defer rows.Close() //nolint:errcheck

	cols, err := rows.Columns()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: columns")
	}

	geomIdx := -1
	var attrCols []string
	for i, c := range cols {
		isGeom := geometryColumns[strings.ToLower(c)]
		if geomCol != "" {
			isGeom = strings.EqualFold(c, geomCol)
		}
		if geomIdx < 0 && isGeom {
			geomIdx = i
			continue
		}
		attrCols = append(attrCols, c)
	}

	t := table.New(attrCols)
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan row")
		}

		var g geom.T
		row := make([]any, 0, len(attrCols))
		for i, v := range vals {
			if i == geomIdx {
				if blob, ok := v.([]byte); ok && len(blob) > 0 {
					g, err = decodeGeometry(blob)
					if err != nil {
						return nil, eris.Wrapf(err, "sqlite: decode geometry in row %d", t.Len()+1)
					}
				}
				continue
			}
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row = append(row, v)
		}
		t.Append(row, g)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate rows")
	}
	return t, nil
}

// onlyTable returns the single user table in the database. In a GeoPackage
// the candidates are the tables registered in gpkg_contents.
func onlyTable(ctx context.Context, db *sql.DB) (string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table'
		AND name NOT LIKE 'sqlite\_%' ESCAPE '\'
		AND name NOT LIKE 'gpkg\_%' ESCAPE '\'
		AND name NOT LIKE 'rtree\_%' ESCAPE '\'
		ORDER BY name`
	isGpkg, err := hasTable(ctx, db, "gpkg_contents")
	if err != nil {
		return "", err
	}
	if isGpkg {
		query = `SELECT table_name FROM gpkg_contents
			WHERE data_type IN ('features', 'attributes') ORDER BY table_name`
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return "", eris.Wrap(err, "list tables")
	}
	defer rows.Close() //nolint:errcheck

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return "", eris.Wrap(err, "scan table name")
		}
		names = append(names, n)
	}
	if err := rows.Err(); err != nil {
		return "", eris.Wrap(err, "iterate table names")
	}

	switch len(names) {
	case 0:
		return "", eris.New("no tables found")
	case 1:
		return names[0], nil
	default:
		return "", eris.Errorf("multiple tables found (%s); choose one with --table", strings.Join(names, ", "))
	}
}

func hasTable(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, eris.Wrapf(err, "look up table %s", name)
	}
	return n > 0, nil
}

// gpkgGeometryColumn returns the geometry column registered for table in a
// GeoPackage, or "" when the database is not one.
func gpkgGeometryColumn(ctx context.Context, db *sql.DB, table string) (string, error) {
	ok, err := hasTable(ctx, db, "gpkg_geometry_columns")
	if err != nil || !ok {
		return "", err
	}
	var col string
	err = db.QueryRowContext(ctx,
		`SELECT column_name FROM gpkg_geometry_columns WHERE table_name = ?`, table).Scan(&col)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", eris.Wrap(err, "read gpkg_geometry_columns")
	}
	return col, nil
}

// GeoPackage binary header: "GP", version, flags, srs_id, then an optional
// envelope whose size is selected by flag bits 1-3.
var gpkgEnvelopeSize = map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}

// decodeGeometry parses plain WKB or a GeoPackage geometry blob.
func decodeGeometry(blob []byte) (geom.T, error) {
	if len(blob) < 8 || blob[0] != 'G' || blob[1] != 'P' {
		return wkb.Unmarshal(blob)
	}

	flags := blob[3]
	env, ok := gpkgEnvelopeSize[(flags>>1)&0x07]
	if !ok {
		return nil, eris.Errorf("geopackage: invalid envelope indicator %d", (flags>>1)&0x07)
	}
	if flags&0x10 != 0 {
		// empty geometry
		return nil, nil
	}
	// srs_id (bytes 4-8) is not interpreted; coordinates are read as WGS84.
	start := 8 + env
	if len(blob) < start {
		return nil, eris.Errorf("geopackage: blob of %d bytes shorter than its %d byte header", len(blob), start)
	}
	return wkb.Unmarshal(blob[start:])
}
