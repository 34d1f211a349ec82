package sink

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/sells-group/geodbscan/internal/db"
)

const (
	srid           = 4326
	ewkbColumn     = "geom_ewkb"
	postgisGeomCol = "geom"
)

var postgresTypes = map[kind]string{kindText: "text", kindInt: "bigint", kindFloat: "double precision"}

// postgisWriter recreates one table per layer and bulk loads it with COPY.
type postgisWriter struct {
	pool   db.Pool
	schema string
}

func (w *postgisWriter) Write(ctx context.Context, ds Dataset) ([]string, error) {
	ls, err := layers(ds)
	if err != nil {
		return nil, err
	}

	log := zap.L().With(zap.String("component", "sink"), zap.String("format", string(FormatPostGIS)))
	var written []string
	for _, l := range ls {
		spec, rows, err := postgisLayer(w.schema, l)
		if err != nil {
			return written, err
		}
		n, err := db.ReplaceTable(ctx, w.pool, spec, rows)
		if err != nil {
			return written, eris.Wrapf(err, "sink: postgis %s", l.name)
		}
		target := w.schema + "." + l.name
		log.Info("wrote layer", zap.String("table", target), zap.Int64("rows", n))
		written = append(written, target)
	}
	return written, nil
}

// postgisLayer builds the table definition and COPY rows for a layer. The
// geometry column is generated from the EWKB payload.
func postgisLayer(schema string, l layer) (db.TableSpec, [][]any, error) {
	kinds := columnKinds(l.table)
	spec := db.TableSpec{Schema: schema, Name: l.name}
	for i, c := range l.table.Columns {
		if c == ewkbColumn || c == postgisGeomCol {
			return db.TableSpec{}, nil, eris.Errorf("sink: postgis: column %q is reserved for geometry", c)
		}
		spec.Columns = append(spec.Columns, db.Column{Name: c, Type: postgresTypes[kinds[i]]})
	}
	spec.Columns = append(spec.Columns,
		db.Column{Name: ewkbColumn, Type: "bytea"},
		db.Column{Name: postgisGeomCol, Type: "geometry(Point, 4326)", Generated: "ST_GeomFromEWKB(" + ewkbColumn + ")"},
	)

	rows := make([][]any, l.table.Len())
	for i, row := range l.table.Rows {
		out := make([]any, 0, len(row)+1)
		for c, v := range row {
			out = append(out, cellValue(v, kinds[c]))
		}
		blob, err := ewkb.Marshal(pointAt(l, i).SetSRID(srid), ewkb.NDR)
		if err != nil {
			return db.TableSpec{}, nil, eris.Wrapf(err, "sink: postgis: encode geometry of row %d", i+1)
		}
		rows[i] = append(out, blob)
	}
	return spec, rows, nil
}
