package sink

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/geodbscan/internal/geoparquet"
)

const parquetGeomColumn = "geometry"

var parquetNodes = map[kind]func() parquet.Node{
	kindText:  func() parquet.Node { return parquet.Optional(parquet.String()) },
	kindInt:   func() parquet.Node { return parquet.Optional(parquet.Int(64)) },
	kindFloat: func() parquet.Node { return parquet.Optional(parquet.Leaf(parquet.DoubleType)) },
}

func writeGeoParquet(ctx context.Context, path string, l layer) error {
	kinds := columnKinds(l.table)
	geomName := geometryColumnName(l.table.Columns)

	group := parquet.Group{geomName: parquet.Leaf(parquet.ByteArrayType)}
	for i, c := range l.table.Columns {
		if _, dup := group[c]; dup {
			return eris.Errorf("geoparquet: duplicate column %q", c)
		}
		group[c] = parquetNodes[kinds[i]]()
	}
	schema := parquet.NewSchema(l.name, group)

	// Group fields are stored sorted by name; map each column to its leaf.
	leaves := make([]int, len(l.table.Columns))
	for i, c := range l.table.Columns {
		leaf, ok := schema.Lookup(c)
		if !ok {
			return eris.Errorf("geoparquet: column %q missing from schema", c)
		}
		leaves[i] = leaf.ColumnIndex
	}
	geomLeaf, _ := schema.Lookup(geomName)

	meta, err := geoparquet.Points(geomName, extent(l)).Encode()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "geoparquet: create")
	}
	defer f.Close() //nolint:errcheck

	w := parquet.NewWriter(f, schema, parquet.KeyValueMetadata(geoparquet.Key, meta))
	rows := make([]parquet.Row, 0, l.table.Len())
	for i, r := range l.table.Rows {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "geoparquet: context cancelled")
		}
		row := make(parquet.Row, len(leaves)+1)
		for c, v := range r {
			cell := cellValue(v, kinds[c])
			if cell == nil {
				row[leaves[c]] = parquet.NullValue().Level(0, 0, leaves[c])
				continue
			}
			row[leaves[c]] = parquet.ValueOf(cell).Level(0, 1, leaves[c])
		}

		blob, err := wkb.Marshal(pointAt(l, i), wkb.NDR)
		if err != nil {
			return eris.Wrapf(err, "geoparquet: encode geometry of row %d", i+1)
		}
		row[geomLeaf.ColumnIndex] = parquet.ByteArrayValue(blob).Level(0, 0, geomLeaf.ColumnIndex)
		rows = append(rows, row)
	}

	if _, err := w.WriteRows(rows); err != nil {
		return eris.Wrap(err, "geoparquet: write rows")
	}
	if err := w.Close(); err != nil {
		return eris.Wrap(err, "geoparquet: close writer")
	}
	return eris.Wrap(f.Close(), "geoparquet: close file")
}

// geometryColumnName picks "geometry", suffixed if an attribute already uses it.
func geometryColumnName(columns []string) string {
	name := parquetGeomColumn
	for n := 1; ; n++ {
		taken := false
		for _, c := range columns {
			if strings.EqualFold(c, name) {
				taken = true
				break
			}
		}
		if !taken {
			return name
		}
		name = parquetGeomColumn + "_" + strconv.Itoa(n)
	}
}

// extent returns [minx, miny, maxx, maxy] of a layer, nil when empty.
func extent(l layer) []float64 {
	if len(l.lats) == 0 {
		return nil
	}
	b := []float64{l.lons[0], l.lats[0], l.lons[0], l.lats[0]}
	for i := range l.lats {
		b[0] = min(b[0], l.lons[i])
		b[1] = min(b[1], l.lats[i])
		b[2] = max(b[2], l.lons[i])
		b[3] = max(b[3], l.lats[i])
	}
	return b
}
