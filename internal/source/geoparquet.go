package source

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/geodbscan/internal/geoparquet"
	"github.com/sells-group/geodbscan/internal/table"
)

const parquetBatch = 512

// loadGeoParquet reads a flat Parquet file. The geometry column named by the
// "geo" metadata is decoded from WKB; without metadata a BYTE_ARRAY column
// named geometry or geom is used when present.
func loadGeoParquet(ctx context.Context, path string, _ Options) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "geoparquet: open")
	}
	defer f.Close() //nolint:errcheck

	info, err := f.Stat()
	if err != nil {
		return nil, eris.Wrap(err, "geoparquet: stat")
	}
	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return nil, eris.Wrapf(err, "geoparquet: read %s", path)
	}

	paths := pf.Schema().Columns()
	geomIdx := -1
	if doc, ok := pf.Lookup(geoparquet.Key); ok {
		meta, err := geoparquet.Parse(doc)
		if err != nil {
			return nil, err
		}
		for i, p := range paths {
			if len(p) == 1 && p[0] == meta.PrimaryColumn {
				geomIdx = i
			}
		}
		if geomIdx < 0 {
			return nil, eris.Errorf("geoparquet: geometry column %q not in schema", meta.PrimaryColumn)
		}
	} else {
		for i, p := range paths {
			if len(p) == 1 && geometryColumns[strings.ToLower(p[0])] {
				geomIdx = i
				break
			}
		}
	}

	// attr maps a leaf column index to its table column, -1 for geometry.
	attr := make([]int, len(paths))
	var columns []string
	for i, p := range paths {
		if len(p) != 1 {
			return nil, eris.Errorf("geoparquet: nested column %s is not supported", strings.Join(p, "."))
		}
		if i == geomIdx {
			attr[i] = -1
			continue
		}
		attr[i] = len(columns)
		columns = append(columns, p[0])
	}

	t := table.New(columns)
	buf := make([]parquet.Row, parquetBatch)
	for _, rg := range pf.RowGroups() {
		if err := readRowGroup(ctx, rg, buf, attr, t); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func readRowGroup(ctx context.Context, rg parquet.RowGroup, buf []parquet.Row, attr []int, t *table.Table) error {
	rows := rg.Rows()
	defer rows.Close() //nolint:errcheck

	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "geoparquet: context cancelled")
		}
		n, err := rows.ReadRows(buf)
		for _, r := range buf[:n] {
			row := make([]any, len(t.Columns))
			var g geom.T
			for _, v := range r {
				c := v.Column()
				if c < 0 || c >= len(attr) {
					continue
				}
				if attr[c] < 0 {
					if v.IsNull() || len(v.ByteArray()) == 0 {
						continue
					}
					decoded, derr := wkb.Unmarshal(v.ByteArray())
					if derr != nil {
						return eris.Wrapf(derr, "geoparquet: decode geometry in row %d", t.Len()+1)
					}
					g = decoded
					continue
				}
				row[attr[c]] = parquetCell(v)
			}
			t.Append(row, g)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "geoparquet: read rows")
		}
	}
}

// parquetCell converts a leaf value to a table cell.
func parquetCell(v parquet.Value) any {
	if v.IsNull() {
		return nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		return v.Boolean()
	case parquet.Int32:
		return int64(v.Int32())
	case parquet.Int64:
		return v.Int64()
	case parquet.Float:
		return float64(v.Float())
	case parquet.Double:
		return v.Double()
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}
