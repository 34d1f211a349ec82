// Package sink exports clustered points and per-cluster centroids.
package sink

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geodbscan/internal/cluster"
	"github.com/sells-group/geodbscan/internal/db"
	"github.com/sells-group/geodbscan/internal/table"
)

// ErrUnsupportedFormat is returned for an unknown output format.
var ErrUnsupportedFormat = eris.New("sink: unsupported format")

// Format names an output encoding.
type Format string

// Supported output formats.
const (
	FormatCSV        Format = "csv"
	FormatGeoJSON    Format = "geojson"
	FormatShapefile  Format = "shapefile"
	FormatSQLite     Format = "sqlite"
	FormatXLSX       Format = "xlsx"
	FormatGeoParquet Format = "geoparquet"
	FormatPostGIS    Format = "postgis"
)

// Output names shared by every format.
const (
	PointsName    = "cluster_outputs"
	CentroidsName = "cluster_centroids"
	LabelColumn   = "cluster_label"
)

var extensions = map[Format]string{
	FormatCSV:        ".csv",
	FormatGeoJSON:    ".geojson",
	FormatShapefile:  ".shp",
	FormatSQLite:     ".sqlite",
	FormatXLSX:       ".xlsx",
	FormatGeoParquet: ".parquet",
}

// Formats lists every supported format.
func Formats() []Format {
	return []Format{FormatCSV, FormatGeoJSON, FormatShapefile, FormatSQLite, FormatXLSX, FormatGeoParquet, FormatPostGIS}
}

// ParseFormat validates a format name. Matching is case-insensitive.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Formats(), f) {
		return "", eris.Wrapf(ErrUnsupportedFormat, "%q", s)
	}
	return f, nil
}

// Extension returns the file suffix for file formats and "" for postgis.
func (f Format) Extension() string { return extensions[f] }

// Dataset is everything a run exports. Points carries the cluster_label
// column.
type Dataset struct {
	Points    *table.Table
	LatColumn string
	LonColumn string
	Clusters  []cluster.Aggregate
}

// Writer persists a dataset and returns what it wrote: file paths, or
// schema-qualified table names for postgis.
type Writer interface {
	Write(ctx context.Context, ds Dataset) ([]string, error)
}

// Options configure New.
type Options struct {
	Dir    string  // output directory for file formats
	Pool   db.Pool // postgis connection
	Schema string  // postgis schema, "public" if empty
}

// New returns the writer for a format.
func New(format Format, opts Options) (Writer, error) {
	if format == FormatPostGIS {
		if opts.Pool == nil {
			return nil, eris.New("sink: postgis format needs a database connection (set postgres.database_url)")
		}
		schema := opts.Schema
		if schema == "" {
			schema = "public"
		}
		return &postgisWriter{pool: opts.Pool, schema: schema}, nil
	}

	enc, ok := encoders[format]
	if !ok {
		return nil, eris.Wrapf(ErrUnsupportedFormat, "%q", string(format))
	}
	return &fileWriter{dir: opts.Dir, format: format, encode: enc}, nil
}

// layer is one exported table with parsed coordinates.
type layer struct {
	name  string
	table *table.Table
	lats  []float64
	lons  []float64
}

// layers splits a dataset into the points and centroids layers.
func layers(ds Dataset) ([]layer, error) {
	if ds.Points == nil {
		return nil, eris.New("sink: dataset has no points table")
	}
	lats, lons, err := ds.Points.Coordinates(ds.LatColumn, ds.LonColumn)
	if err != nil {
		return nil, eris.Wrap(err, "sink: points")
	}

	centroids := CentroidTable(ds.Clusters, ds.LatColumn, ds.LonColumn)
	clats := make([]float64, len(ds.Clusters))
	clons := make([]float64, len(ds.Clusters))
	for i, c := range ds.Clusters {
		clats[i], clons[i] = c.Latitude, c.Longitude
	}

	return []layer{
		{name: PointsName, table: ds.Points, lats: lats, lons: lons},
		{name: CentroidsName, table: centroids, lats: clats, lons: clons},
	}, nil
}

// CentroidTable renders aggregates as a table whose coordinate columns use
// the input's lat and lon column names.
func CentroidTable(aggs []cluster.Aggregate, latCol, lonCol string) *table.Table {
	t := table.New([]string{
		LabelColumn, latCol, lonCol, "count",
		"min_lat", "min_lon", "max_lat", "max_lon", "radius_m",
	})
	for _, a := range aggs {
		t.Append([]any{
			a.ID, a.Latitude, a.Longitude, a.Count,
			a.MinLat, a.MinLon, a.MaxLat, a.MaxLon, a.RadiusM,
		}, nil)
	}
	return t
}

// encodeFunc writes one layer to path.
type encodeFunc func(ctx context.Context, path string, l layer) error

var encoders = map[Format]encodeFunc{
	FormatCSV:        writeCSV,
	FormatGeoJSON:    writeGeoJSON,
	FormatShapefile:  writeShapefile,
	FormatSQLite:     writeSQLite,
	FormatXLSX:       writeXLSX,
	FormatGeoParquet: writeGeoParquet,
}

// fileWriter writes <dir>/cluster_outputs.<ext> and <dir>/cluster_centroids.<ext>.
type fileWriter struct {
	dir    string
	format Format
	encode encodeFunc
}

func (w *fileWriter) Write(ctx context.Context, ds Dataset) ([]string, error) {
	ls, err := layers(ds)
	if err != nil {
		return nil, err
	}

	dir := w.dir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "sink: create output dir %s", dir)
	}

	log := zap.L().With(zap.String("component", "sink"), zap.String("format", string(w.format)))
	var written []string
	for _, l := range ls {
		if err := ctx.Err(); err != nil {
			return written, eris.Wrap(err, "sink: context cancelled")
		}
		path := filepath.Join(dir, l.name+w.format.Extension())
		if err := w.encode(ctx, path, l); err != nil {
			return written, eris.Wrapf(err, "sink: write %s", path)
		}
		log.Info("wrote layer", zap.String("path", path), zap.Int("rows", l.table.Len()))
		written = append(written, path)
	}
	return written, nil
}
