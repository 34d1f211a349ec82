// Package source loads point tables from delimited text, GeoJSON, shapefile,
// XLSX, SQLite/GeoPackage and GeoParquet files.
package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geodbscan/internal/table"
)

// ErrUnsupportedSource is returned when no loader handles a path.
var ErrUnsupportedSource = eris.New("source: unsupported source")

// Kind names a loader strategy.
type Kind string

// Supported source kinds.
const (
	KindDelimited   Kind = "delimited"
	KindGeoJSON     Kind = "geojson"
	KindShapefile   Kind = "shapefile"
	KindSpreadsheet Kind = "spreadsheet"
	KindSQLite      Kind = "sqlite"
	KindGeoParquet  Kind = "geoparquet"
)

var suffixes = map[string]Kind{
	".csv":     KindDelimited,
	".tsv":     KindDelimited,
	".psv":     KindDelimited,
	".txt":     KindDelimited,
	".geojson": KindGeoJSON,
	".json":    KindGeoJSON,
	".shp":     KindShapefile,
	".zip":     KindShapefile,
	".xlsx":    KindSpreadsheet,
	".sqlite":  KindSQLite,
	".db":      KindSQLite,
	".gpkg":    KindSQLite,
	".parquet": KindGeoParquet,
}

// Options tune individual loaders. Zero values select defaults.
type Options struct {
	Delimiter rune   // delimited: overrides the suffix default
	Encoding  string // delimited: source text encoding, e.g. "latin1"
	Sheet     string // spreadsheet: sheet name, first sheet if empty
	Table     string // sqlite: table name, the only user or GeoPackage feature table if empty
}

// Loader reads a file into a table.
type Loader interface {
	Load(ctx context.Context, path string, opts Options) (*table.Table, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string, opts Options) (*table.Table, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, path string, opts Options) (*table.Table, error) {
	return f(ctx, path, opts)
}

var loaders = map[Kind]Loader{
	KindDelimited:   LoaderFunc(loadDelimited),
	KindGeoJSON:     LoaderFunc(loadGeoJSON),
	KindShapefile:   LoaderFunc(loadShapefile),
	KindSpreadsheet: LoaderFunc(loadSpreadsheet),
	KindSQLite:      LoaderFunc(loadSQLite),
	KindGeoParquet:  LoaderFunc(loadGeoParquet),
}

// Classify picks the loader kind for a path from its file suffix.
func Classify(path string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	kind, ok := suffixes[ext]
	if !ok {
		return "", eris.Wrapf(ErrUnsupportedSource, "%q", path)
	}
	return kind, nil
}

// Load classifies path and reads it with the matching loader.
func Load(ctx context.Context, path string, opts Options) (*table.Table, error) {
	kind, err := Classify(path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: stat %s", path)
	}
	if info.IsDir() {
		return nil, eris.Wrapf(ErrUnsupportedSource, "%q is a directory", path)
	}

	log := zap.L().With(zap.String("component", "source"), zap.String("kind", string(kind)))
	log.Debug("loading source", zap.String("path", path))

	t, err := loaders[kind].Load(ctx, path, opts)
	if err != nil {
		return nil, err
	}

	log.Info("source loaded",
		zap.String("path", path),
		zap.Int("rows", t.Len()),
		zap.Int("columns", len(t.Columns)),
		zap.Bool("geometry", t.HasGeometry()),
	)
	return t, nil
}
