package source

import (
	"archive/zip"
	"context"
	"database/sql"
	"encoding/binary"
	"io"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/jonas-p/go-shp"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"

	"github.com/sells-group/geodbscan/internal/geoparquet"
)

const featureCollection = `{
  "type": "FeatureCollection",
  "features": [
    {"type": "Feature", "geometry": {"type": "Point", "coordinates": [-80.19, 25.77]},
     "properties": {"name": "miami", "pop": 442241}},
    {"type": "Feature", "geometry": {"type": "Polygon", "coordinates": [[[0,0],[2,0],[2,2],[0,2],[0,0]]]},
     "properties": {"name": "square", "kind": "area"}}
  ]
}`

func TestLoadGeoJSON_FeatureCollection(t *testing.T) {
	path := writeTestFile(t, "points.geojson", featureCollection)

	tbl, err := loadGeoJSON(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "pop", "kind"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []any{"miami", 442241.0, nil}, tbl.Rows[0])
	assert.Equal(t, []any{"square", nil, "area"}, tbl.Rows[1])
	require.Len(t, tbl.Geometry, 2)
	assert.IsType(t, &geom.Point{}, tbl.Geometry[0])
	assert.IsType(t, &geom.Polygon{}, tbl.Geometry[1])

	require.NoError(t, tbl.EnsureCoordinates("latitude", "longitude"))
	lats, lons, err := tbl.Coordinates("latitude", "longitude")
	require.NoError(t, err)
	assert.InDelta(t, 25.77, lats[0], 1e-12)
	assert.InDelta(t, -80.19, lons[0], 1e-12)
	assert.InDelta(t, 1.0, lats[1], 1e-9)
}

func TestLoadGeoJSON_SingleFeature(t *testing.T) {
	path := writeTestFile(t, "point.json",
		`{"type":"Feature","geometry":{"type":"Point","coordinates":[1,2]},"properties":{"id":"a"}}`)

	tbl, err := loadGeoJSON(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, tbl.Columns)
	assert.Equal(t, 1, tbl.Len())
}

func TestLoadGeoJSON_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		errMsg  string
	}{
		{"not json", "nope", "decode geojson"},
		{"bare geometry", `{"type":"Point","coordinates":[1,2]}`, "not a Feature"},
		{"null geometry", `{"type":"FeatureCollection","features":[{"type":"Feature","geometry":null,"properties":{}}]}`, "source:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestFile(t, "bad.geojson", tt.content)
			_, err := loadGeoJSON(context.Background(), path, Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func createTestShapefile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "points.shp")
	w, err := shp.Create(path, shp.POINT)
	require.NoError(t, err)
	require.NoError(t, w.SetFields([]shp.Field{
		shp.StringField("NAME", 25),
		shp.StringField("KIND", 10),
	}))

	points := []struct {
		x, y       float64
		name, kind string
	}{
		{-80.19, 25.77, "miami", "city"},
		{-82.46, 27.95, "tampa", ""},
	}
	for _, p := range points {
		n := w.Write(&shp.Point{X: p.x, Y: p.y})
		require.NoError(t, w.WriteAttribute(int(n), 0, p.name))
		require.NoError(t, w.WriteAttribute(int(n), 1, p.kind))
	}
	w.Close()
	// go-shp names the attribute table "<base>dbf"
	base := filepath.Join(dir, "points")
	require.NoError(t, os.Rename(base+"dbf", base+".dbf"))
	return path
}

func TestReadShapefile(t *testing.T) {
	path := createTestShapefile(t, t.TempDir())

	tbl, err := ReadShapefile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, []string{"NAME", "KIND"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "miami", tbl.Rows[0][0])
	assert.Equal(t, "city", tbl.Rows[0][1])
	assert.Nil(t, tbl.Rows[1][1])
	require.Len(t, tbl.Geometry, 2)
	assert.Equal(t, []float64{-82.46, 27.95}, tbl.Geometry[1].FlatCoords())
}

func TestLoadShapefile_Zip(t *testing.T) {
	srcDir := t.TempDir()
	createTestShapefile(t, srcDir)

	zipPath := filepath.Join(t.TempDir(), "points.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	for _, ext := range []string{".shp", ".shx", ".dbf"} {
		w, err := zw.Create("nested/points" + ext)
		require.NoError(t, err)
		src, err := os.Open(filepath.Join(srcDir, "points"+ext))
		require.NoError(t, err)
		_, err = io.Copy(w, src)
		require.NoError(t, err)
		require.NoError(t, src.Close())
	}
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	tbl, err := loadShapefile(context.Background(), zipPath, Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())
}

func TestLoadShapefile_ZipWithoutShp(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "empty.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	w, err := zw.Create("readme.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("no shapes here"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	_, err = loadShapefile(context.Background(), zipPath, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no .shp file")
}

func TestExtractZIP_ZipSlip(t *testing.T) {
	zipPath := filepath.Join(t.TempDir(), "evil.zip")
	zf, err := os.Create(zipPath)
	require.NoError(t, err)
	zw := zip.NewWriter(zf)
	_, err = zw.Create("../evil.txt")
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, zf.Close())

	_, err = ExtractZIP(zipPath, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "zip:")
}

func TestShapeToGeom(t *testing.T) {
	assert.Nil(t, ShapeToGeom(nil))
	assert.Nil(t, ShapeToGeom(&shp.Null{}))
	assert.Nil(t, ShapeToGeom(&shp.Polygon{}))
	assert.Nil(t, ShapeToGeom(&shp.PolyLine{}))

	pt := ShapeToGeom(&shp.PointZ{X: 1, Y: 2, Z: 3})
	assert.Equal(t, []float64{1, 2}, pt.FlatCoords())

	mp := ShapeToGeom(&shp.MultiPoint{NumPoints: 2, Points: []shp.Point{{X: 0, Y: 0}, {X: 2, Y: 2}}})
	assert.IsType(t, &geom.MultiPoint{}, mp)

	line := ShapeToGeom(&shp.PolyLine{
		NumParts: 2,
		Parts:    []int32{0, 2},
		Points:   []shp.Point{{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 3}},
	})
	require.IsType(t, &geom.MultiLineString{}, line)
	assert.Equal(t, 2, line.(*geom.MultiLineString).NumLineStrings())

	poly := ShapeToGeom(&shp.Polygon{
		NumParts: 1,
		Parts:    []int32{0},
		Points:   []shp.Point{{X: 0, Y: 0}, {X: 0, Y: 1}, {X: 1, Y: 1}, {X: 1, Y: 0}, {X: 0, Y: 0}},
	})
	require.IsType(t, &geom.MultiPolygon{}, poly)
	assert.Equal(t, 1, poly.(*geom.MultiPolygon).NumPolygons())
}

func createTestXLSX(t *testing.T, sheets map[string][][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	for name, rows := range sheets {
		sheet, err := f.AddSheet(name)
		require.NoError(t, err)
		for _, rowData := range rows {
			row := sheet.AddRow()
			for _, cellData := range rowData {
				cell := row.AddCell()
				cell.SetString(cellData)
			}
		}
	}
	path := filepath.Join(t.TempDir(), "points.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

func TestLoadSpreadsheet(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Points": {
			{"name", "latitude", "longitude"},
			{"miami", "25.77", "-80.19"},
			{"", "", ""},
			{"tampa", "27.95", "-82.46"},
		},
	})

	tbl, err := loadSpreadsheet(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "latitude", "longitude"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []any{"tampa", "27.95", "-82.46"}, tbl.Rows[1])
}

func TestLoadSpreadsheet_SheetByName(t *testing.T) {
	path := createTestXLSX(t, map[string][][]string{
		"Points": {{"lat", "lon"}, {"1", "2"}},
	})

	tbl, err := loadSpreadsheet(context.Background(), path, Options{Sheet: "Points"})
	require.NoError(t, err)
	assert.Equal(t, 1, tbl.Len())

	_, err = loadSpreadsheet(context.Background(), path, Options{Sheet: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `sheet "Missing" not found`)
}

func createTestSQLite(t *testing.T, tables ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "points.sqlite")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	for _, name := range tables {
		_, err = db.Exec(`CREATE TABLE "` + name + `" (name TEXT, pop INTEGER, geom BLOB)`)
		require.NoError(t, err)

		for _, p := range []struct {
			name string
			pop  int64
			x, y float64
		}{
			{"miami", 442241, -80.19, 25.77},
			{"tampa", 384959, -82.46, 27.95},
		} {
			blob, err := wkb.Marshal(geom.NewPointFlat(geom.XY, []float64{p.x, p.y}), wkb.NDR)
			require.NoError(t, err)
			_, err = db.Exec(`INSERT INTO "`+name+`" (name, pop, geom) VALUES (?, ?, ?)`, p.name, p.pop, blob)
			require.NoError(t, err)
		}
	}
	return path
}

func TestLoadSQLite_OnlyTable(t *testing.T) {
	path := createTestSQLite(t, "points")

	tbl, err := loadSQLite(context.Background(), path, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"name", "pop"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, "miami", tbl.Rows[0][0])
	assert.Equal(t, int64(442241), tbl.Rows[0][1])
	require.Len(t, tbl.Geometry, 2)
	assert.Equal(t, []float64{-80.19, 25.77}, tbl.Geometry[0].FlatCoords())
}

func TestLoadSQLite_NamedTable(t *testing.T) {
	path := createTestSQLite(t, "a", "b")

	_, err := loadSQLite(context.Background(), path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "multiple tables")

	tbl, err := loadSQLite(context.Background(), path, Options{Table: "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	_, err = loadSQLite(context.Background(), path, Options{Table: "missing"})
	require.Error(t, err)
}

func gpkgBlob(t *testing.T, g geom.T, envelope bool) []byte {
	t.Helper()
	body, err := wkb.Marshal(g, wkb.NDR)
	require.NoError(t, err)

	header := []byte{'G', 'P', 0, 0x01}
	header = binary.LittleEndian.AppendUint32(header, 4326)
	if envelope {
		header[3] |= 1 << 1
		b := g.Bounds()
		for _, v := range []float64{b.Min(0), b.Max(0), b.Min(1), b.Max(1)} {
			header = binary.LittleEndian.AppendUint64(header, math.Float64bits(v))
		}
	}
	return append(header, body...)
}

func createTestGeoPackage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "places.gpkg")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck

	for _, stmt := range []string{
		`CREATE TABLE gpkg_spatial_ref_sys (srs_name TEXT, srs_id INTEGER PRIMARY KEY)`,
		`INSERT INTO gpkg_spatial_ref_sys VALUES ('WGS 84', 4326)`,
		`CREATE TABLE gpkg_contents (table_name TEXT PRIMARY KEY, data_type TEXT, identifier TEXT)`,
		`INSERT INTO gpkg_contents VALUES ('places', 'features', 'places')`,
		`CREATE TABLE gpkg_geometry_columns (table_name TEXT, column_name TEXT, geometry_type_name TEXT, srs_id INTEGER)`,
		`INSERT INTO gpkg_geometry_columns VALUES ('places', 'shape', 'POINT', 4326)`,
		`CREATE TABLE rtree_places_shape (id INTEGER, minx REAL, maxx REAL, miny REAL, maxy REAL)`,
		`CREATE TABLE places (fid INTEGER PRIMARY KEY, name TEXT, shape BLOB)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	miami := geom.NewPointFlat(geom.XY, []float64{-80.19, 25.77})
	tampa := geom.NewPointFlat(geom.XY, []float64{-82.46, 27.95})
	_, err = db.Exec(`INSERT INTO places (name, shape) VALUES (?, ?), (?, ?)`,
		"miami", gpkgBlob(t, miami, true), "tampa", gpkgBlob(t, tampa, false))
	require.NoError(t, err)
	return path
}

func TestLoad_GeoPackage(t *testing.T) {
	path := createTestGeoPackage(t)

	tbl, err := Load(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"fid", "name"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []any{int64(2), "tampa"}, tbl.Rows[1])
	require.Len(t, tbl.Geometry, 2)
	assert.Equal(t, []float64{-80.19, 25.77}, tbl.Geometry[0].FlatCoords())
	assert.Equal(t, []float64{-82.46, 27.95}, tbl.Geometry[1].FlatCoords())
}

func TestDecodeGeometry(t *testing.T) {
	pt := geom.NewPointFlat(geom.XY, []float64{1, 2})

	plain, err := wkb.Marshal(pt, wkb.NDR)
	require.NoError(t, err)
	g, err := decodeGeometry(plain)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, g.FlatCoords())

	g, err = decodeGeometry(gpkgBlob(t, pt, true))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, g.FlatCoords())

	empty := []byte{'G', 'P', 0, 0x11, 0, 0, 0, 0}
	g, err = decodeGeometry(empty)
	require.NoError(t, err)
	assert.Nil(t, g)

	_, err = decodeGeometry([]byte{'G', 'P', 0, 0x03, 0, 0, 0, 0, 1, 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "shorter than")

	_, err = decodeGeometry([]byte{'G', 'P', 0, 5 << 1, 0, 0, 0, 0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "envelope indicator")
}

func TestOnlyTable_SkipsMetadataTables(t *testing.T) {
	path := createTestSQLite(t, "points")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close() //nolint:errcheck
	_, err = db.Exec(`CREATE TABLE rtree_points_geom (id INTEGER)`)
	require.NoError(t, err)

	name, err := onlyTable(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "points", name)
}

type parquetPlace struct {
	Name string  `parquet:"name"`
	Lat  float64 `parquet:"lat"`
	Lon  float64 `parquet:"lon"`
	Geom []byte  `parquet:"geom"`
}

func writeTestParquet(t *testing.T, opts ...parquet.WriterOption) string {
	t.Helper()
	blob, err := wkb.Marshal(geom.NewPointFlat(geom.XY, []float64{-80.19, 25.77}), wkb.NDR)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "places.parquet")
	require.NoError(t, parquet.WriteFile(path, []parquetPlace{
		{Name: "miami", Lat: 25.77, Lon: -80.19, Geom: blob},
		{Name: "tampa", Lat: 27.95, Lon: -82.46},
	}, opts...))
	return path
}

func TestLoadGeoParquet_WithoutMetadata(t *testing.T) {
	path := writeTestParquet(t)

	tbl, err := Load(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "lat", "lon"}, tbl.Columns)
	require.Equal(t, 2, tbl.Len())
	assert.Equal(t, []any{"miami", 25.77, -80.19}, tbl.Rows[0])
	require.Len(t, tbl.Geometry, 2)
	assert.Equal(t, []float64{-80.19, 25.77}, tbl.Geometry[0].FlatCoords())
}

func TestLoadGeoParquet_Metadata(t *testing.T) {
	doc, err := geoparquet.Points("geom", nil).Encode()
	require.NoError(t, err)
	path := writeTestParquet(t, parquet.KeyValueMetadata(geoparquet.Key, doc))

	tbl, err := loadGeoParquet(context.Background(), path, Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"name", "lat", "lon"}, tbl.Columns)
	require.Len(t, tbl.Geometry, 2)

	lats, lons, err := tbl.Coordinates("lat", "lon")
	require.NoError(t, err)
	assert.Equal(t, []float64{25.77, 27.95}, lats)
	assert.Equal(t, []float64{-80.19, -82.46}, lons)
}

func TestLoadGeoParquet_BadMetadata(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		errMsg string
	}{
		{"not json", "{", "decode metadata"},
		{"unknown column", `{"primary_column":"shape","columns":{"shape":{"encoding":"WKB"}}}`, `"shape" not in schema`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestParquet(t, parquet.KeyValueMetadata(geoparquet.Key, tt.doc))
			_, err := loadGeoParquet(context.Background(), path, Options{})
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadGeoParquet_NotParquet(t *testing.T) {
	path := writeTestFile(t, "bad.parquet", "not parquet")
	_, err := loadGeoParquet(context.Background(), path, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geoparquet: read")
}
