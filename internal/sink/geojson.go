package sink

import (
	"context"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
)

func writeGeoJSON(_ context.Context, path string, l layer) error {
	fc := &geojson.FeatureCollection{Features: make([]*geojson.Feature, 0, l.table.Len())}
	for i, row := range l.table.Rows {
		props := make(map[string]any, len(row))
		for c, name := range l.table.Columns {
			props[name] = row[c]
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   pointAt(l, i),
			Properties: props,
		})
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return eris.Wrap(err, "geojson: marshal")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return eris.Wrap(err, "geojson: write")
	}
	return nil
}

// pointAt returns row i of a layer as a lon/lat point.
func pointAt(l layer, i int) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{l.lons[i], l.lats[i]})
}
