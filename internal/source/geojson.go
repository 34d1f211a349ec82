package source

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/sells-group/geodbscan/internal/table"
)

func loadGeoJSON(ctx context.Context, path string, _ Options) (*table.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "source: read %s", path)
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "source: context cancelled")
	}
	return parseGeoJSON(data)
}

// parseGeoJSON decodes a FeatureCollection or a single Feature. Property keys
// become columns in the order they are first seen.
func parseGeoJSON(data []byte) (*table.Table, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "source: decode geojson")
	}

	var features []*geojson.Feature
	switch head.Type {
	case "FeatureCollection":
		var fc geojson.FeatureCollection
		if err := json.Unmarshal(data, &fc); err != nil {
			return nil, eris.Wrap(err, "source: decode feature collection")
		}
		features = fc.Features
	case "Feature":
		var f geojson.Feature
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, eris.Wrap(err, "source: decode feature")
		}
		features = []*geojson.Feature{&f}
	default:
		return nil, eris.Errorf("source: geojson type %q is not a Feature or FeatureCollection", head.Type)
	}

	var columns []string
	seen := make(map[string]bool)
	for _, f := range features {
		keys := make([]string, 0, len(f.Properties))
		for k := range f.Properties {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}

	t := table.New(columns)
	for i, f := range features {
		if f.Geometry == nil {
			return nil, eris.Errorf("source: feature %d has no geometry", i+1)
		}
		row := make([]any, len(columns))
		for j, col := range columns {
			row[j] = f.Properties[col]
		}
		t.Append(row, f.Geometry)
	}
	return t, nil
}
