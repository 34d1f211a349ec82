// Package geoparquet holds the "geo" file metadata that marks a Parquet
// file as GeoParquet.
package geoparquet

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// Key is the Parquet key-value metadata entry holding Metadata.
const Key = "geo"

// Version written to new files.
const Version = "1.1.0"

// EncodingWKB is the only geometry encoding read and written.
const EncodingWKB = "WKB"

// Metadata is the document stored under Key.
type Metadata struct {
	Version       string            `json:"version"`
	PrimaryColumn string            `json:"primary_column"`
	Columns       map[string]Column `json:"columns"`
}

// Column describes one geometry column.
type Column struct {
	Encoding      string    `json:"encoding"`
	GeometryTypes []string  `json:"geometry_types"`
	BBox          []float64 `json:"bbox,omitempty"`
}

// Points returns metadata for a single WKB point column with the given
// [minx, miny, maxx, maxy] extent. An empty extent is omitted.
func Points(column string, bbox []float64) Metadata {
	return Metadata{
		Version:       Version,
		PrimaryColumn: column,
		Columns: map[string]Column{
			column: {Encoding: EncodingWKB, GeometryTypes: []string{"Point"}, BBox: bbox},
		},
	}
}

// Parse decodes and checks a metadata document.
func Parse(s string) (Metadata, error) {
	var m Metadata
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return Metadata{}, eris.Wrap(err, "geoparquet: decode metadata")
	}
	if m.PrimaryColumn == "" {
		return Metadata{}, eris.New("geoparquet: metadata has no primary_column")
	}
	col, ok := m.Columns[m.PrimaryColumn]
	if !ok {
		return Metadata{}, eris.Errorf("geoparquet: primary column %q not described", m.PrimaryColumn)
	}
	if col.Encoding != EncodingWKB {
		return Metadata{}, eris.Errorf("geoparquet: unsupported encoding %q for column %q", col.Encoding, m.PrimaryColumn)
	}
	return m, nil
}

// Encode renders the metadata as JSON.
func (m Metadata) Encode() (string, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return "", eris.Wrap(err, "geoparquet: encode metadata")
	}
	return string(b), nil
}
