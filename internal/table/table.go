// Package table holds the flat point table that flows through a clustering run.
package table

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
)

// ErrMissingColumn is returned when a requested column is absent.
var ErrMissingColumn = eris.New("table: missing column")

// Table is an ordered set of named columns and rows of arbitrary cell values.
// Geometry is optional; when present it is aligned with Rows by position.
type Table struct {
	Columns  []string
	Rows     [][]any
	Geometry []geom.T
}

// New creates an empty table with the given columns.
func New(columns []string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{Columns: cols}
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// HasGeometry reports whether rows carry geometries.
func (t *Table) HasGeometry() bool { return len(t.Geometry) > 0 }

// Append adds a row. Short rows are padded with nil and long rows truncated
// to the column count. g may be nil.
func (t *Table) Append(row []any, g geom.T) {
	r := make([]any, len(t.Columns))
	copy(r, row)
	if g != nil && len(t.Geometry) < len(t.Rows) {
		t.Geometry = append(t.Geometry, make([]geom.T, len(t.Rows)-len(t.Geometry))...)
	}
	t.Rows = append(t.Rows, r)
	if g != nil || len(t.Geometry) > 0 {
		t.Geometry = append(t.Geometry, g)
	}
}

// Index returns the position of a column, matching exactly first and then
// case-insensitively. Returns -1 if not found.
func (t *Table) Index(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	for i, c := range t.Columns {
		if strings.EqualFold(c, name) {
			return i
		}
	}
	return -1
}

// EnsureCoordinates makes sure the table exposes lat and lon columns. When
// either is missing and rows carry geometry, both are derived from each
// geometry's centroid.
func (t *Table) EnsureCoordinates(latCol, lonCol string) error {
	if t.Index(latCol) >= 0 && t.Index(lonCol) >= 0 {
		return nil
	}
	if !t.HasGeometry() {
		return eris.Wrapf(ErrMissingColumn, "%q or %q and no geometry to derive them from", latCol, lonCol)
	}

	lats := make([]any, t.Len())
	lons := make([]any, t.Len())
	for i := range t.Rows {
		g := t.geometryAt(i)
		if g == nil {
			return eris.Errorf("table: row %d has no geometry", i+1)
		}
		c, err := xy.Centroid(g)
		if err != nil {
			return eris.Wrapf(err, "table: centroid of row %d", i+1)
		}
		lons[i] = c.X()
		lats[i] = c.Y()
	}

	t.setColumn(latCol, lats)
	t.setColumn(lonCol, lons)
	return nil
}

// Coordinates parses the lat and lon columns into degree slices.
func (t *Table) Coordinates(latCol, lonCol string) ([]float64, []float64, error) {
	latIdx := t.Index(latCol)
	if latIdx < 0 {
		return nil, nil, eris.Wrapf(ErrMissingColumn, "%q", latCol)
	}
	lonIdx := t.Index(lonCol)
	if lonIdx < 0 {
		return nil, nil, eris.Wrapf(ErrMissingColumn, "%q", lonCol)
	}

	lats := make([]float64, t.Len())
	lons := make([]float64, t.Len())
	for i, row := range t.Rows {
		lat, err := ToFloat(row[latIdx])
		if err != nil {
			return nil, nil, eris.Wrapf(err, "table: row %d column %q", i+1, latCol)
		}
		lon, err := ToFloat(row[lonIdx])
		if err != nil {
			return nil, nil, eris.Wrapf(err, "table: row %d column %q", i+1, lonCol)
		}
		if math.IsNaN(lat) || math.IsNaN(lon) {
			return nil, nil, eris.Errorf("table: row %d has a NaN coordinate", i+1)
		}
		if lat < -90 || lat > 90 {
			return nil, nil, eris.Errorf("table: row %d latitude %v out of range", i+1, lat)
		}
		if lon < -180 || lon > 180 {
			return nil, nil, eris.Errorf("table: row %d longitude %v out of range", i+1, lon)
		}
		lats[i] = lat
		lons[i] = lon
	}
	return lats, lons, nil
}

// WithColumn returns a copy of the table with a column appended, or replaced
// if a column with that exact name already exists.
func (t *Table) WithColumn(name string, values []any) (*Table, error) {
	if len(values) != t.Len() {
		return nil, eris.Errorf("table: column %q has %d values for %d rows", name, len(values), t.Len())
	}
	out := t.clone()
	out.setColumn(name, values)
	return out, nil
}

// Filter returns a new table holding the rows for which keep returns true.
func (t *Table) Filter(keep func(i int) bool) *Table {
	out := New(t.Columns)
	for i, row := range t.Rows {
		if !keep(i) {
			continue
		}
		r := make([]any, len(row))
		copy(r, row)
		out.Rows = append(out.Rows, r)
		if t.HasGeometry() {
			out.Geometry = append(out.Geometry, t.geometryAt(i))
		}
	}
	return out
}

func (t *Table) clone() *Table {
	return t.Filter(func(int) bool { return true })
}

func (t *Table) geometryAt(i int) geom.T {
	if i < len(t.Geometry) {
		return t.Geometry[i]
	}
	return nil
}

func (t *Table) setColumn(name string, values []any) {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.Columns = append(t.Columns, name)
		for i := range t.Rows {
			t.Rows[i] = append(t.Rows[i], values[i])
		}
		return
	}
	for i := range t.Rows {
		t.Rows[i][idx] = values[i]
	}
}

// ToFloat converts a cell value to float64.
func ToFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		s := strings.TrimSpace(n)
		if s == "" {
			return 0, eris.New("empty value")
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, eris.Wrapf(err, "parse %q", s)
		}
		return f, nil
	case []byte:
		return ToFloat(string(n))
	case nil:
		return 0, eris.New("empty value")
	default:
		return 0, eris.Errorf("unsupported value type %T", v)
	}
}

// FormatCell renders a cell value as text for delimited and tabular exports.
func FormatCell(v any) string {
	switch c := v.(type) {
	case nil:
		return ""
	case string:
		return c
	case []byte:
		return string(c)
	case float64:
		return strconv.FormatFloat(c, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(c), 'f', -1, 32)
	case int:
		return strconv.Itoa(c)
	case int64:
		return strconv.FormatInt(c, 10)
	case bool:
		return strconv.FormatBool(c)
	case map[string]any, []any:
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Sprint(c)
		}
		return string(data)
	default:
		return fmt.Sprint(c)
	}
}
