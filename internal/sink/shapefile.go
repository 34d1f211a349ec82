package sink

import (
	"context"
	"fmt"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"

	"github.com/sells-group/geodbscan/internal/table"
)

const (
	dbfNameLen  = 10
	dbfFieldLen = 254
)

const wgs84WKT = `GEOGCS["GCS_WGS_1984",DATUM["D_WGS_1984",SPHEROID["WGS_1984",6378137.0,298.257223563]],PRIMEM["Greenwich",0.0],UNIT["Degree",0.0174532925199433]]`

func writeShapefile(_ context.Context, path string, l layer) error {
	w, err := shp.Create(path, shp.POINT)
	if err != nil {
		return eris.Wrap(err, "shapefile: create")
	}
	closed := false
	defer func() {
		if !closed {
			w.Close()
		}
	}()

	names := dbfFieldNames(l.table.Columns)
	fields := make([]shp.Field, len(names))
	for i, n := range names {
		fields[i] = shp.StringField(n, dbfFieldLen)
	}
	if err := w.SetFields(fields); err != nil {
		return eris.Wrap(err, "shapefile: set fields")
	}

	for i, row := range l.table.Rows {
		n := w.Write(&shp.Point{X: l.lons[i], Y: l.lats[i]})
		for c, v := range row {
			s := truncate(table.FormatCell(v), dbfFieldLen)
			if err := w.WriteAttribute(int(n), c, s); err != nil {
				return eris.Wrapf(err, "shapefile: row %d field %s", i+1, names[c])
			}
		}
	}

	w.Close()
	closed = true

	base := strings.TrimSuffix(path, ".shp")
	if err := fixDBFName(base); err != nil {
		return err
	}

	prj := base + ".prj"
	if err := os.WriteFile(prj, []byte(wgs84WKT), 0o644); err != nil {
		return eris.Wrap(err, "shapefile: write prj")
	}
	return nil
}

// dbfFieldNames truncates column names to the dBASE limit and suffixes
// collisions with a counter.
func dbfFieldNames(columns []string) []string {
	used := make(map[string]bool, len(columns))
	out := make([]string, len(columns))
	for i, c := range columns {
		name := truncate(c, dbfNameLen)
		if name == "" {
			name = fmt.Sprintf("field%d", i+1)
		}
		for n := 1; used[strings.ToUpper(name)]; n++ {
			suffix := fmt.Sprintf("_%d", n)
			name = truncate(c, dbfNameLen-len(suffix)) + suffix
		}
		used[strings.ToUpper(name)] = true
		out[i] = name
	}
	return out
}

// fixDBFName moves the attribute table go-shp writes as "<base>dbf" to
// "<base>.dbf", where shapefile readers look for it.
func fixDBFName(base string) error {
	if _, err := os.Stat(base + "dbf"); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return eris.Wrap(err, "shapefile: stat dbf")
	}
	if err := os.Rename(base+"dbf", base+".dbf"); err != nil {
		return eris.Wrap(err, "shapefile: rename dbf")
	}
	return nil
}

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
