package sink

import (
	"context"
	"encoding/csv"
	"os"

	"github.com/rotisserie/eris"

	"github.com/sells-group/geodbscan/internal/table"
)

func writeCSV(_ context.Context, path string, l layer) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrap(err, "csv: create")
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = eris.Wrap(cerr, "csv: close")
		}
	}()

	w := csv.NewWriter(f)
	if err := w.Write(l.table.Columns); err != nil {
		return eris.Wrap(err, "csv: write header")
	}
	record := make([]string, len(l.table.Columns))
	for _, row := range l.table.Rows {
		for i, v := range row {
			record[i] = table.FormatCell(v)
		}
		if err := w.Write(record); err != nil {
			return eris.Wrap(err, "csv: write row")
		}
	}
	w.Flush()
	return eris.Wrap(w.Error(), "csv: flush")
}
