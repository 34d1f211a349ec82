package sink

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/geodbscan/internal/table"
)

// maxSheetName is the spreadsheet limit on sheet name length.
const maxSheetName = 31

func writeXLSX(_ context.Context, path string, l layer) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(truncate(l.name, maxSheetName))
	if err != nil {
		return eris.Wrap(err, "xlsx: add sheet")
	}

	header := sheet.AddRow()
	for _, c := range l.table.Columns {
		header.AddCell().SetString(c)
	}

	kinds := columnKinds(l.table)
	for _, row := range l.table.Rows {
		r := sheet.AddRow()
		for c, v := range row {
			cell := r.AddCell()
			switch val := cellValue(v, kinds[c]).(type) {
			case nil:
			case int64:
				cell.SetInt64(val)
			case float64:
				cell.SetFloat(val)
			default:
				cell.SetString(table.FormatCell(val))
			}
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrap(err, "xlsx: save")
	}
	return nil
}
