package sink

import "github.com/sells-group/geodbscan/internal/table"

// kind is the storage class inferred for a column.
type kind int

const (
	kindText kind = iota
	kindInt
	kindFloat
)

// columnKinds infers a storage class per column: integer when every
// non-nil cell is an integer, float when every non-nil cell is numeric,
// text otherwise. All-nil columns are text.
func columnKinds(t *table.Table) []kind {
	kinds := make([]kind, len(t.Columns))
	for c := range t.Columns {
		k, seen := kindInt, false
		for _, row := range t.Rows {
			switch row[c].(type) {
			case nil:
				continue
			case int, int32, int64:
			case float32, float64:
				k = kindFloat
			default:
				k = kindText
			}
			seen = true
			if k == kindText {
				break
			}
		}
		if !seen {
			k = kindText
		}
		kinds[c] = k
	}
	return kinds
}

// cellValue converts v to the Go type stored for kind k. nil stays nil.
func cellValue(v any, k kind) any {
	if v == nil {
		return nil
	}
	switch k {
	case kindInt:
		switch n := v.(type) {
		case int:
			return int64(n)
		case int32:
			return int64(n)
		case int64:
			return n
		}
	case kindFloat:
		if f, err := table.ToFloat(v); err == nil {
			return f
		}
	}
	return table.FormatCell(v)
}
