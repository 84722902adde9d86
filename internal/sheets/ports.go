// Package sheets defines the spreadsheet capability the mirror writes to.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrHeaderMismatch is returned by EnsureSheet when a tab exists with a
// header other than the expected one.
var ErrHeaderMismatch = errors.New("sheet header mismatch")

// ErrSheetNotFound is returned when an operation targets a missing tab.
var ErrSheetNotFound = errors.New("sheet not found")

// Row is one data row. The first cell is the row key (a transaction ID on
// month tabs, a period on the summary tab).
type Row struct {
	Key   string
	Cells []any
}

// Spreadsheet is the remote tabular store.
type Spreadsheet interface {
	// EnsureSheet creates the tab with header if missing.
	EnsureSheet(ctx context.Context, name string, header []string) error
	// UpsertRow replaces the first row with the same key, or appends.
	UpsertRow(ctx context.Context, sheet string, row Row) error
	// ListRows returns data rows in sheet order, header excluded.
	ListRows(ctx context.Context, sheet string) ([]Row, error)
	// DeleteRow removes every row with key and returns how many it removed.
	DeleteRow(ctx context.Context, sheet, key string) (int, error)
	// ListSheets returns every tab title.
	ListSheets(ctx context.Context) ([]string, error)
}

// NewRow builds a row keyed by its first cell.
func NewRow(cells ...any) Row {
	r := Row{Cells: cells}
	if len(cells) > 0 {
		r.Key = CellString(cells[0])
	}
	return r
}

// CellString renders a cell value the way keys are compared. Whole numbers
// read back as floats compare equal to their integer form.
func CellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}

// SameHeader compares a header row ignoring surrounding whitespace.
func SameHeader(got []any, want []string) bool {
	if len(got) < len(want) {
		return false
	}
	for i, w := range want {
		if CellString(got[i]) != w {
			return false
		}
	}
	return true
}
