// internal/workbook/workbook.go
package workbook

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Cell is one value of a column. Row is 1-based as in the spreadsheet.
type Cell struct {
	Row   int
	Value string
}

// ColumnIndex converts a column letter ("B") or a zero-based index ("1") to a zero-based index.
func ColumnIndex(col string) (int, error) {
	col = strings.TrimSpace(col)
	if col == "" {
		return 0, fmt.Errorf("empty column")
	}
	if n, err := strconv.Atoi(col); err == nil {
		if n < 0 {
			return 0, fmt.Errorf("negative column index %d", n)
		}
		return n, nil
	}
	n, err := excelize.ColumnNameToNumber(strings.ToUpper(col))
	if err != nil {
		return 0, fmt.Errorf("invalid column %q: %w", col, err)
	}
	return n - 1, nil
}

// Book is an open workbook bound to one sheet.
type Book struct {
	f     *excelize.File
	sheet string
}

// Open opens the workbook at path. An empty sheet selects the first one.
func Open(path, sheet string) (*Book, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", path, err)
	}
	if sheet == "" {
		sheet = f.GetSheetName(0)
	} else if idx, err := f.GetSheetIndex(sheet); err != nil || idx < 0 {
		_ = f.Close()
		return nil, fmt.Errorf("sheet %q not found in %s", sheet, path)
	}
	return &Book{f: f, sheet: sheet}, nil
}

// Sheet returns the bound sheet name.
func (b *Book) Sheet() string { return b.sheet }

// ReadColumn returns every row's value in column col (zero-based). Rows shorter than col yield "".
func (b *Book) ReadColumn(col int, skipHeader bool) ([]Cell, error) {
	rows, err := b.f.GetRows(b.sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", b.sheet, err)
	}
	var cells []Cell
	for i, row := range rows {
		if skipHeader && i == 0 {
			continue
		}
		v := ""
		if col < len(row) {
			v = row[col]
		}
		cells = append(cells, Cell{Row: i + 1, Value: v})
	}
	return cells, nil
}

// WriteRow writes values into row starting at column startCol (zero-based).
func (b *Book) WriteRow(row, startCol int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(startCol+1, row)
	if err != nil {
		return err
	}
	vals := make([]any, len(values))
	for i, v := range values {
		vals[i] = v
	}
	return b.f.SetSheetRow(b.sheet, cell, &vals)
}

// Save writes the workbook back to the file it was opened from.
func (b *Book) Save() error {
	return b.f.Save()
}

func (b *Book) Close() error {
	return b.f.Close()
}

// SavePivot writes a header row and data rows to a new workbook at path.
// nil values leave their cell empty.
func SavePivot(path, sheet string, header []string, rows [][]any) error {
	f := excelize.NewFile()
	defer f.Close()

	if sheet == "" {
		sheet = "Sheet1"
	}
	if def := f.GetSheetName(0); def != sheet {
		if err := f.SetSheetName(def, sheet); err != nil {
			return err
		}
	}

	head := make([]any, len(header))
	for i, h := range header {
		head[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &head); err != nil {
		return err
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		vals := make([]any, len(row))
		copy(vals, row)
		if err := f.SetSheetRow(sheet, cell, &vals); err != nil {
			return err
		}
	}
	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save workbook %s: %w", path, err)
	}
	return nil
}
