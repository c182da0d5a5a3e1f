package core

import (
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

var errNoSheets = errors.New("workbook has no sheets")

// readSpreadsheet returns the rows of the first sheet as displayed text, so
// dates come back in the cell's number format and go through ToDate like
// any CSV cell.
func readSpreadsheet(r io.Reader) ([][]string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errNoSheets
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return rows, nil
}

// WriteTemplateWorkbook writes an .xlsx template for strategy with the header
// row and one example row.
func WriteTemplateWorkbook(w io.Writer, strategy MatchStrategy) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Sheet1"
	header := TemplateColumns(strategy)
	example := TemplateExample(strategy)

	for i := range header {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheet, cell, header[i]); err != nil {
			return err
		}
		cell, err = excelize.CoordinatesToCellName(i+1, 2)
		if err != nil {
			return err
		}
		if err := f.SetCellStr(sheet, cell, example[i]); err != nil {
			return err
		}
	}

	_, err := f.WriteTo(w)
	return err
}
