package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// CellSeparator joins the non-empty cells of a spreadsheet row.
const CellSeparator = " | "

// SheetMarker is the line that opens each sheet's section in the output.
func SheetMarker(sheet string) string {
	return fmt.Sprintf("--- SHEET: %s ---", sheet)
}

// decodeXLSX flattens a workbook to text. Each sheet, in workbook order,
// starts with a marker line followed by its non-blank rows. Cell values
// come back formatted by their number format, so dates and numbers read the
// way they do in a spreadsheet viewer.
func decodeXLSX(r io.Reader) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	var text strings.Builder
	for _, sheet := range f.GetSheetList() {
		text.WriteString("\n" + SheetMarker(sheet) + "\n")

		rows, err := f.GetRows(sheet)
		if err != nil {
			return "", fmt.Errorf("read sheet %q: %w", sheet, err)
		}
		for _, row := range rows {
			cells := make([]string, 0, len(row))
			for _, cell := range row {
				if cell == "" {
					continue
				}
				cells = append(cells, cell)
			}
			line := strings.Join(cells, CellSeparator)
			if strings.TrimSpace(line) == "" {
				continue
			}
			text.WriteString(line)
			text.WriteString("\n")
		}
	}
	return text.String(), nil
}
