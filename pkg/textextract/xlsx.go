package textextract

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

type XLSX struct{}

const xlsxMIME = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Spreadsheets can be enormous; the text rendering stops once a sheet
// has produced this many cells.
const maxSheetCells = 2000

func (XLSX) Name() string { return "xlsx" }

func (XLSX) Matches(filename, mimeType string) bool {
	return mimeType == xlsxMIME ||
		strings.EqualFold(filepath.Ext(filename), ".xlsx")
}

func (XLSX) Extract(data []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("parse xlsx: %w", err)
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			continue
		}

		var b strings.Builder
		b.WriteString("--- Sheet: " + name + " ---")
		cells := 0
		for _, row := range rows {
			var filled []string
			for _, cell := range row {
				if trimmed := strings.TrimSpace(cell); trimmed != "" {
					filled = append(filled, trimmed)
				}
			}
			if len(filled) == 0 {
				continue
			}
			b.WriteString("\n" + strings.Join(filled, " | "))
			cells += len(filled)
			if cells >= maxSheetCells {
				b.WriteString("\n...")
				break
			}
		}
		sheets = append(sheets, b.String())
	}
	return strings.Join(sheets, "\n\n"), nil
}
