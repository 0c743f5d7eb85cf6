package extract

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/toricodesthings/signature-extraction-service/internal/analysis"
)

const formsSheet = "Forms"

// WriteFormsReport writes entries to an XLSX workbook at path, one row per
// entry in response order.
func WriteFormsReport(path string, entries []analysis.KeyValueEntry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", formsSheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []string{"Key", "Value", "Confidence"}
	for i, h := range header {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(formsSheet, cell, h); err != nil {
			return fmt.Errorf("header %s: %w", cell, err)
		}
	}

	for i, e := range entries {
		row := i + 2
		values := []any{e.Key, e.Value, e.Confidence}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			if err := f.SetCellValue(formsSheet, cell, v); err != nil {
				return fmt.Errorf("row %d: %w", row, err)
			}
		}
	}

	_ = f.SetColWidth(formsSheet, "A", "B", 32)
	_ = f.SetColWidth(formsSheet, "C", "C", 12)

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}
