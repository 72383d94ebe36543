package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

func (e *Exporter) writeXLSX(w io.Writer, rows []Row) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := e.labels.SheetName
	if sheet == "" {
		sheet = "Analyses"
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("failed to name sheet: %w", err)
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#E6F3FF"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}
	percentStyle, err := f.NewStyle(&excelize.Style{NumFmt: 2})
	if err != nil {
		return fmt.Errorf("failed to create percent style: %w", err)
	}

	for col, title := range e.labels.Headers.row() {
		if err := setCellValue(f, sheet, col+1, 1, title); err != nil {
			return err
		}
	}
	if err := f.SetCellStyle(sheet, "A1", "F1", headerStyle); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	for i, r := range rows {
		line := i + 2
		values := []interface{}{
			r.Code,
			r.Name,
			r.Diagnosis,
			r.Parasitized,
			r.Uninfected,
			r.Date.Format(e.labels.DateFormat),
		}
		for col, v := range values {
			if err := setCellValue(f, sheet, col+1, line, v); err != nil {
				return err
			}
		}
	}

	last := len(rows) + 1
	if err := f.SetCellStyle(sheet, "D2", fmt.Sprintf("E%d", last), percentStyle); err != nil {
		return fmt.Errorf("failed to style percentages: %w", err)
	}
	if err := f.SetColWidth(sheet, "A", "F", 18); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	return f.Write(w)
}

func setCellValue(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
