package report

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/essayexam/internal/model"
)

// WriteXLSX writes one row per result, followed by the class average.
func WriteXLSX(w io.Writer, exp model.ExamExport, labels Labels) error {
	f := excelize.NewFile()
	defer f.Close()

	sheet := labels.SheetName
	if sheet == "" {
		sheet = DefaultLabels.SheetName
	}
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return fmt.Errorf("rename sheet: %w", err)
	}

	header := []any{labels.No, labels.Name, labels.NISN, labels.Subject, labels.Score, labels.Submitted}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	if err := f.SetRowStyle(sheet, 1, 1, bold); err != nil {
		return err
	}

	for i, r := range exp.Results {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		row := []any{i + 1, r.StudentName, r.StudentNISN, r.Subject, r.Score, r.SubmissionTime()}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write row %d: %w", i+1, err)
		}
	}

	if len(exp.Results) > 0 {
		last := len(exp.Results) + 2
		labelCell, _ := excelize.CoordinatesToCellName(4, last)
		avgCell, _ := excelize.CoordinatesToCellName(5, last)
		if err := f.SetCellValue(sheet, labelCell, labels.Average); err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, avgCell, exp.Average); err != nil {
			return err
		}
	}

	if err := f.SetColWidth(sheet, "B", "B", 30); err != nil {
		return err
	}
	if err := f.SetColWidth(sheet, "C", "F", 20); err != nil {
		return err
	}
	return f.Write(w)
}
