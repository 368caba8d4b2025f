package report

import (
	"fmt"
	"io"

	"github.com/signintech/gopdf"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/pavelanni/essayexam/internal/model"
)

const (
	pdfMargin     = 40.0
	pdfLineHeight = 16.0
	pdfFontSize   = 10
)

// pdfColumns are the column widths in points; they sum to the A4 width less
// the margins.
var pdfColumns = []float64{30, 170, 90, 95, 50, 80.28}

// WritePDF writes the results as an A4 table.
func WritePDF(w io.Writer, exp model.ExamExport, labels Labels) error {
	pdf := &gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	if err := pdf.AddTTFFontData("regular", goregular.TTF); err != nil {
		return fmt.Errorf("load font: %w", err)
	}
	if err := pdf.AddTTFFontData("bold", gobold.TTF); err != nil {
		return fmt.Errorf("load font: %w", err)
	}
	pdf.AddPage()

	if err := pdf.SetFont("bold", "", 16); err != nil {
		return err
	}
	pdf.SetXY(pdfMargin, pdfMargin)
	title := labels.Title
	if exp.Subject != "" {
		title += " - " + exp.Subject
	}
	if err := pdf.Cell(nil, title); err != nil {
		return err
	}
	pdf.Br(24)

	if err := pdf.SetFont("regular", "", pdfFontSize); err != nil {
		return err
	}
	pdf.SetX(pdfMargin)
	if err := pdf.Cell(nil, labels.GeneratedAt+": "+model.FormatTimestamp(exp.GeneratedAt)); err != nil {
		return err
	}
	pdf.Br(24)

	header := []string{labels.No, labels.Name, labels.NISN, labels.Subject, labels.Score, labels.Submitted}
	if err := writePDFRow(pdf, "bold", header); err != nil {
		return err
	}
	for i, r := range exp.Results {
		if pdf.GetY() > gopdf.PageSizeA4.H-pdfMargin-2*pdfLineHeight {
			pdf.AddPage()
			pdf.SetY(pdfMargin)
			if err := writePDFRow(pdf, "bold", header); err != nil {
				return err
			}
		}
		row := []string{
			fmt.Sprint(i + 1),
			r.StudentName,
			r.StudentNISN,
			r.Subject,
			formatScore(r.Score),
			r.SubmissionTime(),
		}
		if err := writePDFRow(pdf, "regular", row); err != nil {
			return err
		}
	}

	if len(exp.Results) > 0 {
		pdf.Br(pdfLineHeight / 2)
		if err := pdf.SetFont("bold", "", pdfFontSize); err != nil {
			return err
		}
		pdf.SetX(pdfMargin)
		if err := pdf.Cell(nil, labels.Average+": "+formatScore(exp.Average)); err != nil {
			return err
		}
	}

	return pdf.Write(w)
}

// writePDFRow writes one table row. Cells that do not fit their column wrap,
// and the row grows to the tallest cell.
func writePDFRow(pdf *gopdf.GoPdf, font string, cells []string) error {
	if err := pdf.SetFont(font, "", pdfFontSize); err != nil {
		return err
	}
	top := pdf.GetY()
	lines := 1
	x := pdfMargin
	for i, text := range cells {
		width := pdfColumns[i]
		parts := []string{text}
		if text != "" {
			split, err := pdf.SplitText(text, width-4)
			if err != nil {
				return fmt.Errorf("split %q: %w", text, err)
			}
			parts = split
		}
		for j, part := range parts {
			pdf.SetXY(x, top+float64(j)*pdfLineHeight)
			if err := pdf.Cell(&gopdf.Rect{W: width, H: pdfLineHeight}, part); err != nil {
				return err
			}
		}
		lines = max(lines, len(parts))
		x += width
	}
	pdf.SetXY(pdfMargin, top+float64(lines)*pdfLineHeight)
	return nil
}
