// Package report renders the result ledger for download.
package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/pavelanni/essayexam/internal/model"
)

// ErrUnknownFormat is returned for unsupported export formats.
var ErrUnknownFormat = errors.New("unknown export format")

// Format is an export file format.
type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
	// FormatHTML is the document export. FormatDoc is the same document
	// served so that word processors open it.
	FormatHTML Format = "html"
	FormatDoc  Format = "doc"
)

// ParseFormat parses a format name, case-insensitively.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatJSON, FormatXLSX, FormatPDF, FormatHTML, FormatDoc:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownFormat, s)
}

// ContentType returns the MIME type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	case FormatDoc:
		return "application/msword"
	default:
		return "text/html; charset=utf-8"
	}
}

// Filename returns the download name for an export of f.
func (f Format) Filename() string {
	return "hasil_ujian." + string(f)
}

// Labels are the captions used in rendered reports.
type Labels struct {
	Title       string
	No          string
	Name        string
	NISN        string
	Subject     string
	Score       string
	Submitted   string
	Average     string
	GeneratedAt string
	SheetName   string
}

// DefaultLabels are the Indonesian captions.
var DefaultLabels = Labels{
	Title:       "Hasil Ujian",
	No:          "No",
	Name:        "Nama Siswa",
	NISN:        "NISN",
	Subject:     "Mata Pelajaran",
	Score:       "Nilai",
	Submitted:   "Waktu Pengumpulan",
	Average:     "Rata-rata",
	GeneratedAt: "Dibuat pada",
	SheetName:   "Hasil",
}

// Write renders exp in format f.
func Write(w io.Writer, f Format, exp model.ExamExport, labels Labels) error {
	switch f {
	case FormatJSON:
		return WriteJSON(w, exp)
	case FormatXLSX:
		return WriteXLSX(w, exp, labels)
	case FormatPDF:
		return WritePDF(w, exp, labels)
	case FormatHTML, FormatDoc:
		return WriteHTML(w, exp, labels)
	}
	return fmt.Errorf("%w: %q", ErrUnknownFormat, f)
}

// WriteJSON writes the export as indented JSON.
func WriteJSON(w io.Writer, exp model.ExamExport) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(exp)
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
