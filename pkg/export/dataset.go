package export

import (
	"fmt"
	"strings"
)

// Format identifies a rendered file type.
type Format string

const (
	FormatCSV Format = "csv"
	FormatPDF Format = "pdf"
)

// ParseFormat accepts "csv" or "pdf" in any case.
func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", raw)
	}
}

// Extension returns the file extension including the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// Dataset is a titled table. Every row has exactly len(Headers) cells.
type Dataset struct {
	Title   string
	Headers []string
	Rows    [][]string
}

// NewDataset starts an empty table with the given columns.
func NewDataset(title string, headers ...string) *Dataset {
	return &Dataset{Title: title, Headers: headers}
}

// Append adds one row.
func (d *Dataset) Append(cells ...string) error {
	if len(cells) != len(d.Headers) {
		return fmt.Errorf("row has %d cells, want %d", len(cells), len(d.Headers))
	}
	d.Rows = append(d.Rows, cells)
	return nil
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	return len(d.Rows)
}
