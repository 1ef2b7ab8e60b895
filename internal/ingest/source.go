// Package ingest bulk-loads tabular problem/solution records into the
// vector indices and metadata table. Sources are spreadsheets (XLSX) or
// CSV files with five required columns; incomplete rows are dropped, not
// fatal.
package ingest

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Common errors for source loading.
var (
	ErrMissingColumns = errors.New("source is missing required columns")
	ErrEmptySource    = errors.New("source contains no data rows")
)

// Row is one cleaned source row, ready for embedding.
type Row struct {
	IdeaNumber string
	Status     string
	Title      string
	Cause      string
	Solution   string
}

// Texts returns the three embeddable facets of the row.
func (r Row) Texts() (title, cause, solution string) {
	return r.Title, r.Cause, r.Solution
}

var requiredColumns = []string{"ideanumber", "status", "title", "cause", "solution"}

// normalizeHeader folds a header cell to a comparable form.
func normalizeHeader(h string) string {
	h = strings.ToLower(strings.TrimSpace(h))
	h = strings.ReplaceAll(h, " ", "")
	h = strings.ReplaceAll(h, "_", "")
	return h
}

// columnMap locates the required columns in a header row. Returns nil when
// any required column is absent.
func columnMap(header []string) map[string]int {
	cols := make(map[string]int, len(requiredColumns))
	for i, cell := range header {
		cols[normalizeHeader(cell)] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil
		}
	}
	return cols
}

// cleanRow builds a Row from raw cells, trimming whitespace on every cell.
// Returns false when any required field is empty after trimming.
func cleanRow(cells []string, cols map[string]int) (Row, bool) {
	get := func(name string) string {
		idx := cols[name]
		if idx >= len(cells) {
			return ""
		}
		return strings.TrimSpace(cells[idx])
	}

	row := Row{
		IdeaNumber: get("ideanumber"),
		Status:     get("status"),
		Title:      get("title"),
		Cause:      get("cause"),
		Solution:   get("solution"),
	}

	if row.IdeaNumber == "" || row.Status == "" || row.Title == "" || row.Cause == "" || row.Solution == "" {
		return Row{}, false
	}
	return row, true
}

// LoadXLSX reads the first sheet of an XLSX workbook. The header row is
// located by scanning for the required column names, so leading banner
// rows are tolerated. Returns the cleaned rows and the number of dropped
// (incomplete) rows.
func LoadXLSX(path string) ([]Row, int, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, 0, ErrEmptySource
	}

	raw, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, 0, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}

	headerIdx := -1
	var cols map[string]int
	for i, cells := range raw {
		if i > 4 {
			break
		}
		if m := columnMap(cells); m != nil {
			headerIdx = i
			cols = m
			break
		}
	}
	if headerIdx < 0 {
		return nil, 0, ErrMissingColumns
	}

	return cleanRows(raw[headerIdx+1:], cols)
}

// LoadCSV reads a CSV file whose first row is the header.
func LoadCSV(path string) ([]Row, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open source: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, 0, ErrEmptySource
	}
	cols := columnMap(header)
	if cols == nil {
		return nil, 0, ErrMissingColumns
	}

	var raw [][]string
	for {
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read source: %w", err)
		}
		raw = append(raw, cells)
	}

	return cleanRows(raw, cols)
}

// LoadSource dispatches on the file extension: .xlsx for spreadsheets,
// anything else is treated as CSV.
func LoadSource(path string) ([]Row, int, error) {
	if strings.HasSuffix(strings.ToLower(path), ".xlsx") {
		return LoadXLSX(path)
	}
	return LoadCSV(path)
}

func cleanRows(raw [][]string, cols map[string]int) ([]Row, int, error) {
	rows := make([]Row, 0, len(raw))
	dropped := 0
	for _, cells := range raw {
		row, ok := cleanRow(cells, cols)
		if !ok {
			dropped++
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 && dropped == 0 {
		return nil, 0, ErrEmptySource
	}
	return rows, dropped, nil
}
