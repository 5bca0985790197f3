package functions

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"
)

// table is tabular file content with a header row and string-valued cells.
type table struct {
	fileType string
	columns  []string
	rows     [][]string
}

// loadTable reads a CSV or XLSX file. Failures are returned as a payload so
// callers can hand them straight back to the client.
func loadTable(path string) (*table, map[string]any) {
	if _, err := os.Stat(path); err != nil {
		return nil, failure(fmt.Sprintf("file not found: %s", path), nil)
	}

	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ".csv"):
		return loadCSV(path)
	case strings.HasSuffix(lower, ".xlsx"):
		return loadXLSX(path)
	default:
		return nil, failure("only csv and xlsx files are supported", nil)
	}
}

func loadCSV(path string) (*table, map[string]any) {
	f, err := os.Open(path)
	if err != nil {
		return nil, failure(fmt.Sprintf("read file: %v", err), nil)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	records, err := r.ReadAll()
	if err != nil {
		return nil, failure(fmt.Sprintf("parse csv: %v", err), nil)
	}
	if len(records) == 0 {
		return nil, failure("file has no header row", nil)
	}
	return &table{fileType: "csv", columns: records[0], rows: records[1:]}, nil
}

func loadXLSX(path string) (*table, map[string]any) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, failure(fmt.Sprintf("read file: %v", err), nil)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, failure("workbook has no sheets", nil)
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, failure(fmt.Sprintf("read sheet: %v", err), nil)
	}
	if len(records) == 0 {
		return nil, failure("file has no header row", nil)
	}
	return &table{fileType: "excel", columns: records[0], rows: records[1:]}, nil
}

// colIndex returns the position of a named column, or -1.
func (t *table) colIndex(name string) int {
	for i, c := range t.columns {
		if c == name {
			return i
		}
	}
	return -1
}

// cell returns the value at (row, col), padding short rows with "".
func (t *table) cell(row, col int) string {
	if col < len(t.rows[row]) {
		return t.rows[row][col]
	}
	return ""
}

const readTableFileSchema = `{
	"type": "object",
	"properties": {
		"file_path": {"type": "string", "description": "Path to a csv or xlsx file"},
		"nrows": {"type": "integer", "minimum": 1, "description": "Number of preview rows, default 5"}
	},
	"required": ["file_path"],
	"additionalProperties": false
}`

// readTableFile returns the column names and the first rows of a table file.
func readTableFile(_ context.Context, params map[string]any) (any, error) {
	path := stringParam(params, "file_path", "")
	nrows := intParam(params, "nrows", 5)

	t, fail := loadTable(path)
	if fail != nil {
		return fail, nil
	}

	if nrows > len(t.rows) {
		nrows = len(t.rows)
	}
	preview := make([][]string, 0, nrows)
	for i := 0; i < nrows; i++ {
		row := make([]string, len(t.columns))
		for j := range t.columns {
			row[j] = t.cell(i, j)
		}
		preview = append(preview, row)
	}

	return map[string]any{
		"status":    "success",
		"file_type": t.fileType,
		"columns":   t.columns,
		"preview":   preview,
	}, nil
}
