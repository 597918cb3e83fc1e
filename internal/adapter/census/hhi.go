package census

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is the health-index table keyed by normalized ZCTA.
type Table struct {
	Columns []string            // attribute columns, key column excluded
	Rows    map[string][]string // key -> values aligned with Columns
}

// LoadTable reads the .xlsx or .csv table at p (or the first one under
// directory p). The key column is matched case-insensitively. A repeated key
// keeps its first row.
func LoadTable(p, keyColumn string) (Table, error) {
	file, err := findFile(p, ".xlsx", ".csv")
	if err != nil {
		return Table{}, fmt.Errorf("find health index table: %w", err)
	}
	var rows [][]string
	switch strings.ToLower(filepath.Ext(file)) {
	case ".xlsx":
		rows, err = readWorkbook(file)
	default:
		rows, err = readCSV(file)
	}
	if err != nil {
		return Table{}, err
	}
	t, err := buildTable(rows, keyColumn)
	if err != nil {
		return Table{}, fmt.Errorf("%s: %w", file, err)
	}
	return t, nil
}

func readWorkbook(file string) ([][]string, error) {
	f, err := excelize.OpenFile(file)
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", file, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", file)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s of %s: %w", sheets[0], file, err)
	}
	return rows, nil
}

func readCSV(file string) ([][]string, error) {
	fh, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.FieldsPerRecord = -1
	var rows [][]string
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv %s: %w", file, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

func buildTable(rows [][]string, keyColumn string) (Table, error) {
	if len(rows) == 0 {
		return Table{}, errors.New("table has no header")
	}
	header := rows[0]
	keyIdx := -1
	var cols []string
	var colIdx []int
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		switch {
		case strings.EqualFold(h, keyColumn):
			keyIdx = i
		case h != "":
			cols = append(cols, h)
			colIdx = append(colIdx, i)
		}
	}
	if keyIdx < 0 {
		return Table{}, fmt.Errorf("key column %s not found", keyColumn)
	}

	t := Table{Columns: cols, Rows: make(map[string][]string, len(rows)-1)}
	for _, row := range rows[1:] {
		if keyIdx >= len(row) {
			continue
		}
		key := NormalizeKey(row[keyIdx])
		if key == "" {
			continue
		}
		if _, dup := t.Rows[key]; dup {
			continue
		}
		vals := make([]string, len(cols))
		for j, i := range colIdx {
			if i < len(row) {
				vals[j] = strings.TrimSpace(row[i])
			}
		}
		t.Rows[key] = vals
	}
	return t, nil
}
