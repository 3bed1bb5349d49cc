// Package loader ingests operational log files (CSV or XLSX, local or
// fetched from an FTP drop) and produces a normalized record batch. All
// location keys are normalized to a shared vocabulary here so that no
// free-text city names reach the analysis core.
package loader

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/sells-group/delivery-insights/internal/model"
)

// Result is one loaded batch plus ingestion transparency counters.
type Result struct {
	Batch     *model.Batch
	Malformed int // rows dropped for missing/unparsable required fields
}

// fileTables maps the expected file stem to its parser.
var fileTables = []struct {
	stem  string
	parse func(rows [][]string, batch *model.Batch) int
}{
	{"orders", parseOrders},
	{"fleet_logs", parseFleetLogs},
	{"warehouse_logs", parseWarehouseLogs},
	{"external_factors", parseExternalFactors},
	{"feedback", parseFeedback},
}

// LoadDir reads the known table files from a directory. Each table may
// be a .csv or .xlsx file; missing tables are skipped with a warning so
// partial drops still load.
func LoadDir(ctx context.Context, dir string) (*Result, error) {
	result := &Result{Batch: &model.Batch{}}

	loaded := 0
	for _, table := range fileTables {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "loader: cancelled")
		}
		path, err := findTable(dir, table.stem)
		if err != nil {
			zap.L().Warn("loader: table file missing",
				zap.String("table", table.stem),
				zap.String("dir", dir),
			)
			continue
		}
		rows, err := readTable(path)
		if err != nil {
			return nil, eris.Wrapf(err, "loader: read %s", path)
		}
		malformed := table.parse(rows, result.Batch)
		result.Malformed += malformed
		loaded++
		zap.L().Info("loader: table loaded",
			zap.String("table", table.stem),
			zap.Int("rows", len(rows)),
			zap.Int("malformed", malformed),
		)
	}

	if loaded == 0 {
		return nil, eris.Errorf("loader: no table files found in %s", dir)
	}
	return result, nil
}

// findTable locates <stem>.csv or <stem>.xlsx in dir.
func findTable(dir, stem string) (string, error) {
	for _, ext := range []string{".csv", ".xlsx"} {
		path := filepath.Join(dir, stem+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", eris.Errorf("loader: no file for table %s", stem)
}

// readTable parses a CSV or XLSX file into header-keyed rows: the first
// row is treated as the header and every following row is returned.
func readTable(path string) ([][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".xlsx":
		return readXLSX(path)
	default:
		return nil, eris.Errorf("loader: unsupported file type %s", path)
	}
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrap(err, "loader: open csv")
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1 // allow variable fields
	reader.LazyQuotes = true

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "loader: read csv row")
		}
		rows = append(rows, record)
	}
	return rows, nil
}

func readXLSX(path string) ([][]string, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "loader: open xlsx")
	}
	if len(f.Sheets) == 0 {
		return nil, eris.Errorf("loader: no sheets in %s", path)
	}

	var rows [][]string
	for _, row := range f.Sheets[0].Rows {
		cells := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			cells = append(cells, cell.String())
		}
		rows = append(rows, cells)
	}
	return rows, nil
}

// columns maps a header row to lower-cased column indexes.
func columns(header []string) map[string]int {
	out := make(map[string]int, len(header))
	for i, name := range header {
		out[strings.ToLower(strings.TrimSpace(name))] = i
	}
	return out
}

// field returns the named column from a row, or "" when absent.
func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
