package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/flowtrace/flowtrace/pkg/eventstore"
)

// CSVWriter renders flattened task rows as CSV with a header line.
//
// Absent values render as empty cells; timestamps render as RFC3339Nano.
type CSVWriter struct {
	w *csv.Writer
}

// NewCSVWriter creates a CSV writer on top of w.
func NewCSVWriter(w io.Writer) *CSVWriter {
	return &CSVWriter{w: csv.NewWriter(w)}
}

// Write emits the header and every row, then flushes.
func (cw *CSVWriter) Write(columns []string, rows []eventstore.FlatRow) error {
	if err := cw.w.Write(columns); err != nil {
		return &WriteError{Op: "write_header", Err: err}
	}

	record := make([]string, len(columns))
	for _, row := range rows {
		for i, col := range columns {
			record[i] = formatCell(row[col])
		}
		if err := cw.w.Write(record); err != nil {
			return &WriteError{Op: "write_row", Err: err}
		}
	}

	cw.w.Flush()
	if err := cw.w.Error(); err != nil {
		return &WriteError{Op: "flush", Err: err}
	}
	return nil
}

func formatCell(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case json.Number:
		return val.String()
	case float64:
		return fmt.Sprintf("%g", val)
	default:
		return fmt.Sprint(val)
	}
}
