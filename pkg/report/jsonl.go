package report

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/flowtrace/flowtrace/pkg/eventstore"
)

// JSONLWriter writes records as newline-delimited JSON to an io.Writer.
//
// JSONLWriter is safe for concurrent use. Writes are serialized using a
// mutex to ensure atomic line writes (no interleaved output). Task row
// payloads are emitted with keys in the supplied column order so every
// line exposes the same shape.
type JSONLWriter struct {
	w        io.Writer
	reportID string
	columns  []string
	mu       sync.Mutex

	closed bool
}

// NewJSONLWriter creates a new JSONL writer.
//
// Parameters:
//   - w: The underlying writer (stdout, file, etc.)
//   - reportID: Correlation ID for this export
//   - columns: Column order for task row payloads
func NewJSONLWriter(w io.Writer, reportID string, columns []string) *JSONLWriter {
	return &JSONLWriter{
		w:        w,
		reportID: reportID,
		columns:  columns,
	}
}

// WriteTask emits one flattened task row.
func (jw *JSONLWriter) WriteTask(ctx context.Context, row eventstore.FlatRow) error {
	data, err := marshalRowOrdered(row, jw.columns)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}
	return jw.writeRecord(ctx, TypeTask, data)
}

// WriteRunSummary emits a per-run aggregate record.
func (jw *JSONLWriter) WriteRunSummary(ctx context.Context, sum *RunSummaryRecord) error {
	data, err := json.Marshal(sum)
	if err != nil {
		return &WriteError{Op: "marshal_data", Err: err}
	}
	return jw.writeRecord(ctx, TypeRunSummary, data)
}

// Close marks the writer as closed.
//
// If the underlying writer implements io.Closer, it is NOT closed.
// The caller is responsible for closing the underlying writer.
func (jw *JSONLWriter) Close() error {
	jw.mu.Lock()
	defer jw.mu.Unlock()

	jw.closed = true
	return nil
}

// writeRecord wraps data in the envelope and writes a complete line.
func (jw *JSONLWriter) writeRecord(ctx context.Context, recordType string, data json.RawMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	jw.mu.Lock()
	defer jw.mu.Unlock()

	if jw.closed {
		return ErrWriterClosed
	}

	record := Record{
		Type:     recordType,
		TS:       time.Now().UTC(),
		ReportID: jw.reportID,
		Data:     data,
	}

	recordBytes, err := json.Marshal(record)
	if err != nil {
		return &WriteError{Op: "marshal_record", Err: err}
	}

	// Handle short writes: io.Writer may return n < len(p) with nil
	// error, which would truncate JSONL lines and corrupt output.
	recordBytes = append(recordBytes, '\n')
	if err := writeAll(jw.w, recordBytes); err != nil {
		return &WriteError{Op: "write", Err: err}
	}

	return nil
}

// marshalRowOrdered encodes a row as a JSON object following the column
// order. Columns absent from the row are emitted as null.
func marshalRowOrdered(row eventstore.FlatRow, columns []string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, col := range columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(col)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(row[col])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// writeAll writes all bytes to w, handling short writes.
func writeAll(w io.Writer, p []byte) error {
	for len(p) > 0 {
		n, err := w.Write(p)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		p = p[n:]
	}
	return nil
}
