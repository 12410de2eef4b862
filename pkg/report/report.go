// Package report renders flattened task rows for downstream consumers.
//
// Writers consume exactly the column-per-field row shape produced by the
// event store's fetch path and know nothing about the storage engine.
package report

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: flowtrace.<type>.v<version>
const (
	// TypeTask identifies flattened task rows.
	TypeTask = "flowtrace.task.v1"

	// TypeRunSummary identifies per-run aggregate records.
	TypeRunSummary = "flowtrace.run_summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line contains a Record with a type-specific payload in the Data
// field.
type Record struct {
	// Type identifies the record type (e.g., "flowtrace.task.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// ReportID correlates all records of one export.
	ReportID string `json:"report_id"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// RunSummaryRecord is the data payload for per-run aggregates.
type RunSummaryRecord struct {
	RunID           string           `json:"run_id"`
	Tasks           int64            `json:"tasks"`
	StatusCounts    map[string]int64 `json:"status_counts"`
	FirstIngestedAt time.Time        `json:"first_ingested_at"`
	LastIngestedAt  time.Time        `json:"last_ingested_at"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("report writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "report: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
