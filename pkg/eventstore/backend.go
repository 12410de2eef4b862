package eventstore

import (
	"context"
	"errors"
)

// Backend is the uniform capability set both store variants implement.
//
// Implementations must be safe for concurrent use: InsertOrUpdate may be
// called from many producer goroutines while FetchAll runs.
type Backend interface {
	// Init prepares the backend (schema creation, connection open,
	// writer start). It is idempotent. A failed Init leaves the backend
	// unusable; callers must not issue further operations.
	Init(ctx context.Context) error

	// InsertOrUpdate accepts a task identity and a point-in-time trace
	// snapshot. It never blocks the caller on persistence completion and
	// never fails: a call against a closed backend is dropped with a
	// warning rather than an error.
	InsertOrUpdate(runID, groupID string, task TaskDescriptor, trace TraceSnapshot)

	// FetchAll returns every stored record visible for runID as flattened
	// rows ready for tabular export. It is safe to call while writes are
	// in flight; read-your-writes is not guaranteed for events still
	// queued behind the writer.
	FetchAll(ctx context.Context, runID string) ([]FlatRow, error)

	// Close stops accepting new writes, applies already-accepted writes
	// within a bounded wait, and releases underlying resources. A second
	// Close is a no-op warning, not an error.
	Close() error

	// Closed reports whether the backend has been closed.
	Closed() bool
}

// ErrStoreClosed is returned by synchronous read operations issued after
// Close on the durable backend.
var ErrStoreClosed = errors.New("event store is closed")
