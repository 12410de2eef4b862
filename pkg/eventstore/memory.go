package eventstore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryBackend is a guarded, insertion-ordered collection of flattened
// event rows. It provides no durability and is intended for tests and
// ephemeral runs.
//
// Unlike the durable backend, InsertOrUpdate always appends a new row:
// the upsert-by-task-id invariant is deliberately not enforced here.
// Callers that need one-row-per-task semantics must use DurableBackend.
type MemoryBackend struct {
	log *zap.Logger

	mu     sync.Mutex
	rows   []FlatRow
	closed bool
}

// NewMemoryBackend creates an in-memory backend. A nil logger defaults
// to a no-op logger.
func NewMemoryBackend(log *zap.Logger) *MemoryBackend {
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryBackend{log: log}
}

// Init is a no-op for the in-memory backend.
func (m *MemoryBackend) Init(ctx context.Context) error {
	return nil
}

// InsertOrUpdate appends a flattened row. Calls after Close are dropped
// with a warning.
func (m *MemoryBackend) InsertOrUpdate(runID, groupID string, task TaskDescriptor, trace TraceSnapshot) {
	ev := newEvent(runID, groupID, task, trace, time.Now())

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.log.Warn("event dropped: store is closed",
			zap.String("run_id", runID),
			zap.String("task_id", task.ID))
		return
	}
	m.rows = append(m.rows, flatten(ev))
}

// FetchAll returns the rows recorded for runID in insertion order.
// After Close it returns an empty result.
func (m *MemoryBackend) FetchAll(ctx context.Context, runID string) ([]FlatRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil
	}

	var out []FlatRow
	for _, row := range m.rows {
		if row[ColRunID] == runID {
			out = append(out, row)
		}
	}
	return out, nil
}

// Close discards all recorded rows and flips the closed flag under the
// same lock used by InsertOrUpdate and FetchAll, so no reader observes a
// partially cleared collection. A second Close is a no-op warning.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		m.log.Warn("close called on already-closed store")
		return nil
	}
	m.rows = nil
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *MemoryBackend) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// RunSummaries aggregates recorded rows per run. Append-only semantics
// mean a task updated N times contributes N rows.
func (m *MemoryBackend) RunSummaries(ctx context.Context) ([]RunSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, nil
	}

	byRun := make(map[string]*RunSummary)
	var order []string
	for _, row := range m.rows {
		runID, _ := row[ColRunID].(string)
		sum, ok := byRun[runID]
		if !ok {
			sum = &RunSummary{RunID: runID, StatusCounts: make(map[string]int64)}
			byRun[runID] = sum
			order = append(order, runID)
		}
		sum.Tasks++
		if status, ok := row[ColStatus].(string); ok {
			sum.StatusCounts[status]++
		}
		if ts, ok := row[ColIngestedAt].(time.Time); ok {
			if sum.FirstIngestedAt.IsZero() || ts.Before(sum.FirstIngestedAt) {
				sum.FirstIngestedAt = ts
			}
			if ts.After(sum.LastIngestedAt) {
				sum.LastIngestedAt = ts
			}
		}
	}

	out := make([]RunSummary, 0, len(order))
	for _, runID := range order {
		out = append(out, *byRun[runID])
	}
	return out, nil
}

// Compile-time check that MemoryBackend implements Backend.
var _ Backend = (*MemoryBackend)(nil)
