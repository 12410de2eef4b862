package eventstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAppendsEveryObservation(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(nil)
	require.NoError(t, m.Init(ctx))

	task := TaskDescriptor{ID: "t1", Process: "align"}
	m.InsertOrUpdate("r1", "s1", task, TraceSnapshot{Status: "SUBMITTED"})
	m.InsertOrUpdate("r1", "s1", task, TraceSnapshot{Status: "COMPLETED"})

	// The in-memory backend does not enforce upsert-by-task-id: every
	// observation is kept as its own row.
	rows, err := m.FetchAll(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "SUBMITTED", rows[0][ColStatus])
	assert.Equal(t, "COMPLETED", rows[1][ColStatus])
}

func TestMemoryFetchFiltersByRun(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(nil)
	require.NoError(t, m.Init(ctx))

	m.InsertOrUpdate("A", "s1", TaskDescriptor{ID: "a1"}, TraceSnapshot{Status: "COMPLETED"})
	m.InsertOrUpdate("B", "s2", TaskDescriptor{ID: "b1"}, TraceSnapshot{Status: "COMPLETED"})

	rows, err := m.FetchAll(ctx, "A")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "a1", rows[0][ColTaskID])
}

func TestMemoryPostCloseNoOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(nil)
	require.NoError(t, m.Init(ctx))

	m.InsertOrUpdate("r1", "s1", TaskDescriptor{ID: "t1"}, TraceSnapshot{Status: "COMPLETED"})
	require.NoError(t, m.Close())
	assert.True(t, m.Closed())

	m.InsertOrUpdate("r1", "s1", TaskDescriptor{ID: "t2"}, TraceSnapshot{Status: "COMPLETED"})

	rows, err := m.FetchAll(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, rows)

	// Second close is a no-op warning, not an error.
	require.NoError(t, m.Close())
}

func TestMemoryRunSummaries(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryBackend(nil)
	require.NoError(t, m.Init(ctx))

	m.InsertOrUpdate("r1", "s1", TaskDescriptor{ID: "t1"}, TraceSnapshot{Status: "COMPLETED"})
	m.InsertOrUpdate("r1", "s1", TaskDescriptor{ID: "t1"}, TraceSnapshot{Status: "COMPLETED"})
	m.InsertOrUpdate("r2", "s2", TaskDescriptor{ID: "t2"}, TraceSnapshot{Status: "FAILED"})

	sums, err := m.RunSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)
	assert.Equal(t, "r1", sums[0].RunID)
	// Append-only rows: the repeated t1 observation counts twice.
	assert.Equal(t, int64(2), sums[0].Tasks)
	assert.Equal(t, int64(1), sums[1].StatusCounts["FAILED"])
}
