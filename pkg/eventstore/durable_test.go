package eventstore

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, path string) *DurableBackend {
	t.Helper()
	b := NewDurableBackend(DurableConfig{
		Path:         path,
		PollInterval: 10 * time.Millisecond,
	})
	require.NoError(t, b.Init(context.Background()))
	return b
}

// reopen closes the backend (forcing a full drain) and opens a fresh one
// on the same file so reads observe everything that was accepted.
func reopen(t *testing.T, b *DurableBackend, path string) *DurableBackend {
	t.Helper()
	require.NoError(t, b.Close())
	return newTestBackend(t, path)
}

func statusOnly(status string) TraceSnapshot {
	return TraceSnapshot{Status: status}
}

func TestDurableUpsertIdempotence(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)

	task := TaskDescriptor{ID: "t1", Process: "align"}
	b.InsertOrUpdate("r1", "s1", task, statusOnly("SUBMITTED"))
	b.InsertOrUpdate("r1", "s1", task, statusOnly("RUNNING"))

	b = reopen(t, b, path)
	defer func() { _ = b.Close() }()

	rows, err := b.FetchAll(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0][ColTaskID])
	assert.Equal(t, "RUNNING", rows[0][ColStatus])
}

func TestDurableIdentityFrozenOnConflict(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)

	b.InsertOrUpdate("r1", "s1", TaskDescriptor{ID: "t1", Process: "align"}, statusOnly("SUBMITTED"))
	// A conflicting write may carry different identity fields; they must
	// not overwrite the values captured at first insertion.
	b.InsertOrUpdate("r2", "s2", TaskDescriptor{ID: "t1", Process: "other"}, statusOnly("COMPLETED"))

	b = reopen(t, b, path)
	defer func() { _ = b.Close() }()

	rows, err := b.FetchAll(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "s1", rows[0][ColGroupID])
	assert.Equal(t, "align", rows[0][ColProcessName])
	assert.Equal(t, "COMPLETED", rows[0][ColStatus])

	rows, err = b.FetchAll(ctx, "r2")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDurableUniquenessUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)

	const producers = 8
	const tasksPerProducer = 25

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < tasksPerProducer; i++ {
				task := TaskDescriptor{
					ID:      fmt.Sprintf("t-%d-%d", p, i),
					Process: "work",
				}
				b.InsertOrUpdate("r1", fmt.Sprintf("s%d", p), task, statusOnly("COMPLETED"))
			}
		}(p)
	}
	wg.Wait()

	b = reopen(t, b, path)
	defer func() { _ = b.Close() }()

	rows, err := b.FetchAll(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, rows, producers*tasksPerProducer)
}

func TestDurableLastWriteWinsUnderRace(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)

	task := TaskDescriptor{ID: "t1", Process: "work"}

	var wg sync.WaitGroup
	for _, status := range []string{"RUNNING", "COMPLETED"} {
		wg.Add(1)
		go func(status string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				b.InsertOrUpdate("r1", "s1", task, statusOnly(status))
			}
		}(status)
	}
	wg.Wait()

	b = reopen(t, b, path)
	defer func() { _ = b.Close() }()

	rows, err := b.FetchAll(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Contains(t, []any{"RUNNING", "COMPLETED"}, rows[0][ColStatus])
}

func TestDurableGracefulDrain(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)

	for i := 0; i < 500; i++ {
		task := TaskDescriptor{ID: fmt.Sprintf("t%d", i), Process: "work"}
		b.InsertOrUpdate("r1", "s1", task, statusOnly("COMPLETED"))
	}
	// Close must drain every already-accepted event before releasing
	// the connection.
	require.NoError(t, b.Close())

	b = newTestBackend(t, path)
	defer func() { _ = b.Close() }()

	rows, err := b.FetchAll(ctx, "r1")
	require.NoError(t, err)
	assert.Len(t, rows, 500)
}

func TestDurableFetchFiltersByRun(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)

	b.InsertOrUpdate("A", "s1", TaskDescriptor{ID: "a1", Process: "work"}, statusOnly("COMPLETED"))
	b.InsertOrUpdate("A", "s1", TaskDescriptor{ID: "a2", Process: "work"}, statusOnly("COMPLETED"))
	b.InsertOrUpdate("B", "s2", TaskDescriptor{ID: "b1", Process: "work"}, statusOnly("COMPLETED"))

	b = reopen(t, b, path)
	defer func() { _ = b.Close() }()

	rows, err := b.FetchAll(ctx, "A")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "A", row[ColRunID])
	}
}

func TestDurableLifecycleScenario(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)

	task := TaskDescriptor{ID: "t1", Process: "fastqc"}
	start := time.Now().UTC()
	exitCode := 0

	b.InsertOrUpdate("r1", "s1", task, TraceSnapshot{Status: "SUBMITTED"})
	b.InsertOrUpdate("r1", "s1", task, TraceSnapshot{Status: "RUNNING", Start: &start})
	b.InsertOrUpdate("r1", "s1", task, TraceSnapshot{Status: "COMPLETED", Start: &start, ExitCode: &exitCode})

	b = reopen(t, b, path)
	defer func() { _ = b.Close() }()

	rows, err := b.FetchAll(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "t1", rows[0][ColTaskID])
	assert.Equal(t, "COMPLETED", rows[0][ColStatus])
	assert.Equal(t, "s1", rows[0][ColGroupID])
	assert.NotNil(t, rows[0]["exit_code"])
	// Fields never reported stay visible as absent columns.
	assert.Nil(t, rows[0]["peak_rss"])
}

func TestDurableFetchWhileWritesInFlight(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)
	defer func() { _ = b.Close() }()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			task := TaskDescriptor{ID: fmt.Sprintf("t%d", i), Process: "work"}
			b.InsertOrUpdate("r1", "s1", task, statusOnly("RUNNING"))
		}
	}()

	// Reads must be safe while the writer is applying events, even
	// though read-your-writes is not guaranteed for queued events.
	for i := 0; i < 10; i++ {
		_, err := b.FetchAll(ctx, "r1")
		require.NoError(t, err)
	}
	<-done
}

func TestDurableCloseIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)

	require.NoError(t, b.Close())
	assert.True(t, b.Closed())
	// Second close is a warning no-op, not an error.
	require.NoError(t, b.Close())
}

func TestDurableInsertAfterCloseDropped(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)
	require.NoError(t, b.Close())

	b.InsertOrUpdate("r1", "s1", TaskDescriptor{ID: "late", Process: "work"}, statusOnly("COMPLETED"))

	_, err := b.FetchAll(ctx, "r1")
	assert.ErrorIs(t, err, ErrStoreClosed)

	b2 := newTestBackend(t, path)
	defer func() { _ = b2.Close() }()
	rows, err := b2.FetchAll(ctx, "r1")
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDurableInitIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Init(ctx))
}

func TestDurableInitFailsOnUnwritableLocation(t *testing.T) {
	b := NewDurableBackend(DurableConfig{
		Path: filepath.Join("/proc", "no-such-dir", "events.db"),
	})
	err := b.Init(context.Background())
	require.Error(t, err)
}

func TestDurableRunSummaries(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "events.db")
	b := newTestBackend(t, path)

	b.InsertOrUpdate("r1", "s1", TaskDescriptor{ID: "t1", Process: "work"}, statusOnly("COMPLETED"))
	b.InsertOrUpdate("r1", "s1", TaskDescriptor{ID: "t2", Process: "work"}, statusOnly("FAILED"))
	b.InsertOrUpdate("r2", "s2", TaskDescriptor{ID: "t3", Process: "work"}, statusOnly("COMPLETED"))

	b = reopen(t, b, path)
	defer func() { _ = b.Close() }()

	sums, err := b.RunSummaries(ctx)
	require.NoError(t, err)
	require.Len(t, sums, 2)

	byRun := make(map[string]RunSummary)
	for _, s := range sums {
		byRun[s.RunID] = s
	}
	assert.Equal(t, int64(2), byRun["r1"].Tasks)
	assert.Equal(t, int64(1), byRun["r1"].StatusCounts["COMPLETED"])
	assert.Equal(t, int64(1), byRun["r1"].StatusCounts["FAILED"])
	assert.Equal(t, int64(1), byRun["r2"].Tasks)
	assert.False(t, byRun["r1"].FirstIngestedAt.IsZero())
}
