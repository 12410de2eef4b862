package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DurableConfig configures the file-backed event store.
type DurableConfig struct {
	// Path is the local filesystem path to the event database.
	// ":memory:" selects an ephemeral in-process database.
	Path string

	// Logger receives warnings and per-event write errors.
	// Default: no-op logger.
	Logger *zap.Logger

	// PollInterval bounds how long the writer waits for the next event
	// before re-checking the drain flag. Default: 100ms.
	PollInterval time.Duration

	// DrainTimeout bounds how long Close waits for the writer to empty
	// the queue before forcing shutdown. Default: 10s.
	DrainTimeout time.Duration

	// BackpressureThreshold emits a warning each time the pending queue
	// length crosses a multiple of this value. Observability only; it
	// never throttles producers. Default: 100.
	BackpressureThreshold int
}

func (c *DurableConfig) applyDefaults() {
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 10 * time.Second
	}
	if c.BackpressureThreshold <= 0 {
		c.BackpressureThreshold = 100
	}
}

// DurableBackend persists events to SQLite through exactly one writer
// goroutine fed by an unbounded queue. Producers never block on
// persistence; reads run concurrently with the writer under WAL.
type DurableBackend struct {
	cfg DurableConfig
	log *zap.Logger

	db    *sql.DB
	queue *eventQueue

	// draining tells the writer to exit once the queue is empty;
	// closed rejects new producer writes.
	draining atomic.Bool
	closed   atomic.Bool

	writerCancel context.CancelFunc
	done         chan struct{}

	// errLimit throttles per-event failure logging so a broken store
	// does not flood the log while the writer keeps draining.
	errLimit *rate.Limiter

	mu          sync.Mutex
	initialized bool
}

// NewDurableBackend creates a durable backend. Call Init before use.
func NewDurableBackend(cfg DurableConfig) *DurableBackend {
	cfg.applyDefaults()
	return &DurableBackend{
		cfg:      cfg,
		log:      cfg.Logger,
		queue:    newEventQueue(),
		done:     make(chan struct{}),
		errLimit: rate.NewLimiter(rate.Every(time.Second), 5),
	}
}

// Init opens the database, applies the schema, and starts the writer.
// It is idempotent; a second call on an initialized backend is a no-op.
// A failed Init leaves the backend unusable.
func (d *DurableBackend) Init(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initialized {
		return nil
	}
	if d.closed.Load() {
		return ErrStoreClosed
	}

	db, err := openStore(ctx, d.cfg.Path)
	if err != nil {
		return err
	}
	if err := Migrate(ctx, db); err != nil {
		_ = db.Close()
		return fmt.Errorf("prepare event schema: %w", err)
	}

	writerCtx, cancel := context.WithCancel(context.Background())
	d.db = db
	d.writerCancel = cancel
	d.initialized = true

	go d.writerLoop(writerCtx)

	d.log.Debug("event store initialized", zap.String("path", d.cfg.Path))
	return nil
}

// InsertOrUpdate snapshots the task state and enqueues it for the
// writer. It returns immediately; persistence is fire-and-forget. Calls
// after Close are dropped with a warning.
func (d *DurableBackend) InsertOrUpdate(runID, groupID string, task TaskDescriptor, trace TraceSnapshot) {
	if d.closed.Load() {
		d.log.Warn("event dropped: store is closed",
			zap.String("run_id", runID),
			zap.String("task_id", task.ID))
		return
	}

	ev := newEvent(runID, groupID, task, trace, time.Now())
	pending := d.queue.Push(ev)

	if pending%d.cfg.BackpressureThreshold == 0 {
		d.log.Warn("event writer backlog growing",
			zap.Int("pending", pending),
			zap.String("run_id", runID))
	}
}

// writerLoop serializes all mutations. It runs until the drain flag is
// set and the queue is empty, or until its context is cancelled by a
// forced shutdown. A failure applying one event is logged and the loop
// continues; one bad event never halts the writer.
func (d *DurableBackend) writerLoop(ctx context.Context) {
	defer close(d.done)

	for {
		if d.draining.Load() && d.queue.Len() == 0 {
			return
		}

		ev, ok := d.queue.Pop(ctx, d.cfg.PollInterval)
		if !ok {
			if ctx.Err() != nil {
				return
			}
			continue
		}

		if err := d.apply(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return
			}
			if d.errLimit.Allow() {
				d.log.Error("apply event failed",
					zap.String("task_id", ev.TaskID),
					zap.String("run_id", ev.RunID),
					zap.Error(err))
			}
		}
	}
}

// apply upserts one event keyed by task_id. On conflict the incoming
// ingested_at, status, and metadata replace the stored values;
// run_id, group_id, and process_name stay frozen at first insertion.
func (d *DurableBackend) apply(ctx context.Context, ev Event) error {
	metadata, err := json.Marshal(ev.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO task_events
		 (run_id, group_id, ingested_at, process_name, task_id, status, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(task_id) DO UPDATE SET
		   ingested_at = excluded.ingested_at,
		   status = excluded.status,
		   metadata = excluded.metadata`,
		ev.RunID, ev.GroupID, ev.IngestedAt.Format(time.RFC3339Nano),
		ev.ProcessName, ev.TaskID, ev.Status, string(metadata))

	if err != nil {
		return fmt.Errorf("upsert event: %w", err)
	}
	return nil
}

// FetchAll returns every stored row for runID as flattened mappings,
// ordered by ingestion time then task_id for deterministic output.
// Events still queued behind the writer are not visible yet.
func (d *DurableBackend) FetchAll(ctx context.Context, runID string) ([]FlatRow, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if d.closed.Load() {
		return nil, ErrStoreClosed
	}
	if d.db == nil {
		return nil, fmt.Errorf("event store is not initialized")
	}

	rows, err := d.db.QueryContext(ctx,
		`SELECT run_id, group_id, ingested_at, process_name, task_id, status, metadata
		 FROM task_events
		 WHERE run_id = ?
		 ORDER BY ingested_at, task_id`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []FlatRow
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, flatten(ev))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return out, nil
}

func scanEvent(rows *sql.Rows) (Event, error) {
	var ev Event
	var ingestedAt string
	var processName, status, metadata sql.NullString

	if err := rows.Scan(&ev.RunID, &ev.GroupID, &ingestedAt,
		&processName, &ev.TaskID, &status, &metadata); err != nil {
		return Event{}, fmt.Errorf("scan event: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, ingestedAt)
	if err != nil {
		return Event{}, fmt.Errorf("parse ingested_at: %w", err)
	}
	ev.IngestedAt = ts

	if processName.Valid {
		ev.ProcessName = processName.String
	}
	if status.Valid {
		ev.Status = status.String
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &ev.Metadata); err != nil {
			return Event{}, fmt.Errorf("decode metadata for %s: %w", ev.TaskID, err)
		}
	}

	return ev, nil
}

// Close stops accepting new writes, waits up to DrainTimeout for the
// writer to empty the queue, then releases the database. If the drain
// bound elapses the writer is interrupted and the database is released
// anyway: shutdown always terminates, trading best-effort durability
// for liveness beyond the bound. A second Close is a no-op warning.
func (d *DurableBackend) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed.Load() {
		d.log.Warn("close called on already-closed store")
		return nil
	}
	d.closed.Store(true)

	if !d.initialized {
		return nil
	}

	d.draining.Store(true)

	select {
	case <-d.done:
	case <-time.After(d.cfg.DrainTimeout):
		d.log.Error("event writer did not drain in time; forcing shutdown",
			zap.Duration("timeout", d.cfg.DrainTimeout),
			zap.Int("pending", d.queue.Len()))
		d.writerCancel()
		<-d.done
	}
	d.writerCancel()

	if err := d.db.Close(); err != nil {
		return fmt.Errorf("close event store: %w", err)
	}
	return nil
}

// Closed reports whether Close has been called.
func (d *DurableBackend) Closed() bool {
	return d.closed.Load()
}

// Pending returns the number of events queued behind the writer.
func (d *DurableBackend) Pending() int {
	return d.queue.Len()
}

// Compile-time check that DurableBackend implements Backend.
var _ Backend = (*DurableBackend)(nil)
