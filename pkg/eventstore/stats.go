package eventstore

import (
	"context"
	"fmt"
	"time"
)

// RunSummary provides aggregate statistics for one workflow run.
type RunSummary struct {
	RunID           string
	Tasks           int64
	StatusCounts    map[string]int64
	FirstIngestedAt time.Time
	LastIngestedAt  time.Time
}

// RunSummaries aggregates stored rows per run using SQL aggregates.
// Runs are returned in first-ingestion order.
func (d *DurableBackend) RunSummaries(ctx context.Context) ([]RunSummary, error) {
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
		`SELECT run_id, COUNT(*), MIN(ingested_at), MAX(ingested_at)
		 FROM task_events
		 GROUP BY run_id
		 ORDER BY MIN(ingested_at)`)
	if err != nil {
		return nil, fmt.Errorf("summarize runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RunSummary
	for rows.Next() {
		var sum RunSummary
		var first, last string
		if err := rows.Scan(&sum.RunID, &sum.Tasks, &first, &last); err != nil {
			return nil, fmt.Errorf("scan run summary: %w", err)
		}
		if sum.FirstIngestedAt, err = time.Parse(time.RFC3339Nano, first); err != nil {
			return nil, fmt.Errorf("parse first ingested_at: %w", err)
		}
		if sum.LastIngestedAt, err = time.Parse(time.RFC3339Nano, last); err != nil {
			return nil, fmt.Errorf("parse last ingested_at: %w", err)
		}
		sum.StatusCounts = make(map[string]int64)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate run summaries: %w", err)
	}

	for i := range out {
		counts, err := d.statusCounts(ctx, out[i].RunID)
		if err != nil {
			return nil, err
		}
		out[i].StatusCounts = counts
	}

	return out, nil
}

func (d *DurableBackend) statusCounts(ctx context.Context, runID string) (map[string]int64, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT COALESCE(status, ''), COUNT(*)
		 FROM task_events
		 WHERE run_id = ?
		 GROUP BY status`,
		runID)
	if err != nil {
		return nil, fmt.Errorf("count statuses: %w", err)
	}
	defer func() { _ = rows.Close() }()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
