package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/flowtrace/flowtrace/pkg/eventstore"
)

// Store is the read capability the HTTP surface needs from a backend.
type Store interface {
	FetchAll(ctx context.Context, runID string) ([]eventstore.FlatRow, error)
	RunSummaries(ctx context.Context) ([]eventstore.RunSummary, error)
}

// TaskHandler serves stored task events.
type TaskHandler struct {
	store Store
	log   *zap.Logger
}

// NewTaskHandler creates a handler over the given store.
func NewTaskHandler(store Store, log *zap.Logger) *TaskHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TaskHandler{store: store, log: log}
}

type runEntry struct {
	RunID           string           `json:"run_id"`
	Tasks           int64            `json:"tasks"`
	StatusCounts    map[string]int64 `json:"status_counts"`
	FirstIngestedAt time.Time        `json:"first_ingested_at"`
	LastIngestedAt  time.Time        `json:"last_ingested_at"`
}

// ListRuns returns aggregate statistics for every recorded run.
func (h *TaskHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	sums, err := h.store.RunSummaries(r.Context())
	if err != nil {
		h.respondStoreError(w, err)
		return
	}

	runs := make([]runEntry, 0, len(sums))
	for _, s := range sums {
		runs = append(runs, runEntry{
			RunID:           s.RunID,
			Tasks:           s.Tasks,
			StatusCounts:    s.StatusCounts,
			FirstIngestedAt: s.FirstIngestedAt,
			LastIngestedAt:  s.LastIngestedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// ListTasks returns every stored row for a run, flattened. The response
// carries the stable column order alongside the rows.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")

	rows, err := h.store.FetchAll(r.Context(), runID)
	if err != nil {
		h.respondStoreError(w, err)
		return
	}
	if rows == nil {
		rows = []eventstore.FlatRow{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run_id":  runID,
		"columns": eventstore.Columns(rows),
		"tasks":   rows,
	})
}

func (h *TaskHandler) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, eventstore.ErrStoreClosed) {
		writeError(w, http.StatusServiceUnavailable, CodeStoreClosed, "event store is closed")
		return
	}
	h.log.Error("store read failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, CodeInternal, "failed to read event store")
}
