package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowtrace/flowtrace/internal/server/handlers"
	"github.com/flowtrace/flowtrace/pkg/eventstore"
)

func seededStore(t *testing.T) *eventstore.MemoryBackend {
	t.Helper()
	m := eventstore.NewMemoryBackend(nil)
	require.NoError(t, m.Init(context.Background()))
	m.InsertOrUpdate("r1", "s1",
		eventstore.TaskDescriptor{ID: "t1", Process: "align"},
		eventstore.TraceSnapshot{Status: "COMPLETED"})
	m.InsertOrUpdate("r2", "s2",
		eventstore.TaskDescriptor{ID: "t2", Process: "align"},
		eventstore.TraceSnapshot{Status: "FAILED"})
	return m
}

func TestServerHealthAndVersion(t *testing.T) {
	srv := New("127.0.0.1", 0, seededStore(t), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/version", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServerNotFoundEnvelope(t *testing.T) {
	srv := New("127.0.0.1", 0, seededStore(t), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body handlers.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, handlers.CodeNotFound, body.Error.Code)
}

func TestServerMethodNotAllowed(t *testing.T) {
	srv := New("127.0.0.1", 0, seededStore(t), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	var body handlers.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, handlers.CodeMethodNotAllowed, body.Error.Code)
}

func TestServerListTasks(t *testing.T) {
	srv := New("127.0.0.1", 0, seededStore(t), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/r1/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		RunID   string           `json:"run_id"`
		Columns []string         `json:"columns"`
		Tasks   []map[string]any `json:"tasks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "r1", body.RunID)
	require.Len(t, body.Tasks, 1)
	assert.Equal(t, "t1", body.Tasks[0]["task_id"])
	assert.Equal(t, "run_id", body.Columns[0])
}

func TestServerListTasksEmptyRun(t *testing.T) {
	srv := New("127.0.0.1", 0, seededStore(t), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs/unknown/tasks", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Tasks []map[string]any `json:"tasks"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Empty(t, body.Tasks)
}

func TestServerListRuns(t *testing.T) {
	srv := New("127.0.0.1", 0, seededStore(t), nil)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/runs", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Runs []struct {
			RunID string `json:"run_id"`
			Tasks int64  `json:"tasks"`
		} `json:"runs"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	require.Len(t, body.Runs, 2)
	assert.Equal(t, "r1", body.Runs[0].RunID)
}

func TestServerPort(t *testing.T) {
	srv := New("127.0.0.1", 9000, seededStore(t), nil)
	assert.Equal(t, 9000, srv.Port())
	assert.Equal(t, "127.0.0.1:9000", srv.Addr())
}
