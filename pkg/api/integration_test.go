package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adfharrison1/go-pivot/pkg/audit"
	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/metrics"
	"github.com/adfharrison1/go-pivot/pkg/scheduler"
	"github.com/adfharrison1/go-pivot/pkg/state"
	"github.com/adfharrison1/go-pivot/pkg/storage"
	"github.com/adfharrison1/go-pivot/pkg/transform"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestServer represents a test HTTP server for integration testing
type TestServer struct {
	Server    *httptest.Server
	Storage   *storage.StorageEngine
	Scheduler *scheduler.Scheduler
	BaseURL   string
}

// NewTestServer wires the document store, a scheduler and metrics behind
// the router
func NewTestServer(t *testing.T) *TestServer {
	engine := storage.NewStorageEngine()
	auditor := audit.New()
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	sched := scheduler.New(scheduler.Dependencies{
		Backend: engine,
		Auditor: auditor,
		Metrics: m,
		Node:    "test",
	}, scheduler.WithStore(state.NewStore(engine)))

	handler := NewHandler(engine, engine,
		WithTransforms(sched),
		WithNotifications(auditor),
		WithMetricsHandler(metrics.Handler(reg)),
	)
	router := mux.NewRouter()
	handler.RegisterRoutes(router)
	server := httptest.NewServer(router)

	ts := &TestServer{Server: server, Storage: engine, Scheduler: sched, BaseURL: server.URL}
	t.Cleanup(func() {
		server.Close()
		sched.Stop()
	})
	return ts
}

func (ts *TestServer) do(t *testing.T, method, path string, body interface{}) (int, []byte) {
	t.Helper()
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.BaseURL+path, buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

var hostsTransform = map[string]interface{}{
	"source": map[string]interface{}{
		"index": []string{"events"},
		"query": map[string]interface{}{"exists": map[string]interface{}{"field": "host"}},
	},
	"dest":      map[string]interface{}{"index": "hosts"},
	"frequency": "1s",
	"pivot": map[string]interface{}{
		"group_by": map[string]interface{}{
			"host": map[string]interface{}{"terms": map[string]interface{}{"field": "host"}},
		},
		"aggregations": map[string]interface{}{
			"total": map[string]interface{}{"sum": map[string]interface{}{"field": "latency"}},
			"calls": map[string]interface{}{"value_count": map[string]interface{}{"field": "latency"}},
		},
	},
}

func TestAPI_Integration_Documents(t *testing.T) {
	ts := NewTestServer(t)

	status, body := ts.do(t, "POST", "/collections/users/documents", map[string]interface{}{"_id": "1", "name": "Alice"})
	require.Equal(t, http.StatusCreated, status, string(body))

	status, body = ts.do(t, "GET", "/collections/users/documents/1", nil)
	require.Equal(t, http.StatusOK, status)
	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &doc))
	assert.Equal(t, "Alice", doc["name"])

	status, _ = ts.do(t, "POST", "/collections/users/indexes/name", nil)
	assert.Equal(t, http.StatusCreated, status)

	status, body = ts.do(t, "GET", "/collections/users/find?name=Alice", nil)
	require.Equal(t, http.StatusOK, status)
	var found map[string]interface{}
	require.NoError(t, json.Unmarshal(body, &found))
	assert.Len(t, found["documents"], 1)

	status, _ = ts.do(t, "DELETE", "/collections/users/documents/1", nil)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = ts.do(t, "GET", "/collections/users/documents/1", nil)
	assert.Equal(t, http.StatusNotFound, status)

	status, body = ts.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, status)
	var health HealthResponse
	require.NoError(t, json.Unmarshal(body, &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Collections)
}

func TestAPI_Integration_TransformLifecycle(t *testing.T) {
	ts := NewTestServer(t)

	status, body := ts.do(t, "POST", "/collections/events/_bulk", BulkRequest{Documents: []domain.Document{
		{"host": "a", "latency": 10},
		{"host": "b", "latency": 5},
		{"host": "a", "latency": 20},
		{"latency": 100},
	}})
	require.Equal(t, http.StatusOK, status, string(body))

	t.Run("preview", func(t *testing.T) {
		status, body := ts.do(t, "POST", "/transforms/_preview", hostsTransform)
		require.Equal(t, http.StatusOK, status, string(body))
		var result scheduler.PreviewResult
		require.NoError(t, json.Unmarshal(body, &result))
		require.Len(t, result.Rows, 2)
		assert.Equal(t, "a", result.Rows[0]["host"])
		assert.Equal(t, 30.0, result.Rows[0]["total"])
		assert.Equal(t, 2.0, result.Rows[0]["calls"])
		assert.Equal(t, "long", result.Mappings["calls"])
	})

	t.Run("create", func(t *testing.T) {
		status, body := ts.do(t, "PUT", "/transforms/hosts", hostsTransform)
		require.Equal(t, http.StatusCreated, status, string(body))

		status, _ = ts.do(t, "PUT", "/transforms/hosts", hostsTransform)
		assert.Equal(t, http.StatusConflict, status)

		status, _ = ts.do(t, "PUT", "/transforms/other", map[string]interface{}{"id": "hosts"})
		assert.Equal(t, http.StatusBadRequest, status)

		status, _ = ts.do(t, "PUT", "/transforms/broken", map[string]interface{}{"source": map[string]interface{}{"index": []string{"events"}}})
		assert.Equal(t, http.StatusBadRequest, status)

		status, body = ts.do(t, "GET", "/transforms/hosts", nil)
		require.Equal(t, http.StatusOK, status)
		var resp TransformResponse
		require.NoError(t, json.Unmarshal(body, &resp))
		assert.Equal(t, transform.TaskStopped, resp.State)
		assert.Equal(t, "hosts", resp.Config.Dest.Index)
	})

	t.Run("run", func(t *testing.T) {
		status, _ := ts.do(t, "POST", "/transforms/hosts/_start", nil)
		require.Equal(t, http.StatusOK, status)

		require.Equal(t, 1, ts.Scheduler.TriggerNow())
		task, err := ts.Scheduler.Get("hosts")
		require.NoError(t, err)
		task.Wait()

		status, body := ts.do(t, "GET", "/transforms/hosts/_stats", nil)
		require.Equal(t, http.StatusOK, status)
		var stats transform.Stats
		require.NoError(t, json.Unmarshal(body, &stats))
		assert.Equal(t, transform.TaskStopped, stats.State)
		assert.Equal(t, int64(1), stats.Checkpointing.Last.Checkpoint)
		assert.Equal(t, int64(3), stats.Indexer.NumInputDocuments)
		assert.Equal(t, int64(2), stats.Indexer.NumOutputDocuments)
		assert.Equal(t, "test", stats.Node)

		status, body = ts.do(t, "GET", "/collections/hosts/find?host=a", nil)
		require.Equal(t, http.StatusOK, status)
		var found struct {
			Documents []map[string]interface{} `json:"documents"`
		}
		require.NoError(t, json.Unmarshal(body, &found))
		require.Len(t, found.Documents, 1)
		assert.Equal(t, 30.0, found.Documents[0]["total"])

		status, body = ts.do(t, "GET", "/transforms/hosts/_audit", nil)
		require.Equal(t, http.StatusOK, status)
		var notes struct {
			Notifications []audit.Notification `json:"notifications"`
		}
		require.NoError(t, json.Unmarshal(body, &notes))
		require.NotEmpty(t, notes.Notifications)
		assert.Equal(t, transform.FinishedBatchMessage(), notes.Notifications[0].Message)

		status, body = ts.do(t, "GET", "/metrics", nil)
		require.Equal(t, http.StatusOK, status)
		assert.Contains(t, string(body), `gopivot_transform_documents_indexed_total{transform="hosts"} 2`)
	})

	t.Run("delete", func(t *testing.T) {
		status, _ := ts.do(t, "POST", "/transforms/hosts/_stop?wait_for_completion=true", nil)
		require.Equal(t, http.StatusOK, status)

		status, body := ts.do(t, "GET", "/transforms", nil)
		require.Equal(t, http.StatusOK, status)
		var list map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &list))
		assert.Equal(t, 1.0, list["count"])

		status, _ = ts.do(t, "DELETE", "/transforms/hosts", nil)
		require.Equal(t, http.StatusOK, status)
		status, _ = ts.do(t, "GET", "/transforms/hosts", nil)
		assert.Equal(t, http.StatusNotFound, status)
		status, _ = ts.do(t, "GET", "/transforms/hosts/_audit", nil)
		assert.Equal(t, http.StatusNotFound, status)
		status, _ = ts.do(t, "POST", "/transforms/hosts/_start", nil)
		assert.Equal(t, http.StatusNotFound, status)
	})
}
