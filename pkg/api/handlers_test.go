package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/scheduler"
	"github.com/adfharrison1/go-pivot/pkg/storage"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHandler(engine *storage.StorageEngine) *Handler {
	return NewHandler(engine, engine)
}

func serve(handler http.HandlerFunc, method, target string, body interface{}, vars map[string]string) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req = mux.SetURLVars(req, vars)
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestHandler_HandleInsert(t *testing.T) {
	tests := []struct {
		name           string
		document       interface{}
		expectedStatus int
		expectedID     string
	}{
		{
			name:           "valid document",
			document:       map[string]interface{}{"name": "Alice", "age": 30},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "document with existing ID",
			document:       map[string]interface{}{"_id": "123", "name": "Bob"},
			expectedStatus: http.StatusCreated,
			expectedID:     "123",
		},
		{
			name:           "numeric ID",
			document:       map[string]interface{}{"_id": 7, "name": "Carol"},
			expectedStatus: http.StatusCreated,
			expectedID:     "7",
		},
		{
			name:           "fractional ID",
			document:       map[string]interface{}{"_id": 1.5},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "not an object",
			document:       []int{1, 2},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine := storage.NewStorageEngine()
			handler := newHandler(engine)

			w := serve(handler.HandleInsert, "POST", "/collections/users/documents", tt.document, map[string]string{"coll": "users"})
			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusCreated {
				var errResp ErrorResponse
				decodeBody(t, w, &errResp)
				assert.Equal(t, tt.expectedStatus, errResp.Code)
				return
			}

			var doc map[string]interface{}
			decodeBody(t, w, &doc)
			require.NotEmpty(t, doc["_id"])
			if tt.expectedID != "" {
				assert.Equal(t, tt.expectedID, doc["_id"])
			}
			stored, err := engine.GetById("users", doc["_id"].(string))
			require.NoError(t, err)
			assert.Equal(t, doc["name"], stored["name"])
		})
	}
}

func TestHandler_HandleBulk(t *testing.T) {
	engine := storage.NewStorageEngine()
	handler := newHandler(engine)
	require.NoError(t, engine.PutPipeline("stamp", &domain.Pipeline{
		Processors: []domain.Processor{{Type: domain.ProcessorSet, Field: "source", Value: "bulk"}},
	}))

	body := BulkRequest{Documents: []domain.Document{
		{"_id": "a", "host": "a"},
		{"host": "b"},
	}}
	w := serve(handler.HandleBulk, "POST", "/collections/events/_bulk?pipeline=stamp", body, map[string]string{"coll": "events"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp domain.BulkResponse
	decodeBody(t, w, &resp)
	assert.False(t, resp.Errors)
	require.Len(t, resp.Items, 2)
	assert.Equal(t, "a", resp.Items[0].ID)
	assert.Equal(t, domain.ResultCreated, resp.Items[0].Result)
	assert.NotEmpty(t, resp.Items[1].ID)

	doc, err := engine.GetById("events", "a")
	require.NoError(t, err)
	assert.Equal(t, "bulk", doc["source"])

	// same id again is an update
	w = serve(handler.HandleBulk, "POST", "/collections/events/_bulk", BulkRequest{Documents: []domain.Document{{"_id": "a"}}}, map[string]string{"coll": "events"})
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &resp)
	assert.Equal(t, domain.ResultUpdated, resp.Items[0].Result)

	w = serve(handler.HandleBulk, "POST", "/collections/events/_bulk", BulkRequest{}, map[string]string{"coll": "events"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(handler.HandleBulk, "POST", "/collections/events/_bulk?pipeline=missing", body, map[string]string{"coll": "events"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	tooMany := BulkRequest{Documents: make([]domain.Document, MaxBulkDocuments+1)}
	for i := range tooMany.Documents {
		tooMany.Documents[i] = domain.Document{"n": i}
	}
	w = serve(handler.HandleBulk, "POST", "/collections/events/_bulk", tooMany, map[string]string{"coll": "events"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_HandleGetAndDeleteById(t *testing.T) {
	engine := storage.NewStorageEngine()
	handler := newHandler(engine)
	_, err := engine.Insert("users", domain.Document{"_id": "1", "name": "Alice"})
	require.NoError(t, err)

	tests := []struct {
		name           string
		collection     string
		id             string
		expectedStatus int
	}{
		{"existing document", "users", "1", http.StatusOK},
		{"missing document", "users", "2", http.StatusNotFound},
		{"missing collection", "nope", "1", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(handler.HandleGetById, "GET", "/", nil, map[string]string{"coll": tt.collection, "id": tt.id})
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}

	w := serve(handler.HandleDeleteById, "DELETE", "/", nil, map[string]string{"coll": "users", "id": "1"})
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = serve(handler.HandleDeleteById, "DELETE", "/", nil, map[string]string{"coll": "users", "id": "1"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_HandleFindAll(t *testing.T) {
	engine := storage.NewStorageEngine()
	handler := newHandler(engine)
	for _, doc := range []domain.Document{
		{"_id": "1", "name": "Alice", "age": 30.0},
		{"_id": "2", "name": "Bob", "age": 25.0},
		{"_id": "3", "name": "Charlie", "age": 30.0},
	} {
		_, err := engine.Insert("users", doc)
		require.NoError(t, err)
	}

	tests := []struct {
		name           string
		query          string
		expectedStatus int
		expectedIDs    []string
		hasNext        bool
	}{
		{"no filter", "", http.StatusOK, []string{"1", "2", "3"}, false},
		{"filter by age", "?age=30", http.StatusOK, []string{"1", "3"}, false},
		{"filter by name", "?name=Bob", http.StatusOK, []string{"2"}, false},
		{"limit", "?limit=2", http.StatusOK, []string{"1", "2"}, true},
		{"bad limit", "?limit=x", http.StatusBadRequest, nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(handler.HandleFindAll, "GET", "/collections/users/find"+tt.query, nil, map[string]string{"coll": "users"})
			require.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedStatus != http.StatusOK {
				return
			}
			var result domain.PaginationResult
			decodeBody(t, w, &result)
			var ids []string
			for _, doc := range result.Documents {
				ids = append(ids, doc.ID())
			}
			assert.Equal(t, tt.expectedIDs, ids)
			assert.Equal(t, tt.hasNext, result.HasNext)
		})
	}

	w := serve(handler.HandleFindAll, "GET", "/collections/nope/find", nil, map[string]string{"coll": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_Indexes(t *testing.T) {
	engine := storage.NewStorageEngine()
	handler := newHandler(engine)
	_, err := engine.Insert("events", domain.Document{"host": "a"})
	require.NoError(t, err)

	w := serve(handler.HandleCreateIndex, "POST", "/", nil, map[string]string{"coll": "events", "field": "_id"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(handler.HandleCreateIndex, "POST", "/", nil, map[string]string{"coll": "events", "field": "host"})
	assert.Equal(t, http.StatusCreated, w.Code)

	w = serve(handler.HandleCreateIndex, "POST", "/", nil, map[string]string{"coll": "missing", "field": "host"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(handler.HandleGetIndexes, "GET", "/", nil, map[string]string{"coll": "events"})
	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]interface{}
	decodeBody(t, w, &resp)
	assert.Contains(t, resp["indexes"], "host")

	w = serve(handler.HandleDropIndex, "DELETE", "/", nil, map[string]string{"coll": "events", "field": "host"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = serve(handler.HandleDropIndex, "DELETE", "/", nil, map[string]string{"coll": "events", "field": "host"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_CollectionAndNodeStats(t *testing.T) {
	engine := storage.NewStorageEngine(storage.WithPartitions(2))
	handler := newHandler(engine)
	_, err := engine.Insert("events", domain.Document{"host": "a"})
	require.NoError(t, err)

	w := serve(handler.HandleGetCollection, "GET", "/", nil, map[string]string{"coll": "events"})
	require.Equal(t, http.StatusOK, w.Code)
	var info domain.Collection
	decodeBody(t, w, &info)
	assert.Equal(t, "events", info.Name)
	assert.Equal(t, 2, info.Partitions)
	assert.Equal(t, int64(1), info.DocCount)

	w = serve(handler.HandleGetCollection, "GET", "/", nil, map[string]string{"coll": "nope"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(handler.HandleNodeStats, "GET", "/_stats", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats map[string]interface{}
	decodeBody(t, w, &stats)
	assert.Equal(t, 1.0, stats["collections"])
	assert.Equal(t, 1.0, stats["documents"])
}

func TestHandler_Pipelines(t *testing.T) {
	engine := storage.NewStorageEngine()
	handler := newHandler(engine)

	pipeline := domain.Pipeline{Processors: []domain.Processor{{Type: domain.ProcessorTimestamp, Field: "indexed_at"}}}
	w := serve(handler.HandlePutPipeline, "PUT", "/", pipeline, map[string]string{"id": "stamp"})
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(handler.HandleGetPipeline, "GET", "/", nil, map[string]string{"id": "stamp"})
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.Pipeline
	decodeBody(t, w, &got)
	assert.Equal(t, "stamp", got.ID)
	assert.Len(t, got.Processors, 1)

	invalid := domain.Pipeline{Processors: []domain.Processor{{Type: "explode", Field: "x"}}}
	w = serve(handler.HandlePutPipeline, "PUT", "/", invalid, map[string]string{"id": "bad"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(handler.HandleGetPipeline, "GET", "/", nil, map[string]string{"id": "missing"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err      error
		expected int
	}{
		{domain.ErrDocumentNotFound, http.StatusNotFound},
		{scheduler.ErrNotFound, http.StatusNotFound},
		{scheduler.ErrExists, http.StatusConflict},
		{scheduler.ErrNotStopped, http.StatusConflict},
		{&domain.SearchPhaseError{Failures: []*domain.PartitionFailure{{Cause: &domain.CircuitBreakingError{}}}}, http.StatusTooManyRequests},
		{assert.AnError, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, statusFor(tt.err), tt.err.Error())
	}
}
