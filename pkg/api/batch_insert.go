package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// MaxBulkDocuments is the largest batch a bulk request may carry
const MaxBulkDocuments = 1000

// BulkRequest represents the request body for bulk writes
type BulkRequest struct {
	Documents []domain.Document `json:"documents"`
}

// HandleBulk upserts a batch of documents. The optional pipeline query
// parameter runs every document through an ingest pipeline first.
func (h *Handler) HandleBulk(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]
	pipeline := r.URL.Query().Get("pipeline")

	var req BulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debug().Err(err).Str("collection", collName).Msg("invalid bulk body")
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Documents) == 0 {
		WriteJSONError(w, http.StatusBadRequest, "No documents provided")
		return
	}
	if len(req.Documents) > MaxBulkDocuments {
		WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("Maximum %d documents allowed per batch", MaxBulkDocuments))
		return
	}
	if pipeline != "" {
		if _, err := h.storage.GetPipeline(pipeline); err != nil {
			WriteJSONError(w, statusFor(err), err.Error())
			return
		}
	}

	requests := make([]domain.IndexRequest, 0, len(req.Documents))
	for i, doc := range req.Documents {
		id := uuid.NewString()
		if raw, ok := doc[domain.IDField]; ok {
			s, err := documentID(raw)
			if err != nil {
				WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("document %d: %v", i, err))
				return
			}
			id = s
		}
		requests = append(requests, domain.IndexRequest{
			Collection: collName,
			ID:         id,
			Pipeline:   pipeline,
			Source:     doc,
		})
	}

	resp, err := h.storage.Bulk(r.Context(), requests)
	if err != nil {
		h.logger.Error().Err(err).Str("collection", collName).Msg("bulk failed")
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	if resp.Errors {
		h.logger.Warn().Str("collection", collName).Msg(resp.FailureMessage())
	}
	h.logger.Debug().Str("collection", collName).Int("documents", len(requests)).Msg("bulk done")
	writeJSON(w, http.StatusOK, resp)
}

// documentID accepts string ids and whole numbers
func documentID(raw interface{}) (string, error) {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return "", fmt.Errorf("_id cannot be empty")
		}
		return v, nil
	case float64:
		if v == math.Trunc(v) {
			return fmt.Sprintf("%.0f", v), nil
		}
	}
	return "", fmt.Errorf("_id must be a string, got [%v]", raw)
}
