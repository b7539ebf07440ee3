package api

import (
	"encoding/json"
	"net/http"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/gorilla/mux"
)

// HandlePutPipeline registers or replaces an ingest pipeline
func (h *Handler) HandlePutPipeline(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var pipeline domain.Pipeline
	if err := json.NewDecoder(r.Body).Decode(&pipeline); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := h.storage.PutPipeline(id, &pipeline); err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.logger.Info().Str("pipeline", id).Int("processors", len(pipeline.Processors)).Msg("stored pipeline")
	writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
}

// HandleGetPipeline returns an ingest pipeline
func (h *Handler) HandleGetPipeline(w http.ResponseWriter, r *http.Request) {
	pipeline, err := h.storage.GetPipeline(mux.Vars(r)["id"])
	if err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, pipeline)
}
