package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

// HandleGetById returns one document
func (h *Handler) HandleGetById(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	doc, err := h.storage.GetById(vars["coll"], vars["id"])
	if err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

// HandleDeleteById removes one document. Destination rows deleted this way
// come back on the next checkpoint that touches their group.
func (h *Handler) HandleDeleteById(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	coll, id := vars["coll"], vars["id"]
	if err := h.storage.DeleteById(coll, id); err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	h.logger.Debug().Str("collection", coll).Str("id", id).Msg("deleted document")
	w.WriteHeader(http.StatusNoContent)
}

// HandleGetCollection returns the metadata of a collection: partition
// count, document count and partition sequence numbers
func (h *Handler) HandleGetCollection(w http.ResponseWriter, r *http.Request) {
	info, err := h.storage.GetCollection(mux.Vars(r)["coll"])
	if err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleNodeStats returns memory, collection and breaker figures of the store
func (h *Handler) HandleNodeStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.storage.GetMemoryStats())
}
