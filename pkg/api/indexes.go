package api

import (
	"net/http"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/gorilla/mux"
)

func indexField(w http.ResponseWriter, r *http.Request) (coll, field string, ok bool) {
	vars := mux.Vars(r)
	coll, field = vars["coll"], vars["field"]
	switch field {
	case "":
		WriteJSONError(w, http.StatusBadRequest, "field name is required")
		return "", "", false
	case domain.IDField:
		// documents are routed by _id
		WriteJSONError(w, http.StatusBadRequest, "cannot index _id, documents are routed by it")
		return "", "", false
	}
	return coll, field, true
}

// HandleCreateIndex indexes a field so term and terms filters on it skip
// the partition scan
func (h *Handler) HandleCreateIndex(w http.ResponseWriter, r *http.Request) {
	coll, field, ok := indexField(w, r)
	if !ok {
		return
	}
	if err := h.indexer.CreateIndex(coll, field); err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	h.logger.Info().Str("collection", coll).Str("field", field).Msg("created index")
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"acknowledged": true,
		"collection":   coll,
		"field":        field,
	})
}

// HandleDropIndex removes a field index
func (h *Handler) HandleDropIndex(w http.ResponseWriter, r *http.Request) {
	coll, field, ok := indexField(w, r)
	if !ok {
		return
	}
	if err := h.indexer.DropIndex(coll, field); err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	h.logger.Info().Str("collection", coll).Str("field", field).Msg("dropped index")
	writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
}

// HandleGetIndexes lists the indexed fields of a collection
func (h *Handler) HandleGetIndexes(w http.ResponseWriter, r *http.Request) {
	coll := mux.Vars(r)["coll"]
	indexes, err := h.indexer.GetIndexes(coll)
	if err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"collection": coll,
		"indexes":    indexes,
		"count":      len(indexes),
	})
}
