package api

import (
	"encoding/json"
	"net/http"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/gorilla/mux"
)

// HandleInsert handles POST requests to insert a document into a collection
func (h *Handler) HandleInsert(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]

	var doc domain.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil || doc == nil {
		h.logger.Debug().Err(err).Str("collection", collName).Msg("invalid insert body")
		WriteJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if id, ok := doc[domain.IDField]; ok {
		s, err := documentID(id)
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		doc[domain.IDField] = s
	}

	stored, err := h.storage.Insert(collName, doc)
	if err != nil {
		h.logger.Error().Err(err).Str("collection", collName).Msg("insert failed")
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}

	h.logger.Debug().Str("collection", collName).Str("id", stored.ID()).Msg("inserted document")
	writeJSON(w, http.StatusCreated, stored)
}
