package api

import (
	"net/http"
	"strconv"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/gorilla/mux"
)

// reserved query parameters of find, everything else is an equality filter
var paginationParams = map[string]bool{"limit": true, "offset": true, "after": true}

// HandleFindAll handles GET requests to find documents with filter criteria
func (h *Handler) HandleFindAll(w http.ResponseWriter, r *http.Request) {
	collName := mux.Vars(r)["coll"]
	params := r.URL.Query()

	opts := domain.DefaultPaginationOptions()
	if v := params.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		opts.Limit = limit
	}
	if v := params.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			WriteJSONError(w, http.StatusBadRequest, "offset must be a number")
			return
		}
		opts.Offset = offset
	}
	opts.After = params.Get("after")

	filter := make(map[string]interface{})
	for key, values := range params {
		if paginationParams[key] || len(values) == 0 {
			continue
		}
		value := values[0]
		if num, err := strconv.ParseFloat(value, 64); err == nil {
			filter[key] = num
		} else if b, err := strconv.ParseBool(value); err == nil {
			filter[key] = b
		} else {
			filter[key] = value
		}
	}

	result, err := h.storage.FindAll(collName, filter, opts)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		WriteJSONError(w, status, err.Error())
		return
	}

	h.logger.Debug().Str("collection", collName).Int("documents", len(result.Documents)).Interface("filter", filter).Msg("find")
	writeJSON(w, http.StatusOK, result)
}
