package api

import (
	"net/http"
)

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Message     string `json:"message"`
	Collections int    `json:"collections"`
	Transforms  int    `json:"transforms"`
}

// HandleHealth handles GET requests to the health check endpoint
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:  "healthy",
		Message: "go-pivot is running",
	}
	if lister, ok := h.storage.(interface{ ListCollections() []string }); ok {
		response.Collections = len(lister.ListCollections())
	}
	if h.transforms != nil {
		response.Transforms = len(h.transforms.List())
	}
	writeJSON(w, http.StatusOK, response)
}
