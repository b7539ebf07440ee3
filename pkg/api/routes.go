package api

import (
	"github.com/gorilla/mux"
)

// RegisterRoutes registers all API routes with the given router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.HandleHealth).Methods("GET")
	router.HandleFunc("/_stats", h.HandleNodeStats).Methods("GET")
	if h.metrics != nil {
		router.Handle("/metrics", h.metrics).Methods("GET")
	}

	// Documents
	router.HandleFunc("/collections/{coll}", h.HandleGetCollection).Methods("GET")
	router.HandleFunc("/collections/{coll}/documents", h.HandleInsert).Methods("POST")
	router.HandleFunc("/collections/{coll}/_bulk", h.HandleBulk).Methods("POST")
	router.HandleFunc("/collections/{coll}/documents/{id}", h.HandleGetById).Methods("GET")
	router.HandleFunc("/collections/{coll}/documents/{id}", h.HandleDeleteById).Methods("DELETE")
	router.HandleFunc("/collections/{coll}/find", h.HandleFindAll).Methods("GET")

	// Indexes and pipelines
	router.HandleFunc("/collections/{coll}/indexes", h.HandleGetIndexes).Methods("GET")
	router.HandleFunc("/collections/{coll}/indexes/{field}", h.HandleCreateIndex).Methods("POST")
	router.HandleFunc("/collections/{coll}/indexes/{field}", h.HandleDropIndex).Methods("DELETE")
	router.HandleFunc("/_ingest/pipeline/{id}", h.HandlePutPipeline).Methods("PUT")
	router.HandleFunc("/_ingest/pipeline/{id}", h.HandleGetPipeline).Methods("GET")

	if h.transforms == nil {
		return
	}
	// _preview is registered before {id} so it is not taken for an id
	router.HandleFunc("/transforms/_preview", h.HandlePreviewTransform).Methods("POST")
	router.HandleFunc("/transforms", h.HandleListTransforms).Methods("GET")
	router.HandleFunc("/transforms/{id}", h.HandlePutTransform).Methods("PUT")
	router.HandleFunc("/transforms/{id}", h.HandleGetTransform).Methods("GET")
	router.HandleFunc("/transforms/{id}", h.HandleDeleteTransform).Methods("DELETE")
	router.HandleFunc("/transforms/{id}/_start", h.HandleStartTransform).Methods("POST")
	router.HandleFunc("/transforms/{id}/_stop", h.HandleStopTransform).Methods("POST")
	router.HandleFunc("/transforms/{id}/_stats", h.HandleTransformStats).Methods("GET")
	router.HandleFunc("/transforms/{id}/_audit", h.HandleTransformAudit).Methods("GET")
}
