package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/adfharrison1/go-pivot/pkg/audit"
	"github.com/adfharrison1/go-pivot/pkg/transform"
	"github.com/gorilla/mux"
)

// TransformResponse describes one transform
type TransformResponse struct {
	Config *transform.Config   `json:"config"`
	State  transform.TaskState `json:"state"`
}

func decodeTransform(r *http.Request) (*transform.Config, error) {
	var cfg transform.Config
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid transform definition: %w", err)
	}
	return &cfg, nil
}

// HandlePutTransform creates a transform. The id of the path wins over the
// one of the body.
func (h *Handler) HandlePutTransform(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	cfg, err := decodeTransform(r)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if cfg.ID != "" && cfg.ID != id {
		WriteJSONError(w, http.StatusBadRequest, fmt.Sprintf("body id [%s] does not match path id [%s]", cfg.ID, id))
		return
	}
	cfg.ID = id

	task, err := h.transforms.Put(cfg)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		WriteJSONError(w, status, err.Error())
		return
	}
	h.logger.Info().Str("transform_id", id).Msg("created transform")
	writeJSON(w, http.StatusCreated, TransformResponse{Config: task.Config(), State: task.TaskState()})
}

// HandleGetTransform returns the definition of a transform
func (h *Handler) HandleGetTransform(w http.ResponseWriter, r *http.Request) {
	task, err := h.transforms.Get(mux.Vars(r)["id"])
	if err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, TransformResponse{Config: task.Config(), State: task.TaskState()})
}

// HandleListTransforms returns every transform ordered by id
func (h *Handler) HandleListTransforms(w http.ResponseWriter, r *http.Request) {
	tasks := h.transforms.List()
	out := make([]TransformResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, TransformResponse{Config: t.Config(), State: t.TaskState()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":      len(out),
		"transforms": out,
	})
}

// HandleDeleteTransform deletes a stopped transform
func (h *Handler) HandleDeleteTransform(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.transforms.Delete(id); err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	h.logger.Info().Str("transform_id", id).Msg("deleted transform")
	writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
}

// HandleStartTransform lets the scheduler run a transform
func (h *Handler) HandleStartTransform(w http.ResponseWriter, r *http.Request) {
	task, err := h.transforms.Get(mux.Vars(r)["id"])
	if err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	if err := task.Start(); err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
}

// HandleStopTransform stops a transform after its current page
func (h *Handler) HandleStopTransform(w http.ResponseWriter, r *http.Request) {
	task, err := h.transforms.Get(mux.Vars(r)["id"])
	if err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	task.Stop()
	if r.URL.Query().Get("wait_for_completion") == "true" {
		task.Wait()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
}

// HandleTransformStats returns the state, checkpoints and counters of a transform
func (h *Handler) HandleTransformStats(w http.ResponseWriter, r *http.Request) {
	task, err := h.transforms.Get(mux.Vars(r)["id"])
	if err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task.Stats())
}

// HandleTransformAudit returns the notifications of a transform, newest first
func (h *Handler) HandleTransformAudit(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, err := h.transforms.Get(id); err != nil {
		WriteJSONError(w, statusFor(err), err.Error())
		return
	}
	notifications := []audit.Notification{}
	if h.notifications != nil {
		notifications = append(notifications, h.notifications.Notifications(id)...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":         len(notifications),
		"notifications": notifications,
	})
}

// HandlePreviewTransform returns the rows the first page of a definition
// would write, without writing them
func (h *Handler) HandlePreviewTransform(w http.ResponseWriter, r *http.Request) {
	cfg, err := decodeTransform(r)
	if err != nil {
		WriteJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	result, err := h.transforms.Preview(r.Context(), cfg)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadRequest
		}
		WriteJSONError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}
