package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/adfharrison1/go-pivot/pkg/audit"
	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/logging"
	"github.com/adfharrison1/go-pivot/pkg/scheduler"
	"github.com/adfharrison1/go-pivot/pkg/transform"
	"github.com/rs/zerolog"
)

// Transforms manages transform definitions and their tasks
type Transforms interface {
	Put(cfg *transform.Config) (*scheduler.Task, error)
	Get(id string) (*scheduler.Task, error)
	List() []*scheduler.Task
	Delete(id string) error
	Preview(ctx context.Context, cfg *transform.Config) (*scheduler.PreviewResult, error)
}

// Notifications exposes the audit messages of a transform
type Notifications interface {
	Notifications(transformID string) []audit.Notification
}

// Handler provides HTTP handlers for the document and transform APIs
type Handler struct {
	storage       domain.StorageEngine
	indexer       domain.IndexEngine
	transforms    Transforms
	notifications Notifications
	metrics       http.Handler
	logger        zerolog.Logger
}

// HandlerOption configures a Handler
type HandlerOption func(*Handler)

// WithTransforms enables the transform endpoints
func WithTransforms(t Transforms) HandlerOption {
	return func(h *Handler) {
		h.transforms = t
	}
}

// WithNotifications enables the audit endpoint
func WithNotifications(n Notifications) HandlerOption {
	return func(h *Handler) {
		h.notifications = n
	}
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(m http.Handler) HandlerOption {
	return func(h *Handler) {
		h.metrics = m
	}
}

// NewHandler creates a new API handler with dependency injection
func NewHandler(storage domain.StorageEngine, indexer domain.IndexEngine, opts ...HandlerOption) *Handler {
	h := &Handler{
		storage: storage,
		indexer: indexer,
		logger:  logging.WithComponent("api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
