package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/api"
	"github.com/adfharrison1/go-pivot/pkg/audit"
	"github.com/adfharrison1/go-pivot/pkg/config"
	"github.com/adfharrison1/go-pivot/pkg/logging"
	"github.com/adfharrison1/go-pivot/pkg/metrics"
	"github.com/adfharrison1/go-pivot/pkg/scheduler"
	"github.com/adfharrison1/go-pivot/pkg/state"
	"github.com/adfharrison1/go-pivot/pkg/storage"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
)

// Server holds references to storage, scheduler, router, etc.
type Server struct {
	cfg       *config.Config
	router    *mux.Router
	dbEngine  *storage.StorageEngine
	scheduler *scheduler.Scheduler
	logger    zerolog.Logger
}

// NewServer creates a new instance of Server.
func NewServer(cfg *config.Config) (*Server, error) {
	opts, err := cfg.StorageOptions()
	if err != nil {
		return nil, err
	}
	engine := storage.NewStorageEngine(opts...)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewBreakerCollector(engine.Breaker()),
	)
	m, err := metrics.New(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	node := cfg.Scheduler.Node
	if node == "" {
		node, _ = os.Hostname()
	}
	auditor := audit.New(audit.WithWriter(engine))
	sched := scheduler.New(scheduler.Dependencies{
		Backend: engine,
		Auditor: auditor,
		Metrics: m,
		Node:    node,
	},
		scheduler.WithStore(state.NewStore(engine)),
		scheduler.WithTickInterval(cfg.Scheduler.TickInterval),
	)

	s := &Server{
		cfg:       cfg,
		router:    mux.NewRouter(),
		dbEngine:  engine,
		scheduler: sched,
		logger:    logging.WithComponent("server"),
	}

	handler := api.NewHandler(engine, engine,
		api.WithTransforms(sched),
		api.WithNotifications(auditor),
		api.WithMetricsHandler(metrics.Handler(reg)),
	)
	handler.RegisterRoutes(s.router)

	// Use the logging middleware for all routes
	s.router.Use(s.requestLoggerMiddleware)

	// Customize NotFoundHandler to log 404s
	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Warn().Str("method", r.Method).Str("path", r.URL.Path).Msg("no route found")
		api.WriteJSONError(w, http.StatusNotFound, "no route found for "+r.Method+" "+r.URL.Path)
	})

	return s, nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLoggerMiddleware logs the method, URL path, status and duration for each request.
func (s *Server) requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// InitDB loads the snapshot file and the stored transforms. A missing
// snapshot starts an empty store.
func (s *Server) InitDB() error {
	if file := s.cfg.Storage.DataFile; file != "" {
		if err := s.dbEngine.LoadFromFile(file); err != nil {
			return fmt.Errorf("could not load snapshot %s: %w", file, err)
		}
		s.logger.Info().Str("file", file).Int("collections", len(s.dbEngine.ListCollections())).Msg("loaded data")
	}
	return s.scheduler.Restore()
}

// LoadTransforms creates the transforms defined in the configured YAML
// paths. Transforms that already exist are left untouched.
func (s *Server) LoadTransforms() error {
	cfgs, err := config.LoadTransforms(s.cfg.Transforms.Paths)
	if err != nil {
		return err
	}
	for _, cfg := range cfgs {
		task, err := s.scheduler.Put(cfg)
		if errors.Is(err, scheduler.ErrExists) {
			s.logger.Debug().Str("transform_id", cfg.ID).Msg("transform already exists")
			continue
		}
		if err != nil {
			return err
		}
		if s.cfg.Transforms.AutoStart {
			if err := task.Start(); err != nil {
				return err
			}
		}
	}
	return nil
}

// Start starts the background workers
func (s *Server) Start() {
	s.dbEngine.StartBackgroundWorkers()
	s.scheduler.Start()
}

// Shutdown stops the scheduler and writes the final snapshot. Running cycles
// finish the page in flight and are suspended at their position, they resume
// after the next InitDB.
func (s *Server) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.scheduler.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn().Msg("transforms did not stop in time")
	}
	s.dbEngine.StopBackgroundWorkers()
}

// Router exposes the internal mux.Router.
func (s *Server) Router() http.Handler {
	return s.router
}

// Scheduler exposes the transform scheduler.
func (s *Server) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// Storage exposes the document store.
func (s *Server) Storage() *storage.StorageEngine {
	return s.dbEngine
}
