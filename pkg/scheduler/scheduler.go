// Package scheduler runs transforms: a Task per transform owns the
// start/stop state machine and the indexing cycle, the Scheduler triggers
// every started task at its frequency and keeps the registry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/logging"
	"github.com/adfharrison1/go-pivot/pkg/pivot"
	"github.com/adfharrison1/go-pivot/pkg/state"
	"github.com/adfharrison1/go-pivot/pkg/transform"
	"github.com/rs/zerolog"
)

// PreviewSize is the number of rows a preview returns at most
const PreviewSize = 100

// DefaultTickInterval is how often due tasks are looked for
const DefaultTickInterval = time.Second

var (
	ErrNotFound   = errors.New("transform not found")
	ErrExists     = errors.New("transform already exists")
	ErrNotStopped = errors.New("transform is not stopped")
)

// Store persists transform definitions next to their state
type Store interface {
	StateStore
	PutConfig(cfg *transform.Config) error
	ListConfigs() ([]*transform.Config, error)
	GetState(id string) (*state.StoredState, error)
	GetCheckpoint(id string, n int64) (*transform.Checkpoint, error)
	Delete(id string) error
}

// Scheduler keeps the transforms of the process
type Scheduler struct {
	mu    sync.RWMutex
	tasks map[string]*Task

	deps   Dependencies
	store  Store
	tick   time.Duration
	now    func() time.Time
	logger zerolog.Logger

	ctx          context.Context
	cancel       context.CancelFunc
	backgroundWg sync.WaitGroup
	stopChan     chan struct{}
	stopOnce     sync.Once
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithStore persists transforms in store
func WithStore(store Store) Option {
	return func(s *Scheduler) {
		s.store = store
		s.deps.Store = store
	}
}

// WithTickInterval sets how often due tasks are looked for
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tick = d
		}
	}
}

// WithClock sets the clock new transforms are stamped with
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler. Call Start to begin triggering tasks.
func New(deps Dependencies, opts ...Option) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	deps.halt = new(atomic.Bool)
	s := &Scheduler{
		tasks:    make(map[string]*Task),
		deps:     deps,
		tick:     DefaultTickInterval,
		now:      time.Now,
		logger:   logging.WithComponent("scheduler"),
		ctx:      ctx,
		cancel:   cancel,
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put registers a new transform in the stopped state
func (s *Scheduler) Put(cfg *transform.Config) (*Task, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[cfg.ID]; exists {
		return nil, fmt.Errorf("transform [%s]: %w", cfg.ID, ErrExists)
	}
	if cfg.CreateTime == 0 {
		cfg.CreateTime = s.now().UnixMilli()
	}

	task, err := NewTask(cfg, s.deps)
	if err != nil {
		return nil, err
	}
	if s.store != nil {
		if err := s.store.PutConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to persist transform [%s]: %w", cfg.ID, err)
		}
	}
	s.tasks[cfg.ID] = task
	s.deps.Auditor.Info(cfg.ID, transform.CreatedMessage())
	s.logger.Info().Str("transform_id", cfg.ID).Bool("continuous", cfg.IsContinuous()).Msg("transform created")
	return task, nil
}

// Get returns the task of a transform
func (s *Scheduler) Get(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("transform [%s]: %w", id, ErrNotFound)
	}
	return task, nil
}

// List returns every task ordered by id
func (s *Scheduler) List() []*Task {
	s.mu.RLock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Delete removes a stopped transform and everything stored for it
func (s *Scheduler) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("transform [%s]: %w", id, ErrNotFound)
	}
	if task.IndexerState() != transform.IndexerStopped {
		return fmt.Errorf("transform [%s] is %s: %w", id, task.IndexerState(), ErrNotStopped)
	}
	task.Wait()

	if s.store != nil {
		if err := s.store.Delete(id); err != nil {
			return fmt.Errorf("failed to delete transform [%s]: %w", id, err)
		}
	}
	delete(s.tasks, id)
	if f, ok := s.deps.Auditor.(interface{ Forget(string) }); ok {
		f.Forget(id)
	}
	s.deps.Metrics.Forget(id)
	return nil
}

// Restore loads every stored transform. Tasks that were started resume at
// their stored position once the scheduler runs.
func (s *Scheduler) Restore() error {
	if s.store == nil {
		return nil
	}
	configs, err := s.store.ListConfigs()
	if err != nil {
		return fmt.Errorf("failed to load transforms: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range configs {
		if _, exists := s.tasks[cfg.ID]; exists {
			continue
		}
		task, err := s.restoreTask(cfg)
		if err != nil {
			return err
		}
		s.tasks[cfg.ID] = task
	}
	s.logger.Info().Int("transforms", len(configs)).Msg("restored transforms")
	return nil
}

func (s *Scheduler) restoreTask(cfg *transform.Config) (*Task, error) {
	st, err := s.store.GetState(cfg.ID)
	if errors.Is(err, state.ErrNotFound) {
		return NewTask(cfg, s.deps)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state of transform [%s]: %w", cfg.ID, err)
	}

	last, err := s.store.GetCheckpoint(cfg.ID, st.Checkpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %d of transform [%s]: %w", st.Checkpoint, cfg.ID, err)
	}
	var inProgress *transform.Checkpoint
	if st.Position != nil {
		inProgress, err = s.store.GetCheckpoint(cfg.ID, st.Checkpoint+1)
		if err != nil && !errors.Is(err, state.ErrNotFound) {
			return nil, fmt.Errorf("failed to load checkpoint %d of transform [%s]: %w", st.Checkpoint+1, cfg.ID, err)
		}
	}
	return NewTask(cfg, s.deps, WithStoredState(st, last, inProgress))
}

// Start runs the trigger worker
func (s *Scheduler) Start() {
	s.backgroundWg.Add(1)
	go func() {
		defer s.backgroundWg.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.triggerDue()
			case <-s.stopChan:
				return
			}
		}
	}()
}

// Stop stops the trigger worker and waits for running cycles to finish
// their current page. A cycle does not start another page once Stop is
// called; tasks keep their persisted state and position and resume on the
// next Restore.
func (s *Scheduler) Stop() {
	s.deps.halt.Store(true)
	s.stopOnce.Do(func() {
		close(s.stopChan)
	})
	s.backgroundWg.Wait()

	for _, t := range s.List() {
		t.Wait()
	}
	s.cancel()
}

// TriggerNow starts a cycle of every started task regardless of frequency
func (s *Scheduler) TriggerNow() int {
	n := 0
	for _, t := range s.List() {
		if t.Trigger(s.ctx) {
			n++
		}
	}
	return n
}

func (s *Scheduler) triggerDue() {
	now := time.Now()
	for _, t := range s.List() {
		if t.due(now) && t.Trigger(s.ctx) {
			s.logger.Debug().Str("transform_id", t.ID()).Msg("triggered")
		}
	}
}

// PreviewResult holds the first rows a transform would write
type PreviewResult struct {
	Rows     []map[string]interface{} `json:"preview"`
	Mappings map[string]string        `json:"mappings"`
}

// Preview runs the first page of a transform definition without writing
func (s *Scheduler) Preview(ctx context.Context, cfg *transform.Config) (*PreviewResult, error) {
	if cfg.ID == "" {
		cfg.ID = "preview"
	}
	if cfg.Dest.Index == "" {
		cfg.Dest.Index = "preview"
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	p, err := pivot.New(cfg.Pivot)
	if err != nil {
		return nil, err
	}
	q, err := cfg.SourceQuery()
	if err != nil {
		return nil, err
	}

	agg := p.BuildAggregation(nil, PreviewSize)
	resp, err := s.deps.Backend.Search(ctx, &domain.SearchRequest{
		Collections: cfg.Source.Index,
		Query:       q,
		Aggregation: agg,
		Size:        0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search for preview: %w", err)
	}
	page, err := resp.Composite(agg.Name)
	if err != nil {
		return nil, err
	}

	mappings := p.FieldMappings()
	result := &PreviewResult{Rows: []map[string]interface{}{}, Mappings: mappings}
	for row := range p.ExtractResults(page, mappings, nil) {
		for field := range row {
			if strings.HasPrefix(field, "_") {
				delete(row, field)
			}
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}
