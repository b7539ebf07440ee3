package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adfharrison1/go-pivot/internal/logctx"
	"github.com/adfharrison1/go-pivot/pkg/checkpoint"
	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/indexer"
	"github.com/adfharrison1/go-pivot/pkg/logging"
	"github.com/adfharrison1/go-pivot/pkg/metrics"
	"github.com/adfharrison1/go-pivot/pkg/pivot"
	"github.com/adfharrison1/go-pivot/pkg/state"
	"github.com/adfharrison1/go-pivot/pkg/transform"
	"github.com/rs/zerolog"
)

// Writer upserts destination documents
type Writer interface {
	Bulk(ctx context.Context, requests []domain.IndexRequest) (*domain.BulkResponse, error)
}

// Backend is the storage a transform reads from and writes to
type Backend interface {
	indexer.Searcher
	Writer
	checkpoint.Source
}

// StateStore persists task state and checkpoints. It may be nil.
type StateStore interface {
	PutState(st *state.StoredState) error
	PutCheckpoint(cp *transform.Checkpoint) error
}

// Dependencies are shared by every task of a scheduler
type Dependencies struct {
	Backend Backend
	Store   StateStore
	Auditor indexer.Auditor
	Metrics *metrics.Metrics
	Node    string

	// set by the scheduler when the process shuts down
	halt *atomic.Bool
}

var allIndexerStates = []string{
	string(transform.IndexerStarted),
	string(transform.IndexerIndexing),
	string(transform.IndexerStopping),
	string(transform.IndexerStopped),
	string(transform.IndexerAborting),
}

// ErrTaskFailed is returned when starting a failed transform
var ErrTaskFailed = errors.New("transform is failed")

// Task runs the cycles of one transform. A cycle is admitted only by the
// STARTED -> INDEXING transition, so at most one runs at a time. Everything
// the cycle touches is owned by its goroutine; readers get copies published
// under mu.
type Task struct {
	config      *transform.Config
	indexer     *indexer.Indexer
	checkpoints *checkpoint.Service
	deps        Dependencies
	logger      zerolog.Logger

	indexerState atomic.Value // transform.IndexerState
	cycles       sync.WaitGroup

	// owned by the cycle goroutine
	position       map[string]interface{}
	lastCheckpoint *transform.Checkpoint

	mu               sync.Mutex
	taskState        transform.TaskState
	reason           string
	lastTrigger      time.Time
	published        transform.IndexerStats
	publishedProg    *transform.Progress
	publishedPos     map[string]interface{}
	publishedLast    *transform.Checkpoint
	publishedNext    *transform.Checkpoint
	operationsBehind int64
}

// TaskOption configures a Task
type TaskOption func(*taskOptions)

type taskOptions struct {
	stored     *state.StoredState
	last       *transform.Checkpoint
	inProgress *transform.Checkpoint
	clock      func() time.Time
}

// WithStoredState resumes a task from persisted state
func WithStoredState(st *state.StoredState, last, inProgress *transform.Checkpoint) TaskOption {
	return func(o *taskOptions) {
		o.stored = st
		o.last = last
		o.inProgress = inProgress
	}
}

// WithTaskClock sets the clock checkpoints are taken with
func WithTaskClock(now func() time.Time) TaskOption {
	return func(o *taskOptions) {
		o.clock = now
	}
}

// NewTask creates a stopped task, or restores one from stored state
func NewTask(cfg *transform.Config, deps Dependencies, opts ...TaskOption) (*Task, error) {
	if deps.Backend == nil || deps.Auditor == nil {
		return nil, fmt.Errorf("transform [%s]: backend and auditor are required", cfg.ID)
	}
	o := &taskOptions{}
	for _, opt := range opts {
		opt(o)
	}

	p, err := pivot.New(cfg.Pivot)
	if err != nil {
		return nil, fmt.Errorf("failed to build pivot of transform [%s]: %w", cfg.ID, err)
	}
	var cpOpts []checkpoint.Option
	if o.clock != nil {
		cpOpts = append(cpOpts, checkpoint.WithClock(o.clock))
	}

	t := &Task{
		config:         cfg,
		checkpoints:    checkpoint.NewService(deps.Backend, cfg, cpOpts...),
		deps:           deps,
		logger:         logging.WithTransform(cfg.ID),
		taskState:      transform.TaskStopped,
		lastCheckpoint: transform.EmptyCheckpoint(cfg.ID),
	}
	t.indexerState.Store(transform.IndexerStopped)

	ixOpts := []indexer.Option{indexer.WithLogger(t.logger)}
	if st := o.stored; st != nil {
		stats := st.Stats
		ixOpts = append(ixOpts, indexer.WithStats(&stats), indexer.WithProgress(st.Progress))
		t.taskState = st.TaskState
		t.reason = st.Reason
		t.position = st.Position
		if st.TaskState == transform.TaskStarted {
			// a cycle interrupted by a restart resumes at its position
			t.indexerState.Store(transform.IndexerStarted)
		}
	}
	if o.last != nil {
		t.lastCheckpoint = o.last
	}
	current := t.lastCheckpoint
	if t.position != nil && o.inProgress != nil {
		current = o.inProgress
	} else {
		t.position = nil
	}
	ixOpts = append(ixOpts, indexer.WithCheckpoint(current))

	ix, err := indexer.New(cfg, indexer.Dependencies{
		Pivot:       p,
		Searcher:    deps.Backend,
		Checkpoints: t.checkpoints,
		Failer:      t,
		Auditor:     deps.Auditor,
		Metrics:     deps.Metrics,
	}, ixOpts...)
	if err != nil {
		return nil, err
	}
	t.indexer = ix
	t.publish()
	return t, nil
}

// ID is the transform id
func (t *Task) ID() string {
	return t.config.ID
}

// Config is the transform definition
func (t *Task) Config() *transform.Config {
	return t.config
}

// IndexerState is the current state of the run loop
func (t *Task) IndexerState() transform.IndexerState {
	return t.indexerState.Load().(transform.IndexerState)
}

// TaskState is the externally visible state
func (t *Task) TaskState() transform.TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taskState
}

// Start lets the scheduler trigger cycles
func (t *Task) Start() error {
	t.mu.Lock()
	if t.taskState == transform.TaskFailed {
		reason := t.reason
		t.mu.Unlock()
		return fmt.Errorf("unable to start transform [%s]: %w: %s", t.config.ID, ErrTaskFailed, reason)
	}
	t.taskState = transform.TaskStarted
	t.mu.Unlock()

	for {
		s := t.IndexerState()
		if s == transform.IndexerStarted || s == transform.IndexerIndexing {
			break
		}
		if s == transform.IndexerStopping {
			// the running cycle keeps going
			if t.indexerState.CompareAndSwap(s, transform.IndexerIndexing) {
				break
			}
			continue
		}
		if t.indexerState.CompareAndSwap(s, transform.IndexerStarted) {
			break
		}
	}
	t.deps.Auditor.Info(t.config.ID, transform.StartedMessage())
	t.setStateMetric()
	t.persist()
	return nil
}

// Stop stops the task. A running cycle stops after its current page.
func (t *Task) Stop() {
	t.mu.Lock()
	wasFailed := t.taskState == transform.TaskFailed
	t.taskState = transform.TaskStopped
	t.reason = ""
	t.mu.Unlock()

	for {
		s := t.IndexerState()
		var next transform.IndexerState
		switch s {
		case transform.IndexerIndexing:
			next = transform.IndexerStopping
		case transform.IndexerStarted:
			next = transform.IndexerStopped
		default:
			next = s
		}
		if next == s || t.indexerState.CompareAndSwap(s, next) {
			break
		}
	}
	if !wasFailed {
		t.deps.Auditor.Info(t.config.ID, transform.StoppedMessage())
	}
	t.setStateMetric()
	t.persist()
}

// due reports whether the frequency has passed since the last trigger
func (t *Task) due(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastTrigger.IsZero() || now.Sub(t.lastTrigger) >= t.config.Frequency.D()
}

// Wait blocks until the running cycle, if any, has finished
func (t *Task) Wait() {
	t.cycles.Wait()
}

// Trigger starts a cycle in its own goroutine unless one is running or the
// task is not started. It reports whether a cycle was started.
func (t *Task) Trigger(ctx context.Context) bool {
	if t.TaskState() != transform.TaskStarted || t.halted() {
		return false
	}
	if !t.indexerState.CompareAndSwap(transform.IndexerStarted, transform.IndexerIndexing) {
		return false
	}
	t.mu.Lock()
	t.lastTrigger = time.Now()
	t.mu.Unlock()
	t.setStateMetric()

	t.cycles.Add(1)
	go func() {
		defer t.cycles.Done()
		t.runCycle(ctx)
	}()
	return true
}

// FailIndexer marks the task failed. The running cycle ends after the
// current step.
func (t *Task) FailIndexer(message string) {
	t.mu.Lock()
	t.taskState = transform.TaskFailed
	t.reason = message
	t.mu.Unlock()

	t.logger.Error().Str("reason", message).Msg("transform failed")
	t.deps.Auditor.Error(t.config.ID, transform.FailedMessage(message))
}

func (t *Task) failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.taskState == transform.TaskFailed
}

func (t *Task) halted() bool {
	return t.deps.halt != nil && t.deps.halt.Load()
}

// endCycle leaves INDEXING for next. A stop that is still pending or a
// failure ends in STOPPED instead; a restart after the stop keeps next.
func (t *Task) endCycle(next transform.IndexerState) {
	if t.failed() {
		next = transform.IndexerStopped
	}
	for {
		s := t.IndexerState()
		target := next
		if s == transform.IndexerStopping {
			target = transform.IndexerStopped
		}
		if t.indexerState.CompareAndSwap(s, target) {
			break
		}
	}
	t.setStateMetric()
	t.publish()
	t.persist()
}

func (t *Task) runCycle(ctx context.Context) {
	ctx = logctx.WithStr(logctx.WithLogger(ctx, t.logger), "dest", t.config.Dest.Index)
	ix := t.indexer
	ix.Stats().NumInvocations++

	if t.position == nil {
		if !t.lastCheckpoint.IsEmpty() && !t.config.IsContinuous() {
			// a batch transform is done after its first checkpoint
			t.mu.Lock()
			t.taskState = transform.TaskStopped
			t.mu.Unlock()
			t.endCycle(transform.IndexerStopped)
			return
		}
		if !t.lastCheckpoint.IsEmpty() {
			changed, err := t.checkpoints.SourceHasChanged(ctx, t.lastCheckpoint)
			if err != nil {
				logger := logctx.FromContext(ctx)
				logger.Warn().Err(err).Msg("failed to check the source for changes")
				t.endCycle(transform.IndexerStarted)
				return
			}
			if !changed {
				t.endCycle(transform.IndexerStarted)
				return
			}
		}
	}

	if err := ix.OnStart(ctx, t.position); err != nil {
		logger := logctx.FromContext(ctx)
		logger.Warn().Err(err).Msg("failed to start cycle")
		t.deps.Auditor.Warning(t.config.ID, err.Error())
		t.endCycle(transform.IndexerStarted)
		return
	}
	if t.position == nil {
		t.beginCheckpoint(ctx)
	}
	ctx = logctx.WithInt64(ctx, "checkpoint", ix.Checkpoint().Checkpoint)

	for {
		if t.halted() {
			t.suspendCycle(ctx)
			return
		}
		if t.IndexerState() == transform.IndexerStopping || t.failed() {
			// Start may have resumed the cycle since, endCycle decides
			t.endCycle(transform.IndexerStarted)
			return
		}

		done, err := t.processPage(ctx)
		if err != nil {
			var fatal *indexer.FatalError
			if errors.As(err, &fatal) {
				if !t.failed() {
					t.FailIndexer(fatal.Reason)
				}
				t.endCycle(transform.IndexerStopped)
				return
			}
			t.abortCycle(ctx, err)
			return
		}
		if done {
			t.finishCheckpoint(ctx)
			return
		}
	}
}

// beginCheckpoint records the adopted checkpoint so a restart can resume it
func (t *Task) beginCheckpoint(ctx context.Context) {
	ix := t.indexer
	next := ix.Checkpoint()
	if t.deps.Store != nil {
		if err := t.deps.Store.PutCheckpoint(next); err != nil {
			logger := logctx.FromContext(ctx)
			logger.Warn().Err(err).Int64("checkpoint", next.Checkpoint).Msg("failed to persist checkpoint")
		}
	}
	progress, err := t.checkpoints.Progress(ctx, next)
	if err != nil {
		logger := logctx.FromContext(ctx)
		logger.Debug().Err(err).Msg("failed to compute progress")
		progress = nil
	}
	ix.SetProgress(progress)
	t.mu.Lock()
	t.operationsBehind = transform.OperationsBehind(t.lastCheckpoint, next)
	t.mu.Unlock()
}

// processPage searches, translates and writes one page. It reports true
// when the checkpoint has no pages left.
func (t *Task) processPage(ctx context.Context) (bool, error) {
	ix := t.indexer
	stats := ix.Stats()

	req, err := ix.BuildSearchRequest(t.position)
	if err != nil {
		return false, err
	}

	var resp *domain.SearchResponse
	for {
		stats.MarkStartSearch()
		start := time.Now()
		resp, err = t.deps.Backend.Search(ctx, req)
		took := time.Since(start)
		stats.MarkEndSearch(took)
		t.deps.Metrics.ObserveSearch(t.config.ID, took)
		if err == nil {
			break
		}
		_, handled, serr := ix.TryShrink(err)
		if !handled || serr != nil {
			return false, serr
		}
		// retry the same page with the smaller size
		if req, err = ix.BuildSearchRequest(t.position); err != nil {
			return false, err
		}
	}

	before := stats.NumInputDocuments
	result, err := ix.Process(resp)
	if err != nil {
		return false, err
	}
	if result.Done {
		return true, nil
	}

	written := int64(len(result.Requests))
	if len(result.Requests) > 0 {
		stats.MarkStartIndexing()
		start := time.Now()
		bulk, err := t.deps.Backend.Bulk(ctx, result.Requests)
		took := time.Since(start)
		stats.MarkEndIndexing(took)
		t.deps.Metrics.ObserveBulk(t.config.ID, took)
		if err != nil {
			stats.IndexFailures++
			t.deps.Metrics.IndexFailed(t.config.ID)
			return false, fmt.Errorf("failed to index into [%s]: %w", t.config.Dest.Index, err)
		}
		if bulk.Errors {
			failed := int64(0)
			for _, item := range bulk.Items {
				if item.Error != "" {
					failed++
				}
			}
			written -= failed
			stats.IndexFailures++
			t.deps.Metrics.IndexFailed(t.config.ID)
			t.deps.Auditor.Warning(t.config.ID, transform.BulkFailedMessage(t.config.Dest.Index, bulk.FailureMessage()))
		}
	}

	stats.NumPages++
	stats.NumOutputDocuments += written
	t.deps.Metrics.PageProcessed(t.config.ID, stats.NumInputDocuments-before, written)

	t.position = result.Position
	t.publish()
	t.persist()
	return false, nil
}

// abortCycle ends a cycle after a retryable error. The next trigger retries
// from the same position.
func (t *Task) abortCycle(ctx context.Context, err error) {
	ix := t.indexer
	ix.Stats().SearchFailures++
	t.deps.Metrics.SearchFailed(t.config.ID)
	logger := logctx.FromContext(ctx)
	logger.Warn().Err(err).Msg("cycle failed, retrying on the next trigger")
	t.deps.Auditor.Warning(t.config.ID, transform.SearchFailedMessage(err))

	if t.position == nil {
		// nothing of the new checkpoint was written, take it again next time
		ix.ResetCheckpoint(t.lastCheckpoint)
	}
	t.endCycle(transform.IndexerStarted)
}

// suspendCycle ends a cycle between pages because the process shuts down.
// The task state and position are persisted untouched so Restore resumes
// the checkpoint where it stopped.
func (t *Task) suspendCycle(ctx context.Context) {
	if t.position == nil {
		t.indexer.ResetCheckpoint(t.lastCheckpoint)
	}
	logger := logctx.FromContext(ctx)
	logger.Info().Interface("position", t.position).Msg("shutting down, cycle suspended")
	t.endCycle(transform.IndexerStarted)
}

func (t *Task) finishCheckpoint(ctx context.Context) {
	ix := t.indexer
	cp := ix.Checkpoint()
	t.lastCheckpoint = cp
	t.position = nil
	ix.OnFinish()

	logger := logctx.FromContext(ctx)
	logger.Info().Msg("finished checkpoint")
	t.deps.Auditor.Info(t.config.ID, transform.FinishedCheckpointMessage(cp.Checkpoint))
	t.deps.Metrics.CheckpointCompleted(t.config.ID, cp.Checkpoint)

	t.mu.Lock()
	t.operationsBehind = 0
	t.mu.Unlock()

	if !t.config.IsContinuous() {
		t.deps.Auditor.Info(t.config.ID, transform.FinishedBatchMessage())
		t.mu.Lock()
		if t.taskState == transform.TaskStarted {
			t.taskState = transform.TaskStopped
		}
		t.mu.Unlock()
		t.endCycle(transform.IndexerStopped)
		return
	}
	t.endCycle(transform.IndexerStarted)
}

// publish copies the cycle-owned fields for readers
func (t *Task) publish() {
	ix := t.indexer
	t.mu.Lock()
	defer t.mu.Unlock()
	t.published = *ix.Stats()
	if p := ix.Progress(); p != nil {
		cp := *p
		t.publishedProg = &cp
	} else {
		t.publishedProg = nil
	}
	t.publishedPos = t.position
	t.publishedLast = t.lastCheckpoint
	t.publishedNext = nil
	if next := ix.Checkpoint(); next != nil && next.Checkpoint > t.lastCheckpoint.Checkpoint {
		t.publishedNext = next
	}
}

func (t *Task) storedState() *state.StoredState {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := &state.StoredState{
		TransformID:  t.config.ID,
		TaskState:    t.taskState,
		IndexerState: t.IndexerState(),
		Reason:       t.reason,
		Position:     t.publishedPos,
		Stats:        t.published,
	}
	if t.publishedLast != nil {
		st.Checkpoint = t.publishedLast.Checkpoint
	}
	if t.publishedProg != nil {
		p := *t.publishedProg
		st.Progress = &p
	}
	return st
}

func (t *Task) persist() {
	if t.deps.Store == nil {
		return
	}
	if err := t.deps.Store.PutState(t.storedState()); err != nil {
		t.logger.Warn().Err(err).Msg("failed to persist transform state")
	}
}

func (t *Task) setStateMetric() {
	t.deps.Metrics.SetState(t.config.ID, string(t.IndexerState()), allIndexerStates)
}

// Stats returns a snapshot of the task for the stats API
func (t *Task) Stats() *transform.Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := &transform.Stats{
		ID:           t.config.ID,
		State:        t.taskState,
		IndexerState: t.IndexerState(),
		Reason:       t.reason,
		Node:         t.deps.Node,
		Indexer:      t.published,
	}
	if t.taskState != transform.TaskStarted && t.taskState != transform.TaskFailed {
		out.AssignmentExplanation = "transform is not started"
	}
	if t.publishedLast != nil {
		out.Checkpointing.Last = transform.CheckpointStats{
			Checkpoint:     t.publishedLast.Checkpoint,
			Timestamp:      t.publishedLast.Timestamp,
			TimeUpperBound: t.publishedLast.TimeUpperBound,
		}
	}
	if next := t.publishedNext; next != nil {
		stats := &transform.CheckpointStats{
			Checkpoint:     next.Checkpoint,
			Timestamp:      next.Timestamp,
			TimeUpperBound: next.TimeUpperBound,
		}
		if pos, err := domain.EncodePosition(t.publishedPos); err == nil {
			stats.Position = pos
		}
		if t.publishedProg != nil {
			p := *t.publishedProg
			stats.Progress = &p
			pct := p.PercentComplete()
			out.ProgressPercent = &pct
		}
		out.Checkpointing.Next = stats
		out.Checkpointing.OperationsBehind = t.operationsBehind
	}
	return out
}
