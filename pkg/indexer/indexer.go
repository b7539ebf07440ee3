// Package indexer is the core of a pivot transform: it builds the composite
// aggregation searches of one checkpoint, turns result pages into write
// requests, keeps the checkpoint and the set of changed groups of a
// continuous transform and shrinks the page size when searches run out of
// memory.
//
// An Indexer is owned by the goroutine running its cycle and is not safe for
// concurrent use.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/adfharrison1/go-pivot/pkg/aggregation"
	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/logging"
	"github.com/adfharrison1/go-pivot/pkg/pivot"
	"github.com/adfharrison1/go-pivot/pkg/query"
	"github.com/adfharrison1/go-pivot/pkg/transform"
	"github.com/rs/zerolog"
)

// Searcher runs composite aggregation searches
type Searcher interface {
	Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error)
}

// CheckpointProvider issues the checkpoint following last
type CheckpointProvider interface {
	CreateCheckpoint(ctx context.Context, last *transform.Checkpoint) (*transform.Checkpoint, error)
}

// Failer marks the transform as failed
type Failer interface {
	FailIndexer(message string)
}

// Auditor records user visible notifications
type Auditor interface {
	Info(transformID, message string)
	Warning(transformID, message string)
	Error(transformID, message string)
}

// Pivot builds the aggregations of a transform and converts their results
type Pivot interface {
	InitialPageSize() int
	BuildAggregation(after map[string]interface{}, pageSize int) *aggregation.Composite
	BuildChangeDetectionAggregation(after map[string]interface{}, pageSize int) *aggregation.Composite
	InitialChangeDetectionKeyMap() map[string]map[string]struct{}
	ExtractResults(page *aggregation.Page, fieldMappings map[string]string, counter pivot.DocumentCounter) iter.Seq[map[string]interface{}]
	FilterForChangedGroups(changed map[string]map[string]struct{}) query.Query
}

// Metrics receives engine events. A nil Metrics is ignored.
type Metrics interface {
	ChangeDetectionFailed(transformID string)
	PageSizeReduced(transformID string, pageSize int)
}

// Dependencies are the collaborators of an Indexer
type Dependencies struct {
	Pivot       Pivot
	Searcher    Searcher
	Checkpoints CheckpointProvider
	Failer      Failer
	Auditor     Auditor
	Metrics     Metrics
}

// IterationResult is the outcome of processing one page
type IterationResult struct {
	Requests []domain.IndexRequest
	Position map[string]interface{}
	Done     bool
}

// ErrNoCheckpoint is returned when a continuous transform builds a search
// before a checkpoint was adopted
var ErrNoCheckpoint = errors.New("in progress checkpoint not found")

// FatalError stops the cycle and fails the transform
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return fmt.Sprintf("%s: %v", e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Indexer drives the searches of one transform
type Indexer struct {
	config        *transform.Config
	sourceQuery   query.Query
	fieldMappings map[string]string
	deps          Dependencies
	logger        zerolog.Logger

	stats    *transform.IndexerStats
	progress *transform.Progress

	pageSize      int
	checkpoint    *transform.Checkpoint
	changedGroups map[string]map[string]struct{}
}

// Option configures an Indexer
type Option func(*Indexer)

// WithLogger overrides the transform logger
func WithLogger(logger zerolog.Logger) Option {
	return func(ix *Indexer) {
		ix.logger = logger
	}
}

// WithStats continues counting into existing stats
func WithStats(stats *transform.IndexerStats) Option {
	return func(ix *Indexer) {
		if stats != nil {
			ix.stats = stats
		}
	}
}

// WithProgress continues an existing progress
func WithProgress(progress *transform.Progress) Option {
	return func(ix *Indexer) {
		ix.progress = progress
	}
}

// WithCheckpoint resumes from a previously adopted checkpoint
func WithCheckpoint(cp *transform.Checkpoint) Option {
	return func(ix *Indexer) {
		if cp != nil {
			ix.checkpoint = cp
		}
	}
}

// WithFieldMappings overrides the destination field types
func WithFieldMappings(mappings map[string]string) Option {
	return func(ix *Indexer) {
		ix.fieldMappings = mappings
	}
}

// New creates an indexer for a validated transform config
func New(cfg *transform.Config, deps Dependencies, opts ...Option) (*Indexer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("transform config cannot be nil")
	}
	if deps.Pivot == nil || deps.Searcher == nil || deps.Checkpoints == nil || deps.Failer == nil || deps.Auditor == nil {
		return nil, fmt.Errorf("transform [%s]: pivot, searcher, checkpoint provider, failer and auditor are required", cfg.ID)
	}
	sourceQuery, err := cfg.SourceQuery()
	if err != nil {
		return nil, fmt.Errorf("failed to parse source query of transform [%s]: %w", cfg.ID, err)
	}

	ix := &Indexer{
		config:      cfg,
		sourceQuery: sourceQuery,
		deps:        deps,
		logger:      logging.WithTransform(cfg.ID),
		stats:       &transform.IndexerStats{},
		checkpoint:  transform.EmptyCheckpoint(cfg.ID),
	}
	for _, opt := range opts {
		opt(ix)
	}
	if ix.fieldMappings == nil {
		if m, ok := deps.Pivot.(interface{ FieldMappings() map[string]string }); ok {
			ix.fieldMappings = m.FieldMappings()
		}
	}
	return ix, nil
}

// Config returns the transform definition
func (ix *Indexer) Config() *transform.Config {
	return ix.config
}

// Stats returns the live stats. Callers outside the cycle goroutine must copy
// them under the owner's lock.
func (ix *Indexer) Stats() *transform.IndexerStats {
	return ix.stats
}

// Progress returns the progress of the current checkpoint, nil when unknown
func (ix *Indexer) Progress() *transform.Progress {
	return ix.progress
}

// SetProgress replaces the progress of the current checkpoint
func (ix *Indexer) SetProgress(p *transform.Progress) {
	ix.progress = p
}

// PageSize is the current page size, 0 between cycles
func (ix *Indexer) PageSize() int {
	return ix.pageSize
}

// Checkpoint is the in-progress checkpoint, or the last one between cycles
func (ix *Indexer) Checkpoint() *transform.Checkpoint {
	return ix.checkpoint
}

// ChangedGroups is the group keys the current cycle is restricted to, nil
// for a full recompute
func (ix *Indexer) ChangedGroups() map[string]map[string]struct{} {
	return ix.changedGroups
}

// OnStart prepares a cycle. A nil position starts a new checkpoint, a
// non-nil one resumes the held checkpoint at that page.
func (ix *Indexer) OnStart(ctx context.Context, position map[string]interface{}) error {
	if ix.pageSize == 0 {
		ix.pageSize = ix.deps.Pivot.InitialPageSize()
	}
	if position != nil {
		return nil
	}
	return ix.advanceCheckpoint(ctx)
}

// BuildSearchRequest builds the search for the page after position
func (ix *Indexer) BuildSearchRequest(position map[string]interface{}) (*domain.SearchRequest, error) {
	q := ix.sourceQuery
	if ts := ix.config.TimeSync(); ts != nil {
		if ix.checkpoint.IsEmpty() {
			return nil, ErrNoCheckpoint
		}
		filtered := query.NewBool(ix.sourceQuery, ts.RangeQuery(ix.checkpoint))
		if len(ix.changedGroups) > 0 {
			filtered.AddFilter(ix.deps.Pivot.FilterForChangedGroups(ix.changedGroups))
		}
		q = filtered
	}

	return &domain.SearchRequest{
		Collections: ix.config.Source.Index,
		Query:       q,
		Aggregation: ix.deps.Pivot.BuildAggregation(position, ix.pageSize),
		Size:        0,
	}, nil
}

// Process converts one search response into write requests
func (ix *Indexer) Process(resp *domain.SearchResponse) (*IterationResult, error) {
	page, err := resp.Composite(pivot.CompositeAggregationName)
	if err != nil {
		return nil, fmt.Errorf("failed to read search response: %w", err)
	}
	if len(page.Buckets) == 0 {
		return &IterationResult{Done: true}, nil
	}

	docsBefore := ix.stats.NumInputDocuments
	var requests []domain.IndexRequest
	for req, err := range ix.translate(page) {
		if err != nil {
			return nil, err
		}
		requests = append(requests, req)
	}
	if ix.progress != nil {
		ix.progress.DocsProcessed(ix.stats.NumInputDocuments - docsBefore)
	}

	return &IterationResult{
		Requests: requests,
		Position: page.AfterKey,
	}, nil
}

// ResetCheckpoint drops an adopted checkpoint nothing was written for, so
// the next cycle takes a new one from cp
func (ix *Indexer) ResetCheckpoint(cp *transform.Checkpoint) {
	if cp == nil {
		cp = transform.EmptyCheckpoint(ix.config.ID)
	}
	ix.checkpoint = cp
	ix.changedGroups = nil
}

// OnFinish resets the per-cycle state
func (ix *Indexer) OnFinish() {
	ix.pageSize = 0
	ix.changedGroups = nil
}
