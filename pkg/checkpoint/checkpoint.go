// Package checkpoint issues the checkpoints of a transform from the partition
// sequence numbers of its source collections.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/query"
	"github.com/adfharrison1/go-pivot/pkg/transform"
)

// Source exposes what a checkpoint is taken from
type Source interface {
	PartitionSeqNos(collections []string) (map[string][]int64, error)
	Count(ctx context.Context, collections []string, q query.Query) (int64, error)
}

// Service creates checkpoints for one transform
type Service struct {
	source Source
	config *transform.Config
	now    func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithClock sets the clock the time upper bound is taken from
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a checkpoint service
func NewService(source Source, cfg *transform.Config, opts ...Option) *Service {
	s := &Service{
		source: source,
		config: cfg,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateCheckpoint takes the checkpoint following last. Continuous
// transforms bound it by now minus the sync delay.
func (s *Service) CreateCheckpoint(ctx context.Context, last *transform.Checkpoint) (*transform.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seqNos, err := s.source.PartitionSeqNos(s.config.Source.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to read partition sequence numbers: %w", err)
	}

	now := s.now()
	cp := &transform.Checkpoint{
		TransformID: s.config.ID,
		Checkpoint:  1,
		Timestamp:   now.UnixMilli(),
		Partitions:  seqNos,
	}
	if last != nil {
		cp.Checkpoint = last.Checkpoint + 1
	}
	if ts := s.config.TimeSync(); ts != nil {
		cp.TimeUpperBound = now.Add(-ts.Delay.D()).UnixMilli()
	}
	return cp, nil
}

// SourceHasChanged reports whether any source partition was written since
// last, or whether documents held back by the sync delay of last have since
// aged into the window of a new checkpoint. A transform that never ran always
// has changes.
func (s *Service) SourceHasChanged(ctx context.Context, last *transform.Checkpoint) (bool, error) {
	if last.IsEmpty() {
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	seqNos, err := s.source.PartitionSeqNos(s.config.Source.Index)
	if err != nil {
		return false, fmt.Errorf("failed to read partition sequence numbers: %w", err)
	}
	current := &transform.Checkpoint{Checkpoint: last.Checkpoint, Partitions: seqNos}
	if !current.SameSources(last) {
		return true, nil
	}

	ts := s.config.TimeSync()
	if ts == nil {
		return false, nil
	}
	upper := s.now().Add(-ts.Delay.D()).UnixMilli()
	if upper <= last.TimeUpperBound {
		return false, nil
	}
	q, err := s.config.SourceQuery()
	if err != nil {
		return false, err
	}
	window := &transform.Checkpoint{TimeUpperBound: upper}
	count, err := s.source.Count(ctx, s.config.Source.Index, query.NewBool(q, ts.RangeQueryBetween(last, window)))
	if err != nil {
		return false, fmt.Errorf("failed to count delayed source documents: %w", err)
	}
	return count > 0, nil
}

// Progress counts the source documents a checkpoint covers
func (s *Service) Progress(ctx context.Context, cp *transform.Checkpoint) (*transform.Progress, error) {
	q, err := s.config.SourceQuery()
	if err != nil {
		return nil, err
	}
	if ts := s.config.TimeSync(); ts != nil && !cp.IsEmpty() {
		q = query.NewBool(q, ts.RangeQuery(cp))
	}
	total, err := s.source.Count(ctx, s.config.Source.Index, q)
	if err != nil {
		return nil, fmt.Errorf("failed to count source documents: %w", err)
	}
	return transform.NewProgress(total), nil
}
