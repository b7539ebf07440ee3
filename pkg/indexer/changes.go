package indexer

import (
	"context"
	"fmt"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/query"
	"github.com/adfharrison1/go-pivot/pkg/transform"
)

// detectChanges collects the keys of every terms group that saw documents
// between two checkpoints. nil means the whole checkpoint is recomputed.
func (ix *Indexer) detectChanges(ctx context.Context, old, next *transform.Checkpoint) map[string]map[string]struct{} {
	keys := ix.deps.Pivot.InitialChangeDetectionKeyMap()
	if len(keys) == 0 {
		return nil
	}
	ts := ix.config.TimeSync()
	if ts == nil {
		return nil
	}

	if err := ix.collectChangedGroups(ctx, ts, old, next, keys); err != nil {
		ix.logger.Warn().Err(err).Int64("checkpoint", next.Checkpoint).Msg("change detection failed, recomputing all groups")
		ix.deps.Auditor.Warning(ix.config.ID, transform.ChangeDetectionFailedMessage(next.Checkpoint, err))
		if ix.deps.Metrics != nil {
			ix.deps.Metrics.ChangeDetectionFailed(ix.config.ID)
		}
		return nil
	}
	return keys
}

func (ix *Indexer) collectChangedGroups(ctx context.Context, ts *transform.TimeSyncConfig, old, next *transform.Checkpoint, keys map[string]map[string]struct{}) error {
	q := query.NewBool(ix.sourceQuery, ts.RangeQueryBetween(old, next))

	var after map[string]interface{}
	for {
		agg := ix.deps.Pivot.BuildChangeDetectionAggregation(after, ix.pageSize)
		resp, err := ix.deps.Searcher.Search(ctx, &domain.SearchRequest{
			Collections: ix.config.Source.Index,
			Query:       q,
			Aggregation: agg,
			Size:        0,
		})
		if err != nil {
			return fmt.Errorf("failed to search for changed groups: %w", err)
		}
		page, err := resp.Composite(agg.Name)
		if err != nil {
			return fmt.Errorf("failed to read changed groups: %w", err)
		}
		if len(page.Buckets) == 0 {
			return nil
		}

		for _, bucket := range page.Buckets {
			for name, set := range keys {
				if v, ok := bucket.Key[name]; ok {
					set[query.KeyString(v)] = struct{}{}
				}
			}
		}
		if page.AfterKey == nil {
			return nil
		}
		after = page.AfterKey
	}
}
