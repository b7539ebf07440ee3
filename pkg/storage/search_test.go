package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/adfharrison1/go-pivot/pkg/aggregation"
	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedEvents(t *testing.T, engine *StorageEngine, n int) {
	t.Helper()
	var requests []domain.IndexRequest
	for i := 0; i < n; i++ {
		requests = append(requests, domain.IndexRequest{
			Collection: "events",
			ID:         fmt.Sprintf("e%d", i),
			Source: domain.Document{
				"host":    fmt.Sprintf("h%d", i%5),
				"latency": i,
				"ts":      int64(1000 + i),
			},
		})
	}
	resp, err := engine.Bulk(context.Background(), requests)
	require.NoError(t, err)
	require.False(t, resp.Errors)
}

func hostComposite(size int) *aggregation.Composite {
	return &aggregation.Composite{
		Name:    "_pivot",
		Size:    size,
		Sources: []aggregation.Source{{Name: "host", Type: aggregation.SourceTerms, Field: "host"}},
		Metrics: []aggregation.Metric{{Name: "total", Type: aggregation.MetricSum, Field: "latency"}},
	}
}

func TestSearch_CompositePages(t *testing.T) {
	engine := NewStorageEngine(WithPartitions(3))
	seedEvents(t, engine, 50)

	agg := hostComposite(2)
	resp, err := engine.Search(context.Background(), &domain.SearchRequest{
		Collections: []string{"events"},
		Aggregation: agg,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(50), resp.TotalHits)
	assert.Equal(t, 3, resp.Partitions.Total)
	assert.Equal(t, 3, resp.Partitions.Successful)

	page, err := resp.Composite("_pivot")
	require.NoError(t, err)
	require.Len(t, page.Buckets, 2)
	assert.Equal(t, "h0", page.Buckets[0].Key["host"])
	assert.Equal(t, int64(10), page.Buckets[0].DocCount)
	// 0+5+...+45
	assert.Equal(t, 225.0, page.Buckets[0].Values["total"])
	assert.Equal(t, map[string]interface{}{"host": "h1"}, page.AfterKey)

	// walk the remaining pages
	seen := 2
	after := page.AfterKey
	for {
		agg := hostComposite(2)
		agg.After = after
		resp, err := engine.Search(context.Background(), &domain.SearchRequest{Collections: []string{"events"}, Aggregation: agg})
		require.NoError(t, err)
		page, err := resp.Composite("_pivot")
		require.NoError(t, err)
		if len(page.Buckets) == 0 {
			assert.Nil(t, page.AfterKey)
			break
		}
		seen += len(page.Buckets)
		after = page.AfterKey
	}
	assert.Equal(t, 5, seen)
}

func TestSearch_QueryAndIndexes(t *testing.T) {
	for _, indexed := range []bool{false, true} {
		t.Run(fmt.Sprintf("indexed=%v", indexed), func(t *testing.T) {
			engine := NewStorageEngine()
			seedEvents(t, engine, 50)
			if indexed {
				require.NoError(t, engine.CreateIndex("events", "host"))
			}

			q := query.NewBool(
				query.NewTerms("host", "h1", "h2"),
				&query.Range{Field: "ts", LT: int64(1020)},
			)
			resp, err := engine.Search(context.Background(), &domain.SearchRequest{
				Collections: []string{"events"},
				Query:       q,
				Aggregation: hostComposite(10),
			})
			require.NoError(t, err)
			assert.Equal(t, int64(8), resp.TotalHits)

			page, err := resp.Composite("_pivot")
			require.NoError(t, err)
			require.Len(t, page.Buckets, 2)
			assert.Equal(t, int64(4), page.Buckets[0].DocCount)

			count, err := engine.Count(context.Background(), []string{"events"}, q)
			require.NoError(t, err)
			assert.Equal(t, int64(8), count)
		})
	}
}

func TestSearch_CircuitBreaker(t *testing.T) {
	agg := hostComposite(5)
	perBucket := agg.EstimateBucketBytes()

	// one partition holding five groups needs 5 buckets worth of memory
	engine := NewStorageEngine(WithPartitions(1), WithBreakerLimit(3*perBucket))
	seedEvents(t, engine, 50)

	_, err := engine.Search(context.Background(), &domain.SearchRequest{
		Collections: []string{"events"},
		Aggregation: agg,
	})
	require.Error(t, err)

	var phase *domain.SearchPhaseError
	require.True(t, errors.As(err, &phase))
	require.Len(t, phase.Failures, 1)

	var cbe *domain.CircuitBreakingError
	require.True(t, errors.As(err, &cbe))
	assert.Equal(t, 3*perBucket, cbe.ByteLimit)
	assert.Equal(t, 5*perBucket, cbe.BytesWanted)

	// memory is released after a failed search
	assert.Equal(t, int64(0), engine.Breaker().InUse())

	// a smaller page fits
	resp, err := engine.Search(context.Background(), &domain.SearchRequest{
		Collections: []string{"events"},
		Aggregation: hostComposite(3),
	})
	require.NoError(t, err)
	page, err := resp.Composite("_pivot")
	require.NoError(t, err)
	assert.Len(t, page.Buckets, 3)
	assert.Equal(t, int64(0), engine.Breaker().InUse())
}

func TestSearch_Errors(t *testing.T) {
	engine := NewStorageEngine()
	seedEvents(t, engine, 5)

	_, err := engine.Search(context.Background(), &domain.SearchRequest{Collections: []string{"events"}})
	assert.Error(t, err)

	_, err = engine.Search(context.Background(), &domain.SearchRequest{
		Collections: []string{"events"},
		Aggregation: hostComposite(0),
	})
	assert.Error(t, err)

	_, err = engine.Search(context.Background(), &domain.SearchRequest{
		Collections: []string{"missing"},
		Aggregation: hostComposite(1),
	})
	assert.True(t, errors.Is(err, domain.ErrCollectionNotFound))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = engine.Search(ctx, &domain.SearchRequest{
		Collections: []string{"events"},
		Aggregation: hostComposite(1),
	})
	var phase *domain.SearchPhaseError
	require.True(t, errors.As(err, &phase))
	assert.ErrorIs(t, err, context.Canceled)
}
