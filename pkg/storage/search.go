package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/adfharrison1/go-pivot/pkg/aggregation"
	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/query"
)

// ctxCheckInterval is how many documents a partition scans between
// cancellation checks
const ctxCheckInterval = 256

type partitionResult struct {
	partial  *aggregation.Partial
	hits     int64
	reserved int64
	failure  *domain.PartitionFailure
}

// Search runs a composite aggregation over the requested collections. Every
// partition is searched concurrently; the memory held by each partition's
// partial result is reserved on the circuit breaker until the page is
// merged. When any partition fails and partial results are not allowed the
// search fails with a *domain.SearchPhaseError.
func (se *StorageEngine) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	start := se.now()

	if req.Aggregation == nil {
		return nil, fmt.Errorf("search request requires an aggregation")
	}
	if err := req.Aggregation.Validate(); err != nil {
		return nil, fmt.Errorf("invalid aggregation: %w", err)
	}
	colls, err := se.resolve(req.Collections)
	if err != nil {
		return nil, err
	}

	q := req.Query
	if q == nil {
		q = query.MatchAll{}
	}

	type target struct {
		coll *collection
		idx  int
	}
	var targets []target
	for _, c := range colls {
		for i := range c.partitions {
			targets = append(targets, target{coll: c, idx: i})
		}
	}

	results := make([]partitionResult, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		wg.Add(1)
		go func(i int, t target) {
			defer wg.Done()
			results[i] = se.searchPartition(ctx, t.coll, t.idx, q, req.Aggregation)
		}(i, t)
	}
	wg.Wait()

	defer func() {
		for _, r := range results {
			se.breaker.Release(r.reserved)
		}
	}()

	resp := &domain.SearchResponse{
		Partitions: domain.PartitionStats{Total: len(targets)},
	}
	var failures []*domain.PartitionFailure
	partials := make([]*aggregation.Partial, 0, len(results))
	for _, r := range results {
		if r.failure != nil {
			failures = append(failures, r.failure)
			continue
		}
		resp.TotalHits += r.hits
		partials = append(partials, r.partial)
	}
	resp.Partitions.Failed = len(failures)
	resp.Partitions.Successful = len(targets) - len(failures)

	if len(failures) > 0 && (!req.AllowPartialResults || len(partials) == 0) {
		return nil, &domain.SearchPhaseError{Phase: "query", Failures: failures}
	}

	page := aggregation.Merge(req.Aggregation, partials...)
	resp.Aggregations = map[string]*aggregation.Page{req.Aggregation.Name: page}
	resp.Took = se.now().Sub(start)
	return resp, nil
}

func (se *StorageEngine) searchPartition(ctx context.Context, coll *collection, idx int, q query.Query, agg *aggregation.Composite) partitionResult {
	fail := func(err error) partitionResult {
		return partitionResult{failure: &domain.PartitionFailure{Collection: coll.name, Partition: idx, Cause: err}}
	}

	p := coll.partitions[idx]
	partial := aggregation.NewPartial(agg)
	var hits int64

	p.mu.RLock()
	candidates, indexed := se.candidates(coll.name, p, q)
	scanned := 0
	visit := func(doc domain.Document) error {
		scanned++
		if scanned%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		if q.Match(doc) {
			hits++
			partial.Collect(doc)
		}
		return nil
	}

	var err error
	if indexed {
		for _, id := range candidates {
			if doc, ok := p.docs[id]; ok {
				if err = visit(doc); err != nil {
					break
				}
			}
		}
	} else {
		for _, doc := range p.docs {
			if err = visit(doc); err != nil {
				break
			}
		}
	}
	p.mu.RUnlock()

	if err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	partial.Trim(agg.Size)
	bytes := int64(partial.Len()) * agg.EstimateBucketBytes()
	if err := se.breaker.Reserve(bytes, fmt.Sprintf("<agg_composite>[%s]", agg.Name)); err != nil {
		return fail(err)
	}

	return partitionResult{partial: partial, hits: hits, reserved: bytes}
}

// candidates narrows a scan with field indexes. indexed is false when no
// term clause of q hits an indexed field and the partition must be scanned
// in full.
func (se *StorageEngine) candidates(collName string, p *partition, q query.Query) ([]string, bool) {
	var lists [][]string
	for _, clause := range query.TermClauses(q) {
		switch c := clause.(type) {
		case *query.Term:
			if index, ok := se.indexEngine.GetIndex(collName, c.Field); ok {
				lists = append(lists, index.Query(c.Value))
			}
		case *query.Terms:
			if index, ok := se.indexEngine.GetIndex(collName, c.Field); ok {
				var ids []string
				for _, v := range c.Values {
					ids = append(ids, index.Query(v)...)
				}
				lists = append(lists, ids)
			}
		}
	}
	if len(lists) == 0 {
		return nil, false
	}
	return IntersectStringSlices(lists...), true
}

// Count returns how many documents of the collections match q
func (se *StorageEngine) Count(ctx context.Context, collections []string, q query.Query) (int64, error) {
	colls, err := se.resolve(collections)
	if err != nil {
		return 0, err
	}
	if q == nil {
		q = query.MatchAll{}
	}

	var total int64
	for _, c := range colls {
		for _, p := range c.partitions {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
			p.mu.RLock()
			candidates, indexed := se.candidates(c.name, p, q)
			if indexed {
				for _, id := range candidates {
					if doc, ok := p.docs[id]; ok && q.Match(doc) {
						total++
					}
				}
			} else {
				for _, doc := range p.docs {
					if q.Match(doc) {
						total++
					}
				}
			}
			p.mu.RUnlock()
		}
	}
	return total, nil
}
