package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/google/uuid"
)

// Insert inserts a document into a collection, creating the collection on
// first use. A document without an _id gets a generated one. Inserting an
// existing id replaces the document.
func (se *StorageEngine) Insert(collName string, doc domain.Document) (domain.Document, error) {
	id := doc.ID()
	if id == "" {
		id = uuid.NewString()
	}

	coll, err := se.getOrCreateCollection(collName)
	if err != nil {
		return nil, err
	}

	stored := doc.Clone()
	se.put(coll, id, stored)
	return stored.Clone(), nil
}

// put upserts a document and reports whether it replaced an existing one
func (se *StorageEngine) put(coll *collection, id string, doc domain.Document) bool {
	doc[domain.IDField] = id

	_, p := coll.route(id)
	p.mu.Lock()
	old, existed := p.docs[id]
	p.docs[id] = doc
	p.seqNo++
	se.indexEngine.UpdateIndexForDocument(coll.name, id, old, doc)
	p.mu.Unlock()

	coll.touch(se.now())
	return existed
}

// GetById retrieves a specific document by its ID
func (se *StorageEngine) GetById(collName, docId string) (domain.Document, error) {
	coll, err := se.getCollection(collName)
	if err != nil {
		return nil, err
	}

	_, p := coll.route(docId)
	p.mu.RLock()
	doc, exists := p.docs[docId]
	p.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("document with id %s in collection %s: %w", docId, collName, domain.ErrDocumentNotFound)
	}
	return doc.Clone(), nil
}

// DeleteById removes a specific document by its ID
func (se *StorageEngine) DeleteById(collName, docId string) error {
	coll, err := se.getCollection(collName)
	if err != nil {
		return err
	}

	_, p := coll.route(docId)
	p.mu.Lock()
	doc, exists := p.docs[docId]
	if exists {
		delete(p.docs, docId)
		p.seqNo++
		se.indexEngine.UpdateIndexForDocument(collName, docId, doc, nil)
	}
	p.mu.Unlock()

	if !exists {
		return fmt.Errorf("document with id %s in collection %s: %w", docId, collName, domain.ErrDocumentNotFound)
	}
	coll.touch(se.now())
	return nil
}

// FindAll returns documents matching an equality filter, ordered by id
func (se *StorageEngine) FindAll(collName string, filter map[string]interface{}, options *domain.PaginationOptions) (*domain.PaginationResult, error) {
	if options == nil {
		options = domain.DefaultPaginationOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	coll, err := se.getCollection(collName)
	if err != nil {
		return nil, err
	}

	var afterID string
	if options.After != "" {
		cursor, err := domain.DecodeCursor(options.After)
		if err != nil {
			return nil, err
		}
		afterID = cursor.ID
	}

	var matched []domain.Document
	for _, p := range coll.partitions {
		p.mu.RLock()
		for _, doc := range p.docs {
			if MatchesFilter(doc, filter) {
				matched = append(matched, doc.Clone())
			}
		}
		p.mu.RUnlock()
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].ID() < matched[j].ID()
	})

	result := &domain.PaginationResult{Total: int64(len(matched))}

	start := options.Offset
	if afterID != "" {
		start = sort.Search(len(matched), func(i int) bool {
			return matched[i].ID() > afterID
		})
	}
	if start > len(matched) {
		start = len(matched)
	}
	end := len(matched)
	if options.Limit > 0 && start+options.Limit < end {
		end = start + options.Limit
	}

	result.Documents = matched[start:end]
	if result.Documents == nil {
		result.Documents = []domain.Document{}
	}
	if end < len(matched) && end > start {
		result.HasNext = true
		result.NextCursor, err = domain.EncodeCursor(&domain.Cursor{ID: matched[end-1].ID()})
		if err != nil {
			return nil, err
		}
	}
	return result, nil
}

// Bulk upserts documents by id. Each request is applied independently:
// failures are reported per item and do not stop the batch.
func (se *StorageEngine) Bulk(ctx context.Context, requests []domain.IndexRequest) (*domain.BulkResponse, error) {
	start := se.now()
	resp := &domain.BulkResponse{Items: make([]domain.BulkItem, 0, len(requests))}

	for _, req := range requests {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("bulk request interrupted: %w", err)
		}

		item := domain.BulkItem{Collection: req.Collection, ID: req.ID}
		if err := se.index(req, &item); err != nil {
			item.Error = err.Error()
			resp.Errors = true
		}
		resp.Items = append(resp.Items, item)
	}

	resp.Took = se.now().Sub(start)
	return resp, nil
}

func (se *StorageEngine) index(req domain.IndexRequest, item *domain.BulkItem) error {
	if req.ID == "" {
		return errors.New("document id is required")
	}
	coll, err := se.getOrCreateCollection(req.Collection)
	if err != nil {
		return err
	}

	doc := req.Source.Clone()
	if req.Pipeline != "" {
		pipeline, err := se.GetPipeline(req.Pipeline)
		if err != nil {
			return err
		}
		if err := pipeline.Apply(doc, se.now()); err != nil {
			return err
		}
	}

	if se.put(coll, req.ID, doc) {
		item.Result = domain.ResultUpdated
	} else {
		item.Result = domain.ResultCreated
	}
	return nil
}

// PutPipeline registers or replaces an ingest pipeline
func (se *StorageEngine) PutPipeline(id string, pipeline *domain.Pipeline) error {
	pipeline.ID = id
	if err := pipeline.Validate(); err != nil {
		return err
	}
	se.mu.Lock()
	defer se.mu.Unlock()
	se.pipelines[id] = pipeline
	return nil
}

// GetPipeline returns a registered ingest pipeline
func (se *StorageEngine) GetPipeline(id string) (*domain.Pipeline, error) {
	se.mu.RLock()
	defer se.mu.RUnlock()
	pipeline, exists := se.pipelines[id]
	if !exists {
		return nil, fmt.Errorf("pipeline [%s]: %w", id, domain.ErrPipelineNotFound)
	}
	return pipeline, nil
}
