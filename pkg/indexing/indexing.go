package indexing

import (
	"fmt"
	"sort"
	"sync"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/query"
)

// IndexEngine implements domain.IndexEngine interface
type IndexEngine struct {
	mu      sync.RWMutex
	indexes map[string]map[string]*Index // Collection name -> field name -> index
}

// NewIndexEngine creates a new index engine
func NewIndexEngine() *IndexEngine {
	return &IndexEngine{
		indexes: make(map[string]map[string]*Index),
	}
}

// Index stores a mapping from a field's canonical value to document IDs.
// Values are keyed with query.KeyString so 200 and 200.0 share an entry.
type Index struct {
	Field string

	mu       sync.RWMutex
	inverted map[string]map[string]struct{}
}

// NewIndex creates an index on a specific field.
func NewIndex(field string) *Index {
	return &Index{
		Field:    field,
		inverted: make(map[string]map[string]struct{}),
	}
}

// Add indexes one document.
func (idx *Index) Add(docID string, doc domain.Document) {
	val, ok := doc[idx.Field]
	if !ok || val == nil {
		return
	}
	key := query.KeyString(val)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	ids, exists := idx.inverted[key]
	if !exists {
		ids = make(map[string]struct{})
		idx.inverted[key] = ids
	}
	ids[docID] = struct{}{}
}

// Remove drops one document from the index.
func (idx *Index) Remove(docID string, doc domain.Document) {
	val, ok := doc[idx.Field]
	if !ok || val == nil {
		return
	}
	key := query.KeyString(val)

	idx.mu.Lock()
	defer idx.mu.Unlock()
	if ids, exists := idx.inverted[key]; exists {
		delete(ids, docID)
		if len(ids) == 0 {
			delete(idx.inverted, key)
		}
	}
}

// UpdateIndex updates index after an insert/update/delete operation.
// A nil oldDoc is an insert, a nil newDoc a delete.
func (idx *Index) UpdateIndex(docID string, oldDoc, newDoc domain.Document) {
	if oldDoc != nil {
		idx.Remove(docID, oldDoc)
	}
	if newDoc != nil {
		idx.Add(docID, newDoc)
	}
}

// Query returns document IDs that match a given value in the indexed field.
func (idx *Index) Query(value interface{}) []string {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	ids := idx.inverted[query.KeyString(value)]
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Cardinality returns the number of distinct values indexed.
func (idx *Index) Cardinality() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.inverted)
}

// CreateIndex creates an index on a specific field in a collection
func (ie *IndexEngine) CreateIndex(collectionName, fieldName string) error {
	_, err := ie.createIndex(collectionName, fieldName)
	return err
}

func (ie *IndexEngine) createIndex(collectionName, fieldName string) (*Index, error) {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	if ie.indexes[collectionName] == nil {
		ie.indexes[collectionName] = make(map[string]*Index)
	}
	if _, exists := ie.indexes[collectionName][fieldName]; exists {
		return nil, fmt.Errorf("index on field %s already exists in collection %s", fieldName, collectionName)
	}

	index := NewIndex(fieldName)
	ie.indexes[collectionName][fieldName] = index
	return index, nil
}

// DropIndex removes an index from a collection
func (ie *IndexEngine) DropIndex(collectionName, fieldName string) error {
	ie.mu.Lock()
	defer ie.mu.Unlock()

	if _, exists := ie.indexes[collectionName][fieldName]; !exists {
		return fmt.Errorf("index on field %s in collection %s: %w", fieldName, collectionName, domain.ErrIndexNotFound)
	}

	delete(ie.indexes[collectionName], fieldName)
	return nil
}

// GetIndexes returns all indexed field names for a collection
func (ie *IndexEngine) GetIndexes(collectionName string) ([]string, error) {
	ie.mu.RLock()
	defer ie.mu.RUnlock()

	indexNames := make([]string, 0, len(ie.indexes[collectionName]))
	for fieldName := range ie.indexes[collectionName] {
		indexNames = append(indexNames, fieldName)
	}
	sort.Strings(indexNames)
	return indexNames, nil
}

// GetIndex returns the index for a field of a collection.
func (ie *IndexEngine) GetIndex(collectionName, fieldName string) (*Index, bool) {
	ie.mu.RLock()
	defer ie.mu.RUnlock()

	if collectionIndexes, exists := ie.indexes[collectionName]; exists {
		if index, exists := collectionIndexes[fieldName]; exists {
			return index, true
		}
	}
	return nil, false
}

// BuildIndexForCollection creates an index and fills it from the given
// documents. each must call fn for every document of the collection.
func (ie *IndexEngine) BuildIndexForCollection(collectionName, fieldName string, each func(fn func(docID string, doc domain.Document))) error {
	index, err := ie.createIndex(collectionName, fieldName)
	if err != nil {
		return err
	}
	each(func(docID string, doc domain.Document) {
		index.Add(docID, doc)
	})
	return nil
}

// UpdateIndexForDocument updates every index of a collection when a document changes
func (ie *IndexEngine) UpdateIndexForDocument(collectionName, docID string, oldDoc, newDoc domain.Document) {
	ie.mu.RLock()
	collectionIndexes := ie.indexes[collectionName]
	indexes := make([]*Index, 0, len(collectionIndexes))
	for _, index := range collectionIndexes {
		indexes = append(indexes, index)
	}
	ie.mu.RUnlock()

	for _, index := range indexes {
		index.UpdateIndex(docID, oldDoc, newDoc)
	}
}

// DropCollection removes all indexes of a collection
func (ie *IndexEngine) DropCollection(collectionName string) {
	ie.mu.Lock()
	defer ie.mu.Unlock()
	delete(ie.indexes, collectionName)
}
