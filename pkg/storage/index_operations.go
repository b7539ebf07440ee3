package storage

import (
	"github.com/adfharrison1/go-pivot/pkg/domain"
)

// CreateIndex creates an index on a specific field in a collection and
// fills it with the documents already stored
func (se *StorageEngine) CreateIndex(collName, fieldName string) error {
	coll, err := se.getCollection(collName)
	if err != nil {
		return err
	}

	return se.indexEngine.BuildIndexForCollection(collName, fieldName, func(fn func(string, domain.Document)) {
		for _, p := range coll.partitions {
			p.mu.RLock()
			for id, doc := range p.docs {
				fn(id, doc)
			}
			p.mu.RUnlock()
		}
	})
}

// DropIndex removes an index from a collection
func (se *StorageEngine) DropIndex(collName, fieldName string) error {
	return se.indexEngine.DropIndex(collName, fieldName)
}

// GetIndexes returns all indexed fields of a collection
func (se *StorageEngine) GetIndexes(collName string) ([]string, error) {
	if _, err := se.getCollection(collName); err != nil {
		return nil, err
	}
	return se.indexEngine.GetIndexes(collName)
}
