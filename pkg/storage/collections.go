package storage

import (
	"fmt"
	"sort"

	"github.com/adfharrison1/go-pivot/pkg/domain"
)

// GetCollection returns a collection's metadata
func (se *StorageEngine) GetCollection(collName string) (*domain.Collection, error) {
	coll, err := se.getCollection(collName)
	if err != nil {
		return nil, err
	}
	return coll.info(), nil
}

// ListCollections returns the names of all collections
func (se *StorageEngine) ListCollections() []string {
	se.mu.RLock()
	defer se.mu.RUnlock()

	names := make([]string, 0, len(se.collections))
	for name := range se.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateCollection creates a new collection
func (se *StorageEngine) CreateCollection(collName string) error {
	se.mu.Lock()
	defer se.mu.Unlock()

	if collName == "" {
		return fmt.Errorf("collection name cannot be empty")
	}
	if _, exists := se.collections[collName]; exists {
		return fmt.Errorf("collection %s already exists", collName)
	}

	coll := newCollection(collName, se.partitions)
	coll.touch(se.now())
	se.collections[collName] = coll
	return nil
}

// DropCollection removes a collection and its indexes
func (se *StorageEngine) DropCollection(collName string) error {
	se.mu.Lock()
	defer se.mu.Unlock()

	if _, exists := se.collections[collName]; !exists {
		return fmt.Errorf("collection %s: %w", collName, domain.ErrCollectionNotFound)
	}
	delete(se.collections, collName)
	se.indexEngine.DropCollection(collName)
	return nil
}

// PartitionSeqNos returns the per-partition sequence numbers of each
// collection. Every write to a partition increases its sequence number.
func (se *StorageEngine) PartitionSeqNos(collections []string) (map[string][]int64, error) {
	colls, err := se.resolve(collections)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]int64, len(colls))
	for _, c := range colls {
		out[c.name] = c.seqNos()
	}
	return out, nil
}

func (se *StorageEngine) getCollection(collName string) (*collection, error) {
	se.mu.RLock()
	defer se.mu.RUnlock()

	coll, exists := se.collections[collName]
	if !exists {
		return nil, fmt.Errorf("collection %s: %w", collName, domain.ErrCollectionNotFound)
	}
	return coll, nil
}

func (se *StorageEngine) getOrCreateCollection(collName string) (*collection, error) {
	if coll, err := se.getCollection(collName); err == nil {
		return coll, nil
	}
	if collName == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}

	se.mu.Lock()
	defer se.mu.Unlock()
	// Double-check in case another goroutine created it
	if coll, exists := se.collections[collName]; exists {
		return coll, nil
	}
	coll := newCollection(collName, se.partitions)
	se.collections[collName] = coll
	return coll, nil
}

// resolve looks up every named collection, failing on the first missing one
func (se *StorageEngine) resolve(names []string) ([]*collection, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("no collections given")
	}
	out := make([]*collection, 0, len(names))
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		coll, err := se.getCollection(name)
		if err != nil {
			return nil, err
		}
		out = append(out, coll)
	}
	return out, nil
}
