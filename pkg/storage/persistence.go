package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// snapshot copies the engine's state under read locks
func (se *StorageEngine) snapshot() *StorageData {
	data := NewStorageData()

	se.mu.RLock()
	colls := make([]*collection, 0, len(se.collections))
	for _, c := range se.collections {
		colls = append(colls, c)
	}
	for id, p := range se.pipelines {
		data.Pipelines[id] = p
	}
	se.mu.RUnlock()

	for _, c := range colls {
		cd := &CollectionData{
			Partitions: len(c.partitions),
			SeqNos:     make([]int64, len(c.partitions)),
			Documents:  make(map[string]map[string]interface{}),
		}
		for i, p := range c.partitions {
			p.mu.RLock()
			cd.SeqNos[i] = p.seqNo
			for id, doc := range p.docs {
				cd.Documents[id] = map[string]interface{}(doc)
			}
			p.mu.RUnlock()
		}
		cd.Indexes, _ = se.indexEngine.GetIndexes(c.name)
		data.Collections[c.name] = cd
	}
	return data
}

// SaveToFile writes a snapshot of every collection and pipeline. The file is
// written next to its destination and renamed into place.
func (se *StorageEngine) SaveToFile(filename string) error {
	data := se.snapshot()

	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	tmp := filename + ".tmp"
	file, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp)

	if err := se.writeSnapshot(file, data); err != nil {
		file.Close()
		return err
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return fmt.Errorf("failed to sync file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		return fmt.Errorf("failed to rename snapshot: %w", err)
	}

	for _, c := range se.collectionsSnapshot() {
		c.dirty.Store(false)
	}
	return nil
}

func (se *StorageEngine) writeSnapshot(file *os.File, data *StorageData) error {
	if err := WriteHeader(file); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	zw := lz4.NewWriter(file)
	if err := msgpack.NewEncoder(zw).Encode(data); err != nil {
		return fmt.Errorf("failed to encode MessagePack: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to compress data: %w", err)
	}
	return nil
}

// LoadFromFile replaces the engine's contents with a snapshot. A missing
// file is not an error.
func (se *StorageEngine) LoadFromFile(filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	if _, err := ReadHeader(file); err != nil {
		return fmt.Errorf("invalid file header: %w", err)
	}

	var data StorageData
	if err := msgpack.NewDecoder(lz4.NewReader(file)).Decode(&data); err != nil {
		return fmt.Errorf("failed to decode MessagePack: %w", err)
	}

	collections := make(map[string]*collection, len(data.Collections))
	for name, cd := range data.Collections {
		partitions := cd.Partitions
		if partitions < 1 {
			partitions = se.partitions
		}
		coll := newCollection(name, partitions)
		for i, seq := range cd.SeqNos {
			if i < len(coll.partitions) {
				coll.partitions[i].seqNo = seq
			}
		}
		for id, raw := range cd.Documents {
			doc := domain.Document(raw)
			doc[domain.IDField] = id
			_, p := coll.route(id)
			p.docs[id] = doc
		}
		collections[name] = coll
	}

	se.mu.Lock()
	se.collections = collections
	if data.Pipelines != nil {
		se.pipelines = data.Pipelines
	}
	se.mu.Unlock()

	for name, cd := range data.Collections {
		se.indexEngine.DropCollection(name)
		for _, field := range cd.Indexes {
			if err := se.CreateIndex(name, field); err != nil {
				return fmt.Errorf("failed to rebuild index %s.%s: %w", name, field, err)
			}
		}
	}

	se.logger.Info().
		Str("file", filename).
		Int("collections", len(collections)).
		Msg("loaded snapshot")
	return nil
}

func (se *StorageEngine) collectionsSnapshot() []*collection {
	se.mu.RLock()
	defer se.mu.RUnlock()
	out := make([]*collection, 0, len(se.collections))
	for _, c := range se.collections {
		out = append(out, c)
	}
	return out
}
