package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/cespare/xxhash/v2"
)

// partition is one shard of a collection. Every write bumps seqNo.
type partition struct {
	mu    sync.RWMutex
	docs  map[string]domain.Document
	seqNo int64
}

// collection is a named set of partitions
type collection struct {
	name       string
	partitions []*partition
	dirty      atomic.Bool

	modMu        sync.Mutex
	lastModified time.Time
}

func newCollection(name string, partitions int) *collection {
	c := &collection{
		name:         name,
		partitions:   make([]*partition, partitions),
		lastModified: time.Now(),
	}
	for i := range c.partitions {
		c.partitions[i] = &partition{docs: make(map[string]domain.Document)}
	}
	return c
}

// route returns the partition a document id lives in
func (c *collection) route(id string) (int, *partition) {
	i := int(xxhash.Sum64String(id) % uint64(len(c.partitions)))
	return i, c.partitions[i]
}

func (c *collection) touch(at time.Time) {
	c.dirty.Store(true)
	c.modMu.Lock()
	c.lastModified = at
	c.modMu.Unlock()
}

func (c *collection) docCount() int64 {
	var n int64
	for _, p := range c.partitions {
		p.mu.RLock()
		n += int64(len(p.docs))
		p.mu.RUnlock()
	}
	return n
}

func (c *collection) seqNos() []int64 {
	out := make([]int64, len(c.partitions))
	for i, p := range c.partitions {
		p.mu.RLock()
		out[i] = p.seqNo
		p.mu.RUnlock()
	}
	return out
}

func (c *collection) info() *domain.Collection {
	return &domain.Collection{
		Name:       c.name,
		Partitions: len(c.partitions),
		DocCount:   c.docCount(),
		SeqNos:     c.seqNos(),
	}
}
