package storage

import (
	"sync"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/indexing"
	"github.com/adfharrison1/go-pivot/pkg/logging"
	"github.com/rs/zerolog"
)

// DefaultPartitions is the number of partitions a new collection gets
const DefaultPartitions = 4

// StorageEngine is an in-memory partitioned document store with snapshot
// persistence. Searches fan out across partitions.
type StorageEngine struct {
	mu          sync.RWMutex
	collections map[string]*collection
	pipelines   map[string]*domain.Pipeline
	indexEngine *indexing.IndexEngine
	breaker     *Breaker
	logger      zerolog.Logger

	// Configuration
	partitions     int
	dataFile       string
	backgroundSave bool
	saveInterval   time.Duration
	now            func() time.Time

	// Background workers
	backgroundWg sync.WaitGroup
	stopChan     chan struct{}
	stopOnce     sync.Once
}

// NewStorageEngine creates a new storage engine
func NewStorageEngine(options ...StorageOption) *StorageEngine {
	engine := &StorageEngine{
		collections:  make(map[string]*collection),
		pipelines:    make(map[string]*domain.Pipeline),
		indexEngine:  indexing.NewIndexEngine(),
		breaker:      NewBreaker(0),
		logger:       logging.WithComponent("storage"),
		partitions:   DefaultPartitions,
		saveInterval: 5 * time.Minute,
		now:          time.Now,
		stopChan:     make(chan struct{}),
	}

	for _, option := range options {
		option(engine)
	}
	if engine.partitions < 1 {
		engine.partitions = 1
	}

	return engine
}

// Breaker returns the search circuit breaker
func (se *StorageEngine) Breaker() *Breaker {
	return se.breaker
}

// GetIndexEngine returns the index engine instance
func (se *StorageEngine) GetIndexEngine() domain.IndexEngine {
	return se.indexEngine
}

var _ domain.DatabaseEngine = (*StorageEngine)(nil)
