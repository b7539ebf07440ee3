package storage

import "time"

type StorageOption func(*StorageEngine)

// WithPartitions sets the number of partitions new collections are split into
func WithPartitions(n int) StorageOption {
	return func(engine *StorageEngine) {
		engine.partitions = n
	}
}

// WithDataFile sets the snapshot file used by the background save worker
func WithDataFile(path string) StorageOption {
	return func(engine *StorageEngine) {
		engine.dataFile = path
	}
}

// WithBackgroundSave enables periodic snapshots to the data file
func WithBackgroundSave(interval time.Duration) StorageOption {
	return func(engine *StorageEngine) {
		engine.backgroundSave = true
		engine.saveInterval = interval
	}
}

// WithBreakerLimit limits the memory searches may reserve, 0 disables the limit
func WithBreakerLimit(bytes int64) StorageOption {
	return func(engine *StorageEngine) {
		engine.breaker = NewBreaker(bytes)
	}
}

// WithClock overrides the clock used by ingest pipelines
func WithClock(now func() time.Time) StorageOption {
	return func(engine *StorageEngine) {
		engine.now = now
	}
}
