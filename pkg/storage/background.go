package storage

import (
	"runtime"
	"time"
)

// GetMemoryStats returns current memory usage statistics
func (se *StorageEngine) GetMemoryStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var docs int64
	colls := se.collectionsSnapshot()
	for _, c := range colls {
		docs += c.docCount()
	}

	return map[string]interface{}{
		"alloc_mb":            m.Alloc / 1024 / 1024,
		"total_alloc_mb":      m.TotalAlloc / 1024 / 1024,
		"sys_mb":              m.Sys / 1024 / 1024,
		"num_goroutines":      runtime.NumGoroutine(),
		"collections":         len(colls),
		"documents":           docs,
		"breaker_limit_bytes": se.breaker.Limit(),
		"breaker_in_use":      se.breaker.InUse(),
		"breaker_tripped":     se.breaker.Tripped(),
	}
}

// StartBackgroundWorkers starts the background save worker
func (se *StorageEngine) StartBackgroundWorkers() {
	if !se.backgroundSave || se.dataFile == "" {
		return
	}

	se.backgroundWg.Add(1)
	go func() {
		defer se.backgroundWg.Done()
		ticker := time.NewTicker(se.saveInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				se.saveIfDirty()
			case <-se.stopChan:
				return
			}
		}
	}()
}

// StopBackgroundWorkers stops background workers and writes a final
// snapshot when anything changed
func (se *StorageEngine) StopBackgroundWorkers() {
	se.stopOnce.Do(func() {
		close(se.stopChan)
	})
	se.backgroundWg.Wait()

	if se.dataFile != "" {
		se.saveIfDirty()
	}
}

func (se *StorageEngine) saveIfDirty() {
	dirty := false
	for _, c := range se.collectionsSnapshot() {
		if c.dirty.Load() {
			dirty = true
			break
		}
	}
	if !dirty {
		return
	}

	start := time.Now()
	if err := se.SaveToFile(se.dataFile); err != nil {
		se.logger.Error().Err(err).Str("file", se.dataFile).Msg("background save failed")
		return
	}
	se.logger.Debug().
		Str("file", se.dataFile).
		Dur("took", time.Since(start)).
		Msg("background save complete")
}
