package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/audit"
	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/pivot"
	"github.com/adfharrison1/go-pivot/pkg/state"
	"github.com/adfharrison1/go-pivot/pkg/storage"
	"github.com/adfharrison1/go-pivot/pkg/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T, engine *storage.StorageEngine, opts ...Option) (*Scheduler, *audit.Auditor) {
	t.Helper()
	auditor := audit.New()
	s := New(Dependencies{Backend: engine, Auditor: auditor, Node: "node-1"}, opts...)
	t.Cleanup(s.Stop)
	return s, auditor
}

func TestSchedulerPutGetList(t *testing.T) {
	engine := storage.NewStorageEngine()
	s, auditor := newScheduler(t, engine, WithClock(func() time.Time { return baseTime }))

	cfg := hostsConfig(false)
	cfg.Frequency = 0
	task, err := s.Put(cfg)
	require.NoError(t, err)
	assert.Equal(t, transform.DefaultFrequency, task.Config().Frequency)
	assert.Equal(t, baseTime.UnixMilli(), task.Config().CreateTime)
	assert.Equal(t, transform.TaskStopped, task.TaskState())
	assert.Equal(t, []string{transform.CreatedMessage()}, messages(auditor, "hosts"))

	_, err = s.Put(hostsConfig(false))
	assert.ErrorIs(t, err, ErrExists)

	invalid := hostsConfig(false)
	invalid.ID = "Not Valid"
	_, err = s.Put(invalid)
	assert.Error(t, err)

	other := hostsConfig(true)
	other.ID = "agents"
	_, err = s.Put(other)
	require.NoError(t, err)

	got, err := s.Get("hosts")
	require.NoError(t, err)
	assert.Same(t, task, got)
	_, err = s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	ids := []string{}
	for _, listed := range s.List() {
		ids = append(ids, listed.ID())
	}
	assert.Equal(t, []string{"agents", "hosts"}, ids)
	assert.Equal(t, "node-1", got.Stats().Node)
}

func TestSchedulerDelete(t *testing.T) {
	engine := storage.NewStorageEngine()
	store := state.NewStore(engine)
	s, auditor := newScheduler(t, engine, WithStore(store))

	task, err := s.Put(hostsConfig(true))
	require.NoError(t, err)
	require.NoError(t, task.Start())

	err = s.Delete("hosts")
	assert.ErrorIs(t, err, ErrNotStopped)

	task.Stop()
	require.NoError(t, s.Delete("hosts"))
	_, err = s.Get("hosts")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, auditor.Notifications("hosts"))

	_, err = store.GetConfig("hosts")
	assert.ErrorIs(t, err, state.ErrNotFound)
	_, err = store.GetState("hosts")
	assert.ErrorIs(t, err, state.ErrNotFound)

	assert.ErrorIs(t, s.Delete("hosts"), ErrNotFound)
}

func TestSchedulerTriggerNow(t *testing.T) {
	engine := storage.NewStorageEngine()
	seed(t, engine, event("1", "a", 1, baseTime), event("2", "b", 2, baseTime))
	s, _ := newScheduler(t, engine)

	task, err := s.Put(hostsConfig(false))
	require.NoError(t, err)
	assert.Equal(t, 0, s.TriggerNow(), "stopped tasks are not triggered")

	require.NoError(t, task.Start())
	assert.Equal(t, 1, s.TriggerNow())
	task.Wait()
	assert.Len(t, destRows(t, engine, "hosts"), 2)
}

func TestSchedulerTicker(t *testing.T) {
	engine := storage.NewStorageEngine()
	seed(t, engine, event("1", "a", 1, baseTime))
	s, _ := newScheduler(t, engine, WithTickInterval(10*time.Millisecond))

	task, err := s.Put(hostsConfig(false))
	require.NoError(t, err)
	require.NoError(t, task.Start())
	s.Start()

	assert.Eventually(t, func() bool {
		return task.Stats().Checkpointing.Last.Checkpoint == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSchedulerRestore(t *testing.T) {
	engine := storage.NewStorageEngine()
	seed(t, engine, event("1", "a", 1, baseTime.Add(-time.Hour)), event("2", "b", 2, baseTime.Add(-time.Hour)))
	store := state.NewStore(engine)

	s, _ := newScheduler(t, engine, WithStore(store))
	task, err := s.Put(hostsConfig(true))
	require.NoError(t, err)
	require.NoError(t, task.Start())
	require.True(t, task.Trigger(context.Background()))
	task.Wait()
	require.Equal(t, int64(1), task.Stats().Checkpointing.Last.Checkpoint)

	stopped := hostsConfig(false)
	stopped.ID = "batch"
	_, err = s.Put(stopped)
	require.NoError(t, err)

	restored, _ := newScheduler(t, engine, WithStore(store))
	require.NoError(t, restored.Restore())
	require.Len(t, restored.List(), 2)

	got, err := restored.Get("hosts")
	require.NoError(t, err)
	assert.Equal(t, transform.TaskStarted, got.TaskState())
	assert.Equal(t, transform.IndexerStarted, got.IndexerState())
	stats := got.Stats()
	assert.Equal(t, int64(1), stats.Checkpointing.Last.Checkpoint)
	assert.Equal(t, int64(1), stats.Indexer.NumPages)
	assert.Equal(t, int64(2), stats.Indexer.NumOutputDocuments)

	batch, err := restored.Get("batch")
	require.NoError(t, err)
	assert.Equal(t, transform.TaskStopped, batch.TaskState())
	assert.Equal(t, transform.IndexerStopped, batch.IndexerState())
}

func TestSchedulerRestoreResumesPosition(t *testing.T) {
	engine := storage.NewStorageEngine()
	seed(t, engine,
		event("1", "a", 1, baseTime),
		event("2", "b", 2, baseTime),
		event("3", "c", 3, baseTime),
	)
	store := state.NewStore(engine)
	cfg := hostsConfig(false)
	cfg.CreateTime = baseTime.UnixMilli()
	require.NoError(t, store.PutConfig(cfg))
	require.NoError(t, store.PutCheckpoint(&transform.Checkpoint{TransformID: "hosts", Checkpoint: 1, Timestamp: baseTime.UnixMilli()}))
	require.NoError(t, store.PutState(&state.StoredState{
		TransformID:  "hosts",
		TaskState:    transform.TaskStarted,
		IndexerState: transform.IndexerIndexing,
		Position:     map[string]interface{}{"host": "a"},
		Stats:        transform.IndexerStats{NumPages: 1, NumInputDocuments: 1, NumOutputDocuments: 1},
	}))

	s, _ := newScheduler(t, engine, WithStore(store))
	require.NoError(t, s.Restore())
	task, err := s.Get("hosts")
	require.NoError(t, err)
	assert.Equal(t, transform.IndexerStarted, task.IndexerState())
	require.NotNil(t, task.Stats().Checkpointing.Next)
	assert.Equal(t, int64(1), task.Stats().Checkpointing.Next.Checkpoint)

	require.True(t, task.Trigger(context.Background()))
	task.Wait()

	rows := destRows(t, engine, "hosts")
	assert.Len(t, rows, 2)
	assert.NotContains(t, rows, "a", "groups before the position are not searched again")
	stats := task.Stats()
	assert.Equal(t, int64(1), stats.Checkpointing.Last.Checkpoint)
	assert.Equal(t, int64(2), stats.Indexer.NumPages)
	assert.Equal(t, int64(3), stats.Indexer.NumOutputDocuments)
	assert.Equal(t, transform.TaskStopped, task.TaskState())

	st, err := store.GetState("hosts")
	require.NoError(t, err)
	assert.Nil(t, st.Position)
	assert.Equal(t, int64(1), st.Checkpoint)
}

// slowBackend takes 20ms per search and counts them
type slowBackend struct {
	*storage.StorageEngine
	searches atomic.Int64
	entered  chan struct{}
}

func (b *slowBackend) Search(ctx context.Context, req *domain.SearchRequest) (*domain.SearchResponse, error) {
	if b.searches.Add(1) == 1 {
		close(b.entered)
	}
	time.Sleep(20 * time.Millisecond)
	return b.StorageEngine.Search(ctx, req)
}

func TestSchedulerStopSuspendsRunningCycle(t *testing.T) {
	engine := storage.NewStorageEngine(storage.WithPartitions(1))
	seed(t, engine, manyHosts(100)...)
	store := state.NewStore(engine)
	backend := &slowBackend{StorageEngine: engine, entered: make(chan struct{})}

	s := New(Dependencies{Backend: backend, Auditor: audit.New(), Node: "node-1"}, WithStore(store))
	cfg := hostsConfig(false)
	size := 10
	cfg.Pivot.MaxPageSearchSize = &size
	task, err := s.Put(cfg)
	require.NoError(t, err)
	require.NoError(t, task.Start())

	require.Equal(t, 1, s.TriggerNow())
	select {
	case <-backend.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("cycle never searched")
	}
	s.Stop()

	assert.Equal(t, int64(1), backend.searches.Load(), "no page is started after Stop")
	assert.Equal(t, transform.TaskStarted, task.TaskState())
	assert.Equal(t, transform.IndexerStarted, task.IndexerState())
	assert.False(t, task.Trigger(context.Background()), "no cycle is started after Stop")
	assert.Len(t, destRows(t, engine, "hosts"), 10)

	st, err := store.GetState("hosts")
	require.NoError(t, err)
	assert.Equal(t, transform.TaskStarted, st.TaskState)
	assert.Equal(t, int64(0), st.Checkpoint)
	require.NotNil(t, st.Position)

	restored, _ := newScheduler(t, engine, WithStore(store))
	require.NoError(t, restored.Restore())
	resumed, err := restored.Get("hosts")
	require.NoError(t, err)
	require.Equal(t, transform.IndexerStarted, resumed.IndexerState())
	require.NotNil(t, resumed.Stats().Checkpointing.Next)

	require.True(t, resumed.Trigger(context.Background()))
	resumed.Wait()
	assert.Len(t, destRows(t, engine, "hosts"), 100)
	assert.Equal(t, int64(1), resumed.Stats().Checkpointing.Last.Checkpoint)
	assert.Equal(t, int64(100), resumed.Stats().Indexer.NumOutputDocuments)
	assert.Equal(t, transform.TaskStopped, resumed.TaskState())
}

func TestSchedulerPreview(t *testing.T) {
	engine := storage.NewStorageEngine()
	seed(t, engine,
		event("1", "a", 1, baseTime),
		event("2", "b", 2, baseTime),
		event("3", "a", 3, baseTime),
	)
	s, _ := newScheduler(t, engine)

	cfg := hostsConfig(false)
	cfg.ID = ""
	cfg.Dest.Index = ""
	result, err := s.Preview(context.Background(), cfg)
	require.NoError(t, err)

	require.Len(t, result.Rows, 2)
	assert.Equal(t, map[string]interface{}{"host": "a", "total": 4.0}, result.Rows[0])
	assert.Equal(t, map[string]interface{}{"host": "b", "total": 2.0}, result.Rows[1])
	assert.Equal(t, pivot.TypeKeyword, result.Mappings["host"])
	assert.Equal(t, pivot.TypeDouble, result.Mappings["total"])

	_, err = engine.GetCollection("preview")
	assert.Error(t, err, "a preview writes nothing")

	bad := hostsConfig(false)
	bad.Pivot = nil
	_, err = s.Preview(context.Background(), bad)
	assert.Error(t, err)
}
