package checkpoint

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/pivot"
	"github.com/adfharrison1/go-pivot/pkg/storage"
	"github.com/adfharrison1/go-pivot/pkg/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func config(continuous bool) *transform.Config {
	cfg := &transform.Config{
		ID:     "hosts",
		Source: transform.SourceConfig{Index: []string{"events"}},
		Dest:   transform.DestConfig{Index: "hosts"},
		Pivot: &pivot.Config{GroupBy: map[string]pivot.GroupSource{
			"host": {Terms: &pivot.TermsSource{Field: "host"}},
		}},
	}
	if continuous {
		cfg.Sync = &transform.SyncConfig{Time: &transform.TimeSyncConfig{Field: "ts", Delay: transform.Duration(time.Minute)}}
	}
	return cfg
}

func seeded(t *testing.T) *storage.StorageEngine {
	t.Helper()
	engine := storage.NewStorageEngine(storage.WithPartitions(2))
	_, err := engine.Bulk(context.Background(), []domain.IndexRequest{
		{Collection: "events", ID: "1", Source: domain.Document{"host": "a", "ts": fixedNow.Add(-time.Hour).UnixMilli()}},
		{Collection: "events", ID: "2", Source: domain.Document{"host": "b", "ts": fixedNow.UnixMilli()}},
	})
	require.NoError(t, err)
	return engine
}

func TestCreateCheckpoint(t *testing.T) {
	engine := seeded(t)
	svc := NewService(engine, config(true), WithClock(func() time.Time { return fixedNow }))

	cp, err := svc.CreateCheckpoint(context.Background(), transform.EmptyCheckpoint("hosts"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Checkpoint)
	assert.Equal(t, "hosts", cp.TransformID)
	assert.Equal(t, fixedNow.UnixMilli(), cp.Timestamp)
	assert.Equal(t, fixedNow.Add(-time.Minute).UnixMilli(), cp.TimeUpperBound)
	require.Contains(t, cp.Partitions, "events")
	assert.Len(t, cp.Partitions["events"], 2)

	next, err := svc.CreateCheckpoint(context.Background(), cp)
	require.NoError(t, err)
	assert.Equal(t, int64(2), next.Checkpoint)
}

func TestCreateCheckpointBatch(t *testing.T) {
	svc := NewService(seeded(t), config(false))
	cp, err := svc.CreateCheckpoint(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.Checkpoint)
	assert.Zero(t, cp.TimeUpperBound)
}

func TestCreateCheckpointErrors(t *testing.T) {
	cfg := config(true)
	cfg.Source.Index = []string{"missing"}
	svc := NewService(seeded(t), cfg)
	_, err := svc.CreateCheckpoint(context.Background(), nil)
	assert.ErrorIs(t, err, domain.ErrCollectionNotFound)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = NewService(seeded(t), config(true)).CreateCheckpoint(ctx, nil)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSourceHasChanged(t *testing.T) {
	ctx := context.Background()
	engine := seeded(t)
	svc := NewService(engine, config(true))

	changed, err := svc.SourceHasChanged(ctx, transform.EmptyCheckpoint("hosts"))
	require.NoError(t, err)
	assert.True(t, changed)

	cp, err := svc.CreateCheckpoint(ctx, nil)
	require.NoError(t, err)
	changed, err = svc.SourceHasChanged(ctx, cp)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = engine.Insert("events", domain.Document{"host": "c"})
	require.NoError(t, err)
	changed, err = svc.SourceHasChanged(ctx, cp)
	require.NoError(t, err)
	assert.True(t, changed)
}

func TestSourceHasChangedAfterDelay(t *testing.T) {
	ctx := context.Background()
	now := fixedNow
	svc := NewService(seeded(t), config(true), WithClock(func() time.Time { return now }))

	// document 2 is inside the delay and left out of checkpoint 1
	cp, err := svc.CreateCheckpoint(ctx, nil)
	require.NoError(t, err)
	changed, err := svc.SourceHasChanged(ctx, cp)
	require.NoError(t, err)
	assert.False(t, changed)

	now = fixedNow.Add(30 * time.Second)
	changed, err = svc.SourceHasChanged(ctx, cp)
	require.NoError(t, err)
	assert.False(t, changed, "document 2 is still inside the delay")

	now = fixedNow.Add(10 * time.Minute)
	changed, err = svc.SourceHasChanged(ctx, cp)
	require.NoError(t, err)
	assert.True(t, changed)

	next, err := svc.CreateCheckpoint(ctx, cp)
	require.NoError(t, err)
	changed, err = svc.SourceHasChanged(ctx, next)
	require.NoError(t, err)
	assert.False(t, changed)

	batch := NewService(seeded(t), config(false), WithClock(func() time.Time { return now }))
	cp, err = batch.CreateCheckpoint(ctx, nil)
	require.NoError(t, err)
	changed, err = batch.SourceHasChanged(ctx, cp)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestProgress(t *testing.T) {
	ctx := context.Background()
	svc := NewService(seeded(t), config(true), WithClock(func() time.Time { return fixedNow }))

	cp, err := svc.CreateCheckpoint(ctx, nil)
	require.NoError(t, err)
	p, err := svc.Progress(ctx, cp)
	require.NoError(t, err)
	// the second document is newer than the upper bound
	assert.Equal(t, int64(1), p.TotalDocs)

	p, err = NewService(seeded(t), config(false)).Progress(ctx, cp)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.TotalDocs)
}
