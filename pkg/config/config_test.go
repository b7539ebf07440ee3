package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Server.Port)
	assert.Equal(t, DefaultShutdownTimeout, cfg.Server.ShutdownTimeout)
	assert.Equal(t, DefaultPartitions, cfg.Storage.Partitions)
	assert.Equal(t, DefaultTickInterval, cfg.Scheduler.TickInterval)

	limit, err := cfg.BreakerLimitBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(256<<20), limit)

	opts, err := cfg.StorageOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 3)
}

func TestLoadFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "go-pivot.yaml", `
server:
  port: 9090
storage:
  partitions: 2
  breaker_limit: 10kb
  background_save: 5m
scheduler:
  tick_interval: 250ms
transforms:
  paths: [./transforms]
  auto_start: true
`)
	t.Setenv("GOPIVOT_SERVER_PORT", "9191")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port, "env wins over the file")
	assert.Equal(t, 2, cfg.Storage.Partitions)
	assert.Equal(t, 5*time.Minute, cfg.Storage.BackgroundSave)
	assert.Equal(t, 250*time.Millisecond, cfg.Scheduler.TickInterval)
	assert.Equal(t, []string{"./transforms"}, cfg.Transforms.Paths)
	assert.True(t, cfg.Transforms.AutoStart)

	limit, err := cfg.BreakerLimitBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(10000), limit)

	opts, err := cfg.StorageOptions()
	require.NoError(t, err)
	assert.Len(t, opts, 4)
}

func TestLoadInvalid(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
	}{
		{"bad port", "server:\n  port: 70000\n"},
		{"bad partitions", "storage:\n  partitions: 0\n"},
		{"bad breaker", "storage:\n  breaker_limit: lots\n"},
		{"bad tick", "scheduler:\n  tick_interval: 0s\n"},
		{"not yaml", "server: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, dir, "c.yaml", tt.content)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

const hostsYAML = `
id: hosts
source:
  index: [events]
  query:
    exists:
      field: host
dest:
  index: hosts
frequency: 30s
sync:
  time:
    field: ts
pivot:
  group_by:
    host:
      terms:
        field: host
  aggregations:
    total:
      sum:
        field: latency
---
id: daily
source:
  index: [events]
dest:
  index: daily
pivot:
  group_by:
    day:
      date_histogram:
        field: ts
        fixed_interval: 1d
  aggregations:
    hosts:
      cardinality:
        field: host
`

func TestLoadTransforms(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "hosts.yaml", hostsYAML)
	writeFile(t, dir, "README.md", "not a transform")

	cfgs, err := LoadTransforms([]string{dir})
	require.NoError(t, err)
	require.Len(t, cfgs, 2)

	hosts := cfgs[0]
	assert.Equal(t, "hosts", hosts.ID)
	assert.Equal(t, 30*time.Second, hosts.Frequency.D())
	assert.True(t, hosts.IsContinuous())
	assert.Equal(t, time.Minute, hosts.TimeSync().Delay.D(), "delay defaults")
	assert.Equal(t, "host", hosts.Pivot.GroupBy["host"].Terms.Field)

	daily := cfgs[1]
	assert.False(t, daily.IsContinuous())
	assert.Equal(t, "1d", daily.Pivot.GroupBy["day"].DateHistogram.FixedInterval)
}

func TestLoadTransformsErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := LoadTransforms([]string{filepath.Join(dir, "missing.yaml")})
	assert.Error(t, err)

	unknown := writeFile(t, dir, "unknown.yaml", "id: x\nsurprise: true\n")
	_, err = LoadTransforms([]string{unknown})
	assert.Error(t, err)

	invalid := writeFile(t, dir, "invalid.yaml", "id: x\nsource:\n  index: [events]\n")
	_, err = LoadTransforms([]string{invalid})
	assert.ErrorContains(t, err, "destination index")

	a := writeFile(t, dir, "a.yml", hostsYAML)
	_, err = LoadTransforms([]string{a, a})
	assert.ErrorContains(t, err, "defined in both")
}
