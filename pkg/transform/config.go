package transform

import (
	"fmt"
	"regexp"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/pivot"
	"github.com/adfharrison1/go-pivot/pkg/query"
)

const (
	DefaultFrequency = Duration(time.Minute)
	MinFrequency     = Duration(time.Second)
	MaxFrequency     = Duration(time.Hour)
	DefaultSyncDelay = Duration(time.Minute)
)

var validID = regexp.MustCompile(`^[a-z0-9][a-z0-9_\-]{0,63}$`)

// SourceConfig names the collections a transform reads and an optional query
type SourceConfig struct {
	Index []string               `json:"index" yaml:"index"`
	Query map[string]interface{} `json:"query,omitempty" yaml:"query,omitempty"`
}

// DestConfig names the collection a transform writes and an optional pipeline
type DestConfig struct {
	Index    string `json:"index" yaml:"index"`
	Pipeline string `json:"pipeline,omitempty" yaml:"pipeline,omitempty"`
}

// TimeSyncConfig makes a transform continuous: each checkpoint covers
// documents whose Field is older than now minus Delay.
type TimeSyncConfig struct {
	Field string   `json:"field" yaml:"field"`
	Delay Duration `json:"delay" yaml:"delay"`
}

// SyncConfig holds the synchronisation settings of a continuous transform
type SyncConfig struct {
	Time *TimeSyncConfig `json:"time,omitempty" yaml:"time,omitempty"`
}

// Config is a transform definition. It is immutable once a transform runs.
type Config struct {
	ID          string        `json:"id" yaml:"id"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Source      SourceConfig  `json:"source" yaml:"source"`
	Dest        DestConfig    `json:"dest" yaml:"dest"`
	Frequency   Duration      `json:"frequency,omitempty" yaml:"frequency,omitempty"`
	Sync        *SyncConfig   `json:"sync,omitempty" yaml:"sync,omitempty"`
	Pivot       *pivot.Config `json:"pivot" yaml:"pivot"`
	CreateTime  int64         `json:"create_time,omitempty" yaml:"-"`
}

// ApplyDefaults fills unset frequency and delay
func (c *Config) ApplyDefaults() {
	if c.Frequency == 0 {
		c.Frequency = DefaultFrequency
	}
	if ts := c.TimeSync(); ts != nil && ts.Delay == 0 {
		ts.Delay = DefaultSyncDelay
	}
}

// Validate checks the definition
func (c *Config) Validate() error {
	if !validID.MatchString(c.ID) {
		return fmt.Errorf("invalid transform id [%s]: must be lowercase alphanumeric, '-' or '_', at most 64 characters", c.ID)
	}
	if len(c.Source.Index) == 0 {
		return fmt.Errorf("transform [%s] requires at least one source index", c.ID)
	}
	for _, idx := range c.Source.Index {
		if idx == "" {
			return fmt.Errorf("transform [%s] has an empty source index", c.ID)
		}
		if idx == c.Dest.Index {
			return fmt.Errorf("transform [%s] destination index [%s] is also a source index", c.ID, idx)
		}
	}
	if c.Dest.Index == "" {
		return fmt.Errorf("transform [%s] requires a destination index", c.ID)
	}
	if _, err := c.SourceQuery(); err != nil {
		return fmt.Errorf("transform [%s] has an invalid source query: %w", c.ID, err)
	}
	if c.Frequency != 0 && (c.Frequency < MinFrequency || c.Frequency > MaxFrequency) {
		return fmt.Errorf("transform [%s] frequency [%s] must be between %s and %s", c.ID, c.Frequency, MinFrequency, MaxFrequency)
	}
	if c.Sync != nil {
		if c.Sync.Time == nil {
			return fmt.Errorf("transform [%s] sync requires a time configuration", c.ID)
		}
		if c.Sync.Time.Field == "" {
			return fmt.Errorf("transform [%s] sync.time requires a field", c.ID)
		}
		if c.Sync.Time.Delay < 0 {
			return fmt.Errorf("transform [%s] sync.time delay cannot be negative", c.ID)
		}
	}
	if c.Pivot == nil {
		return fmt.Errorf("transform [%s] requires a pivot", c.ID)
	}
	if err := c.Pivot.Validate(); err != nil {
		return fmt.Errorf("transform [%s] has an invalid pivot: %w", c.ID, err)
	}
	return nil
}

// SourceQuery parses the static source query
func (c *Config) SourceQuery() (query.Query, error) {
	return query.Parse(c.Source.Query)
}

// TimeSync returns the time sync settings, nil for batch transforms
func (c *Config) TimeSync() *TimeSyncConfig {
	if c.Sync == nil {
		return nil
	}
	return c.Sync.Time
}

// IsContinuous reports whether the transform keeps running after its first checkpoint
func (c *Config) IsContinuous() bool {
	return c.TimeSync() != nil
}

// RangeQuery selects documents below the checkpoint's time upper bound
func (ts *TimeSyncConfig) RangeQuery(cp *Checkpoint) query.Query {
	return &query.Range{Field: ts.Field, LT: cp.TimeUpperBound}
}

// RangeQueryBetween selects documents that arrived between two checkpoints
func (ts *TimeSyncConfig) RangeQueryBetween(old, next *Checkpoint) query.Query {
	return &query.Range{Field: ts.Field, GTE: old.TimeUpperBound, LT: next.TimeUpperBound}
}
