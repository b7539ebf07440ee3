// Package aggregation implements composite aggregations: documents are grouped
// by the values of one or more sources and paged in key order with an
// after-key cursor. Metrics are computed per group.
package aggregation

import (
	"fmt"
	"math"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/query"
)

// SourceType is the kind of grouping source
type SourceType string

const (
	SourceTerms         SourceType = "terms"
	SourceHistogram     SourceType = "histogram"
	SourceDateHistogram SourceType = "date_histogram"
)

// MetricType is the kind of per-group metric
type MetricType string

const (
	MetricAvg         MetricType = "avg"
	MetricSum         MetricType = "sum"
	MetricMin         MetricType = "min"
	MetricMax         MetricType = "max"
	MetricValueCount  MetricType = "value_count"
	MetricCardinality MetricType = "cardinality"
)

// Source produces one component of a composite key
type Source struct {
	Name          string        `json:"name" msgpack:"name"`
	Type          SourceType    `json:"type" msgpack:"type"`
	Field         string        `json:"field" msgpack:"field"`
	Interval      float64       `json:"interval,omitempty" msgpack:"interval,omitempty"`
	FixedInterval time.Duration `json:"fixed_interval,omitempty" msgpack:"fixed_interval,omitempty"`
}

// Metric is computed over the documents of each group
type Metric struct {
	Name  string     `json:"name" msgpack:"name"`
	Type  MetricType `json:"type" msgpack:"type"`
	Field string     `json:"field" msgpack:"field"`
}

// Composite describes one page request of a composite aggregation
type Composite struct {
	Name    string                 `json:"name"`
	Size    int                    `json:"size"`
	After   map[string]interface{} `json:"after,omitempty"`
	Sources []Source               `json:"sources"`
	Metrics []Metric               `json:"metrics,omitempty"`
}

// Bucket is one group of a composite page
type Bucket struct {
	Key      map[string]interface{} `json:"key"`
	DocCount int64                  `json:"doc_count"`
	Values   map[string]interface{} `json:"values,omitempty"`
}

// Page is the result of a composite aggregation request
type Page struct {
	Name     string                 `json:"name"`
	Buckets  []Bucket               `json:"buckets"`
	AfterKey map[string]interface{} `json:"after_key,omitempty"`
}

// Validate checks the aggregation can be executed
func (c *Composite) Validate() error {
	if c.Size <= 0 {
		return fmt.Errorf("composite aggregation [%s] size must be positive, got %d", c.Name, c.Size)
	}
	if len(c.Sources) == 0 {
		return fmt.Errorf("composite aggregation [%s] requires at least one source", c.Name)
	}

	names := make(map[string]bool)
	for _, s := range c.Sources {
		if s.Name == "" || s.Field == "" {
			return fmt.Errorf("composite aggregation [%s] source requires name and field", c.Name)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate source name [%s]", s.Name)
		}
		names[s.Name] = true

		switch s.Type {
		case SourceTerms:
		case SourceHistogram:
			if s.Interval <= 0 {
				return fmt.Errorf("histogram source [%s] requires a positive interval", s.Name)
			}
		case SourceDateHistogram:
			if s.FixedInterval <= 0 {
				return fmt.Errorf("date_histogram source [%s] requires a positive fixed_interval", s.Name)
			}
		default:
			return fmt.Errorf("unsupported source type [%s]", s.Type)
		}
	}

	for _, m := range c.Metrics {
		if m.Name == "" || m.Field == "" {
			return fmt.Errorf("metric requires name and field")
		}
		if names[m.Name] {
			return fmt.Errorf("duplicate aggregation name [%s]", m.Name)
		}
		names[m.Name] = true

		switch m.Type {
		case MetricAvg, MetricSum, MetricMin, MetricMax, MetricValueCount, MetricCardinality:
		default:
			return fmt.Errorf("unsupported metric type [%s]", m.Type)
		}
	}
	return nil
}

// Value extracts the source key for a document. ok is false when the
// document has no usable value for the source field.
func (s Source) Value(doc map[string]interface{}) (interface{}, bool) {
	raw, exists := doc[s.Field]
	if !exists || raw == nil {
		return nil, false
	}

	switch s.Type {
	case SourceTerms:
		switch raw.(type) {
		case map[string]interface{}, []interface{}:
			return nil, false
		}
		return raw, true
	case SourceHistogram:
		v, ok := query.ToFloat64(raw)
		if !ok {
			return nil, false
		}
		return math.Floor(v/s.Interval) * s.Interval, true
	case SourceDateHistogram:
		millis, ok := query.ToMillis(raw)
		if !ok {
			return nil, false
		}
		interval := s.FixedInterval.Milliseconds()
		ms := int64(millis)
		bucket := ms - ms%interval
		if ms < 0 && ms%interval != 0 {
			bucket -= interval
		}
		return bucket, true
	default:
		return nil, false
	}
}

// CompareKeys orders two composite keys by their sources, in source order
func CompareKeys(sources []Source, a, b map[string]interface{}) int {
	for _, s := range sources {
		if c := query.Compare(a[s.Name], b[s.Name]); c != 0 {
			return c
		}
	}
	return 0
}

// EstimateBucketBytes estimates the memory one in-flight bucket of this
// aggregation holds. The storage circuit breaker reserves this much per
// bucket while a search runs.
func (c *Composite) EstimateBucketBytes() int64 {
	const (
		bucketOverhead = 96
		perSource      = 48
		perMetric      = 40
		perCardinality = 512
	)
	size := int64(bucketOverhead + perSource*len(c.Sources))
	for _, m := range c.Metrics {
		if m.Type == MetricCardinality {
			size += perCardinality
		} else {
			size += perMetric
		}
	}
	return size
}
