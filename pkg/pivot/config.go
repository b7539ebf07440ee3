package pivot

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/aggregation"
)

const (
	// DefaultInitialPageSize is the composite page size a cycle starts with
	DefaultInitialPageSize = 500
	// MinPageSearchSize and MaxPageSearchSize bound max_page_search_size
	MinPageSearchSize = 10
	MaxPageSearchSize = 10000
)

// TermsSource groups by distinct field values
type TermsSource struct {
	Field string `json:"field" yaml:"field"`
}

// HistogramSource groups numeric values into fixed width buckets
type HistogramSource struct {
	Field    string  `json:"field" yaml:"field"`
	Interval float64 `json:"interval" yaml:"interval"`
}

// DateHistogramSource groups timestamps into fixed intervals such as "1h" or "1d"
type DateHistogramSource struct {
	Field         string `json:"field" yaml:"field"`
	FixedInterval string `json:"fixed_interval" yaml:"fixed_interval"`
}

// GroupSource is one group_by entry, exactly one field must be set
type GroupSource struct {
	Terms         *TermsSource         `json:"terms,omitempty" yaml:"terms,omitempty"`
	Histogram     *HistogramSource     `json:"histogram,omitempty" yaml:"histogram,omitempty"`
	DateHistogram *DateHistogramSource `json:"date_histogram,omitempty" yaml:"date_histogram,omitempty"`
}

// FieldRef names the field a metric reads
type FieldRef struct {
	Field string `json:"field" yaml:"field"`
}

// AggSource is one aggregations entry keyed by metric type,
// e.g. {"avg": {"field": "latency"}}
type AggSource map[string]FieldRef

// Config is the pivot section of a transform
type Config struct {
	GroupBy           map[string]GroupSource `json:"group_by" yaml:"group_by"`
	Aggregations      map[string]AggSource   `json:"aggregations" yaml:"aggregations"`
	MaxPageSearchSize *int                   `json:"max_page_search_size,omitempty" yaml:"max_page_search_size,omitempty"`
}

// Validate checks the pivot definition
func (c *Config) Validate() error {
	_, _, err := c.compile()
	return err
}

// GroupNames returns the group_by names in composite source order
func (c *Config) GroupNames() []string {
	names := make([]string, 0, len(c.GroupBy))
	for name := range c.GroupBy {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Config) aggNames() []string {
	names := make([]string, 0, len(c.Aggregations))
	for name := range c.Aggregations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// compile turns the config into aggregation sources and metrics
func (c *Config) compile() ([]aggregation.Source, []aggregation.Metric, error) {
	if len(c.GroupBy) == 0 {
		return nil, nil, fmt.Errorf("pivot requires at least one group_by entry")
	}
	if c.MaxPageSearchSize != nil {
		if size := *c.MaxPageSearchSize; size < MinPageSearchSize || size > MaxPageSearchSize {
			return nil, nil, fmt.Errorf("max_page_search_size [%d] must be between %d and %d", size, MinPageSearchSize, MaxPageSearchSize)
		}
	}

	names := make(map[string]bool)
	checkName := func(name string) error {
		if name == "" || strings.HasPrefix(name, "_") {
			return fmt.Errorf("invalid name [%s]: names cannot be empty or start with '_'", name)
		}
		if names[name] {
			return fmt.Errorf("duplicate name [%s] in group_by and aggregations", name)
		}
		names[name] = true
		return nil
	}

	var sources []aggregation.Source
	for _, name := range c.GroupNames() {
		if err := checkName(name); err != nil {
			return nil, nil, err
		}
		src, err := compileGroup(name, c.GroupBy[name])
		if err != nil {
			return nil, nil, err
		}
		sources = append(sources, src)
	}

	var metrics []aggregation.Metric
	for _, name := range c.aggNames() {
		if err := checkName(name); err != nil {
			return nil, nil, err
		}
		agg := c.Aggregations[name]
		if len(agg) != 1 {
			return nil, nil, fmt.Errorf("aggregation [%s] must define exactly one metric", name)
		}
		for typ, ref := range agg {
			metricType := aggregation.MetricType(typ)
			switch metricType {
			case aggregation.MetricAvg, aggregation.MetricSum, aggregation.MetricMin, aggregation.MetricMax,
				aggregation.MetricValueCount, aggregation.MetricCardinality:
			default:
				return nil, nil, fmt.Errorf("aggregation [%s] has unsupported type [%s]", name, typ)
			}
			if ref.Field == "" {
				return nil, nil, fmt.Errorf("aggregation [%s] requires a field", name)
			}
			metrics = append(metrics, aggregation.Metric{Name: name, Type: metricType, Field: ref.Field})
		}
	}

	return sources, metrics, nil
}

func compileGroup(name string, g GroupSource) (aggregation.Source, error) {
	set := 0
	var src aggregation.Source
	if g.Terms != nil {
		set++
		src = aggregation.Source{Name: name, Type: aggregation.SourceTerms, Field: g.Terms.Field}
	}
	if g.Histogram != nil {
		set++
		if g.Histogram.Interval <= 0 {
			return src, fmt.Errorf("group [%s] histogram interval must be positive", name)
		}
		src = aggregation.Source{Name: name, Type: aggregation.SourceHistogram, Field: g.Histogram.Field, Interval: g.Histogram.Interval}
	}
	if g.DateHistogram != nil {
		set++
		interval, err := ParseFixedInterval(g.DateHistogram.FixedInterval)
		if err != nil {
			return src, fmt.Errorf("group [%s]: %w", name, err)
		}
		src = aggregation.Source{Name: name, Type: aggregation.SourceDateHistogram, Field: g.DateHistogram.Field, FixedInterval: interval}
	}
	if set != 1 {
		return src, fmt.Errorf("group [%s] must define exactly one of terms, histogram, date_histogram", name)
	}
	if src.Field == "" {
		return src, fmt.Errorf("group [%s] requires a field", name)
	}
	return src, nil
}

// ParseFixedInterval parses intervals like "500ms", "30s", "5m", "1h" and "1d"
func ParseFixedInterval(s string) (time.Duration, error) {
	if s == "" {
		return 0, fmt.Errorf("fixed_interval is required")
	}
	var d time.Duration
	var err error
	if strings.HasSuffix(s, "d") {
		var days int
		days, err = strconv.Atoi(strings.TrimSuffix(s, "d"))
		d = time.Duration(days) * 24 * time.Hour
	} else {
		d, err = time.ParseDuration(s)
	}
	if err != nil {
		return 0, fmt.Errorf("invalid fixed_interval [%s]: %w", s, err)
	}
	if d < time.Millisecond {
		return 0, fmt.Errorf("fixed_interval [%s] must be at least 1ms", s)
	}
	return d, nil
}
