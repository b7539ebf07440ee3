// Package pivot turns a group_by/aggregations definition into composite
// aggregation requests and turns the resulting buckets into destination rows.
package pivot

import (
	"encoding/base64"
	"encoding/binary"
	"iter"
	"math"
	"time"

	"github.com/adfharrison1/go-pivot/pkg/aggregation"
	"github.com/adfharrison1/go-pivot/pkg/domain"
	"github.com/adfharrison1/go-pivot/pkg/query"
	"github.com/cespare/xxhash/v2"
)

const (
	// CompositeAggregationName names the composite aggregation of every pivot search
	CompositeAggregationName = "_pivot"
	// DocCountField holds the number of source documents of a row
	DocCountField = "_doc_count"
)

// Destination field types
const (
	TypeKeyword = "keyword"
	TypeDouble  = "double"
	TypeLong    = "long"
	TypeDate    = "date"
)

// DocumentCounter receives the number of source documents behind each page
type DocumentCounter interface {
	IncrementNumDocuments(n int64)
}

// Pivot is a compiled pivot definition
type Pivot struct {
	config  *Config
	sources []aggregation.Source
	metrics []aggregation.Metric
}

// New validates and compiles a pivot definition
func New(cfg *Config) (*Pivot, error) {
	sources, metrics, err := cfg.compile()
	if err != nil {
		return nil, err
	}
	return &Pivot{config: cfg, sources: sources, metrics: metrics}, nil
}

// Config returns the definition the pivot was built from
func (p *Pivot) Config() *Config {
	return p.config
}

// InitialPageSize is max_page_search_size when set, DefaultInitialPageSize otherwise
func (p *Pivot) InitialPageSize() int {
	if p.config.MaxPageSearchSize != nil {
		return *p.config.MaxPageSearchSize
	}
	return DefaultInitialPageSize
}

// BuildAggregation builds one page request of the full pivot
func (p *Pivot) BuildAggregation(after map[string]interface{}, pageSize int) *aggregation.Composite {
	return &aggregation.Composite{
		Name:    CompositeAggregationName,
		Size:    pageSize,
		After:   after,
		Sources: p.sources,
		Metrics: p.metrics,
	}
}

// BuildChangeDetectionAggregation builds a keys-only composite over the
// terms groups, used to find which groups saw new data.
func (p *Pivot) BuildChangeDetectionAggregation(after map[string]interface{}, pageSize int) *aggregation.Composite {
	var sources []aggregation.Source
	for _, s := range p.sources {
		if s.Type == aggregation.SourceTerms {
			sources = append(sources, s)
		}
	}
	return &aggregation.Composite{
		Name:    CompositeAggregationName,
		Size:    pageSize,
		After:   after,
		Sources: sources,
	}
}

// InitialChangeDetectionKeyMap returns an empty key set for every terms
// group. Groups of other types cannot be filtered by key and are left out.
func (p *Pivot) InitialChangeDetectionKeyMap() map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, s := range p.sources {
		if s.Type == aggregation.SourceTerms {
			out[s.Name] = make(map[string]struct{})
		}
	}
	return out
}

// FilterForChangedGroups restricts a search to the changed group keys. A
// group present with no keys matches nothing. It returns nil when changed
// names no terms group.
func (p *Pivot) FilterForChangedGroups(changed map[string]map[string]struct{}) query.Query {
	var clauses []query.Query
	for _, s := range p.sources {
		keys, ok := changed[s.Name]
		if !ok || s.Type != aggregation.SourceTerms {
			continue
		}
		values := make([]interface{}, 0, len(keys))
		for k := range keys {
			values = append(values, k)
		}
		clauses = append(clauses, query.NewTerms(s.Field, values...))
	}

	switch len(clauses) {
	case 0:
		return nil
	case 1:
		return clauses[0]
	default:
		return query.NewBool(clauses...)
	}
}

// FieldMappings returns the destination field types of every row field
func (p *Pivot) FieldMappings() map[string]string {
	out := make(map[string]string, len(p.sources)+len(p.metrics))
	for _, s := range p.sources {
		switch s.Type {
		case aggregation.SourceTerms:
			out[s.Name] = TypeKeyword
		case aggregation.SourceHistogram:
			out[s.Name] = TypeDouble
		case aggregation.SourceDateHistogram:
			out[s.Name] = TypeDate
		}
	}
	for _, m := range p.metrics {
		switch m.Type {
		case aggregation.MetricValueCount, aggregation.MetricCardinality:
			out[m.Name] = TypeLong
		default:
			out[m.Name] = TypeDouble
		}
	}
	return out
}

// ExtractResults converts a composite page into destination rows. Every row
// carries the group values, the metric values, DocCountField and an _id
// derived from the group values. counter is incremented by each bucket's
// document count as the row is produced.
func (p *Pivot) ExtractResults(page *aggregation.Page, fieldMappings map[string]string, counter DocumentCounter) iter.Seq[map[string]interface{}] {
	return func(yield func(map[string]interface{}) bool) {
		for _, bucket := range page.Buckets {
			if counter != nil {
				counter.IncrementNumDocuments(bucket.DocCount)
			}

			row := make(map[string]interface{}, len(p.sources)+len(p.metrics)+2)
			for _, s := range p.sources {
				row[s.Name] = convert(bucket.Key[s.Name], fieldMappings[s.Name])
			}
			for _, m := range p.metrics {
				row[m.Name] = convert(bucket.Values[m.Name], fieldMappings[m.Name])
			}
			row[DocCountField] = bucket.DocCount
			row[domain.IDField] = p.documentID(bucket.Key)

			if !yield(row) {
				return
			}
		}
	}
}

// documentID hashes the ordered group values, so the same group always
// maps to the same destination document
func (p *Pivot) documentID(key map[string]interface{}) string {
	h := xxhash.New()
	for _, s := range p.sources {
		_, _ = h.WriteString(s.Name)
		_, _ = h.Write([]byte{0})
		_, _ = h.WriteString(query.KeyString(key[s.Name]))
		_, _ = h.Write([]byte{0})
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], h.Sum64())
	return base64.RawURLEncoding.EncodeToString(buf[:])
}

// convert casts a value to its destination type
func convert(v interface{}, fieldType string) interface{} {
	if v == nil {
		return nil
	}
	switch fieldType {
	case TypeLong:
		if f, ok := query.ToFloat64(v); ok {
			return int64(math.Round(f))
		}
	case TypeDouble:
		if f, ok := query.ToFloat64(v); ok {
			return f
		}
	case TypeDate:
		if ms, ok := query.ToMillis(v); ok {
			return time.UnixMilli(int64(ms)).UTC().Format(time.RFC3339Nano)
		}
	}
	return v
}
