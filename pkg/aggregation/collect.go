package aggregation

import (
	"sort"
	"strings"

	"github.com/adfharrison1/go-pivot/pkg/query"
)

// metricState accumulates one metric for one group
type metricState struct {
	sum      float64
	count    int64
	min      float64
	max      float64
	distinct map[string]struct{}
}

func (m *metricState) add(typ MetricType, value interface{}) {
	if typ == MetricCardinality {
		if m.distinct == nil {
			m.distinct = make(map[string]struct{})
		}
		m.distinct[query.KeyString(value)] = struct{}{}
		return
	}
	if typ == MetricValueCount {
		m.count++
		return
	}

	v, ok := query.ToFloat64(value)
	if !ok {
		return
	}
	if m.count == 0 || v < m.min {
		m.min = v
	}
	if m.count == 0 || v > m.max {
		m.max = v
	}
	m.sum += v
	m.count++
}

func (m *metricState) merge(other *metricState) {
	if other.count > 0 {
		if m.count == 0 || other.min < m.min {
			m.min = other.min
		}
		if m.count == 0 || other.max > m.max {
			m.max = other.max
		}
	}
	m.sum += other.sum
	m.count += other.count
	if len(other.distinct) > 0 {
		if m.distinct == nil {
			m.distinct = make(map[string]struct{}, len(other.distinct))
		}
		for k := range other.distinct {
			m.distinct[k] = struct{}{}
		}
	}
}

func (m *metricState) result(typ MetricType) interface{} {
	switch typ {
	case MetricSum:
		return m.sum
	case MetricValueCount:
		return m.count
	case MetricCardinality:
		return int64(len(m.distinct))
	}
	if m.count == 0 {
		return nil
	}
	switch typ {
	case MetricAvg:
		return m.sum / float64(m.count)
	case MetricMin:
		return m.min
	case MetricMax:
		return m.max
	}
	return nil
}

type group struct {
	key      map[string]interface{}
	docCount int64
	metrics  []*metricState
}

// Partial holds the groups collected from one partition of a collection
type Partial struct {
	agg    *Composite
	groups map[string]*group
}

// NewPartial starts collecting for the given aggregation
func NewPartial(agg *Composite) *Partial {
	return &Partial{agg: agg, groups: make(map[string]*group)}
}

// Len returns the number of groups collected so far
func (p *Partial) Len() int {
	return len(p.groups)
}

// Collect adds a document. Documents missing a source value or whose key is
// not after the cursor are skipped. It reports whether the document was
// counted.
func (p *Partial) Collect(doc map[string]interface{}) bool {
	key := make(map[string]interface{}, len(p.agg.Sources))
	for _, s := range p.agg.Sources {
		v, ok := s.Value(doc)
		if !ok {
			return false
		}
		key[s.Name] = v
	}

	if p.agg.After != nil && CompareKeys(p.agg.Sources, key, p.agg.After) <= 0 {
		return false
	}

	id := groupID(p.agg.Sources, key)
	g, ok := p.groups[id]
	if !ok {
		g = &group{key: key, metrics: make([]*metricState, len(p.agg.Metrics))}
		for i := range g.metrics {
			g.metrics[i] = &metricState{}
		}
		p.groups[id] = g
	}
	g.docCount++

	for i, m := range p.agg.Metrics {
		if v, ok := doc[m.Field]; ok && v != nil {
			g.metrics[i].add(m.Type, v)
		}
	}
	return true
}

// Trim keeps only the size smallest groups. Any group in the global first
// page is also among the first size groups of every partition it occurs in,
// so trimming before Merge does not change the result.
func (p *Partial) Trim(size int) {
	if len(p.groups) <= size {
		return
	}
	sorted := p.sorted()
	for _, id := range sorted[size:] {
		delete(p.groups, id)
	}
}

func (p *Partial) sorted() []string {
	ids := make([]string, 0, len(p.groups))
	for id := range p.groups {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return CompareKeys(p.agg.Sources, p.groups[ids[i]].key, p.groups[ids[j]].key) < 0
	})
	return ids
}

// Merge combines partition partials into a single page ordered by key,
// truncated to the aggregation size. The after-key is the key of the last
// bucket, nil when the page is empty.
func Merge(agg *Composite, partials ...*Partial) *Page {
	combined := NewPartial(agg)
	for _, p := range partials {
		if p == nil {
			continue
		}
		for id, g := range p.groups {
			existing, ok := combined.groups[id]
			if !ok {
				existing = &group{key: g.key, metrics: make([]*metricState, len(agg.Metrics))}
				for i := range existing.metrics {
					existing.metrics[i] = &metricState{}
				}
				combined.groups[id] = existing
			}
			existing.docCount += g.docCount
			for i := range g.metrics {
				existing.metrics[i].merge(g.metrics[i])
			}
		}
	}

	ids := combined.sorted()
	if len(ids) > agg.Size {
		ids = ids[:agg.Size]
	}

	page := &Page{Name: agg.Name, Buckets: make([]Bucket, 0, len(ids))}
	for _, id := range ids {
		g := combined.groups[id]
		b := Bucket{Key: g.key, DocCount: g.docCount}
		if len(agg.Metrics) > 0 {
			b.Values = make(map[string]interface{}, len(agg.Metrics))
			for i, m := range agg.Metrics {
				b.Values[m.Name] = g.metrics[i].result(m.Type)
			}
		}
		page.Buckets = append(page.Buckets, b)
	}

	if n := len(page.Buckets); n > 0 {
		last := page.Buckets[n-1].Key
		page.AfterKey = make(map[string]interface{}, len(last))
		for k, v := range last {
			page.AfterKey[k] = v
		}
	}
	return page
}

// groupID is a type-tagged canonical form of a composite key
func groupID(sources []Source, key map[string]interface{}) string {
	var sb strings.Builder
	for i, s := range sources {
		if i > 0 {
			sb.WriteByte(0x1f)
		}
		v := key[s.Name]
		switch v.(type) {
		case string:
			sb.WriteByte('s')
		case bool:
			sb.WriteByte('b')
		default:
			sb.WriteByte('n')
		}
		sb.WriteString(query.KeyString(v))
	}
	return sb.String()
}
