package query

import (
	"fmt"
	"sort"
	"strings"
)

// Query is a predicate over a document
type Query interface {
	Match(doc map[string]interface{}) bool
	String() string
}

// MatchAll matches every document
type MatchAll struct{}

func (MatchAll) Match(map[string]interface{}) bool { return true }
func (MatchAll) String() string                     { return "match_all" }

// Term matches documents whose field equals the value
type Term struct {
	Field string
	Value interface{}
}

func (t *Term) Match(doc map[string]interface{}) bool {
	actual, ok := doc[t.Field]
	if !ok {
		return false
	}
	return ValuesMatch(actual, t.Value)
}

func (t *Term) String() string {
	return fmt.Sprintf("term(%s=%s)", t.Field, KeyString(t.Value))
}

// Terms matches documents whose field equals any of the values.
// Values are compared by their canonical key string.
type Terms struct {
	Field  string
	Values []interface{}
	keys   map[string]struct{}
}

// NewTerms creates a terms query
func NewTerms(field string, values ...interface{}) *Terms {
	t := &Terms{Field: field, Values: values}
	t.buildKeys()
	return t
}

func (t *Terms) buildKeys() {
	t.keys = make(map[string]struct{}, len(t.Values))
	for _, v := range t.Values {
		t.keys[KeyString(v)] = struct{}{}
	}
}

func (t *Terms) Match(doc map[string]interface{}) bool {
	actual, ok := doc[t.Field]
	if !ok || actual == nil {
		return false
	}
	if t.keys == nil {
		t.buildKeys()
	}
	_, found := t.keys[KeyString(actual)]
	return found
}

func (t *Terms) String() string {
	keys := make([]string, 0, len(t.Values))
	for _, v := range t.Values {
		keys = append(keys, KeyString(v))
	}
	sort.Strings(keys)
	return fmt.Sprintf("terms(%s in [%s])", t.Field, strings.Join(keys, ","))
}

// Range matches documents whose field falls in the bounds. Nil bounds are open.
type Range struct {
	Field string
	GT    interface{}
	GTE   interface{}
	LT    interface{}
	LTE   interface{}
}

func (r *Range) Match(doc map[string]interface{}) bool {
	actual, ok := doc[r.Field]
	if !ok || actual == nil {
		return false
	}

	check := func(bound interface{}, accept func(int) bool) bool {
		if bound == nil {
			return true
		}
		c, ok := compareRange(actual, bound)
		return ok && accept(c)
	}

	return check(r.GT, func(c int) bool { return c > 0 }) &&
		check(r.GTE, func(c int) bool { return c >= 0 }) &&
		check(r.LT, func(c int) bool { return c < 0 }) &&
		check(r.LTE, func(c int) bool { return c <= 0 })
}

func (r *Range) String() string {
	var parts []string
	if r.GT != nil {
		parts = append(parts, "gt "+KeyString(r.GT))
	}
	if r.GTE != nil {
		parts = append(parts, "gte "+KeyString(r.GTE))
	}
	if r.LT != nil {
		parts = append(parts, "lt "+KeyString(r.LT))
	}
	if r.LTE != nil {
		parts = append(parts, "lte "+KeyString(r.LTE))
	}
	return fmt.Sprintf("range(%s %s)", r.Field, strings.Join(parts, ", "))
}

// Exists matches documents that carry a non-nil value for the field
type Exists struct {
	Field string
}

func (e *Exists) Match(doc map[string]interface{}) bool {
	v, ok := doc[e.Field]
	return ok && v != nil
}

func (e *Exists) String() string {
	return fmt.Sprintf("exists(%s)", e.Field)
}

// Bool combines queries: every filter must match and no must_not may match
type Bool struct {
	Filter  []Query
	MustNot []Query
}

// NewBool creates a bool query from filter clauses, nil clauses are dropped
func NewBool(filters ...Query) *Bool {
	b := &Bool{}
	for _, f := range filters {
		b.AddFilter(f)
	}
	return b
}

// AddFilter appends a filter clause, ignoring nil
func (b *Bool) AddFilter(q Query) *Bool {
	if q != nil {
		b.Filter = append(b.Filter, q)
	}
	return b
}

func (b *Bool) Match(doc map[string]interface{}) bool {
	for _, q := range b.Filter {
		if !q.Match(doc) {
			return false
		}
	}
	for _, q := range b.MustNot {
		if q.Match(doc) {
			return false
		}
	}
	return true
}

func (b *Bool) String() string {
	var sb strings.Builder
	sb.WriteString("bool(")
	for i, q := range b.Filter {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(q.String())
	}
	for _, q := range b.MustNot {
		sb.WriteString(" NOT ")
		sb.WriteString(q.String())
	}
	sb.WriteString(")")
	return sb.String()
}

// TermClauses returns the term and terms clauses that must hold for q to
// match, looking through nested bool filters. Storage uses them to narrow a
// scan with field indexes.
func TermClauses(q Query) []Query {
	switch v := q.(type) {
	case *Term, *Terms:
		return []Query{v}
	case *Bool:
		var out []Query
		for _, f := range v.Filter {
			out = append(out, TermClauses(f)...)
		}
		return out
	default:
		return nil
	}
}
