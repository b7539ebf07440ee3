package query

import (
	"fmt"
)

// Parse reads a query from its map form as found in JSON or YAML
// transform definitions, e.g.
//
//	{"bool": {"filter": [{"term": {"status": "ok"}}, {"range": {"ts": {"gte": 10}}}]}}
//
// A nil or empty map is match_all.
func Parse(raw map[string]interface{}) (Query, error) {
	if len(raw) == 0 {
		return MatchAll{}, nil
	}
	if len(raw) != 1 {
		return nil, fmt.Errorf("query must have exactly one top level clause, got %d", len(raw))
	}

	for kind, body := range raw {
		switch kind {
		case "match_all":
			return MatchAll{}, nil
		case "term":
			field, value, err := singleField(kind, body)
			if err != nil {
				return nil, err
			}
			// {"term": {"f": {"value": x}}} is accepted too
			if m, ok := asMap(value); ok {
				if v, ok := m["value"]; ok {
					value = v
				}
			}
			return &Term{Field: field, Value: value}, nil
		case "terms":
			field, value, err := singleField(kind, body)
			if err != nil {
				return nil, err
			}
			values, ok := value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("terms query on %s requires an array of values", field)
			}
			return NewTerms(field, values...), nil
		case "range":
			field, value, err := singleField(kind, body)
			if err != nil {
				return nil, err
			}
			bounds, ok := asMap(value)
			if !ok {
				return nil, fmt.Errorf("range query on %s requires an object of bounds", field)
			}
			r := &Range{Field: field}
			for op, bound := range bounds {
				switch op {
				case "gt":
					r.GT = bound
				case "gte":
					r.GTE = bound
				case "lt":
					r.LT = bound
				case "lte":
					r.LTE = bound
				default:
					return nil, fmt.Errorf("unknown range operator %q", op)
				}
			}
			return r, nil
		case "exists":
			m, ok := asMap(body)
			if !ok {
				return nil, fmt.Errorf("exists query requires an object")
			}
			field, ok := m["field"].(string)
			if !ok || field == "" {
				return nil, fmt.Errorf("exists query requires a field")
			}
			return &Exists{Field: field}, nil
		case "bool":
			return parseBool(body)
		default:
			return nil, fmt.Errorf("unknown query type %q", kind)
		}
	}
	return nil, fmt.Errorf("unreachable")
}

func parseBool(body interface{}) (Query, error) {
	m, ok := asMap(body)
	if !ok {
		return nil, fmt.Errorf("bool query requires an object")
	}

	b := &Bool{}
	for occur, clauses := range m {
		parsed, err := parseClauses(clauses)
		if err != nil {
			return nil, fmt.Errorf("failed to parse bool.%s: %w", occur, err)
		}
		switch occur {
		case "filter", "must":
			b.Filter = append(b.Filter, parsed...)
		case "must_not":
			b.MustNot = append(b.MustNot, parsed...)
		default:
			return nil, fmt.Errorf("unsupported bool clause %q", occur)
		}
	}
	return b, nil
}

func parseClauses(raw interface{}) ([]Query, error) {
	if m, ok := asMap(raw); ok {
		q, err := Parse(m)
		if err != nil {
			return nil, err
		}
		return []Query{q}, nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an object or an array of objects")
	}
	out := make([]Query, 0, len(list))
	for _, item := range list {
		m, ok := asMap(item)
		if !ok {
			return nil, fmt.Errorf("expected an object, got %T", item)
		}
		q, err := Parse(m)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func singleField(kind string, body interface{}) (string, interface{}, error) {
	m, ok := asMap(body)
	if !ok || len(m) != 1 {
		return "", nil, fmt.Errorf("%s query requires exactly one field", kind)
	}
	for field, value := range m {
		return field, value, nil
	}
	return "", nil, fmt.Errorf("%s query requires exactly one field", kind)
}

// asMap accepts both JSON-decoded and YAML-decoded objects
func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(m))
		for k, val := range m {
			out[fmt.Sprintf("%v", k)] = val
		}
		return out, true
	default:
		return nil, false
	}
}
