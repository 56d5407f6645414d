package docstore

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// mergeFields applies a merge write to doc in place: nil values delete.
func mergeFields(doc Document, data map[string]any) {
	for k, v := range data {
		if v == nil {
			delete(doc, k)
			continue
		}
		doc[k] = v
	}
}

// holds evaluates pre against a stored document (nil when missing).
func (p Precondition) holds(doc Document) bool {
	for _, field := range p.Absent {
		if doc == nil {
			continue
		}
		if v, ok := doc[field]; ok && v != nil {
			return false
		}
	}
	if len(p.Equals) > 0 {
		if doc == nil {
			return false
		}
		want, err := normalize(p.Equals)
		if err != nil {
			return false
		}
		for field, v := range want {
			if !valuesEqual(doc[field], v) {
				return false
			}
		}
	}
	return true
}

func (f Filter) matches(doc Document) bool {
	want, err := normalize(map[string]any{"v": f.Value})
	if err != nil {
		return false
	}
	eq := valuesEqual(doc[f.Field], want["v"])
	if f.Op == OpNotEqual {
		return !eq
	}
	return eq
}

func valuesEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

// applyQuery filters, sorts and limits docs in process. The memory, redis and
// sqlite backends share it so their query semantics are identical.
func applyQuery(docs []Document, q Query) []Document {
	out := make([]Document, 0, len(docs))
	for _, doc := range docs {
		if matchesAll(doc, q.Filters) {
			out = append(out, doc)
		}
	}

	// Ties on OrderBy fall back to id order on every backend.
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(out[i][q.OrderBy], out[j][q.OrderBy])
			if q.Desc {
				return c > 0
			}
			return c < 0
		})
	}

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func matchesAll(doc Document, filters []Filter) bool {
	for _, f := range filters {
		if !f.matches(doc) {
			return false
		}
	}
	return true
}

// compareValues orders missing values first, then numbers, strings and booleans
// by their natural order. Timestamps written with Timestamp sort correctly as strings.
func compareValues(a, b any) int {
	if a == nil || b == nil {
		switch {
		case a == nil && b == nil:
			return 0
		case a == nil:
			return -1
		default:
			return 1
		}
	}
	switch av := a.(type) {
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case string:
		if bv, ok := b.(string); ok {
			return strings.Compare(av, bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}
	return strings.Compare(stringify(a), stringify(b))
}

func stringify(v any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}

func cloneDocument(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, inner := range t {
			m[k] = cloneValue(inner)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, inner := range t {
			s[i] = cloneValue(inner)
		}
		return s
	default:
		return v
	}
}
