package docstore

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Filter is an equality predicate on a top-level field.
type Filter struct {
	Field string
	Value interface{}
}

// Query narrows a collection read. Filters are AND-ed.
type Query struct {
	Filters []Filter
	OrderBy string
	Desc    bool
	Limit   int
}

// Where returns a copy of q with an extra equality filter.
func (q Query) Where(field string, value interface{}) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

// Order returns a copy of q sorted by field.
func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = field
	q.Desc = desc
	return q
}

// Take returns a copy of q limited to n results.
func (q Query) Take(n int) Query {
	q.Limit = n
	return q
}

// Matches reports whether data satisfies every filter.
func (q Query) Matches(data map[string]interface{}) bool {
	for _, f := range q.Filters {
		got, ok := data[f.Field]
		if !ok {
			return false
		}
		if !reflect.DeepEqual(got, normalizeValue(f.Value)) {
			return false
		}
	}
	return true
}

// apply filters, sorts and limits snapshots in memory. Backends push what
// they can down to the database and finish with apply.
func (q Query) apply(snaps []*Snapshot) []*Snapshot {
	out := snaps[:0]
	for _, s := range snaps {
		if q.Matches(s.Data) {
			out = append(out, s)
		}
	}

	if q.OrderBy != "" {
		sort.SliceStable(out, func(i, j int) bool {
			c := compareValues(fieldOf(out[i], q.OrderBy), fieldOf(out[j], q.OrderBy))
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

func fieldOf(s *Snapshot, field string) interface{} {
	switch field {
	case "__createTime":
		return s.CreateTime
	case "__updateTime":
		return s.UpdateTime
	case "__id":
		return s.ID
	}
	return s.Data[field]
}

func compareValues(a, b interface{}) int {
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
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
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
	case string:
		if bv, ok := b.(string); ok {
			// timestamps are stored as RFC 3339 strings with variable precision
			ta, errA := time.Parse(time.RFC3339Nano, av)
			tb, errB := time.Parse(time.RFC3339Nano, bv)
			if errA == nil && errB == nil {
				return ta.Compare(tb)
			}
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	}
	return compareValues(fmt.Sprint(a), fmt.Sprint(b))
}

// toMap converts a struct or map into plain JSON-compatible fields.
func toMap(data interface{}) (map[string]interface{}, error) {
	if data == nil {
		return map[string]interface{}{}, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("docstore: encode document: %w", err)
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("docstore: document must encode to an object: %w", err)
	}
	return out, nil
}

// normalizeValue maps a Go value onto its JSON-decoded form so that
// int(3) compares equal to a stored float64(3).
func normalizeValue(v interface{}) interface{} {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func mergeFields(dst map[string]interface{}, fields map[string]interface{}) (map[string]interface{}, error) {
	if dst == nil {
		dst = map[string]interface{}{}
	}
	patch, err := toMap(fields)
	if err != nil {
		return nil, err
	}
	for k, v := range patch {
		dst[k] = v
	}
	return dst, nil
}

// Fields returns data as the plain field map a backend would store.
func Fields(data interface{}) (map[string]interface{}, error) {
	return toMap(data)
}

// Merged returns a copy of current with fields applied the way Update does.
func Merged(current, fields map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(current)+len(fields))
	for k, v := range current {
		out[k] = v
	}
	return mergeFields(out, fields)
}
