package adapter

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// Matches evaluates a single filter against a document payload. It defines
// the reference semantics of the neutral query AST; adapters must translate
// the AST so their engines agree with this evaluation. The in-memory store
// and the document adapter's client-side subscription filtering both use it
// directly.
func Matches(data map[string]any, f Filter) bool {
	value, ok := lookupField(data, f.Field)

	switch f.Operator {
	case OpEqual:
		return ok && equalValues(value, f.Value)
	case OpNotEqual:
		return !ok || !equalValues(value, f.Value)
	case OpLessThan, OpLessThanOrEqual, OpGreaterThan, OpGreaterThanOrEqual:
		if !ok {
			return false
		}
		cmp, comparable := compareValues(value, f.Value)
		if !comparable {
			return false
		}
		switch f.Operator {
		case OpLessThan:
			return cmp < 0
		case OpLessThanOrEqual:
			return cmp <= 0
		case OpGreaterThan:
			return cmp > 0
		default:
			return cmp >= 0
		}
	case OpIn:
		if !ok {
			return false
		}
		for _, candidate := range asSlice(f.Value) {
			if equalValues(value, candidate) {
				return true
			}
		}
		return false
	case OpArrayContains:
		if !ok {
			return false
		}
		for _, elem := range asSlice(value) {
			if equalValues(elem, f.Value) {
				return true
			}
		}
		return false
	case OpArrayContainsAny:
		if !ok {
			return false
		}
		for _, elem := range asSlice(value) {
			for _, candidate := range asSlice(f.Value) {
				if equalValues(elem, candidate) {
					return true
				}
			}
		}
		return false
	default:
		return false
	}
}

// MatchesAll reports whether data satisfies every filter.
func MatchesAll(data map[string]any, filters []Filter) bool {
	for _, f := range filters {
		if !Matches(data, f) {
			return false
		}
	}
	return true
}

// lookupField resolves a possibly dotted field path in the payload.
func lookupField(data map[string]any, field string) (any, bool) {
	parts := strings.Split(field, ".")
	var current any = data
	for _, part := range parts {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// equalValues compares two values with numeric coercion, so an int64 from
// one engine equals the float64 another engine decodes for the same field.
func equalValues(a, b any) bool {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			return af == bf
		}
		return false
	}
	return reflect.DeepEqual(a, b)
}

// compareValues orders two values. The second return is false when the pair
// has no defined ordering.
func compareValues(a, b any) (int, bool) {
	if af, aok := asFloat(a); aok {
		if bf, bok := asFloat(b); bok {
			switch {
			case af < bf:
				return -1, true
			case af > bf:
				return 1, true
			default:
				return 0, true
			}
		}
		return 0, false
	}
	as, aok := a.(string)
	bs, bok := b.(string)
	if aok && bok {
		return strings.Compare(as, bs), true
	}
	return 0, false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

// asSlice widens any slice value to []any.
func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

// SortDocuments orders docs in place according to the query's order-by
// terms, using the same comparison semantics as filtering.
func SortDocuments(docs []*Document, orderBy []OrderBy) {
	if len(orderBy) == 0 {
		return
	}
	sort.SliceStable(docs, func(i, j int) bool {
		a, b := docs[i], docs[j]
		for _, o := range orderBy {
			av, _ := lookupField(a.Data, o.Field)
			bv, _ := lookupField(b.Data, o.Field)
			cmp, comparable := compareValues(av, bv)
			if !comparable {
				cmp = strings.Compare(fmt.Sprint(av), fmt.Sprint(bv))
			}
			if cmp == 0 {
				continue
			}
			if o.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})
}
