package kb

import "reflect"

// Entry is one knowledge base record.
type Entry map[string]any

// Filter selects entries whose fields all equal the given values.
// An empty filter matches every entry.
type Filter map[string]any

// Store is a knowledge base backend. Update upserts: when the filter
// matches nothing, the update document is inserted as a new entry and
// the returned count is zero.
type Store interface {
	Create(e Entry) (string, error)
	Read(f Filter) ([]Entry, error)
	Update(f Filter, set Entry) (int, error)
	Delete(f Filter) (int, error)
	Count(f Filter) (int, error)
	Size() (int, error)
	Close() error
}

func matchEntry(e Entry, f Filter) bool {
	for k, want := range f {
		got, ok := e[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

// equalValue compares loosely across numeric types so that filters
// written with Go ints match values decoded from JSON as float64.
func equalValue(a, b any) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if aok != bok {
		return false
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
