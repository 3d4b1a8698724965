package scan

import (
	"github.com/pomaidb/keyspace/internal/keyspace/dict"
	"github.com/pomaidb/keyspace/internal/keyspace/object"
	"github.com/pomaidb/keyspace/internal/keyspace/setval"
)

// DictSource adapts any dict.Dict[V] into a Source. Used directly for the
// keyspace dict (V = *object.Object) and for any dict-backed datatype.
type DictSource[V any] struct {
	D *dict.Dict[V]
}

// Compact always reports false: a raw Dict has no compact encoding.
func (s DictSource[V]) Compact() ([]string, bool) { return nil, false }

// ScanDict delegates straight to dict.Dict.Scan, dropping the value.
func (s DictSource[V]) ScanDict(cursor uint64, emit func(key string)) uint64 {
	return s.D.Scan(cursor, func(k string, _ V) { emit(k) })
}

// SetSource adapts a setval.SetValue: compact (IntSet) sets dump in one
// shot, hashtable-encoded sets route through the dict-scan path.
type SetSource struct {
	S *setval.SetValue
}

// Compact reports true (with every member) while the set is IntSet-encoded.
func (s SetSource) Compact() ([]string, bool) {
	if s.S.Encoding() == object.EncodingIntset {
		return s.S.Members(), true
	}
	return nil, false
}

// ScanDict scans the set's hashtable encoding. Panics if called while
// IntSet-encoded — Run never does, since Compact reports true first.
func (s SetSource) ScanDict(cursor uint64, emit func(key string)) uint64 {
	return s.S.ScanDict(cursor, emit)
}
