// Package setval implements SetValue, the polymorphic Set datatype: a
// tagged variant over intset.IntSet and dict.Dict[struct{}] that promotes
// one-way from the packed integer encoding to the hashtable encoding on
// cardinality overflow or the first non-integer member.
//
// Grounded on internal/cache/adaptive_ttl.go's pattern of a single struct
// carrying two mutually-exclusive backing representations selected by a
// tag field, generalized here into a real capability-based variant per
// spec.md §4.2's "tagged variant with a trait/capability... not inheritance"
// guidance.
package setval

import (
	"sort"
	"strconv"

	"github.com/pomaidb/keyspace/internal/keyspace/dict"
	"github.com/pomaidb/keyspace/internal/keyspace/intset"
	"github.com/pomaidb/keyspace/internal/keyspace/object"
)

// DefaultMaxIntsetEntries is the cardinality above which an IntSet-encoded
// set promotes to a Dict, matching Redis's set-max-intset-entries default.
const DefaultMaxIntsetEntries = 512

type member struct{}

// SetValue is a Set that starts life packed as an IntSet and promotes to a
// Dict-backed hashtable the first time it must hold a non-integer member or
// grows past MaxIntsetEntries. Promotion is one-way for the lifetime of the
// value (spec.md §4.2, §7 invariant 3).
type SetValue struct {
	MaxIntsetEntries int

	enc  object.Encoding
	ints *intset.IntSet
	tab  *dict.Dict[member]
}

// New returns an empty SetValue starting in the IntSet encoding.
func New() *SetValue {
	return &SetValue{
		MaxIntsetEntries: DefaultMaxIntsetEntries,
		enc:              object.EncodingIntset,
		ints:             intset.New(),
	}
}

// Encoding reports the current backing representation.
func (s *SetValue) Encoding() object.Encoding { return s.enc }

func (s *SetValue) maxEntries() int {
	if s.MaxIntsetEntries > 0 {
		return s.MaxIntsetEntries
	}
	return DefaultMaxIntsetEntries
}

// parseStrictInt64 requires the string to be the canonical decimal
// round-trip of the parsed value (no leading zeros, no "+", no whitespace),
// matching the strict-round-trip requirement in spec.md §4.2.
func parseStrictInt64(e string) (int64, bool) {
	if e == "" {
		return 0, false
	}
	v, err := strconv.ParseInt(e, 10, 64)
	if err != nil {
		return 0, false
	}
	if strconv.FormatInt(v, 10) != e {
		return 0, false
	}
	return v, true
}

func (s *SetValue) convertToDict() {
	s.tab = dict.New[member]()
	for _, v := range s.ints.ToSlice() {
		s.tab.Add(strconv.FormatInt(v, 10), member{})
	}
	s.ints = nil
	s.enc = object.EncodingHashtable
}

// Add inserts element e. Returns whether it was newly added.
func (s *SetValue) Add(e string) bool {
	if s.enc == object.EncodingIntset {
		v, ok := parseStrictInt64(e)
		if !ok {
			s.convertToDict()
			return s.tab.Replace(e, member{})
		}
		added := s.ints.Add(v)
		if s.ints.Len() > s.maxEntries() {
			s.convertToDict()
		}
		return added
	}
	return s.tab.Replace(e, member{})
}

// Remove deletes element e. Returns whether it was present.
func (s *SetValue) Remove(e string) bool {
	if s.enc == object.EncodingIntset {
		v, ok := parseStrictInt64(e)
		if !ok {
			return false
		}
		return s.ints.Remove(v)
	}
	return s.tab.Delete(e)
}

// Contains reports membership.
func (s *SetValue) Contains(e string) bool {
	if s.enc == object.EncodingIntset {
		v, ok := parseStrictInt64(e)
		if !ok {
			return false
		}
		return s.ints.Contains(v)
	}
	_, ok := s.tab.Find(e)
	return ok
}

// Size returns the cardinality.
func (s *SetValue) Size() int {
	if s.enc == object.EncodingIntset {
		return s.ints.Len()
	}
	return s.tab.Size()
}

// Random returns a uniformly-random element (intset) or a bucket-weighted
// sample (dict, see dict.Dict.RandomEntry).
func (s *SetValue) Random(randUint64 func() uint64) (string, bool) {
	if s.enc == object.EncodingIntset {
		n := s.ints.Len()
		if n == 0 {
			return "", false
		}
		idx := int(randUint64() % uint64(n))
		return strconv.FormatInt(s.ints.Get(idx), 10), true
	}
	k, _, ok := s.tab.RandomEntry(randUint64)
	return k, ok
}

// Members returns every element as decimal strings, in the set's natural
// iteration order (ascending for IntSet, unordered for Dict).
func (s *SetValue) Members() []string {
	if s.enc == object.EncodingIntset {
		vals := s.ints.ToSlice()
		out := make([]string, len(vals))
		for i, v := range vals {
			out[i] = strconv.FormatInt(v, 10)
		}
		return out
	}
	out := make([]string, 0, s.tab.Size())
	it := s.tab.NewSafeIterator()
	defer it.Close()
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, k)
	}
	return out
}

// Clone returns a deep copy, preserving the current encoding.
func (s *SetValue) Clone() *SetValue {
	clone := &SetValue{MaxIntsetEntries: s.MaxIntsetEntries, enc: s.enc}
	if s.enc == object.EncodingIntset {
		ints := intset.New()
		for _, v := range s.ints.ToSlice() {
			ints.Add(v)
		}
		clone.ints = ints
		return clone
	}
	clone.tab = dict.New[member]()
	for _, m := range s.Members() {
		clone.tab.Add(m, member{})
	}
	return clone
}

// ScanDict performs one dict-scan step over the hashtable encoding. Callers
// must check Encoding() first — calling this while IntSet-encoded panics,
// since scan.Run only calls it after routing compact encodings through
// the all-at-once path.
func (s *SetValue) ScanDict(cursor uint64, emit func(e string)) uint64 {
	return s.tab.Scan(cursor, func(k string, _ member) { emit(k) })
}

// Convert forces promotion to the Dict encoding. A no-op if already there;
// promotion is one-way, so there is no reverse direction.
func (s *SetValue) Convert(target object.Encoding) {
	if target == object.EncodingHashtable && s.enc == object.EncodingIntset {
		s.convertToDict()
	}
}

// --- set algebra ---

// bySizeAsc / bySizeDesc order a slice of sets for the cost-driven algorithm
// selection in spec.md §4.2.
func bySizeAsc(sets []*SetValue) []*SetValue {
	out := append([]*SetValue(nil), sets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Size() < out[j].Size() })
	return out
}

func bySizeDesc(sets []*SetValue) []*SetValue {
	out := append([]*SetValue(nil), sets...)
	sort.Slice(out, func(i, j int) bool { return out[i].Size() > out[j].Size() })
	return out
}

// Inter returns the intersection of sets, iterating the smallest first.
func Inter(sets []*SetValue) []string {
	if len(sets) == 0 {
		return nil
	}
	ordered := bySizeAsc(sets)
	smallest := ordered[0]
	rest := ordered[1:]

	result := make([]string, 0, smallest.Size())
	for _, e := range smallest.Members() {
		inAll := true
		for _, other := range rest {
			if !other.Contains(e) {
				inAll = false
				break
			}
		}
		if inAll {
			result = append(result, e)
		}
	}
	return result
}

// Union returns the union of sets.
func Union(sets []*SetValue) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, s := range sets {
		for _, e := range s.Members() {
			if _, ok := seen[e]; ok {
				continue
			}
			seen[e] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

// Diff returns S0 minus the union of S1..Sn-1, choosing between the
// "probe each element of S0" and "build S0, remove the rest" algorithms by
// the cost heuristic in spec.md §4.2.
func Diff(sets []*SetValue) []string {
	if len(sets) == 0 {
		return nil
	}
	s0 := sets[0]
	rest := sets[1:]
	if len(rest) == 0 {
		return s0.Members()
	}

	costAlgo1 := float64(s0.Size()) * float64(len(rest)) / 2.0
	costAlgo2 := 0.0
	for _, s := range rest {
		costAlgo2 += float64(s.Size())
	}
	costAlgo2 += float64(s0.Size())

	if costAlgo1 <= costAlgo2 {
		orderedRest := bySizeDesc(rest)
		out := make([]string, 0, s0.Size())
		for _, e := range s0.Members() {
			excluded := false
			for _, other := range orderedRest {
				if other.Contains(e) {
					excluded = true
					break
				}
			}
			if !excluded {
				out = append(out, e)
			}
		}
		return out
	}

	remaining := make(map[string]struct{}, s0.Size())
	for _, e := range s0.Members() {
		remaining[e] = struct{}{}
	}
	for _, s := range rest {
		for _, e := range s.Members() {
			delete(remaining, e)
		}
	}
	out := make([]string, 0, len(remaining))
	for e := range remaining {
		out = append(out, e)
	}
	return out
}
