// Package intset implements the sorted, packed integer array representation
// of a Set, used while every member is representable as a signed 64-bit
// integer and the set stays under the cardinality threshold that promotes it
// to a hashtable-backed Set (see setval.SetValue).
//
// The byte layout is a compact array of fixed-width little-endian integers,
// upgraded in place to a wider width the first time a value that doesn't fit
// is inserted — the same "pack tight, widen on demand" trick as
// shared/ds/hashtable.PackedHash, applied to integers instead of field/value
// pairs.
package intset

import (
	"encoding/binary"
)

// Width is the per-element byte width of the packed encoding.
type Width uint8

const (
	Width16 Width = 2
	Width32 Width = 4
	Width64 Width = 8
)

// IntSet is a sorted, deduplicated, packed array of int64 values.
type IntSet struct {
	width Width
	data  []byte
}

// New returns an empty IntSet at the narrowest width.
func New() *IntSet {
	return &IntSet{width: Width16}
}

func widthFor(v int64) Width {
	switch {
	case v >= -32768 && v <= 32767:
		return Width16
	case v >= -2147483648 && v <= 2147483647:
		return Width32
	default:
		return Width64
	}
}

// Len returns the number of elements.
func (s *IntSet) Len() int {
	if len(s.data) == 0 {
		return 0
	}
	return len(s.data) / int(s.width)
}

func (s *IntSet) get(idx int) int64 {
	off := idx * int(s.width)
	switch s.width {
	case Width16:
		return int64(int16(binary.LittleEndian.Uint16(s.data[off:])))
	case Width32:
		return int64(int32(binary.LittleEndian.Uint32(s.data[off:])))
	default:
		return int64(binary.LittleEndian.Uint64(s.data[off:]))
	}
}

// Get returns the element at idx. Callers must ensure 0 <= idx < Len().
func (s *IntSet) Get(idx int) int64 { return s.get(idx) }

func (s *IntSet) put(buf []byte, off int, width Width, v int64) {
	switch width {
	case Width16:
		binary.LittleEndian.PutUint16(buf[off:], uint16(int16(v)))
	case Width32:
		binary.LittleEndian.PutUint32(buf[off:], uint32(int32(v)))
	default:
		binary.LittleEndian.PutUint64(buf[off:], uint64(v))
	}
}

// find returns the index at which v is present, or the index at which it
// would be inserted to keep the array sorted, and whether it was found.
func (s *IntSet) find(v int64) (idx int, found bool) {
	n := s.Len()
	lo, hi := 0, n
	for lo < hi {
		mid := (lo + hi) / 2
		mv := s.get(mid)
		switch {
		case mv == v:
			return mid, true
		case mv < v:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return lo, false
}

// Contains reports whether v is a member.
func (s *IntSet) Contains(v int64) bool {
	_, found := s.find(v)
	return found
}

func (s *IntSet) upgrade(newWidth Width) {
	n := s.Len()
	newData := make([]byte, n*int(newWidth))
	for i := 0; i < n; i++ {
		s.put(newData, i*int(newWidth), newWidth, s.get(i))
	}
	s.width = newWidth
	s.data = newData
}

// Add inserts v, preserving sort order and uniqueness. Returns true if v was
// not already present.
func (s *IntSet) Add(v int64) bool {
	need := widthFor(v)
	if need > s.width {
		s.upgrade(need)
	}

	idx, found := s.find(v)
	if found {
		return false
	}

	elemSize := int(s.width)
	off := idx * elemSize
	s.data = append(s.data, make([]byte, elemSize)...)
	copy(s.data[off+elemSize:], s.data[off:len(s.data)-elemSize])
	s.put(s.data, off, s.width, v)
	return true
}

// Remove deletes v if present. Returns true if it was present.
func (s *IntSet) Remove(v int64) bool {
	idx, found := s.find(v)
	if !found {
		return false
	}
	elemSize := int(s.width)
	off := idx * elemSize
	copy(s.data[off:], s.data[off+elemSize:])
	s.data = s.data[:len(s.data)-elemSize]
	return true
}

// ToSlice returns every element in ascending order.
func (s *IntSet) ToSlice() []int64 {
	n := s.Len()
	out := make([]int64, n)
	for i := 0; i < n; i++ {
		out[i] = s.get(i)
	}
	return out
}

// Max returns the largest element and whether the set is non-empty.
func (s *IntSet) Max() (int64, bool) {
	n := s.Len()
	if n == 0 {
		return 0, false
	}
	return s.get(n - 1), true
}

// Min returns the smallest element and whether the set is non-empty.
func (s *IntSet) Min() (int64, bool) {
	if s.Len() == 0 {
		return 0, false
	}
	return s.get(0), true
}
