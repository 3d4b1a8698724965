package setval

import (
	"math/rand"
	"sort"
	"strconv"
	"testing"

	"github.com/pomaidb/keyspace/internal/keyspace/object"
)

func TestAddDistinctCount(t *testing.T) {
	s := New()
	adds := []string{"1", "2", "2", "3", "1"}
	added := 0
	for _, e := range adds {
		if s.Add(e) {
			added++
		}
	}
	if added != 3 {
		t.Fatalf("expected 3 distinct additions, got %d", added)
	}
	if s.Size() != 3 {
		t.Fatalf("expected cardinality 3, got %d", s.Size())
	}
}

func TestIntsetPromotionOnNonInteger(t *testing.T) {
	s := New()
	s.Add("1")
	s.Add("2")
	s.Add("3")
	if s.Encoding() != object.EncodingIntset {
		t.Fatalf("expected intset encoding, got %v", s.Encoding())
	}
	s.Add("hello")
	if s.Encoding() != object.EncodingHashtable {
		t.Fatalf("expected promotion to hashtable encoding, got %v", s.Encoding())
	}
	if s.Size() != 4 {
		t.Fatalf("expected cardinality 4 after promotion, got %d", s.Size())
	}
	for _, m := range []string{"1", "2", "3", "hello"} {
		if !s.Contains(m) {
			t.Fatalf("expected %q to remain a member after promotion", m)
		}
	}
}

func TestIntsetPromotionOnOverflow(t *testing.T) {
	s := New()
	s.MaxIntsetEntries = 4
	for i := 0; i < 4; i++ {
		s.Add(strconv.Itoa(i))
	}
	if s.Encoding() != object.EncodingIntset {
		t.Fatal("expected to still be intset at exactly the threshold")
	}
	s.Add(strconv.Itoa(4))
	if s.Encoding() != object.EncodingHashtable {
		t.Fatal("expected promotion once cardinality exceeds MaxIntsetEntries")
	}
}

func TestPromotionIsOneWay(t *testing.T) {
	s := New()
	s.Add("hello")
	if s.Encoding() != object.EncodingHashtable {
		t.Fatal("adding a non-integer should promote immediately")
	}
	s.Remove("hello")
	if s.Size() != 0 {
		t.Fatal("expected empty set after removing sole member")
	}
	if s.Encoding() != object.EncodingHashtable {
		t.Fatal("encoding must not revert to intset after emptying")
	}
}

func TestStrictIntegerParsing(t *testing.T) {
	s := New()
	// Leading zero and explicit "+" are not canonical round-trips and must
	// route straight to the hashtable encoding instead of being treated as
	// integers.
	s.Add("007")
	if s.Encoding() != object.EncodingHashtable {
		t.Fatal("non-canonical integer string should force hashtable encoding")
	}
}

func TestRandomAndMembers(t *testing.T) {
	s := New()
	want := []string{"1", "2", "3", "4", "5"}
	for _, m := range want {
		s.Add(m)
	}
	got := s.Members()
	sort.Strings(got)
	sortedWant := append([]string(nil), want...)
	sort.Strings(sortedWant)
	if len(got) != len(sortedWant) {
		t.Fatalf("member count mismatch: got %v want %v", got, sortedWant)
	}
	for i := range sortedWant {
		if got[i] != sortedWant[i] {
			t.Fatalf("members mismatch: got %v want %v", got, sortedWant)
		}
	}
	m, ok := s.Random(rand.Uint64)
	if !ok || !s.Contains(m) {
		t.Fatalf("Random returned a non-member: %q", m)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := New()
	s.Add("1")
	s.Add("2")
	clone := s.Clone()
	clone.Add("3")
	if s.Contains("3") {
		t.Fatal("mutating a clone must not affect the original")
	}
	if !clone.Contains("1") || !clone.Contains("2") {
		t.Fatal("clone should carry over pre-existing members")
	}

	s2 := New()
	s2.Add("hello")
	clone2 := s2.Clone()
	clone2.Remove("hello")
	if !s2.Contains("hello") {
		t.Fatal("mutating a hashtable-encoded clone must not affect the original")
	}
}

func TestSetAlgebra(t *testing.T) {
	a := New()
	b := New()
	for _, m := range []string{"1", "2", "3"} {
		a.Add(m)
	}
	for _, m := range []string{"2", "3", "4"} {
		b.Add(m)
	}

	inter := Inter([]*SetValue{a, b})
	if !sameSet(inter, []string{"2", "3"}) {
		t.Fatalf("SINTER(a,b) = %v, want {2,3}", inter)
	}
	interSwap := Inter([]*SetValue{b, a})
	if !sameSet(interSwap, []string{"2", "3"}) {
		t.Fatalf("SINTER(b,a) = %v, want {2,3}", interSwap)
	}

	union := Union([]*SetValue{a, New()})
	if !sameSet(union, []string{"1", "2", "3"}) {
		t.Fatalf("SUNION(a,empty) = %v, want a", union)
	}

	diffSelf := Diff([]*SetValue{a, a})
	if len(diffSelf) != 0 {
		t.Fatalf("SDIFF(a,a) = %v, want empty", diffSelf)
	}

	diff := Diff([]*SetValue{a, b})
	if !sameSet(diff, []string{"1"}) {
		t.Fatalf("SDIFF(a,b) = %v, want {1}", diff)
	}
}

func sameSet(got []string, want []string) bool {
	if len(got) != len(want) {
		return false
	}
	g := append([]string(nil), got...)
	w := append([]string(nil), want...)
	sort.Strings(g)
	sort.Strings(w)
	for i := range g {
		if g[i] != w[i] {
			return false
		}
	}
	return true
}
