package dict

import (
	"fmt"
	"math/rand"
	"testing"
)

func TestAddFindDelete(t *testing.T) {
	d := New[int]()
	if err := d.Add("a", 1); err != nil {
		t.Fatalf("unexpected error adding new key: %v", err)
	}
	if err := d.Add("a", 2); err != ErrDuplicate {
		t.Fatalf("expected ErrDuplicate re-adding existing key, got %v", err)
	}
	v, ok := d.Find("a")
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}
	if !d.Delete("a") {
		t.Fatal("delete of present key should report true")
	}
	if d.Delete("a") {
		t.Fatal("delete of absent key should report false")
	}
}

func TestReplace(t *testing.T) {
	d := New[int]()
	isNew := d.Replace("k", 1)
	if !isNew {
		t.Fatal("first Replace should report new")
	}
	isNew = d.Replace("k", 2)
	if isNew {
		t.Fatal("second Replace should report not new")
	}
	v, _ := d.Find("k")
	if v != 2 {
		t.Fatalf("expected updated value 2, got %d", v)
	}
}

func TestIncrementalRehashGrowsAndPreservesEntries(t *testing.T) {
	d := New[int]()
	const n = 5000
	for i := 0; i < n; i++ {
		d.Add(fmt.Sprintf("key-%d", i), i)
	}
	if d.Size() != n {
		t.Fatalf("expected size %d, got %d", n, d.Size())
	}
	// Drive any pending rehash fully to completion.
	for i := 0; i < 10000 && d.Rehashing(); i++ {
		d.Tick(4)
	}
	for i := 0; i < n; i++ {
		v, ok := d.Find(fmt.Sprintf("key-%d", i))
		if !ok || v != i {
			t.Fatalf("key-%d: expected (%d, true), got (%d, %v)", i, i, v, ok)
		}
	}
}

func TestScanVisitsEveryKeyOnStaticTable(t *testing.T) {
	d := New[int]()
	const n = 2000
	want := make(map[string]bool, n)
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%d", i)
		d.Add(k, i)
		want[k] = false
	}

	cursor := uint64(0)
	seen := make(map[string]bool, n)
	iterations := 0
	for {
		cursor = d.Scan(cursor, func(k string, v int) {
			seen[k] = true
		})
		iterations++
		if cursor == 0 {
			break
		}
		if iterations > n*10 {
			t.Fatal("scan did not converge back to cursor 0")
		}
	}
	if len(seen) != n {
		t.Fatalf("expected to see all %d keys, saw %d", n, len(seen))
	}
	for k := range want {
		if !seen[k] {
			t.Fatalf("scan never visited key %q", k)
		}
	}
}

func TestScanCompletenessDuringConcurrentRehash(t *testing.T) {
	d := New[int]()
	const n = 3000
	for i := 0; i < n; i++ {
		d.Add(fmt.Sprintf("k%d", i), i)
	}
	// Force rehashing to be in progress when the scan starts.
	d.mu.Lock()
	if !d.isRehashing() {
		d.ht[1] = newTable[int](uint64(d.ht[0].used * 2))
		d.rehashIdx = 0
	}
	forced := d.isRehashing()
	d.mu.Unlock()
	if !forced {
		t.Skip("table did not start rehashing at this load factor")
	}

	cursor := uint64(0)
	seen := make(map[string]bool, n)
	for i := 0; i < n*20; i++ {
		cursor = d.Scan(cursor, func(k string, v int) { seen[k] = true })
		// nudge rehash forward between scan steps, as the real cron would.
		d.Tick(2)
		if cursor == 0 && !d.Rehashing() {
			break
		}
	}
	for i := 0; i < n; i++ {
		k := fmt.Sprintf("k%d", i)
		if !seen[k] {
			t.Fatalf("scan under concurrent rehash missed key %q", k)
		}
	}
}

func TestSafeIteratorDeleteLastYielded(t *testing.T) {
	d := New[int]()
	for i := 0; i < 10; i++ {
		d.Add(fmt.Sprintf("k%d", i), i)
	}
	it := d.NewSafeIterator()
	defer it.Close()
	deleted := 0
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		if k == "k5" {
			if !it.DeleteLastYielded() {
				t.Fatal("expected DeleteLastYielded to succeed for k5")
			}
			deleted++
		}
	}
	if deleted != 1 {
		t.Fatalf("expected exactly one deletion, got %d", deleted)
	}
	it.Close()
	if _, ok := d.Find("k5"); ok {
		t.Fatal("k5 should have been deleted")
	}
	if d.Size() != 9 {
		t.Fatalf("expected size 9 after deletion, got %d", d.Size())
	}
}

func TestUnsafeIteratorDetectsConcurrentModification(t *testing.T) {
	d := New[int]()
	d.Add("a", 1)
	it := d.NewUnsafeIterator()
	d.Add("b", 2)
	if err := it.Close(); err != ErrConcurrentModification {
		t.Fatalf("expected ErrConcurrentModification, got %v", err)
	}
}

func TestUnsafeIteratorNoModification(t *testing.T) {
	d := New[int]()
	d.Add("a", 1)
	it := d.NewUnsafeIterator()
	if err := it.Close(); err != nil {
		t.Fatalf("expected no error when nothing changed, got %v", err)
	}
}

func TestRandomEntryOnEmptyDict(t *testing.T) {
	d := New[int]()
	_, _, ok := d.RandomEntry(rand.Uint64)
	if ok {
		t.Fatal("expected RandomEntry on empty dict to report not-ok")
	}
}

func TestRandomEntrySamplesExistingKeys(t *testing.T) {
	d := New[int]()
	for i := 0; i < 20; i++ {
		d.Add(fmt.Sprintf("k%d", i), i)
	}
	for i := 0; i < 50; i++ {
		k, v, ok := d.RandomEntry(rand.Uint64)
		if !ok {
			t.Fatal("expected a sample from a non-empty dict")
		}
		want, exists := d.Find(k)
		if !exists || want != v {
			t.Fatalf("sampled entry (%s, %d) not consistent with Find", k, v)
		}
	}
}

func TestCanResizeGatesGrowth(t *testing.T) {
	d := New[int]()
	blocked := false
	d.CanResize = func() bool { return !blocked }

	blocked = true
	// 8 keys in the initial 4 buckets: load factor 2.0, above the 1.0
	// trigger but below the forced 5.0.
	for i := 0; i < 8; i++ {
		d.Add(fmt.Sprintf("k%d", i), i)
	}
	if d.Rehashing() {
		t.Fatal("resize should be gated while CanResize returns false, below the forced load factor")
	}
}
