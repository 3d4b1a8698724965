package keyspace

import (
	"math/rand"
	"testing"
	"time"

	"github.com/pomaidb/keyspace/internal/keyspace/object"
)

func newVal(s string) *object.Object {
	return object.New(object.TypeString, object.EncodingRaw, s)
}

func TestSelectOutOfRange(t *testing.T) {
	ks := New(Config{NumDatabases: 4}, nil)
	if _, err := ks.Select(4); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange for id 4 of 4 dbs, got %v", err)
	}
	if _, err := ks.Select(-1); err != ErrOutOfRange {
		t.Fatalf("expected ErrOutOfRange for id -1, got %v", err)
	}
	if _, err := ks.Select(0); err != nil {
		t.Fatalf("Select(0): unexpected error %v", err)
	}
}

func TestAddThenLookupWrite(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)

	ks.Add(db, "k", newVal("v"))
	obj := ks.LookupWrite(db, "k")
	if obj == nil || obj.Payload().(string) != "v" {
		t.Fatalf("expected to find k=v, got %v", obj)
	}
}

func TestAddPanicsOnDuplicateKey(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "k", newVal("v"))

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Add on an existing key to panic")
		}
	}()
	ks.Add(db, "k", newVal("v2"))
}

func TestOverwritePanicsOnMissingKey(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)

	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected Overwrite on a missing key to panic")
		}
	}()
	ks.Overwrite(db, "missing", newVal("v"))
}

func TestOverwritePreservesLRU(t *testing.T) {
	ks := New(Config{NumDatabases: 1, AccessMode: object.AccessModeLRU}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "k", newVal("v1"))

	old := ks.LookupWrite(db, "k")
	stampedLRU := old.LRU()

	fresh := newVal("v2")
	ks.Overwrite(db, "k", fresh)

	got := ks.LookupWrite(db, "k")
	if got.LRU() != stampedLRU {
		t.Fatalf("expected Overwrite to carry over the previous LRU stamp: got %d, want %d", got.LRU(), stampedLRU)
	}
	if got.Payload().(string) != "v2" {
		t.Fatalf("expected new payload to take effect, got %v", got.Payload())
	}
}

func TestSetRemovesExpiryAndSignalsWatchers(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "k", newVal("v1"))
	if err := ks.SetExpire(db, "k", time.Now().Add(time.Hour).UnixMilli()); err != nil {
		t.Fatalf("SetExpire: %v", err)
	}

	db.Watch("k")
	touched := false
	ks.cfg.WatchCallback = func(key string) { touched = true }

	ks.Set(db, "k", newVal("v2"))

	if _, ok := ks.GetExpire(db, "k"); ok {
		t.Fatal("expected Set to clear any prior expiry")
	}
	if !touched {
		t.Fatal("expected Set to signal a watched key via WatchCallback")
	}
}

func TestDeleteSyncRemovesKeyAndExpiry(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "k", newVal("v"))
	_ = ks.SetExpire(db, "k", time.Now().Add(time.Hour).UnixMilli())

	if !ks.DeleteSync(db, "k") {
		t.Fatal("expected DeleteSync to report true for a present key")
	}
	if ks.DeleteSync(db, "k") {
		t.Fatal("expected DeleteSync to report false for an already-absent key")
	}
	if _, ok := ks.GetExpire(db, "k"); ok {
		t.Fatal("expected expiry entry removed alongside the key")
	}
}

func TestDeleteAsyncHandsOffToFreeQueue(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "k", newVal("v"))

	if !ks.DeleteAsync(db, "k") {
		t.Fatal("expected DeleteAsync to report true for a present key")
	}
	if ks.Exists(db, "k") {
		t.Fatal("expected key gone from the dict immediately, even though freeing is deferred")
	}
}

func TestRenameSignalsBothWatchedKeys(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "src", newVal("v"))

	db.Watch("src")
	db.Watch("dst")
	var touched []string
	ks.cfg.WatchCallback = func(key string) { touched = append(touched, key) }

	if err := ks.Rename(db, "src", "dst", false); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	touchedSet := map[string]bool{}
	for _, k := range touched {
		touchedSet[k] = true
	}
	if !touchedSet["src"] {
		t.Fatal("expected Rename to signal the source key so a watcher's transaction is invalidated")
	}
	if !touchedSet["dst"] {
		t.Fatal("expected Rename to signal the destination key so a watcher's transaction is invalidated")
	}
}

func TestRenameNXFailsWhenDestExists(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "src", newVal("v1"))
	ks.Add(db, "dst", newVal("v2"))

	if err := ks.Rename(db, "src", "dst", true); err != ErrKeyExists {
		t.Fatalf("expected ErrKeyExists, got %v", err)
	}
}

func TestRenameOntoSelfIsNoop(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "k", newVal("v"))

	if err := ks.Rename(db, "k", "k", false); err != nil {
		t.Fatalf("expected renaming a key onto itself to succeed, got %v", err)
	}
	if !ks.Exists(db, "k") {
		t.Fatal("expected key to still exist after a self-rename")
	}
}

func TestMoveTransfersValueAndExpiry(t *testing.T) {
	ks := New(Config{NumDatabases: 2}, nil)
	src, _ := ks.Select(0)
	dst, _ := ks.Select(1)
	ks.Add(src, "k", newVal("v"))
	whenMs := time.Now().Add(time.Hour).UnixMilli()
	_ = ks.SetExpire(src, "k", whenMs)

	moved, err := ks.Move(src, dst, "k")
	if err != nil || !moved {
		t.Fatalf("Move: moved=%v err=%v", moved, err)
	}
	if ks.Exists(src, "k") {
		t.Fatal("expected key removed from src after Move")
	}
	got, ok := ks.GetExpire(dst, "k")
	if !ok || got != whenMs {
		t.Fatalf("expected expiry to carry over to dst: got (%d, %v)", got, ok)
	}
}

func TestMoveFailsWhenDestAlreadyHasKey(t *testing.T) {
	ks := New(Config{NumDatabases: 2}, nil)
	src, _ := ks.Select(0)
	dst, _ := ks.Select(1)
	ks.Add(src, "k", newVal("v1"))
	ks.Add(dst, "k", newVal("v2"))

	moved, err := ks.Move(src, dst, "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved {
		t.Fatal("expected Move to report false when dest already holds the key")
	}
	if !ks.Exists(src, "k") {
		t.Fatal("expected src to retain its key when Move fails")
	}
}

func TestMoveToSameDatabaseErrors(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "k", newVal("v"))

	if _, err := ks.Move(db, db, "k"); err != ErrSameObject {
		t.Fatalf("expected ErrSameObject, got %v", err)
	}
}

func TestEmptyDBSingle(t *testing.T) {
	ks := New(Config{NumDatabases: 2}, nil)
	db0, _ := ks.Select(0)
	db1, _ := ks.Select(1)
	ks.Add(db0, "a", newVal("1"))
	ks.Add(db1, "b", newVal("2"))

	n, err := ks.EmptyDB(0, false)
	if err != nil || n != 1 {
		t.Fatalf("EmptyDB(0): n=%d err=%v", n, err)
	}
	if ks.Exists(db0, "a") {
		t.Fatal("expected db0 emptied")
	}
	if !ks.Exists(db1, "b") {
		t.Fatal("expected db1 untouched")
	}
}

func TestEmptyDBAll(t *testing.T) {
	ks := New(Config{NumDatabases: 2}, nil)
	db0, _ := ks.Select(0)
	db1, _ := ks.Select(1)
	ks.Add(db0, "a", newVal("1"))
	ks.Add(db1, "b", newVal("2"))

	n, err := ks.EmptyDB(-1, false)
	if err != nil || n != 2 {
		t.Fatalf("EmptyDB(-1): n=%d err=%v", n, err)
	}
	if ks.Exists(db0, "a") || ks.Exists(db1, "b") {
		t.Fatal("expected every database emptied")
	}
}

func TestEmptyDBSignalsWatchedKeysBeforeFreeing(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "watched", newVal("v"))

	db.Watch("watched")
	var touched []string
	ks.cfg.WatchCallback = func(key string) { touched = append(touched, key) }

	if _, err := ks.EmptyDB(0, false); err != nil {
		t.Fatalf("EmptyDB: %v", err)
	}

	found := false
	for _, k := range touched {
		if k == "watched" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected EmptyDB to invoke WatchCallback for a watched key before discarding the dict")
	}
}

func TestSwapDatabasesExchangesContents(t *testing.T) {
	ks := New(Config{NumDatabases: 2}, nil)
	db0, _ := ks.Select(0)
	db1, _ := ks.Select(1)
	ks.Add(db0, "only0", newVal("v"))

	if err := ks.SwapDatabases(0, 1); err != nil {
		t.Fatalf("SwapDatabases: %v", err)
	}
	if ks.Exists(db0, "only0") {
		t.Fatal("expected db0 to no longer hold the key")
	}
	if !ks.Exists(db1, "only0") {
		t.Fatal("expected db1 to hold the key post-swap")
	}
}

func TestAssertClusterOpBlocksWhenClusterEnabled(t *testing.T) {
	ks := New(Config{NumDatabases: 1, ClusterEnabled: true}, nil)
	if err := ks.AssertClusterOp(); err != ErrNotAllowedInCluster {
		t.Fatalf("expected ErrNotAllowedInCluster, got %v", err)
	}

	ks2 := New(Config{NumDatabases: 1}, nil)
	if err := ks2.AssertClusterOp(); err != nil {
		t.Fatalf("expected nil error with cluster disabled, got %v", err)
	}
}

func TestLookupReadAppliesLazyExpiration(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "k", newVal("v"))
	_ = ks.SetExpire(db, "k", time.Now().Add(-time.Second).UnixMilli())

	if obj := ks.LookupRead(db, "k", true); obj != nil {
		t.Fatal("expected LookupRead to treat a past-TTL key as absent")
	}
	if ks.Exists(db, "k") {
		t.Fatal("expected the key to have been physically deleted by the lazy check")
	}
}

func TestLookupReadReplicaDoesNotDeletePastTTLKey(t *testing.T) {
	ks := New(Config{NumDatabases: 1, IsReplica: true}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "k", newVal("v"))
	_ = ks.SetExpire(db, "k", time.Now().Add(-time.Second).UnixMilli())

	if obj := ks.LookupRead(db, "k", true); obj != nil {
		t.Fatal("expected LookupRead to report a past-TTL key as logically absent even on a replica")
	}
	if _, ok := db.Keys.Find("k"); !ok {
		t.Fatal("expected a replica to retain the physical key until the master expires it")
	}
}

func TestRandomKeySkipsExpiredEntries(t *testing.T) {
	ks := New(Config{NumDatabases: 1, RandUint64: rand.Uint64}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "expired", newVal("v"))
	_ = ks.SetExpire(db, "expired", time.Now().Add(-time.Second).UnixMilli())
	ks.Add(db, "live", newVal("v"))

	key, ok := ks.RandomKey(db)
	if !ok || key != "live" {
		t.Fatalf("expected RandomKey to only ever surface 'live', got (%q, %v)", key, ok)
	}
}

func TestTickAdvancesRehashAndExpiresKeys(t *testing.T) {
	ks := New(Config{NumDatabases: 1, RandUint64: rand.Uint64}, nil)
	db, _ := ks.Select(0)
	for i := 0; i < 50; i++ {
		key := "k" + string(rune('a'+i%26)) + string(rune('0'+i/26))
		ks.Add(db, key, newVal("v"))
		_ = ks.SetExpire(db, key, time.Now().Add(-time.Second).UnixMilli())
	}

	ks.Tick(10, time.Now().Add(time.Second))

	if db.Size() == 50 {
		t.Fatal("expected the cron tick's active expire cycle to have removed at least some past-TTL keys")
	}
}

func TestIsExpiredDoesNotDelete(t *testing.T) {
	ks := New(Config{NumDatabases: 1}, nil)
	db, _ := ks.Select(0)
	ks.Add(db, "k", newVal("v"))
	_ = ks.SetExpire(db, "k", time.Now().Add(-time.Second).UnixMilli())

	if !ks.IsExpired(db, "k") {
		t.Fatal("expected IsExpired to report true for a past-TTL key")
	}
	if _, ok := db.Keys.Find("k"); !ok {
		t.Fatal("expected IsExpired to be a pure check with no deletion side effect")
	}
}
