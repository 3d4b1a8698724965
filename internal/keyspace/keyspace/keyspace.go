// Package keyspace assembles the per-database pieces (dict, expire index,
// watchers) into the Keyspace API command handlers consume: select/flush/
// swap/move/rename, lookup_read/lookup_write/add/overwrite/set/delete, and
// the background cron tick that drives incremental rehash and active
// expiration.
//
// Structured the way internal/engine/core/store.go centralizes its Store's
// operations over its sharded map, generalized from "one big sharded map"
// to "N independent Database records plus a cluster-wide slot index".
package keyspace

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/pomaidb/keyspace/internal/keyspace/database"
	"github.com/pomaidb/keyspace/internal/keyspace/expire"
	"github.com/pomaidb/keyspace/internal/keyspace/metrics"
	"github.com/pomaidb/keyspace/internal/keyspace/object"
	"github.com/pomaidb/keyspace/internal/keyspace/propagation"
	"github.com/pomaidb/keyspace/internal/keyspace/slotindex"
)

// Error taxonomy surfaced to clients (spec.md §7). Command handlers map
// these onto the wire-level -ERR/-WRONGTYPE/-SYNTAX classes; this package
// only needs to distinguish them.
var (
	ErrOutOfRange          = errors.New("keyspace: db index out of range")
	ErrNoKey               = errors.New("keyspace: no such key")
	ErrKeyExists           = errors.New("keyspace: destination key already exists")
	ErrSameObject          = errors.New("keyspace: source and destination are the same database")
	ErrNotAllowedInCluster = errors.New("keyspace: not allowed while cluster support is enabled")
)

// Config tunes a Keyspace. Every function field has a working default so a
// zero-value Config (besides NumDatabases) is usable in tests.
type Config struct {
	NumDatabases int

	AccessMode      object.AccessMode
	LFUDecayMinutes uint16
	LFULogFactor    uint8

	IsReplica      bool
	ClusterEnabled bool

	RandUint64 func() uint64
	Rand01     func() float64
	NowMinutes func() uint16

	// Notify is called for keyspace-notification events ("expired",
	// "rename_from", "rename_to", ...).
	Notify func(event, key string, dbID int)

	WatchCallback database.TouchWatcherCallback
}

func (c *Config) setDefaults() {
	if c.NumDatabases <= 0 {
		c.NumDatabases = 16
	}
	if c.LFUDecayMinutes == 0 {
		c.LFUDecayMinutes = object.DefaultLFUDecayMinutes
	}
	if c.LFULogFactor == 0 {
		c.LFULogFactor = object.DefaultLFULogFactor
	}
	if c.RandUint64 == nil {
		c.RandUint64 = rand.Uint64
	}
	if c.Rand01 == nil {
		c.Rand01 = rand.Float64
	}
	if c.NowMinutes == nil {
		c.NowMinutes = func() uint16 { return uint16((time.Now().Unix() / 60) & 0xFFFF) }
	}
}

// Keyspace owns every database plus the cluster-mode slot index and the
// background free queue async deletes and async flushes feed.
type Keyspace struct {
	cfg Config

	dbs   []*database.Database
	slots *slotindex.Index
	sink  propagation.Sink

	clock   expire.Clock
	trigger expire.Trigger

	loading     atomic.Bool
	childActive atomic.Bool

	freeQueue chan any
}

// New builds a Keyspace with cfg.NumDatabases databases.
func New(cfg Config, sink propagation.Sink) *Keyspace {
	cfg.setDefaults()
	ks := &Keyspace{
		cfg:       cfg,
		sink:      sink,
		freeQueue: make(chan any, 1024),
	}
	ks.dbs = make([]*database.Database, cfg.NumDatabases)
	for i := range ks.dbs {
		db := database.New(uint32(i))
		db.Keys.CanResize = func() bool { return !ks.childActive.Load() }
		ks.dbs[i] = db
	}
	if cfg.ClusterEnabled {
		ks.slots = slotindex.New()
	}
	go ks.runFreeWorker()
	return ks
}

func (k *Keyspace) runFreeWorker() {
	for range k.freeQueue {
		// Detached from the keyspace already; draining here just bounds
		// channel growth. The Go runtime reclaims the memory once every
		// reference (including whatever this received) drops to zero.
	}
}

func dbLabel(id int) string { return strconv.Itoa(id) }

func (k *Keyspace) expireCtx() expire.Context {
	return expire.Context{Loading: k.loading.Load(), IsReplica: k.cfg.IsReplica}
}

func (k *Keyspace) notifyFn(dbID int) expire.Notifier {
	if k.cfg.Notify == nil {
		return nil
	}
	return func(event, key string) { k.cfg.Notify(event, key, dbID) }
}

// SetLoading toggles whether the server is currently loading persisted
// state, during which lazy expiration is suppressed (spec.md §4.3 step 2).
func (k *Keyspace) SetLoading(v bool) { k.loading.Store(v) }

// SetChildActive toggles copy-on-write protection: while true, access-time
// updates are skipped and dict growth past load factor 1.0 is deferred
// (spec.md §5's "child_active" flag).
func (k *Keyspace) SetChildActive(v bool) { k.childActive.Store(v) }

// NumDatabases returns the configured database count.
func (k *Keyspace) NumDatabases() int { return len(k.dbs) }

// Select returns the database bound to id, or ErrOutOfRange.
func (k *Keyspace) Select(id int) (*database.Database, error) {
	if id < 0 || id >= len(k.dbs) {
		return nil, ErrOutOfRange
	}
	return k.dbs[id], nil
}

func (k *Keyspace) touch(obj *object.Object) {
	if k.childActive.Load() {
		return
	}
	switch k.cfg.AccessMode {
	case object.AccessModeLRU:
		obj.SetLRU(object.LRUClock(time.Now()))
	case object.AccessModeLFU:
		obj.TouchLFU(k.cfg.NowMinutes(), k.cfg.LFUDecayMinutes, k.cfg.LFULogFactor, k.cfg.Rand01)
	}
}

func (k *Keyspace) initAccessMeta(obj *object.Object) {
	switch k.cfg.AccessMode {
	case object.AccessModeLRU:
		obj.SetLRU(object.LRUClock(time.Now()))
	case object.AccessModeLFU:
		obj.InitLFU(k.cfg.NowMinutes())
	}
}

func (k *Keyspace) clusterTrackAdd(db *database.Database, key string) {
	if k.slots != nil && db.ID == 0 {
		k.slots.Insert([]byte(key))
	}
}

func (k *Keyspace) clusterTrackDelete(db *database.Database, key string) {
	if k.slots != nil && db.ID == 0 {
		k.slots.Delete([]byte(key))
	}
}

// --- lookup / mutation API (spec.md §6) ---

// LookupRead applies lazy expiration, records a hit/miss stat, and unless
// noTouch (or a CoW-protecting child is active) bumps access_meta. On a
// replica, returns nil for a logically-expired key without deleting it —
// masters own expiration.
func (k *Keyspace) LookupRead(db *database.Database, key string, noTouch bool) *object.Object {
	label := dbLabel(int(db.ID))
	if db.Expires.ExpireIfNeeded(k.expireCtx(), &k.clock, int(db.ID), key, db.Keys, k.sink, k.notifyFn(int(db.ID))) {
		metrics.IncMiss(label)
		return nil
	}
	obj, ok := db.Keys.Find(key)
	if !ok {
		metrics.IncMiss(label)
		return nil
	}
	metrics.IncHit(label)
	if !noTouch {
		k.touch(obj)
	}
	return obj
}

// LookupWrite applies lazy expiration with no access_meta update.
func (k *Keyspace) LookupWrite(db *database.Database, key string) *object.Object {
	if db.Expires.ExpireIfNeeded(k.expireCtx(), &k.clock, int(db.ID), key, db.Keys, k.sink, k.notifyFn(int(db.ID))) {
		return nil
	}
	obj, ok := db.Keys.Find(key)
	if !ok {
		return nil
	}
	return obj
}

// Add inserts a brand-new key. Panics if the key already exists: the
// caller is expected to have checked via LookupWrite first, so a collision
// here means a broken invariant, not a recoverable error (spec.md §7).
func (k *Keyspace) Add(db *database.Database, key string, obj *object.Object) {
	if err := db.Keys.Add(key, obj); err != nil {
		panic(fmt.Sprintf("keyspace: Add called with existing key %q in db %d", key, db.ID))
	}
	k.initAccessMeta(obj)
	k.clusterTrackAdd(db, key)
}

// Overwrite replaces an existing key's value, preserving its expiry and,
// in LFU mode, its access counter (decayed-then-bumped as if touched).
// Panics if the key is absent.
func (k *Keyspace) Overwrite(db *database.Database, key string, obj *object.Object) {
	old, ok := db.Keys.Find(key)
	if !ok {
		panic(fmt.Sprintf("keyspace: Overwrite called on missing key %q in db %d", key, db.ID))
	}
	obj.SetLRU(old.LRU())
	if k.cfg.AccessMode == object.AccessModeLFU {
		k.touch(obj)
	}
	db.Keys.Replace(key, obj)
}

// Set adds or overwrites key, removing any prior expiry, incrementing the
// value's refcount, initializing fresh access metadata, and signaling
// watchers of key.
func (k *Keyspace) Set(db *database.Database, key string, obj *object.Object) {
	obj.IncrRef()
	db.Expires.RemoveExpire(key)
	db.Keys.Replace(key, obj)
	k.initAccessMeta(obj)
	k.clusterTrackAdd(db, key)
	db.TouchKey(key, k.cfg.WatchCallback)
}

// DeleteSync removes key and its expiry entry synchronously.
func (k *Keyspace) DeleteSync(db *database.Database, key string) bool {
	db.Expires.RemoveExpire(key)
	deleted := db.Keys.Delete(key)
	if deleted {
		k.clusterTrackDelete(db, key)
	}
	return deleted
}

// DeleteAsync removes key's index entries synchronously but hands the
// value itself to the background free queue, matching spec.md §5's "true
// background threads that only consume an async-free queue".
func (k *Keyspace) DeleteAsync(db *database.Database, key string) bool {
	obj, ok := db.Keys.Find(key)
	if !ok {
		return false
	}
	db.Expires.RemoveExpire(key)
	db.Keys.Delete(key)
	k.clusterTrackDelete(db, key)
	select {
	case k.freeQueue <- obj:
	default:
		// Queue saturated: fall back to freeing inline rather than
		// blocking the caller, which would reintroduce a suspension
		// point spec.md §5 says must not exist inside a command.
	}
	return true
}

// Exists reports whether key is live (applying lazy expiration).
func (k *Keyspace) Exists(db *database.Database, key string) bool {
	return k.LookupWrite(db, key) != nil
}

// RandomKey samples a live key, skipping (and lazily expiring) any sampled
// key whose TTL has passed, per the supplemented RANDOMKEY behavior in
// SPEC_FULL.md §4.
func (k *Keyspace) RandomKey(db *database.Database) (string, bool) {
	const maxAttempts = 100
	for i := 0; i < maxAttempts; i++ {
		key, _, ok := db.Keys.RandomEntry(k.cfg.RandUint64)
		if !ok {
			return "", false
		}
		if db.Expires.ExpireIfNeeded(k.expireCtx(), &k.clock, int(db.ID), key, db.Keys, k.sink, k.notifyFn(int(db.ID))) {
			continue
		}
		return key, true
	}
	return "", false
}

// IsExpired reports whether key's TTL (if any) has passed, without
// triggering deletion. Read-only iteration paths (KEYS, SCAN) use this
// instead of the lazy-expire delete path because they already hold a lock
// on the same dict that ExpireIfNeeded's delete would need to reacquire.
func (k *Keyspace) IsExpired(db *database.Database, key string) bool {
	whenMs, ok := db.Expires.GetExpire(key)
	if !ok {
		return false
	}
	return k.clock.Now() > whenMs
}

// GetExpire returns key's absolute millisecond expiry, if any.
func (k *Keyspace) GetExpire(db *database.Database, key string) (int64, bool) {
	return db.Expires.GetExpire(key)
}

// SetExpire stores key's absolute millisecond expiry. Requires key to
// already be present in the dict (spec.md §4.3).
func (k *Keyspace) SetExpire(db *database.Database, key string, whenMs int64) error {
	if _, ok := db.Keys.Find(key); !ok {
		return ErrNoKey
	}
	db.Expires.SetExpire(key, whenMs)
	return nil
}

// RemoveExpire clears key's expiry. Returns whether one existed.
func (k *Keyspace) RemoveExpire(db *database.Database, key string) bool {
	return db.Expires.RemoveExpire(key)
}

// --- keyspace-wide operations (spec.md §4.4) ---

// EmptyDB implements both flush_db (id >= 0) and flush_all (id < 0). mode
// controls whether the discarded dict/expire pair is dropped inline
// (sync) or handed to the background free queue (async). Returns the
// number of keys removed.
func (k *Keyspace) EmptyDB(id int, async bool) (uint64, error) {
	if id < 0 {
		var total uint64
		for _, db := range k.dbs {
			total += k.flushOne(db, async)
		}
		return total, nil
	}
	db, err := k.Select(id)
	if err != nil {
		return 0, err
	}
	return k.flushOne(db, async), nil
}

func (k *Keyspace) flushOne(db *database.Database, async bool) uint64 {
	n := uint64(db.Size())
	if k.cfg.WatchCallback != nil {
		db.NotifyAllWatched(func(key string) { k.cfg.WatchCallback(key) })
	}
	oldKeys := db.Keys
	oldExpires := db.Expires
	db.Reset()
	if async {
		select {
		case k.freeQueue <- oldKeys:
		default:
		}
		select {
		case k.freeQueue <- oldExpires:
		default:
		}
	}
	return n
}

// SwapDatabases exchanges (dict, expires, avg_ttl) between a and b while
// leaving each database's watchers/blocking_keys/ready_keys in place, then
// rescans blocking keys so waiters on either side notice the swap.
func (k *Keyspace) SwapDatabases(a, b int) error {
	dbA, err := k.Select(a)
	if err != nil {
		return err
	}
	dbB, err := k.Select(b)
	if err != nil {
		return err
	}
	if dbA == dbB {
		return nil
	}
	dbA.SwapContents(dbB)
	dbA.RescanBlockingKeys()
	dbB.RescanBlockingKeys()
	return nil
}

// Move transfers key (value and expiry) from src to dst atomically.
// Returns false (not an error) if key is absent from src or already
// present in dst — both are ordinary command outcomes, not broken
// invariants.
func (k *Keyspace) Move(src, dst *database.Database, key string) (bool, error) {
	if src.ID == dst.ID {
		return false, ErrSameObject
	}
	obj, ok := src.Keys.Find(key)
	if !ok {
		return false, nil
	}
	if _, exists := dst.Keys.Find(key); exists {
		return false, nil
	}
	whenMs, hasExpire := src.Expires.GetExpire(key)

	src.Keys.Delete(key)
	src.Expires.RemoveExpire(key)
	k.clusterTrackDelete(src, key)

	dst.Keys.Replace(key, obj)
	if hasExpire {
		dst.Expires.SetExpire(key, whenMs)
	}
	k.clusterTrackAdd(dst, key)
	return true, nil
}

// Rename moves src to dst within the same database, preserving src's
// expiry. If nx, fails with ErrKeyExists when dst is already present.
// Renaming a key onto itself succeeds as a no-op if src exists.
func (k *Keyspace) Rename(db *database.Database, src, dst string, nx bool) error {
	obj, ok := db.Keys.Find(src)
	if !ok {
		return ErrNoKey
	}
	if src == dst {
		return nil
	}
	if nx {
		if _, exists := db.Keys.Find(dst); exists {
			return ErrKeyExists
		}
	}
	whenMs, hasExpire := db.Expires.GetExpire(src)

	db.Keys.Delete(src)
	db.Expires.RemoveExpire(src)
	k.clusterTrackDelete(db, src)

	db.Keys.Replace(dst, obj)
	db.Expires.RemoveExpire(dst)
	if hasExpire {
		db.Expires.SetExpire(dst, whenMs)
	}
	k.clusterTrackAdd(db, dst)

	db.TouchKey(src, k.cfg.WatchCallback)
	db.TouchKey(dst, k.cfg.WatchCallback)

	if fn := k.notifyFn(int(db.ID)); fn != nil {
		fn("rename_from", src)
		fn("rename_to", dst)
	}
	return nil
}

// --- background cron ---

// Tick drives incremental rehash and active expiration for every database,
// meant to run between commands on the same goroutine that serves them
// (spec.md §5: "background cron ticks running between commands"). deadline
// bounds the active-expiration portion of a single call.
func (k *Keyspace) Tick(rehashBucketsPerDB int, deadline time.Time) {
	for _, db := range k.dbs {
		db.Keys.Tick(rehashBucketsPerDB)
		db.Expires.Tick(rehashBucketsPerDB)

		label := dbLabel(int(db.ID))
		metrics.SetRehashing(label, db.Keys.Rehashing())

		dbID := int(db.ID)
		n := k.trigger.Run(label, func() int {
			return db.Expires.ActiveExpireCycle(k.expireCtx(), &k.clock, dbID, db.Keys, k.sink, k.notifyFn(dbID), k.cfg.RandUint64, deadline)
		})
		metrics.IncExpired(label, n)
		metrics.SetAvgTTL(label, db.AvgTTL())
	}
}

// Slots returns the cluster slot index, or nil if cluster support is
// disabled (spec.md §4.5: "Maintained in cluster mode only").
func (k *Keyspace) Slots() *slotindex.Index { return k.slots }

// AssertClusterOp returns ErrNotAllowedInCluster if cluster mode is on —
// guards MOVE, SELECT to a non-zero db, and SWAPDB (spec.md §7).
func (k *Keyspace) AssertClusterOp() error {
	if k.cfg.ClusterEnabled {
		return ErrNotAllowedInCluster
	}
	return nil
}
