// Package database implements Database: one logical keyspace's main Dict,
// ExpireIndex, and the watched-key / ready-key / blocking-key trackers that
// sit alongside it.
//
// The trackers use xsync.MapOf the way
// ValentinKolb-dKV/lib/db/engines/maple/internal/internal.go does for its
// concurrent key metadata maps — a closer fit than a mutex+map pair since
// watch/ready/blocking churn independently of the main dict's rehash cycle.
package database

import (
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/pomaidb/keyspace/internal/keyspace/dict"
	"github.com/pomaidb/keyspace/internal/keyspace/expire"
	"github.com/pomaidb/keyspace/internal/keyspace/object"
)

// Database is one logical keyspace: { id, dict, expires, watchers,
// ready_keys, blocking_keys, avg_ttl } per spec.md §4.1.
type Database struct {
	ID uint32

	Keys    *dict.Dict[*object.Object]
	Expires *expire.Index

	watchers     *xsync.MapOf[string, int]
	readyKeys    *xsync.MapOf[string, struct{}]
	blockingKeys *xsync.MapOf[string, struct{}]
}

// New returns an empty database bound to id.
func New(id uint32) *Database {
	return &Database{
		ID:           id,
		Keys:         dict.New[*object.Object](),
		Expires:      expire.New(),
		watchers:     xsync.NewMapOf[string, int](),
		readyKeys:    xsync.NewMapOf[string, struct{}](),
		blockingKeys: xsync.NewMapOf[string, struct{}](),
	}
}

// AvgTTL delegates to the expire index's EMA.
func (db *Database) AvgTTL() float64 { return db.Expires.AvgTTL() }

// --- watched keys ---

// Watch registers the caller's interest in key, incrementing its watcher
// count. There is no MULTI/EXEC transaction layer here (out of scope); this
// is the tracking primitive a transaction layer above this package would
// consult.
func (db *Database) Watch(key string) {
	db.watchers.Compute(key, func(old int, loaded bool) (int, bool) {
		return old + 1, false
	})
}

// Unwatch decrements key's watcher count, removing the entry once it hits
// zero.
func (db *Database) Unwatch(key string) {
	db.watchers.Compute(key, func(old int, loaded bool) (int, bool) {
		if !loaded || old <= 1 {
			return 0, true
		}
		return old - 1, false
	})
}

// IsWatched reports whether any caller currently watches key.
func (db *Database) IsWatched(key string) bool {
	n, ok := db.watchers.Load(key)
	return ok && n > 0
}

// TouchWatcherCallback is invoked for every currently-watched key when the
// keyspace needs to signal that watched keys may have been invalidated
// (e.g. before a flush discards the whole dict).
type TouchWatcherCallback func(key string)

// TouchKey signals modification of a single key to its watchers, if any is
// currently watching it. Used by set/overwrite-style mutations, as opposed
// to NotifyAllWatched's blanket invalidation on flush.
func (db *Database) TouchKey(key string, cb TouchWatcherCallback) {
	if cb == nil {
		return
	}
	if n, ok := db.watchers.Load(key); ok && n > 0 {
		cb(key)
	}
}

// NotifyAllWatched calls cb for every watched key, in Range's arbitrary
// order. Used by flush_db/flush_all to run the watched-key flush hook
// before the dict is freed (spec.md §4.4).
func (db *Database) NotifyAllWatched(cb TouchWatcherCallback) {
	db.watchers.Range(func(key string, count int) bool {
		if count > 0 {
			cb(key)
		}
		return true
	})
}

// --- blocking / ready keys ---

// AddBlockingKey registers key as one a blocked client is waiting on.
func (db *Database) AddBlockingKey(key string) { db.blockingKeys.Store(key, struct{}{}) }

// RemoveBlockingKey unregisters key.
func (db *Database) RemoveBlockingKey(key string) { db.blockingKeys.Delete(key) }

// IsBlockingKey reports whether any client currently blocks on key.
func (db *Database) IsBlockingKey(key string) bool {
	_, ok := db.blockingKeys.Load(key)
	return ok
}

// SignalKeyAsReady marks key as having new data a blocked client might want.
func (db *Database) SignalKeyAsReady(key string) { db.readyKeys.Store(key, struct{}{}) }

// DrainReady removes and returns every key currently marked ready.
func (db *Database) DrainReady() []string {
	var out []string
	db.readyKeys.Range(func(key string, _ struct{}) bool {
		out = append(out, key)
		return true
	})
	for _, key := range out {
		db.readyKeys.Delete(key)
	}
	return out
}

// RescanBlockingKeys re-checks every registered blocking key against the
// current dict and marks it ready if present. Called after swap_databases,
// whose contents change out from under any blocked waiters (spec.md §4.4).
// The original signals readiness only for keys holding a List; this module
// doesn't implement List (out of scope), so it signals on mere presence.
func (db *Database) RescanBlockingKeys() {
	db.blockingKeys.Range(func(key string, _ struct{}) bool {
		if _, ok := db.Keys.Find(key); ok {
			db.SignalKeyAsReady(key)
		}
		return true
	})
}

// SwapContents exchanges this database's (dict, expires) pair with other's.
// watchers, blockingKeys and readyKeys stay put: client subscriptions
// follow database identity, not contents (spec.md §4.4).
func (db *Database) SwapContents(other *Database) {
	db.Keys, other.Keys = other.Keys, db.Keys
	db.Expires, other.Expires = other.Expires, db.Expires
}

// Reset replaces the dict and expire index with fresh empty ones, used by
// flush_db/flush_all. Callers must invoke NotifyAllWatched first.
func (db *Database) Reset() {
	db.Keys = dict.New[*object.Object]()
	db.Expires = expire.New()
}

// Size returns the number of live keys, mirroring DBSIZE.
func (db *Database) Size() int { return db.Keys.Size() }
