// Package expire implements ExpireIndex and the lazy/active expiration
// machinery: a side table of key -> absolute expiry (ms), consulted on
// every read/write via the lazy path and swept periodically by the active
// cycle.
//
// Grounded on internal/cache/adaptive_ttl.go for the EMA-smoothed TTL
// bookkeeping idea, and internal/engine/concurrency/singleflight.go for the
// sharded-singleflight coalescing of the active cycle trigger.
package expire

import (
	"hash/fnv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/pomaidb/keyspace/internal/keyspace/dict"
)

// Sink receives synthetic deletes produced by expiration, so the core never
// writes replication/AOF bytes itself (spec.md §4.8).
type Sink interface {
	Feed(dbID int, argv []string)
}

// Notifier receives keyspace-notification events ("expired", ...).
type Notifier func(event, key string)

// Clock resolves "now" for expiration checks: wall clock, unless a
// scripted-execution clock is pinned, in which case every check inside that
// script's lifetime uses the pinned value (spec.md §4.3 step 3).
type Clock struct {
	pinnedMs *int64
}

// Now returns the effective current millisecond timestamp.
func (c *Clock) Now() int64 {
	if c.pinnedMs != nil {
		return *c.pinnedMs
	}
	return time.Now().UnixMilli()
}

// Pin fixes the clock at ms for the duration of a scripted execution.
func (c *Clock) Pin(ms int64) { c.pinnedMs = &ms }

// Unpin releases a pinned clock.
func (c *Clock) Unpin() { c.pinnedMs = nil }

// Context carries the per-call flags that change lazy-expire behavior:
// whether the server is loading persisted state, and whether this process
// is a replica (spec.md §4.3 steps 2 and 4).
type Context struct {
	Loading   bool
	IsReplica bool
}

// Index is the expires side table for one database.
type Index struct {
	table  *dict.Dict[int64]
	avgTTL float64
}

// New returns an empty expire index.
func New() *Index {
	return &Index{table: dict.New[int64]()}
}

// SetExpire records key's absolute expiry in milliseconds. Caller must
// ensure key already exists in the owning database's main dict.
func (x *Index) SetExpire(key string, whenMs int64) { x.table.Replace(key, whenMs) }

// RemoveExpire clears key's expiry. Returns whether one was present.
func (x *Index) RemoveExpire(key string) bool { return x.table.Delete(key) }

// GetExpire returns key's absolute expiry, if any.
func (x *Index) GetExpire(key string) (int64, bool) { return x.table.Find(key) }

// Size returns the number of keys with a live expiry.
func (x *Index) Size() int { return x.table.Size() }

// Tick lets the incremental-rehash machinery of the underlying dict make
// bounded background progress between commands.
func (x *Index) Tick(n int) { x.table.Tick(n) }

// AvgTTL returns the exponentially-smoothed average TTL observed by the
// active expire cycle, in milliseconds.
func (x *Index) AvgTTL() float64 { return x.avgTTL }

const avgTTLAlpha = 0.1

func (x *Index) updateAvgTTL(sampleAvgMs float64) {
	if x.avgTTL == 0 {
		x.avgTTL = sampleAvgMs
		return
	}
	x.avgTTL = x.avgTTL*(1-avgTTLAlpha) + sampleAvgMs*avgTTLAlpha
}

// MainDict is the subset of dict.Dict[V] the expire package needs from the
// keyspace's primary key/value table, kept generic-free so this package
// doesn't need to know the payload type.
type MainDict interface {
	Delete(key string) bool
}

// ExpireIfNeeded implements the lazy expiration path (spec.md §4.3). On a
// replica it never deletes: the returned bool is advisory only ("looks
// expired to me"), since masters own expiration and replicas apply the
// propagated DEL.
func (x *Index) ExpireIfNeeded(ctx Context, clock *Clock, dbID int, key string, main MainDict, sink Sink, notify Notifier) bool {
	t, ok := x.GetExpire(key)
	if !ok {
		return false
	}
	if ctx.Loading {
		return false
	}
	now := clock.Now()
	if ctx.IsReplica {
		return now > t
	}
	if now <= t {
		return false
	}

	x.RemoveExpire(key)
	main.Delete(key)
	if sink != nil {
		sink.Feed(dbID, []string{"DEL", key})
	}
	if notify != nil {
		notify("expired", key)
	}
	return true
}

// activeCycleSampleSize is k in spec.md §4.3's "samples up to k keys".
const activeCycleSampleSize = 20

// activeCycleExpiredFractionThreshold is the fraction of a sampled batch
// found expired above which the cycle keeps sampling the same database.
const activeCycleExpiredFractionThreshold = 0.25

// ActiveExpireCycle samples up to activeCycleSampleSize keys at a time from
// the expires index, deleting any past their TTL, and keeps sampling the
// same database while the expired fraction stays above threshold — bounded
// by deadline so a single cron tick cannot run unbounded (spec.md §4.3).
func (x *Index) ActiveExpireCycle(ctx Context, clock *Clock, dbID int, main MainDict, sink Sink, notify Notifier, randUint64 func() uint64, deadline time.Time) int {
	totalExpired := 0
	for {
		if !time.Now().Before(deadline) {
			break
		}
		sampled := 0
		expiredThisRound := 0
		var remainingSum float64

		for i := 0; i < activeCycleSampleSize; i++ {
			key, ttl, ok := x.table.RandomEntry(randUint64)
			if !ok {
				break
			}
			sampled++
			now := clock.Now()
			if now > ttl {
				x.RemoveExpire(key)
				main.Delete(key)
				if sink != nil {
					sink.Feed(dbID, []string{"DEL", key})
				}
				if notify != nil {
					notify("expired", key)
				}
				expiredThisRound++
				totalExpired++
			} else {
				remainingSum += float64(ttl - now)
			}
		}

		if sampled == 0 {
			break
		}
		if n := sampled - expiredThisRound; n > 0 {
			x.updateAvgTTL(remainingSum / float64(n))
		}
		if float64(expiredThisRound)/float64(sampled) <= activeCycleExpiredFractionThreshold {
			break
		}
	}
	return totalExpired
}

// --- coalesced trigger for concurrent active-cycle requests ---

const triggerShards = 16

// Trigger coalesces concurrent requests to run an active expire cycle for
// the same database into a single execution, sharding a singleflight.Group
// array by key hash the way
// internal/engine/concurrency/singleflight.go shards duplicate-work
// suppression across cache shards.
type Trigger struct {
	groups [triggerShards]singleflight.Group
}

func (t *Trigger) shard(key string) *singleflight.Group {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &t.groups[h.Sum32()%triggerShards]
}

// Run executes fn for dbKey, coalescing concurrent callers for the same key
// into one execution and fanning the result out to all of them.
func (t *Trigger) Run(dbKey string, fn func() int) int {
	v, _, _ := t.shard(dbKey).Do(dbKey, func() (interface{}, error) {
		return fn(), nil
	})
	return v.(int)
}
