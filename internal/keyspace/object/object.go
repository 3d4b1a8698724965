// Package object defines the reference-counted value header shared by every
// key in the keyspace: type tag, encoding tag, and the 24-bit access-metadata
// field used by the LRU/LFU eviction policies.
package object

import (
	"errors"
	"sync/atomic"
	"time"
)

// Type is the logical datatype of a value.
type Type uint8

const (
	TypeString Type = iota
	TypeList
	TypeSet
	TypeZSet
	TypeHash
	TypeModule
)

func (t Type) String() string {
	switch t {
	case TypeString:
		return "string"
	case TypeList:
		return "list"
	case TypeSet:
		return "set"
	case TypeZSet:
		return "zset"
	case TypeHash:
		return "hash"
	case TypeModule:
		return "module"
	default:
		return "unknown"
	}
}

// Encoding is a type-dependent variant tag. The Set datatype is the only one
// this module implements end to end; the others are carried so ObjectEncoding
// introspection has somewhere to point.
type Encoding uint8

const (
	EncodingRaw Encoding = iota
	EncodingIntset
	EncodingHashtable
	EncodingListpack
	EncodingSkiplist
)

func (e Encoding) String() string {
	switch e {
	case EncodingRaw:
		return "raw"
	case EncodingIntset:
		return "intset"
	case EncodingHashtable:
		return "hashtable"
	case EncodingListpack:
		return "listpack"
	case EncodingSkiplist:
		return "skiplist"
	default:
		return "unknown"
	}
}

// AccessMode selects how the 24-bit access-metadata field is interpreted,
// fixed once at server configuration per spec.md §3.
type AccessMode uint8

const (
	AccessModeLRU AccessMode = iota
	AccessModeLFU
)

// LFU tuning constants, spec.md §3 and SPEC_FULL.md §4 (exposed as config
// fields rather than hardcoded, per the original's lfu-decay-time /
// lfu-log-factor tunables).
const (
	DefaultLFUDecayMinutes = 1
	DefaultLFULogFactor    = 10
	lfuInitVal             = 5
	accessMetaMask         = 0x00FFFFFF // 24 bits
)

var ErrNotUnique = errors.New("object: refcount greater than one, clone before mutating")

// Object is the value stored under a key: a type/encoding tag, a
// reference-counted payload, and the 24-bit access-metadata word.
type Object struct {
	typ        Type
	encoding   Encoding
	refcount   atomic.Int32
	accessMeta atomic.Uint32
	payload    any
}

// New creates an Object with refcount 1, owned by the caller.
func New(typ Type, encoding Encoding, payload any) *Object {
	o := &Object{typ: typ, encoding: encoding, payload: payload}
	o.refcount.Store(1)
	return o
}

func (o *Object) Type() Type             { return o.typ }
func (o *Object) Encoding() Encoding     { return o.encoding }
func (o *Object) Payload() any           { return o.payload }
func (o *Object) SetPayload(p any)       { o.payload = p }
func (o *Object) SetEncoding(e Encoding) { o.encoding = e }

// IncrRef adds a shared owner.
func (o *Object) IncrRef() { o.refcount.Add(1) }

// DecrRef releases a shared owner. Returns true if this was the last
// reference and the payload should be considered freed.
func (o *Object) DecrRef() bool {
	return o.refcount.Add(-1) == 0
}

func (o *Object) RefCount() int32 { return o.refcount.Load() }

// Unique reports whether refcount == 1, the precondition for destructive
// in-place mutation (spec.md §3).
func (o *Object) Unique() bool { return o.refcount.Load() == 1 }

// --- access metadata ---

// LRUClock truncates a unix-seconds timestamp to the 24-bit field used for
// the LRU clock, matching the wraparound behavior of the packed field.
func LRUClock(now time.Time) uint32 {
	return uint32(now.Unix()) & accessMetaMask
}

// SetLRU stamps the object's access-metadata field with the given clock
// value, skipping the write entirely is the caller's responsibility (the
// child_active / NO_TOUCH checks live in the keyspace package, which knows
// about those flags; this type only stores the bits).
func (o *Object) SetLRU(clock uint32) {
	o.accessMeta.Store(clock & accessMetaMask)
}

func (o *Object) LRU() uint32 {
	return o.accessMeta.Load() & accessMetaMask
}

// packed LFU layout: minutes_timestamp:16 | counter:8
func packLFU(minutes uint16, counter uint8) uint32 {
	return (uint32(minutes) << 8) | uint32(counter)
}

func unpackLFU(v uint32) (minutes uint16, counter uint8) {
	return uint16(v >> 8), uint8(v & 0xFF)
}

// InitLFU stamps a freshly created object with the LFU baseline counter.
func (o *Object) InitLFU(nowMinutes uint16) {
	o.accessMeta.Store(packLFU(nowMinutes, lfuInitVal))
}

// TouchLFU applies the decay-then-probabilistic-increment-then-restamp
// algorithm from spec.md §3. rand01 must return a uniform float in [0,1);
// callers pass math/rand so this stays deterministic under test.
func (o *Object) TouchLFU(nowMinutes uint16, decayMinutes uint16, logFactor uint8, rand01 func() float64) {
	for {
		old := o.accessMeta.Load()
		ts, counter := unpackLFU(old)

		decayed := counter
		if decayMinutes > 0 {
			elapsed := minutesSince(ts, nowMinutes)
			steps := elapsed / decayMinutes
			if steps > 0 {
				if uint16(decayed) <= steps {
					decayed = 0
				} else {
					decayed = uint8(uint16(decayed) - steps)
				}
			}
		}

		newCounter := decayed
		if newCounter < 255 {
			p := 1.0 / (float64(int(decayed)-lfuInitVal)*float64(logFactor) + 1.0)
			if p < 0 {
				p = 1
			}
			if rand01() < p {
				newCounter = decayed + 1
			}
		}

		next := packLFU(nowMinutes, newCounter)
		if o.accessMeta.CompareAndSwap(old, next) {
			return
		}
	}
}

func (o *Object) LFUCounter() uint8 {
	_, c := unpackLFU(o.accessMeta.Load())
	return c
}

// minutesSince handles the 16-bit timestamp wraparound the way the packed
// field requires: if "now" looks earlier than "ts" it's because the minute
// counter wrapped, so the result is the minutes from ts up to 65535 plus
// the minutes since the wrap.
func minutesSince(ts, now uint16) uint16 {
	if now >= ts {
		return now - ts
	}
	return (65535 - ts) + now
}
