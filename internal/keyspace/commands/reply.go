// Package commands implements Redis-compatible command handlers built on
// top of the Keyspace API. It does not parse or emit RESP wire bytes (out
// of scope, spec.md §1) — Reply is a small tagged union a front-end layer
// would translate into RESP integers/bulk strings/arrays.
package commands

import "github.com/pomaidb/keyspace/internal/keyspace/scan"

// Kind tags the shape of a Reply.
type Kind uint8

const (
	KindInteger Kind = iota
	KindBulk
	KindNullBulk
	KindArray
	KindSimpleString
	KindError
)

// Reply is one command's result.
type Reply struct {
	Kind     Kind
	Int      int64
	Str      string
	Array    []Reply
	ErrClass string // "ERR", "WRONGTYPE", "SYNTAX", ...
}

func Int(n int64) Reply        { return Reply{Kind: KindInteger, Int: n} }
func Bulk(s string) Reply      { return Reply{Kind: KindBulk, Str: s} }
func NullBulk() Reply          { return Reply{Kind: KindNullBulk} }
func Simple(s string) Reply    { return Reply{Kind: KindSimpleString, Str: s} }
func Arr(items ...Reply) Reply { return Reply{Kind: KindArray, Array: items} }

func Err(class, msg string) Reply {
	return Reply{Kind: KindError, ErrClass: class, Str: msg}
}

func stringsToArray(ss []string) Reply {
	items := make([]Reply, len(ss))
	for i, s := range ss {
		items[i] = Bulk(s)
	}
	return Arr(items...)
}

func cursorReplyFrom(next uint64, keys []string) Reply {
	items := make([]Reply, len(keys))
	for i, k := range keys {
		items[i] = Bulk(k)
	}
	return Arr(Bulk(scan.FormatCursor(next)), Arr(items...))
}

func arityErr(cmd string) Reply {
	return Err("ERR", "wrong number of arguments for '"+cmd+"' command")
}

var errWrongType = Err("WRONGTYPE", "Operation against a key holding the wrong kind of value")
