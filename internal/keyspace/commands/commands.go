package commands

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pomaidb/keyspace/internal/keyspace/database"
	"github.com/pomaidb/keyspace/internal/keyspace/keyspace"
	"github.com/pomaidb/keyspace/internal/keyspace/object"
	"github.com/pomaidb/keyspace/internal/keyspace/propagation"
	"github.com/pomaidb/keyspace/internal/keyspace/scan"
	"github.com/pomaidb/keyspace/internal/keyspace/setval"
)

// Context carries everything a handler needs for one command invocation:
// the keyspace, the caller's currently-selected database, an optional
// propagation context, and the sampling source random_entry-style
// operations use.
type Context struct {
	KS         *keyspace.Keyspace
	DB         *database.Database
	Prop       *propagation.Context
	RandUint64 func() uint64
}

// Handler is one command's implementation.
type Handler func(hc *Context, argv []string) Reply

// Registry returns the full set of command handlers this module implements.
func Registry() map[string]Handler {
	return map[string]Handler{
		"DEL":         Del,
		"UNLINK":      Unlink,
		"EXISTS":      Exists,
		"SELECT":      Select,
		"RANDOMKEY":   RandomKey,
		"KEYS":        Keys,
		"SCAN":        Scan,
		"TYPE":        Type,
		"DBSIZE":      DBSize,
		"RENAME":      Rename,
		"RENAMENX":    RenameNX,
		"MOVE":        Move,
		"SWAPDB":      SwapDB,
		"FLUSHDB":     FlushDB,
		"FLUSHALL":    FlushAll,
		"TTL":         TTL,
		"PTTL":        PTTL,
		"EXPIRETIME":  ExpireTime,
		"PEXPIRETIME": PExpireTime,
		"PERSIST":     Persist,
		"COPY":        Copy,
		"OBJECT":      Object,
		"SADD":        SAdd,
		"SREM":        SRem,
		"SMOVE":       SMove,
		"SISMEMBER":   SIsMember,
		"SCARD":       SCard,
		"SPOP":        SPop,
		"SRANDMEMBER": SRandMember,
		"SINTER":      SInter,
		"SUNION":      SUnion,
		"SDIFF":       SDiff,
		"SINTERSTORE": SInterStore,
		"SUNIONSTORE": SUnionStore,
		"SDIFFSTORE":  SDiffStore,
		"SSCAN":       SScan,
	}
}

func parseInt(s string) (int, bool) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

func nowMs() int64 { return time.Now().UnixMilli() }

// --- keyspace-wide commands (spec.md §6) ---

func Del(hc *Context, argv []string) Reply {
	if len(argv) < 2 {
		return arityErr("del")
	}
	n := 0
	for _, k := range argv[1:] {
		if hc.KS.DeleteSync(hc.DB, k) {
			n++
		}
	}
	return Int(int64(n))
}

func Unlink(hc *Context, argv []string) Reply {
	if len(argv) < 2 {
		return arityErr("unlink")
	}
	n := 0
	for _, k := range argv[1:] {
		if hc.KS.DeleteAsync(hc.DB, k) {
			n++
		}
	}
	return Int(int64(n))
}

func Exists(hc *Context, argv []string) Reply {
	if len(argv) < 2 {
		return arityErr("exists")
	}
	n := 0
	for _, k := range argv[1:] {
		if hc.KS.Exists(hc.DB, k) {
			n++
		}
	}
	return Int(int64(n))
}

// Select validates a database index. Rebinding the caller's Context.DB to
// the returned database is the session layer's job — this package has no
// notion of a connection to hold that state on.
func Select(hc *Context, argv []string) Reply {
	if len(argv) != 2 {
		return arityErr("select")
	}
	id, ok := parseInt(argv[1])
	if !ok {
		return Err("ERR", "value is not an integer or out of range")
	}
	if id != 0 {
		if err := hc.KS.AssertClusterOp(); err != nil {
			return Err("ERR", err.Error())
		}
	}
	if _, err := hc.KS.Select(id); err != nil {
		return Err("ERR", "DB index is out of range")
	}
	return Simple("OK")
}

func RandomKey(hc *Context, argv []string) Reply {
	if len(argv) != 1 {
		return arityErr("randomkey")
	}
	k, ok := hc.KS.RandomKey(hc.DB)
	if !ok {
		return NullBulk()
	}
	return Bulk(k)
}

func Keys(hc *Context, argv []string) Reply {
	if len(argv) != 2 {
		return arityErr("keys")
	}
	pattern := argv[1]
	it := hc.DB.Keys.NewSafeIterator()
	defer it.Close()
	var out []string
	for {
		k, _, ok := it.Next()
		if !ok {
			break
		}
		if !scan.Match(pattern, k) {
			continue
		}
		if hc.KS.IsExpired(hc.DB, k) {
			continue
		}
		out = append(out, k)
	}
	return stringsToArray(out)
}

func Scan(hc *Context, argv []string) Reply {
	if len(argv) < 2 {
		return arityErr("scan")
	}
	cursor, err := scan.ParseCursor(argv[1])
	if err != nil {
		return Err("ERR", "invalid cursor")
	}
	params := scan.Params{Cursor: cursor}
	if r, bad := parseScanOptions(argv[2:], &params); bad {
		return r
	}
	next, keys := scan.Run(
		scan.DictSource[*object.Object]{D: hc.DB.Keys},
		params,
		func(k string) bool { return hc.KS.IsExpired(hc.DB, k) },
	)
	return cursorReplyFrom(next, keys)
}

func parseScanOptions(rest []string, params *scan.Params) (Reply, bool) {
	for i := 0; i < len(rest); i += 2 {
		if i+1 >= len(rest) {
			return Err("SYNTAX", "syntax error"), true
		}
		switch strings.ToUpper(rest[i]) {
		case "MATCH":
			params.Match = rest[i+1]
		case "COUNT":
			n, ok := parseInt(rest[i+1])
			if !ok || n < 1 {
				return Err("ERR", "value is not an integer or out of range"), true
			}
			params.Count = int64(n)
		default:
			return Err("SYNTAX", "syntax error"), true
		}
	}
	return Reply{}, false
}

func Type(hc *Context, argv []string) Reply {
	if len(argv) != 2 {
		return arityErr("type")
	}
	obj := hc.KS.LookupRead(hc.DB, argv[1], true)
	if obj == nil {
		return Simple("none")
	}
	return Simple(obj.Type().String())
}

func DBSize(hc *Context, argv []string) Reply {
	if len(argv) != 1 {
		return arityErr("dbsize")
	}
	return Int(int64(hc.DB.Size()))
}

func renameErr(err error) Reply {
	if err == keyspace.ErrNoKey {
		return Err("ERR", "no such key")
	}
	return Err("ERR", err.Error())
}

func Rename(hc *Context, argv []string) Reply {
	if len(argv) != 3 {
		return arityErr("rename")
	}
	if err := hc.KS.Rename(hc.DB, argv[1], argv[2], false); err != nil {
		return renameErr(err)
	}
	return Simple("OK")
}

func RenameNX(hc *Context, argv []string) Reply {
	if len(argv) != 3 {
		return arityErr("renamenx")
	}
	err := hc.KS.Rename(hc.DB, argv[1], argv[2], true)
	if err == keyspace.ErrKeyExists {
		return Int(0)
	}
	if err != nil {
		return renameErr(err)
	}
	return Int(1)
}

func Move(hc *Context, argv []string) Reply {
	if len(argv) != 3 {
		return arityErr("move")
	}
	if err := hc.KS.AssertClusterOp(); err != nil {
		return Err("ERR", err.Error())
	}
	dstID, ok := parseInt(argv[2])
	if !ok {
		return Err("ERR", "value is not an integer or out of range")
	}
	dst, err := hc.KS.Select(dstID)
	if err != nil {
		return Err("ERR", "DB index is out of range")
	}
	moved, err := hc.KS.Move(hc.DB, dst, argv[1])
	if err != nil {
		return Err("ERR", err.Error())
	}
	if moved {
		return Int(1)
	}
	return Int(0)
}

func SwapDB(hc *Context, argv []string) Reply {
	if len(argv) != 3 {
		return arityErr("swapdb")
	}
	if err := hc.KS.AssertClusterOp(); err != nil {
		return Err("ERR", err.Error())
	}
	a, ok1 := parseInt(argv[1])
	b, ok2 := parseInt(argv[2])
	if !ok1 || !ok2 {
		return Err("ERR", "invalid first/second database index")
	}
	if err := hc.KS.SwapDatabases(a, b); err != nil {
		return Err("ERR", err.Error())
	}
	return Simple("OK")
}

func parseFlushMode(argv []string) (bool, Reply, bool) {
	if len(argv) == 1 {
		return false, Reply{}, false
	}
	if len(argv) == 2 {
		switch strings.ToUpper(argv[1]) {
		case "ASYNC":
			return true, Reply{}, false
		case "SYNC":
			return false, Reply{}, false
		}
	}
	return false, Err("SYNTAX", "syntax error"), true
}

func FlushDB(hc *Context, argv []string) Reply {
	async, errR, bad := parseFlushMode(argv)
	if bad {
		return errR
	}
	if _, err := hc.KS.EmptyDB(int(hc.DB.ID), async); err != nil {
		return Err("ERR", err.Error())
	}
	return Simple("OK")
}

func FlushAll(hc *Context, argv []string) Reply {
	async, errR, bad := parseFlushMode(argv)
	if bad {
		return errR
	}
	if _, err := hc.KS.EmptyDB(-1, async); err != nil {
		return Err("ERR", err.Error())
	}
	return Simple("OK")
}

// --- expire commands (SPEC_FULL.md §4) ---

func TTL(hc *Context, argv []string) Reply {
	if len(argv) != 2 {
		return arityErr("ttl")
	}
	if hc.KS.LookupWrite(hc.DB, argv[1]) == nil {
		return Int(-2)
	}
	whenMs, ok := hc.KS.GetExpire(hc.DB, argv[1])
	if !ok {
		return Int(-1)
	}
	remain := whenMs - nowMs()
	if remain < 0 {
		remain = 0
	}
	return Int(int64(math.Round(float64(remain) / 1000.0)))
}

func PTTL(hc *Context, argv []string) Reply {
	if len(argv) != 2 {
		return arityErr("pttl")
	}
	if hc.KS.LookupWrite(hc.DB, argv[1]) == nil {
		return Int(-2)
	}
	whenMs, ok := hc.KS.GetExpire(hc.DB, argv[1])
	if !ok {
		return Int(-1)
	}
	remain := whenMs - nowMs()
	if remain < 0 {
		remain = 0
	}
	return Int(remain)
}

func ExpireTime(hc *Context, argv []string) Reply {
	if len(argv) != 2 {
		return arityErr("expiretime")
	}
	if hc.KS.LookupWrite(hc.DB, argv[1]) == nil {
		return Int(-2)
	}
	whenMs, ok := hc.KS.GetExpire(hc.DB, argv[1])
	if !ok {
		return Int(-1)
	}
	return Int(whenMs / 1000)
}

func PExpireTime(hc *Context, argv []string) Reply {
	if len(argv) != 2 {
		return arityErr("pexpiretime")
	}
	if hc.KS.LookupWrite(hc.DB, argv[1]) == nil {
		return Int(-2)
	}
	whenMs, ok := hc.KS.GetExpire(hc.DB, argv[1])
	if !ok {
		return Int(-1)
	}
	return Int(whenMs)
}

func Persist(hc *Context, argv []string) Reply {
	if len(argv) != 2 {
		return arityErr("persist")
	}
	if hc.KS.LookupWrite(hc.DB, argv[1]) == nil {
		return Int(0)
	}
	if hc.KS.RemoveExpire(hc.DB, argv[1]) {
		return Int(1)
	}
	return Int(0)
}

func Copy(hc *Context, argv []string) Reply {
	if len(argv) < 3 {
		return arityErr("copy")
	}
	src, dst := argv[1], argv[2]
	replace := false
	dstDB := hc.DB

	for i := 3; i < len(argv); i++ {
		switch strings.ToUpper(argv[i]) {
		case "REPLACE":
			replace = true
		case "DB":
			if i+1 >= len(argv) {
				return Err("SYNTAX", "syntax error")
			}
			id, ok := parseInt(argv[i+1])
			if !ok {
				return Err("ERR", "value is not an integer or out of range")
			}
			db, err := hc.KS.Select(id)
			if err != nil {
				return Err("ERR", "DB index is out of range")
			}
			dstDB = db
			i++
		default:
			return Err("SYNTAX", "syntax error")
		}
	}
	if dstDB == hc.DB && src == dst {
		return Err("ERR", "source and destination objects are the same")
	}

	obj := hc.KS.LookupWrite(hc.DB, src)
	if obj == nil {
		return Int(0)
	}
	existing := hc.KS.LookupWrite(dstDB, dst)
	if existing != nil && !replace {
		return Int(0)
	}

	var payload any = obj.Payload()
	if sv, ok := payload.(*setval.SetValue); ok {
		payload = sv.Clone()
	}
	cloned := object.New(obj.Type(), obj.Encoding(), payload)

	if existing != nil {
		hc.KS.Overwrite(dstDB, dst, cloned)
	} else {
		hc.KS.Add(dstDB, dst, cloned)
	}

	whenMs, hasExpire := hc.KS.GetExpire(hc.DB, src)
	if hasExpire {
		_ = hc.KS.SetExpire(dstDB, dst, whenMs)
	} else {
		hc.KS.RemoveExpire(dstDB, dst)
	}
	return Int(1)
}

func Object(hc *Context, argv []string) Reply {
	if len(argv) != 3 {
		return arityErr("object")
	}
	sub := strings.ToUpper(argv[1])
	key := argv[2]
	obj := hc.KS.LookupRead(hc.DB, key, true)
	if obj == nil {
		return Err("ERR", "no such key")
	}
	switch sub {
	case "ENCODING":
		return Bulk(obj.Encoding().String())
	case "FREQ":
		return Int(int64(obj.LFUCounter()))
	case "IDLETIME":
		idle := int64(object.LRUClock(time.Now())) - int64(obj.LRU())
		if idle < 0 {
			idle = 0
		}
		return Int(idle)
	default:
		return Err("ERR", "Unknown subcommand or wrong number of arguments")
	}
}

// --- set family (spec.md §4.2) ---

// lookupSet fetches key's SetValue, or nil if absent. It returns
// errWrongType if the key holds something else.
func lookupSet(hc *Context, key string) (*setval.SetValue, Reply, bool) {
	obj := hc.KS.LookupWrite(hc.DB, key)
	if obj == nil {
		return nil, Reply{}, false
	}
	sv, ok := obj.Payload().(*setval.SetValue)
	if !ok {
		return nil, errWrongType, true
	}
	return sv, Reply{}, false
}

func storeSet(hc *Context, db *database.Database, key string, sv *setval.SetValue) {
	obj := object.New(object.TypeSet, sv.Encoding(), sv)
	hc.KS.Set(db, key, obj)
}

func SAdd(hc *Context, argv []string) Reply {
	if len(argv) < 3 {
		return arityErr("sadd")
	}
	key := argv[1]
	sv, errR, bad := lookupSet(hc, key)
	if bad {
		return errR
	}
	isNew := sv == nil
	if isNew {
		sv = setval.New()
	}
	n := 0
	for _, m := range argv[2:] {
		if sv.Add(m) {
			n++
		}
	}
	if isNew {
		hc.KS.Add(hc.DB, key, object.New(object.TypeSet, sv.Encoding(), sv))
	} else {
		obj := hc.KS.LookupWrite(hc.DB, key)
		obj.SetEncoding(sv.Encoding())
	}
	return Int(int64(n))
}

func SRem(hc *Context, argv []string) Reply {
	if len(argv) < 3 {
		return arityErr("srem")
	}
	sv, errR, bad := lookupSet(hc, argv[1])
	if bad {
		return errR
	}
	if sv == nil {
		return Int(0)
	}
	n := 0
	for _, m := range argv[2:] {
		if sv.Remove(m) {
			n++
		}
	}
	if sv.Size() == 0 {
		hc.KS.DeleteSync(hc.DB, argv[1])
	}
	return Int(int64(n))
}

func SMove(hc *Context, argv []string) Reply {
	if len(argv) != 4 {
		return arityErr("smove")
	}
	srcKey, dstKey, member := argv[1], argv[2], argv[3]

	src, errR, bad := lookupSet(hc, srcKey)
	if bad {
		return errR
	}
	if src == nil || !src.Contains(member) {
		return Int(0)
	}
	dst, errR, bad := lookupSet(hc, dstKey)
	if bad {
		return errR
	}
	src.Remove(member)
	if src.Size() == 0 {
		hc.KS.DeleteSync(hc.DB, srcKey)
	}
	if dst == nil {
		dst = setval.New()
		dst.Add(member)
		hc.KS.Add(hc.DB, dstKey, object.New(object.TypeSet, dst.Encoding(), dst))
	} else {
		dst.Add(member)
		obj := hc.KS.LookupWrite(hc.DB, dstKey)
		obj.SetEncoding(dst.Encoding())
	}
	return Int(1)
}

func SIsMember(hc *Context, argv []string) Reply {
	if len(argv) != 3 {
		return arityErr("sismember")
	}
	sv, errR, bad := lookupSet(hc, argv[1])
	if bad {
		return errR
	}
	if sv == nil || !sv.Contains(argv[2]) {
		return Int(0)
	}
	return Int(1)
}

func SCard(hc *Context, argv []string) Reply {
	if len(argv) != 2 {
		return arityErr("scard")
	}
	sv, errR, bad := lookupSet(hc, argv[1])
	if bad {
		return errR
	}
	if sv == nil {
		return Int(0)
	}
	return Int(int64(sv.Size()))
}

// SPop removes and returns one or more random members, rewriting its own
// propagation into one SREM per popped member (spec.md §4.8's worked
// example of a command whose propagated form differs from its invocation).
func SPop(hc *Context, argv []string) Reply {
	if len(argv) < 2 || len(argv) > 3 {
		return arityErr("spop")
	}
	key := argv[1]
	sv, errR, bad := lookupSet(hc, key)
	if bad {
		return errR
	}
	if sv == nil {
		if len(argv) == 3 {
			return Arr()
		}
		return NullBulk()
	}

	count := 1
	withCount := len(argv) == 3
	if withCount {
		n, ok := parseNonNegInt(argv[2])
		if !ok {
			return Err("ERR", "value is out of range, must be positive")
		}
		count = n
	}
	if count == 0 {
		return Arr()
	}

	popped := make([]string, 0, count)
	for i := 0; i < count; i++ {
		m, ok := sv.Random(hc.RandUint64)
		if !ok {
			break
		}
		sv.Remove(m)
		popped = append(popped, m)
	}

	if sv.Size() == 0 {
		hc.KS.DeleteSync(hc.DB, key)
	}

	if hc.Prop != nil && len(popped) > 0 {
		hc.Prop.PreventSelfPropagation()
		targets := make([][]string, len(popped))
		for i, m := range popped {
			targets[i] = []string{"SREM", key, m}
		}
		hc.Prop.AlsoPropagate(targets)
	}

	if !withCount {
		if len(popped) == 0 {
			return NullBulk()
		}
		return Bulk(popped[0])
	}
	return stringsToArray(popped)
}

// SRandMember samples without removing. A positive count returns up to
// count distinct members; a negative count allows duplicates and always
// returns exactly -count members (spec.md §4.2 random-sampling note).
func SRandMember(hc *Context, argv []string) Reply {
	if len(argv) < 2 || len(argv) > 3 {
		return arityErr("srandmember")
	}
	sv, errR, bad := lookupSet(hc, argv[1])
	if bad {
		return errR
	}
	if len(argv) == 2 {
		if sv == nil {
			return NullBulk()
		}
		m, ok := sv.Random(hc.RandUint64)
		if !ok {
			return NullBulk()
		}
		return Bulk(m)
	}

	n, ok := parseInt(argv[2])
	if !ok {
		return Err("ERR", "value is not an integer or out of range")
	}
	if sv == nil || n == 0 {
		return Arr()
	}
	if n > 0 {
		members := sv.Members()
		if n >= len(members) {
			return stringsToArray(members)
		}
		shuffled := append([]string(nil), members...)
		for i := len(shuffled) - 1; i > 0; i-- {
			j := int(hc.RandUint64() % uint64(i+1))
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		}
		return stringsToArray(shuffled[:n])
	}
	count := -n
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		m, ok := sv.Random(hc.RandUint64)
		if !ok {
			break
		}
		out = append(out, m)
	}
	return stringsToArray(out)
}

func parseNonNegInt(s string) (int, bool) {
	n, ok := parseInt(s)
	if !ok || n < 0 {
		return 0, false
	}
	return n, true
}

// collectSets resolves a list of keys into SetValues, skipping absent keys
// (treated as empty sets) and failing on a WRONGTYPE key.
func collectSets(hc *Context, keys []string) ([]*setval.SetValue, Reply, bool) {
	out := make([]*setval.SetValue, 0, len(keys))
	for _, k := range keys {
		sv, errR, bad := lookupSet(hc, k)
		if bad {
			return nil, errR, true
		}
		if sv == nil {
			sv = setval.New()
		}
		out = append(out, sv)
	}
	return out, Reply{}, false
}

func SInter(hc *Context, argv []string) Reply {
	if len(argv) < 2 {
		return arityErr("sinter")
	}
	sets, errR, bad := collectSets(hc, argv[1:])
	if bad {
		return errR
	}
	return stringsToArray(setval.Inter(sets))
}

func SUnion(hc *Context, argv []string) Reply {
	if len(argv) < 2 {
		return arityErr("sunion")
	}
	sets, errR, bad := collectSets(hc, argv[1:])
	if bad {
		return errR
	}
	return stringsToArray(setval.Union(sets))
}

func SDiff(hc *Context, argv []string) Reply {
	if len(argv) < 2 {
		return arityErr("sdiff")
	}
	sets, errR, bad := collectSets(hc, argv[1:])
	if bad {
		return errR
	}
	return stringsToArray(setval.Diff(sets))
}

func storeResult(hc *Context, dst string, members []string) Reply {
	if len(members) == 0 {
		hc.KS.DeleteSync(hc.DB, dst)
		return Int(0)
	}
	sv := setval.New()
	for _, m := range members {
		sv.Add(m)
	}
	if hc.KS.LookupWrite(hc.DB, dst) != nil {
		obj := object.New(object.TypeSet, sv.Encoding(), sv)
		hc.KS.Overwrite(hc.DB, dst, obj)
	} else {
		hc.KS.Add(hc.DB, dst, object.New(object.TypeSet, sv.Encoding(), sv))
	}
	return Int(int64(len(members)))
}

func SInterStore(hc *Context, argv []string) Reply {
	if len(argv) < 3 {
		return arityErr("sinterstore")
	}
	sets, errR, bad := collectSets(hc, argv[2:])
	if bad {
		return errR
	}
	return storeResult(hc, argv[1], setval.Inter(sets))
}

func SUnionStore(hc *Context, argv []string) Reply {
	if len(argv) < 3 {
		return arityErr("sunionstore")
	}
	sets, errR, bad := collectSets(hc, argv[2:])
	if bad {
		return errR
	}
	return storeResult(hc, argv[1], setval.Union(sets))
}

func SDiffStore(hc *Context, argv []string) Reply {
	if len(argv) < 3 {
		return arityErr("sdiffstore")
	}
	sets, errR, bad := collectSets(hc, argv[2:])
	if bad {
		return errR
	}
	return storeResult(hc, argv[1], setval.Diff(sets))
}

func SScan(hc *Context, argv []string) Reply {
	if len(argv) < 3 {
		return arityErr("sscan")
	}
	sv, errR, bad := lookupSet(hc, argv[1])
	if bad {
		return errR
	}
	cursor, err := scan.ParseCursor(argv[2])
	if err != nil {
		return Err("ERR", "invalid cursor")
	}
	params := scan.Params{Cursor: cursor}
	if r, bad := parseScanOptions(argv[3:], &params); bad {
		return r
	}
	if sv == nil {
		return cursorReplyFrom(0, nil)
	}
	next, members := scan.Run(scan.SetSource{S: sv}, params, func(string) bool { return false })
	return cursorReplyFrom(next, members)
}
