// Package slotindex maintains the key -> cluster-slot secondary index used
// for cluster rebalancing: a CRC16 slot function (Redis Cluster's hashing
// scheme) over an immutable radix tree keyed by (slot, key bytes).
//
// The CRC16 table-and-sync.Once shape mirrors internal/ppcrc/crc64_go.go's
// generator, ported down to the 16-bit CCITT polynomial Redis Cluster uses
// instead of the 64-bit one the teacher needs for its own checksums. The
// tree itself is hashicorp/go-immutable-radix, the one radix-tree-shaped
// library reachable anywhere in the retrieval pack's dependency surface.
package slotindex

import (
	"bytes"
	"encoding/binary"
	"sync"
	"sync/atomic"

	iradix "github.com/hashicorp/go-immutable-radix"
)

// NumSlots is the size of Redis Cluster's slot space.
const NumSlots = 16384

var crc16Table [256]uint16
var crc16Once sync.Once

const crc16Poly = 0x1021

func initCRC16Table() {
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ crc16Poly
			} else {
				crc <<= 1
			}
		}
		crc16Table[i] = crc
	}
}

// CRC16 computes the CCITT CRC16 Redis Cluster uses for slot hashing.
func CRC16(data []byte) uint16 {
	crc16Once.Do(initCRC16Table)
	var crc uint16
	for _, b := range data {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// hashTag extracts the substring between the first '{' and the following
// '}' if present and non-empty, so multi-key commands can co-locate related
// keys on the same slot — same semantics as Redis Cluster hash tags.
func hashTag(key []byte) []byte {
	start := bytes.IndexByte(key, '{')
	if start < 0 {
		return key
	}
	rest := key[start+1:]
	end := bytes.IndexByte(rest, '}')
	if end <= 0 {
		return key
	}
	return rest[:end]
}

// Slot returns the cluster slot for key.
func Slot(key []byte) uint16 {
	return CRC16(hashTag(key)) % NumSlots
}

// Index is the (slot, key) radix tree plus a per-slot live-key counter.
// Maintained only in cluster mode, on every db_add/db_delete against
// database 0 (spec.md §4.5).
type Index struct {
	mu        sync.RWMutex
	tree      *iradix.Tree
	slotCount [NumSlots]int32
}

// New returns an empty slot index.
func New() *Index {
	return &Index{tree: iradix.New()}
}

func compositeKey(slot uint16, key []byte) []byte {
	buf := make([]byte, 2+len(key))
	binary.BigEndian.PutUint16(buf, slot)
	copy(buf[2:], key)
	return buf
}

// Insert adds key to its slot's bucket. A no-op if already present.
func (x *Index) Insert(key []byte) {
	slot := Slot(key)
	ck := compositeKey(slot, key)

	x.mu.Lock()
	defer x.mu.Unlock()
	tree, _, existed := x.tree.Insert(ck, struct{}{})
	x.tree = tree
	if !existed {
		atomic.AddInt32(&x.slotCount[slot], 1)
	}
}

// Delete removes key. Returns whether it was present.
func (x *Index) Delete(key []byte) bool {
	slot := Slot(key)
	ck := compositeKey(slot, key)

	x.mu.Lock()
	defer x.mu.Unlock()
	tree, _, existed := x.tree.Delete(ck)
	if !existed {
		return false
	}
	x.tree = tree
	atomic.AddInt32(&x.slotCount[slot], -1)
	return true
}

// SlotCount returns the number of keys currently assigned to slot.
func (x *Index) SlotCount(slot uint16) int {
	return int(atomic.LoadInt32(&x.slotCount[slot]))
}

// GetKeysInSlot seeks to (slot, "") and yields up to limit keys before the
// slot prefix changes (limit <= 0 means unbounded). Spec.md §4.5.
func (x *Index) GetKeysInSlot(slot uint16, limit int) [][]byte {
	x.mu.RLock()
	tree := x.tree
	x.mu.RUnlock()

	prefix := make([]byte, 2)
	binary.BigEndian.PutUint16(prefix, slot)

	var out [][]byte
	it := tree.Root().Iterator()
	it.SeekPrefix(prefix)
	for {
		if limit > 0 && len(out) >= limit {
			break
		}
		k, _, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, append([]byte(nil), k[2:]...))
	}
	return out
}

// DeleteKeysInSlot repeatedly seeks-and-deletes until slot_count[slot] hits
// zero, returning the deleted keys.
func (x *Index) DeleteKeysInSlot(slot uint16) [][]byte {
	var deleted [][]byte
	for x.SlotCount(slot) > 0 {
		keys := x.GetKeysInSlot(slot, 1)
		if len(keys) == 0 {
			break
		}
		x.Delete(keys[0])
		deleted = append(deleted, keys[0])
	}
	return deleted
}
