// Copyright 2024 The PMGraph Authors
// This file is part of PMGraph.
//
// PMGraph is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// PMGraph is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with PMGraph. If not, see <http://www.gnu.org/licenses/>.

package alloc

import (
	"encoding/binary"
	"math/bits"

	"github.com/google/btree"

	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/region"
)

// sizeClasses are the power-of-two bucket sizes the arena rounds requests
// up to, from the 16-byte floor (spec.md: "sizes below 16B are coalesced
// into the small-cell pool") to a 4096-byte ceiling, beyond which an
// exact-fit freelist takes over.
var sizeClasses = []uint64{16, 32, 64, 128, 256, 512, 1024, 2048, 4096}

const overflowThreshold = 4096

// shardHeaderSize: one bump-pointer (8B) + one freelist head per size
// class (8B each) + one overflow freelist head (8B), rounded up to a
// page so shards stay page-aligned.
const shardHeaderSize = 4096

// Arena is the variable-size allocator for strings, blobs, and overflow
// property-chunk payloads, sharded across NumAllocators independent
// shards so allocation/free only ever takes one shard's lock (spec §5:
// "Allocators are sharded... reducing contention during heavy writes").
type Arena struct {
	shardSize uint64
	shards    []*shard
}

type shard struct {
	base region.Offset
	size uint64
	bump uint64

	// The size-classed freelist heads have no in-memory copy: the
	// on-media head for sizeClasses[i] is re-read on every pop.
	overflow *btree.BTreeG[overflowEntry] // in-memory accelerator only
}

type overflowEntry struct {
	size uint64
	off  region.Offset
}

func overflowLess(a, b overflowEntry) bool {
	if a.size != b.size {
		return a.size < b.size
	}
	return a.off < b.off
}

// OpenArena rebuilds the in-memory overflow-freelist index for every shard
// by walking each shard's persisted overflow chain once.
func OpenArena(m *region.Map, numShards int, shardSize uint64) (*Arena, error) {
	r := m.Region(region.Arena)
	buf := r.Bytes()
	a := &Arena{shardSize: shardSize}
	for i := 0; i < numShards; i++ {
		base := region.Offset(uint64(i) * shardSize)
		if uint64(base)+shardHeaderSize > uint64(len(buf)) {
			return nil, pgerr.Newf(pgerr.LayoutCorrupt, "arena too small for shard %d", i)
		}
		sh := &shard{base: base, size: shardSize, overflow: btree.NewG(32, overflowLess)}
		sh.bump = binary.LittleEndian.Uint64(buf[base:])
		head := binary.LittleEndian.Uint64(buf[base+8+8*uint64(len(sizeClasses)):])
		off := region.Offset(head)
		for off != 0 {
			entrySize := binary.LittleEndian.Uint64(buf[off:])
			next := binary.LittleEndian.Uint64(buf[off+8:])
			sh.overflow.ReplaceOrInsert(overflowEntry{size: entrySize, off: off})
			off = region.Offset(next)
		}
		a.shards = append(a.shards, sh)
	}
	return a, nil
}

func classHeadOffset(base region.Offset, classIdx int) region.Offset {
	return base + 8 + region.Offset(8*classIdx)
}

func overflowHeadOffset(base region.Offset) region.Offset {
	return base + 8 + region.Offset(8*len(sizeClasses))
}

// sizeClass rounds n up to a power-of-two bucket, or reports -1 if n
// belongs in the overflow (exact-fit) freelist.
func sizeClass(n uint64) (idx int, rounded uint64) {
	if n < 16 {
		n = 16
	}
	if n > overflowThreshold {
		return -1, n
	}
	rounded = uint64(1) << bits.Len64(n-1)
	for i, c := range sizeClasses {
		if c == rounded {
			return i, rounded
		}
	}
	return -1, n
}

// Alloc returns an offset into the Arena region with at least size usable
// bytes, from shard (caller picks a shard, typically hash(key)%numShards).
func (a *Arena) Alloc(tx *journal.Tx, shardIdx int, size uint64) (region.Offset, error) {
	if shardIdx < 0 || shardIdx >= len(a.shards) {
		return 0, pgerr.Newf(pgerr.InvalidID, "bad arena shard %d", shardIdx)
	}
	sh := a.shards[shardIdx]
	classIdx, rounded := sizeClass(size)
	if classIdx >= 0 {
		return a.allocClassed(tx, sh, classIdx, rounded)
	}
	return a.allocOverflow(tx, sh, rounded)
}

func (a *Arena) allocClassed(tx *journal.Tx, sh *shard, classIdx int, rounded uint64) (region.Offset, error) {
	headLoc := classHeadOffset(sh.base, classIdx)
	headBuf, err := tx.Read(region.Arena, headLoc, 8)
	if err != nil {
		return 0, err
	}
	head := binary.LittleEndian.Uint64(headBuf)
	if head != 0 {
		off := region.Offset(head)
		nextBuf, err := tx.Read(region.Arena, off, 8)
		if err != nil {
			return 0, err
		}
		next := binary.LittleEndian.Uint64(nextBuf)
		if err := tx.PutUint64(region.Arena, headLoc, next); err != nil {
			return 0, err
		}
		return off, nil
	}
	return a.bump(tx, sh, rounded)
}

// allocOverflow pops an exact-size match out of the single combined
// overflow chain. The chain threads every overflow-sized free block
// together regardless of size, so unlinking a match that isn't the
// current head requires walking from the head to find its predecessor.
func (a *Arena) allocOverflow(tx *journal.Tx, sh *shard, size uint64) (region.Offset, error) {
	var item overflowEntry
	var ok bool
	sh.overflow.AscendGreaterOrEqual(overflowEntry{size: size}, func(candidate overflowEntry) bool {
		if candidate.size == size {
			item, ok = candidate, true
		}
		return false // only ever consider the first entry at or above size
	})
	if !ok {
		return a.bump(tx, sh, size)
	}
	headLoc := overflowHeadOffset(sh.base)
	headBuf, err := tx.Read(region.Arena, headLoc, 8)
	if err != nil {
		return 0, err
	}
	next, err := tx.Read(region.Arena, item.off+8, 8)
	if err != nil {
		return 0, err
	}
	nextOff := binary.LittleEndian.Uint64(next)

	if binary.LittleEndian.Uint64(headBuf) == uint64(item.off) {
		if err := tx.PutUint64(region.Arena, headLoc, nextOff); err != nil {
			return 0, err
		}
	} else {
		cur := region.Offset(binary.LittleEndian.Uint64(headBuf))
		for cur != 0 {
			curNextBuf, err := tx.Read(region.Arena, cur+8, 8)
			if err != nil {
				return 0, err
			}
			curNext := binary.LittleEndian.Uint64(curNextBuf)
			if region.Offset(curNext) == item.off {
				if err := tx.PutUint64(region.Arena, cur+8, nextOff); err != nil {
					return 0, err
				}
				break
			}
			cur = region.Offset(curNext)
		}
	}
	sh.overflow.Delete(item)
	tx.OnAbort(func() { sh.overflow.ReplaceOrInsert(item) })
	return item.off, nil
}

func (a *Arena) bump(tx *journal.Tx, sh *shard, size uint64) (region.Offset, error) {
	off := sh.base + shardHeaderSize + region.Offset(sh.bump)
	if sh.bump+size > sh.size-shardHeaderSize {
		return 0, pgerr.Newf(pgerr.OutOfSpace, "arena shard %d exhausted", sh.base)
	}
	sh.bump += size
	tx.OnAbort(func() { sh.bump -= size })
	if err := tx.PutUint64(region.Arena, sh.base, sh.bump); err != nil {
		return 0, err
	}
	return off, nil
}

// Free returns off, whose usable size is size bytes, to the appropriate
// freelist. An overflow-sized block reaches the in-memory exact-fit index
// only once the transaction commits. A size-classed block is pushed onto
// the on-media freelist at once, so a later Alloc of the same class in the
// same transaction can hand it back; on abort the journal restores the
// freelist head and the block stays allocated.
func (a *Arena) Free(tx *journal.Tx, shardIdx int, off region.Offset, size uint64) error {
	if shardIdx < 0 || shardIdx >= len(a.shards) {
		return pgerr.Newf(pgerr.InvalidID, "bad arena shard %d", shardIdx)
	}
	sh := a.shards[shardIdx]
	classIdx, _ := sizeClass(size)
	if classIdx >= 0 {
		headLoc := classHeadOffset(sh.base, classIdx)
		oldHead, err := tx.Read(region.Arena, headLoc, 8)
		if err != nil {
			return err
		}
		if err := tx.Write(region.Arena, off, oldHead); err != nil {
			return err
		}
		return tx.PutUint64(region.Arena, headLoc, uint64(off))
	}

	headLoc := overflowHeadOffset(sh.base)
	headBuf, err := tx.Read(region.Arena, headLoc, 8)
	if err != nil {
		return err
	}
	oldHead := binary.LittleEndian.Uint64(headBuf)
	if err := tx.PutUint64(region.Arena, off, size); err != nil {
		return err
	}
	if err := tx.PutUint64(region.Arena, off+8, oldHead); err != nil {
		return err
	}
	if err := tx.PutUint64(region.Arena, headLoc, uint64(off)); err != nil {
		return err
	}
	entry := overflowEntry{size: size, off: off}
	tx.OnCommit(func() { sh.overflow.ReplaceOrInsert(entry) })
	return nil
}
