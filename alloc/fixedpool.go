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

// Package alloc implements the two allocator families specified in
// spec.md §4.C3: a fixed-size slab pool per object kind, and a
// variable-size arena for strings/blobs/overflow property chunks.
package alloc

import (
	"encoding/binary"

	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/region"
)

const fixedPoolHeaderSize = 4096 // one reserved page; holds the bump pointer

// FixedPool is a slab allocator for one fixed-size object kind (Node,
// Edge, PropertyChunk, TreeNode, ChunkListBucket, ...). Every slot is
// prefixed with a one-byte tombstone flag (0 = live, 1 = free); the free
// set is mirrored in an in-memory roaring.Bitmap of slot indices so the
// lowest-addressed free slot can be found without a region scan, matching
// the "lower addresses preferred for locality" allocation policy.
type FixedPool struct {
	name    region.Name
	objSize int
	stride  uint64 // 1 (tombstone byte) + objSize

	free *roaring.Bitmap
	bump uint64
}

// Open rebuilds a FixedPool's in-memory free-bitmap by scanning the
// tombstone flags of every slot below the persisted bump pointer.
func Open(m *region.Map, name region.Name, objSize int) (*FixedPool, error) {
	r := m.Region(name)
	buf := r.Bytes()
	if len(buf) < fixedPoolHeaderSize {
		return nil, pgerr.Newf(pgerr.LayoutCorrupt, "region %s too small for pool header", name)
	}
	p := &FixedPool{name: name, objSize: objSize, stride: uint64(1 + objSize), free: roaring.New()}
	p.bump = binary.LittleEndian.Uint64(buf[0:8])
	for i := uint64(0); i < p.bump; i++ {
		flagOff := fixedPoolHeaderSize + i*p.stride
		if flagOff >= uint64(len(buf)) {
			break
		}
		if buf[flagOff] == 1 {
			p.free.Add(uint32(i))
		}
	}
	return p, nil
}

// objectOffset returns the payload offset (past the tombstone byte) of
// slot index.
func (p *FixedPool) objectOffset(idx uint64) region.Offset {
	return region.Offset(fixedPoolHeaderSize + idx*p.stride + 1)
}

func (p *FixedPool) flagOffset(idx uint64) region.Offset {
	return region.Offset(fixedPoolHeaderSize + idx*p.stride)
}

func (p *FixedPool) indexOf(off region.Offset) (uint64, error) {
	rel := uint64(off) - fixedPoolHeaderSize - 1
	if rel%p.stride != 0 {
		return 0, pgerr.Newf(pgerr.InvalidID, "offset %d is not aligned to pool %s stride", off, p.name)
	}
	return rel / p.stride, nil
}

// Alloc returns the payload offset of a fresh or reclaimed slot, the first
// free slot at the lowest address if one exists, else bump-allocates a new
// one, growing the backing region in page-sized increments if needed.
func (p *FixedPool) Alloc(tx *journal.Tx, pageSize uint64) (region.Offset, error) {
	if !p.free.IsEmpty() {
		idx := uint64(p.free.Minimum())
		p.free.Remove(uint32(idx))
		tx.OnAbort(func() { p.free.Add(uint32(idx)) })
		if err := tx.PutByte(p.name, p.flagOffset(idx), 0); err != nil {
			return 0, err
		}
		return p.objectOffset(idx), nil
	}

	idx := p.bump
	need := fixedPoolHeaderSize + (idx+1)*p.stride
	r := tx.Region().Region(p.name)
	if need > r.Size() {
		if err := r.Grow(need, pageSize, false); err != nil {
			return 0, pgerr.Wrap(pgerr.OutOfSpace, err, "grow pool "+string(p.name))
		}
	}
	p.bump++
	tx.OnAbort(func() { p.bump-- })
	if err := tx.PutUint64(p.name, 0, p.bump); err != nil {
		return 0, err
	}
	return p.objectOffset(idx), nil
}

// Free marks off's slot free. The in-memory bitmap only gains the slot
// once the transaction commits; on abort the slot stays live, per
// spec.md's "freeing is symmetrical" contract.
func (p *FixedPool) Free(tx *journal.Tx, off region.Offset) error {
	idx, err := p.indexOf(off)
	if err != nil {
		return err
	}
	if err := tx.PutByte(p.name, p.flagOffset(idx), 1); err != nil {
		return err
	}
	tx.OnCommit(func() { p.free.Add(uint32(idx)) })
	return nil
}

// IsLive reports whether off currently holds a live (non-tombstoned)
// object, for C8's VacantIterator check on dereference.
func (p *FixedPool) IsLive(tx *journal.Tx, off region.Offset) (bool, error) {
	idx, err := p.indexOf(off)
	if err != nil {
		return false, err
	}
	buf, err := tx.Read(p.name, p.flagOffset(idx), 1)
	if err != nil {
		return false, err
	}
	return buf[0] == 0, nil
}

// Stats reports the occupancy/health figures spec.md §2/§4.C3 requires of
// C11. health_factor = live / (live + tombstoned-but-allocated).
type Stats struct {
	ObjectSize          int
	NumObjects          uint64
	TotalAllocatedBytes uint64
	RegionSize          uint64
	Occupancy           float64
	HealthFactor        float64
}

func (p *FixedPool) Stats(regionSize uint64) Stats {
	tombstoned := p.free.GetCardinality()
	live := p.bump - uint64(tombstoned)
	var health float64 = 100
	if p.bump > 0 {
		health = 100 * float64(live) / float64(live+uint64(tombstoned))
	}
	var occ float64
	capacity := (regionSize - fixedPoolHeaderSize) / p.stride
	if capacity > 0 {
		occ = 100 * float64(p.bump) / float64(capacity)
	}
	return Stats{
		ObjectSize:          p.objSize,
		NumObjects:          live,
		TotalAllocatedBytes: p.bump * p.stride,
		RegionSize:          regionSize,
		Occupancy:           occ,
		HealthFactor:        health,
	}
}
