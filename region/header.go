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

package region

import (
	"encoding/binary"
	"fmt"

	"github.com/pmgraph/pmgraph/pgconfig"
	"github.com/pmgraph/pmgraph/pgerr"
)

// Header is the single record at a fixed offset of the meta region: the
// version stamp, the creation-time configuration (so a later Open can
// validate compatibility rather than silently applying new defaults), and
// the root offsets every other component anchors itself from.
type Header struct {
	Magic        uint32
	VersionMajor uint16
	VersionMinor uint16

	// Config snapshot, fixed at Create.
	NumAllocators        uint32
	AllocatorRegionSize  uint64
	DefaultRegionSize    uint64
	MaxStringID          uint32
	MaxInternedStringLen uint32
	PageSize             uint64

	// Roots, mutated only inside transactions after Create.
	StringTableRoot    Offset
	IndexManagerRoot   Offset
	GlobalNodeListHead Offset
	GlobalNodeListTail Offset
	GlobalNodeCount    uint64
	GlobalEdgeListHead Offset
	GlobalEdgeListTail Offset
	GlobalEdgeCount    uint64
	NextObjectID       uint64
}

const headerEncodedSize = 4 + 2 + 2 + 4 + 8 + 8 + 4 + 4 + 8 + /*roots*/ 8 + 8 + 8 + 8 + 8 + 8 + 8 + 8 + /*nextObjectID*/ 8

// Fixed byte offsets of the mutable root fields within the meta region, so
// that C6/C7 can update a single field transactionally via
// Tx.PutUint64(region.Meta, region.HeaderOffsetX, v) without reaching for
// the whole-header Header.flush path (which is Create/Close only).
const (
	HeaderOffsetStringTableRoot    Offset = 44
	HeaderOffsetIndexManagerRoot   Offset = 52
	HeaderOffsetGlobalNodeListHead Offset = 60
	HeaderOffsetGlobalNodeListTail Offset = 68
	HeaderOffsetGlobalNodeCount    Offset = 76
	HeaderOffsetGlobalEdgeListHead Offset = 84
	HeaderOffsetGlobalEdgeListTail Offset = 92
	HeaderOffsetGlobalEdgeCount    Offset = 100
	HeaderOffsetNextObjectID       Offset = 108
)

// Config reconstructs the pgconfig.Config this graph was created with.
func (h *Header) Config() pgconfig.Config {
	return pgconfig.Config{
		NumAllocators:        int(h.NumAllocators),
		AllocatorRegionSize:  datasizeOf(h.AllocatorRegionSize),
		DefaultRegionSize:    datasizeOf(h.DefaultRegionSize),
		MaxStringID:          h.MaxStringID,
		MaxInternedStringLen: int(h.MaxInternedStringLen),
		PageSize:             datasizeOf(h.PageSize),
	}
}

func loadOrInitHeader(meta *File, mode Mode, cfg pgconfig.Config) (*Header, bool, error) {
	buf := meta.Bytes()
	if len(buf) < headerEncodedSize {
		return nil, false, pgerr.New(pgerr.LayoutCorrupt, "meta region too small for header")
	}
	m := binary.LittleEndian.Uint32(buf[0:4])
	if m == 0 && mode != ReadOnly {
		h := &Header{
			Magic:                magic,
			VersionMajor:         versionMajor,
			VersionMinor:         versionMinor,
			NumAllocators:        uint32(cfg.NumAllocators),
			AllocatorRegionSize:  uint64(cfg.AllocatorRegionSize),
			DefaultRegionSize:    uint64(cfg.DefaultRegionSize),
			MaxStringID:          cfg.MaxStringID,
			MaxInternedStringLen: uint32(cfg.MaxInternedStringLen),
			PageSize:             uint64(cfg.PageSize),
			NextObjectID:         1,
		}
		return h, true, h.flush(meta)
	}
	if m != magic {
		return nil, false, pgerr.New(pgerr.LayoutCorrupt, "bad magic in meta region")
	}
	h := &Header{}
	if err := h.decode(buf); err != nil {
		return nil, false, err
	}
	if h.VersionMajor != versionMajor {
		return nil, false, pgerr.Newf(pgerr.VersionMismatch, "graph is version %d.%d, engine is %d.%d",
			h.VersionMajor, h.VersionMinor, versionMajor, versionMinor)
	}
	return h, false, nil
}

func (h *Header) decode(buf []byte) error {
	if len(buf) < headerEncodedSize {
		return pgerr.New(pgerr.LayoutCorrupt, "truncated header")
	}
	le := binary.LittleEndian
	off := 0
	read32 := func() uint32 { v := le.Uint32(buf[off:]); off += 4; return v }
	read16 := func() uint16 { v := le.Uint16(buf[off:]); off += 2; return v }
	read64 := func() uint64 { v := le.Uint64(buf[off:]); off += 8; return v }

	h.Magic = read32()
	h.VersionMajor = read16()
	h.VersionMinor = read16()
	h.NumAllocators = read32()
	h.AllocatorRegionSize = read64()
	h.DefaultRegionSize = read64()
	h.MaxStringID = read32()
	h.MaxInternedStringLen = read32()
	h.PageSize = read64()
	h.StringTableRoot = Offset(read64())
	h.IndexManagerRoot = Offset(read64())
	h.GlobalNodeListHead = Offset(read64())
	h.GlobalNodeListTail = Offset(read64())
	h.GlobalNodeCount = read64()
	h.GlobalEdgeListHead = Offset(read64())
	h.GlobalEdgeListTail = Offset(read64())
	h.GlobalEdgeCount = read64()
	h.NextObjectID = read64()
	return nil
}

// flush serialises the header into the meta region's mapped bytes. Callers
// that mutate root fields inside a transaction write them with
// Tx.PutUint64 at the HeaderOffset* constants instead, so the write is
// journalled; flush is used only at Create and at Close.
func (h *Header) flush(meta *File) error {
	buf := meta.Bytes()
	if len(buf) < headerEncodedSize {
		return pgerr.New(pgerr.LayoutCorrupt, "meta region too small for header")
	}
	le := binary.LittleEndian
	off := 0
	put32 := func(v uint32) { le.PutUint32(buf[off:], v); off += 4 }
	put16 := func(v uint16) { le.PutUint16(buf[off:], v); off += 2 }
	put64 := func(v uint64) { le.PutUint64(buf[off:], v); off += 8 }

	put32(h.Magic)
	put16(h.VersionMajor)
	put16(h.VersionMinor)
	put32(h.NumAllocators)
	put64(h.AllocatorRegionSize)
	put64(h.DefaultRegionSize)
	put32(h.MaxStringID)
	put32(h.MaxInternedStringLen)
	put64(h.PageSize)
	put64(uint64(h.StringTableRoot))
	put64(uint64(h.IndexManagerRoot))
	put64(uint64(h.GlobalNodeListHead))
	put64(uint64(h.GlobalNodeListTail))
	put64(h.GlobalNodeCount)
	put64(uint64(h.GlobalEdgeListHead))
	put64(uint64(h.GlobalEdgeListTail))
	put64(h.GlobalEdgeCount)
	put64(h.NextObjectID)
	return nil
}

// Reload re-decodes the header from the meta region, picking up any
// updates a transaction made directly via the HeaderOffset* constants
// (Header itself is only a Create-time/Close-time snapshot otherwise).
func (h *Header) Reload(meta *File) error {
	return h.decode(meta.Bytes())
}

func zapVersion(major, minor uint16) string {
	return fmt.Sprintf("%d.%d", major, minor)
}
