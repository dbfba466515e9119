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

package index

import (
	"encoding/binary"

	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/chunklist"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/region"
	"github.com/pmgraph/pmgraph/strtab"
)

// directoryHeaderSize reserves the Indices region's first page for the
// directory's entry-count bump pointer, mirroring alloc.FixedPool's
// reserved header page.
const directoryHeaderSize = 4096

// entrySize is the on-disk footprint of one directory entry: a 16-byte
// kind/tag/key/type header plus a 24-byte data area that holds either an
// AVL root offset (property index entries) or an inline chunklist.Header
// (global per-tag list entries), addressed directly at entryOffset+16 so
// neither kind needs a second level of indirection.
const entrySize = 16 + 24

const (
	entryOffKind     region.Offset = 0
	entryOffTag      region.Offset = 4
	entryOffKey      region.Offset = 8
	entryOffPropType region.Offset = 12
	entryOffData     region.Offset = 16
)

// dirKey identifies one directory slot: a property index when Key != 0,
// or the global per-tag chunk list when Key == strtab.Wildcard.
type dirKey struct {
	Kind ObjectKind
	Tag  strtab.ID
	Key  strtab.ID
}

type dirEntry struct {
	PropType proplist.Kind
	Data     region.Offset // entry's own offset + entryOffData
}

// Manager is the rebuilt-at-Open directory of every property index and
// global per-tag list in the graph, matching the in-memory-mirror pattern
// alloc/strtab use for their own on-disk structures.
type Manager struct {
	nodes   *alloc.FixedPool
	buckets *chunklist.List
	arena   *alloc.Arena

	dir  map[dirKey]dirEntry
	bump uint64 // next free entry slot index
}

// Open rebuilds the directory by scanning every committed entry below the
// persisted bump pointer, and opens the shared TreeNode/Bucket pools every
// Tree in the graph draws from.
func Open(m *region.Map, arena *alloc.Arena) (*Manager, error) {
	nodes, err := OpenTreePool(m)
	if err != nil {
		return nil, err
	}
	buckets, err := chunklist.Open(m)
	if err != nil {
		return nil, err
	}
	r := m.Region(region.Indices)
	buf := r.Bytes()
	if uint64(len(buf)) < directoryHeaderSize {
		return nil, pgerr.Newf(pgerr.LayoutCorrupt, "indices region too small for directory header")
	}
	mgr := &Manager{nodes: nodes, buckets: buckets, arena: arena, dir: map[dirKey]dirEntry{}}
	mgr.bump = binary.LittleEndian.Uint64(buf[0:8])
	for i := uint64(0); i < mgr.bump; i++ {
		off := directoryHeaderSize + i*entrySize
		if off+entrySize > uint64(len(buf)) {
			break
		}
		e := buf[off : off+entrySize]
		k := dirKey{
			Kind: ObjectKind(e[entryOffKind]),
			Tag:  strtab.ID(binary.LittleEndian.Uint32(e[entryOffTag : entryOffTag+4])),
			Key:  strtab.ID(binary.LittleEndian.Uint32(e[entryOffKey : entryOffKey+4])),
		}
		mgr.dir[k] = dirEntry{
			PropType: proplist.Kind(e[entryOffPropType]),
			Data:     region.Offset(off) + entryOffData,
		}
	}
	return mgr, nil
}

func (mgr *Manager) allocEntry(tx *journal.Tx, kind ObjectKind, tag, key strtab.ID, propType proplist.Kind) (dirEntry, error) {
	idx := mgr.bump
	off := region.Offset(directoryHeaderSize) + region.Offset(idx)*entrySize
	zero := make([]byte, entrySize)
	if err := tx.Write(region.Indices, off, zero); err != nil {
		return dirEntry{}, err
	}
	if err := tx.PutByte(region.Indices, off+entryOffKind, byte(kind)); err != nil {
		return dirEntry{}, err
	}
	if err := tx.PutUint32(region.Indices, off+entryOffTag, uint32(tag)); err != nil {
		return dirEntry{}, err
	}
	if err := tx.PutUint32(region.Indices, off+entryOffKey, uint32(key)); err != nil {
		return dirEntry{}, err
	}
	if err := tx.PutByte(region.Indices, off+entryOffPropType, byte(propType)); err != nil {
		return dirEntry{}, err
	}
	mgr.bump++
	if err := tx.PutUint64(region.Indices, 0, mgr.bump); err != nil {
		return dirEntry{}, err
	}
	// Mirrored into the graph root's index-manager field so the header
	// reflects the directory size the same way it tracks the global
	// node/edge counts, even though the directory itself lives in Indices.
	if err := tx.PutUint64(region.Meta, region.HeaderOffsetIndexManagerRoot, mgr.bump); err != nil {
		return dirEntry{}, err
	}
	tx.OnAbort(func() { mgr.bump = idx })
	e := dirEntry{PropType: propType, Data: off + entryOffData}
	k := dirKey{Kind: kind, Tag: tag, Key: key}
	mgr.dir[k] = e
	tx.OnAbort(func() { delete(mgr.dir, k) })
	return e, nil
}

// HasIndex reports whether a property index already exists for
// (kind, tag, key).
func (mgr *Manager) HasIndex(kind ObjectKind, tag, key strtab.ID) bool {
	_, ok := mgr.dir[dirKey{Kind: kind, Tag: tag, Key: key}]
	return ok
}

// IndexType returns the declared property type of an existing index, or
// ok=false if none exists.
func (mgr *Manager) IndexType(kind ObjectKind, tag, key strtab.ID) (proplist.Kind, bool) {
	e, ok := mgr.dir[dirKey{Kind: kind, Tag: tag, Key: key}]
	return e.PropType, ok
}

// CreateIndex installs a new property index for (kind, tag, key) typed
// propType, failing IndexExists if one is already present. Type
// consistency against live objects already carrying that tag is the
// caller's responsibility (the graph layer holds the object data this
// package does not).
func (mgr *Manager) CreateIndex(tx *journal.Tx, kind ObjectKind, tag, key strtab.ID, propType proplist.Kind) error {
	if key == strtab.Wildcard {
		return pgerr.New(pgerr.InvalidID, "property key 0 is reserved and cannot be indexed")
	}
	if mgr.HasIndex(kind, tag, key) {
		return pgerr.Newf(pgerr.IndexExists, "index already exists for tag=%d key=%d", tag, key)
	}
	_, err := mgr.allocEntry(tx, kind, tag, key, propType)
	return err
}

// Tree returns the AVL tree backing an existing property index, or
// ok=false if none exists. The returned Tree's root field is the entry's
// own data area, so callers pass it straight to Tree.InsertKey/Find/etc.
func (mgr *Manager) Tree(kind ObjectKind, tag, key strtab.ID) (tree *Tree, rootField region.Offset, ok bool) {
	e, found := mgr.dir[dirKey{Kind: kind, Tag: tag, Key: key}]
	if !found {
		return nil, 0, false
	}
	return newTree(mgr.nodes, mgr.buckets, mgr.arena, e.PropType), e.Data, true
}

// GlobalList returns the chunklist header location for every live object
// of (kind, tag) regardless of property values, creating the directory
// entry on first use.
func (mgr *Manager) GlobalList(tx *journal.Tx, kind ObjectKind, tag strtab.ID) (hdrBase region.Offset, err error) {
	k := dirKey{Kind: kind, Tag: tag, Key: strtab.Wildcard}
	if e, ok := mgr.dir[k]; ok {
		return e.Data, nil
	}
	e, err := mgr.allocEntry(tx, kind, tag, strtab.Wildcard, proplist.NoValue)
	if err != nil {
		return 0, err
	}
	return e.Data, nil
}

// ExistingGlobalList returns the chunklist header location for (kind, tag)
// without creating it, for callers (removal) that must not fabricate a
// tag's list just to discover it was always empty.
func (mgr *Manager) ExistingGlobalList(kind ObjectKind, tag strtab.ID) (hdrBase region.Offset, ok bool) {
	e, ok := mgr.dir[dirKey{Kind: kind, Tag: tag, Key: strtab.Wildcard}]
	if !ok {
		return 0, false
	}
	return e.Data, true
}

// Buckets exposes the shared bucket list so the graph layer can insert
// into / remove from a tree node's or global list's chunk list once it
// has located the relevant header via Tree/GlobalList.
func (mgr *Manager) Buckets() *chunklist.List { return mgr.buckets }
