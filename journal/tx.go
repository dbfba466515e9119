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

package journal

import (
	"encoding/binary"

	"github.com/google/uuid"

	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/region"
)

// Tx is a transaction handle threaded explicitly through calls, never held
// in thread-local state (see DESIGN.md, C2).
type Tx struct {
	mgr      *Manager
	kind     Kind
	parent   *Tx
	ownsLock bool
	session  uuid.UUID // log-correlation only, not part of on-media identity

	writable bool
	done     bool
	entries  []entry
	seen     map[entryKey]int // dedup: one pre-image per (region,offset,length)

	onCommit []func()
	onAbort  []func()
}

// OnCommit registers fn to run after this transaction commits. Allocators
// use this to make a freed slot's in-memory bitmap entry visible only once
// the free is durable, matching spec.md's "freeing is symmetrical" rule.
func (tx *Tx) OnCommit(fn func()) { tx.onCommit = append(tx.onCommit, fn) }

// OnAbort registers fn to run after this transaction aborts. Allocators
// use this to undo an in-memory bitmap update made optimistically at
// Alloc/Free time, so "on abort the object remains live."
func (tx *Tx) OnAbort(fn func()) { tx.onAbort = append(tx.onAbort, fn) }

type entryKey struct {
	name   region.Name
	offset region.Offset
	length int
}

type entry struct {
	name     region.Name
	offset   region.Offset
	length   int
	preimage []byte
}

func newTx(mgr *Manager, kind Kind, parent *Tx, ownsLock bool) *Tx {
	return &Tx{
		mgr:      mgr,
		kind:     kind,
		parent:   parent,
		ownsLock: ownsLock,
		session:  uuid.New(),
		writable: kind == KindReadWrite,
		seen:     map[entryKey]int{},
	}
}

// Kind reports this transaction's kind.
func (tx *Tx) Kind() Kind { return tx.kind }

// Writable reports whether mutating calls are permitted.
func (tx *Tx) Writable() bool { return tx.writable }

// Session returns the correlation id used in log lines for this
// transaction; it has no persistent meaning.
func (tx *Tx) Session() uuid.UUID { return tx.session }

// Write journals the pre-image of buf[offset:offset+len(data)] at most
// once per (region,offset,length) for this transaction, then copies data
// into the mapped region. Returns ReadOnly if the transaction cannot
// write, NoCurrentTransaction if tx is nil.
func (tx *Tx) Write(name region.Name, offset region.Offset, data []byte) error {
	if tx == nil {
		return pgerr.New(pgerr.NoCurrentTransaction, "write outside any transaction")
	}
	if !tx.writable {
		return pgerr.New(pgerr.ReadOnly, "write inside a read-only transaction")
	}
	if tx.done {
		return pgerr.New(pgerr.NoCurrentTransaction, "write after commit/abort")
	}
	r := tx.mgr.m.Region(name)
	buf := r.Bytes()
	end := int(offset) + len(data)
	if end > len(buf) {
		return pgerr.Newf(pgerr.OutOfSpace, "write past end of region %s", name)
	}
	tx.recordPreimage(name, offset, len(data), buf)
	copy(buf[int(offset):end], data)
	return nil
}

// PutUint64/PutUint32/PutByte are convenience wrappers over Write for the
// common fixed-width field update, matching the allocator/index/proplist
// call sites that only ever touch one scalar field at a time.
func (tx *Tx) PutUint64(name region.Name, offset region.Offset, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return tx.Write(name, offset, b[:])
}

func (tx *Tx) PutUint32(name region.Name, offset region.Offset, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return tx.Write(name, offset, b[:])
}

func (tx *Tx) PutUint16(name region.Name, offset region.Offset, v uint16) error {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return tx.Write(name, offset, b[:])
}

func (tx *Tx) PutByte(name region.Name, offset region.Offset, v byte) error {
	return tx.Write(name, offset, []byte{v})
}

// Read returns a read-only view; no journalling needed since the caller
// isn't mutating.
func (tx *Tx) Read(name region.Name, offset region.Offset, length int) ([]byte, error) {
	if tx == nil {
		return nil, pgerr.New(pgerr.NoCurrentTransaction, "read outside any transaction")
	}
	r := tx.mgr.m.Region(name)
	buf := r.Bytes()
	end := int(offset) + length
	if end > len(buf) {
		return nil, pgerr.Newf(pgerr.InvalidID, "read past end of region %s", name)
	}
	return buf[int(offset):end], nil
}

// Region exposes the underlying region.Map for components (alloc, index)
// that need to grow a region or address multiple regions by name.
func (tx *Tx) Region() *region.Map { return tx.mgr.m }

func (tx *Tx) recordPreimage(name region.Name, offset region.Offset, length int, buf []byte) {
	key := entryKey{name, offset, length}
	if _, ok := tx.seen[key]; ok {
		return
	}
	pre := make([]byte, length)
	copy(pre, buf[int(offset):int(offset)+length])
	tx.seen[key] = len(tx.entries)
	tx.entries = append(tx.entries, entry{name: name, offset: offset, length: length, preimage: pre})
	tx.appendToJournal(tx.entries[len(tx.entries)-1])
}

func (tx *Tx) appendToJournal(e entry) {
	jr := tx.mgr.m.Region(region.Journal)
	buf := jr.Bytes()
	need := int(tx.mgr.cursor) + 4 + 8 + 4 + len(e.preimage)
	if need > len(buf) {
		// Best-effort: the journal region is full, so this entry is kept
		// only in the in-memory tx.entries slice used by Abort. Crash
		// recovery cannot roll this write back, and the condition is not
		// reported to the caller.
		return
	}
	off := tx.mgr.cursor
	binary.LittleEndian.PutUint32(buf[off:], regionID(e.name))
	off += 4
	binary.LittleEndian.PutUint64(buf[off:], uint64(e.offset))
	off += 8
	binary.LittleEndian.PutUint32(buf[off:], uint32(len(e.preimage)))
	off += 4
	copy(buf[off:], e.preimage)
	off += uint64(len(e.preimage))
	tx.mgr.cursor = off
	tx.mgr.persistCursor()
}

// Commit flushes journal entries, writes a commit marker, then releases
// the lock. On NoMsync durability is best-effort (no explicit Flush call).
func (tx *Tx) Commit(noMsync bool) error {
	if tx.done {
		return pgerr.New(pgerr.NoCurrentTransaction, "commit after commit/abort")
	}
	tx.done = true
	if tx.writable && tx.ownsLock {
		if !noMsync {
			for _, name := range []region.Name{region.Nodes, region.Edges, region.Props, region.Arena, region.Strings, region.Indices, region.Buckets, region.TreeNodes, region.Meta} {
				if err := tx.mgr.m.Region(name).Flush(); err != nil {
					return err
				}
			}
		}
		tx.mgr.resetCursor()
	}
	tx.mgr.unlock(tx)
	for _, fn := range tx.onCommit {
		fn()
	}
	return nil
}

// Abort walks this transaction's journal entries in reverse order,
// restores every pre-image, discards the entries, and releases the lock.
// Nothing aborts a transaction that is dropped without Commit or Abort: it
// keeps its lock, and its writes are rolled back only by crash recovery
// when the graph is next opened.
func (tx *Tx) Abort() error {
	if tx.done {
		return nil
	}
	tx.done = true
	for i := len(tx.entries) - 1; i >= 0; i-- {
		if err := tx.entries[i].restore(tx.mgr.m); err != nil {
			tx.mgr.unlock(tx)
			return err
		}
	}
	if tx.writable && tx.ownsLock {
		tx.mgr.resetCursor()
	}
	tx.mgr.unlock(tx)
	for i := len(tx.onAbort) - 1; i >= 0; i-- {
		tx.onAbort[i]()
	}
	return nil
}

func (e entry) restore(m *region.Map) error {
	r := m.Region(e.name)
	buf := r.Bytes()
	end := int(e.offset) + e.length
	if end > len(buf) {
		return pgerr.Newf(pgerr.LayoutCorrupt, "pre-image out of range for region %s", e.name)
	}
	copy(buf[int(e.offset):end], e.preimage)
	return nil
}

func regionID(name region.Name) uint32 {
	switch name {
	case region.Meta:
		return 0
	case region.Journal:
		return 1
	case region.Nodes:
		return 2
	case region.Edges:
		return 3
	case region.Props:
		return 4
	case region.Arena:
		return 5
	case region.Strings:
		return 6
	case region.Indices:
		return 7
	case region.Buckets:
		return 8
	case region.TreeNodes:
		return 9
	default:
		return 255
	}
}

func nameFromID(id uint32) region.Name {
	switch id {
	case 0:
		return region.Meta
	case 1:
		return region.Journal
	case 2:
		return region.Nodes
	case 3:
		return region.Edges
	case 4:
		return region.Props
	case 5:
		return region.Arena
	case 6:
		return region.Strings
	case 7:
		return region.Indices
	case 8:
		return region.Buckets
	case 9:
		return region.TreeNodes
	default:
		return ""
	}
}

func decodeEntries(buf []byte, start, end uint64) ([]entry, error) {
	var out []entry
	off := start
	for off < end {
		if off+4+8+4 > end {
			return nil, pgerr.New(pgerr.LayoutCorrupt, "truncated journal entry")
		}
		regID := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		o := binary.LittleEndian.Uint64(buf[off:])
		off += 8
		length := binary.LittleEndian.Uint32(buf[off:])
		off += 4
		if off+uint64(length) > end {
			return nil, pgerr.New(pgerr.LayoutCorrupt, "truncated journal pre-image")
		}
		pre := make([]byte, length)
		copy(pre, buf[off:off+uint64(length)])
		off += uint64(length)
		out = append(out, entry{name: nameFromID(regID), offset: region.Offset(o), length: int(length), preimage: pre})
	}
	return out, nil
}
