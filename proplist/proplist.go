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

package proplist

import (
	"encoding/binary"

	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/region"
	"github.com/pmgraph/pmgraph/strtab"
)

// chunkPayloadCap is the packed-cell area of a property chunk, matching
// the "~64 bytes of payload" chunk size named in spec.md §3.
const chunkPayloadCap = 64

// chunkHeaderSize: next (8) + freeBytes (2) + liveCount (2).
const chunkHeaderSize = 12
const chunkObjectSize = chunkHeaderSize + chunkPayloadCap

// cellHeaderSize: slotLen (2) + keyID (4) + kind (1) + extFlag (1) +
// payloadLen (2). slotLen is the cell's reserved footprint (stable across
// in-place overwrites); payloadLen is how many of those bytes are live.
const cellHeaderSize = 10
const externalPayloadSize = 1 + 8 + 4 // shard (1) + arena offset (8) + length (4)

// inlineThreshold bounds how large a String/Blob value may be and still be
// stored inline in a chunk; larger values go to the arena.
const inlineThreshold = chunkPayloadCap - cellHeaderSize

// Listener lets C7 (index) keep a property-keyed index consistent with
// Set/Remove as a single logical step, matching spec.md's "the two ops are
// a single logical step so the index is never inconsistent with the list."
type Listener interface {
	OnPropertySet(tx *journal.Tx, owner region.Offset, key strtab.ID, old, new *Value) error
	OnPropertyRemove(tx *journal.Tx, owner region.Offset, key strtab.ID, old Value) error
}

// Table is the property-list manager shared by every node and edge in a
// graph: it owns the chunk pool and the variable arena slice used for
// externally stored values.
type Table struct {
	chunks    *alloc.FixedPool
	arena     *alloc.Arena
	numShards int
	listeners []Listener
}

// Open rebuilds a Table's view over the already-mapped Props/Arena regions.
func Open(m *region.Map, arena *alloc.Arena, numShards int) (*Table, error) {
	pool, err := alloc.Open(m, region.Props, chunkObjectSize)
	if err != nil {
		return nil, err
	}
	return &Table{chunks: pool, arena: arena, numShards: numShards}, nil
}

// AddListener registers a Listener to be notified on every Set/Remove.
func (t *Table) AddListener(l Listener) { t.listeners = append(t.listeners, l) }

// Stats reports occupancy of the shared property-chunk pool, for C11's
// allocator-health reporting.
func (t *Table) Stats(regionSize uint64) alloc.Stats { return t.chunks.Stats(regionSize) }

// Arena exposes the arena backing external (overflow) property values and
// interned strings, so C11 can report its per-shard occupancy too.
func (t *Table) Arena() *alloc.Arena { return t.arena }

func (t *Table) shardFor(key strtab.ID) int {
	if t.numShards <= 0 {
		return 0
	}
	return int(key) % t.numShards
}

// Get returns the value stored under key, or fails with PropertyNotFound.
func (t *Table) Get(tx *journal.Tx, head region.Offset, key strtab.ID) (Value, error) {
	v, ok, err := t.Check(tx, head, key)
	if err != nil {
		return Value{}, err
	}
	if !ok {
		return Value{}, pgerr.Newf(pgerr.PropertyNotFound, "key %d not set", key)
	}
	return v, nil
}

// Check is the non-failing variant of Get.
func (t *Table) Check(tx *journal.Tx, head region.Offset, key strtab.ID) (Value, bool, error) {
	found, err := t.find(tx, head, key)
	if err != nil {
		return Value{}, false, err
	}
	if found == nil {
		return Value{}, false, nil
	}
	v, err := t.readValue(tx, found)
	return v, true, err
}

type cellLoc struct {
	chunk   region.Offset
	off     region.Offset // offset of the cell header within region.Props
	slotLen uint16
	kind    Kind
	extFlag byte
	payLen  uint16
}

// find walks the chunk chain looking for a live cell with the given key.
func (t *Table) find(tx *journal.Tx, head region.Offset, key strtab.ID) (*cellLoc, error) {
	cur := head
	for cur != 0 {
		hdr, err := tx.Read(region.Props, cur, chunkHeaderSize)
		if err != nil {
			return nil, err
		}
		next := region.Offset(binary.LittleEndian.Uint64(hdr[0:8]))
		loc, err := t.scanChunk(tx, cur, key)
		if err != nil {
			return nil, err
		}
		if loc != nil {
			return loc, nil
		}
		cur = next
	}
	return nil, nil
}

// firstFreeChunk returns the first chunk in the chain (walking from head)
// with at least `required` free bytes, per spec.md's "insert into the
// first chunk with enough free bytes" — first-fit, not best-fit.
func (t *Table) firstFreeChunk(tx *journal.Tx, head region.Offset, required int) (region.Offset, error) {
	cur := head
	for cur != 0 {
		hdr, err := tx.Read(region.Props, cur, chunkHeaderSize)
		if err != nil {
			return 0, err
		}
		next := region.Offset(binary.LittleEndian.Uint64(hdr[0:8]))
		free := binary.LittleEndian.Uint16(hdr[8:10])
		if int(free) >= required {
			return cur, nil
		}
		cur = next
	}
	return 0, nil
}

func (t *Table) scanChunk(tx *journal.Tx, chunk region.Offset, key strtab.ID) (*cellLoc, error) {
	buf, err := tx.Read(region.Props, chunk, chunkHeaderSize+chunkPayloadCap)
	if err != nil {
		return nil, err
	}
	pos := chunkHeaderSize
	end := chunkHeaderSize + chunkPayloadCap
	for pos+cellHeaderSize <= end {
		slotLen := binary.LittleEndian.Uint16(buf[pos : pos+2])
		keyID := binary.LittleEndian.Uint32(buf[pos+2 : pos+6])
		kind := Kind(buf[pos+6])
		extFlag := buf[pos+7]
		payLen := binary.LittleEndian.Uint16(buf[pos+8 : pos+10])
		if slotLen == 0 {
			break // unused tail space
		}
		if kind != tombstone && strtab.ID(keyID) == key {
			return &cellLoc{
				chunk: chunk, off: region.Offset(chunk) + region.Offset(pos),
				slotLen: slotLen, kind: kind, extFlag: extFlag, payLen: payLen,
			}, nil
		}
		pos += cellHeaderSize + int(slotLen)
	}
	return nil, nil
}

func (t *Table) readValue(tx *journal.Tx, loc *cellLoc) (Value, error) {
	if loc.extFlag == 1 {
		ext, err := tx.Read(region.Props, loc.off+cellHeaderSize, externalPayloadSize)
		if err != nil {
			return Value{}, err
		}
		shard := ext[0]
		arenaOff := region.Offset(binary.LittleEndian.Uint64(ext[1:9]))
		length := binary.LittleEndian.Uint32(ext[9:13])
		data, err := tx.Read(region.Arena, arenaOff, int(length))
		if err != nil {
			return Value{}, err
		}
		_ = shard
		return decodeInline(loc.kind, data)
	}
	payload, err := tx.Read(region.Props, loc.off+cellHeaderSize, int(loc.payLen))
	if err != nil {
		return Value{}, err
	}
	return decodeInline(loc.kind, payload)
}

// Set installs value under key, overwriting in place when it fits the
// existing slot, removing-and-reinserting otherwise, or inserting fresh.
// headRegion/headField locate the owner's persisted head pointer (a Node
// or Edge record's `properties` field); Set rewrites it through tx when a
// new chunk must be prepended, so the update is journalled like any other
// write and rolls back cleanly on abort.
func (t *Table) Set(tx *journal.Tx, headRegion region.Name, headField, owner region.Offset, key strtab.ID, value Value) error {
	if !tx.Writable() {
		return pgerr.New(pgerr.ReadOnly, "set property inside a read-only transaction")
	}
	inline, err := encodeInline(value)
	if err != nil {
		return err
	}
	useExternal := (value.Kind == String || value.Kind == Blob) && len(inline) > inlineThreshold

	head, err := t.readHead(tx, headRegion, headField)
	if err != nil {
		return err
	}

	var old *Value
	found, err := t.find(tx, head, key)
	if err != nil {
		return err
	}
	if found != nil {
		ov, err := t.readValue(tx, found)
		if err != nil {
			return err
		}
		old = &ov
	}

	var neededPayload int
	if useExternal {
		neededPayload = externalPayloadSize
	} else {
		neededPayload = len(inline)
	}

	if found != nil && !useExternal && found.extFlag == 0 && neededPayload <= int(found.slotLen) {
		if err := t.writeCellContents(tx, found.off, found.slotLen, key, value.Kind, 0, inline); err != nil {
			return err
		}
		return t.notifyListeners(tx, owner, key, old, &value)
	}

	if found != nil {
		if err := t.removeCell(tx, found); err != nil {
			return err
		}
	}

	if err := t.insert(tx, headRegion, headField, head, key, value, inline, useExternal); err != nil {
		return err
	}
	return t.notifyListeners(tx, owner, key, old, &value)
}

func (t *Table) readHead(tx *journal.Tx, headRegion region.Name, headField region.Offset) (region.Offset, error) {
	buf, err := tx.Read(headRegion, headField, 8)
	if err != nil {
		return 0, err
	}
	return region.Offset(binary.LittleEndian.Uint64(buf)), nil
}

func (t *Table) writeCellContents(tx *journal.Tx, off region.Offset, slotLen uint16, key strtab.ID, kind Kind, extFlag byte, payload []byte) error {
	hdr := make([]byte, cellHeaderSize)
	binary.LittleEndian.PutUint16(hdr[0:2], slotLen)
	binary.LittleEndian.PutUint32(hdr[2:6], uint32(key))
	hdr[6] = byte(kind)
	hdr[7] = extFlag
	binary.LittleEndian.PutUint16(hdr[8:10], uint16(len(payload)))
	if err := tx.Write(region.Props, off, hdr); err != nil {
		return err
	}
	if len(payload) > 0 {
		if err := tx.Write(region.Props, off+cellHeaderSize, payload); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) insert(tx *journal.Tx, headRegion region.Name, headField, head region.Offset, key strtab.ID, value Value, inline []byte, useExternal bool) error {
	required := cellHeaderSize
	if useExternal {
		required += externalPayloadSize
	} else {
		required += len(inline)
	}

	target, err := t.firstFreeChunk(tx, head, required)
	if err != nil {
		return err
	}
	if target == 0 {
		newChunk, err := t.chunks.Alloc(tx, 0)
		if err != nil {
			return err
		}
		zero := make([]byte, chunkHeaderSize+chunkPayloadCap)
		binary.LittleEndian.PutUint64(zero[0:8], uint64(head))
		binary.LittleEndian.PutUint16(zero[8:10], uint16(chunkPayloadCap))
		if err := tx.Write(region.Props, newChunk, zero); err != nil {
			return err
		}
		if err := tx.PutUint64(headRegion, headField, uint64(newChunk)); err != nil {
			return err
		}
		target = newChunk
	}

	hdr, err := tx.Read(region.Props, target, chunkHeaderSize)
	if err != nil {
		return err
	}
	free := binary.LittleEndian.Uint16(hdr[8:10])
	live := binary.LittleEndian.Uint16(hdr[10:12])
	writeAt := region.Offset(target) + chunkHeaderSize + region.Offset(chunkPayloadCap-free)

	var payload []byte
	var extFlag byte
	if useExternal {
		shard := t.shardFor(key)
		arenaOff, err := t.arena.Alloc(tx, shard, uint64(len(inline)))
		if err != nil {
			return err
		}
		if err := tx.Write(region.Arena, arenaOff, inline); err != nil {
			return err
		}
		payload = make([]byte, externalPayloadSize)
		payload[0] = byte(shard)
		binary.LittleEndian.PutUint64(payload[1:9], uint64(arenaOff))
		binary.LittleEndian.PutUint32(payload[9:13], uint32(len(inline)))
		extFlag = 1
		dataLen := len(inline)
		tx.OnAbort(func() { _ = t.arena.Free(tx, shard, arenaOff, uint64(dataLen)) })
	} else {
		payload = inline
	}

	slotLen := uint16(len(payload))
	if err := t.writeCellContents(tx, writeAt, slotLen, key, value.Kind, extFlag, payload); err != nil {
		return err
	}
	if err := tx.PutUint16(region.Props, target+8, free-uint16(cellHeaderSize+len(payload))); err != nil {
		return err
	}
	if err := tx.PutUint16(region.Props, target+10, live+1); err != nil {
		return err
	}
	return nil
}

// Remove tombstones key's cell, if present; returns PropertyNotFound
// otherwise. A chunk that becomes fully empty is unlinked and returned to
// the chunk pool.
func (t *Table) Remove(tx *journal.Tx, headRegion region.Name, headField, owner region.Offset, key strtab.ID) error {
	if !tx.Writable() {
		return pgerr.New(pgerr.ReadOnly, "remove property inside a read-only transaction")
	}
	head, err := t.readHead(tx, headRegion, headField)
	if err != nil {
		return err
	}
	found, err := t.find(tx, head, key)
	if err != nil {
		return err
	}
	if found == nil {
		return pgerr.Newf(pgerr.PropertyNotFound, "key %d not set", key)
	}
	old, err := t.readValue(tx, found)
	if err != nil {
		return err
	}
	if err := t.removeCell(tx, found); err != nil {
		return err
	}
	if err := t.compactIfEmpty(tx, headRegion, headField, head, found.chunk); err != nil {
		return err
	}
	return t.notifyListenersRemove(tx, owner, key, old)
}

func (t *Table) removeCell(tx *journal.Tx, loc *cellLoc) error {
	if loc.extFlag == 1 {
		ext, err := tx.Read(region.Props, loc.off+cellHeaderSize, externalPayloadSize)
		if err != nil {
			return err
		}
		shard := int(ext[0])
		arenaOff := region.Offset(binary.LittleEndian.Uint64(ext[1:9]))
		length := uint64(binary.LittleEndian.Uint32(ext[9:13]))
		if err := t.arena.Free(tx, shard, arenaOff, length); err != nil {
			return err
		}
	}
	if err := tx.PutByte(region.Props, loc.off+6, byte(tombstone)); err != nil {
		return err
	}
	hdr, err := tx.Read(region.Props, loc.chunk, chunkHeaderSize)
	if err != nil {
		return err
	}
	live := binary.LittleEndian.Uint16(hdr[10:12])
	if live > 0 {
		return tx.PutUint16(region.Props, loc.chunk+10, live-1)
	}
	return nil
}

func (t *Table) compactIfEmpty(tx *journal.Tx, headRegion region.Name, headField, head, chunk region.Offset) error {
	hdr, err := tx.Read(region.Props, chunk, chunkHeaderSize)
	if err != nil {
		return err
	}
	live := binary.LittleEndian.Uint16(hdr[10:12])
	if live != 0 {
		return nil
	}
	next := region.Offset(binary.LittleEndian.Uint64(hdr[0:8]))
	if head == chunk {
		if err := tx.PutUint64(headRegion, headField, uint64(next)); err != nil {
			return err
		}
	} else {
		cur := head
		for cur != 0 {
			curHdr, err := tx.Read(region.Props, cur, chunkHeaderSize)
			if err != nil {
				return err
			}
			curNext := region.Offset(binary.LittleEndian.Uint64(curHdr[0:8]))
			if curNext == chunk {
				if err := tx.PutUint64(region.Props, cur, uint64(next)); err != nil {
					return err
				}
				break
			}
			cur = curNext
		}
	}
	return t.chunks.Free(tx, chunk)
}

func (t *Table) notifyListeners(tx *journal.Tx, owner region.Offset, key strtab.ID, old, new *Value) error {
	for _, l := range t.listeners {
		if err := l.OnPropertySet(tx, owner, key, old, new); err != nil {
			return err
		}
	}
	return nil
}

func (t *Table) notifyListenersRemove(tx *journal.Tx, owner region.Offset, key strtab.ID, old Value) error {
	for _, l := range t.listeners {
		if err := l.OnPropertyRemove(tx, owner, key, old); err != nil {
			return err
		}
	}
	return nil
}

// Iterate yields every live cell in chunk-chain order, then in-chunk offset
// order. New chunks are prepended and a new cell goes into the first chunk
// with room, so once a list spans several chunks this is not insertion
// order. The returned slice is a snapshot: mutating
// the same owner's property list mid-range-over invalidates it, matching
// spec.md's "invalidated if any set/remove on the same owner occurs mid-
// iteration."
func (t *Table) Iterate(tx *journal.Tx, head region.Offset) ([]Cell, error) {
	var out []Cell
	cur := head
	for cur != 0 {
		buf, err := tx.Read(region.Props, cur, chunkHeaderSize+chunkPayloadCap)
		if err != nil {
			return nil, err
		}
		next := region.Offset(binary.LittleEndian.Uint64(buf[0:8]))
		pos := chunkHeaderSize
		end := chunkHeaderSize + chunkPayloadCap
		for pos+cellHeaderSize <= end {
			slotLen := binary.LittleEndian.Uint16(buf[pos : pos+2])
			if slotLen == 0 {
				break
			}
			keyID := binary.LittleEndian.Uint32(buf[pos+2 : pos+6])
			kind := Kind(buf[pos+6])
			extFlag := buf[pos+7]
			payLen := binary.LittleEndian.Uint16(buf[pos+8 : pos+10])
			if kind != tombstone {
				loc := &cellLoc{chunk: cur, off: cur + region.Offset(pos), slotLen: slotLen, kind: kind, extFlag: extFlag, payLen: payLen}
				v, err := t.readValue(tx, loc)
				if err != nil {
					return nil, err
				}
				out = append(out, Cell{Key: strtab.ID(keyID), Value: v})
			}
			pos += cellHeaderSize + int(slotLen)
		}
		cur = next
	}
	return out, nil
}

// Len reports the number of live cells across the whole chain.
func (t *Table) Len(tx *journal.Tx, head region.Offset) (int, error) {
	cells, err := t.Iterate(tx, head)
	if err != nil {
		return 0, err
	}
	return len(cells), nil
}

// Has reports whether key is currently set, without decoding the value.
func (t *Table) Has(tx *journal.Tx, head region.Offset, key strtab.ID) (bool, error) {
	found, err := t.find(tx, head, key)
	if err != nil {
		return false, err
	}
	return found != nil, nil
}
