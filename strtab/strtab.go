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

// Package strtab implements the string-interning table (spec.md §4.C4): an
// open-addressed hash table keyed by content hash that maps arbitrary short
// byte strings to dense IDs, plus a reverse directory for id -> string.
package strtab

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/region"
)

// ID is a stable handle into the string table for the lifetime of the
// graph. ID 0 is the reserved wildcard meaning "any tag".
type ID uint32

// Wildcard is the reserved "any/untagged" id; no string is ever interned
// under it.
const Wildcard ID = 0

const headerSize = 16 // count (u32) + nextID (u32), padded

const (
	hashSlotOverhead    = 1 + 8 + 2 + 4 // status + hash + length + id
	reverseSlotOverhead = 2             // length
)

// Table is the string-interning table for one open graph. Its on-disk
// layout is fixed at creation time: a power-of-two open-addressed hash
// table sized for a sub-50%-load factor plus a dense id-indexed reverse
// directory, both sized from pgconfig.MaxStringID/MaxInternedStringLen
// (region.stringsRegionSize mirrors this layout when sizing the region).
type Table struct {
	hashCap     uint64
	strLen      int
	maxID       uint32
	hashBase    region.Offset
	reverseBase region.Offset

	fwdCache *lru.Cache[string, ID]
	revCache *lru.Cache[ID, string]
}

func slotSize(strLen int) uint64    { return hashSlotOverhead + uint64(strLen) }
func reverseSize(strLen int) uint64 { return reverseSlotOverhead + uint64(strLen) }

// Open rebuilds a Table's view over an already-mapped Strings region, using
// the creation-time configuration recorded in the graph header.
func Open(m *region.Map) (*Table, error) {
	cfg := m.Header.Config()
	strLen := cfg.MaxInternedStringLen
	maxID := cfg.MaxStringID
	if maxID == 0 {
		maxID = 1
	}
	hashCap := uint64(1)
	for hashCap < uint64(maxID)*2 {
		hashCap <<= 1
	}
	fwd, err := lru.New[string, ID](1024)
	if err != nil {
		return nil, pgerr.Wrap(pgerr.IoError, err, "allocate forward string cache")
	}
	rev, err := lru.New[ID, string](1024)
	if err != nil {
		return nil, pgerr.Wrap(pgerr.IoError, err, "allocate reverse string cache")
	}
	t := &Table{
		hashCap:     hashCap,
		strLen:      strLen,
		maxID:       maxID,
		hashBase:    region.Offset(4096),
		reverseBase: region.Offset(4096) + region.Offset(hashCap*slotSize(strLen)),
		fwdCache:    fwd,
		revCache:    rev,
	}
	return t, nil
}

func (t *Table) count(tx *journal.Tx) (uint32, error) {
	buf, err := tx.Read(region.Strings, 0, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

func (t *Table) nextID(tx *journal.Tx) (uint32, error) {
	buf, err := tx.Read(region.Strings, 4, 4)
	if err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(buf)
	if v == 0 {
		v = 1 // id 0 is the wildcard, the dense counter starts at 1
	}
	return v, nil
}

func (t *Table) slotOffset(probe uint64) region.Offset {
	return t.hashBase + region.Offset(probe*slotSize(t.strLen))
}

func (t *Table) reverseOffset(id ID) region.Offset {
	return t.reverseBase + region.Offset(uint64(id)*reverseSize(t.strLen))
}

// probe walks the open-addressed table starting at hash%capacity, invoking
// visit on every slot until visit returns true (stop) or an empty slot is
// reached (meaning "not present"). Returns the last offset visited and
// whether visit ever returned true.
func (t *Table) probe(tx *journal.Tx, h uint64, visit func(off region.Offset, status byte) (stop bool, err error)) (region.Offset, bool, error) {
	start := h % t.hashCap
	for i := uint64(0); i < t.hashCap; i++ {
		idx := (start + i) % t.hashCap
		off := t.slotOffset(idx)
		statusBuf, err := tx.Read(region.Strings, off, 1)
		if err != nil {
			return 0, false, err
		}
		stop, err := visit(off, statusBuf[0])
		if err != nil {
			return 0, false, err
		}
		if stop {
			return off, true, nil
		}
		if statusBuf[0] == 0 {
			return off, false, nil
		}
	}
	return 0, false, pgerr.New(pgerr.TableFull, "string table probe exhausted capacity")
}

// Lookup returns the id for bytes without mutating anything. The second
// return is false if bytes has never been interned.
func (t *Table) Lookup(tx *journal.Tx, b []byte) (ID, bool, error) {
	if s, ok := t.fwdCache.Get(string(b)); ok {
		return s, true, nil
	}
	h := xxhash.Sum64(b)
	var found ID
	var ok bool
	_, _, err := t.probe(tx, h, func(off region.Offset, status byte) (bool, error) {
		if status == 0 {
			return false, nil
		}
		match, id, err := t.slotMatches(tx, off, h, b)
		if err != nil {
			return false, err
		}
		if match {
			found, ok = id, true
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return 0, false, err
	}
	// Only cache a hit seen through a read-only transaction: inside a
	// writable one this may be an uncommitted slot from earlier in the same
	// transaction, and caching it would survive an Abort that rolls the
	// on-media slot back, handing out a stale id later (spec.md's abort-
	// equivalence and interning-uniqueness invariants).
	if ok && !tx.Writable() {
		t.fwdCache.Add(string(b), found)
	}
	return found, ok, nil
}

func (t *Table) slotMatches(tx *journal.Tx, off region.Offset, h uint64, b []byte) (bool, ID, error) {
	rest, err := tx.Read(region.Strings, off+1, int(hashSlotOverhead-1)+t.strLen)
	if err != nil {
		return false, 0, err
	}
	storedHash := binary.LittleEndian.Uint64(rest[0:8])
	if storedHash != h {
		return false, 0, nil
	}
	storedLen := binary.LittleEndian.Uint16(rest[8:10])
	if int(storedLen) != len(b) {
		return false, 0, nil
	}
	data := rest[10 : 10+int(storedLen)]
	for i := range b {
		if data[i] != b[i] {
			return false, 0, nil
		}
	}
	id := binary.LittleEndian.Uint32(rest[10+t.strLen:])
	return true, ID(id), nil
}

// Intern returns the id for bytes, adding a new entry when tx is writable
// and bytes is not yet known. A read-only transaction fails with ReadOnly
// if bytes has never been interned.
func (t *Table) Intern(tx *journal.Tx, b []byte) (ID, error) {
	if len(b) > t.strLen {
		return 0, pgerr.Newf(pgerr.InvalidID, "string of %d bytes exceeds max interned length %d", len(b), t.strLen)
	}
	if id, ok, err := t.Lookup(tx, b); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}
	if !tx.Writable() {
		return 0, pgerr.New(pgerr.ReadOnly, "intern of unknown string inside a read-only transaction")
	}

	h := xxhash.Sum64(b)
	emptyOff, found, err := t.probe(tx, h, func(off region.Offset, status byte) (bool, error) {
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	_ = found // probe always stops at the first empty slot when no match exists

	nextID, err := t.nextID(tx)
	if err != nil {
		return 0, err
	}
	if nextID >= t.maxID {
		return 0, pgerr.Newf(pgerr.TableFull, "string table at capacity %d", t.maxID)
	}
	id := ID(nextID)

	slot := make([]byte, 1+t.strLen)
	slot[0] = 1
	rest := make([]byte, hashSlotOverhead-1+t.strLen)
	binary.LittleEndian.PutUint64(rest[0:8], h)
	binary.LittleEndian.PutUint16(rest[8:10], uint16(len(b)))
	copy(rest[10:10+len(b)], b)
	binary.LittleEndian.PutUint32(rest[10+t.strLen:], uint32(id))

	if err := tx.PutByte(region.Strings, emptyOff, 1); err != nil {
		return 0, err
	}
	if err := tx.Write(region.Strings, emptyOff+1, rest); err != nil {
		return 0, err
	}

	revBuf := make([]byte, reverseSize(t.strLen))
	binary.LittleEndian.PutUint16(revBuf[0:2], uint16(len(b)))
	copy(revBuf[2:2+len(b)], b)
	if err := tx.Write(region.Strings, t.reverseOffset(id), revBuf); err != nil {
		return 0, err
	}

	count, err := t.count(tx)
	if err != nil {
		return 0, err
	}
	if err := tx.PutUint32(region.Strings, 0, count+1); err != nil {
		return 0, err
	}
	if err := tx.PutUint32(region.Strings, 4, nextID+1); err != nil {
		return 0, err
	}

	key := string(b)
	tx.OnCommit(func() {
		t.fwdCache.Add(key, id)
		t.revCache.Add(id, key)
	})
	return id, nil
}

// Name resolves id back to the string it was interned from.
func (t *Table) Name(tx *journal.Tx, id ID) (string, error) {
	if id == Wildcard {
		return "", pgerr.New(pgerr.InvalidID, "wildcard StringID has no name")
	}
	if s, ok := t.revCache.Get(id); ok {
		return s, nil
	}
	if uint32(id) >= t.maxID {
		return "", pgerr.Newf(pgerr.InvalidID, "StringID %d out of range", id)
	}
	buf, err := tx.Read(region.Strings, t.reverseOffset(id), int(reverseSize(t.strLen)))
	if err != nil {
		return "", err
	}
	length := binary.LittleEndian.Uint16(buf[0:2])
	if length == 0 {
		return "", pgerr.Newf(pgerr.InvalidID, "StringID %d was never interned", id)
	}
	s := string(buf[2 : 2+length])
	if !tx.Writable() {
		t.revCache.Add(id, s)
	}
	return s, nil
}
