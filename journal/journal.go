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

// Package journal is the write-ahead journal and transaction manager: it
// records a pre-image of every write that falls inside a mapped region,
// exposes begin/commit/abort, and replays any unfinished transaction found
// on open to roll the graph back to its last committed state.
package journal

import (
	"encoding/binary"
	"sync"

	"go.uber.org/zap"

	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/region"
)

// Kind selects a transaction's concurrency and nesting behaviour.
type Kind int

const (
	// KindReadOnly transactions run unblocked against the last committed
	// state; many may run concurrently.
	KindReadOnly Kind = iota
	// KindReadWrite transactions hold the single writer slot.
	KindReadWrite
	// KindIndependent always begins a new top-level ReadWrite transaction,
	// detached from whatever transaction is active on the caller's
	// session, rather than nesting inside it.
	KindIndependent
)

const journalHeaderSize = 16 // cursor (u64) + reserved (u64)

// Manager is the single transaction manager for one open graph; it owns
// the reader/writer lock described in spec §5 and the journal region's
// append cursor.
type Manager struct {
	m   *region.Map
	log *zap.SugaredLogger

	mu           sync.RWMutex
	writerLocked bool
	cursor       uint64 // next free offset in the journal region
}

// Open constructs a Manager over an already-mapped region.Map and, if the
// journal region holds an unfinished transaction, replays it before
// returning.
func Open(m *region.Map, log *zap.SugaredLogger) (*Manager, error) {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	mgr := &Manager{m: m, log: log, cursor: journalHeaderSize}
	jr := m.Region(region.Journal)
	buf := jr.Bytes()
	if len(buf) >= journalHeaderSize {
		mgr.cursor = binary.LittleEndian.Uint64(buf[0:8])
	}
	if mgr.cursor > journalHeaderSize {
		if err := mgr.recover(); err != nil {
			return nil, err
		}
	}
	return mgr, nil
}

// recover replays every pre-image recorded between journalHeaderSize and
// the persisted cursor, in reverse order, then resets the cursor. It is
// idempotent: replaying an already-clean journal (cursor == header size)
// is a no-op.
func (mgr *Manager) recover() error {
	jr := mgr.m.Region(region.Journal)
	entries, err := decodeEntries(jr.Bytes(), journalHeaderSize, mgr.cursor)
	if err != nil {
		return err
	}
	mgr.log.Warnw("replaying unfinished transaction", "entries", len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		if err := entries[i].restore(mgr.m); err != nil {
			return err
		}
	}
	mgr.resetCursor()
	return nil
}

func (mgr *Manager) resetCursor() {
	mgr.cursor = journalHeaderSize
	jr := mgr.m.Region(region.Journal)
	binary.LittleEndian.PutUint64(jr.Bytes()[0:8], mgr.cursor)
}

func (mgr *Manager) persistCursor() {
	jr := mgr.m.Region(region.Journal)
	binary.LittleEndian.PutUint64(jr.Bytes()[0:8], mgr.cursor)
}

// Begin allocates a commit slot for a new transaction, taking the read
// lock (ReadOnly) or the exclusive write lock (ReadWrite, Independent).
// parent is the enclosing transaction, if any; pass nil for a top-level
// transaction.
func (mgr *Manager) Begin(kind Kind, parent *Tx) (*Tx, error) {
	switch kind {
	case KindReadOnly:
		if parent != nil {
			return newTx(mgr, KindReadOnly, parent, false), nil
		}
		mgr.mu.RLock()
		return newTx(mgr, KindReadOnly, nil, true), nil
	case KindReadWrite:
		if parent != nil && parent.kind == KindReadWrite {
			return nil, pgerr.New(pgerr.NotImplemented, "nested ReadWrite transaction")
		}
		mgr.mu.Lock()
		mgr.writerLocked = true
		return newTx(mgr, KindReadWrite, parent, true), nil
	case KindIndependent:
		mgr.mu.Lock()
		mgr.writerLocked = true
		return newTx(mgr, KindReadWrite, nil, true), nil
	default:
		return nil, pgerr.Newf(pgerr.InvalidID, "unknown transaction kind %d", kind)
	}
}

func (mgr *Manager) unlock(tx *Tx) {
	if !tx.ownsLock {
		return
	}
	if tx.kind == KindReadWrite {
		mgr.writerLocked = false
		mgr.mu.Unlock()
	} else {
		mgr.mu.RUnlock()
	}
}
