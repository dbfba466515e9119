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

package proplist_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/internal/testutil"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/region"
	"github.com/pmgraph/pmgraph/strtab"
)

// headField is an arbitrary slot inside the Nodes region standing in for a
// Node record's `properties` field, so these tests need no pgraph.Graph.
const headField region.Offset = 4096

func openTable(t *testing.T) (*proplist.Table, *journal.Manager, *strtab.Table) {
	m, cfg := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	ar, err := alloc.OpenArena(m, cfg.NumAllocators, uint64(cfg.AllocatorRegionSize))
	require.NoError(t, err)
	tbl, err := proplist.Open(m, ar, cfg.NumAllocators)
	require.NoError(t, err)
	tags, err := strtab.Open(m)
	require.NoError(t, err)
	return tbl, mgr, tags
}

func TestSetGetRoundtrip(t *testing.T) {
	tbl, mgr, tags := openTable(t)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	key, err := tags.Intern(tx, []byte("age"))
	require.NoError(t, err)
	require.NoError(t, tbl.Set(tx, region.Nodes, headField, 0, key, proplist.IntValue(42)))
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	head, err := tx.Read(region.Nodes, headField, 8)
	require.NoError(t, err)
	v, err := tbl.Get(tx, region.Offset(leUint64(head)), key)
	require.NoError(t, err)
	require.Equal(t, int64(42), v.Int)
	require.NoError(t, tx.Commit(true))
}

func TestSetOverwriteInPlace(t *testing.T) {
	tbl, mgr, tags := openTable(t)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	key, err := tags.Intern(tx, []byte("score"))
	require.NoError(t, err)
	require.NoError(t, tbl.Set(tx, region.Nodes, headField, 0, key, proplist.IntValue(1)))
	require.NoError(t, tbl.Set(tx, region.Nodes, headField, 0, key, proplist.IntValue(2)))
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	head, err := tx.Read(region.Nodes, headField, 8)
	require.NoError(t, err)
	cells, err := tbl.Iterate(tx, region.Offset(leUint64(head)))
	require.NoError(t, err)
	require.Len(t, cells, 1, "overwriting the same key must not grow the list")
	require.Equal(t, int64(2), cells[0].Value.Int)
	require.NoError(t, tx.Commit(true))
}

func TestSetExternalStringAndRemove(t *testing.T) {
	tbl, mgr, tags := openTable(t)
	big := strings.Repeat("x", 200)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	key, err := tags.Intern(tx, []byte("bio"))
	require.NoError(t, err)
	require.NoError(t, tbl.Set(tx, region.Nodes, headField, 0, key, proplist.StringValue(big)))
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	head, err := tx.Read(region.Nodes, headField, 8)
	require.NoError(t, err)
	v, err := tbl.Get(tx, region.Offset(leUint64(head)), key)
	require.NoError(t, err)
	require.Equal(t, big, v.Str)
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	require.NoError(t, tbl.Remove(tx, region.Nodes, headField, 0, key))
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	head, err = tx.Read(region.Nodes, headField, 8)
	require.NoError(t, err)
	require.Equal(t, region.Offset(0), region.Offset(leUint64(head)), "removing the only property frees the chunk")
	require.NoError(t, tx.Commit(true))
}

func TestGetMissingKeyFails(t *testing.T) {
	tbl, mgr, tags := openTable(t)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	key, err := tags.Intern(tx, []byte("ghost"))
	require.NoError(t, err)
	_, err = tbl.Get(tx, 0, key)
	require.True(t, pgerr.Is(err, pgerr.PropertyNotFound))
	require.NoError(t, tx.Commit(true))
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
