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

package alloc_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/internal/testutil"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/region"
)

func TestFixedPoolAllocReusesFreedLowestSlot(t *testing.T) {
	m, cfg := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	pool, err := alloc.Open(m, region.Nodes, 64)
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	off1, err := pool.Alloc(tx, uint64(cfg.PageSize))
	require.NoError(t, err)
	off2, err := pool.Alloc(tx, uint64(cfg.PageSize))
	require.NoError(t, err)
	require.NotEqual(t, off1, off2)
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Free(tx, off1))
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	off3, err := pool.Alloc(tx, uint64(cfg.PageSize))
	require.NoError(t, err)
	require.Equal(t, off1, off3, "freed slot should be reused before bumping")
	require.NoError(t, tx.Commit(true))
}

func TestFixedPoolAbortDoesNotFree(t *testing.T) {
	m, cfg := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	pool, err := alloc.Open(m, region.Nodes, 64)
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	off, err := pool.Alloc(tx, uint64(cfg.PageSize))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Free(tx, off))
	require.NoError(t, tx.Abort())

	tx, err = mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	next, err := pool.Alloc(tx, uint64(cfg.PageSize))
	require.NoError(t, err)
	require.NotEqual(t, off, next, "aborted free must not resurface the slot")
	require.NoError(t, tx.Commit(true))
}

func TestFixedPoolStatsHealthFactor(t *testing.T) {
	m, cfg := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	pool, err := alloc.Open(m, region.Edges, 48)
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	a, err := pool.Alloc(tx, uint64(cfg.PageSize))
	require.NoError(t, err)
	_, err = pool.Alloc(tx, uint64(cfg.PageSize))
	require.NoError(t, err)
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	require.NoError(t, pool.Free(tx, a))
	require.NoError(t, tx.Commit(true))

	st := pool.Stats(m.Region(region.Edges).Size())
	require.Equal(t, uint64(1), st.NumObjects)
	require.InDelta(t, 50.0, st.HealthFactor, 0.01)
}

func TestArenaClassedAllocAndFreeRoundtrip(t *testing.T) {
	m, cfg := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	ar, err := alloc.OpenArena(m, cfg.NumAllocators, uint64(cfg.AllocatorRegionSize))
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	off, err := ar.Alloc(tx, 0, 20)
	require.NoError(t, err)
	require.NoError(t, ar.Free(tx, 0, off, 20))
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	off2, err := ar.Alloc(tx, 0, 20)
	require.NoError(t, err)
	require.Equal(t, off, off2, "classed freelist should hand back the just-freed block")
	require.NoError(t, tx.Commit(true))
}

func TestArenaOverflowExactFit(t *testing.T) {
	m, cfg := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	ar, err := alloc.OpenArena(m, cfg.NumAllocators, uint64(cfg.AllocatorRegionSize))
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	big, err := ar.Alloc(tx, 0, 9000)
	require.NoError(t, err)
	require.NoError(t, ar.Free(tx, 0, big, 9000))
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	again, err := ar.Alloc(tx, 0, 9000)
	require.NoError(t, err)
	require.Equal(t, big, again)
	require.NoError(t, tx.Commit(true))
}
