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

package chunklist_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmgraph/pmgraph/chunklist"
	"github.com/pmgraph/pmgraph/internal/testutil"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/region"
)

func TestInsertIterateRemove(t *testing.T) {
	m, cfg := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	list, err := chunklist.Open(m)
	require.NoError(t, err)

	const hdrBase region.Offset = 4096

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	for i := uint64(1); i <= 23; i++ { // spans several buckets
		require.NoError(t, list.Insert(tx, region.Meta, hdrBase, i, uint64(cfg.PageSize)))
	}
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	vals, err := list.Iterate(tx, region.Meta, hdrBase)
	require.NoError(t, err)
	require.Len(t, vals, 23)
	count, err := list.Count(tx, region.Meta, hdrBase)
	require.NoError(t, err)
	require.EqualValues(t, 23, count)
	require.NoError(t, tx.Abort())

	tx, err = mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	removed, err := list.Remove(tx, region.Meta, hdrBase, 10)
	require.NoError(t, err)
	require.True(t, removed)
	missing, err := list.Remove(tx, region.Meta, hdrBase, 999)
	require.NoError(t, err)
	require.False(t, missing)
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	vals, err = list.Iterate(tx, region.Meta, hdrBase)
	require.NoError(t, err)
	require.Len(t, vals, 22)
	for _, v := range vals {
		require.NotEqual(t, uint64(10), v)
	}
	require.NoError(t, tx.Abort())
}

func TestRemoveDrainsAllBuckets(t *testing.T) {
	m, cfg := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	list, err := chunklist.Open(m)
	require.NoError(t, err)
	const hdrBase region.Offset = 4096

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	for i := uint64(1); i <= 17; i++ {
		require.NoError(t, list.Insert(tx, region.Meta, hdrBase, i, uint64(cfg.PageSize)))
	}
	for i := uint64(1); i <= 17; i++ {
		removed, err := list.Remove(tx, region.Meta, hdrBase, i)
		require.NoError(t, err)
		require.True(t, removed)
	}
	empty, err := list.IsEmpty(tx, region.Meta, hdrBase)
	require.NoError(t, err)
	require.True(t, empty)
	require.NoError(t, tx.Commit(true))
}
