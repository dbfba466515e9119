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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/chunklist"
	"github.com/pmgraph/pmgraph/internal/testutil"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/region"
)

const testRootField region.Offset = 256

func openTestTree(t *testing.T, keyKind proplist.Kind) (*Tree, *journal.Manager, uint64) {
	t.Helper()
	m, cfg := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	nodes, err := OpenTreePool(m)
	require.NoError(t, err)
	buckets, err := chunklist.Open(m)
	require.NoError(t, err)
	arena, err := alloc.OpenArena(m, cfg.NumAllocators, uint64(cfg.AllocatorRegionSize))
	require.NoError(t, err)
	return newTree(nodes, buckets, arena, keyKind), mgr, uint64(cfg.PageSize)
}

func TestTreeInsertFindIntegers(t *testing.T) {
	tree, mgr, pageSize := openTestTree(t, proplist.Integer)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)

	values := []int64{50, 30, 70, 20, 40, 60, 80, 10, 25, 35, 45}
	buckets := make(map[int64]region.Offset)
	for _, v := range values {
		base, err := tree.InsertKey(tx, testRootField, proplist.IntValue(v), pageSize)
		require.NoError(t, err)
		buckets[v] = base
		require.NoError(t, tree.buckets.Insert(tx, region.TreeNodes, base, uint64(v), pageSize))
	}
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	for _, v := range values {
		node, found, err := tree.Find(tx, testRootField, proplist.IntValue(v))
		require.NoError(t, err)
		require.True(t, found)
		key, err := tree.readKey(tx, node)
		require.NoError(t, err)
		require.Equal(t, v, key.Int)
	}
	_, found, err := tree.Find(tx, testRootField, proplist.IntValue(999))
	require.NoError(t, err)
	require.False(t, found)

	count, height, err := tree.Stats(tx, testRootField)
	require.NoError(t, err)
	require.Equal(t, len(values), count)
	// AVL height is bounded logarithmically; 11 nodes should never need
	// more than 5 levels.
	require.LessOrEqual(t, height, 5)
	require.NoError(t, tx.Abort())
}

func TestTreeInOrderRange(t *testing.T) {
	tree, mgr, pageSize := openTestTree(t, proplist.Integer)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	for i := int64(0); i < 30; i++ {
		_, err := tree.InsertKey(tx, testRootField, proplist.IntValue(i), pageSize)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	entries, err := tree.InOrder(tx, testRootField,
		proplist.IntValue(10), false, true,
		proplist.IntValue(20), false, true,
		false)
	require.NoError(t, err)
	require.Len(t, entries, 11) // [10,20] inclusive
	for i, e := range entries {
		require.Equal(t, int64(10+i), e.Key.Int)
	}

	excl, err := tree.InOrder(tx, testRootField,
		proplist.IntValue(10), true, true,
		proplist.IntValue(20), true, true,
		false)
	require.NoError(t, err)
	require.Len(t, excl, 9) // (10,20) exclusive

	rev, err := tree.InOrder(tx, testRootField,
		proplist.IntValue(10), false, true,
		proplist.IntValue(20), false, true,
		true)
	require.NoError(t, err)
	require.Len(t, rev, 11)
	require.Equal(t, int64(20), rev[0].Key.Int)
	require.Equal(t, int64(10), rev[len(rev)-1].Key.Int)
	require.NoError(t, tx.Abort())
}

func TestTreeRemoveRebalances(t *testing.T) {
	tree, mgr, pageSize := openTestTree(t, proplist.Integer)

	rng := rand.New(rand.NewSource(1))
	values := rng.Perm(50)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	for _, v := range values {
		_, err := tree.InsertKey(tx, testRootField, proplist.IntValue(int64(v)), pageSize)
		require.NoError(t, err)
	}
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	for _, v := range values[:30] {
		require.NoError(t, tree.RemoveNode(tx, testRootField, proplist.IntValue(int64(v))))
	}
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	count, height, err := tree.Stats(tx, testRootField)
	require.NoError(t, err)
	require.Equal(t, 20, count)
	require.LessOrEqual(t, height, 7)
	for _, v := range values[:30] {
		_, found, err := tree.Find(tx, testRootField, proplist.IntValue(int64(v)))
		require.NoError(t, err)
		require.False(t, found)
	}
	for _, v := range values[30:] {
		_, found, err := tree.Find(tx, testRootField, proplist.IntValue(int64(v)))
		require.NoError(t, err)
		require.True(t, found)
	}
	require.NoError(t, tx.Abort())
}

func TestTreeStringKeysOverflowToArena(t *testing.T) {
	tree, mgr, pageSize := openTestTree(t, proplist.String)

	long := ""
	for i := 0; i < 40; i++ {
		long += "x"
	}

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	_, err = tree.InsertKey(tx, testRootField, proplist.StringValue("short"), pageSize)
	require.NoError(t, err)
	_, err = tree.InsertKey(tx, testRootField, proplist.StringValue(long), pageSize)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	node, found, err := tree.Find(tx, testRootField, proplist.StringValue(long))
	require.NoError(t, err)
	require.True(t, found)
	key, err := tree.readKey(tx, node)
	require.NoError(t, err)
	require.Equal(t, long, key.Str)
	require.NoError(t, tx.Abort())
}
