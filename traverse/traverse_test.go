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

package traverse_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmgraph/pmgraph/internal/testutil"
	"github.com/pmgraph/pmgraph/iter"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/pgraph"
	"github.com/pmgraph/pmgraph/strtab"
	"github.com/pmgraph/pmgraph/traverse"
)

// buildStar builds a star: hub -> leaf1, hub -> leaf2, leaf1 -> grandchild.
func buildStar(t *testing.T, g *pgraph.Graph) (hub, leaf1, leaf2, grandchild pgraph.Node) {
	t.Helper()
	tx, err := g.Txns.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	tag, err := g.Strings.Intern(tx, []byte("n"))
	require.NoError(t, err)
	edgeTag, err := g.Strings.Intern(tx, []byte("e"))
	require.NoError(t, err)

	hub, err = g.AddNode(tx, tag)
	require.NoError(t, err)
	leaf1, err = g.AddNode(tx, tag)
	require.NoError(t, err)
	leaf2, err = g.AddNode(tx, tag)
	require.NoError(t, err)
	grandchild, err = g.AddNode(tx, tag)
	require.NoError(t, err)

	_, err = g.AddEdge(tx, hub, leaf1, edgeTag)
	require.NoError(t, err)
	_, err = g.AddEdge(tx, hub, leaf2, edgeTag)
	require.NoError(t, err)
	_, err = g.AddEdge(tx, leaf1, grandchild, edgeTag)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(true))
	return hub, leaf1, leaf2, grandchild
}

func TestNeighborOut(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)
	hub, leaf1, leaf2, _ := buildStar(t, g)

	tx, err := g.Txns.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	seq, err := traverse.Neighbor(tx, g, hub, pgraph.Out, strtab.Wildcard, true)
	require.NoError(t, err)
	got, err := iter.Collect(seq)
	require.NoError(t, err)
	require.Len(t, got, 2)
	ids := []uint64{g.NodeID(got[0]), g.NodeID(got[1])}
	require.ElementsMatch(t, []uint64{g.NodeID(leaf1), g.NodeID(leaf2)}, ids)
	require.NoError(t, tx.Commit(true))
}

func TestNeighborhoodTwoHops(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)
	hub, leaf1, leaf2, grandchild := buildStar(t, g)

	tx, err := g.Txns.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	it, err := traverse.Neighborhood(tx, g, hub, 2, pgraph.Out, strtab.Wildcard)
	require.NoError(t, err)

	var got []uint64
	var dist []int
	for {
		n, ok, err := it.Next()
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, g.NodeID(n))
		dist = append(dist, it.Distance())
	}
	require.ElementsMatch(t, []uint64{g.NodeID(leaf1), g.NodeID(leaf2), g.NodeID(grandchild)}, got)
	for i, id := range got {
		switch id {
		case g.NodeID(leaf1), g.NodeID(leaf2):
			require.Equal(t, 1, dist[i])
		case g.NodeID(grandchild):
			require.Equal(t, 2, dist[i])
		}
	}
	require.NoError(t, tx.Commit(true))
}

func TestNHopExactDistance(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)
	hub, leaf1, leaf2, grandchild := buildStar(t, g)
	_ = leaf1
	_ = leaf2

	tx, err := g.Txns.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	it, err := traverse.NHop(tx, g, hub, 2, pgraph.Out, strtab.Wildcard)
	require.NoError(t, err)

	n, ok, err := it.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, g.NodeID(grandchild), g.NodeID(n))
	require.Equal(t, 2, it.Distance())

	_, ok, err = it.Next()
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, tx.Commit(true))
}

func TestJointNeighborRequiresNonEmpty(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)

	tx, err := g.Txns.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	_, err = traverse.JointNeighbor(tx, g, nil, pgraph.Out, strtab.Wildcard)
	require.Error(t, err)
	require.True(t, pgerr.Is(err, pgerr.RangeError))
	require.NoError(t, tx.Commit(true))
}

func TestJointNeighborIntersection(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)

	tx, err := g.Txns.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	tag, err := g.Strings.Intern(tx, []byte("n"))
	require.NoError(t, err)
	edgeTag, err := g.Strings.Intern(tx, []byte("e"))
	require.NoError(t, err)

	a, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	b, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	shared, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	onlyA, err := g.AddNode(tx, tag)
	require.NoError(t, err)

	_, err = g.AddEdge(tx, a, shared, edgeTag)
	require.NoError(t, err)
	_, err = g.AddEdge(tx, b, shared, edgeTag)
	require.NoError(t, err)
	_, err = g.AddEdge(tx, a, onlyA, edgeTag)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(true))

	tx, err = g.Txns.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	seq, err := traverse.JointNeighbor(tx, g, []pgraph.Node{a, b}, pgraph.Out, strtab.Wildcard)
	require.NoError(t, err)
	got, err := iter.Collect(seq)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, g.NodeID(shared), g.NodeID(got[0]))
	require.NoError(t, tx.Commit(true))
}
