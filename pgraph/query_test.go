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

package pgraph_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmgraph/pmgraph/index"
	"github.com/pmgraph/pmgraph/internal/testutil"
	"github.com/pmgraph/pmgraph/iter"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgraph"
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/strtab"
)

func ids(t *testing.T, g *pgraph.Graph, seq iter.Seq[pgraph.Node]) []uint64 {
	t.Helper()
	nodes, err := iter.Collect(seq)
	require.NoError(t, err)
	out := make([]uint64, len(nodes))
	for i, n := range nodes {
		out[i] = g.NodeID(n)
	}
	return out
}

func TestGetNodesByTagNoPredicate(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)

	tx, err := g.Txns.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	personTag, err := g.Strings.Intern(tx, []byte("person"))
	require.NoError(t, err)
	carTag, err := g.Strings.Intern(tx, []byte("car"))
	require.NoError(t, err)

	p1, err := g.AddNode(tx, personTag)
	require.NoError(t, err)
	p2, err := g.AddNode(tx, personTag)
	require.NoError(t, err)
	_, err = g.AddNode(tx, carTag)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(true))

	tx, err = g.Txns.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	seq, err := g.GetNodes(tx, personTag, nil)
	require.NoError(t, err)
	got := ids(t, g, seq)
	require.ElementsMatch(t, []uint64{g.NodeID(p1), g.NodeID(p2)}, got)
	require.NoError(t, tx.Commit(true))
}

func TestGetNodesWildcardWithPredicateFiltersGlobalList(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)

	tx, err := g.Txns.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	tag, err := g.Strings.Intern(tx, []byte("thing"))
	require.NoError(t, err)
	ageKey, err := g.Strings.Intern(tx, []byte("age"))
	require.NoError(t, err)

	young, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	old, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	require.NoError(t, g.SetProperty(tx, young, ageKey, proplist.IntValue(5)))
	require.NoError(t, g.SetProperty(tx, old, ageKey, proplist.IntValue(50)))
	require.NoError(t, tx.Commit(true))

	tx, err = g.Txns.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	pred := index.Predicate{Key: ageKey, Op: index.Ge, Operand1: proplist.IntValue(10)}
	seq, err := g.GetNodes(tx, strtab.Wildcard, &pred)
	require.NoError(t, err)
	got := ids(t, g, seq)
	require.Equal(t, []uint64{g.NodeID(old)}, got)
	require.NoError(t, tx.Commit(true))
}

func TestGetNodesUsesIndexWhenAvailable(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)

	tx, err := g.Txns.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	tag, err := g.Strings.Intern(tx, []byte("person"))
	require.NoError(t, err)
	nameKey, err := g.Strings.Intern(tx, []byte("name"))
	require.NoError(t, err)
	require.NoError(t, g.CreateIndex(tx, index.KindNode, tag, nameKey, proplist.String))

	alice, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	require.NoError(t, g.SetProperty(tx, alice, nameKey, proplist.StringValue("alice")))
	bob, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	require.NoError(t, g.SetProperty(tx, bob, nameKey, proplist.StringValue("bob")))
	require.NoError(t, tx.Commit(true))

	tx, err = g.Txns.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	pred := index.EqP(nameKey, proplist.StringValue("bob"))
	seq, err := g.GetNodes(tx, tag, &pred)
	require.NoError(t, err)
	got := ids(t, g, seq)
	require.Equal(t, []uint64{g.NodeID(bob)}, got)
	require.NoError(t, tx.Commit(true))
}
