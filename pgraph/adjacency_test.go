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

	"github.com/pmgraph/pmgraph/internal/testutil"
	"github.com/pmgraph/pmgraph/iter"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgraph"
	"github.com/pmgraph/pmgraph/strtab"
)

func TestNodeEdgesDirectionFiltering(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)

	tx, err := g.Txns.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	tag, err := g.Strings.Intern(tx, []byte("person"))
	require.NoError(t, err)
	knows, err := g.Strings.Intern(tx, []byte("knows"))
	require.NoError(t, err)

	a, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	b, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	c, err := g.AddNode(tx, tag)
	require.NoError(t, err)

	_, err = g.AddEdge(tx, a, b, knows) // a -> b
	require.NoError(t, err)
	_, err = g.AddEdge(tx, c, a, knows) // c -> a
	require.NoError(t, err)
	require.NoError(t, tx.Commit(true))

	tx, err = g.Txns.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)

	outSeq, err := g.NodeEdges(tx, a, pgraph.Out, strtab.Wildcard)
	require.NoError(t, err)
	outEdges, err := iter.Collect(outSeq)
	require.NoError(t, err)
	require.Len(t, outEdges, 1)
	dst, err := outEdges[0].Destination(tx)
	require.NoError(t, err)
	require.Equal(t, b.Offset, dst.Offset)

	inSeq, err := g.NodeEdges(tx, a, pgraph.In, strtab.Wildcard)
	require.NoError(t, err)
	inEdges, err := iter.Collect(inSeq)
	require.NoError(t, err)
	require.Len(t, inEdges, 1)
	src, err := inEdges[0].Source(tx)
	require.NoError(t, err)
	require.Equal(t, c.Offset, src.Offset)

	anySeq, err := g.NodeEdges(tx, a, pgraph.Any, strtab.Wildcard)
	require.NoError(t, err)
	anyEdges, err := iter.Collect(anySeq)
	require.NoError(t, err)
	require.Len(t, anyEdges, 2)

	require.NoError(t, tx.Commit(true))
}

func TestNodeEdgesTagFilter(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)

	tx, err := g.Txns.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	tag, err := g.Strings.Intern(tx, []byte("person"))
	require.NoError(t, err)
	knows, err := g.Strings.Intern(tx, []byte("knows"))
	require.NoError(t, err)
	likes, err := g.Strings.Intern(tx, []byte("likes"))
	require.NoError(t, err)

	a, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	b, err := g.AddNode(tx, tag)
	require.NoError(t, err)

	_, err = g.AddEdge(tx, a, b, knows)
	require.NoError(t, err)
	_, err = g.AddEdge(tx, a, b, likes)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(true))

	tx, err = g.Txns.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	seq, err := g.NodeEdges(tx, a, pgraph.Out, knows)
	require.NoError(t, err)
	edges, err := iter.Collect(seq)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	gotTag, err := edges[0].Tag(tx)
	require.NoError(t, err)
	require.Equal(t, knows, gotTag)
	require.NoError(t, tx.Commit(true))
}
