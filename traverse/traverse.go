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

// Package traverse implements C9: the BFS-based traversal helpers layered
// over a node's adjacency chains — Neighbor, JointNeighbor, Neighborhood,
// and NHop. Neighborhood and NHop share one BFS core; every helper keys its
// visited set by pgraph.Graph.NodeID, and the BFS core and Neighbor keep it
// in a roaring bitmap so a large fan-out visited set stays compact.
package traverse

import (
	roaring "github.com/RoaringBitmap/roaring/v2"

	"github.com/pmgraph/pmgraph/index"
	"github.com/pmgraph/pmgraph/iter"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/pgraph"
	"github.com/pmgraph/pmgraph/strtab"
)

// neighborsOf returns every node adjacent to n in direction dir, restricted
// to tag (strtab.Wildcard for any) and satisfying every predicate in preds,
// resolving each matching edge's far endpoint via whichever side n is not.
func neighborsOf(tx *journal.Tx, g *pgraph.Graph, n pgraph.Node, dir pgraph.Direction, tag strtab.ID, preds ...index.Predicate) ([]pgraph.Node, error) {
	seq, err := g.NodeEdges(tx, n, dir, tag, preds...)
	if err != nil {
		return nil, err
	}
	var out []pgraph.Node
	err = iter.Process(seq, func(e pgraph.Edge) error {
		src, err := e.Source(tx)
		if err != nil {
			return err
		}
		dst, err := e.Destination(tx)
		if err != nil {
			return err
		}
		if src.Offset == n.Offset {
			out = append(out, dst)
		} else {
			out = append(out, src)
		}
		return nil
	})
	return out, err
}

// Neighbor returns start's immediate neighbors in direction dir, restricted
// to tag (strtab.Wildcard for any) and the supplied edge predicates. unique
// keeps a visited set so a node reachable via several qualifying edges is
// only yielded once; !unique skips that bookkeeping and may repeat nodes,
// matching spec.md's "unique (visited set) or !unique (cheaper, duplicates
// possible)" option.
func Neighbor(tx *journal.Tx, g *pgraph.Graph, start pgraph.Node, dir pgraph.Direction, tag strtab.ID, unique bool, preds ...index.Predicate) (iter.Seq[pgraph.Node], error) {
	neighbors, err := neighborsOf(tx, g, start, dir, tag, preds...)
	if err != nil {
		return nil, err
	}
	if !unique {
		return iter.FromSlice(neighbors), nil
	}
	seen := roaring.New()
	out := make([]pgraph.Node, 0, len(neighbors))
	for _, nb := range neighbors {
		id := uint32(g.NodeID(nb))
		if seen.Contains(id) {
			continue
		}
		seen.Add(id)
		out = append(out, nb)
	}
	return iter.FromSlice(out), nil
}

// JointNeighbor returns every node that is a neighbor of all of nodes
// simultaneously (the BFS core's "joint" fan-in), failing RangeError if
// nodes is empty since an empty constraint set has no well-defined
// intersection.
func JointNeighbor(tx *journal.Tx, g *pgraph.Graph, nodes []pgraph.Node, dir pgraph.Direction, tag strtab.ID, preds ...index.Predicate) (iter.Seq[pgraph.Node], error) {
	if len(nodes) == 0 {
		return nil, pgerr.New(pgerr.RangeError, "JointNeighbor requires at least one constraint node")
	}

	type candidate struct {
		node  pgraph.Node
		count int
	}
	seen := map[uint64]*candidate{}
	var order []uint64

	for i, n := range nodes {
		neighbors, err := neighborsOf(tx, g, n, dir, tag, preds...)
		if err != nil {
			return nil, err
		}
		matched := map[uint64]bool{}
		for _, nb := range neighbors {
			id := g.NodeID(nb)
			if matched[id] {
				continue
			}
			matched[id] = true
			if i == 0 {
				seen[id] = &candidate{node: nb, count: 1}
				order = append(order, id)
				continue
			}
			if c, ok := seen[id]; ok {
				c.count++
			}
		}
	}

	var out []pgraph.Node
	for _, id := range order {
		if seen[id].count == len(nodes) {
			out = append(out, seen[id].node)
		}
	}
	return iter.FromSlice(out), nil
}
