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

package pgraph

import (
	"github.com/pmgraph/pmgraph/index"
	"github.com/pmgraph/pmgraph/iter"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/region"
	"github.com/pmgraph/pmgraph/strtab"
)

// Direction selects which of a node's two adjacency chains get_edges walks.
type Direction int

const (
	Out Direction = iota
	In
	Any
)

// NodeEdges implements C6's node.get_edges(direction, tag?, edge-predicate*):
// walking the requested chain(s) directly is what keeps direction filtering
// O(result_size) rather than O(degree) — a node's out- and in-edges are
// separate chains, so there is never a need to scan one to find the other.
// tag == strtab.Wildcard matches every tag. Any supplied predicates are
// evaluated against the edge's own property list; an edge must satisfy all
// of them to pass.
func (g *Graph) NodeEdges(tx *journal.Tx, n Node, dir Direction, tag strtab.ID, preds ...index.Predicate) (iter.Seq[Edge], error) {
	var offs []region.Offset
	if dir == Out || dir == Any {
		chain, err := g.walkChain(tx, n.Offset+nodeOffOutEdges, edgeOffSrcNext)
		if err != nil {
			return nil, err
		}
		offs = append(offs, chain...)
	}
	if dir == In || dir == Any {
		chain, err := g.walkChain(tx, n.Offset+nodeOffInEdges, edgeOffDstNext)
		if err != nil {
			return nil, err
		}
		offs = append(offs, chain...)
	}

	edges := make([]Edge, len(offs))
	for i, o := range offs {
		edges[i] = Edge{Offset: o}
	}
	seq := iter.Filter(iter.FromSlice(edges), func(e Edge) (iter.Decision, error) {
		if tag != strtab.Wildcard {
			t, err := e.Tag(tx)
			if err != nil {
				return iter.DontPassStop, err
			}
			if t != tag {
				return iter.DontPass, nil
			}
		}
		for _, p := range preds {
			head, err := e.propsHead(tx)
			if err != nil {
				return iter.DontPassStop, err
			}
			v, ok, err := g.Props.Check(tx, head, p.Key)
			if err != nil {
				return iter.DontPassStop, err
			}
			if !ok || !p.Matches(v) {
				return iter.DontPass, nil
			}
		}
		return iter.Pass, nil
	})
	return seq, nil
}

// walkChain follows a doubly linked edge chain from headField (a field in
// region.Nodes) via the edge-side next field nextField, returning every
// edge offset it visits.
func (g *Graph) walkChain(tx *journal.Tx, headField, nextField region.Offset) ([]region.Offset, error) {
	var out []region.Offset
	cur, err := readOffsetAt(tx, region.Nodes, headField)
	if err != nil {
		return nil, err
	}
	for cur != 0 {
		out = append(out, cur)
		cur, err = readOffsetAt(tx, region.Edges, cur+nextField)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// NodeID returns a stable-for-session integer identifying n, for use as a
// visited-set key (spec.md §4.C9's BFS traversal helpers) or external
// presentation.
func (g *Graph) NodeID(n Node) uint64 { return GetID(n.Offset, nodeRecordSize) }

// EdgeID is the edge-side equivalent of NodeID.
func (g *Graph) EdgeID(e Edge) uint64 { return GetID(e.Offset, edgeRecordSize) }
