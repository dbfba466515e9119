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

// GetNodes implements C6's get_nodes(tag?, predicate?): a tag of
// strtab.Wildcard means "every tag," a nil predicate means "no filter."
// Selection follows the spec's three-tier dispatch: drive through a
// property index when one matches (tag, predicate.Key); else iterate the
// tag's chunk list, filtering in-stream; else (no tag given) iterate the
// global node list, filtering in-stream.
func (g *Graph) GetNodes(tx *journal.Tx, tag strtab.ID, pred *index.Predicate) (iter.Seq[Node], error) {
	offs, err := g.selectOffsets(tx, index.KindNode, tag, pred)
	if err != nil {
		return nil, err
	}
	return g.nodeSeqFromOffsets(tx, offs), nil
}

// GetEdges implements C6's get_edges(tag?, predicate?) the same way
// GetNodes implements the node-side query.
func (g *Graph) GetEdges(tx *journal.Tx, tag strtab.ID, pred *index.Predicate) (iter.Seq[Edge], error) {
	offs, err := g.selectOffsets(tx, index.KindEdge, tag, pred)
	if err != nil {
		return nil, err
	}
	return g.edgeSeqFromOffsets(tx, offs), nil
}

func (g *Graph) selectOffsets(tx *journal.Tx, kind index.ObjectKind, tag strtab.ID, pred *index.Predicate) ([]region.Offset, error) {
	if tag != strtab.Wildcard && pred != nil && g.Index.HasIndex(kind, tag, pred.Key) {
		tree, rootField, ok := g.Index.Tree(kind, tag, pred.Key)
		if !ok {
			return nil, nil
		}
		raw, err := tree.Gather(tx, rootField, *pred, false)
		if err != nil {
			return nil, err
		}
		return toOffsets(raw), nil
	}

	if tag == strtab.Wildcard {
		base := g.globalListBase(kind)
		raw, err := g.Index.Buckets().Iterate(tx, region.Meta, base)
		if err != nil {
			return nil, err
		}
		offs := toOffsets(raw)
		if pred == nil {
			return offs, nil
		}
		return g.filterByPredicate(tx, kind, offs, *pred)
	}

	members, err := g.tagMembers(tx, kind, tag)
	if err != nil {
		return nil, err
	}
	if pred == nil {
		return members, nil
	}
	return g.filterByPredicate(tx, kind, members, *pred)
}

func (g *Graph) globalListBase(kind index.ObjectKind) region.Offset {
	if kind == index.KindNode {
		return g.globalNodeListBase()
	}
	return g.globalEdgeListBase()
}

func toOffsets(raw []uint64) []region.Offset {
	out := make([]region.Offset, len(raw))
	for i, v := range raw {
		out[i] = region.Offset(v)
	}
	return out
}

func (g *Graph) filterByPredicate(tx *journal.Tx, kind index.ObjectKind, offs []region.Offset, pred index.Predicate) ([]region.Offset, error) {
	var out []region.Offset
	for _, o := range offs {
		head, err := g.propsHeadOf(tx, kind, o)
		if err != nil {
			return nil, err
		}
		v, ok, err := g.Props.Check(tx, head, pred.Key)
		if err != nil {
			return nil, err
		}
		if !ok || !pred.Matches(v) {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (g *Graph) nodeSeqFromOffsets(tx *journal.Tx, offs []region.Offset) iter.Seq[Node] {
	nodes := make([]Node, len(offs))
	for i, o := range offs {
		nodes[i] = Node{Offset: o}
	}
	return iter.Filter(iter.FromSlice(nodes), iter.CheckLive(func(n Node) (bool, error) {
		return g.nodes.IsLive(tx, n.Offset)
	}))
}

func (g *Graph) edgeSeqFromOffsets(tx *journal.Tx, offs []region.Offset) iter.Seq[Edge] {
	edges := make([]Edge, len(offs))
	for i, o := range offs {
		edges[i] = Edge{Offset: o}
	}
	return iter.Filter(iter.FromSlice(edges), iter.CheckLive(func(e Edge) (bool, error) {
		return g.edges.IsLive(tx, e.Offset)
	}))
}
