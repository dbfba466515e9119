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
	"go.uber.org/zap"

	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/index"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgconfig"
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/region"
	"github.com/pmgraph/pmgraph/strtab"
)

// Graph is the public handle a host program opens: it owns every region,
// the journal/transaction manager, both allocator families, the string
// table, the property-list table, and the index manager, wiring them the
// way spec.md §3's "Graph root exclusively owns every region" describes.
type Graph struct {
	m    *region.Map
	Txns *journal.Manager

	nodes *alloc.FixedPool
	edges *alloc.FixedPool
	arena *alloc.Arena

	Strings *strtab.Table
	Props   *proplist.Table
	Index   *index.Manager

	pageSize uint64
}

// Open verifies/creates a graph at dir and wires every subsystem, matching
// the open-mode semantics of region.Open (Create/ReadOnly/ReadWrite).
func Open(dir string, mode region.Mode, cfg pgconfig.Config, log *zap.SugaredLogger) (*Graph, error) {
	m, err := region.Open(dir, mode, cfg, log)
	if err != nil {
		return nil, err
	}
	txns, err := journal.Open(m, log)
	if err != nil {
		m.Close()
		return nil, err
	}

	nodes, err := alloc.Open(m, region.Nodes, nodeRecordSize)
	if err != nil {
		m.Close()
		return nil, err
	}
	edges, err := alloc.Open(m, region.Edges, edgeRecordSize)
	if err != nil {
		m.Close()
		return nil, err
	}
	arena, err := alloc.OpenArena(m, cfg.NumAllocators, uint64(cfg.AllocatorRegionSize))
	if err != nil {
		m.Close()
		return nil, err
	}
	strings, err := strtab.Open(m)
	if err != nil {
		m.Close()
		return nil, err
	}
	props, err := proplist.Open(m, arena, cfg.NumAllocators)
	if err != nil {
		m.Close()
		return nil, err
	}
	idxMgr, err := index.Open(m, arena)
	if err != nil {
		m.Close()
		return nil, err
	}

	g := &Graph{
		m: m, Txns: txns,
		nodes: nodes, edges: edges, arena: arena,
		Strings: strings, Props: props, Index: idxMgr,
		pageSize: uint64(cfg.PageSize),
	}

	props.AddListener(&indexListener{kind: index.KindNode, mgr: idxMgr, tagOf: g.nodeTagOf, pageSize: g.pageSize})
	props.AddListener(&indexListener{kind: index.KindEdge, mgr: idxMgr, tagOf: g.edgeTagOf, pageSize: g.pageSize})

	return g, nil
}

// Close flushes the header and unmaps every region.
func (g *Graph) Close() error { return g.m.Close() }

func (g *Graph) nodeTagOf(tx *journal.Tx, owner region.Offset) (strtab.ID, error) {
	return Node{Offset: owner}.Tag(tx)
}

func (g *Graph) edgeTagOf(tx *journal.Tx, owner region.Offset) (strtab.ID, error) {
	return Edge{Offset: owner}.Tag(tx)
}

// GetID returns a stable-for-session integer derived from a record's
// offset, for external presentation only (spec.md §4.C6).
func GetID(off region.Offset, recordSize int) uint64 {
	return uint64(off) / uint64(recordSize)
}

func (g *Graph) globalNodeListBase() region.Offset { return region.HeaderOffsetGlobalNodeListHead }
func (g *Graph) globalEdgeListBase() region.Offset { return region.HeaderOffsetGlobalEdgeListHead }

// AddNode allocates a node tagged tag, links it into the global node list
// and the tag's chunk list, and registers it under any (Node, tag, *)
// index already present — though a fresh node has no properties yet, so
// there is nothing to insert into a property index until Set is called.
func (g *Graph) AddNode(tx *journal.Tx, tag strtab.ID) (Node, error) {
	off, err := g.nodes.Alloc(tx, g.pageSize)
	if err != nil {
		return Node{}, err
	}
	zero := make([]byte, nodeRecordSize)
	if err := tx.Write(region.Nodes, off, zero); err != nil {
		return Node{}, err
	}
	if err := tx.PutUint32(region.Nodes, off+nodeOffTag, uint32(tag)); err != nil {
		return Node{}, err
	}
	if err := g.Index.Buckets().Insert(tx, region.Meta, g.globalNodeListBase(), uint64(off), g.pageSize); err != nil {
		return Node{}, err
	}
	base, err := g.Index.GlobalList(tx, index.KindNode, tag)
	if err != nil {
		return Node{}, err
	}
	if err := g.Index.Buckets().Insert(tx, region.Indices, base, uint64(off), g.pageSize); err != nil {
		return Node{}, err
	}
	return Node{Offset: off}, nil
}

// AddEdge allocates an edge from src to dst tagged tag, splicing it into
// src's out-edge chain and dst's in-edge chain, and registers it the same
// way AddNode registers a node.
func (g *Graph) AddEdge(tx *journal.Tx, src, dst Node, tag strtab.ID) (Edge, error) {
	off, err := g.edges.Alloc(tx, g.pageSize)
	if err != nil {
		return Edge{}, err
	}
	zero := make([]byte, edgeRecordSize)
	if err := tx.Write(region.Edges, off, zero); err != nil {
		return Edge{}, err
	}
	if err := tx.PutUint32(region.Edges, off+edgeOffTag, uint32(tag)); err != nil {
		return Edge{}, err
	}
	if err := writeOffsetAt(tx, region.Edges, off+edgeOffSource, src.Offset); err != nil {
		return Edge{}, err
	}
	if err := writeOffsetAt(tx, region.Edges, off+edgeOffDest, dst.Offset); err != nil {
		return Edge{}, err
	}

	if err := g.pushFront(tx, region.Edges, off, edgeOffSrcPrev, edgeOffSrcNext, region.Nodes, src.Offset+nodeOffOutEdges); err != nil {
		return Edge{}, err
	}
	if err := g.pushFront(tx, region.Edges, off, edgeOffDstPrev, edgeOffDstNext, region.Nodes, dst.Offset+nodeOffInEdges); err != nil {
		return Edge{}, err
	}

	if err := g.Index.Buckets().Insert(tx, region.Meta, g.globalEdgeListBase(), uint64(off), g.pageSize); err != nil {
		return Edge{}, err
	}
	base, err := g.Index.GlobalList(tx, index.KindEdge, tag)
	if err != nil {
		return Edge{}, err
	}
	if err := g.Index.Buckets().Insert(tx, region.Indices, base, uint64(off), g.pageSize); err != nil {
		return Edge{}, err
	}
	return Edge{Offset: off}, nil
}

// pushFront splices edgeOff onto the front of the doubly linked chain
// whose head pointer lives at (headRegion, headField), writing edgeOff's
// own prev/next fields in region.Edges.
func (g *Graph) pushFront(tx *journal.Tx, edgeRegion region.Name, edgeOff, prevField, nextField region.Offset, headRegion region.Name, headField region.Offset) error {
	head, err := readOffsetAt(tx, headRegion, headField)
	if err != nil {
		return err
	}
	if err := writeOffsetAt(tx, edgeRegion, edgeOff+prevField, 0); err != nil {
		return err
	}
	if err := writeOffsetAt(tx, edgeRegion, edgeOff+nextField, head); err != nil {
		return err
	}
	if head != 0 {
		// head's own prev field is the sibling offset of nextField within
		// the same prev/next pair (src pair or dst pair), i.e. prevField.
		if err := writeOffsetAt(tx, edgeRegion, head+prevField, edgeOff); err != nil {
			return err
		}
	}
	return writeOffsetAt(tx, headRegion, headField, edgeOff)
}

// spliceOut removes edgeOff from the doubly linked chain it belongs to,
// repointing the head field if edgeOff was the head.
func (g *Graph) spliceOut(tx *journal.Tx, edgeOff, prevField, nextField region.Offset, headRegion region.Name, headField region.Offset) error {
	prev, err := readOffsetAt(tx, region.Edges, edgeOff+prevField)
	if err != nil {
		return err
	}
	next, err := readOffsetAt(tx, region.Edges, edgeOff+nextField)
	if err != nil {
		return err
	}
	if prev != 0 {
		if err := writeOffsetAt(tx, region.Edges, prev+nextField, next); err != nil {
			return err
		}
	} else {
		if err := writeOffsetAt(tx, headRegion, headField, next); err != nil {
			return err
		}
	}
	if next != 0 {
		if err := writeOffsetAt(tx, region.Edges, next+prevField, prev); err != nil {
			return err
		}
	}
	return nil
}

// RemoveEdge splices e out of both adjacency lists, clears its indices and
// property list, and frees its record.
func (g *Graph) RemoveEdge(tx *journal.Tx, e Edge) error {
	src, err := e.Source(tx)
	if err != nil {
		return err
	}
	dst, err := e.Destination(tx)
	if err != nil {
		return err
	}
	if err := g.spliceOut(tx, e.Offset, edgeOffSrcPrev, edgeOffSrcNext, region.Nodes, src.Offset+nodeOffOutEdges); err != nil {
		return err
	}
	if err := g.spliceOut(tx, e.Offset, edgeOffDstPrev, edgeOffDstNext, region.Nodes, dst.Offset+nodeOffInEdges); err != nil {
		return err
	}
	if err := g.clearProperties(tx, e.Offset, index.KindEdge); err != nil {
		return err
	}
	tag, err := e.Tag(tx)
	if err != nil {
		return err
	}
	if base, ok := g.Index.ExistingGlobalList(index.KindEdge, tag); ok {
		if _, err := g.Index.Buckets().Remove(tx, region.Indices, base, uint64(e.Offset)); err != nil {
			return err
		}
	}
	if _, err := g.Index.Buckets().Remove(tx, region.Meta, g.globalEdgeListBase(), uint64(e.Offset)); err != nil {
		return err
	}
	return g.edges.Free(tx, e.Offset)
}

// RemoveNode removes every incident edge, then clears n's indices,
// property list, and record, per spec.md's "removing an endpoint node
// removes all incident edges atomically."
func (g *Graph) RemoveNode(tx *journal.Tx, n Node) error {
	for {
		head, err := n.outEdgesHead(tx)
		if err != nil {
			return err
		}
		if head == 0 {
			break
		}
		if err := g.RemoveEdge(tx, Edge{Offset: head}); err != nil {
			return err
		}
	}
	for {
		head, err := n.inEdgesHead(tx)
		if err != nil {
			return err
		}
		if head == 0 {
			break
		}
		if err := g.RemoveEdge(tx, Edge{Offset: head}); err != nil {
			return err
		}
	}
	if err := g.clearProperties(tx, n.Offset, index.KindNode); err != nil {
		return err
	}
	tag, err := n.Tag(tx)
	if err != nil {
		return err
	}
	if base, ok := g.Index.ExistingGlobalList(index.KindNode, tag); ok {
		if _, err := g.Index.Buckets().Remove(tx, region.Indices, base, uint64(n.Offset)); err != nil {
			return err
		}
	}
	if _, err := g.Index.Buckets().Remove(tx, region.Meta, g.globalNodeListBase(), uint64(n.Offset)); err != nil {
		return err
	}
	return g.nodes.Free(tx, n.Offset)
}

// clearProperties removes every property cell an owner carries, routing
// each through proplist.Table.Remove so index listeners fire exactly as
// they would for an explicit Remove call.
func (g *Graph) clearProperties(tx *journal.Tx, owner region.Offset, kind index.ObjectKind) error {
	var headField region.Offset
	var headRegion region.Name
	if kind == index.KindNode {
		headRegion, headField = region.Nodes, owner+nodeOffProps
	} else {
		headRegion, headField = region.Edges, owner+edgeOffProps
	}
	head, err := readOffsetAt(tx, headRegion, headField)
	if err != nil {
		return err
	}
	cells, err := g.Props.Iterate(tx, head)
	if err != nil {
		return err
	}
	for _, c := range cells {
		if err := g.Props.Remove(tx, headRegion, headField, owner, c.Key); err != nil {
			return err
		}
	}
	return nil
}

