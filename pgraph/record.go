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

// Package pgraph implements C6: Node/Edge records, adjacency lists, and
// the Graph handle that ties together the region, journal, allocators,
// string table, property lists, and indexing subsystem into the public
// surface the rest of a host program calls.
package pgraph

import (
	"encoding/binary"

	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/region"
	"github.com/pmgraph/pmgraph/strtab"
)

// Node record layout: tag (4) + pad (4) + properties (8) + out_edges_head
// (8) + in_edges_head (8).
const (
	nodeOffTag      region.Offset = 0
	nodeOffProps    region.Offset = 8
	nodeOffOutEdges region.Offset = 16
	nodeOffInEdges  region.Offset = 24
	nodeRecordSize                = 32
)

// Edge record layout: tag (4) + pad (4) + source (8) + destination (8) +
// properties (8), then the two doubly-linked adjacency chains the edge
// participates in: the source's out-edge chain and the destination's
// in-edge chain. Keeping separate prev/next pairs per chain lets removal
// splice an edge out in O(1) without walking either adjacency list.
const (
	edgeOffTag      region.Offset = 0
	edgeOffSource   region.Offset = 8
	edgeOffDest     region.Offset = 16
	edgeOffProps    region.Offset = 24
	edgeOffSrcPrev  region.Offset = 32
	edgeOffSrcNext  region.Offset = 40
	edgeOffDstPrev  region.Offset = 48
	edgeOffDstNext  region.Offset = 56
	edgeRecordSize                = 64
)

// Node is a handle to a node record; offset is the record's position in
// region.Nodes, the same value get_id() derives a stable integer from.
type Node struct{ Offset region.Offset }

// Edge is a handle to an edge record in region.Edges.
type Edge struct{ Offset region.Offset }

func readOffsetAt(tx *journal.Tx, name region.Name, off region.Offset) (region.Offset, error) {
	buf, err := tx.Read(name, off, 8)
	if err != nil {
		return 0, err
	}
	return region.Offset(binary.LittleEndian.Uint64(buf)), nil
}

func writeOffsetAt(tx *journal.Tx, name region.Name, off, v region.Offset) error {
	return tx.PutUint64(name, off, uint64(v))
}

// Tag returns n's immutable tag.
func (n Node) Tag(tx *journal.Tx) (strtab.ID, error) {
	buf, err := tx.Read(region.Nodes, n.Offset+nodeOffTag, 4)
	if err != nil {
		return 0, err
	}
	return strtab.ID(binary.LittleEndian.Uint32(buf)), nil
}

func (n Node) propsHead(tx *journal.Tx) (region.Offset, error) {
	return readOffsetAt(tx, region.Nodes, n.Offset+nodeOffProps)
}

func (n Node) outEdgesHead(tx *journal.Tx) (region.Offset, error) {
	return readOffsetAt(tx, region.Nodes, n.Offset+nodeOffOutEdges)
}

func (n Node) inEdgesHead(tx *journal.Tx) (region.Offset, error) {
	return readOffsetAt(tx, region.Nodes, n.Offset+nodeOffInEdges)
}

// Tag returns e's immutable tag.
func (e Edge) Tag(tx *journal.Tx) (strtab.ID, error) {
	buf, err := tx.Read(region.Edges, e.Offset+edgeOffTag, 4)
	if err != nil {
		return 0, err
	}
	return strtab.ID(binary.LittleEndian.Uint32(buf)), nil
}

// Source and Destination return the endpoint node handles.
func (e Edge) Source(tx *journal.Tx) (Node, error) {
	off, err := readOffsetAt(tx, region.Edges, e.Offset+edgeOffSource)
	return Node{Offset: off}, err
}

func (e Edge) Destination(tx *journal.Tx) (Node, error) {
	off, err := readOffsetAt(tx, region.Edges, e.Offset+edgeOffDest)
	return Node{Offset: off}, err
}

func (e Edge) propsHead(tx *journal.Tx) (region.Offset, error) {
	return readOffsetAt(tx, region.Edges, e.Offset+edgeOffProps)
}
