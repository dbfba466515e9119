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
	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/index"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/region"
)

// The *PoolStats/ArenaStats/IndexStats accessors below are read-only and
// never take a write lock themselves; they exist so the stats package can
// report C11's figures without reaching into pgraph's unexported fields.

// NodePoolStats reports occupancy of the node object pool.
func (g *Graph) NodePoolStats() alloc.Stats { return g.nodes.Stats(g.m.Region(region.Nodes).Size()) }

// EdgePoolStats reports occupancy of the edge object pool.
func (g *Graph) EdgePoolStats() alloc.Stats { return g.edges.Stats(g.m.Region(region.Edges).Size()) }

// PropertyPoolStats reports occupancy of the property-chunk pool.
func (g *Graph) PropertyPoolStats() alloc.Stats { return g.Props.Stats(g.m.Region(region.Props).Size()) }

// BucketPoolStats reports occupancy of the shared chunk-list bucket pool.
func (g *Graph) BucketPoolStats() alloc.Stats {
	return g.Index.Buckets().Stats(g.m.Region(region.Buckets).Size())
}

// TreeNodePoolStats reports occupancy of the shared AVL-tree-node pool.
func (g *Graph) TreeNodePoolStats() alloc.Stats {
	return g.Index.TreeNodePoolStats(g.m.Region(region.TreeNodes).Size())
}

// ArenaStats reports per-shard occupancy of the variable-size allocator
// backing interned strings, external property values, and overflow blobs.
func (g *Graph) ArenaStats() []alloc.ShardStats { return g.arena.Stats() }

// IndexStats reports the shape (bucket count, tree height) of every
// property index currently installed.
func (g *Graph) IndexStats(tx *journal.Tx) ([]index.IndexStat, error) { return g.Index.Stats(tx) }
