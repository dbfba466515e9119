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
	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/strtab"
)

// IndexStat reports one property index's shape: how many distinct keyed
// buckets it holds and how tall the tree is, the figures C11's per-index
// health reporting exports.
type IndexStat struct {
	Kind   ObjectKind
	Tag    strtab.ID
	Key    strtab.ID
	Count  int
	Height int
}

// Stats walks every live property index (skipping the directory's global
// per-tag list entries, which carry no tree) and reports its shape. The
// caller supplies tx, normally a read-only transaction held just for the
// duration of a stats scrape.
func (mgr *Manager) Stats(tx *journal.Tx) ([]IndexStat, error) {
	var out []IndexStat
	for k, e := range mgr.dir {
		if k.Key == strtab.Wildcard {
			continue
		}
		tree := newTree(mgr.nodes, mgr.buckets, mgr.arena, e.PropType)
		count, height, err := tree.Stats(tx, e.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, IndexStat{Kind: k.Kind, Tag: k.Tag, Key: k.Key, Count: count, Height: height})
	}
	return out, nil
}

// TreeNodePoolStats reports occupancy of the shared AVL-node pool every
// property index draws from.
func (mgr *Manager) TreeNodePoolStats(regionSize uint64) alloc.Stats { return mgr.nodes.Stats(regionSize) }
