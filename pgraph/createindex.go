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
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/region"
	"github.com/pmgraph/pmgraph/strtab"
)

// CreateIndex installs a property index over (kind, tag, key), failing
// IndexExists if one already exists and TypeMismatch if any live object of
// that tag already carries a differently-typed value under key (spec.md
// §4.C7). Objects already carrying a correctly typed value are backfilled
// into the new tree so the index reflects pre-existing data immediately.
func (g *Graph) CreateIndex(tx *journal.Tx, kind index.ObjectKind, tag strtab.ID, key strtab.ID, propType proplist.Kind) error {
	if g.Index.HasIndex(kind, tag, key) {
		return pgerr.Newf(pgerr.IndexExists, "index already exists for tag=%d key=%d", tag, key)
	}

	members, err := g.tagMembers(tx, kind, tag)
	if err != nil {
		return err
	}

	type backfillEntry struct {
		owner region.Offset
		value proplist.Value
	}
	var toIndex []backfillEntry
	for _, owner := range members {
		head, err := g.propsHeadOf(tx, kind, owner)
		if err != nil {
			return err
		}
		v, ok, err := g.Props.Check(tx, head, key)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if v.Kind != propType {
			return pgerr.Newf(pgerr.TypeMismatch, "object %d already has a %d-typed value under key %d", owner, v.Kind, key)
		}
		toIndex = append(toIndex, backfillEntry{owner: owner, value: v})
	}

	if err := g.Index.CreateIndex(tx, kind, tag, key, propType); err != nil {
		return err
	}
	tree, rootField, ok := g.Index.Tree(kind, tag, key)
	if !ok {
		return pgerr.New(pgerr.Unknown, "index vanished immediately after creation")
	}
	for _, e := range toIndex {
		bucketBase, err := tree.InsertKey(tx, rootField, e.value, g.pageSize)
		if err != nil {
			return err
		}
		if err := g.Index.Buckets().Insert(tx, region.TreeNodes, bucketBase, uint64(e.owner), g.pageSize); err != nil {
			return err
		}
	}
	return nil
}

// tagMembers returns every live object offset of (kind, tag), via the tag
// chunk list when one already exists, else the global object list
// filtered by tag.
func (g *Graph) tagMembers(tx *journal.Tx, kind index.ObjectKind, tag strtab.ID) ([]region.Offset, error) {
	if base, ok := g.Index.ExistingGlobalList(kind, tag); ok {
		raw, err := g.Index.Buckets().Iterate(tx, region.Indices, base)
		if err != nil {
			return nil, err
		}
		out := make([]region.Offset, len(raw))
		for i, v := range raw {
			out[i] = region.Offset(v)
		}
		return out, nil
	}

	var globalBase region.Offset
	var globalRegion region.Name = region.Meta
	if kind == index.KindNode {
		globalBase = g.globalNodeListBase()
	} else {
		globalBase = g.globalEdgeListBase()
	}
	raw, err := g.Index.Buckets().Iterate(tx, globalRegion, globalBase)
	if err != nil {
		return nil, err
	}
	var out []region.Offset
	for _, v := range raw {
		owner := region.Offset(v)
		var t strtab.ID
		if kind == index.KindNode {
			t, err = Node{Offset: owner}.Tag(tx)
		} else {
			t, err = Edge{Offset: owner}.Tag(tx)
		}
		if err != nil {
			return nil, err
		}
		if t == tag {
			out = append(out, owner)
		}
	}
	return out, nil
}

func (g *Graph) propsHeadOf(tx *journal.Tx, kind index.ObjectKind, owner region.Offset) (region.Offset, error) {
	if kind == index.KindNode {
		return Node{Offset: owner}.propsHead(tx)
	}
	return Edge{Offset: owner}.propsHead(tx)
}
