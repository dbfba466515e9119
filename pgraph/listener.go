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
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/region"
	"github.com/pmgraph/pmgraph/strtab"
)

// indexListener implements proplist.Listener, keeping every property index
// that matches an owner's (kind, tag) in sync with Set/Remove as a single
// logical step, per spec.md §4.C5's "the two ops are a single logical step
// so the index is never inconsistent with the list."
type indexListener struct {
	kind     index.ObjectKind
	mgr      *index.Manager
	tagOf    func(tx *journal.Tx, owner region.Offset) (strtab.ID, error)
	pageSize uint64
}

func (l *indexListener) OnPropertySet(tx *journal.Tx, owner region.Offset, key strtab.ID, old, new *proplist.Value) error {
	tag, err := l.tagOf(tx, owner)
	if err != nil {
		return err
	}
	if old != nil {
		if err := l.removeFromIndex(tx, owner, tag, key, *old); err != nil {
			return err
		}
	}
	if new != nil {
		if err := l.addToIndex(tx, owner, tag, key, *new); err != nil {
			return err
		}
	}
	return nil
}

func (l *indexListener) OnPropertyRemove(tx *journal.Tx, owner region.Offset, key strtab.ID, old proplist.Value) error {
	tag, err := l.tagOf(tx, owner)
	if err != nil {
		return err
	}
	return l.removeFromIndex(tx, owner, tag, key, old)
}

func (l *indexListener) addToIndex(tx *journal.Tx, owner region.Offset, tag, key strtab.ID, v proplist.Value) error {
	tree, rootField, ok := l.mgr.Tree(l.kind, tag, key)
	if !ok {
		return nil
	}
	bucketBase, err := tree.InsertKey(tx, rootField, v, l.pageSize)
	if err != nil {
		return err
	}
	return l.mgr.Buckets().Insert(tx, region.TreeNodes, bucketBase, uint64(owner), l.pageSize)
}

func (l *indexListener) removeFromIndex(tx *journal.Tx, owner region.Offset, tag, key strtab.ID, v proplist.Value) error {
	tree, rootField, ok := l.mgr.Tree(l.kind, tag, key)
	if !ok {
		return nil
	}
	bucketBase, found, err := tree.FindBucket(tx, rootField, v)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	if _, err := l.mgr.Buckets().Remove(tx, region.TreeNodes, bucketBase, uint64(owner)); err != nil {
		return err
	}
	empty, err := l.mgr.Buckets().IsEmpty(tx, region.TreeNodes, bucketBase)
	if err != nil {
		return err
	}
	if empty {
		return tree.RemoveNode(tx, rootField, v)
	}
	return nil
}
