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
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/region"
)

// Gather drives a Predicate through t, returning every member offset the
// predicate selects: Eq resolves to a single bucket lookup, Ne walks the
// whole tree skipping the excluded bucket, and DontCare/the range operators
// fall out of the same bounded in-order traversal (DontCare's bounds are
// simply both unset). This is the index-driven tier of C6's get_nodes/
// get_edges dispatch; the graph layer only reaches here once it has
// confirmed an index exists for the predicate's key.
func (t *Tree) Gather(tx *journal.Tx, rootField region.Offset, p Predicate, reverse bool) ([]uint64, error) {
	if p.Op == Eq {
		bucketBase, found, err := t.FindBucket(tx, rootField, p.Operand1)
		if err != nil || !found {
			return nil, err
		}
		return t.buckets.Iterate(tx, region.TreeNodes, bucketBase)
	}

	lower, lowerExcl, lowerOK := p.lowerBound()
	upper, upperExcl, upperOK := p.upperBound()
	entries, err := t.InOrder(tx, rootField, lower, lowerExcl, lowerOK, upper, upperExcl, upperOK, reverse)
	if err != nil {
		return nil, err
	}

	var out []uint64
	for _, e := range entries {
		if p.Op == Ne && proplist.Compare(e.Key, p.Operand1) == 0 {
			continue
		}
		vs, err := t.buckets.Iterate(tx, region.TreeNodes, e.BucketBase)
		if err != nil {
			return nil, err
		}
		out = append(out, vs...)
	}
	return out, nil
}
