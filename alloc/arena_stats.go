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

package alloc

// ShardStats reports one arena shard's bump-allocation occupancy. Unlike
// FixedPool, an arena shard has no single object size or health factor:
// sizeClass freelist entries and overflow entries are only ever reused,
// never counted as "tombstoned," so occupancy is the only figure that
// means anything across the whole shard.
type ShardStats struct {
	ShardIndex int
	ShardSize  uint64
	BumpBytes  uint64
	Occupancy  float64
}

// Stats reports occupancy for every shard, for C11's allocator-health
// reporting of the variable-size allocator family.
func (a *Arena) Stats() []ShardStats {
	out := make([]ShardStats, len(a.shards))
	for i, sh := range a.shards {
		var occ float64
		capacity := sh.size - shardHeaderSize
		if capacity > 0 {
			occ = 100 * float64(sh.bump) / float64(capacity)
		}
		out[i] = ShardStats{
			ShardIndex: i,
			ShardSize:  sh.size,
			BumpBytes:  sh.bump,
			Occupancy:  occ,
		}
	}
	return out
}
