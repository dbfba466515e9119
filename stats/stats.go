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

// Package stats implements C11: read-only occupancy and health reporting
// for every allocator pool and property index in a graph, exported as a
// prometheus.Collector so a host process can register it on its own
// metrics registry alongside whatever else it collects.
package stats

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/index"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgraph"
)

var (
	poolObjectSize = prometheus.NewDesc(
		"pmgraph_pool_object_size_bytes", "Fixed object size of an allocator pool.",
		[]string{"pool"}, nil)
	poolNumObjects = prometheus.NewDesc(
		"pmgraph_pool_num_objects", "Live object count in an allocator pool.",
		[]string{"pool"}, nil)
	poolAllocatedBytes = prometheus.NewDesc(
		"pmgraph_pool_allocated_bytes_total", "Bytes bump-allocated so far in a pool.",
		[]string{"pool"}, nil)
	poolOccupancy = prometheus.NewDesc(
		"pmgraph_pool_occupancy_percent", "Percentage of a pool's region already bump-allocated.",
		[]string{"pool"}, nil)
	poolHealth = prometheus.NewDesc(
		"pmgraph_pool_health_factor_percent", "Percentage of a pool's allocated slots that are still live.",
		[]string{"pool"}, nil)

	arenaOccupancy = prometheus.NewDesc(
		"pmgraph_arena_shard_occupancy_percent", "Percentage of an arena shard already bump-allocated.",
		[]string{"shard"}, nil)
	arenaBumpBytes = prometheus.NewDesc(
		"pmgraph_arena_shard_allocated_bytes_total", "Bytes bump-allocated so far in an arena shard.",
		[]string{"shard"}, nil)

	indexNodeCount = prometheus.NewDesc(
		"pmgraph_index_node_count", "Number of distinct keyed buckets in a property index.",
		[]string{"kind", "tag", "key"}, nil)
	indexHeight = prometheus.NewDesc(
		"pmgraph_index_height", "Height of a property index's AVL tree.",
		[]string{"kind", "tag", "key"}, nil)
)

// Collector adapts a *pgraph.Graph's allocator and index statistics to
// prometheus.Collector. It never mutates graph state: Collect opens its
// own short-lived read-only transaction purely to walk index trees for
// their node counts and heights.
type Collector struct {
	g *pgraph.Graph
}

// NewCollector wraps g for Prometheus registration.
func NewCollector(g *pgraph.Graph) *Collector { return &Collector{g: g} }

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- poolObjectSize
	ch <- poolNumObjects
	ch <- poolAllocatedBytes
	ch <- poolOccupancy
	ch <- poolHealth
	ch <- arenaOccupancy
	ch <- arenaBumpBytes
	ch <- indexNodeCount
	ch <- indexHeight
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.collectPool(ch, "nodes", c.g.NodePoolStats())
	c.collectPool(ch, "edges", c.g.EdgePoolStats())
	c.collectPool(ch, "properties", c.g.PropertyPoolStats())
	c.collectPool(ch, "buckets", c.g.BucketPoolStats())
	c.collectPool(ch, "tree_nodes", c.g.TreeNodePoolStats())

	for _, s := range c.g.ArenaStats() {
		shard := strconv.Itoa(s.ShardIndex)
		ch <- prometheus.MustNewConstMetric(arenaOccupancy, prometheus.GaugeValue, s.Occupancy, shard)
		ch <- prometheus.MustNewConstMetric(arenaBumpBytes, prometheus.GaugeValue, float64(s.BumpBytes), shard)
	}

	tx, err := c.g.Txns.Begin(journal.KindReadOnly, nil)
	if err != nil {
		return
	}
	defer tx.Commit(true)

	idxStats, err := c.g.IndexStats(tx)
	if err != nil {
		return
	}
	for _, s := range idxStats {
		kind := "node"
		if s.Kind == index.KindEdge {
			kind = "edge"
		}
		tag := strconv.FormatUint(uint64(s.Tag), 10)
		key := strconv.FormatUint(uint64(s.Key), 10)
		ch <- prometheus.MustNewConstMetric(indexNodeCount, prometheus.GaugeValue, float64(s.Count), kind, tag, key)
		ch <- prometheus.MustNewConstMetric(indexHeight, prometheus.GaugeValue, float64(s.Height), kind, tag, key)
	}
}

func (c *Collector) collectPool(ch chan<- prometheus.Metric, name string, s alloc.Stats) {
	ch <- prometheus.MustNewConstMetric(poolObjectSize, prometheus.GaugeValue, float64(s.ObjectSize), name)
	ch <- prometheus.MustNewConstMetric(poolNumObjects, prometheus.GaugeValue, float64(s.NumObjects), name)
	ch <- prometheus.MustNewConstMetric(poolAllocatedBytes, prometheus.GaugeValue, float64(s.TotalAllocatedBytes), name)
	ch <- prometheus.MustNewConstMetric(poolOccupancy, prometheus.GaugeValue, s.Occupancy, name)
	ch <- prometheus.MustNewConstMetric(poolHealth, prometheus.GaugeValue, s.HealthFactor, name)
}
