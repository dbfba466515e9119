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

package stats_test

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"github.com/pmgraph/pmgraph/index"
	"github.com/pmgraph/pmgraph/internal/testutil"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/stats"
)

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func TestCollectorDescribeEmitsAllDescriptors(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)
	c := stats.NewCollector(g)

	ch := make(chan *prometheus.Desc, 16)
	c.Describe(ch)
	close(ch)

	var descs []*prometheus.Desc
	for d := range ch {
		descs = append(descs, d)
	}
	require.Len(t, descs, 9)
}

func TestCollectorCollectReportsPoolAndIndexStats(t *testing.T) {
	g, _ := testutil.OpenTempGraph(t)

	tx, err := g.Txns.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	tag, err := g.Strings.Intern(tx, []byte("person"))
	require.NoError(t, err)
	nameKey, err := g.Strings.Intern(tx, []byte("name"))
	require.NoError(t, err)
	require.NoError(t, g.CreateIndex(tx, index.KindNode, tag, nameKey, proplist.String))

	alice, err := g.AddNode(tx, tag)
	require.NoError(t, err)
	require.NoError(t, g.SetProperty(tx, alice, nameKey, proplist.StringValue("alice")))
	_, err = g.AddNode(tx, tag)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(true))

	c := stats.NewCollector(g)
	ch := make(chan prometheus.Metric, 256)
	c.Collect(ch)
	close(ch)

	var (
		sawNodePoolNumObjects bool
		sawIndexNodeCount     bool
		indexCountValue       float64
	)
	for m := range ch {
		var mm dto.Metric
		require.NoError(t, m.Write(&mm))
		desc := m.Desc().String()
		switch {
		case strings.Contains(desc, "pmgraph_pool_num_objects") && hasLabel(&mm, "pool", "nodes"):
			sawNodePoolNumObjects = true
			require.Equal(t, float64(2), mm.GetGauge().GetValue())
		case strings.Contains(desc, "pmgraph_index_node_count"):
			sawIndexNodeCount = true
			indexCountValue = mm.GetGauge().GetValue()
		}
	}
	require.True(t, sawNodePoolNumObjects, "expected a nodes pool num_objects gauge")
	require.True(t, sawIndexNodeCount, "expected an index node_count gauge")
	require.Equal(t, float64(1), indexCountValue)
}
