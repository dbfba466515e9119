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

// Package testutil provides small fixtures shared by this module's test
// suites: a temp-directory-backed graph region and a scaled-down config so
// tests don't map the full default 100 MiB per region.
package testutil

import (
	"testing"

	"github.com/c2h5oh/datasize"
	"github.com/stretchr/testify/require"

	"github.com/pmgraph/pmgraph/pgconfig"
	"github.com/pmgraph/pmgraph/pgraph"
	"github.com/pmgraph/pmgraph/region"
)

// SmallConfig returns a config sized for fast test mapping.
func SmallConfig() pgconfig.Config {
	cfg := pgconfig.Default()
	cfg.DefaultRegionSize = 1 * datasize.MB
	cfg.AllocatorRegionSize = 1 * datasize.MB
	cfg.NumAllocators = 2
	cfg.PageSize = 64 * datasize.KB
	cfg.MaxStringID = 1024
	cfg.MaxInternedStringLen = 16
	return cfg
}

// OpenTempMap creates a fresh graph directory under tb's temp dir and maps
// it ReadWrite with SmallConfig, registering cleanup to close it.
func OpenTempMap(tb testing.TB) (*region.Map, pgconfig.Config) {
	tb.Helper()
	cfg := SmallConfig()
	dir := tb.TempDir()
	m, err := region.Open(dir, region.Create, cfg, nil)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = m.Close() })
	return m, cfg
}

// OpenTempGraph opens a fresh pgraph.Graph under tb's temp dir with
// SmallConfig, registering cleanup to close it, for pgraph/traverse/stats
// test suites that need the whole stack wired together rather than one
// region in isolation.
func OpenTempGraph(tb testing.TB) (*pgraph.Graph, pgconfig.Config) {
	tb.Helper()
	cfg := SmallConfig()
	dir := tb.TempDir()
	g, err := pgraph.Open(dir, region.Create, cfg, nil)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = g.Close() })
	return g, cfg
}
