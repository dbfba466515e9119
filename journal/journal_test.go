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

package journal_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmgraph/pmgraph/internal/testutil"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/region"
)

func TestCommitPersistsWrite(t *testing.T) {
	m, _ := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	require.NoError(t, tx.PutUint64(region.Nodes, 64, 0xdeadbeef))
	require.NoError(t, tx.Commit(true))

	buf := m.Region(region.Nodes).Bytes()
	require.Equal(t, byte(0xef), buf[64])
}

func TestAbortRestoresPreimage(t *testing.T) {
	m, _ := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)

	buf := m.Region(region.Nodes).Bytes()
	before := make([]byte, 8)
	copy(before, buf[128:136])

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	require.NoError(t, tx.PutUint64(region.Nodes, 128, 0x1122334455667788))
	require.NoError(t, tx.Abort())

	after := m.Region(region.Nodes).Bytes()[128:136]
	require.Equal(t, before, after)
}

func TestReadOnlyWriteFails(t *testing.T) {
	m, _ := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	err = tx.PutUint64(region.Nodes, 0, 1)
	require.True(t, pgerr.Is(err, pgerr.ReadOnly))
	require.NoError(t, tx.Commit(true))
}

func TestNestedReadWriteFails(t *testing.T) {
	m, _ := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)

	outer, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	defer outer.Abort()

	_, err = mgr.Begin(journal.KindReadWrite, outer)
	require.True(t, pgerr.Is(err, pgerr.NotImplemented))
}

func TestWriteOutsideTransactionFails(t *testing.T) {
	var tx *journal.Tx
	err := tx.PutUint64(region.Nodes, 0, 1)
	require.True(t, pgerr.Is(err, pgerr.NoCurrentTransaction))
}
