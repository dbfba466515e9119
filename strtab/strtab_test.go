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

package strtab_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pmgraph/pmgraph/internal/testutil"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/strtab"
)

func TestInternAssignsStableID(t *testing.T) {
	m, _ := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	tbl, err := strtab.Open(m)
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	id1, err := tbl.Intern(tx, []byte("person"))
	require.NoError(t, err)
	id2, err := tbl.Intern(tx, []byte("person"))
	require.NoError(t, err)
	require.Equal(t, id1, id2)
	require.NotEqual(t, strtab.Wildcard, id1)
	require.NoError(t, tx.Commit(true))

	tx, err = mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	name, err := tbl.Name(tx, id1)
	require.NoError(t, err)
	require.Equal(t, "person", name)
	require.NoError(t, tx.Commit(true))
}

func TestInternDistinctStringsGetDistinctIDs(t *testing.T) {
	m, _ := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	tbl, err := strtab.Open(m)
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadWrite, nil)
	require.NoError(t, err)
	a, err := tbl.Intern(tx, []byte("person"))
	require.NoError(t, err)
	b, err := tbl.Intern(tx, []byte("company"))
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.NoError(t, tx.Commit(true))
}

func TestInternUnknownStringInReadOnlyFails(t *testing.T) {
	m, _ := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	tbl, err := strtab.Open(m)
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	_, err = tbl.Intern(tx, []byte("ghost"))
	require.True(t, pgerr.Is(err, pgerr.ReadOnly))
	require.NoError(t, tx.Commit(true))
}

func TestLookupMissingReturnsFalse(t *testing.T) {
	m, _ := testutil.OpenTempMap(t)
	mgr, err := journal.Open(m, nil)
	require.NoError(t, err)
	tbl, err := strtab.Open(m)
	require.NoError(t, err)

	tx, err := mgr.Begin(journal.KindReadOnly, nil)
	require.NoError(t, err)
	_, ok, err := tbl.Lookup(tx, []byte("nope"))
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, tx.Commit(true))
}
