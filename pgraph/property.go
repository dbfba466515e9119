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
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/region"
	"github.com/pmgraph/pmgraph/strtab"
)

// SetProperty sets (or overwrites) n's value under key, keeping every
// matching index in sync through proplist's listener hook (spec.md
// §4.C5/C7's "the two ops are a single logical step").
func (g *Graph) SetProperty(tx *journal.Tx, n Node, key strtab.ID, v proplist.Value) error {
	return g.Props.Set(tx, region.Nodes, n.Offset+nodeOffProps, n.Offset, key, v)
}

// GetProperty returns n's value under key, with ok=false if n carries no
// such property.
func (g *Graph) GetProperty(tx *journal.Tx, n Node, key strtab.ID) (proplist.Value, bool, error) {
	head, err := n.propsHead(tx)
	if err != nil {
		return proplist.Value{}, false, err
	}
	return g.Props.Check(tx, head, key)
}

// RemoveProperty removes n's value under key, failing with
// PropertyNotFound if none is set.
func (g *Graph) RemoveProperty(tx *journal.Tx, n Node, key strtab.ID) error {
	return g.Props.Remove(tx, region.Nodes, n.Offset+nodeOffProps, n.Offset, key)
}

// SetEdgeProperty is the edge-side equivalent of SetProperty.
func (g *Graph) SetEdgeProperty(tx *journal.Tx, e Edge, key strtab.ID, v proplist.Value) error {
	return g.Props.Set(tx, region.Edges, e.Offset+edgeOffProps, e.Offset, key, v)
}

// GetEdgeProperty is the edge-side equivalent of GetProperty.
func (g *Graph) GetEdgeProperty(tx *journal.Tx, e Edge, key strtab.ID) (proplist.Value, bool, error) {
	head, err := e.propsHead(tx)
	if err != nil {
		return proplist.Value{}, false, err
	}
	return g.Props.Check(tx, head, key)
}

// RemoveEdgeProperty is the edge-side equivalent of RemoveProperty.
func (g *Graph) RemoveEdgeProperty(tx *journal.Tx, e Edge, key strtab.ID) error {
	return g.Props.Remove(tx, region.Edges, e.Offset+edgeOffProps, e.Offset, key)
}
