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

// Package index implements C7: the AVL-tree property index keyed by a
// typed value, the per-tag global chunk list, and the predicate dispatch
// that drives range/equality lookups through whichever of the two is
// available for a given query.
package index

import (
	"github.com/pmgraph/pmgraph/proplist"
	"github.com/pmgraph/pmgraph/strtab"
)

// ObjectKind distinguishes a Node-side index/chunk-list from an Edge-side
// one; both kinds share the same AVL/chunk-list machinery.
type ObjectKind uint8

const (
	KindNode ObjectKind = iota
	KindEdge
)

// Op enumerates the predicate operators named in spec.md §6.
type Op uint8

const (
	DontCare Op = iota
	Eq
	Ne
	Lt
	Le
	Gt
	Ge
	GeLe
	GeLt
	GtLe
	GtLt
)

// Predicate is the pair (key, op, operand1[, operand2]) spec.md §6 names
// as the property-predicate expression. Operand2 is only meaningful for
// the four two-bound operators.
type Predicate struct {
	Key      strtab.ID
	Op       Op
	Operand1 proplist.Value
	Operand2 proplist.Value
}

// EqP builds an Eq(key, v) predicate, the common case.
func EqP(key strtab.ID, v proplist.Value) Predicate { return Predicate{Key: key, Op: Eq, Operand1: v} }

// isRangeOp reports whether p needs an in-order bounded traversal rather
// than a single bucket lookup or full scan.
func (p Predicate) isRangeOp() bool {
	switch p.Op {
	case Lt, Le, Gt, Ge, GeLe, GeLt, GtLe, GtLt:
		return true
	default:
		return false
	}
}

// lowerBound/upperBound return the operand (and its exclusivity) that
// bounds traversal from below/above, or ok=false if unbounded on that
// side.
func (p Predicate) lowerBound() (v proplist.Value, exclusive, ok bool) {
	switch p.Op {
	case Gt, GtLe, GtLt:
		return p.Operand1, true, true
	case Ge, GeLe, GeLt:
		return p.Operand1, false, true
	default:
		return proplist.Value{}, false, false
	}
}

func (p Predicate) upperBound() (v proplist.Value, exclusive, ok bool) {
	switch p.Op {
	case Lt:
		return p.Operand1, true, true
	case Le:
		return p.Operand1, false, true
	case GeLt, GtLt:
		return p.Operand2, true, true
	case GeLe, GtLe:
		return p.Operand2, false, true
	default:
		return proplist.Value{}, false, false
	}
}

// matches evaluates p against v directly (used for the tag-chunk-list
// fallback path, which filters in-stream rather than through a tree).
func (p Predicate) matches(v proplist.Value) bool {
	switch p.Op {
	case DontCare:
		return true
	case Eq:
		return proplist.Compare(v, p.Operand1) == 0
	case Ne:
		return proplist.Compare(v, p.Operand1) != 0
	case Lt:
		return proplist.Compare(v, p.Operand1) < 0
	case Le:
		return proplist.Compare(v, p.Operand1) <= 0
	case Gt:
		return proplist.Compare(v, p.Operand1) > 0
	case Ge:
		return proplist.Compare(v, p.Operand1) >= 0
	case GeLe:
		return proplist.Compare(v, p.Operand1) >= 0 && proplist.Compare(v, p.Operand2) <= 0
	case GeLt:
		return proplist.Compare(v, p.Operand1) >= 0 && proplist.Compare(v, p.Operand2) < 0
	case GtLe:
		return proplist.Compare(v, p.Operand1) > 0 && proplist.Compare(v, p.Operand2) <= 0
	case GtLt:
		return proplist.Compare(v, p.Operand1) > 0 && proplist.Compare(v, p.Operand2) < 0
	default:
		return false
	}
}

// Matches reports whether v satisfies p; exported for callers (C6) doing
// the filtered-chunk-list fallback when no index exists.
func (p Predicate) Matches(v proplist.Value) bool { return p.matches(v) }
