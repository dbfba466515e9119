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

// Package iter implements the lazy single-pass iterator/filter framework
// (spec.md §4.C8) shared by node, edge, property, and path sequences. A
// Seq is a pull closure in the shape of Go's iter.Seq, generalised to
// return an error alongside each element so a region read failure surfaces
// at the call site instead of panicking mid-traversal.
package iter

import "github.com/pmgraph/pmgraph/pgerr"

// Seq is a lazy single-pass sequence of T. Calling it again after it has
// returned ok=false is undefined; concrete sources return false forever
// once exhausted.
type Seq[T any] func() (value T, ok bool, err error)

// Decision is what a filter predicate returns for one element.
type Decision int

const (
	// Pass keeps the element and continues.
	Pass Decision = iota
	// DontPass drops the element and continues.
	DontPass
	// PassStop keeps the element and ends the sequence after it.
	PassStop
	// DontPassStop drops the element and ends the sequence immediately.
	DontPassStop
)

// Filter wraps s so only elements the predicate Pass/PassStop survive,
// stopping early on PassStop/DontPassStop. Never changes delivery order.
func Filter[T any](s Seq[T], pred func(T) (Decision, error)) Seq[T] {
	done := false
	return func() (T, bool, error) {
		var zero T
		if done {
			return zero, false, nil
		}
		for {
			v, ok, err := s()
			if err != nil {
				done = true
				return zero, false, err
			}
			if !ok {
				done = true
				return zero, false, nil
			}
			decision, err := pred(v)
			if err != nil {
				done = true
				return zero, false, err
			}
			switch decision {
			case Pass:
				return v, true, nil
			case PassStop:
				done = true
				return v, true, nil
			case DontPassStop:
				done = true
				return zero, false, nil
			case DontPass:
				continue
			}
		}
	}
}

// Process consumes s, invoking fn for every element, stopping at the first
// error from either s or fn.
func Process[T any](s Seq[T], fn func(T) error) error {
	for {
		v, ok, err := s()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if err := fn(v); err != nil {
			return err
		}
	}
}

// Collect drains s into a slice; mainly for tests and small result sets,
// since the point of Seq is to avoid materialising large ones.
func Collect[T any](s Seq[T]) ([]T, error) {
	var out []T
	err := Process(s, func(v T) error {
		out = append(out, v)
		return nil
	})
	return out, err
}

// FromSlice adapts an already-materialised slice (e.g. a ChunkList bucket
// walk, or a tree's in-order result) into a Seq.
func FromSlice[T any](items []T) Seq[T] {
	i := 0
	return func() (T, bool, error) {
		var zero T
		if i >= len(items) {
			return zero, false, nil
		}
		v := items[i]
		i++
		return v, true, nil
	}
}

// Empty is a Seq that yields nothing.
func Empty[T any]() Seq[T] {
	return func() (T, bool, error) {
		var zero T
		return zero, false, nil
	}
}

// CheckLive wraps a per-element liveness check into a predicate: any
// element failing it aborts the sequence with VacantIterator rather than
// silently skipping, matching spec.md's "a reference dereferenced after
// its underlying object has been removed fails with VacantIterator."
func CheckLive[T any](isLive func(T) (bool, error)) func(T) (Decision, error) {
	return func(v T) (Decision, error) {
		live, err := isLive(v)
		if err != nil {
			return DontPassStop, err
		}
		if !live {
			return DontPassStop, pgerr.New(pgerr.VacantIterator, "element no longer live")
		}
		return Pass, nil
	}
}
