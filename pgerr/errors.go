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

// Package pgerr defines the closed set of error kinds the engine surfaces at
// its public boundary, each carrying the source location where it was
// raised so callers can log where a condition was detected without needing
// a full stack trace.
package pgerr

import (
	"fmt"
	"runtime"

	"github.com/pkg/errors"
)

// Kind is a closed enumeration; callers switch on it or compare with Is.
type Kind int

const (
	Unknown Kind = iota
	NotFound
	AlreadyExists
	ReadOnly
	NotImplemented
	OutOfSpace
	TypeMismatch
	PropertyTypeInvalid
	PropertyNotFound
	InvalidID
	VacantIterator
	NullIterator
	IteratorInvalidated
	RangeError
	IndexExists
	LoaderParseError
	VersionMismatch
	LayoutCorrupt
	IoError
	NoCurrentTransaction
	TableFull
)

func (k Kind) String() string {
	switch k {
	case NotFound:
		return "NotFound"
	case AlreadyExists:
		return "AlreadyExists"
	case ReadOnly:
		return "ReadOnly"
	case NotImplemented:
		return "NotImplemented"
	case OutOfSpace:
		return "OutOfSpace"
	case TypeMismatch:
		return "TypeMismatch"
	case PropertyTypeInvalid:
		return "PropertyTypeInvalid"
	case PropertyNotFound:
		return "PropertyNotFound"
	case InvalidID:
		return "InvalidID"
	case VacantIterator:
		return "VacantIterator"
	case NullIterator:
		return "NullIterator"
	case IteratorInvalidated:
		return "IteratorInvalidated"
	case RangeError:
		return "RangeError"
	case IndexExists:
		return "IndexExists"
	case LoaderParseError:
		return "LoaderParseError"
	case VersionMismatch:
		return "VersionMismatch"
	case LayoutCorrupt:
		return "LayoutCorrupt"
	case IoError:
		return "IoError"
	case NoCurrentTransaction:
		return "NoCurrentTransaction"
	case TableFull:
		return "TableFull"
	default:
		return "Unknown"
	}
}

// Error is the single error type the engine returns across its public
// boundary. Equality for callers is by Kind (via Is), not by the location
// metadata, which is carried for diagnostics only.
type Error struct {
	Kind  Kind
	File  string
	Line  int
	Errno int // 0 when not applicable
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	loc := fmt.Sprintf("%s:%d", e.File, e.Line)
	switch {
	case e.Msg != "" && e.Errno != 0:
		return fmt.Sprintf("%s: %s (errno %d) [%s]", e.Kind, e.Msg, e.Errno, loc)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s [%s]", e.Kind, e.Msg, loc)
	case e.Errno != 0:
		return fmt.Sprintf("%s (errno %d) [%s]", e.Kind, e.Errno, loc)
	default:
		return fmt.Sprintf("%s [%s]", e.Kind, loc)
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, pgerr.New(SomeKind, "")) compare by Kind only,
// so callers never need to match the location metadata.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func location(skip int) (string, int) {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown", 0
	}
	return file, line
}

// New raises a fresh error of the given kind with the caller's location.
func New(kind Kind, msg string) *Error {
	file, line := location(1)
	return &Error{Kind: kind, File: file, Line: line, Msg: msg}
}

// Newf is New with fmt.Sprintf-style formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	file, line := location(1)
	return &Error{Kind: kind, File: file, Line: line, Msg: fmt.Sprintf(format, args...)}
}

// WithErrno raises an IoError-shaped error carrying an OS errno.
func WithErrno(kind Kind, errno int, msg string) *Error {
	file, line := location(1)
	return &Error{Kind: kind, File: file, Line: line, Errno: errno, Msg: msg}
}

// Wrap attaches a kind and location to an existing cause, preserving it in
// the Unwrap chain via github.com/pkg/errors so %+v still prints the
// original stack where the cause came from one.
func Wrap(kind Kind, cause error, msg string) *Error {
	file, line := location(1)
	return &Error{Kind: kind, File: file, Line: line, Msg: msg, Cause: errors.WithMessage(cause, msg)}
}

// Is reports whether err is a *Error of the given kind anywhere in its
// Unwrap chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ee, ok := err.(*Error); ok {
			e = ee
			if e.Kind == kind {
				return true
			}
		}
		unwrapper, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = unwrapper.Unwrap()
	}
	return false
}

// KindOf returns the Kind carried by err, or Unknown if err is not a
// *Error.
func KindOf(err error) Kind {
	if e, ok := err.(*Error); ok {
		return e.Kind
	}
	return Unknown
}
