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

// Package proplist implements the per-node/per-edge property list
// (spec.md §4.C5): a singly linked chain of fixed-capacity chunks holding
// packed (key, type, value) cells, with inline-or-external value storage.
package proplist

import (
	"encoding/binary"
	"math"
	stdtime "time"

	"github.com/pmgraph/pmgraph/pgerr"
	"github.com/pmgraph/pmgraph/strtab"
)

// Kind enumerates the Property variants named in spec.md §3.
type Kind uint8

const (
	NoValue Kind = iota
	Boolean
	Integer
	Float
	String
	Time
	Blob

	tombstone Kind = 0xff
)

// Time is a broken-down UTC timestamp plus a signed quarter-hour timezone
// offset, so storage is canonical while rendering can reproduce the
// original wall-clock string.
type Time struct {
	Year, Month, Day     int
	Hour, Minute, Second int
	Microsecond          int
	TZQuarterHours       int8
}

// Value is a tagged property value.
type Value struct {
	Kind    Kind
	Bool    bool
	Int     int64
	Float64 float64
	Str     string // used for both String and Blob (Blob holds raw bytes as a string)
	Time    Time
}

func BoolValue(b bool) Value     { return Value{Kind: Boolean, Bool: b} }
func IntValue(n int64) Value     { return Value{Kind: Integer, Int: n} }
func FloatValue(f float64) Value { return Value{Kind: Float, Float64: f} }
func StringValue(s string) Value { return Value{Kind: String, Str: s} }
func BlobValue(b []byte) Value   { return Value{Kind: Blob, Str: string(b)} }
func TimeValue(t Time) Value     { return Value{Kind: Time, Time: t} }

// fixedPayloadSize returns the inline payload width for kinds whose
// encoded size never varies, or -1 for variable-length kinds.
func fixedPayloadSize(k Kind) int {
	switch k {
	case NoValue:
		return 0
	case Boolean:
		return 1
	case Integer:
		return 8
	case Float:
		return 8
	case Time:
		return 12
	default:
		return -1
	}
}

// encodeInline appends the wire form of v's payload (everything after the
// cell header) for kinds with a fixed width, or the String/Blob variants'
// own inline bytes.
func encodeInline(v Value) ([]byte, error) {
	switch v.Kind {
	case NoValue:
		return nil, nil
	case Boolean:
		if v.Bool {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case Integer:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, uint64(v.Int))
		return b, nil
	case Float:
		b := make([]byte, 8)
		binary.LittleEndian.PutUint64(b, math.Float64bits(v.Float64))
		return b, nil
	case Time:
		b := make([]byte, 12)
		binary.LittleEndian.PutUint16(b[0:2], uint16(int16(v.Time.Year)))
		b[2] = byte(v.Time.Month)
		b[3] = byte(v.Time.Day)
		b[4] = byte(v.Time.Hour)
		b[5] = byte(v.Time.Minute)
		b[6] = byte(v.Time.Second)
		binary.LittleEndian.PutUint32(b[7:11], uint32(v.Time.Microsecond))
		b[11] = byte(v.Time.TZQuarterHours)
		return b, nil
	case String, Blob:
		return []byte(v.Str), nil
	default:
		return nil, pgerr.Newf(pgerr.PropertyTypeInvalid, "unrecognised property kind %d", v.Kind)
	}
}

func decodeInline(k Kind, b []byte) (Value, error) {
	switch k {
	case NoValue:
		return Value{Kind: NoValue}, nil
	case Boolean:
		return Value{Kind: Boolean, Bool: b[0] != 0}, nil
	case Integer:
		return Value{Kind: Integer, Int: int64(binary.LittleEndian.Uint64(b))}, nil
	case Float:
		return Value{Kind: Float, Float64: math.Float64frombits(binary.LittleEndian.Uint64(b))}, nil
	case Time:
		t := Time{
			Year:         int(int16(binary.LittleEndian.Uint16(b[0:2]))),
			Month:        int(b[2]),
			Day:          int(b[3]),
			Hour:         int(b[4]),
			Minute:       int(b[5]),
			Second:       int(b[6]),
			Microsecond:  int(binary.LittleEndian.Uint32(b[7:11])),
			TZQuarterHours: int8(b[11]),
		}
		return Value{Kind: Time, Time: t}, nil
	case String:
		return Value{Kind: String, Str: string(b)}, nil
	case Blob:
		return Value{Kind: Blob, Str: string(b)}, nil
	default:
		return Value{}, pgerr.Newf(pgerr.PropertyTypeInvalid, "unrecognised property kind %d", k)
	}
}

// Cell is the decoded form of one PropertyCell, used by Get/Check/Iterate.
type Cell struct {
	Key   strtab.ID
	Value Value
}

// EncodeValue exposes encodeInline to index (C7), which stores a typed
// property value inline in an AVL tree node's key area using the exact
// same wire form proplist uses for a property cell's inline payload.
func EncodeValue(v Value) ([]byte, error) { return encodeInline(v) }

// DecodeValue exposes decodeInline to index (C7); see EncodeValue.
func DecodeValue(k Kind, b []byte) (Value, error) { return decodeInline(k, b) }

// FixedSize returns the inline-encoded width of kind for kinds whose width
// never varies, or -1 for the variable-length String/Blob kinds.
func FixedSize(k Kind) int { return fixedPayloadSize(k) }

// Compare orders two values of the same Kind per spec.md §9: strings
// lexicographic, floats by IEEE-754 total order via bit-pattern comparison
// (so NaN sorts consistently instead of comparing unequal to everything),
// times by (epoch microseconds, timezone) with the timezone offset as a
// tiebreaker only, everything else by its natural Go ordering.
func Compare(a, b Value) int {
	switch a.Kind {
	case NoValue:
		return 0
	case Boolean:
		return cmpBool(a.Bool, b.Bool)
	case Integer:
		return cmpInt64(a.Int, b.Int)
	case Float:
		return cmpUint64(floatOrderKey(a.Float64), floatOrderKey(b.Float64))
	case String, Blob:
		if a.Str < b.Str {
			return -1
		}
		if a.Str > b.Str {
			return 1
		}
		return 0
	case Time:
		if c := cmpInt64(epochMicros(a.Time), epochMicros(b.Time)); c != 0 {
			return c
		}
		return cmpInt64(int64(a.Time.TZQuarterHours), int64(b.Time.TZQuarterHours))
	default:
		return 0
	}
}

func cmpBool(a, b bool) int {
	ai, bi := 0, 0
	if a {
		ai = 1
	}
	if b {
		bi = 1
	}
	return cmpInt64(int64(ai), int64(bi))
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// floatOrderKey maps an IEEE-754 double's bit pattern to a uint64 whose
// unsigned ordering matches the float's total order: for non-negative
// floats, flip the sign bit; for negative floats, flip every bit. This is
// the standard "biased" transform for total-ordering floats via integer
// comparison, including a well-defined (if otherwise arbitrary) position
// for NaN payloads.
func floatOrderKey(f float64) uint64 {
	bits := math.Float64bits(f)
	if bits&(1<<63) != 0 {
		return ^bits
	}
	return bits | (1 << 63)
}

// epochMicros converts a broken-down UTC Time into microseconds since the
// Unix epoch, ignoring the timezone offset (storage is canonical UTC; the
// offset only reproduces the original wall-clock rendering).
func epochMicros(t Time) int64 {
	instant := stdtime.Date(t.Year, stdtime.Month(t.Month), t.Day, t.Hour, t.Minute, t.Second, 0, stdtime.UTC).Unix()
	return instant*1_000_000 + int64(t.Microsecond)
}
