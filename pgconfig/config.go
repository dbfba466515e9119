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

// Package pgconfig holds the configuration options recognised when a graph
// is created, and the ones that may be overridden on every later open.
package pgconfig

import "github.com/c2h5oh/datasize"

// Config is the full set of options recognised by region.Open. Size-valued
// fields use datasize.ByteSize so callers can write `100*datasize.MB`
// instead of a raw byte count.
type Config struct {
	// AllocatorRegionSize is the per-shard size of the variable arena.
	AllocatorRegionSize datasize.ByteSize
	// NumAllocators is the count of allocator shards (a power of two is
	// recommended); shard selection takes the key modulo this count.
	NumAllocators int
	// DefaultRegionSize is the starting size for each fixed-object pool.
	DefaultRegionSize datasize.ByteSize
	// NoMsync skips durability barriers on commit (benchmark mode).
	NoMsync bool
	// MaxStringID caps the number of strings the string table will intern.
	MaxStringID uint32
	// MaxInternedStringLen caps the byte length of an interned string; the
	// spec's own identifiers are documented as "≤16 bytes" by convention.
	MaxInternedStringLen int
	// PageSize is the increment regions grow by.
	PageSize datasize.ByteSize
}

// Default returns the configuration used when none is supplied to Create.
func Default() Config {
	return Config{
		AllocatorRegionSize:  32 * datasize.MB,
		NumAllocators:        4,
		DefaultRegionSize:    100 * datasize.MB,
		NoMsync:              false,
		MaxStringID:          1 << 16,
		MaxInternedStringLen: 16,
		PageSize:             4 * datasize.KB,
	}
}

// Option mutates a Config in place; Apply folds a list of Options onto a
// base configuration (normally pgconfig.Default()).
type Option func(*Config)

func Apply(base Config, opts ...Option) Config {
	for _, o := range opts {
		o(&base)
	}
	return base
}

func WithNumAllocators(n int) Option {
	return func(c *Config) { c.NumAllocators = n }
}

func WithAllocatorRegionSize(sz datasize.ByteSize) Option {
	return func(c *Config) { c.AllocatorRegionSize = sz }
}

func WithDefaultRegionSize(sz datasize.ByteSize) Option {
	return func(c *Config) { c.DefaultRegionSize = sz }
}

func WithNoMsync(v bool) Option {
	return func(c *Config) { c.NoMsync = v }
}

func WithMaxStringID(n uint32) Option {
	return func(c *Config) { c.MaxStringID = n }
}

func WithMaxInternedStringLen(n int) Option {
	return func(c *Config) { c.MaxInternedStringLen = n }
}
