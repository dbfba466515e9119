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

// Package chunklist implements the ChunkList described in spec.md §3/§4.C7:
// a singly linked list of fixed-capacity buckets of object offsets, used
// both as the per-tag "all nodes/edges of this tag" list and as the bucket
// an AvlTreeIndex tree node owns for the (possibly several) entities that
// share one indexed key value.
package chunklist

import (
	"encoding/binary"

	"github.com/pmgraph/pmgraph/alloc"
	"github.com/pmgraph/pmgraph/journal"
	"github.com/pmgraph/pmgraph/region"
)

// bucketCap is the number of object offsets packed into one bucket.
const bucketCap = 8

// bucketHeaderSize: next (8 bytes).
const bucketHeaderSize = 8

// one-byte live count follows the header, then 7 bytes of padding before
// the packed values so the value array stays 8-byte aligned.
const bucketMetaSize = bucketHeaderSize + 8
const bucketObjectSize = bucketMetaSize + bucketCap*8

// HeaderSize is the footprint of a List's head/tail/count header that
// callers embed at a location of their own choosing (a Node's tag-list
// directory entry, an AvlTreeIndex tree node's bucket field, or a fixed
// offset in the meta region for the global per-kind object list).
const HeaderSize = 24

// List is the shared bucket-pool + operations for every ChunkList in a
// graph; individual lists are distinguished only by the (region, offset)
// of their 24-byte header, never by a Go-level handle.
type List struct {
	pool *alloc.FixedPool
}

// Open rebuilds a List's view over the already-mapped Buckets region.
func Open(m *region.Map) (*List, error) {
	pool, err := alloc.Open(m, region.Buckets, bucketObjectSize)
	if err != nil {
		return nil, err
	}
	return &List{pool: pool}, nil
}

// Stats reports occupancy of the shared bucket pool every ChunkList in the
// graph draws from, for C11's allocator-health reporting.
func (l *List) Stats(regionSize uint64) alloc.Stats { return l.pool.Stats(regionSize) }

func headOff(base region.Offset) region.Offset  { return base }
func tailOff(base region.Offset) region.Offset  { return base + 8 }
func countOff(base region.Offset) region.Offset { return base + 16 }

// Header is the decoded head/tail/count triple read from (hdrRegion, base).
type Header struct {
	Head  region.Offset
	Tail  region.Offset
	Count uint64
}

// ReadHeader decodes the list header at (hdrRegion, base).
func ReadHeader(tx *journal.Tx, hdrRegion region.Name, base region.Offset) (Header, error) {
	buf, err := tx.Read(hdrRegion, base, HeaderSize)
	if err != nil {
		return Header{}, err
	}
	return Header{
		Head:  region.Offset(binary.LittleEndian.Uint64(buf[0:8])),
		Tail:  region.Offset(binary.LittleEndian.Uint64(buf[8:16])),
		Count: binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}

func writeHeader(tx *journal.Tx, hdrRegion region.Name, base region.Offset, h Header) error {
	if err := tx.PutUint64(hdrRegion, headOff(base), uint64(h.Head)); err != nil {
		return err
	}
	if err := tx.PutUint64(hdrRegion, tailOff(base), uint64(h.Tail)); err != nil {
		return err
	}
	return tx.PutUint64(hdrRegion, countOff(base), h.Count)
}

func readBucketNext(tx *journal.Tx, off region.Offset) (region.Offset, error) {
	buf, err := tx.Read(region.Buckets, off, 8)
	if err != nil {
		return 0, err
	}
	return region.Offset(binary.LittleEndian.Uint64(buf)), nil
}

func readBucketCount(tx *journal.Tx, off region.Offset) (int, error) {
	buf, err := tx.Read(region.Buckets, off+8, 1)
	if err != nil {
		return 0, err
	}
	return int(buf[0]), nil
}

func readBucketValues(tx *journal.Tx, off region.Offset, n int) ([]uint64, error) {
	buf, err := tx.Read(region.Buckets, off+region.Offset(bucketMetaSize), n*8)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, n)
	for i := 0; i < n; i++ {
		out[i] = binary.LittleEndian.Uint64(buf[i*8:])
	}
	return out, nil
}

func writeBucketValue(tx *journal.Tx, off region.Offset, idx int, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return tx.Write(region.Buckets, off+region.Offset(bucketMetaSize)+region.Offset(idx*8), b[:])
}

// Insert appends value to the tail bucket, allocating a fresh bucket when
// the tail is full or the list is empty. New buckets are always appended,
// never prepended, so "across-chunk order is insertion order" holds even
// though intra-bucket order is unspecified.
func (l *List) Insert(tx *journal.Tx, hdrRegion region.Name, base region.Offset, value uint64, pageSize uint64) error {
	hdr, err := ReadHeader(tx, hdrRegion, base)
	if err != nil {
		return err
	}
	if hdr.Tail != 0 {
		count, err := readBucketCount(tx, hdr.Tail)
		if err != nil {
			return err
		}
		if count < bucketCap {
			if err := writeBucketValue(tx, hdr.Tail, count, value); err != nil {
				return err
			}
			if err := tx.PutByte(region.Buckets, hdr.Tail+8, byte(count+1)); err != nil {
				return err
			}
			hdr.Count++
			return writeHeader(tx, hdrRegion, base, hdr)
		}
	}

	newBucket, err := l.pool.Alloc(tx, pageSize)
	if err != nil {
		return err
	}
	zero := make([]byte, bucketObjectSize)
	if err := tx.Write(region.Buckets, newBucket, zero); err != nil {
		return err
	}
	if err := writeBucketValue(tx, newBucket, 0, value); err != nil {
		return err
	}
	if err := tx.PutByte(region.Buckets, newBucket+8, 1); err != nil {
		return err
	}
	if hdr.Tail != 0 {
		if err := tx.PutUint64(region.Buckets, hdr.Tail, uint64(newBucket)); err != nil {
			return err
		}
	} else {
		hdr.Head = newBucket
	}
	hdr.Tail = newBucket
	hdr.Count++
	return writeHeader(tx, hdrRegion, base, hdr)
}

// Remove deletes the first occurrence of value, swapping in the bucket's
// last live slot to fill the gap (intra-bucket order is unspecified, so
// this is safe) and freeing the bucket if it becomes empty. Reports
// whether value was found.
func (l *List) Remove(tx *journal.Tx, hdrRegion region.Name, base region.Offset, value uint64) (bool, error) {
	hdr, err := ReadHeader(tx, hdrRegion, base)
	if err != nil {
		return false, err
	}
	var prev region.Offset
	cur := hdr.Head
	for cur != 0 {
		next, err := readBucketNext(tx, cur)
		if err != nil {
			return false, err
		}
		count, err := readBucketCount(tx, cur)
		if err != nil {
			return false, err
		}
		values, err := readBucketValues(tx, cur, count)
		if err != nil {
			return false, err
		}
		idx := -1
		for i, v := range values {
			if v == value {
				idx = i
				break
			}
		}
		if idx >= 0 {
			last := count - 1
			if idx != last {
				if err := writeBucketValue(tx, cur, idx, values[last]); err != nil {
					return false, err
				}
			}
			if err := tx.PutByte(region.Buckets, cur+8, byte(last)); err != nil {
				return false, err
			}
			hdr.Count--
			if last == 0 {
				if prev == 0 {
					hdr.Head = next
				} else {
					if err := tx.PutUint64(region.Buckets, prev, uint64(next)); err != nil {
						return false, err
					}
				}
				if hdr.Tail == cur {
					hdr.Tail = prev
				}
				if err := l.pool.Free(tx, cur); err != nil {
					return false, err
				}
			}
			return true, writeHeader(tx, hdrRegion, base, hdr)
		}
		prev = cur
		cur = next
	}
	return false, nil
}

// Iterate returns every live offset in insertion order (intra-bucket order
// unspecified in general, but this implementation happens to preserve
// append order until a Remove reorders a bucket's tail slot).
func (l *List) Iterate(tx *journal.Tx, hdrRegion region.Name, base region.Offset) ([]uint64, error) {
	hdr, err := ReadHeader(tx, hdrRegion, base)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, 0, hdr.Count)
	cur := hdr.Head
	for cur != 0 {
		next, err := readBucketNext(tx, cur)
		if err != nil {
			return nil, err
		}
		count, err := readBucketCount(tx, cur)
		if err != nil {
			return nil, err
		}
		values, err := readBucketValues(tx, cur, count)
		if err != nil {
			return nil, err
		}
		out = append(out, values...)
		cur = next
	}
	return out, nil
}

// Count returns the list's live element count without walking it.
func (l *List) Count(tx *journal.Tx, hdrRegion region.Name, base region.Offset) (uint64, error) {
	hdr, err := ReadHeader(tx, hdrRegion, base)
	if err != nil {
		return 0, err
	}
	return hdr.Count, nil
}

// IsEmpty reports whether the list currently holds no elements.
func (l *List) IsEmpty(tx *journal.Tx, hdrRegion region.Name, base region.Offset) (bool, error) {
	hdr, err := ReadHeader(tx, hdrRegion, base)
	if err != nil {
		return false, err
	}
	return hdr.Head == 0, nil
}
