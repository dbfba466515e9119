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

package region

import (
	"errors"
	"os"
	"path/filepath"
	"syscall"

	"github.com/edsrzf/mmap-go"

	"github.com/pmgraph/pmgraph/pgerr"
)

// mmapHandle wraps mmap.MMap so File doesn't leak the third-party type
// into its exported surface.
type mmapHandle struct {
	m mmap.MMap
}

func (h mmapHandle) bytes() []byte { return []byte(h.m) }

func openFile(dir string, name Name, mode Mode, initialSize uint64) (*File, error) {
	path := filepath.Join(dir, string(name))
	flags := os.O_RDWR | os.O_CREATE
	if mode == ReadOnly {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		return nil, pgerr.WithErrno(pgerr.IoError, errnoOf(err), "open "+path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, pgerr.WithErrno(pgerr.IoError, errnoOf(err), "stat "+path)
	}
	size := uint64(info.Size())
	if size == 0 && mode != ReadOnly {
		size = initialSize
		if err := f.Truncate(int64(size)); err != nil {
			f.Close()
			return nil, pgerr.WithErrno(pgerr.IoError, errnoOf(err), "truncate "+path)
		}
	}
	if size == 0 {
		size = initialSize
	}

	mapFlag := mmap.RDWR
	if mode == ReadOnly {
		mapFlag = mmap.RDONLY
	}
	mm, err := mmap.MapRegion(f, int(size), mapFlag, 0, 0)
	if err != nil {
		f.Close()
		return nil, pgerr.WithErrno(pgerr.IoError, errnoOf(err), "mmap "+path)
	}
	return &File{name: name, f: f, mm: mmapHandle{mm}, size: size}, nil
}

// Grow extends the region by whole page-sized increments until it can
// hold at least minSize bytes. Shrinking is never automatic.
func (r *File) Grow(minSize, pageSize uint64, noMsync bool) error {
	if r.size >= minSize {
		return nil
	}
	newSize := r.size
	for newSize < minSize {
		newSize += pageSize
	}
	if !noMsync {
		if err := r.mm.m.Flush(); err != nil {
			return pgerr.WithErrno(pgerr.IoError, errnoOf(err), "flush before grow")
		}
	}
	if err := r.mm.m.Unmap(); err != nil {
		return pgerr.WithErrno(pgerr.IoError, errnoOf(err), "unmap before grow")
	}
	if err := r.f.Truncate(int64(newSize)); err != nil {
		return pgerr.WithErrno(pgerr.IoError, errnoOf(err), "truncate grow")
	}
	mm, err := mmap.MapRegion(r.f, int(newSize), mmap.RDWR, 0, 0)
	if err != nil {
		return pgerr.WithErrno(pgerr.IoError, errnoOf(err), "remap after grow")
	}
	r.mm = mmapHandle{mm}
	r.size = newSize
	return nil
}

// Flush persists the region's dirty pages; a no-op in NoMsync mode is the
// caller's responsibility to skip.
func (r *File) Flush() error {
	if err := r.mm.m.Flush(); err != nil {
		return pgerr.WithErrno(pgerr.IoError, errnoOf(err), "flush "+string(r.name))
	}
	return nil
}

func (r *File) close() error {
	var firstErr error
	if r.mm.m != nil {
		if err := r.mm.m.Unmap(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.f != nil {
		if err := r.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func errnoOf(err error) int {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	return 0
}
