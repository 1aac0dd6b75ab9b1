// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package memfs provides an in-memory file store. It is the default store and
// the one used by tests; nothing survives the process.
//
// Lock order:
//
// FileSystem.mu
//
//	inode.mu
package memfs

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
)

// FileSystem implements fs.FileSystem.
type FileSystem struct {
	// mu protects files.
	mu    sync.Mutex
	files map[string]*inode
}

var _ fs.FileSystem = (*FileSystem)(nil)

// New returns an empty file system.
func New() *FileSystem {
	return &FileSystem{files: make(map[string]*inode)}
}

type inode struct {
	mu   sync.Mutex
	data []byte
}

// Create implements fs.FileSystem.Create.
func (fsys *FileSystem) Create(_ context.Context, name string, size int64) error {
	if name == "" || size < 0 {
		return fmt.Errorf("create %q size %d: %w", name, size, kernerr.ErrBadFile)
	}
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if _, ok := fsys.files[name]; ok {
		return fmt.Errorf("create %q: %w", name, kernerr.ErrExists)
	}
	fsys.files[name] = &inode{data: make([]byte, size)}
	return nil
}

// Open implements fs.FileSystem.Open.
func (fsys *FileSystem) Open(_ context.Context, name string) (fs.File, error) {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	ino, ok := fsys.files[name]
	if !ok {
		return nil, fmt.Errorf("open %q: %w", name, kernerr.ErrNotFound)
	}
	return &file{inode: ino}, nil
}

// Remove implements fs.FileSystem.Remove.
func (fsys *FileSystem) Remove(_ context.Context, name string) error {
	fsys.mu.Lock()
	defer fsys.mu.Unlock()
	if _, ok := fsys.files[name]; !ok {
		return fmt.Errorf("remove %q: %w", name, kernerr.ErrNotFound)
	}
	delete(fsys.files, name)
	return nil
}

// List implements fs.FileSystem.List.
func (fsys *FileSystem) List(context.Context) ([]string, error) {
	fsys.mu.Lock()
	names := make([]string, 0, len(fsys.files))
	for name := range fsys.files {
		names = append(names, name)
	}
	fsys.mu.Unlock()
	sort.Strings(names)
	return names, nil
}

// Release implements fs.FileSystem.Release.
func (fsys *FileSystem) Release() {}

// file implements fs.File.
type file struct {
	inode  *inode
	closed bool
}

// ReadAt implements io.ReaderAt.
func (f *file) ReadAt(b []byte, off int64) (int, error) {
	if f.closed {
		return 0, kernerr.ErrBadFile
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d: %w", off, kernerr.ErrIO)
	}
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	if off >= int64(len(f.inode.data)) {
		return 0, io.EOF
	}
	n := copy(b, f.inode.data[off:])
	if n < len(b) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt implements io.WriterAt.
func (f *file) WriteAt(b []byte, off int64) (int, error) {
	if f.closed {
		return 0, kernerr.ErrBadFile
	}
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d: %w", off, kernerr.ErrIO)
	}
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	if end := off + int64(len(b)); end > int64(len(f.inode.data)) {
		if end <= int64(cap(f.inode.data)) {
			f.inode.data = f.inode.data[:end]
		} else {
			grown := make([]byte, end, 2*end)
			copy(grown, f.inode.data)
			f.inode.data = grown
		}
	}
	return copy(f.inode.data[off:], b), nil
}

// Length implements fs.File.Length.
func (f *file) Length() int64 {
	f.inode.mu.Lock()
	defer f.inode.mu.Unlock()
	return int64(len(f.inode.data))
}

// Close implements fs.File.Close.
func (f *file) Close() error {
	if f.closed {
		return kernerr.ErrBadFile
	}
	f.closed = true
	return nil
}
