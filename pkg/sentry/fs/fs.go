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

// Package fs defines the file store used by the kernel.
//
// The file store is a flat namespace of byte addressable files. It holds
// executables, the per process swap files and the files user programs create
// through system calls. Implementations live under pkg/sentry/fsimpl.
package fs

import (
	"context"
	"io"
)

// FileSystem is a flat collection of named files.
type FileSystem interface {
	// Create creates a file of the given initial size, filled with zeroes. It
	// fails with kernerr.ErrExists if the name is taken.
	Create(ctx context.Context, name string, size int64) error

	// Open opens an existing file. It fails with kernerr.ErrNotFound if there
	// is no such file.
	Open(ctx context.Context, name string) (File, error)

	// Remove deletes a file. Open handles remain usable until closed.
	Remove(ctx context.Context, name string) error

	// List returns the names of all files in sorted order.
	List(ctx context.Context) ([]string, error)

	// Release releases resources held by the file system.
	Release()
}

// File is an open file. Reads and writes are positional; a write past the
// end extends the file. Reads at or past the end return io.EOF.
type File interface {
	io.ReaderAt
	io.WriterAt

	// Length returns the current size of the file.
	Length() int64

	// Close releases the file.
	Close() error
}

// ReadFull reads exactly len(b) bytes at off, treating a short read as an
// error.
func ReadFull(f File, b []byte, off int64) error {
	n, err := f.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return err
}

// WriteFile creates name with contents data.
func WriteFile(ctx context.Context, fsys FileSystem, name string, data []byte) error {
	if err := fsys.Create(ctx, name, 0); err != nil {
		return err
	}
	f, err := fsys.Open(ctx, name)
	if err != nil {
		return err
	}
	if _, err := f.WriteAt(data, 0); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
