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

// Package host provides a file store backed by a directory on the host.
//
// Each file in the store is a regular file in the directory. The directory
// is locked for the lifetime of the FileSystem so that two kernels never
// share a disk.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/log"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
)

// lockFilename is the name of the lock file in the disk directory. It is
// hidden from List and cannot be opened.
const lockFilename = ".vmkernel.lock"

// Lock acquisition retries at lockRetryInterval, at most lockRetries times.
var (
	lockRetryInterval = 100 * time.Millisecond
	lockRetries       = uint64(20)
)

var errLocked = errors.New("disk is locked by another kernel")

// FileSystem implements fs.FileSystem.
type FileSystem struct {
	dir  string
	lock *flock.Flock
}

var _ fs.FileSystem = (*FileSystem)(nil)

// New opens the disk rooted at dir, creating the directory if needed, and
// takes its lock. If another kernel holds the lock, New retries until the
// lock is free, the retries run out or ctx is done.
func New(ctx context.Context, dir string) (*FileSystem, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating disk directory %q: %v", dir, err)
	}
	l := flock.NewFlock(filepath.Join(dir, lockFilename))
	op := func() error {
		ok, err := l.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			log.Debugf("Disk %q is locked, retrying", dir)
			return errLocked
		}
		return nil
	}
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(lockRetryInterval), lockRetries), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, fmt.Errorf("acquiring lock on disk %q: %w", dir, err)
	}
	return &FileSystem{dir: dir, lock: l}, nil
}

func (fsys *FileSystem) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." || name == lockFilename || strings.ContainsRune(name, '/') {
		return "", fmt.Errorf("invalid file name %q: %w", name, kernerr.ErrNotFound)
	}
	return filepath.Join(fsys.dir, name), nil
}

// Create implements fs.FileSystem.Create.
func (fsys *FileSystem) Create(_ context.Context, name string, size int64) error {
	p, err := fsys.path(name)
	if err != nil {
		return err
	}
	if size < 0 {
		return fmt.Errorf("create %q size %d: %w", name, size, kernerr.ErrBadFile)
	}
	fd, err := unix.Open(p, unix.O_RDWR|unix.O_CREAT|unix.O_EXCL|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return translateError("create", name, err)
	}
	defer unix.Close(fd)
	if err := unix.Ftruncate(fd, size); err != nil {
		return translateError("truncate", name, err)
	}
	return nil
}

// Open implements fs.FileSystem.Open.
func (fsys *FileSystem) Open(_ context.Context, name string) (fs.File, error) {
	p, err := fsys.path(name)
	if err != nil {
		return nil, err
	}
	fd, err := unix.Open(p, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, translateError("open", name, err)
	}
	return &file{fd: fd, name: name}, nil
}

// Remove implements fs.FileSystem.Remove.
func (fsys *FileSystem) Remove(_ context.Context, name string) error {
	p, err := fsys.path(name)
	if err != nil {
		return err
	}
	if err := unix.Unlink(p); err != nil {
		return translateError("remove", name, err)
	}
	return nil
}

// List implements fs.FileSystem.List.
func (fsys *FileSystem) List(context.Context) ([]string, error) {
	ents, err := os.ReadDir(fsys.dir)
	if err != nil {
		return nil, fmt.Errorf("reading disk directory: %w", err)
	}
	var names []string
	for _, e := range ents {
		if e.Name() == lockFilename || !e.Type().IsRegular() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Release implements fs.FileSystem.Release. It drops the disk lock.
func (fsys *FileSystem) Release() {
	if err := fsys.lock.Unlock(); err != nil {
		log.Warningf("Unlocking disk %q: %v", fsys.dir, err)
	}
}

// file implements fs.File over a host file descriptor.
type file struct {
	fd   int
	name string
}

// ReadAt implements io.ReaderAt.
func (f *file) ReadAt(b []byte, off int64) (int, error) {
	done := 0
	for done < len(b) {
		n, err := unix.Pread(f.fd, b[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, translateError("read", f.name, err)
		}
		if n == 0 {
			return done, io.EOF
		}
		done += n
	}
	return done, nil
}

// WriteAt implements io.WriterAt.
func (f *file) WriteAt(b []byte, off int64) (int, error) {
	done := 0
	for done < len(b) {
		n, err := unix.Pwrite(f.fd, b[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, translateError("write", f.name, err)
		}
		done += n
	}
	return done, nil
}

// Length implements fs.File.Length.
func (f *file) Length() int64 {
	var st unix.Stat_t
	if err := unix.Fstat(f.fd, &st); err != nil {
		log.Warningf("fstat %q: %v", f.name, err)
		return 0
	}
	return st.Size
}

// Close implements fs.File.Close.
func (f *file) Close() error {
	if f.fd < 0 {
		return kernerr.ErrBadFile
	}
	err := unix.Close(f.fd)
	f.fd = -1
	if err != nil {
		return translateError("close", f.name, err)
	}
	return nil
}
