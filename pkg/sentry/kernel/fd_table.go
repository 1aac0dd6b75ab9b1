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

package kernel

import (
	"bytes"
	"fmt"
	"sync"

	"gvisor.dev/vmkernel/pkg/abi/sysno"
	"gvisor.dev/vmkernel/pkg/bitmap"
	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
)

const (
	// FirstFD is the lowest file id handed out; lower ids name the console.
	FirstFD = 2

	// MaxFDs bounds the file ids: they lie in [FirstFD, MaxFDs).
	MaxFDs = 128
)

// FDTable maps open file ids to open files. It is shared by every thread:
// the machine has a single open file table.
type FDTable struct {
	// mu protects below.
	mu sync.Mutex

	// used has a bit set for every id in use, including the console ids.
	used  bitmap.Bitmap
	files [MaxFDs]*fs.OpenFile
	names [MaxFDs]string
}

// NewFDTable returns an empty table.
func NewFDTable() *FDTable {
	f := &FDTable{used: bitmap.New(MaxFDs)}
	f.used.Add(sysno.ConsoleInput)
	f.used.Add(sysno.ConsoleOutput)
	return f
}

// NewFD installs file at the lowest free id and returns the id.
func (f *FDTable) NewFD(name string, file *fs.OpenFile) (int32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fd, ok := f.used.FirstZero()
	if !ok {
		return -1, kernerr.ErrTooManyFiles
	}
	f.used.Add(fd)
	f.files[fd] = file
	f.names[fd] = name
	return int32(fd), nil
}

// Get returns the file with id fd.
func (f *FDTable) Get(fd int32) (*fs.OpenFile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd < FirstFD || fd >= MaxFDs || f.files[fd] == nil {
		return nil, fmt.Errorf("file id %d: %w", fd, kernerr.ErrBadFile)
	}
	return f.files[fd], nil
}

// Remove closes the file with id fd and frees the id.
func (f *FDTable) Remove(fd int32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if fd < FirstFD || fd >= MaxFDs || f.files[fd] == nil {
		return fmt.Errorf("file id %d: %w", fd, kernerr.ErrBadFile)
	}
	file := f.files[fd]
	f.files[fd] = nil
	f.names[fd] = ""
	f.used.Remove(int(fd))
	return file.Close()
}

// RemoveAll closes every open file.
func (f *FDTable) RemoveAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for fd := FirstFD; fd < MaxFDs; fd++ {
		if file := f.files[fd]; file != nil {
			file.Close()
			f.files[fd] = nil
			f.names[fd] = ""
			f.used.Remove(fd)
		}
	}
}

// Size returns the number of open files.
func (f *FDTable) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.used.Count() - FirstFD
}

// String is a stringer for FDTable.
func (f *FDTable) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var b bytes.Buffer
	for fd := FirstFD; fd < MaxFDs; fd++ {
		if f.files[fd] != nil {
			fmt.Fprintf(&b, "\tfd:%d => name %s\n", fd, f.names[fd])
		}
	}
	return b.String()
}
