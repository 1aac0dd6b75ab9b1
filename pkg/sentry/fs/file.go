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

package fs

import (
	"io"
	"sync"
)

// OpenFile is a File with a seek position, as used by the Read and Write
// system calls.
type OpenFile struct {
	file File

	// mu protects offset.
	mu     sync.Mutex
	offset int64
}

// NewOpenFile wraps f. The position starts at zero.
func NewOpenFile(f File) *OpenFile {
	return &OpenFile{file: f}
}

// Read reads from the current position and advances it. It returns 0, nil at
// end of file.
func (o *OpenFile) Read(b []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, err := o.file.ReadAt(b, o.offset)
	o.offset += int64(n)
	if err == io.EOF {
		err = nil
	}
	return n, err
}

// Write writes at the current position and advances it.
func (o *OpenFile) Write(b []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	n, err := o.file.WriteAt(b, o.offset)
	o.offset += int64(n)
	return n, err
}

// Seek sets the position.
func (o *OpenFile) Seek(offset int64) {
	o.mu.Lock()
	o.offset = offset
	o.mu.Unlock()
}

// Tell returns the position.
func (o *OpenFile) Tell() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.offset
}

// Close closes the underlying file.
func (o *OpenFile) Close() error {
	return o.file.Close()
}
