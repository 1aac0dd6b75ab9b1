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
	"errors"
	"strings"
	"testing"

	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/sentry/context/contexttest"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
	"gvisor.dev/vmkernel/pkg/sentry/fsimpl/memfs"
)

func newTestFile(t *testing.T) *fs.OpenFile {
	t.Helper()
	ctx := contexttest.Context(t)
	fsys := memfs.New()
	if err := fsys.Create(ctx, "f", 0); err != nil {
		t.Fatalf("Create: %v", err)
	}
	f, err := fsys.Open(ctx, "f")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return fs.NewOpenFile(f)
}

func TestFDTable(t *testing.T) {
	fds := NewFDTable()
	for want := int32(FirstFD); want < MaxFDs; want++ {
		fd, err := fds.NewFD("f", newTestFile(t))
		if err != nil {
			t.Fatalf("NewFD: %v", err)
		}
		if fd != want {
			t.Fatalf("NewFD = %d, want %d", fd, want)
		}
	}
	if _, err := fds.NewFD("f", newTestFile(t)); !errors.Is(err, kernerr.ErrTooManyFiles) {
		t.Errorf("NewFD on a full table = %v, want %v", err, kernerr.ErrTooManyFiles)
	}
	if got, want := fds.Size(), MaxFDs-FirstFD; got != want {
		t.Errorf("Size = %d, want %d", got, want)
	}

	if err := fds.Remove(7); err != nil {
		t.Fatalf("Remove(7): %v", err)
	}
	if fd, err := fds.NewFD("g", newTestFile(t)); err != nil || fd != 7 {
		t.Errorf("NewFD after Remove(7) = %d, %v, want 7", fd, err)
	}
	if !strings.Contains(fds.String(), "fd:7 => name g") {
		t.Errorf("String does not list fd 7:\n%s", fds)
	}

	fds.RemoveAll()
	if got := fds.Size(); got != 0 {
		t.Errorf("Size after RemoveAll = %d", got)
	}
}

func TestFDTableBadIDs(t *testing.T) {
	fds := NewFDTable()
	for _, fd := range []int32{-1, 0, 1, 5, MaxFDs} {
		if _, err := fds.Get(fd); !errors.Is(err, kernerr.ErrBadFile) {
			t.Errorf("Get(%d) = %v, want %v", fd, err, kernerr.ErrBadFile)
		}
		if err := fds.Remove(fd); !errors.Is(err, kernerr.ErrBadFile) {
			t.Errorf("Remove(%d) = %v, want %v", fd, err, kernerr.ErrBadFile)
		}
	}
}
