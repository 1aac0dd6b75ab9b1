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

// Package fstest provides a conformance test for fs.FileSystem
// implementations.
package fstest

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
)

// Run exercises fsys, which must be empty.
func Run(t *testing.T, fsys fs.FileSystem) {
	ctx := context.Background()

	t.Run("CreateOpen", func(t *testing.T) {
		if err := fsys.Create(ctx, "sized", 64); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := fsys.Create(ctx, "sized", 64); !errors.Is(err, kernerr.ErrExists) {
			t.Errorf("second Create = %v, want ErrExists", err)
		}
		f, err := fsys.Open(ctx, "sized")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer f.Close()
		if got := f.Length(); got != 64 {
			t.Errorf("Length = %d, want 64", got)
		}
		buf := bytes.Repeat([]byte{0xff}, 64)
		if err := fs.ReadFull(f, buf, 0); err != nil {
			t.Fatalf("ReadFull failed: %v", err)
		}
		if !bytes.Equal(buf, make([]byte, 64)) {
			t.Errorf("new file not zero filled: %v", buf)
		}
	})

	t.Run("ReadWrite", func(t *testing.T) {
		if err := fs.WriteFile(ctx, fsys, "data", []byte("hello")); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
		f, err := fsys.Open(ctx, "data")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		defer f.Close()
		if _, err := f.WriteAt([]byte("world"), 8); err != nil {
			t.Fatalf("WriteAt past end failed: %v", err)
		}
		if got := f.Length(); got != 13 {
			t.Errorf("Length = %d, want 13", got)
		}
		buf := make([]byte, 20)
		n, err := f.ReadAt(buf, 0)
		if err != io.EOF || n != 13 {
			t.Errorf("ReadAt = %d, %v, want 13, EOF", n, err)
		}
		if want := []byte("hello\x00\x00\x00world"); !bytes.Equal(buf[:n], want) {
			t.Errorf("contents = %q, want %q", buf[:n], want)
		}
		if _, err := f.ReadAt(buf, 100); err != io.EOF {
			t.Errorf("ReadAt past end = %v, want EOF", err)
		}
	})

	t.Run("OpenFile", func(t *testing.T) {
		if err := fsys.Create(ctx, "seq", 0); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		f, err := fsys.Open(ctx, "seq")
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		o := fs.NewOpenFile(f)
		defer o.Close()
		o.Write([]byte("abc"))
		o.Write([]byte("def"))
		o.Seek(2)
		buf := make([]byte, 10)
		n, err := o.Read(buf)
		if err != nil || string(buf[:n]) != "cdef" {
			t.Errorf("Read = %q, %v, want \"cdef\"", buf[:n], err)
		}
		if n, err := o.Read(buf); n != 0 || err != nil {
			t.Errorf("Read at end = %d, %v, want 0, nil", n, err)
		}
		if got := o.Tell(); got != 6 {
			t.Errorf("Tell = %d, want 6", got)
		}
	})

	t.Run("RemoveList", func(t *testing.T) {
		names, err := fsys.List(ctx)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if diff := cmp.Diff([]string{"data", "seq", "sized"}, names); diff != "" {
			t.Errorf("List mismatch (-want +got):\n%s", diff)
		}
		if err := fsys.Remove(ctx, "data"); err != nil {
			t.Fatalf("Remove failed: %v", err)
		}
		if err := fsys.Remove(ctx, "data"); !errors.Is(err, kernerr.ErrNotFound) {
			t.Errorf("second Remove = %v, want ErrNotFound", err)
		}
		if _, err := fsys.Open(ctx, "data"); !errors.Is(err, kernerr.ErrNotFound) {
			t.Errorf("Open removed file = %v, want ErrNotFound", err)
		}
	})
}
