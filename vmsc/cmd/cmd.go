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

// Package cmd holds implementations of the vmsc commands.
package cmd

import (
	gocontext "context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gvisor.dev/vmkernel/pkg/cleanup"
	"gvisor.dev/vmkernel/pkg/log"
	"gvisor.dev/vmkernel/pkg/sentry/context"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
	"gvisor.dev/vmkernel/pkg/sentry/fsimpl/host"
	"gvisor.dev/vmkernel/pkg/sentry/fsimpl/memfs"
	"gvisor.dev/vmkernel/pkg/sentry/kernel"
	"gvisor.dev/vmkernel/pkg/userprog"
	"gvisor.dev/vmkernel/vmsc/config"
)

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	log.Warningf("FATAL ERROR: "+format, args...)
	fmt.Fprintf(os.Stderr, "vmsc: "+format+"\n", args...)
	os.Exit(128)
}

// intFlags can be used with int flags that appear multiple times. A single
// occurrence may also hold a comma separated list.
type intFlags []int

// String implements flag.Value.
func (i *intFlags) String() string {
	return fmt.Sprintf("%v", *i)
}

// Get implements flag.Getter.
func (i *intFlags) Get() any {
	return i
}

// Set implements flag.Value.
func (i *intFlags) Set(s string) error {
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.Atoi(f)
		if err != nil {
			return fmt.Errorf("invalid flag value: %v", err)
		}
		if v <= 0 {
			return fmt.Errorf("flag value must be greater than 0: %d", v)
		}
		*i = append(*i, v)
	}
	return nil
}

// openDisk opens the file store named by conf. An in-memory store is loaded
// with every sample program built for the configured page size.
func openDisk(ctx gocontext.Context, conf *config.Config) (fs.FileSystem, error) {
	if conf.Disk != "" {
		return host.New(ctx, conf.Disk)
	}
	fsys := memfs.New()
	if err := installPrograms(ctx, fsys, conf.PageSize, userprog.Names(), false); err != nil {
		return nil, err
	}
	return fsys, nil
}

// installPrograms writes the named sample programs into fsys. Existing files
// are replaced only if force is set.
func installPrograms(ctx gocontext.Context, fsys fs.FileSystem, pageSize int, names []string, force bool) error {
	for _, name := range names {
		build, ok := userprog.Programs[name]
		if !ok {
			return fmt.Errorf("unknown program %q, known programs are %s", name, strings.Join(userprog.Names(), ", "))
		}
		if force {
			// A missing file is fine.
			_ = fsys.Remove(ctx, name)
		}
		if err := fs.WriteFile(ctx, fsys, name, build(pageSize)); err != nil {
			return fmt.Errorf("installing %q: %w", name, err)
		}
		log.Debugf("Installed %q for %d byte pages", name, pageSize)
	}
	return nil
}

// session is a booted kernel together with its disk.
type session struct {
	k    *kernel.Kernel
	fsys fs.FileSystem
	pids []int32
}

// boot starts a kernel per conf and execs the named programs on it. The
// caller must call release once done with the session.
func boot(ctx gocontext.Context, conf *config.Config, names []string, console io.Writer, input io.Reader) (*session, error) {
	fsys, err := openDisk(ctx, conf)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(fsys.Release)
	defer cu.Clean()

	k, err := kernel.New(conf.Kernel(uint64(time.Now().UnixNano())), fsys, console, input)
	if err != nil {
		return nil, err
	}
	s := &session{k: k, fsys: fsys}
	kctx := context.WithLogger(ctx, log.Log())
	for _, name := range names {
		pid, err := k.Exec(kctx, name)
		if err != nil {
			return nil, err
		}
		s.pids = append(s.pids, pid)
	}
	cu.Release()
	return s, nil
}

// run runs the session to completion.
func (s *session) run(ctx gocontext.Context) error {
	return s.k.Run(ctx)
}

// exitStatus returns the exit status of the first program, or 0 if it never
// exited.
func (s *session) exitStatus() int {
	if len(s.pids) == 0 {
		return 0
	}
	for _, p := range s.k.Processes() {
		if p.ID == s.pids[0] && p.Exited() {
			return int(p.Status)
		}
	}
	return 0
}

func (s *session) release() {
	s.fsys.Release()
}
