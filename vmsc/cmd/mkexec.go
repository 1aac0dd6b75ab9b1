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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"gvisor.dev/vmkernel/pkg/sentry/fsimpl/host"
	"gvisor.dev/vmkernel/pkg/userprog"
	"gvisor.dev/vmkernel/vmsc/config"
)

// Mkexec implements subcommands.Command for the "mkexec" command.
type Mkexec struct {
	list  bool
	force bool
}

// Name implements subcommands.Command.Name.
func (*Mkexec) Name() string {
	return "mkexec"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkexec) Synopsis() string {
	return "write sample programs to a host disk"
}

// Usage implements subcommands.Command.Usage.
func (*Mkexec) Usage() string {
	return `mkexec [flags] [<program>...] - write the named sample programs, or all of them, to the directory given by --disk.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mkexec) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&m.list, "list", false, "list the sample programs and exit.")
	f.BoolVar(&m.force, "force", false, "replace programs already on the disk.")
}

// Execute implements subcommands.Command.Execute.
func (m *Mkexec) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if m.list {
		for _, name := range userprog.Names() {
			fmt.Fprintln(os.Stdout, name)
		}
		return subcommands.ExitSuccess
	}
	conf := args[0].(*config.Config)
	if conf.Disk == "" {
		fmt.Fprintln(os.Stderr, "mkexec requires --disk")
		f.Usage()
		return subcommands.ExitUsageError
	}

	names := f.Args()
	if len(names) == 0 {
		names = userprog.Names()
	}
	fsys, err := host.New(ctx, conf.Disk)
	if err != nil {
		Fatalf("opening disk: %v", err)
	}
	defer fsys.Release()
	if err := installPrograms(ctx, fsys, conf.PageSize, names, m.force); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}
