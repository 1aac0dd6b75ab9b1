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
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"

	"gvisor.dev/vmkernel/pkg/log"
	"gvisor.dev/vmkernel/pkg/metric"
	"gvisor.dev/vmkernel/pkg/sentry/kernel"
	"gvisor.dev/vmkernel/vmsc/config"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	ps bool
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot a kernel and run programs on it"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] <program> [<program>...] - boot a kernel, exec each program and run until all threads finish.

The console of the programs is stdin and stdout. The exit status is the exit
status of the first program.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&r.ps, "ps", false, "print the process table once the kernel stops.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	status := args[1].(*int)

	s, err := boot(ctx, conf, f.Args(), os.Stdout, os.Stdin)
	if err != nil {
		Fatalf("booting kernel: %v", err)
	}
	defer s.release()
	if err := s.run(ctx); err != nil {
		Fatalf("running kernel: %v", err)
	}
	*status = s.exitStatus()
	log.Infof("Kernel stopped, first program exited with status %d", *status)

	if r.ps {
		if err := writeProcesses(os.Stdout, s.k.Processes()); err != nil {
			Fatalf("writing process table: %v", err)
		}
	}
	if conf.Metrics {
		if _, err := metric.WritePrometheus(os.Stdout); err != nil {
			Fatalf("writing metrics: %v", err)
		}
	}
	return subcommands.ExitSuccess
}

// writeProcesses writes the process table as aligned columns.
func writeProcesses(w io.Writer, procs []kernel.ProcessInfo) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprint(tw, "ID\tNAME\tREFS\tJOINERS\tSTATUS\n")
	for _, p := range procs {
		status := "running"
		if p.Exited() {
			status = fmt.Sprintf("exited(%d)", p.Status)
		}
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%s\n", p.ID, p.Name, p.Refs, p.Joiners, status)
	}
	return tw.Flush()
}
