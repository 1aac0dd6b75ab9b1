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
	"strings"
	"text/tabwriter"

	"github.com/google/subcommands"

	"gvisor.dev/vmkernel/pkg/metric"
	"gvisor.dev/vmkernel/vmsc/config"
)

// sweepMetrics are the counters reported per run, in column order.
var sweepMetrics = []string{
	"/vm/page_faults",
	"/vm/evictions",
	"/vm/swap_writes",
	"/vm/swap_reads",
	"/vm/tlb_misses",
}

// Sweep implements subcommands.Command for the "sweep" command.
type Sweep struct {
	frames intFlags
}

// Name implements subcommands.Command.Name.
func (*Sweep) Name() string {
	return "sweep"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Sweep) Synopsis() string {
	return "run a program with several memory sizes and compare paging"
}

// Usage implements subcommands.Command.Usage.
func (*Sweep) Usage() string {
	return `sweep [flags] <program> - run the program once per --frames value on a fresh kernel and print its paging counters.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Sweep) SetFlags(f *flag.FlagSet) {
	f.Var(&s.frames, "frames", "number of physical frames to try. Can be repeated or comma separated.")
}

// Execute implements subcommands.Command.Execute.
func (s *Sweep) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 || len(s.frames) == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if err := sweep(ctx, conf, f.Arg(0), s.frames, os.Stdout); err != nil {
		Fatalf("%v", err)
	}
	return subcommands.ExitSuccess
}

// sweep runs program once per frame count and writes one row of counter
// deltas per run.
func sweep(ctx context.Context, conf *config.Config, program string, frames []int, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', tabwriter.AlignRight)
	header := []string{"FRAMES", "STATUS"}
	for _, name := range sweepMetrics {
		header = append(header, strings.ToUpper(name[strings.LastIndex(name, "/")+1:]))
	}
	fmt.Fprintf(tw, "%s\t\n", strings.Join(header, "\t"))

	for _, n := range frames {
		c := conf.Clone()
		c.NumPhysPages = n
		if err := c.Machine().Validate(); err != nil {
			return err
		}

		before := totals()
		s, err := boot(ctx, c, []string{program}, io.Discard, strings.NewReader(""))
		if err != nil {
			return fmt.Errorf("%d frames: %w", n, err)
		}
		err = s.run(ctx)
		status := s.exitStatus()
		s.release()
		if err != nil {
			return fmt.Errorf("%d frames: %w", n, err)
		}
		after := totals()

		row := []string{fmt.Sprint(n), fmt.Sprint(status)}
		for i := range sweepMetrics {
			row = append(row, fmt.Sprint(after[i]-before[i]))
		}
		fmt.Fprintf(tw, "%s\t\n", strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func totals() []uint64 {
	vals := make([]uint64, len(sweepMetrics))
	for i, name := range sweepMetrics {
		vals[i], _ = metric.Total(name)
	}
	return vals
}
