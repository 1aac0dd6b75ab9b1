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
	gocontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vmkernel/pkg/abi/sysno"
	"gvisor.dev/vmkernel/pkg/log"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/machine/asm"
	"gvisor.dev/vmkernel/pkg/sentry/context"
	"gvisor.dev/vmkernel/pkg/sentry/context/contexttest"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
	"gvisor.dev/vmkernel/pkg/sentry/fsimpl/host"
	"gvisor.dev/vmkernel/pkg/sentry/fsimpl/memfs"
	"gvisor.dev/vmkernel/pkg/sentry/mm"
	"gvisor.dev/vmkernel/pkg/userprog"
)

const testPageSize = 128

func testConfig(frames, timerTicks int, policy TLBPolicy) Config {
	return Config{
		Machine: machine.Config{
			PageSize:     testPageSize,
			NumPhysPages: frames,
			TLBSize:      4,
			TimerTicks:   timerTicks,
		},
		UserStackSize: 8 * testPageSize,
		TLBPolicy:     policy,
		Seed:          1,
	}
}

type testKernel struct {
	*Kernel
	ctx     context.Context
	fsys    *memfs.FileSystem
	console *bytes.Buffer
}

// newTestKernel boots a kernel whose file system holds every sample program
// plus extra.
func newTestKernel(t *testing.T, cfg Config, input string, extra map[string][]byte) *testKernel {
	t.Helper()
	ctx := contexttest.Context(t)
	fsys := memfs.New()
	for name, build := range userprog.Programs {
		if err := fs.WriteFile(ctx, fsys, name, build(cfg.Machine.PageSize)); err != nil {
			t.Fatalf("WriteFile(%q): %v", name, err)
		}
	}
	for name, exe := range extra {
		if err := fs.WriteFile(ctx, fsys, name, exe); err != nil {
			t.Fatalf("WriteFile(%q): %v", name, err)
		}
	}
	console := &bytes.Buffer{}
	k, err := New(cfg, fsys, console, strings.NewReader(input))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return &testKernel{Kernel: k, ctx: ctx, fsys: fsys, console: console}
}

func (k *testKernel) run(t *testing.T, program string) {
	t.Helper()
	if _, err := k.Exec(k.ctx, program); err != nil {
		t.Fatalf("Exec(%q): %v", program, err)
	}
	if err := k.Run(gocontext.Background()); err != nil {
		t.Fatalf("Run: %v\nconsole:\n%s", err, k.console)
	}
	k.alloc.CheckInvariants()
}

// checkTornDown verifies that every frame and swap file was released.
func (k *testKernel) checkTornDown(t *testing.T) {
	t.Helper()
	if got, want := k.alloc.Available(), k.alloc.NumFrames(); got != want {
		t.Errorf("Available = %d, want %d", got, want)
	}
	checkNoSwapFiles(t, k.ctx, k.fsys)
}

func checkNoSwapFiles(t *testing.T, ctx context.Context, fsys fs.FileSystem) {
	t.Helper()
	files, err := fsys.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, f := range files {
		if strings.HasPrefix(f, mm.SwapFilePrefix) {
			t.Errorf("swap file %q left behind", f)
		}
	}
}

func exitLine(name string, status int) string {
	return fmt.Sprintf("%s exit with code %d.\n", name, status)
}

func TestPrograms(t *testing.T) {
	for _, tc := range []struct {
		program string
		want    string
	}{
		{"pages", exitLine("pages", userprog.PagesResult)},
		{"files", exitLine("files", userprog.FilesResult)},
		{"hello", userprog.HelloMessage + exitLine("hello", 0)},
		{"stack", exitLine("stack", userprog.StackWords*(userprog.StackWords+1)/2)},
		{"execjoin", exitLine("pages", userprog.PagesResult) + exitLine("execjoin", userprog.PagesResult+1)},
	} {
		for _, policy := range []TLBPolicy{TLBFIFO, TLBAging} {
			for _, frames := range []int{3, 8, 32} {
				t.Run(fmt.Sprintf("%s/%v/%d", tc.program, policy, frames), func(t *testing.T) {
					k := newTestKernel(t, testConfig(frames, 7, policy), "", nil)
					k.run(t, tc.program)
					if got := k.console.String(); got != tc.want {
						t.Errorf("console = %q, want %q", got, tc.want)
					}
					k.checkTornDown(t)
				})
			}
		}
	}
}

func TestFilesCreatesFile(t *testing.T) {
	k := newTestKernel(t, testConfig(8, 0, TLBFIFO), "", nil)
	k.run(t, "files")
	f, err := k.fsys.Open(k.ctx, userprog.FilesName)
	if err != nil {
		t.Fatalf("Open(%q): %v", userprog.FilesName, err)
	}
	defer f.Close()
	got := make([]byte, f.Length())
	if err := fs.ReadFull(f, got, 0); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}; !bytes.Equal(got, want) {
		t.Errorf("file contents = %v, want %v", got, want)
	}
	if n := k.FDs().Size(); n != 0 {
		t.Errorf("%d files left open", n)
	}
}

func TestForkThread(t *testing.T) {
	k := newTestKernel(t, testConfig(8, 0, TLBFIFO), "", nil)
	k.run(t, "forkthread")
	want := exitLine("forkthread", 2*userprog.ForkThreadIterations) + exitLine("forkthread/fork", 2*userprog.ForkThreadIterations)
	if got := k.console.String(); got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
	k.checkTornDown(t)
	if diff := cmp.Diff([]ProcessInfo{{ID: 1, Name: "forkthread", Status: 10}}, k.Processes()); diff != "" {
		t.Errorf("processes mismatch (-want +got):\n%s", diff)
	}
}

func TestForkThreadPreempted(t *testing.T) {
	for _, ticks := range []int{1, 3, 10} {
		t.Run(fmt.Sprint(ticks), func(t *testing.T) {
			k := newTestKernel(t, testConfig(4, ticks, TLBAging), "", nil)
			k.run(t, "forkthread")
			out := k.console.String()
			for _, name := range []string{"forkthread exit", "forkthread/fork exit"} {
				if !strings.Contains(out, name) {
					t.Errorf("console %q lacks %q", out, name)
				}
			}
			k.checkTornDown(t)
		})
	}
}

func TestKilledPrograms(t *testing.T) {
	for _, tc := range []struct {
		program string
		reason  string
	}{
		{"badaddr", "bad virtual address"},
		{"writecode", "write to read-only page"},
	} {
		t.Run(tc.program, func(t *testing.T) {
			k := newTestKernel(t, testConfig(8, 0, TLBFIFO), "", nil)
			k.run(t, tc.program)
			out := k.console.String()
			if !strings.Contains(out, tc.reason) {
				t.Errorf("console %q does not mention %q", out, tc.reason)
			}
			if !strings.HasSuffix(out, exitLine(tc.program, -1)) {
				t.Errorf("console %q does not end with the exit line", out)
			}
			k.checkTornDown(t)
		})
	}
}

func TestUnknownSyscall(t *testing.T) {
	p := asm.New()
	p.Syscall(sysno.Sysno(42))
	p.Li(machine.ArgReg0, 0)
	p.Syscall(sysno.Exit)
	k := newTestKernel(t, testConfig(8, 0, TLBFIFO), "", map[string][]byte{"bogus": p.MustLink()})
	k.run(t, "bogus")
	out := k.console.String()
	if !strings.Contains(out, "unknown syscall code") || !strings.HasSuffix(out, exitLine("bogus", -1)) {
		t.Errorf("console = %q", out)
	}
}

func TestJoinUnknown(t *testing.T) {
	p := asm.New()
	p.Li(machine.ArgReg0, 99)
	p.Syscall(sysno.Join)
	p.Move(machine.ArgReg0, machine.RetReg)
	p.Syscall(sysno.Exit)
	k := newTestKernel(t, testConfig(8, 0, TLBFIFO), "", map[string][]byte{"joinbad": p.MustLink()})
	k.run(t, "joinbad")
	if got, want := k.console.String(), exitLine("joinbad", -1); got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
}

func TestExecMissing(t *testing.T) {
	p := asm.New()
	p.Asciiz("name", "nosuchfile")
	p.La(machine.ArgReg0, "name")
	p.Syscall(sysno.Exec)
	p.Move(machine.ArgReg0, machine.RetReg)
	p.Syscall(sysno.Exit)
	k := newTestKernel(t, testConfig(8, 0, TLBFIFO), "", map[string][]byte{"execbad": p.MustLink()})
	k.run(t, "execbad")
	if got, want := k.console.String(), exitLine("execbad", -1); got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
}

func TestConsoleEcho(t *testing.T) {
	p := asm.New()
	p.Space("buf", 16)
	p.La(machine.ArgReg0, "buf")
	p.Li(machine.ArgReg1, 5)
	p.Li(machine.ArgReg2, sysno.ConsoleInput)
	p.Syscall(sysno.Read)
	p.Move(16, machine.RetReg)
	p.La(machine.ArgReg0, "buf")
	p.Move(machine.ArgReg1, 16)
	p.Li(machine.ArgReg2, sysno.ConsoleOutput)
	p.Syscall(sysno.Write)
	p.Move(machine.ArgReg0, 16)
	p.Syscall(sysno.Exit)
	k := newTestKernel(t, testConfig(8, 0, TLBFIFO), "abcdefgh", map[string][]byte{"echo": p.MustLink()})
	k.run(t, "echo")
	if got, want := k.console.String(), "abcde"+exitLine("echo", 5); got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
}

func TestHalt(t *testing.T) {
	k := newTestKernel(t, testConfig(8, 0, TLBFIFO), "", nil)
	// A second process is ready when the first halts; it must not run.
	if _, err := k.Exec(k.ctx, "halt"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if _, err := k.Exec(k.ctx, "hello"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := k.Run(gocontext.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !k.Machine().Halted() {
		t.Errorf("machine not halted")
	}
	if got := k.console.String(); got != "" {
		t.Errorf("console = %q, want nothing", got)
	}
	k.checkTornDown(t)
	for _, p := range k.Processes() {
		if p.Exited() {
			t.Errorf("process %+v exited, want it stopped by the halt", p)
		}
	}
}

func TestHaltThenReboot(t *testing.T) {
	ctx := contexttest.Context(t)
	dir := t.TempDir()
	boot := func(program string) string {
		t.Helper()
		fsys, err := host.New(ctx, dir)
		if err != nil {
			t.Fatalf("host.New: %v", err)
		}
		defer fsys.Release()
		if files, _ := fsys.List(ctx); len(files) == 0 {
			for _, name := range []string{"halt", "pages"} {
				if err := fs.WriteFile(ctx, fsys, name, userprog.Programs[name](testPageSize)); err != nil {
					t.Fatalf("WriteFile(%q): %v", name, err)
				}
			}
		}
		var console bytes.Buffer
		k, err := New(testConfig(8, 7, TLBFIFO), fsys, &console, nil)
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		if _, err := k.Exec(ctx, program); err != nil {
			t.Fatalf("Exec(%q): %v", program, err)
		}
		if err := k.Run(gocontext.Background()); err != nil {
			t.Fatalf("Run: %v", err)
		}
		checkNoSwapFiles(t, ctx, fsys)
		return console.String()
	}

	if got := boot("halt"); got != "" {
		t.Errorf("halt console = %q, want nothing", got)
	}
	// The second kernel numbers its page tables from 1 again.
	if got, want := boot("pages"), exitLine("pages", userprog.PagesResult); got != want {
		t.Errorf("pages console = %q, want %q", got, want)
	}
}

func TestStaleSwapFilesRemoved(t *testing.T) {
	ctx := contexttest.Context(t)
	fsys := memfs.New()
	if err := fs.WriteFile(ctx, fsys, "hello", userprog.Hello(testPageSize)); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{mm.SwapFilePrefix + "1", mm.SwapFilePrefix + "2"} {
		if err := fsys.Create(ctx, name, 64); err != nil {
			t.Fatal(err)
		}
	}
	var console bytes.Buffer
	k, err := New(testConfig(8, 0, TLBFIFO), fsys, &console, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := k.Exec(ctx, "hello"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := k.Run(gocontext.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := console.String(), userprog.HelloMessage+exitLine("hello", 0); got != want {
		t.Errorf("console = %q, want %q", got, want)
	}
	files, err := fsys.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"hello"}, files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
}

func TestCanceledRunTearsDown(t *testing.T) {
	p := asm.New()
	p.Label("spin")
	p.J("spin")
	k := newTestKernel(t, testConfig(8, 7, TLBFIFO), "", map[string][]byte{"spin": p.MustLink()})
	for range 2 {
		if _, err := k.Exec(k.ctx, "spin"); err != nil {
			t.Fatalf("Exec: %v", err)
		}
	}
	ctx, cancel := gocontext.WithCancel(gocontext.Background())
	cancel()
	if err := k.Run(ctx); !errors.Is(err, gocontext.Canceled) {
		t.Errorf("Run = %v, want %v", err, gocontext.Canceled)
	}
	k.alloc.CheckInvariants()
	k.checkTornDown(t)
}

// tickRecord is the part of a JSON log line carrying the tick stamp.
type tickRecord struct {
	Msg  string  `json:"msg"`
	Tick *uint64 `json:"tick"`
}

func decodeTicks(t *testing.T, r io.Reader) []tickRecord {
	t.Helper()
	var recs []tickRecord
	dec := json.NewDecoder(r)
	for {
		var rec tickRecord
		if err := dec.Decode(&rec); err == io.EOF {
			return recs
		} else if err != nil {
			t.Fatalf("Decode: %v", err)
		}
		recs = append(recs, rec)
	}
}

func TestLogTickStamp(t *testing.T) {
	var buf bytes.Buffer
	l := &log.BasicLogger{Level: log.Debug, Emitter: log.JSONEmitter{Writer: &log.Writer{Next: &buf}}}
	ctx := context.WithLogger(gocontext.Background(), l)

	k := newTestKernel(t, testConfig(8, 0, TLBFIFO), "", nil)
	if _, err := k.Exec(ctx, "pages"); err != nil {
		t.Fatalf("Exec: %v", err)
	}
	if err := k.Run(gocontext.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	var last uint64
	recs := decodeTicks(t, &buf)
	for _, rec := range recs {
		if rec.Tick == nil {
			t.Fatalf("line %q has no tick", rec.Msg)
		}
		if *rec.Tick < last {
			t.Errorf("line %q has tick %d, before the previous line's %d", rec.Msg, *rec.Tick, last)
		}
		last = *rec.Tick
	}
	if len(recs) == 0 || last == 0 {
		t.Errorf("no line logged after the first instruction in %d lines", len(recs))
	}

	// The stamp goes away with the kernel.
	buf.Reset()
	l.Infof("after the kernel stopped")
	if recs := decodeTicks(t, &buf); len(recs) != 1 || recs[0].Tick != nil {
		t.Errorf("records after Run = %+v, want one without a tick", recs)
	}
}

func TestSyscallIncPC(t *testing.T) {
	k := newTestKernel(t, testConfig(8, 0, TLBFIFO), "", nil)
	m := k.Machine()
	m.WriteRegister(machine.PCReg, 64)
	m.WriteRegister(machine.NextPCReg, 72)
	k.incPC()
	got := []int32{m.ReadRegister(machine.PrevPCReg), m.ReadRegister(machine.PCReg), m.ReadRegister(machine.NextPCReg)}
	if diff := cmp.Diff([]int32{64, 72, 80}, got); diff != "" {
		t.Errorf("PrevPC, PC, NextPC mismatch (-want +got):\n%s", diff)
	}
}

func TestNewInvalidConfig(t *testing.T) {
	cfg := testConfig(8, 0, TLBFIFO)
	cfg.UserStackSize = 100
	if _, err := New(cfg, memfs.New(), &bytes.Buffer{}, nil); err == nil {
		t.Errorf("New with unaligned stack succeeded")
	}
	cfg = testConfig(0, 0, TLBFIFO)
	if _, err := New(cfg, memfs.New(), &bytes.Buffer{}, nil); err == nil {
		t.Errorf("New without frames succeeded")
	}
	// One frame cannot hold an instruction and the data it loads.
	cfg = testConfig(1, 0, TLBFIFO)
	if _, err := New(cfg, memfs.New(), &bytes.Buffer{}, nil); err == nil {
		t.Errorf("New with one frame succeeded")
	}
	cfg = testConfig(8, 0, TLBFIFO)
	cfg.Machine.TLBSize = 1
	if _, err := New(cfg, memfs.New(), &bytes.Buffer{}, nil); err == nil {
		t.Errorf("New with one TLB slot succeeded")
	}
}
