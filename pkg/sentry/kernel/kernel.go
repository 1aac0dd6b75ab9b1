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

// Package kernel runs user programs on the simulated machine: it schedules
// threads, services system calls and page faults, and keeps the process
// registry.
//
// There is one CPU. Threads hand it to each other cooperatively, on explicit
// yields and on timer interrupts, so at most one thread executes kernel or
// user code at any time. Interrupts are disabled around every operation
// touching the frame allocator or the TLB.
package kernel

import (
	gocontext "context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/log"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/sentry/context"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
	"gvisor.dev/vmkernel/pkg/sentry/mm"
	"gvisor.dev/vmkernel/pkg/sentry/pgalloc"
)

// errThreadExit unwinds a thread's machine loop once it has exited.
var errThreadExit = errors.New("thread exited")

// Config configures a Kernel.
type Config struct {
	// Machine is the machine geometry.
	Machine machine.Config

	// UserStackSize is the size of each thread's stack in bytes.
	UserStackSize int

	// TLBPolicy chooses the TLB slot refilled on a miss.
	TLBPolicy TLBPolicy

	// Seed seeds the random tie breaks of frame and TLB slot replacement.
	Seed uint64
}

// Kernel is the simulated operating system.
type Kernel struct {
	m      *machine.Machine
	alloc  *pgalloc.Allocator
	fs     fs.FileSystem
	mem    *mm.System
	sched  *Scheduler
	faults faultController
	procs  *Registry
	fds    *FDTable

	console io.Writer
	input   io.Reader
}

// New boots a kernel on a fresh machine. Executables and swap files live in
// fsys. User programs write the console to console and read it from input,
// which may be nil.
func New(cfg Config, fsys fs.FileSystem, console io.Writer, input io.Reader) (*Kernel, error) {
	m, err := machine.New(cfg.Machine)
	if err != nil {
		return nil, err
	}
	if cfg.UserStackSize <= 0 || cfg.UserStackSize%cfg.Machine.PageSize != 0 {
		return nil, fmt.Errorf("user stack size %d is not a positive multiple of the page size %d", cfg.UserStackSize, cfg.Machine.PageSize)
	}
	// Swap files on a disk we hold are never in use by another kernel.
	if err := mm.RemoveStaleSwapFiles(context.Background(), fsys); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed))
	alloc := pgalloc.New(cfg.Machine.NumPhysPages, rng)
	k := &Kernel{
		m:     m,
		alloc: alloc,
		fs:    fsys,
		mem: &mm.System{
			Machine:       m,
			Allocator:     alloc,
			FS:            fsys,
			UserStackSize: cfg.UserStackSize,
			Rand:          rng,
		},
		sched:   NewScheduler(m),
		faults:  faultController{m: m, policy: cfg.TLBPolicy},
		procs:   NewRegistry(),
		fds:     NewFDTable(),
		console: console,
		input:   input,
	}
	m.SetExceptionHandler(k)
	m.Interrupt.SetTimerHandler(k.timerInterrupt)
	log.SetTickSource(m.Interrupt.Ticks)
	return k, nil
}

// Machine returns the simulated machine.
func (k *Kernel) Machine() *machine.Machine { return k.m }

// Allocator returns the frame allocator.
func (k *Kernel) Allocator() *pgalloc.Allocator { return k.alloc }

// Processes returns a snapshot of the process registry.
func (k *Kernel) Processes() []ProcessInfo { return k.procs.List() }

// FDs returns the open file table.
func (k *Kernel) FDs() *FDTable { return k.fds }

// Exec starts the executable name as a new process and returns its
// identifier. The process runs once the kernel schedules it.
func (k *Kernel) Exec(ctx context.Context, name string) (int32, error) {
	f, err := k.fs.Open(ctx, name)
	if err != nil {
		return -1, fmt.Errorf("exec %q: %w", name, err)
	}
	as, err := mm.New(ctx, k.mem, f)
	if err != nil {
		return -1, fmt.Errorf("exec %q: %w", name, err)
	}
	pid := k.procs.Add(name, as.Image())
	k.sched.Fork(ctx, name, pid, as, func(t *Thread) error {
		as.InitRegisters()
		return k.runUser(t)
	})
	ctx.Infof("Exec'd %q as process %d", name, pid)
	return pid, nil
}

// Run runs threads until every thread has finished or the machine is
// halted. An error means the kernel itself failed. Once Run returns, every
// address space is released and the disk holds no swap files.
func (k *Kernel) Run(ctx gocontext.Context) error {
	err := k.sched.Run(ctx)
	k.teardown(context.Background())
	return err
}

// teardown frees what threads still held when the scheduler stopped: the
// address spaces of threads that never exited and the images of processes
// with such threads. No thread runs at this point.
func (k *Kernel) teardown(ctx context.Context) {
	k.fds.RemoveAll()
	for _, t := range k.sched.Threads() {
		if t.space != nil && !t.space.Released() {
			t.space.Release(ctx)
		}
	}
	for _, img := range k.procs.Teardown() {
		img.FreeSharedPages(ctx)
	}
	k.m.FlushTLB()
	log.SetTickSource(nil)
}

// runUser runs t's user program until the thread exits.
func (k *Kernel) runUser(t *Thread) error {
	err := k.m.Run()
	switch {
	case errors.Is(err, errThreadExit):
		return nil
	case errors.Is(err, machine.ErrHalted):
		t.ctx.Debugf("Machine halted, stopping thread %v", t)
		return nil
	}
	return err
}

// HandleException implements machine.ExceptionHandler.HandleException.
func (k *Kernel) HandleException(which machine.ExceptionType) error {
	t := k.sched.Current()
	badVAddr := k.m.ReadRegister(machine.BadVAddrReg)
	switch which {
	case machine.SyscallException:
		return k.syscall(t)
	case machine.PageFaultException:
		if err := k.faults.handle(t.ctx, t.space, badVAddr); err != nil {
			return k.kill(t, err)
		}
		return nil
	case machine.ReadOnlyException:
		return k.kill(t, fmt.Errorf("store at %#x: %w", badVAddr, kernerr.ErrReadOnly))
	default:
		return k.kill(t, fmt.Errorf("%v at %#x: %w", which, badVAddr, kernerr.ErrUserException))
	}
}

// kill ends t's process thread with status -1 after err, unless err means
// the kernel itself is broken, in which case err is returned to stop it.
func (k *Kernel) kill(t *Thread, err error) error {
	if !kernerr.KillsThread(err) {
		return err
	}
	t.ctx.Warningf("Killing thread %v: %v", t, err)
	fmt.Fprintf(k.console, "%s: %v\n", t.name, err)
	return k.exit(t, -1)
}

// exit ends thread t with status and returns errThreadExit. When t is the
// last thread of its process, the process's shared pages are freed.
func (k *Kernel) exit(t *Thread, status int32) error {
	fmt.Fprintf(k.console, "%s exit with code %d.\n", t.name, status)
	restore := k.m.Interrupt.Disable()
	defer restore()

	img, err := k.procs.Exit(t.pid, status)
	if err != nil {
		return err
	}
	t.space.Release(t.ctx)
	if img != nil {
		img.FreeSharedPages(t.ctx)
		t.ctx.Debugf("Process %d exited with status %d", t.pid, status)
	}
	k.m.FlushTLB()
	return errThreadExit
}

// timerInterrupt ages the TLB and the frames, then preempts the current
// thread.
func (k *Kernel) timerInterrupt() error {
	t := k.sched.Current()
	if t == nil {
		return nil
	}
	if t.space != nil {
		t.space.UpdateTLBCounter()
	}
	k.alloc.UpdateCount()
	return k.sched.Yield(t)
}
