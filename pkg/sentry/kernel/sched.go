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
	gocontext "context"
	"fmt"

	"golang.org/x/sync/errgroup"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/sentry/context"
	"gvisor.dev/vmkernel/pkg/sentry/mm"
)

// ThreadFunc is the body of a thread. It runs only while the thread holds
// the CPU. A non-nil error stops the whole scheduler.
type ThreadFunc func(t *Thread) error

// Thread is a kernel thread. Threads are goroutines, but at most one of them
// runs at a time: the one holding the CPU.
type Thread struct {
	name string
	pid  int32
	fn   ThreadFunc

	// ctx carries the thread's identity for logging.
	ctx context.Context

	// space is the thread's user address space, or nil for a kernel-only
	// thread.
	space *mm.AddressSpace

	// regs holds the user registers while the thread is switched out.
	regs [machine.NumTotalRegs]int32

	// level is the interrupt level while the thread is switched out.
	level machine.IntStatus

	// wake receives the CPU.
	wake chan struct{}

	finished bool
}

// Name returns the thread's name.
func (t *Thread) Name() string { return t.name }

// PID returns the identifier of the process the thread belongs to.
func (t *Thread) PID() int32 { return t.pid }

// Context returns the thread's context.
func (t *Thread) Context() context.Context { return t.ctx }

// Space returns the thread's address space.
func (t *Thread) Space() *mm.AddressSpace { return t.space }

// String implements fmt.Stringer.
func (t *Thread) String() string {
	return fmt.Sprintf("%s[%d]", t.name, t.pid)
}

// Scheduler runs threads one at a time, in FIFO order, switching only when
// the running thread yields or finishes.
//
// A context switch saves the outgoing thread's registers, interrupt level
// and TLB, and restores the incoming thread's.
//
// Scheduler state is only touched by the thread holding the CPU, and by Run
// before the first thread starts; handing over the CPU through a channel
// orders those accesses.
type Scheduler struct {
	m *machine.Machine

	current *Thread
	ready   []*Thread

	// pending holds threads forked before Run.
	pending []*Thread

	// all holds every thread ever forked, in fork order.
	all []*Thread

	g    *errgroup.Group
	gctx gocontext.Context

	// idle is closed when the last thread finishes.
	idle chan struct{}
}

// NewScheduler returns a scheduler switching threads on m.
func NewScheduler(m *machine.Machine) *Scheduler {
	return &Scheduler{
		m:    m,
		idle: make(chan struct{}),
	}
}

// Current returns the thread holding the CPU.
func (s *Scheduler) Current() *Thread {
	return s.current
}

// Threads returns every thread forked so far, finished or not. It must not
// be called while Run is running threads.
func (s *Scheduler) Threads() []*Thread {
	return s.all
}

// Fork creates a thread running fn and appends it to the ready queue.
func (s *Scheduler) Fork(ctx context.Context, name string, pid int32, space *mm.AddressSpace, fn ThreadFunc) *Thread {
	t := &Thread{
		name:  name,
		pid:   pid,
		fn:    fn,
		space: space,
		level: machine.IntOn,
		wake:  make(chan struct{}, 1),
	}
	t.ctx = context.WithValue(context.WithValue(ctx, context.CtxThreadName, name), context.CtxProcessID, pid)
	s.ready = append(s.ready, t)
	s.all = append(s.all, t)
	if s.g == nil {
		s.pending = append(s.pending, t)
	} else {
		s.start(t)
	}
	t.ctx.Debugf("Forked thread %v", t)
	return t
}

func (s *Scheduler) start(t *Thread) {
	s.g.Go(func() error {
		if err := s.wait(t); err != nil {
			return err
		}
		if err := t.fn(t); err != nil {
			return fmt.Errorf("thread %v: %w", t, err)
		}
		s.Finish(t)
		return nil
	})
}

// wait blocks until t is given the CPU.
func (s *Scheduler) wait(t *Thread) error {
	select {
	case <-t.wake:
		return nil
	case <-s.gctx.Done():
		return s.gctx.Err()
	}
}

// Run runs threads until none is left, or until a thread returns an error,
// which is returned.
func (s *Scheduler) Run(ctx gocontext.Context) error {
	if s.g != nil {
		panic("scheduler already running")
	}
	s.g, s.gctx = errgroup.WithContext(ctx)
	pending := s.pending
	s.pending = nil
	for _, t := range pending {
		s.start(t)
	}
	if next := s.dequeue(); next != nil {
		s.switchTo(next)
	} else {
		close(s.idle)
	}

	select {
	case <-s.idle:
	case <-s.gctx.Done():
	}
	return s.g.Wait()
}

func (s *Scheduler) dequeue() *Thread {
	if len(s.ready) == 0 {
		return nil
	}
	t := s.ready[0]
	s.ready = s.ready[1:]
	return t
}

// Yield gives the CPU to the next ready thread, if any, and returns when t
// holds it again. t must be the current thread.
func (s *Scheduler) Yield(t *Thread) error {
	s.checkCurrent(t)
	if err := s.gctx.Err(); err != nil {
		return err
	}
	next := s.dequeue()
	if next == nil {
		return nil
	}
	s.ready = append(s.ready, t)
	s.save(t)
	s.switchTo(next)
	return s.wait(t)
}

// Finish ends t, which must be the current thread, and gives the CPU away.
// t's goroutine must return without touching scheduler state afterwards.
func (s *Scheduler) Finish(t *Thread) {
	s.checkCurrent(t)
	t.finished = true
	t.ctx.Debugf("Finished thread %v", t)
	if next := s.dequeue(); next != nil {
		s.switchTo(next)
		return
	}
	s.current = nil
	close(s.idle)
}

func (s *Scheduler) checkCurrent(t *Thread) {
	if s.current != t {
		panic(fmt.Sprintf("thread %v is not running, current is %v", t, s.current))
	}
}

// save records the machine state of the outgoing thread t.
func (s *Scheduler) save(t *Thread) {
	t.level = s.m.Interrupt.SetLevel(machine.IntOff)
	if t.space != nil {
		t.regs = s.m.Registers
		t.space.SaveState()
	}
}

// switchTo loads t's machine state and hands it the CPU.
func (s *Scheduler) switchTo(t *Thread) {
	s.current = t
	if t.space != nil {
		s.m.Registers = t.regs
		t.space.RestoreState()
	}
	s.m.Interrupt.SetLevel(t.level)
	t.wake <- struct{}{}
}
