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

// Package machine simulates the single CPU the kernel runs user programs on:
// a register file, physical memory, a software-loaded TLB and an interrupt
// controller with a periodic timer.
//
// The machine never consults page tables. Every user memory access goes
// through the TLB; a miss is reported to the kernel as a PageFaultException
// and the faulting instruction is retried once the handler returns.
package machine

import (
	"errors"
	"fmt"
)

// Default geometry. These match the classic teaching machine: tiny pages so
// that small programs span many of them.
const (
	DefaultPageSize     = 128
	DefaultNumPhysPages = 32
	DefaultTLBSize      = 4
	DefaultTimerTicks   = 100
)

// Register numbers.
const (
	// ZeroReg always reads as zero.
	ZeroReg = 0

	// RetReg holds the syscall code on entry and the result on return.
	RetReg = 2

	// ArgReg0 through ArgReg3 hold syscall arguments.
	ArgReg0 = 4
	ArgReg1 = 5
	ArgReg2 = 6
	ArgReg3 = 7

	// StackReg is the user stack pointer.
	StackReg = 29

	// RetAddrReg holds the return address of a JAL.
	RetAddrReg = 31

	// NumGPRegs is the number of general purpose registers.
	NumGPRegs = 32

	PCReg       = 34
	NextPCReg   = 35
	PrevPCReg   = 36
	BadVAddrReg = 39

	// NumTotalRegs is the size of the register file.
	NumTotalRegs = 40
)

// ExceptionType identifies the reason control transfers to the kernel.
type ExceptionType int

// Exception types.
const (
	NoException ExceptionType = iota
	SyscallException
	PageFaultException
	ReadOnlyException
	BusErrorException
	AddressErrorException
	OverflowException
	IllegalInstrException
)

var exceptionNames = [...]string{
	NoException:           "no exception",
	SyscallException:      "syscall",
	PageFaultException:    "page fault",
	ReadOnlyException:     "read-only",
	BusErrorException:     "bus error",
	AddressErrorException: "address error",
	OverflowException:     "overflow",
	IllegalInstrException: "illegal instruction",
}

// String implements fmt.Stringer.
func (e ExceptionType) String() string {
	if int(e) >= 0 && int(e) < len(exceptionNames) {
		return exceptionNames[e]
	}
	return fmt.Sprintf("exception(%d)", int(e))
}

// TranslationEntry is one virtual to physical page mapping, as held by the
// hardware TLB.
type TranslationEntry struct {
	VirtualPage  int
	PhysicalPage int
	Valid        bool
	ReadOnly     bool

	// Use is set by the hardware on every access through this entry.
	Use bool

	// Dirty is set by the hardware on every store through this entry.
	Dirty bool
}

// ExceptionHandler is the kernel entry point. A non-nil error stops Run and is
// returned from it; the kernel uses this to end the current thread.
type ExceptionHandler interface {
	HandleException(which ExceptionType) error
}

// Config is the machine geometry.
type Config struct {
	PageSize     int
	NumPhysPages int
	TLBSize      int

	// TimerTicks is the number of instructions between timer interrupts. Zero
	// disables the timer.
	TimerTicks int
}

// DefaultConfig returns the default geometry.
func DefaultConfig() Config {
	return Config{
		PageSize:     DefaultPageSize,
		NumPhysPages: DefaultNumPhysPages,
		TLBSize:      DefaultTLBSize,
		TimerTicks:   DefaultTimerTicks,
	}
}

// MinMappedPages is the number of pages one instruction may touch.
const MinMappedPages = 2

// Validate checks that the geometry is usable.
func (c Config) Validate() error {
	if c.PageSize <= 0 || c.PageSize%InstructionSize != 0 {
		return fmt.Errorf("page size %d must be a positive multiple of %d", c.PageSize, InstructionSize)
	}
	// A load or store needs its instruction's page and its data page mapped
	// at once.
	if c.NumPhysPages < MinMappedPages {
		return fmt.Errorf("number of physical pages must be at least %d, got %d", MinMappedPages, c.NumPhysPages)
	}
	if c.TLBSize < MinMappedPages {
		return fmt.Errorf("TLB size must be at least %d, got %d", MinMappedPages, c.TLBSize)
	}
	if c.TimerTicks < 0 {
		return fmt.Errorf("timer ticks must not be negative, got %d", c.TimerTicks)
	}
	return nil
}

// ErrFault is returned by ReadMem and WriteMem when the access raised an
// exception that the kernel handled. The access should be retried.
var ErrFault = errors.New("memory access faulted")

// ErrHalted is returned by Run once the machine has been halted.
var ErrHalted = errors.New("machine halted")

// Machine is the simulated CPU.
type Machine struct {
	cfg Config

	// Registers is the user register file.
	Registers [NumTotalRegs]int32

	// MainMemory is physical memory, NumPhysPages*PageSize bytes.
	MainMemory []byte

	// TLB is the hardware translation cache. The kernel reads and writes it
	// directly.
	TLB []TranslationEntry

	// Interrupt is the interrupt controller.
	Interrupt *Interrupt

	handler ExceptionHandler
	halted  bool
}

// New returns a machine with zeroed memory, an empty TLB and interrupts
// disabled.
func New(cfg Config) (*Machine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Machine{
		cfg:        cfg,
		MainMemory: make([]byte, cfg.NumPhysPages*cfg.PageSize),
		TLB:        make([]TranslationEntry, cfg.TLBSize),
		Interrupt:  newInterrupt(cfg.TimerTicks),
	}, nil
}

// Config returns the machine geometry.
func (m *Machine) Config() Config { return m.cfg }

// PageSize returns the page size in bytes.
func (m *Machine) PageSize() int { return m.cfg.PageSize }

// NumPhysPages returns the number of physical frames.
func (m *Machine) NumPhysPages() int { return m.cfg.NumPhysPages }

// SetExceptionHandler installs the kernel entry point.
func (m *Machine) SetExceptionHandler(h ExceptionHandler) {
	m.handler = h
}

// ReadRegister returns register r.
func (m *Machine) ReadRegister(r int) int32 {
	return m.Registers[r]
}

// WriteRegister sets register r. Writes to ZeroReg are ignored.
func (m *Machine) WriteRegister(r int, v int32) {
	if r == ZeroReg {
		return
	}
	m.Registers[r] = v
}

// FrameBytes returns the backing bytes of physical frame ppn.
func (m *Machine) FrameBytes(ppn int) []byte {
	off := ppn * m.cfg.PageSize
	return m.MainMemory[off : off+m.cfg.PageSize : off+m.cfg.PageSize]
}

// FlushTLB invalidates every hardware TLB entry.
func (m *Machine) FlushTLB() {
	for i := range m.TLB {
		m.TLB[i] = TranslationEntry{}
	}
}

// RaiseException records badVAddr and transfers control to the kernel.
func (m *Machine) RaiseException(which ExceptionType, badVAddr int32) error {
	m.Registers[BadVAddrReg] = badVAddr
	if m.handler == nil {
		return fmt.Errorf("%v exception at 0x%x with no handler installed", which, badVAddr)
	}
	return m.handler.HandleException(which)
}

// Halt stops the machine. Run returns ErrHalted on its next instruction.
func (m *Machine) Halt() {
	m.halted = true
}

// Halted reports whether Halt has been called.
func (m *Machine) Halted() bool {
	return m.halted
}
