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

// Package userprog contains sample user programs for the simulated machine.
//
// Each program is built for a given page size, since some of them touch
// memory with a page sized stride in order to generate page faults.
package userprog

import (
	"sort"

	"gvisor.dev/vmkernel/pkg/abi/sysno"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/machine/asm"
)

// Builder returns the executable for the given page size.
type Builder func(pageSize int) []byte

// Scratch registers. Syscalls only clobber the result register, so these
// survive across them.
const (
	r8  = 8
	r9  = 9
	r10 = 10
	r11 = 11
	r12 = 12
	r13 = 13
	r16 = 16
	r17 = 17
	r18 = 18
	r19 = 19
	r20 = 20
	r21 = 21
	r22 = 22

	a0 = machine.ArgReg0
	a1 = machine.ArgReg1
	a2 = machine.ArgReg2
	v0 = machine.RetReg
	sp = machine.StackReg
)

// Programs maps program names to builders.
var Programs = map[string]Builder{
	"halt":       Halt,
	"pages":      Pages,
	"forkthread": ForkThread,
	"files":      Files,
	"hello":      Hello,
	"stack":      func(int) []byte { return Stack(StackWords) },
	"execjoin":   func(int) []byte { return ExecJoin("pages") },
	"badaddr":    BadAddress,
	"writecode":  WriteCode,
}

// Names returns the program names in sorted order.
func Names() []string {
	names := make([]string, 0, len(Programs))
	for name := range Programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Halt stops the machine.
func Halt(int) []byte {
	p := asm.New()
	p.Syscall(sysno.Halt)
	return p.MustLink()
}

// PagesSequence is the reference string touched by Pages.
var PagesSequence = []int32{1, 2, 1, 0, 4, 1, 3, 4, 2, 1, 4, 1}

// PagesCount is the number of data pages touched by Pages.
const PagesCount = 5

// PagesResult is the exit status of Pages.
const PagesResult = 36

// Pages stores p+1 at the start of each of PagesCount pages of uninitialized
// data, then sums the pages named by PagesSequence and exits with the sum.
func Pages(pageSize int) []byte {
	p := asm.New()
	p.Space("mem", PagesCount*pageSize)
	p.Words("seq", PagesSequence...)

	p.Li(r16, 0)
	p.Li(r17, PagesCount)
	p.Label("fill")
	p.Li(r18, int32(pageSize))
	p.Mul(r19, r16, r18)
	p.La(r20, "mem")
	p.Add(r19, r19, r20)
	p.Addi(r21, r16, 1)
	p.Sw(r21, r19, 0)
	p.Addi(r16, r16, 1)
	p.Blt(r16, r17, "fill")

	p.Li(r16, 0)
	p.Li(r17, int32(len(PagesSequence)))
	p.Li(r22, 0)
	p.Label("sum")
	p.La(r20, "seq")
	p.Li(r18, 4)
	p.Mul(r19, r16, r18)
	p.Add(r19, r19, r20)
	p.Lw(r19, r19, 0)
	p.Li(r18, int32(pageSize))
	p.Mul(r19, r19, r18)
	p.La(r20, "mem")
	p.Add(r19, r19, r20)
	p.Lw(r21, r19, 0)
	p.Add(r22, r22, r21)
	p.Addi(r16, r16, 1)
	p.Blt(r16, r17, "sum")

	p.Move(a0, r22)
	p.Syscall(sysno.Exit)
	return p.MustLink()
}

// ForkThreadIterations is the number of increments each ForkThread member
// makes.
const ForkThreadIterations = 5

// ForkThread forks a child at "forked" and then runs "forked" itself. Both
// increment a shared counter ForkThreadIterations times, yielding after each
// increment, and exit with the counter's value.
func ForkThread(int) []byte {
	p := asm.New()
	p.Space("shared", 4)

	p.SwLabel(machine.ZeroReg, "shared", 0)
	p.La(a0, "forked")
	p.Syscall(sysno.Fork)
	p.J("forked")

	p.Label("forked")
	p.Li(r16, 0)
	p.Li(r17, ForkThreadIterations)
	p.Label("loop")
	p.LwLabel(r8, "shared", 0)
	p.Addi(r8, r8, 1)
	p.SwLabel(r8, "shared", 0)
	p.Syscall(sysno.Yield)
	p.Addi(r16, r16, 1)
	p.Blt(r16, r17, "loop")
	p.LwLabel(a0, "shared", 0)
	p.Syscall(sysno.Exit)
	return p.MustLink()
}

// FilesName is the file created by Files.
const FilesName = "numbers.bin"

// FilesResult is the exit status of Files.
const FilesResult = 55

// Files writes the bytes 1..10 to a new file, reads them back into a zeroed
// buffer and exits with their sum.
func Files(int) []byte {
	p := asm.New()
	p.Asciiz("name", FilesName)
	p.Space("arr", 10)

	p.La(a0, "name")
	p.Syscall(sysno.Create)
	p.La(a0, "name")
	p.Syscall(sysno.Open)
	p.Move(r16, v0)

	p.La(r10, "arr")
	p.Li(r8, 0)
	p.Li(r9, 10)
	p.Label("fill")
	p.Addi(r11, r8, 1)
	p.Add(r12, r10, r8)
	p.Sb(r11, r12, 0)
	p.Addi(r8, r8, 1)
	p.Blt(r8, r9, "fill")

	p.Move(a0, r10)
	p.Li(a1, 10)
	p.Move(a2, r16)
	p.Syscall(sysno.Write)
	p.Move(a0, r16)
	p.Syscall(sysno.Close)

	p.La(a0, "name")
	p.Syscall(sysno.Open)
	p.Move(r16, v0)
	p.Li(r8, 0)
	p.Label("zero")
	p.Add(r12, r10, r8)
	p.Sb(machine.ZeroReg, r12, 0)
	p.Addi(r8, r8, 1)
	p.Blt(r8, r9, "zero")

	p.Move(a0, r10)
	p.Li(a1, 10)
	p.Move(a2, r16)
	p.Syscall(sysno.Read)
	p.Move(a0, r16)
	p.Syscall(sysno.Close)

	p.Li(r8, 0)
	p.Li(r13, 0)
	p.Label("sum")
	p.Add(r12, r10, r8)
	p.Lb(r11, r12, 0)
	p.Add(r13, r13, r11)
	p.Addi(r8, r8, 1)
	p.Blt(r8, r9, "sum")

	p.Move(a0, r13)
	p.Syscall(sysno.Exit)
	return p.MustLink()
}

// HelloMessage is the text Hello writes to the console.
const HelloMessage = "hello, world\n"

// Hello writes HelloMessage to the console and exits with 0.
func Hello(int) []byte {
	p := asm.New()
	p.Asciiz("msg", HelloMessage)
	p.La(a0, "msg")
	p.Li(a1, int32(len(HelloMessage)))
	p.Li(a2, sysno.ConsoleOutput)
	p.Syscall(sysno.Write)
	p.Li(a0, 0)
	p.Syscall(sysno.Exit)
	return p.MustLink()
}

// StackWords is the number of words the "stack" program pushes.
const StackWords = 64

// Stack pushes the words 1..n below the initial stack pointer, reads them
// back and exits with their sum.
func Stack(n int) []byte {
	p := asm.New()
	p.Li(r8, 1)
	p.Li(r9, int32(n+1))
	p.Move(r10, sp)
	p.Label("push")
	p.Addi(r10, r10, -4)
	p.Sw(r8, r10, 0)
	p.Addi(r8, r8, 1)
	p.Blt(r8, r9, "push")

	p.Li(r8, 1)
	p.Move(r10, sp)
	p.Li(r13, 0)
	p.Label("pop")
	p.Addi(r10, r10, -4)
	p.Lw(r11, r10, 0)
	p.Add(r13, r13, r11)
	p.Addi(r8, r8, 1)
	p.Blt(r8, r9, "pop")

	p.Move(a0, r13)
	p.Syscall(sysno.Exit)
	return p.MustLink()
}

// ExecJoin runs the program named child, waits for it and exits with the
// child's status plus one.
func ExecJoin(child string) []byte {
	p := asm.New()
	p.Asciiz("child", child)
	p.La(a0, "child")
	p.Syscall(sysno.Exec)
	p.Move(a0, v0)
	p.Syscall(sysno.Join)
	p.Addi(a0, v0, 1)
	p.Syscall(sysno.Exit)
	return p.MustLink()
}

// BadAddress loads from an address far outside its address space.
func BadAddress(int) []byte {
	p := asm.New()
	p.Li(r8, 1<<20)
	p.Lw(r9, r8, 0)
	p.Li(a0, 0)
	p.Syscall(sysno.Exit)
	return p.MustLink()
}

// WriteCode stores into its own first instruction.
func WriteCode(int) []byte {
	p := asm.New()
	p.Sw(machine.ZeroReg, machine.ZeroReg, 0)
	p.Li(a0, 0)
	p.Syscall(sysno.Exit)
	return p.MustLink()
}
