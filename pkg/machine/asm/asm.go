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

// Package asm is a small assembler for the simulated machine.
//
// Programs are written in Go by calling one method per instruction. Branch
// targets and data addresses are symbolic labels resolved by Link, which
// lays the program out as a NOFF executable: code at address 0, initialized
// data after the code and uninitialized data after that.
package asm

import (
	"encoding/binary"
	"fmt"

	"gvisor.dev/vmkernel/pkg/abi/sysno"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/noff"
)

type section int

const (
	text section = iota
	data
	bss
)

type symbol struct {
	sec section
	off int
}

// fixup patches the immediate of instruction idx with the address of label
// plus addend.
type fixup struct {
	idx    int
	label  string
	addend int32
}

// Program is a program under construction.
type Program struct {
	text    []machine.Instruction
	data    []byte
	bssSize int
	symbols map[string]symbol
	fixups  []fixup
	err     error
}

// New returns an empty program.
func New() *Program {
	return &Program{symbols: make(map[string]symbol)}
}

func (p *Program) define(name string, s symbol) {
	if _, ok := p.symbols[name]; ok && p.err == nil {
		p.err = fmt.Errorf("label %q defined twice", name)
	}
	p.symbols[name] = s
}

// Label defines name as the address of the next instruction.
func (p *Program) Label(name string) {
	p.define(name, symbol{text, len(p.text) * machine.InstructionSize})
}

// Words defines name as an initialized array of words.
func (p *Program) Words(name string, words ...int32) {
	p.align()
	p.define(name, symbol{data, len(p.data)})
	for _, w := range words {
		p.data = binary.LittleEndian.AppendUint32(p.data, uint32(w))
	}
}

// Asciiz defines name as a NUL terminated string.
func (p *Program) Asciiz(name, s string) {
	p.define(name, symbol{data, len(p.data)})
	p.data = append(p.data, s...)
	p.data = append(p.data, 0)
}

// Space defines name as size bytes of zeroed, word aligned storage.
func (p *Program) Space(name string, size int) {
	p.bssSize = (p.bssSize + 3) &^ 3
	p.define(name, symbol{bss, p.bssSize})
	p.bssSize += size
}

func (p *Program) align() {
	for len(p.data)%4 != 0 {
		p.data = append(p.data, 0)
	}
}

// Emit appends a raw instruction.
func (p *Program) Emit(in machine.Instruction) {
	p.text = append(p.text, in)
}

func (p *Program) emitRef(in machine.Instruction, label string, addend int32) {
	p.fixups = append(p.fixups, fixup{idx: len(p.text), label: label, addend: addend})
	p.Emit(in)
}

// Nop emits a no-op.
func (p *Program) Nop() { p.Emit(machine.Instruction{Op: machine.OpNop}) }

// Li loads an immediate.
func (p *Program) Li(rd uint8, imm int32) {
	p.Emit(machine.Instruction{Op: machine.OpLI, A: rd, Imm: imm})
}

// La loads the address of label.
func (p *Program) La(rd uint8, label string) {
	p.emitRef(machine.Instruction{Op: machine.OpLI, A: rd}, label, 0)
}

// Move copies rs to rd.
func (p *Program) Move(rd, rs uint8) { p.Addi(rd, rs, 0) }

// Add emits rd = rs + rt.
func (p *Program) Add(rd, rs, rt uint8) {
	p.Emit(machine.Instruction{Op: machine.OpADD, A: rd, B: rs, C: rt})
}

// Addi emits rd = rs + imm.
func (p *Program) Addi(rd, rs uint8, imm int32) {
	p.Emit(machine.Instruction{Op: machine.OpADDI, A: rd, B: rs, Imm: imm})
}

// Sub emits rd = rs - rt.
func (p *Program) Sub(rd, rs, rt uint8) {
	p.Emit(machine.Instruction{Op: machine.OpSUB, A: rd, B: rs, C: rt})
}

// Mul emits rd = rs * rt.
func (p *Program) Mul(rd, rs, rt uint8) {
	p.Emit(machine.Instruction{Op: machine.OpMUL, A: rd, B: rs, C: rt})
}

// Slt emits rd = rs < rt.
func (p *Program) Slt(rd, rs, rt uint8) {
	p.Emit(machine.Instruction{Op: machine.OpSLT, A: rd, B: rs, C: rt})
}

// Lw loads the word at base+off.
func (p *Program) Lw(rt, base uint8, off int32) {
	p.Emit(machine.Instruction{Op: machine.OpLW, A: rt, B: base, Imm: off})
}

// Sw stores the word rt at base+off.
func (p *Program) Sw(rt, base uint8, off int32) {
	p.Emit(machine.Instruction{Op: machine.OpSW, A: rt, B: base, Imm: off})
}

// Lb loads the byte at base+off.
func (p *Program) Lb(rt, base uint8, off int32) {
	p.Emit(machine.Instruction{Op: machine.OpLB, A: rt, B: base, Imm: off})
}

// Sb stores the low byte of rt at base+off.
func (p *Program) Sb(rt, base uint8, off int32) {
	p.Emit(machine.Instruction{Op: machine.OpSB, A: rt, B: base, Imm: off})
}

// LwLabel loads the word at label+off.
func (p *Program) LwLabel(rt uint8, label string, off int32) {
	p.emitRef(machine.Instruction{Op: machine.OpLW, A: rt, B: machine.ZeroReg}, label, off)
}

// SwLabel stores rt at label+off.
func (p *Program) SwLabel(rt uint8, label string, off int32) {
	p.emitRef(machine.Instruction{Op: machine.OpSW, A: rt, B: machine.ZeroReg}, label, off)
}

// Beq branches to label if rs == rt.
func (p *Program) Beq(rs, rt uint8, label string) {
	p.emitRef(machine.Instruction{Op: machine.OpBEQ, A: rs, B: rt}, label, 0)
}

// Bne branches to label if rs != rt.
func (p *Program) Bne(rs, rt uint8, label string) {
	p.emitRef(machine.Instruction{Op: machine.OpBNE, A: rs, B: rt}, label, 0)
}

// Blt branches to label if rs < rt.
func (p *Program) Blt(rs, rt uint8, label string) {
	p.emitRef(machine.Instruction{Op: machine.OpBLT, A: rs, B: rt}, label, 0)
}

// J jumps to label.
func (p *Program) J(label string) {
	p.emitRef(machine.Instruction{Op: machine.OpJ}, label, 0)
}

// Jal calls label.
func (p *Program) Jal(label string) {
	p.emitRef(machine.Instruction{Op: machine.OpJAL}, label, 0)
}

// Jr jumps to the address in rs.
func (p *Program) Jr(rs uint8) {
	p.Emit(machine.Instruction{Op: machine.OpJR, A: rs})
}

// Syscall loads the system call number and traps. Arguments must already be
// in the argument registers.
func (p *Program) Syscall(n sysno.Sysno) {
	p.Li(machine.RetReg, int32(n))
	p.Emit(machine.Instruction{Op: machine.OpSYSCALL})
}

// Link resolves labels and returns the encoded executable.
func (p *Program) Link() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.align()
	codeSize := len(p.text) * machine.InstructionSize
	base := map[section]int{
		text: 0,
		data: codeSize,
		bss:  codeSize + len(p.data),
	}
	text := append([]machine.Instruction(nil), p.text...)
	for _, f := range p.fixups {
		s, ok := p.symbols[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		text[f.idx].Imm = int32(base[s.sec]+s.off) + f.addend
	}
	code := make([]byte, 0, codeSize)
	for _, in := range text {
		code = in.Encode(code)
	}
	return noff.Build(code, p.data, p.bssSize), nil
}

// MustLink is like Link but panics on error. It is meant for programs whose
// labels are fixed at compile time.
func (p *Program) MustLink() []byte {
	b, err := p.Link()
	if err != nil {
		panic(fmt.Sprintf("linking program: %v", err))
	}
	return b
}
