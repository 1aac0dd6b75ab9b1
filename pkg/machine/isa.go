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

package machine

import (
	"encoding/binary"
	"fmt"
)

// InstructionSize is the width of every instruction in bytes.
const InstructionSize = 8

// Opcode is an instruction opcode.
type Opcode uint8

// Opcodes. Register operands are A, B and C; Imm is a signed 32-bit
// immediate. Branch and jump targets are absolute addresses.
const (
	OpNop     Opcode = iota
	OpLI             // A = Imm
	OpADD            // A = B + C
	OpADDI           // A = B + Imm
	OpSUB            // A = B - C
	OpMUL            // A = B * C
	OpSLT            // A = B < C
	OpLW             // A = mem32[B + Imm]
	OpSW             // mem32[B + Imm] = A
	OpLB             // A = mem8[B + Imm]
	OpSB             // mem8[B + Imm] = A
	OpBEQ            // if A == B goto Imm
	OpBNE            // if A != B goto Imm
	OpBLT            // if A < B goto Imm
	OpJ              // goto Imm
	OpJAL            // RetAddrReg = next; goto Imm
	OpJR             // goto A
	OpSYSCALL        // trap with code in RetReg
	numOpcodes
)

var opcodeNames = [...]string{
	OpNop:     "nop",
	OpLI:      "li",
	OpADD:     "add",
	OpADDI:    "addi",
	OpSUB:     "sub",
	OpMUL:     "mul",
	OpSLT:     "slt",
	OpLW:      "lw",
	OpSW:      "sw",
	OpLB:      "lb",
	OpSB:      "sb",
	OpBEQ:     "beq",
	OpBNE:     "bne",
	OpBLT:     "blt",
	OpJ:       "j",
	OpJAL:     "jal",
	OpJR:      "jr",
	OpSYSCALL: "syscall",
}

// String implements fmt.Stringer.
func (o Opcode) String() string {
	if o < numOpcodes {
		return opcodeNames[o]
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// Instruction is a decoded instruction.
//
// Encoding, little-endian: byte 0 opcode, bytes 1-3 registers A, B, C,
// bytes 4-7 the immediate.
type Instruction struct {
	Op      Opcode
	A, B, C uint8
	Imm     int32
}

// Encode appends the encoded instruction to b.
func (in Instruction) Encode(b []byte) []byte {
	var raw [InstructionSize]byte
	raw[0] = byte(in.Op)
	raw[1] = in.A
	raw[2] = in.B
	raw[3] = in.C
	binary.LittleEndian.PutUint32(raw[4:], uint32(in.Imm))
	return append(b, raw[:]...)
}

// Decode decodes the instruction held in two little-endian words.
func Decode(lo, hi int32) Instruction {
	return Instruction{
		Op:  Opcode(lo),
		A:   uint8(lo >> 8),
		B:   uint8(lo >> 16),
		C:   uint8(lo >> 24),
		Imm: hi,
	}
}

// Valid reports whether the opcode and registers are in range.
func (in Instruction) Valid() bool {
	return in.Op < numOpcodes && in.A < NumGPRegs && in.B < NumGPRegs && in.C < NumGPRegs
}

// String implements fmt.Stringer.
func (in Instruction) String() string {
	return fmt.Sprintf("%v r%d, r%d, r%d, %d", in.Op, in.A, in.B, in.C, in.Imm)
}
