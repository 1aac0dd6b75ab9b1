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

import "errors"

// Run executes instructions until the kernel's handler returns an error or
// the machine halts. Interrupts are enabled while user code runs.
func (m *Machine) Run() error {
	m.Interrupt.SetLevel(IntOn)
	for {
		if m.halted {
			return ErrHalted
		}
		if err := m.OneInstruction(); err != nil {
			return err
		}
		if err := m.Interrupt.OneTick(); err != nil {
			return err
		}
	}
}

// OneInstruction fetches, decodes and executes the instruction at PC. An
// instruction that faults is abandoned without side effects, so that it is
// retried on the next call.
func (m *Machine) OneInstruction() error {
	pc := m.Registers[PCReg]
	lo, err := m.ReadMem(pc, 4)
	if err != nil {
		return retryable(err)
	}
	hi, err := m.ReadMem(pc+4, 4)
	if err != nil {
		return retryable(err)
	}
	in := Decode(lo, hi)
	if !in.Valid() {
		return m.RaiseException(IllegalInstrException, pc)
	}

	r := &m.Registers
	next := m.Registers[NextPCReg]
	target := next

	switch in.Op {
	case OpNop:
	case OpLI:
		m.WriteRegister(int(in.A), in.Imm)
	case OpADD:
		m.WriteRegister(int(in.A), r[in.B]+r[in.C])
	case OpADDI:
		m.WriteRegister(int(in.A), r[in.B]+in.Imm)
	case OpSUB:
		m.WriteRegister(int(in.A), r[in.B]-r[in.C])
	case OpMUL:
		m.WriteRegister(int(in.A), r[in.B]*r[in.C])
	case OpSLT:
		v := int32(0)
		if r[in.B] < r[in.C] {
			v = 1
		}
		m.WriteRegister(int(in.A), v)
	case OpLW, OpLB:
		size := 4
		if in.Op == OpLB {
			size = 1
		}
		v, err := m.ReadMem(r[in.B]+in.Imm, size)
		if err != nil {
			return retryable(err)
		}
		m.WriteRegister(int(in.A), v)
	case OpSW, OpSB:
		size := 4
		if in.Op == OpSB {
			size = 1
		}
		if err := m.WriteMem(r[in.B]+in.Imm, size, r[in.A]); err != nil {
			return retryable(err)
		}
	case OpBEQ:
		if r[in.A] == r[in.B] {
			target = in.Imm
		}
	case OpBNE:
		if r[in.A] != r[in.B] {
			target = in.Imm
		}
	case OpBLT:
		if r[in.A] < r[in.B] {
			target = in.Imm
		}
	case OpJ:
		target = in.Imm
	case OpJAL:
		m.WriteRegister(RetAddrReg, next)
		target = in.Imm
	case OpJR:
		target = r[in.A]
	case OpSYSCALL:
		// The handler advances the PC itself.
		return m.RaiseException(SyscallException, 0)
	}

	r[PrevPCReg] = pc
	r[PCReg] = target
	r[NextPCReg] = target + InstructionSize
	return nil
}

// retryable maps ErrFault to nil: the fault was handled and the instruction
// will simply run again.
func retryable(err error) error {
	if errors.Is(err, ErrFault) {
		return nil
	}
	return err
}
