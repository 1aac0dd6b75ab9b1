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

package asm

import (
	"encoding/binary"
	"testing"

	"gvisor.dev/vmkernel/pkg/abi/sysno"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/noff"
)

func decodeAt(t *testing.T, exe []byte, h noff.Header, idx int) machine.Instruction {
	t.Helper()
	off := int(h.Code.InFileAddr) + idx*machine.InstructionSize
	lo := int32(binary.LittleEndian.Uint32(exe[off:]))
	hi := int32(binary.LittleEndian.Uint32(exe[off+4:]))
	return machine.Decode(lo, hi)
}

func TestLink(t *testing.T) {
	p := New()
	p.Label("start")
	p.La(8, "buf")          // 0
	p.LwLabel(9, "nums", 4) // 1
	p.Beq(9, 0, "done")     // 2
	p.J("start")            // 3
	p.Label("done")
	p.Syscall(sysno.Halt) // 4, 5
	p.Words("nums", 7, 11)
	p.Asciiz("name", "x")
	p.Space("buf", 10)

	exe, err := p.Link()
	if err != nil {
		t.Fatalf("Link failed: %v", err)
	}
	h, err := noff.Decode(exe)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got, want := h.Code.Size, int32(6*machine.InstructionSize); got != want {
		t.Errorf("code size = %d, want %d", got, want)
	}
	// nums (8 bytes) + "x\0" padded to a word.
	if got := h.InitData.Size; got != 12 {
		t.Errorf("data size = %d, want 12", got)
	}
	if got := h.UninitData.Size; got != 10 {
		t.Errorf("bss size = %d, want 10", got)
	}

	codeSize := h.Code.Size
	for _, tc := range []struct {
		idx  int
		op   machine.Opcode
		want int32
	}{
		{0, machine.OpLI, codeSize + 12},
		{1, machine.OpLW, codeSize + 4},
		{2, machine.OpBEQ, 4 * machine.InstructionSize},
		{3, machine.OpJ, 0},
		{4, machine.OpLI, int32(sysno.Halt)},
		{5, machine.OpSYSCALL, 0},
	} {
		in := decodeAt(t, exe, h, tc.idx)
		if in.Op != tc.op || in.Imm != tc.want {
			t.Errorf("instruction %d = %v, want %v with imm %d", tc.idx, in, tc.op, tc.want)
		}
	}
	if got := int32(binary.LittleEndian.Uint32(exe[h.InitData.InFileAddr+4:])); got != 11 {
		t.Errorf("nums[1] = %d, want 11", got)
	}
}

func TestLinkErrors(t *testing.T) {
	p := New()
	p.J("nowhere")
	if _, err := p.Link(); err == nil {
		t.Errorf("Link with undefined label succeeded")
	}

	p = New()
	p.Label("a")
	p.Label("a")
	if _, err := p.Link(); err == nil {
		t.Errorf("Link with duplicate label succeeded")
	}
}
