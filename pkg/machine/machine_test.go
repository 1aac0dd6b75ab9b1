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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

var errStop = errors.New("stop")

// identityHandler maps every faulting page to the frame of the same number
// using TLB slot 0, and stops on a syscall.
type identityHandler struct {
	m       *Machine
	faults  []int
	excepts []ExceptionType
}

func (h *identityHandler) HandleException(which ExceptionType) error {
	h.excepts = append(h.excepts, which)
	switch which {
	case PageFaultException:
		vpn := int(h.m.ReadRegister(BadVAddrReg)) / h.m.PageSize()
		h.faults = append(h.faults, vpn)
		slot := len(h.faults) % len(h.m.TLB)
		h.m.TLB[slot] = TranslationEntry{VirtualPage: vpn, PhysicalPage: vpn, Valid: true}
		return nil
	default:
		return errStop
	}
}

func newTestMachine(t *testing.T) (*Machine, *identityHandler) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.TimerTicks = 0
	m, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h := &identityHandler{m: m}
	m.SetExceptionHandler(h)
	return m, h
}

func load(m *Machine, prog []Instruction) {
	var b []byte
	for _, in := range prog {
		b = in.Encode(b)
	}
	copy(m.MainMemory, b)
	m.Registers[PCReg] = 0
	m.Registers[NextPCReg] = InstructionSize
}

func TestConfigValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"default", DefaultConfig(), true},
		{"smallest", Config{PageSize: 8, NumPhysPages: 2, TLBSize: 2}, true},
		{"odd page", Config{PageSize: 100, NumPhysPages: 2, TLBSize: 2}, false},
		{"no frames", Config{PageSize: 128, TLBSize: 2}, false},
		{"one frame", Config{PageSize: 128, NumPhysPages: 1, TLBSize: 2}, false},
		{"no tlb", Config{PageSize: 128, NumPhysPages: 2}, false},
		{"one tlb slot", Config{PageSize: 128, NumPhysPages: 2, TLBSize: 1}, false},
		{"negative timer", Config{PageSize: 128, NumPhysPages: 2, TLBSize: 2, TimerTicks: -1}, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); (err == nil) != tc.ok {
				t.Errorf("Validate() = %v, want ok=%t", err, tc.ok)
			}
		})
	}
}

func TestEncodeDecode(t *testing.T) {
	in := Instruction{Op: OpADDI, A: 3, B: 29, C: 0, Imm: -16}
	b := in.Encode(nil)
	if len(b) != InstructionSize {
		t.Fatalf("encoded length = %d, want %d", len(b), InstructionSize)
	}
	lo := int32(uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24)
	hi := int32(uint32(b[4]) | uint32(b[5])<<8 | uint32(b[6])<<16 | uint32(b[7])<<24)
	if diff := cmp.Diff(in, Decode(lo, hi)); diff != "" {
		t.Errorf("Decode mismatch (-want +got):\n%s", diff)
	}
}

func TestTranslate(t *testing.T) {
	m, _ := newTestMachine(t)
	m.TLB[0] = TranslationEntry{VirtualPage: 1, PhysicalPage: 3, Valid: true}
	m.TLB[1] = TranslationEntry{VirtualPage: 2, PhysicalPage: 4, Valid: true, ReadOnly: true}
	m.TLB[2] = TranslationEntry{VirtualPage: 5, PhysicalPage: 1000, Valid: true}

	for _, tc := range []struct {
		name    string
		addr    int32
		size    int
		writing bool
		want    ExceptionType
		phys    int
	}{
		{"hit", 128 + 4, 4, false, NoException, 3*128 + 4},
		{"miss", 3 * 128, 4, false, PageFaultException, 0},
		{"unaligned", 128 + 1, 4, false, AddressErrorException, 0},
		{"bad size", 128, 3, false, AddressErrorException, 0},
		{"read only", 2 * 128, 4, true, ReadOnlyException, 0},
		{"read of read only", 2 * 128, 1, false, NoException, 4 * 128},
		{"bad frame", 5 * 128, 4, false, BusErrorException, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			phys, exc := m.Translate(tc.addr, tc.size, tc.writing)
			if exc != tc.want {
				t.Fatalf("Translate exception = %v, want %v", exc, tc.want)
			}
			if exc == NoException && phys != tc.phys {
				t.Errorf("Translate = %d, want %d", phys, tc.phys)
			}
		})
	}
	if !m.TLB[0].Use || m.TLB[0].Dirty {
		t.Errorf("read hit: got use=%t dirty=%t, want use only", m.TLB[0].Use, m.TLB[0].Dirty)
	}
	if _, exc := m.Translate(128, 4, true); exc != NoException || !m.TLB[0].Dirty {
		t.Errorf("write hit did not set dirty: exc=%v entry=%+v", exc, m.TLB[0])
	}
}

func TestReadWriteMemFault(t *testing.T) {
	m, h := newTestMachine(t)
	if err := m.WriteMem(300, 4, 0x01020304); !errors.Is(err, ErrFault) {
		t.Fatalf("first WriteMem = %v, want ErrFault", err)
	}
	if err := m.WriteMem(300, 4, 0x01020304); err != nil {
		t.Fatalf("retried WriteMem = %v", err)
	}
	v, err := m.ReadMem(300, 4)
	if err != nil || v != 0x01020304 {
		t.Fatalf("ReadMem = %#x, %v", v, err)
	}
	if b, _ := m.ReadMem(300, 1); b != 4 {
		t.Errorf("low byte = %d, want 4 (little-endian)", b)
	}
	if diff := cmp.Diff([]int{2}, h.faults); diff != "" {
		t.Errorf("faults mismatch (-want +got):\n%s", diff)
	}
	if got := m.ReadRegister(BadVAddrReg); got != 300 {
		t.Errorf("BadVAddr = %d, want 300", got)
	}
}

func TestRunProgram(t *testing.T) {
	m, h := newTestMachine(t)
	// Sum 1..10 into r8 and store it at 512, then trap.
	load(m, []Instruction{
		{Op: OpLI, A: 8, Imm: 0},
		{Op: OpLI, A: 9, Imm: 1},
		{Op: OpLI, A: 10, Imm: 11},
		{Op: OpADD, A: 8, B: 8, C: 9}, // 24: loop
		{Op: OpADDI, A: 9, B: 9, Imm: 1},
		{Op: OpBLT, A: 9, B: 10, Imm: 24},
		{Op: OpSW, A: 8, B: 0, Imm: 512},
		{Op: OpLW, A: 11, B: 0, Imm: 512},
		{Op: OpLI, A: 0, Imm: 7}, // r0 stays zero
		{Op: OpSYSCALL},
	})
	if err := m.Run(); !errors.Is(err, errStop) {
		t.Fatalf("Run = %v, want errStop", err)
	}
	if got := m.ReadRegister(11); got != 55 {
		t.Errorf("r11 = %d, want 55", got)
	}
	if got := m.ReadRegister(ZeroReg); got != 0 {
		t.Errorf("r0 = %d, want 0", got)
	}
	if got, want := m.ReadRegister(PCReg), int32(9*InstructionSize); got != want {
		t.Errorf("PC = %d, want %d", got, want)
	}
	// One fault for the code page and one for the data page.
	if diff := cmp.Diff([]int{0, 4}, h.faults); diff != "" {
		t.Errorf("faults mismatch (-want +got):\n%s", diff)
	}
}

func TestJumpAndLink(t *testing.T) {
	m, _ := newTestMachine(t)
	load(m, []Instruction{
		{Op: OpJAL, Imm: 24},
		{Op: OpSYSCALL}, // 8
		{Op: OpNop},
		{Op: OpLI, A: 12, Imm: 42}, // 24
		{Op: OpJR, A: RetAddrReg},
	})
	if err := m.Run(); !errors.Is(err, errStop) {
		t.Fatalf("Run = %v", err)
	}
	if got := m.ReadRegister(12); got != 42 {
		t.Errorf("r12 = %d, want 42", got)
	}
	if got := m.ReadRegister(RetAddrReg); got != 8 {
		t.Errorf("r31 = %d, want 8", got)
	}
}

func TestIllegalInstruction(t *testing.T) {
	m, h := newTestMachine(t)
	copy(m.MainMemory, []byte{0xff, 0, 0, 0, 0, 0, 0, 0})
	m.Registers[NextPCReg] = InstructionSize
	if err := m.Run(); !errors.Is(err, errStop) {
		t.Fatalf("Run = %v", err)
	}
	if got := h.excepts[len(h.excepts)-1]; got != IllegalInstrException {
		t.Errorf("last exception = %v, want %v", got, IllegalInstrException)
	}
}

func TestHalt(t *testing.T) {
	m, _ := newTestMachine(t)
	m.Halt()
	if err := m.Run(); !errors.Is(err, ErrHalted) {
		t.Errorf("Run = %v, want ErrHalted", err)
	}
}

func mustTick(t *testing.T, it *Interrupt) {
	t.Helper()
	if err := it.OneTick(); err != nil {
		t.Fatalf("OneTick: %v", err)
	}
}

func TestTimerInterrupt(t *testing.T) {
	it := newInterrupt(3)
	fired := 0
	it.SetTimerHandler(func() error {
		if it.Level() != IntOff {
			t.Errorf("timer handler ran with interrupts %v", it.Level())
		}
		fired++
		return nil
	})

	// Deferred while off.
	for i := 0; i < 3; i++ {
		mustTick(t, it)
	}
	if fired != 0 {
		t.Fatalf("timer fired %d times with interrupts off", fired)
	}
	it.SetLevel(IntOn)
	mustTick(t, it)
	if fired != 1 {
		t.Fatalf("pending timer not delivered, fired = %d", fired)
	}
	for i := 0; i < 6; i++ {
		mustTick(t, it)
	}
	if fired != 3 {
		t.Errorf("fired = %d, want 3", fired)
	}
	if got := it.Ticks(); got != 10 {
		t.Errorf("Ticks = %d, want 10", got)
	}

	restore := it.Disable()
	if it.Level() != IntOff {
		t.Errorf("Disable left level %v", it.Level())
	}
	restore()
	if it.Level() != IntOn {
		t.Errorf("restore left level %v", it.Level())
	}
}
