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

package mm

import (
	"gvisor.dev/vmkernel/pkg/machine"
)

// maxTLBCount is the counter given to a freshly chosen TLB slot.
const maxTLBCount = 0xff

// writeBack folds the Use and Dirty bits of TLB entry e into the page table
// entry it caches. Entries no longer backed by a resident page are ignored.
func (as *AddressSpace) writeBack(e *machine.TranslationEntry) {
	if !e.Valid {
		return
	}
	_, pte, err := as.tableFor(e.VirtualPage)
	if err != nil || !pte.Valid || pte.PhysicalPage != e.PhysicalPage {
		return
	}
	pte.Use = pte.Use || e.Use
	pte.Dirty = pte.Dirty || e.Dirty
}

// WriteBack saves the state of hardware TLB slot into its page table entry
// and invalidates the slot.
func (as *AddressSpace) WriteBack(slot int) {
	e := &as.sys.Machine.TLB[slot]
	as.writeBack(e)
	*e = machine.TranslationEntry{}
}

// Install loads pte into hardware TLB slot.
func (as *AddressSpace) Install(slot int, pte machine.TranslationEntry) {
	as.sys.Machine.TLB[slot] = pte
}

// SaveState saves the hardware TLB before a context switch. Use and Dirty
// bits are written back to the page table so that a sibling evicting a
// shared page sees them.
func (as *AddressSpace) SaveState() {
	tlb := as.sys.Machine.TLB
	for i := range tlb {
		as.writeBack(&tlb[i])
	}
	copy(as.shadow, tlb)
}

// RestoreState loads the saved TLB into the hardware.
func (as *AddressSpace) RestoreState() {
	copy(as.sys.Machine.TLB, as.shadow)
}

// UpdateTLBCounter ages the TLB slot counters. Each counter shifts right by
// one and takes the slot's hardware Use bit as its top bit; the Use bit is
// then recorded in the page table entry and cleared in the TLB. It runs on
// every timer interrupt for the current address space.
func (as *AddressSpace) UpdateTLBCounter() {
	tlb := as.sys.Machine.TLB
	for i := range tlb {
		e := &tlb[i]
		used := e.Valid && e.Use
		as.tlbCount[i] >>= 1
		if used {
			as.tlbCount[i] |= 0x80
			as.writeBack(e)
		}
		e.Use = false
	}
}

// TLBIndex chooses the TLB slot to reclaim: one of the slots with the
// lowest counter, picked uniformly at random. The chosen slot's counter is
// reset to its maximum.
func (as *AddressSpace) TLBIndex() int {
	lowest := 0x100
	var candidates []int
	for i, c := range as.tlbCount {
		switch {
		case int(c) < lowest:
			lowest = int(c)
			candidates = append(candidates[:0], i)
		case int(c) == lowest:
			candidates = append(candidates, i)
		}
	}
	slot := candidates[as.sys.Rand.IntN(len(candidates))]
	as.tlbCount[slot] = maxTLBCount
	return slot
}

// TLBCounts returns the TLB slot counters.
func (as *AddressSpace) TLBCounts() []uint8 {
	return as.tlbCount
}

// InitRegisters sets the machine registers for a fresh start of the
// program: everything zero, execution at address 0 and the stack pointer
// just below the top of the address space.
func (as *AddressSpace) InitRegisters() {
	m := as.sys.Machine
	for r := range m.Registers {
		m.Registers[r] = 0
	}
	m.WriteRegister(machine.PCReg, 0)
	m.WriteRegister(machine.NextPCReg, machine.InstructionSize)
	m.WriteRegister(machine.StackReg, int32(as.numPages*as.sys.pageSize()-16))
}
