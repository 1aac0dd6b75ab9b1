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
	"fmt"

	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/metric"
	"gvisor.dev/vmkernel/pkg/sentry/context"
	"gvisor.dev/vmkernel/pkg/sentry/mm"
)

var tlbMisses = metric.MustCreateNewUint64Metric("/vm/tlb_misses", "TLB misses handled.")

// TLBPolicy selects the hardware TLB slot a miss reclaims.
type TLBPolicy int

const (
	// TLBFIFO reclaims slots round robin.
	TLBFIFO TLBPolicy = iota

	// TLBAging reclaims the least recently used slot, approximated by aging
	// counters.
	TLBAging
)

// String implements fmt.Stringer.
func (p TLBPolicy) String() string {
	switch p {
	case TLBFIFO:
		return "fifo"
	case TLBAging:
		return "aging"
	default:
		return fmt.Sprintf("TLBPolicy(%d)", int(p))
	}
}

// ParseTLBPolicy parses the String form of a policy.
func ParseTLBPolicy(s string) (TLBPolicy, error) {
	switch s {
	case "fifo":
		return TLBFIFO, nil
	case "aging":
		return TLBAging, nil
	default:
		return 0, fmt.Errorf("unknown TLB replacement policy %q", s)
	}
}

// faultController refills the hardware TLB on misses.
type faultController struct {
	m      *machine.Machine
	policy TLBPolicy

	// next is the FIFO cursor.
	next int
}

// slot picks the TLB slot to reclaim.
func (fc *faultController) slot(as *mm.AddressSpace) int {
	if fc.policy == TLBAging {
		return as.TLBIndex()
	}
	slot := fc.next
	fc.next = (fc.next + 1) % len(fc.m.TLB)
	return slot
}

// handle services a miss on addr in as. It runs with interrupts disabled:
// the allocator and the TLB are not touched by anyone else meanwhile.
func (fc *faultController) handle(ctx context.Context, as *mm.AddressSpace, addr int32) error {
	restore := fc.m.Interrupt.Disable()
	defer restore()

	tlbMisses.Increment()
	vpn := int(addr) / fc.m.PageSize()
	slot := fc.slot(as)
	as.WriteBack(slot)
	pte, err := as.Resolve(ctx, vpn)
	if err != nil {
		return fmt.Errorf("page fault at %#x: %w", addr, err)
	}
	as.Install(slot, pte)
	return nil
}
