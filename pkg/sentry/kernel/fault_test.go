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
	"testing"

	"github.com/google/go-cmp/cmp"
	"gvisor.dev/vmkernel/pkg/sentry/mm"
)

// execSpace execs name without running it and returns its address space.
func (k *testKernel) execSpace(t *testing.T, name string) *mm.AddressSpace {
	t.Helper()
	if _, err := k.Exec(k.ctx, name); err != nil {
		t.Fatalf("Exec(%q): %v", name, err)
	}
	return k.sched.ready[len(k.sched.ready)-1].Space()
}

func tlbPages(k *testKernel) []int {
	var pages []int
	for _, e := range k.m.TLB {
		if !e.Valid {
			pages = append(pages, -1)
			continue
		}
		pages = append(pages, e.VirtualPage)
	}
	return pages
}

func TestFaultFIFO(t *testing.T) {
	k := newTestKernel(t, testConfig(16, 0, TLBFIFO), "", nil)
	as := k.execSpace(t, "pages")
	before := tlbMisses.Value()
	for vpn := 0; vpn < 5; vpn++ {
		if err := k.faults.handle(k.ctx, as, int32(vpn*testPageSize+4)); err != nil {
			t.Fatalf("handle(page %d): %v", vpn, err)
		}
	}
	if diff := cmp.Diff([]int{4, 1, 2, 3}, tlbPages(k)); diff != "" {
		t.Errorf("TLB pages mismatch (-want +got):\n%s", diff)
	}
	if got := tlbMisses.Value() - before; got != 5 {
		t.Errorf("tlb_misses grew by %d, want 5", got)
	}
	// The evicted TLB entry's page stays resident.
	if pte, _ := as.PTE(0); !pte.Valid {
		t.Errorf("page 0 invalidated by TLB replacement")
	}
}

func TestFaultAging(t *testing.T) {
	k := newTestKernel(t, testConfig(16, 0, TLBAging), "", nil)
	as := k.execSpace(t, "pages")
	for vpn := 0; vpn < 4; vpn++ {
		if err := k.faults.handle(k.ctx, as, int32(vpn*testPageSize)); err != nil {
			t.Fatalf("handle(page %d): %v", vpn, err)
		}
	}
	// Every slot is in use; age them with only page 2 referenced.
	for i := range k.m.TLB {
		k.m.TLB[i].Use = k.m.TLB[i].VirtualPage == 2
	}
	as.UpdateTLBCounter()
	for i := range k.m.TLB {
		k.m.TLB[i].Use = k.m.TLB[i].VirtualPage != 2
	}
	as.UpdateTLBCounter()

	// Page 2's slot now has the lowest counter.
	var slot2 int
	for i, e := range k.m.TLB {
		if e.VirtualPage == 2 {
			slot2 = i
		}
	}
	if err := k.faults.handle(k.ctx, as, 4*testPageSize); err != nil {
		t.Fatalf("handle(page 4): %v", err)
	}
	if got := k.m.TLB[slot2].VirtualPage; got != 4 {
		t.Errorf("slot %d holds page %d, want 4", slot2, got)
	}
	if got := as.TLBCounts()[slot2]; got != 0xff {
		t.Errorf("refilled slot counter = %#x, want 0xff", got)
	}
}

func TestFaultWritesBackDirty(t *testing.T) {
	k := newTestKernel(t, testConfig(16, 0, TLBFIFO), "", nil)
	as := k.execSpace(t, "pages")
	// Page 3 holds uninitialized data.
	addr := int32(3 * testPageSize)
	if err := k.faults.handle(k.ctx, as, addr); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if err := k.m.WriteMem(addr, 4, 1); err != nil {
		t.Fatalf("WriteMem: %v", err)
	}
	for vpn := 4; vpn < 8; vpn++ {
		if err := k.faults.handle(k.ctx, as, int32(vpn*testPageSize)); err != nil {
			t.Fatalf("handle(page %d): %v", vpn, err)
		}
	}
	if pte, _ := as.PTE(3); !pte.Dirty {
		t.Errorf("dirty bit of page 3 lost when its TLB slot was reclaimed")
	}
}
