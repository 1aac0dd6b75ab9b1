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
	"fmt"
	"strings"

	"gvisor.dev/vmkernel/pkg/bitmap"
	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/sentry/context"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
	"gvisor.dev/vmkernel/pkg/sentry/pgalloc"
)

// pageTable is a contiguous run of page table entries together with the
// swap file holding their evicted dirty contents.
//
// Invariants:
//   - entries[i].Valid iff the allocator records Owner{id, base+i} as the
//     owner of entries[i].PhysicalPage.
//   - slots[i] >= 0 iff swap holds page base+i's contents, which happens iff
//     the page was evicted dirty and not faulted back in since.
//   - swapUsed contains slot s iff some slots[i] == s.
type pageTable struct {
	sys *System
	id  pgalloc.TableID

	// base is the virtual page number of entries[0].
	base    int
	entries []machine.TranslationEntry

	swapName string
	swap     fs.File
	swapUsed bitmap.Bitmap
	slots    []int

	// members returns the address spaces whose TLBs may map these entries.
	members func() []*AddressSpace
}

var _ pgalloc.Evictable = (*pageTable)(nil)

// SwapFilePrefix starts the name of every swap file.
const SwapFilePrefix = "swap."

// RemoveStaleSwapFiles removes swap files left in fsys by a kernel that
// stopped without tearing down. It must run before any page table is
// created on fsys.
func RemoveStaleSwapFiles(ctx context.Context, fsys fs.FileSystem) error {
	names, err := fsys.List(ctx)
	if err != nil {
		return fmt.Errorf("listing swap files: %w", err)
	}
	for _, name := range names {
		if !strings.HasPrefix(name, SwapFilePrefix) {
			continue
		}
		if err := fsys.Remove(ctx, name); err != nil {
			return fmt.Errorf("removing stale swap file %q: %w", name, err)
		}
		ctx.Infof("Removed stale swap file %q", name)
	}
	return nil
}

// newPageTable creates a table of n invalid entries starting at page base,
// creates its swap file and registers it with the allocator.
func newPageTable(ctx context.Context, sys *System, base, n int, members func() []*AddressSpace) (*pageTable, error) {
	t := &pageTable{
		sys:      sys,
		id:       sys.Allocator.NewTableID(),
		base:     base,
		entries:  make([]machine.TranslationEntry, n),
		swapUsed: bitmap.New(n),
		slots:    make([]int, n),
		members:  members,
	}
	for i := range t.entries {
		t.entries[i].VirtualPage = base + i
		t.slots[i] = -1
	}
	t.swapName = fmt.Sprintf("%s%d", SwapFilePrefix, t.id)
	if err := sys.FS.Create(ctx, t.swapName, 0); err != nil {
		return nil, fmt.Errorf("creating swap file %q: %w", t.swapName, err)
	}
	f, err := sys.FS.Open(ctx, t.swapName)
	if err != nil {
		sys.FS.Remove(ctx, t.swapName)
		return nil, fmt.Errorf("opening swap file %q: %w", t.swapName, err)
	}
	t.swap = f
	sys.Allocator.Register(t.id, t)
	return t, nil
}

func (t *pageTable) owner(vpn int) pgalloc.Owner {
	return pgalloc.Owner{Table: t.id, VPN: vpn}
}

func (t *pageTable) entry(vpn int) *machine.TranslationEntry {
	return &t.entries[vpn-t.base]
}

// Evict implements pgalloc.Evictable.Evict.
func (t *pageTable) Evict(ctx context.Context, vpn int) error {
	pte := t.entry(vpn)
	if !pte.Valid {
		panic(fmt.Sprintf("evicting invalid %v", t.owner(vpn)))
	}
	t.scrub(pte)
	if pte.Dirty {
		if err := t.swapOut(ctx, pte); err != nil {
			return err
		}
	}
	pte.Valid = false
	pte.Use = false
	evictions.Increment(fmt.Sprint(pte.Dirty))
	return nil
}

// swapOut writes the contents of pte's frame to the first free swap slot.
func (t *pageTable) swapOut(ctx context.Context, pte *machine.TranslationEntry) error {
	vpn := pte.VirtualPage
	i := vpn - t.base
	if t.slots[i] >= 0 {
		panic(fmt.Sprintf("%v already holds swap slot %d", t.owner(vpn), t.slots[i]))
	}
	slot, ok := t.swapUsed.FirstZero()
	if !ok {
		return fmt.Errorf("evicting %v: %w", t.owner(vpn), kernerr.ErrNoSwapSlot)
	}
	pageSize := t.sys.pageSize()
	if _, err := t.swap.WriteAt(t.sys.Machine.FrameBytes(pte.PhysicalPage), int64(slot*pageSize)); err != nil {
		return fmt.Errorf("writing %v to %s slot %d: %v: %w", t.owner(vpn), t.swapName, slot, err, kernerr.ErrSwapIO)
	}
	t.swapUsed.Add(slot)
	t.slots[i] = slot
	swapWrites.Increment()
	ctx.Debugf("Swapped out %v from frame %d to slot %d", t.owner(vpn), pte.PhysicalPage, slot)
	return nil
}

// TestAndClearUse implements pgalloc.Evictable.TestAndClearUse.
func (t *pageTable) TestAndClearUse(vpn int) bool {
	pte := t.entry(vpn)
	used := pte.Use
	pte.Use = false
	return used
}

// scrub folds the Use and Dirty bits of every TLB entry mapping pte's frame
// into pte and invalidates those entries, in the hardware TLB and in the
// shadow TLB of every member.
func (t *pageTable) scrub(pte *machine.TranslationEntry) {
	fold := func(tlb []machine.TranslationEntry) {
		for i := range tlb {
			e := &tlb[i]
			if !e.Valid || e.PhysicalPage != pte.PhysicalPage {
				continue
			}
			if e.VirtualPage != pte.VirtualPage {
				panic(fmt.Sprintf("TLB maps page %d to frame %d owned by page %d", e.VirtualPage, e.PhysicalPage, pte.VirtualPage))
			}
			pte.Use = pte.Use || e.Use
			pte.Dirty = pte.Dirty || e.Dirty
			*e = machine.TranslationEntry{}
		}
	}
	fold(t.sys.Machine.TLB)
	for _, as := range t.members() {
		fold(as.shadow)
	}
}

// readSwap restores page vpn from its swap slot into frame ppn and frees
// the slot.
func (t *pageTable) readSwap(vpn, ppn int) error {
	i := vpn - t.base
	slot := t.slots[i]
	if slot < 0 {
		panic(fmt.Sprintf("%v is dirty but has no swap slot", t.owner(vpn)))
	}
	pageSize := t.sys.pageSize()
	if err := fs.ReadFull(t.swap, t.sys.Machine.FrameBytes(ppn), int64(slot*pageSize)); err != nil {
		return fmt.Errorf("reading %v from %s slot %d: %v: %w", t.owner(vpn), t.swapName, slot, err, kernerr.ErrSwapIO)
	}
	t.swapUsed.Remove(slot)
	t.slots[i] = -1
	swapReads.Increment()
	return nil
}

// freeFrames releases every frame the table claims and scrubs the TLBs
// mapping them.
func (t *pageTable) freeFrames() {
	for i := range t.entries {
		pte := &t.entries[i]
		if !pte.Valid {
			continue
		}
		t.scrub(pte)
		t.sys.Allocator.Free(pte.PhysicalPage, t.owner(pte.VirtualPage))
		pte.Valid = false
	}
}

// release frees the table's frames, unregisters it and removes its swap
// file.
func (t *pageTable) release(ctx context.Context) {
	t.freeFrames()
	t.sys.Allocator.Unregister(t.id)
	if err := t.swap.Close(); err != nil {
		ctx.Warningf("Closing swap file %q: %v", t.swapName, err)
	}
	if err := t.sys.FS.Remove(ctx, t.swapName); err != nil {
		ctx.Warningf("Removing swap file %q: %v", t.swapName, err)
	}
}
