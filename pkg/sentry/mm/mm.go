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

// Package mm implements demand paged address spaces.
//
// An address space covers numPages virtual pages. The low pages hold the
// program image (code, initialized data and uninitialized data, as described
// by the executable's NOFF header); the top UserStackSize bytes are the user
// stack. Nothing is loaded when an address space is created. Pages are
// materialized by Resolve on first touch, from the executable, as zeroes, or
// from swap if they were evicted dirty.
//
// Page table entries live in two tables, each with its own swap file:
//
//   - The image table is shared by every address space forked from the same
//     exec'd process. Forked siblings therefore share code and data frames,
//     and evicting a shared page invalidates it for all of them at once.
//   - The stack table is private to one address space.
//
// Frames are owned by the global pgalloc.Allocator, which names the claiming
// entry as (table ID, page number). A page is valid iff its frame's owner
// names it.
//
// Nothing here is synchronized. The kernel calls in with interrupts disabled.
package mm

import (
	"fmt"
	"math/rand/v2"

	"gvisor.dev/vmkernel/pkg/cleanup"
	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/metric"
	"gvisor.dev/vmkernel/pkg/noff"
	"gvisor.dev/vmkernel/pkg/sentry/context"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
	"gvisor.dev/vmkernel/pkg/sentry/pgalloc"
)

// DefaultUserStackSize is the size of the user stack in bytes.
const DefaultUserStackSize = 1024

var (
	pageFaults = metric.MustCreateNewUint64Metric("/vm/page_faults", "Pages materialized, by content source.",
		metric.NewField("source", "executable", "zero", "swap"))
	evictions = metric.MustCreateNewUint64Metric("/vm/evictions", "Pages evicted from their frame.",
		metric.NewField("dirty", "true", "false"))
	swapWrites = metric.MustCreateNewUint64Metric("/vm/swap_writes", "Pages written to swap.")
	swapReads  = metric.MustCreateNewUint64Metric("/vm/swap_reads", "Pages read back from swap.")
)

// System is the machine wide state shared by all address spaces.
type System struct {
	// Machine is the simulated CPU; its TLB and memory are used directly.
	Machine *machine.Machine

	// Allocator owns the physical frames.
	Allocator *pgalloc.Allocator

	// FS holds executables and swap files.
	FS fs.FileSystem

	// UserStackSize is the stack size in bytes, a multiple of the page size.
	UserStackSize int

	// Rand breaks ties when choosing a TLB slot.
	Rand *rand.Rand
}

func (s *System) pageSize() int {
	return s.Machine.PageSize()
}

// Image is the program image shared by the members of one process identity.
type Image struct {
	sys    *System
	exec   fs.File
	header noff.Header
	table  *pageTable

	// members are the live address spaces sharing the image.
	members []*AddressSpace

	freed bool
}

// Header returns the executable's header.
func (img *Image) Header() noff.Header {
	return img.header
}

// AddressSpace is the virtual memory of one thread.
type AddressSpace struct {
	sys   *System
	image *Image
	stack *pageTable

	numPages   int
	imagePages int

	// shadow holds the TLB contents while another address space runs.
	shadow []machine.TranslationEntry

	// tlbCount is the aging counter of each TLB slot.
	tlbCount []uint8

	released bool
}

// New creates an address space running the executable exec. The header is
// parsed and validated; no frames are claimed. The address space takes
// ownership of exec.
func New(ctx context.Context, sys *System, exec fs.File) (*AddressSpace, error) {
	cu := cleanup.Make(func() { exec.Close() })
	defer cu.Clean()

	h, err := noff.ReadHeader(exec)
	if err != nil {
		return nil, err
	}
	pageSize := sys.pageSize()
	if sys.UserStackSize <= 0 || sys.UserStackSize%pageSize != 0 {
		return nil, fmt.Errorf("user stack size %d is not a positive multiple of the page size %d", sys.UserStackSize, pageSize)
	}
	stackPages := sys.UserStackSize / pageSize
	numPages := divRoundUp(h.ImageSize()+sys.UserStackSize, pageSize)
	imagePages := numPages - stackPages
	for _, seg := range []noff.Segment{h.Code, h.InitData, h.UninitData} {
		if int(seg.End()) > imagePages*pageSize {
			return nil, fmt.Errorf("segment %+v extends past the image end %#x: %w", seg, imagePages*pageSize, kernerr.ErrBadMagic)
		}
	}

	img := &Image{sys: sys, exec: exec, header: h}
	img.table, err = newPageTable(ctx, sys, 0, imagePages, func() []*AddressSpace {
		return img.members
	})
	if err != nil {
		return nil, err
	}
	cu.Add(func() { img.table.release(ctx) })
	for vpn := 0; vpn < imagePages; vpn++ {
		img.table.entries[vpn].ReadOnly = codeOnly(h, vpn, pageSize)
	}

	as, err := newAddressSpace(ctx, img, numPages, imagePages)
	if err != nil {
		return nil, err
	}
	cu.Release()
	ctx.Debugf("Created address space: %d pages (%d image, %d stack), image table %d, stack table %d",
		numPages, imagePages, stackPages, img.table.id, as.stack.id)
	return as, nil
}

func newAddressSpace(ctx context.Context, img *Image, numPages, imagePages int) (*AddressSpace, error) {
	sys := img.sys
	tlbSize := len(sys.Machine.TLB)
	as := &AddressSpace{
		sys:        sys,
		image:      img,
		numPages:   numPages,
		imagePages: imagePages,
		shadow:     make([]machine.TranslationEntry, tlbSize),
		tlbCount:   make([]uint8, tlbSize),
	}
	var err error
	as.stack, err = newPageTable(ctx, sys, imagePages, numPages-imagePages, func() []*AddressSpace {
		return []*AddressSpace{as}
	})
	if err != nil {
		return nil, err
	}
	img.members = append(img.members, as)
	return as, nil
}

// Fork returns a new address space sharing as's program image, with a
// private stack whose frames are claimed and zero filled immediately.
func (as *AddressSpace) Fork(ctx context.Context) (*AddressSpace, error) {
	child, err := newAddressSpace(ctx, as.image, as.numPages, as.imagePages)
	if err != nil {
		return nil, err
	}
	cu := cleanup.Make(func() { child.Release(ctx) })
	defer cu.Clean()

	t := child.stack
	for i := range t.entries {
		vpn := t.base + i
		ppn, err := as.sys.Allocator.Allocate(ctx, pgalloc.Owner{Table: t.id, VPN: vpn})
		if err != nil {
			return nil, fmt.Errorf("allocating stack page %d: %w", vpn, err)
		}
		clear(as.sys.Machine.FrameBytes(ppn))
		t.entries[i] = machine.TranslationEntry{VirtualPage: vpn, PhysicalPage: ppn, Valid: true}
	}
	cu.Release()
	ctx.Debugf("Forked address space: stack table %d from %d", t.id, as.stack.id)
	return child, nil
}

// codeOnly reports whether page vpn overlaps the code segment and no data
// segment. Such pages are mapped read-only.
func codeOnly(h noff.Header, vpn, pageSize int) bool {
	start, end := int32(vpn*pageSize), int32((vpn+1)*pageSize)
	overlaps := func(s noff.Segment) bool {
		return s.Size > 0 && s.VirtualAddr < end && s.End() > start
	}
	return overlaps(h.Code) && !overlaps(h.InitData) && !overlaps(h.UninitData)
}

func divRoundUp(n, d int) int {
	return (n + d - 1) / d
}

// NumPages returns the size of the address space in pages.
func (as *AddressSpace) NumPages() int { return as.numPages }

// ImagePages returns the number of pages before the stack.
func (as *AddressSpace) ImagePages() int { return as.imagePages }

// Image returns the shared program image.
func (as *AddressSpace) Image() *Image { return as.image }

// tableFor returns the table holding vpn and vpn's entry in it.
func (as *AddressSpace) tableFor(vpn int) (*pageTable, *machine.TranslationEntry, error) {
	if vpn < 0 || vpn >= as.numPages {
		return nil, nil, fmt.Errorf("page %d outside [0, %d): %w", vpn, as.numPages, kernerr.ErrBadAddress)
	}
	t := as.stack
	if vpn < as.imagePages {
		t = as.image.table
	}
	return t, &t.entries[vpn-t.base], nil
}

// PTE returns a copy of the page table entry of vpn.
func (as *AddressSpace) PTE(vpn int) (machine.TranslationEntry, error) {
	_, pte, err := as.tableFor(vpn)
	if err != nil {
		return machine.TranslationEntry{}, err
	}
	return *pte, nil
}

// SwapSlot returns the swap slot holding vpn's contents, if any.
func (as *AddressSpace) SwapSlot(vpn int) (int, bool) {
	t, _, err := as.tableFor(vpn)
	if err != nil {
		return -1, false
	}
	slot := t.slots[vpn-t.base]
	return slot, slot >= 0
}

// Shadow returns the saved TLB contents.
func (as *AddressSpace) Shadow() []machine.TranslationEntry {
	return as.shadow
}
