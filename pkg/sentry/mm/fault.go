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

	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/noff"
	"gvisor.dev/vmkernel/pkg/sentry/context"
	"gvisor.dev/vmkernel/pkg/sentry/fs"
)

// Resolve makes page vpn resident and returns its page table entry.
//
// A page that was evicted dirty is read back from swap. Otherwise the frame
// is zero filled and the parts of the page covered by the code and
// initialized data segments are copied from the executable. Claiming the
// frame may evict any page in the system, including one of this address
// space's.
//
// Resolving a resident page returns its entry unchanged.
func (as *AddressSpace) Resolve(ctx context.Context, vpn int) (machine.TranslationEntry, error) {
	t, pte, err := as.tableFor(vpn)
	if err != nil {
		return machine.TranslationEntry{}, err
	}
	if pte.Valid {
		return *pte, nil
	}

	ppn, err := as.sys.Allocator.Allocate(ctx, t.owner(vpn))
	if err != nil {
		return machine.TranslationEntry{}, fmt.Errorf("resolving page %d: %w", vpn, err)
	}
	source := "swap"
	if pte.Dirty {
		err = t.readSwap(vpn, ppn)
	} else {
		source, err = as.load(vpn, as.sys.Machine.FrameBytes(ppn))
	}
	if err != nil {
		as.sys.Allocator.Free(ppn, t.owner(vpn))
		return machine.TranslationEntry{}, fmt.Errorf("resolving page %d: %w", vpn, err)
	}
	pageFaults.Increment(source)

	pte.PhysicalPage = ppn
	pte.Valid = true
	pte.Use = true
	ctx.Debugf("Resolved page %d into frame %d from %s", vpn, ppn, source)
	return *pte, nil
}

// load fills frame with the initial contents of page vpn and reports where
// they came from.
func (as *AddressSpace) load(vpn int, frame []byte) (string, error) {
	clear(frame)
	if vpn >= as.imagePages {
		return "zero", nil
	}
	img := as.image
	pageSize := len(frame)
	start := int32(vpn * pageSize)
	end := start + int32(pageSize)
	source := "zero"
	for _, seg := range []noff.Segment{img.header.Code, img.header.InitData} {
		lo, hi := max(start, seg.VirtualAddr), min(end, seg.End())
		if lo >= hi {
			continue
		}
		off := int64(seg.InFileAddr) + int64(lo-seg.VirtualAddr)
		if err := fs.ReadFull(img.exec, frame[lo-start:hi-start], off); err != nil {
			return "", fmt.Errorf("reading executable at %#x: %v: %w", off, err, kernerr.ErrIO)
		}
		source = "executable"
	}
	return source, nil
}
