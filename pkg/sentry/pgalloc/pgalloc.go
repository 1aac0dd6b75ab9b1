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

// Package pgalloc contains the physical frame allocator.
//
// There is a single Allocator per machine and it owns every physical frame.
// A claimed frame records the page table entry that claims it as a
// non-owning (TableID, VPN) pair, never as a pointer, so that a frame does
// not keep a tearing down address space alive. When no frame is free the
// allocator evicts a victim chosen by aging, globally across all processes.
//
// The Allocator is not synchronized. Callers serialize access by disabling
// interrupts, as for all kernel state on the single CPU.
package pgalloc

import (
	"fmt"
	"math/rand/v2"
	"time"

	"gvisor.dev/vmkernel/pkg/errors/kernerr"
	"gvisor.dev/vmkernel/pkg/log"
	"gvisor.dev/vmkernel/pkg/metric"
	"gvisor.dev/vmkernel/pkg/sentry/context"
)

// MaxCount is the aging counter of a frame that was just claimed.
const MaxCount = 0xff

// Eviction logging allows evictLogBurst lines at once and one more per
// evictLogInterval.
const (
	evictLogInterval = time.Second
	evictLogBurst    = 10
)

var framesAllocated = metric.MustCreateNewUint64Metric("/vm/frames_allocated", "Frames claimed, by whether a victim had to be evicted first.",
	metric.NewField("evicted", "true", "false"))

// TableID identifies a page table. IDs are never reused.
type TableID uint64

// Owner names the page table entry that claims a frame.
type Owner struct {
	Table TableID
	VPN   int
}

// String implements fmt.Stringer.
func (o Owner) String() string {
	return fmt.Sprintf("table %d page %d", o.Table, o.VPN)
}

// Evictable is implemented by page tables whose frames the allocator may
// reclaim.
type Evictable interface {
	// Evict makes vpn non-resident, saving its contents if they cannot be
	// recreated. On return the caller takes the frame.
	Evict(ctx context.Context, vpn int) error

	// TestAndClearUse reports whether vpn was referenced since the last call,
	// and clears the referenced bit.
	TestAndClearUse(vpn int) bool
}

// frame is the state of one physical frame.
type frame struct {
	// owner is valid iff claimed.
	owner   Owner
	claimed bool

	// count is the aging counter: bit 7 is set if the frame was used during
	// the last tick, bit 6 for the tick before, and so on.
	count uint8
}

// Allocator owns the physical frames.
type Allocator struct {
	frames []frame
	free   int

	tables map[TableID]Evictable
	lastID TableID

	rand *rand.Rand

	// evictLog reports evictions; it is rate limited because a thrashing
	// workload evicts on nearly every fault.
	evictLog log.Logger
}

// New returns an allocator for numFrames frames, all free. rng breaks ties
// between eviction candidates.
func New(numFrames int, rng *rand.Rand) *Allocator {
	return &Allocator{
		frames:   make([]frame, numFrames),
		free:     numFrames,
		tables:   make(map[TableID]Evictable),
		rand:     rng,
		evictLog: log.RateLimitedLogger(log.Log(), evictLogInterval, evictLogBurst),
	}
}

// NumFrames returns the number of physical frames.
func (a *Allocator) NumFrames() int {
	return len(a.frames)
}

// Available returns the number of unclaimed frames.
func (a *Allocator) Available() int {
	return a.free
}

// NewTableID returns a fresh page table identifier.
func (a *Allocator) NewTableID() TableID {
	a.lastID++
	return a.lastID
}

// Register makes the frames of table id evictable through t.
func (a *Allocator) Register(id TableID, t Evictable) {
	if _, ok := a.tables[id]; ok {
		panic(fmt.Sprintf("table %d registered twice", id))
	}
	a.tables[id] = t
}

// Unregister removes table id. It must not claim any frames.
func (a *Allocator) Unregister(id TableID) {
	for ppn := range a.frames {
		if f := &a.frames[ppn]; f.claimed && f.owner.Table == id {
			panic(fmt.Sprintf("unregistering table %d which still claims frame %d (page %d)", id, ppn, f.owner.VPN))
		}
	}
	delete(a.tables, id)
}

// Owner returns the claimant of frame ppn.
func (a *Allocator) Owner(ppn int) (Owner, bool) {
	f := &a.frames[ppn]
	return f.owner, f.claimed
}

// Count returns the aging counter of frame ppn.
func (a *Allocator) Count(ppn int) uint8 {
	return a.frames[ppn].count
}

// Allocate claims a frame for owner and returns its number. If every frame
// is claimed, the frames with the lowest aging counter are candidates, one is
// picked uniformly at random and its owner's Evict is called before the frame
// changes hands. Either way the frame's counter starts at MaxCount.
//
// Allocate fails only if the victim cannot be evicted.
func (a *Allocator) Allocate(ctx context.Context, owner Owner) (int, error) {
	if _, ok := a.tables[owner.Table]; !ok {
		panic(fmt.Sprintf("allocating for unregistered %v", owner))
	}
	if a.free > 0 {
		for ppn := range a.frames {
			if f := &a.frames[ppn]; !f.claimed {
				a.claim(ppn, owner)
				a.free--
				framesAllocated.Increment("false")
				return ppn, nil
			}
		}
		panic(fmt.Sprintf("free count %d but no free frame", a.free))
	}

	ppn := a.victim()
	if ppn < 0 {
		return -1, kernerr.ErrNoFrame
	}
	victim := a.frames[ppn].owner
	t, ok := a.tables[victim.Table]
	if !ok {
		panic(fmt.Sprintf("frame %d claimed by unregistered %v", ppn, victim))
	}
	a.evictLog.Debugf("Evicting %v from frame %d for %v", victim, ppn, owner)
	if err := t.Evict(ctx, victim.VPN); err != nil {
		return -1, fmt.Errorf("evicting %v from frame %d: %w", victim, ppn, err)
	}
	a.claim(ppn, owner)
	framesAllocated.Increment("true")
	return ppn, nil
}

func (a *Allocator) claim(ppn int, owner Owner) {
	a.frames[ppn] = frame{owner: owner, claimed: true, count: MaxCount}
}

// victim returns the frame to evict, or -1 if there are no frames.
func (a *Allocator) victim() int {
	var candidates []int
	lowest := 0x100
	for ppn := range a.frames {
		c := int(a.frames[ppn].count)
		switch {
		case c < lowest:
			lowest = c
			candidates = append(candidates[:0], ppn)
		case c == lowest:
			candidates = append(candidates, ppn)
		}
	}
	if len(candidates) == 0 {
		return -1
	}
	return candidates[a.rand.IntN(len(candidates))]
}

// Free releases frame ppn, which owner must claim. A mismatch means the
// frame table is corrupt and panics.
func (a *Allocator) Free(ppn int, owner Owner) {
	if ppn < 0 || ppn >= len(a.frames) {
		panic(fmt.Sprintf("freeing frame %d out of range [0, %d)", ppn, len(a.frames)))
	}
	f := &a.frames[ppn]
	if !f.claimed {
		panic(fmt.Sprintf("%v freeing unclaimed frame %d", owner, ppn))
	}
	if f.owner != owner {
		panic(fmt.Sprintf("%v freeing frame %d claimed by %v", owner, ppn, f.owner))
	}
	*f = frame{}
	a.free++
}

// UpdateCount ages every claimed frame: the counter shifts right by one and
// the owner's referenced bit, which is cleared, becomes bit 7. It is called
// on each timer interrupt.
func (a *Allocator) UpdateCount() {
	for ppn := range a.frames {
		f := &a.frames[ppn]
		if !f.claimed {
			continue
		}
		f.count >>= 1
		if t, ok := a.tables[f.owner.Table]; ok && t.TestAndClearUse(f.owner.VPN) {
			f.count |= 0x80
		}
	}
}

// CheckInvariants panics if two frames claim the same page table entry or
// the free count is wrong.
func (a *Allocator) CheckInvariants() {
	seen := make(map[Owner]int)
	free := 0
	for ppn, f := range a.frames {
		if !f.claimed {
			free++
			continue
		}
		if other, ok := seen[f.owner]; ok {
			panic(fmt.Sprintf("frames %d and %d both claim %v", other, ppn, f.owner))
		}
		seen[f.owner] = ppn
	}
	if free != a.free {
		panic(fmt.Sprintf("free count %d, but %d frames are free", a.free, free))
	}
}
