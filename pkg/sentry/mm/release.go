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
	"slices"

	"gvisor.dev/vmkernel/pkg/sentry/context"
)

// Release tears down as's private state when its thread exits: the stack
// frames, the stack swap file and as's membership of the shared image. The
// image itself outlives as until FreeSharedPages.
func (as *AddressSpace) Release(ctx context.Context) {
	if as.released {
		panic("address space released twice")
	}
	as.released = true
	as.stack.release(ctx)
	img := as.image
	img.members = slices.DeleteFunc(img.members, func(m *AddressSpace) bool { return m == as })
	ctx.Debugf("Released address space with stack table %d; %d image members left", as.stack.id, len(img.members))
}

// Released reports whether Release has been called.
func (as *AddressSpace) Released() bool {
	return as.released
}

// FreeSharedPages releases the frames of the shared program image along
// with its swap file and the executable. It must be called exactly once per
// image, when the last process sharing it has exited.
func (img *Image) FreeSharedPages(ctx context.Context) {
	if img.freed {
		panic("shared pages freed twice")
	}
	if n := len(img.members); n != 0 {
		panic(fmt.Sprintf("freeing shared pages still used by %d address spaces", n))
	}
	img.freed = true
	img.table.release(ctx)
	if err := img.exec.Close(); err != nil {
		ctx.Warningf("Closing executable: %v", err)
	}
	ctx.Debugf("Freed shared pages of image table %d", img.table.id)
}
