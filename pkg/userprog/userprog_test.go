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

package userprog

import (
	"sort"
	"testing"

	"gvisor.dev/vmkernel/pkg/machine"
	"gvisor.dev/vmkernel/pkg/noff"
)

func TestProgramsLink(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			exe := Programs[name](machine.DefaultPageSize)
			h, err := noff.Decode(exe)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if h.Code.Size == 0 || h.Code.Size%machine.InstructionSize != 0 {
				t.Errorf("code size %d is not a positive multiple of %d", h.Code.Size, machine.InstructionSize)
			}
			if got, want := len(exe), noff.HeaderSize+int(h.Code.Size+h.InitData.Size); got != want {
				t.Errorf("executable is %d bytes, want %d", got, want)
			}
		})
	}
}

func TestNamesSorted(t *testing.T) {
	names := Names()
	if len(names) != len(Programs) {
		t.Fatalf("Names returned %d names, want %d", len(names), len(Programs))
	}
	if !sort.StringsAreSorted(names) {
		t.Errorf("Names not sorted: %v", names)
	}
}

func TestPagesResult(t *testing.T) {
	sum := int32(0)
	for _, p := range PagesSequence {
		sum += p + 1
	}
	if sum != PagesResult {
		t.Errorf("PagesResult = %d, want %d", PagesResult, sum)
	}
}
