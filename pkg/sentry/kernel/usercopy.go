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
	"errors"
	"fmt"

	"gvisor.dev/vmkernel/pkg/machine"
)

// maxFaultRetries bounds how often a single user byte access is retried
// after the page fault handler installed its translation.
const maxFaultRetries = 4

// MaxFileNameLength bounds the user strings naming files, terminator
// included.
const MaxFileNameLength = 32

// readUserByte reads the byte at addr through the TLB, faulting it in as
// needed.
func (k *Kernel) readUserByte(addr int32) (byte, error) {
	for i := 0; i < maxFaultRetries; i++ {
		v, err := k.m.ReadMem(addr, 1)
		if errors.Is(err, machine.ErrFault) {
			continue
		}
		return byte(v), err
	}
	return 0, fmt.Errorf("user read at %#x still faults after %d retries", addr, maxFaultRetries)
}

func (k *Kernel) writeUserByte(addr int32, b byte) error {
	for i := 0; i < maxFaultRetries; i++ {
		err := k.m.WriteMem(addr, 1, int32(b))
		if errors.Is(err, machine.ErrFault) {
			continue
		}
		return err
	}
	return fmt.Errorf("user write at %#x still faults after %d retries", addr, maxFaultRetries)
}

// CopyInString reads a NUL terminated string of at most max-1 bytes from
// user memory at addr.
func (k *Kernel) CopyInString(addr int32, max int) (string, error) {
	buf := make([]byte, 0, max)
	for i := 0; i < max-1; i++ {
		b, err := k.readUserByte(addr + int32(i))
		if err != nil {
			return "", err
		}
		if b == 0 {
			break
		}
		buf = append(buf, b)
	}
	return string(buf), nil
}

// CopyIn reads n bytes of user memory at addr.
func (k *Kernel) CopyIn(addr int32, n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := range buf {
		b, err := k.readUserByte(addr + int32(i))
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

// CopyOut writes b to user memory at addr.
func (k *Kernel) CopyOut(addr int32, b []byte) error {
	for i, v := range b {
		if err := k.writeUserByte(addr+int32(i), v); err != nil {
			return err
		}
	}
	return nil
}
