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

package machine

import "encoding/binary"

// Translate converts a user virtual address to a physical address using the
// TLB only. It sets the entry's Use bit, and its Dirty bit when writing.
func (m *Machine) Translate(virtAddr int32, size int, writing bool) (int, ExceptionType) {
	switch size {
	case 1, 2, 4:
	default:
		return 0, AddressErrorException
	}
	if virtAddr < 0 || int(virtAddr)%size != 0 {
		return 0, AddressErrorException
	}

	vpn := int(virtAddr) / m.cfg.PageSize
	offset := int(virtAddr) % m.cfg.PageSize

	var entry *TranslationEntry
	for i := range m.TLB {
		if m.TLB[i].Valid && m.TLB[i].VirtualPage == vpn {
			entry = &m.TLB[i]
			break
		}
	}
	if entry == nil {
		return 0, PageFaultException
	}
	if writing && entry.ReadOnly {
		return 0, ReadOnlyException
	}
	if entry.PhysicalPage < 0 || entry.PhysicalPage >= m.cfg.NumPhysPages {
		return 0, BusErrorException
	}

	entry.Use = true
	if writing {
		entry.Dirty = true
	}
	return entry.PhysicalPage*m.cfg.PageSize + offset, NoException
}

// ReadMem reads size (1, 2 or 4) bytes of little-endian data at addr. If the
// translation fails the exception is raised; ReadMem then returns ErrFault if
// the kernel handled it, or the kernel's error otherwise.
func (m *Machine) ReadMem(addr int32, size int) (int32, error) {
	phys, exc := m.Translate(addr, size, false)
	if exc != NoException {
		if err := m.RaiseException(exc, addr); err != nil {
			return 0, err
		}
		return 0, ErrFault
	}
	switch size {
	case 1:
		return int32(m.MainMemory[phys]), nil
	case 2:
		return int32(binary.LittleEndian.Uint16(m.MainMemory[phys:])), nil
	default:
		return int32(binary.LittleEndian.Uint32(m.MainMemory[phys:])), nil
	}
}

// WriteMem writes size (1, 2 or 4) bytes of value at addr, with the same
// fault behaviour as ReadMem.
func (m *Machine) WriteMem(addr int32, size int, value int32) error {
	phys, exc := m.Translate(addr, size, true)
	if exc != NoException {
		if err := m.RaiseException(exc, addr); err != nil {
			return err
		}
		return ErrFault
	}
	switch size {
	case 1:
		m.MainMemory[phys] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(m.MainMemory[phys:], uint16(value))
	default:
		binary.LittleEndian.PutUint32(m.MainMemory[phys:], uint32(value))
	}
	return nil
}
