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

// Package noff reads and writes NOFF executables.
//
// A NOFF file starts with a fixed header: a magic word followed by three
// segment descriptors (code, initialized data, uninitialized data), each of
// which is three 32-bit words {virtualAddr, inFileAddr, size}. The header may
// have been written in either byte order; Decode accepts both.
package noff

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"gvisor.dev/vmkernel/pkg/errors/kernerr"
)

// Magic identifies a NOFF executable.
const Magic = 0xbadfad

// HeaderSize is the encoded size of Header.
const HeaderSize = 4 + 3*segmentSize

const segmentSize = 3 * 4

// Segment describes one contiguous region of the program image.
type Segment struct {
	VirtualAddr int32
	InFileAddr  int32
	Size        int32
}

// End returns the first virtual address past the segment. Decode guarantees
// that it does not overflow.
func (s Segment) End() int32 {
	return s.VirtualAddr + s.Size
}

// Contains reports whether the virtual address addr lies in the segment.
func (s Segment) Contains(addr int32) bool {
	return s.Size > 0 && addr >= s.VirtualAddr && addr < s.End()
}

// Header is a decoded NOFF header.
type Header struct {
	Code       Segment
	InitData   Segment
	UninitData Segment

	// Order is the byte order the header was encoded in.
	Order binary.ByteOrder
}

// ImageSize returns the number of bytes the program occupies in memory,
// excluding the stack.
func (h *Header) ImageSize() int {
	return int(h.Code.Size) + int(h.InitData.Size) + int(h.UninitData.Size)
}

// Decode parses a header from b. The magic is tried little-endian first and
// then big-endian; all other words are decoded in whichever order matched.
func Decode(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header is %d bytes, want %d: %w", len(b), HeaderSize, kernerr.ErrShortExec)
	}
	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(b) == Magic:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(b) == Magic:
		order = binary.BigEndian
	default:
		return Header{}, fmt.Errorf("magic %#x: %w", binary.LittleEndian.Uint32(b), kernerr.ErrBadMagic)
	}

	seg := func(off int) Segment {
		return Segment{
			VirtualAddr: int32(order.Uint32(b[off:])),
			InFileAddr:  int32(order.Uint32(b[off+4:])),
			Size:        int32(order.Uint32(b[off+8:])),
		}
	}
	h := Header{
		Code:       seg(4),
		InitData:   seg(4 + segmentSize),
		UninitData: seg(4 + 2*segmentSize),
		Order:      order,
	}
	for _, s := range []Segment{h.Code, h.InitData, h.UninitData} {
		if s.Size < 0 || s.VirtualAddr < 0 || s.InFileAddr < 0 {
			return Header{}, fmt.Errorf("segment %+v has negative fields: %w", s, kernerr.ErrBadMagic)
		}
		if int64(s.VirtualAddr)+int64(s.Size) > math.MaxInt32 || int64(s.InFileAddr)+int64(s.Size) > math.MaxInt32 {
			return Header{}, fmt.Errorf("segment %+v ends past the address space: %w", s, kernerr.ErrBadMagic)
		}
	}
	return h, nil
}

// ReadHeader reads and decodes the header at the start of r.
func ReadHeader(r io.ReaderAt) (Header, error) {
	b := make([]byte, HeaderSize)
	n, err := r.ReadAt(b, 0)
	if err != nil && err != io.EOF {
		return Header{}, fmt.Errorf("reading executable header: %w", err)
	}
	return Decode(b[:n])
}

// Encode appends the header to buf in h.Order, or little-endian if unset.
func (h *Header) Encode(buf []byte) []byte {
	order := h.Order
	if order == nil {
		order = binary.LittleEndian
	}
	var raw [HeaderSize]byte
	order.PutUint32(raw[0:], Magic)
	for i, s := range []Segment{h.Code, h.InitData, h.UninitData} {
		off := 4 + i*segmentSize
		order.PutUint32(raw[off:], uint32(s.VirtualAddr))
		order.PutUint32(raw[off+4:], uint32(s.InFileAddr))
		order.PutUint32(raw[off+8:], uint32(s.Size))
	}
	return append(buf, raw[:]...)
}

// Build lays out a complete executable: code at virtual address 0, data
// directly after it and bssSize bytes of uninitialized data after that. Code
// and data follow the header in the file.
func Build(code, data []byte, bssSize int) []byte {
	h := Header{
		Code: Segment{
			VirtualAddr: 0,
			InFileAddr:  HeaderSize,
			Size:        int32(len(code)),
		},
		InitData: Segment{
			VirtualAddr: int32(len(code)),
			InFileAddr:  int32(HeaderSize + len(code)),
			Size:        int32(len(data)),
		},
		UninitData: Segment{
			VirtualAddr: int32(len(code) + len(data)),
			Size:        int32(bssSize),
		},
	}
	out := h.Encode(make([]byte, 0, HeaderSize+len(code)+len(data)))
	out = append(out, code...)
	return append(out, data...)
}
