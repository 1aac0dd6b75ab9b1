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

package noff

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"gvisor.dev/vmkernel/pkg/errors/kernerr"
)

func TestBuildDecode(t *testing.T) {
	code := bytes.Repeat([]byte{1}, 24)
	data := []byte{9, 8, 7, 6}
	exe := Build(code, data, 100)

	h, err := ReadHeader(bytes.NewReader(exe))
	if err != nil {
		t.Fatalf("ReadHeader failed: %v", err)
	}
	want := Header{
		Code:       Segment{VirtualAddr: 0, InFileAddr: HeaderSize, Size: 24},
		InitData:   Segment{VirtualAddr: 24, InFileAddr: HeaderSize + 24, Size: 4},
		UninitData: Segment{VirtualAddr: 28, Size: 100},
	}
	if diff := cmp.Diff(want, h, cmpopts.IgnoreFields(Header{}, "Order")); diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if h.Order != binary.LittleEndian {
		t.Errorf("Order = %v, want little-endian", h.Order)
	}
	if got := h.ImageSize(); got != 128 {
		t.Errorf("ImageSize = %d, want 128", got)
	}
	if got := exe[h.InitData.InFileAddr:]; !bytes.Equal(got, data) {
		t.Errorf("data at InFileAddr = %v, want %v", got, data)
	}
}

func TestDecodeBigEndian(t *testing.T) {
	h := Header{
		Code:  Segment{InFileAddr: HeaderSize, Size: 64},
		Order: binary.BigEndian,
	}
	got, err := Decode(h.Encode(nil))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Order != binary.BigEndian {
		t.Errorf("Order = %v, want big-endian", got.Order)
	}
	if got.Code.Size != 64 || got.Code.InFileAddr != HeaderSize {
		t.Errorf("Code = %+v, byte order not corrected", got.Code)
	}
}

func TestDecodeErrors(t *testing.T) {
	good := Build(nil, nil, 0)
	bad := append([]byte(nil), good...)
	bad[0] ^= 0xff
	neg := (&Header{Code: Segment{Size: -1}}).Encode(nil)
	wrap := (&Header{Code: Segment{VirtualAddr: math.MaxInt32 - 8, Size: 16}}).Encode(nil)
	wrapFile := (&Header{InitData: Segment{InFileAddr: math.MaxInt32, Size: 1}}).Encode(nil)

	for _, tc := range []struct {
		name string
		b    []byte
		want error
	}{
		{"short", good[:HeaderSize-1], kernerr.ErrShortExec},
		{"magic", bad, kernerr.ErrBadMagic},
		{"negative size", neg, kernerr.ErrBadMagic},
		{"end overflows", wrap, kernerr.ErrBadMagic},
		{"file end overflows", wrapFile, kernerr.ErrBadMagic},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decode(tc.b); !errors.Is(err, tc.want) {
				t.Errorf("Decode = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecodeLargestSegment(t *testing.T) {
	h, err := Decode((&Header{UninitData: Segment{VirtualAddr: math.MaxInt32 - 16, Size: 16}}).Encode(nil))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got := h.UninitData.End(); got != math.MaxInt32 {
		t.Errorf("End() = %d, want %d", got, math.MaxInt32)
	}
}

func TestSegmentContains(t *testing.T) {
	s := Segment{VirtualAddr: 16, Size: 8}
	for addr, want := range map[int32]bool{15: false, 16: true, 23: true, 24: false} {
		if got := s.Contains(addr); got != want {
			t.Errorf("Contains(%d) = %t, want %t", addr, got, want)
		}
	}
	if (Segment{}).Contains(0) {
		t.Errorf("empty segment contains 0")
	}
}
