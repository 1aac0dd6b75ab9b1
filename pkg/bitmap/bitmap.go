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

// Package bitmap provides a fixed size bitmap, used to track occupied swap
// slots.
package bitmap

import (
	"fmt"
	"math/bits"
)

// Bitmap is a set of small non-negative integers below a fixed size.
type Bitmap struct {
	// size is the number of valid bits.
	size int

	// numOnes is the number of ones in the bitmap.
	numOnes int

	// bitBlock holds the bits. Each word holds 64 entries.
	bitBlock []uint64
}

// New creates a new empty Bitmap of size bits.
func New(size int) Bitmap {
	return Bitmap{
		size:     size,
		bitBlock: make([]uint64, (size+63)/64),
	}
}

// Size returns the number of bits in the bitmap.
func (b *Bitmap) Size() int {
	return b.size
}

// IsEmpty verifies whether the Bitmap is empty.
func (b *Bitmap) IsEmpty() bool {
	return b.numOnes == 0
}

// Count returns the number of set bits.
func (b *Bitmap) Count() int {
	return b.numOnes
}

func (b *Bitmap) check(i int) {
	if i < 0 || i >= b.size {
		panic(fmt.Sprintf("bit %d out of range [0, %d)", i, b.size))
	}
}

// Test reports whether bit i is set.
func (b *Bitmap) Test(i int) bool {
	b.check(i)
	return b.bitBlock[i/64]&(1<<(i%64)) != 0
}

// Add sets bit i.
func (b *Bitmap) Add(i int) {
	b.check(i)
	m := uint64(1) << (i % 64)
	if b.bitBlock[i/64]&m == 0 {
		b.bitBlock[i/64] |= m
		b.numOnes++
	}
}

// Remove clears bit i.
func (b *Bitmap) Remove(i int) {
	b.check(i)
	m := uint64(1) << (i % 64)
	if b.bitBlock[i/64]&m != 0 {
		b.bitBlock[i/64] &^= m
		b.numOnes--
	}
}

// FirstZero returns the lowest unset bit, or false if every bit is set.
func (b *Bitmap) FirstZero() (int, bool) {
	for i, w := range b.bitBlock {
		if w == ^uint64(0) {
			continue
		}
		bit := i*64 + bits.TrailingZeros64(^w)
		if bit >= b.size {
			break
		}
		return bit, true
	}
	return -1, false
}

// ToSlice returns the set bits in increasing order.
func (b *Bitmap) ToSlice() []int {
	var s []int
	for i, w := range b.bitBlock {
		for w != 0 {
			r := bits.TrailingZeros64(w)
			s = append(s, i*64+r)
			w &^= 1 << r
		}
	}
	return s
}
