// Copyright 2025 The Pagetable Authors.
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

package hostarch

import (
	"pagetable.dev/pagetable/pkg/bits"
)

// Vaddr represents a virtual address in the target address space.
type Vaddr uint64

// AddLength returns v + length and whether the sum did not wrap around.
func (v Vaddr) AddLength(length uint64) (end Vaddr, ok bool) {
	end = v + Vaddr(length)
	ok = end >= v
	return
}

// PageOffset returns the offset of v into its containing page.
func (v Vaddr) PageOffset() uint64 {
	return uint64(v & (PageSize - 1))
}

// IsPageAligned returns true if v.PageOffset() == 0.
func (v Vaddr) IsPageAligned() bool {
	return v.PageOffset() == 0
}

// Offset returns the offset of v into its containing align-sized region.
// align must be a power of two.
func (v Vaddr) Offset(align uint64) uint64 {
	return uint64(v) & (align - 1)
}

// IsAligned returns true if v is a multiple of align. align must be a power
// of two.
func (v Vaddr) IsAligned(align uint64) bool {
	return v.Offset(align) == 0
}

// IsCanonical returns true if bits [63:VaddrBits] of v sign-extend bit
// VaddrBits-1. The CPU faults on non-canonical addresses, so the page-table
// operations refuse them up front.
func (v Vaddr) IsCanonical() bool {
	return uint64(v) == bits.SignExtend64(uint64(v), VaddrBits)
}

// Paddr represents a physical address.
type Paddr uint64

// AddLength returns p + length and whether the sum did not wrap around.
func (p Paddr) AddLength(length uint64) (end Paddr, ok bool) {
	end = p + Paddr(length)
	ok = end >= p
	return
}

// PageOffset returns the offset of p into its containing page.
func (p Paddr) PageOffset() uint64 {
	return uint64(p & (PageSize - 1))
}

// IsPageAligned returns true if p.PageOffset() == 0.
func (p Paddr) IsPageAligned() bool {
	return p.PageOffset() == 0
}

// Offset returns the offset of p into its containing align-sized region.
// align must be a power of two.
func (p Paddr) Offset(align uint64) uint64 {
	return uint64(p) & (align - 1)
}

// IsAligned returns true if p is a multiple of align. align must be a power
// of two.
func (p Paddr) IsAligned(align uint64) bool {
	return p.Offset(align) == 0
}

// IsValid returns true if p fits the entry format's physical address field.
func (p Paddr) IsValid() bool {
	return p <= MaxPhysAddr
}
