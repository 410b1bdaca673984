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

// Package hostarch defines the address types and page geometry used by the
// page-table packages.
//
// Virtual and physical addresses are distinct types, so translation code
// cannot confuse the two sides of a page-table entry. All geometry is x86-64
// 4-level paging with 4KiB granules. The tables built from these types are
// data describing a target address space; nothing here is conditional on the
// architecture of the machine running this code.
package hostarch

const (
	// PageShift is the binary log of the base page size.
	PageShift = 12

	// PageSize is the base page size, 4KiB.
	PageSize = 1 << PageShift

	// HugePageShift is the binary log of the huge page size.
	HugePageShift = 21

	// HugePageSize is the huge page size, 2MiB.
	HugePageSize = 1 << HugePageShift
)

const (
	// VaddrBits is the number of significant bits in a virtual address.
	// Bits [63:VaddrBits] must sign-extend bit VaddrBits-1 for the address
	// to be canonical.
	VaddrBits = 48

	// PaddrBits is the number of physical address bits an entry can name.
	PaddrBits = 52
)

// MaxPhysAddr is the largest physical address representable in a page-table
// entry's address field.
const MaxPhysAddr Paddr = 1<<PaddrBits - 1
