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

package pagetables

import (
	"fmt"
	"unsafe"

	"pagetable.dev/pagetable/pkg/hostarch"
	"pagetable.dev/pagetable/pkg/memutil"
)

// ArenaAllocator is an Allocator that carves nodes out of one contiguous
// anonymous mapping. Node i sits at arena offset i*4096 and has physical
// address base+i*4096, so the arena bytes are exactly the image of the
// table in the target machine: write them at base, point CR3 at the root,
// and the tables are live. Page-table images are produced this way.
type ArenaAllocator struct {
	base hostarch.Paddr
	mem  []byte
	used int
}

// NewArenaAllocator returns an ArenaAllocator with capacity for
// size/4096 nodes, occupying [base, base+size) in the target machine's
// physical space. base must be page-aligned and the whole arena must fit
// below MaxPhysAddr; violations are caller bugs and panic. size is rounded
// up to a page multiple.
func NewArenaAllocator(base hostarch.Paddr, size uint64) (*ArenaAllocator, error) {
	if !base.IsPageAligned() {
		panic(fmt.Sprintf("arena base %#x not page aligned", uint64(base)))
	}
	size = (size + hostarch.PageSize - 1) &^ (hostarch.PageSize - 1)
	if size > 0 {
		if last, ok := base.AddLength(size - 1); !ok || !last.IsValid() {
			panic(fmt.Sprintf("arena of %#x bytes at %#x exceeds the addressable physical range", size, uint64(base)))
		}
	}
	mem, err := memutil.MapAnonymous(uintptr(size))
	if err != nil {
		return nil, err
	}
	return &ArenaAllocator{
		base: base,
		mem:  mem,
	}, nil
}

// NewPTEs implements Allocator.NewPTEs.
func (a *ArenaAllocator) NewPTEs() *PTEs {
	if a.used+hostarch.PageSize > len(a.mem) {
		return nil
	}
	ptes := (*PTEs)(unsafe.Pointer(&a.mem[a.used]))
	a.used += hostarch.PageSize
	return ptes
}

// PhysicalFor implements Allocator.PhysicalFor.
func (a *ArenaAllocator) PhysicalFor(ptes *PTEs) hostarch.Paddr {
	offset := uintptr(unsafe.Pointer(ptes)) - uintptr(unsafe.Pointer(unsafe.SliceData(a.mem)))
	if offset >= uintptr(a.used) || offset%hostarch.PageSize != 0 {
		panic("PhysicalFor of a node this allocator did not return")
	}
	return a.base + hostarch.Paddr(offset)
}

// LookupPTEs implements Allocator.LookupPTEs.
func (a *ArenaAllocator) LookupPTEs(physical hostarch.Paddr) *PTEs {
	offset := physical - a.base
	if physical < a.base || uint64(offset) >= uint64(a.used) || !offset.IsPageAligned() {
		panic(fmt.Sprintf("LookupPTEs of unknown physical address %#x", uint64(physical)))
	}
	return (*PTEs)(unsafe.Pointer(&a.mem[offset]))
}

// Base returns the physical address of the arena's first byte.
func (a *ArenaAllocator) Base() hostarch.Paddr {
	return a.base
}

// Size returns the number of arena bytes handed out so far.
func (a *ArenaAllocator) Size() uint64 {
	return uint64(a.used)
}

// Capacity returns the arena's total byte capacity.
func (a *ArenaAllocator) Capacity() uint64 {
	return uint64(len(a.mem))
}

// Bytes returns the used prefix of the arena: the node words exactly as
// they would appear in target memory. The slice aliases the arena and must
// not be used after Close.
func (a *ArenaAllocator) Bytes() []byte {
	return a.mem[:a.used]
}

// Close releases the arena. Nodes returned by the allocator must not be
// used afterwards.
func (a *ArenaAllocator) Close() error {
	if a.mem == nil {
		return nil
	}
	mem := a.mem
	a.mem = nil
	a.used = 0
	return memutil.UnmapSlice(mem)
}
