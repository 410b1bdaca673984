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

	"pagetable.dev/pagetable/pkg/errors/pterr"
	"pagetable.dev/pagetable/pkg/hostarch"
)

// MapPage installs a terminal mapping of the given size from virt to phys
// in the tables rooted at root, allocating intermediate nodes from a as
// needed.
//
// virt must be canonical, phys must not exceed MaxPhysAddr, and both must
// be aligned to size; violations are caller bugs and panic. Runtime
// failures come back as status errors: pterr.ErrNoMemory if the allocator
// is exhausted, pterr.ErrAlreadyExists if the terminal slot is occupied or
// a larger page already covers this range. Existing mappings are never
// overwritten.
//
// MapPage is not transactional: intermediate nodes installed before a
// failure in the same call stay in place. They map nothing, and later calls
// reuse them.
func MapPage(a Allocator, root *PTEs, virt hostarch.Vaddr, phys hostarch.Paddr, size PageSize) error {
	_, err := mapPage(a, root, virt, phys, size)
	return err
}

// mapPage is MapPage, additionally reporting the number of nodes allocated,
// including any allocated before a failure.
func mapPage(a Allocator, root *PTEs, virt hostarch.Vaddr, phys hostarch.Paddr, size PageSize) (int, error) {
	finalLevel := size.Level()
	if !virt.IsCanonical() {
		panic(fmt.Sprintf("map of non-canonical address %#x", uint64(virt)))
	}
	if !phys.IsValid() {
		panic(fmt.Sprintf("physical address %#x exceeds MaxPhysAddr", uint64(phys)))
	}
	if !virt.IsAligned(size.Bytes()) {
		panic(fmt.Sprintf("virtual address %#x not aligned to a %s page", uint64(virt), size))
	}
	if !phys.IsAligned(size.Bytes()) {
		panic(fmt.Sprintf("physical address %#x not aligned to a %s page", uint64(phys), size))
	}

	allocated := 0
	ptes := root
	for level := rootLevel; level > finalLevel; level-- {
		slot := &ptes[levelIndex(virt, level)]
		entry := slot.Load()
		switch {
		case entry.Present() && entry.IsPage(level):
			// A coarser mapping already covers this range.
			return allocated, pterr.ErrAlreadyExists
		case !entry.Present():
			child := a.NewPTEs()
			if child == nil {
				return allocated, pterr.ErrNoMemory
			}
			// Zero the node before publishing it; the allocator makes no
			// promises about the memory it hands out.
			*child = PTEs{}
			allocated++
			var e PTE
			e.SetPresent(true)
			e.SetWritable(true)
			e.SetChildAddress(a.PhysicalFor(child))
			slot.Store(e)
			ptes = child
		default:
			ptes = a.LookupPTEs(entry.ChildAddress())
		}
	}

	slot := &ptes[levelIndex(virt, finalLevel)]
	if slot.Load().Present() {
		return allocated, pterr.ErrAlreadyExists
	}
	var e PTE
	e.SetPresent(true)
	e.SetWritable(true)
	e.SetIsPage(finalLevel, true)
	e.SetPageAddress(finalLevel, phys)
	slot.Store(e)
	return allocated, nil
}
