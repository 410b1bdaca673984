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

	"pagetable.dev/pagetable/pkg/hostarch"
)

// LookupResult describes a translation found by LookupPage.
type LookupResult struct {
	// Phys is the physical address virt translates to, including the
	// offset into the mapped page.
	Phys hostarch.Paddr

	// Entry is the terminal entry that produced the translation.
	Entry PTE

	// Level is the terminal entry's level: 0 for a 4K page, 1 for 2M,
	// 2 for 1G.
	Level int8
}

// PageSize returns the size class of the mapping that produced the
// translation.
func (r LookupResult) PageSize() PageSize {
	return PageSize(r.Level)
}

// LookupPage translates virt through the tables rooted at root. The second
// return value is false if no mapping covers virt.
//
// virt must be canonical; a non-canonical address is a caller bug and
// panics. LookupPage is a pure read: no allocation, no locking, safe to run
// concurrently with other lookups and walks.
func LookupPage(a Allocator, root *PTEs, virt hostarch.Vaddr) (LookupResult, bool) {
	if !virt.IsCanonical() {
		panic(fmt.Sprintf("lookup of non-canonical address %#x", uint64(virt)))
	}
	ptes := root
	for level := rootLevel; level >= 0; level-- {
		entry := ptes[levelIndex(virt, level)].Load()
		if !entry.Present() {
			return LookupResult{}, false
		}
		if entry.IsPage(level) {
			return LookupResult{
				Phys:  entry.PageAddress(level) | hostarch.Paddr(virt.Offset(levelSize(level))),
				Entry: entry,
				Level: level,
			}, true
		}
		ptes = a.LookupPTEs(entry.ChildAddress())
	}
	// Level 0 entries are always terminal, so the loop cannot fall through.
	panic("page table walk descended past level 0")
}
