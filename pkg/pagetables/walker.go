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

	"pagetable.dev/pagetable/pkg/bits"
	"pagetable.dev/pagetable/pkg/hostarch"
)

// Mapping describes one present terminal mapping found by Walk.
type Mapping struct {
	// Virt is the first virtual address the mapping covers.
	Virt hostarch.Vaddr

	// Phys is the physical page frame the mapping targets.
	Phys hostarch.Paddr

	// Size is the mapping size in bytes.
	Size uint64

	// Entry is the raw terminal entry.
	Entry PTE

	// Level is the terminal entry's level.
	Level int8
}

// PageSize returns the mapping's size class.
func (m Mapping) PageSize() PageSize {
	return PageSize(m.Level)
}

// Walk calls visit for every present terminal mapping whose first byte lies
// in [start, end], in ascending virtual order. It descends only into
// present child nodes and never allocates. visit returning false stops the
// walk.
//
// start and end must be canonical and start must not exceed end; violations
// are caller bugs and panic. Walk is a pure read and safe to run
// concurrently with lookups and other walks.
func Walk(a Allocator, root *PTEs, start, end hostarch.Vaddr, visit func(Mapping) bool) {
	if !start.IsCanonical() {
		panic(fmt.Sprintf("walk start %#x is not canonical", uint64(start)))
	}
	if !end.IsCanonical() {
		panic(fmt.Sprintf("walk end %#x is not canonical", uint64(end)))
	}
	if start > end {
		panic(fmt.Sprintf("walk start %#x above end %#x", uint64(start), uint64(end)))
	}
	walkNode(a, root, rootLevel, 0, start, end, visit)
}

// walkNode visits the mappings under one node. base is the virtual address
// of the node's first entry; at the root it is refined per entry by sign
// extension, which keeps entry addresses both canonical and ascending
// across the two canonical halves. Returns false if visit stopped the walk.
func walkNode(a Allocator, ptes *PTEs, level int8, base, start, end hostarch.Vaddr, visit func(Mapping) bool) bool {
	size := levelSize(level)
	for idx := 0; idx < entriesPerPage; idx++ {
		entryVirt := base + hostarch.Vaddr(uint64(idx)*size)
		if level == rootLevel {
			entryVirt = hostarch.Vaddr(bits.SignExtend64(uint64(entryVirt), hostarch.VaddrBits))
		}
		if entryVirt > end {
			return true
		}
		if entryVirt+hostarch.Vaddr(size-1) < start {
			continue
		}
		entry := ptes[idx].Load()
		if !entry.Present() {
			continue
		}
		if entry.IsPage(level) {
			if entryVirt < start {
				continue
			}
			if !visit(Mapping{
				Virt:  entryVirt,
				Phys:  entry.PageAddress(level),
				Size:  size,
				Entry: entry,
				Level: level,
			}) {
				return false
			}
			continue
		}
		if !walkNode(a, a.LookupPTEs(entry.ChildAddress()), level-1, entryVirt, start, end, visit) {
			return false
		}
	}
	return true
}
