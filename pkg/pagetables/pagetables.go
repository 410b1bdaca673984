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

// Package pagetables builds and queries x86-64 4-level page tables in user
// space.
//
// The tables are plain data. Nodes come from an injected Allocator that
// assigns each node a physical address in the target machine's address
// space, and entries name children and pages by those physical addresses.
// Nothing here touches the host MMU: a VMM or loader places the allocator's
// backing memory at the corresponding guest-physical range and points CR3 at
// the root.
//
// Concurrency: entry slots are read and written with single-word atomics, so
// a reader never observes a torn entry. Mutations (MapPage, the Builder
// methods) must be externally serialized; LookupPage and Walk may run
// concurrently with each other and with nothing else.
//
// Failure model: allocator exhaustion and mapping collisions are reported as
// status errors (pkg/errors/pterr). Contract violations by the caller, such
// as non-canonical virtual addresses or unaligned page addresses, panic.
package pagetables

import (
	"fmt"

	"pagetable.dev/pagetable/pkg/hostarch"
)

const (
	// numLevels is the depth of the paging hierarchy.
	numLevels = 4

	// rootLevel is the level of the root node (the PML4).
	rootLevel int8 = numLevels - 1

	// entriesPerPage is the number of entries in one node.
	entriesPerPage = 512

	pteShift = 12
	pmdShift = 21
	pudShift = 30
	pgdShift = 39

	pteSize = 1 << pteShift
	pmdSize = 1 << pmdShift
	pudSize = 1 << pudShift
	pgdSize = 1 << pgdShift
)

// levelShift returns the base-2 log of the bytes mapped by one entry at the
// given level: 12, 21, 30, 39 from the bottom up.
func levelShift(level int8) uint {
	return pteShift + 9*uint(level)
}

// levelSize returns the bytes mapped by one entry at the given level.
func levelSize(level int8) uint64 {
	return 1 << levelShift(level)
}

// levelIndex returns the index into a level's node selected by virt.
func levelIndex(virt hostarch.Vaddr, level int8) int {
	return int((uint64(virt) >> levelShift(level)) & (entriesPerPage - 1))
}

// PageSize identifies one of the three terminal mapping sizes.
type PageSize uint8

const (
	// PageSize4K maps one base page via a level 0 entry.
	PageSize4K PageSize = iota

	// PageSize2M maps a huge page via a level 1 entry.
	PageSize2M

	// PageSize1G maps a giant page via a level 2 entry.
	PageSize1G
)

// Level returns the level at which this size's terminal entry lives.
func (s PageSize) Level() int8 {
	switch s {
	case PageSize4K:
		return 0
	case PageSize2M:
		return 1
	case PageSize1G:
		return 2
	default:
		panic(fmt.Sprintf("invalid page size %d", s))
	}
}

// Shift returns the base-2 log of the mapping size in bytes.
func (s PageSize) Shift() uint {
	return levelShift(s.Level())
}

// Bytes returns the mapping size in bytes.
func (s PageSize) Bytes() uint64 {
	return 1 << s.Shift()
}

// String implements fmt.Stringer.String.
func (s PageSize) String() string {
	switch s {
	case PageSize4K:
		return "4K"
	case PageSize2M:
		return "2M"
	case PageSize1G:
		return "1G"
	default:
		return fmt.Sprintf("PageSize(%d)", uint8(s))
	}
}
