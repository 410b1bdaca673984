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
	"sync/atomic"

	"pagetable.dev/pagetable/pkg/hostarch"
)

// PTE is a single page table entry, in the x86-64 long mode format. The
// zero value maps nothing.
//
// Accessors operate on plain values; layouts that depend on the paging
// level take it as a parameter. Slot access in a live node goes through the
// atomic Load and Store methods.
type PTE uint64

// PTEs is a page table node: 512 entries filling one 4KiB page. The zero
// value maps nothing.
type PTEs [entriesPerPage]PTE

// Entry bits.
const (
	present        PTE = 1 << 0
	writable       PTE = 1 << 1
	user           PTE = 1 << 2
	writeThrough   PTE = 1 << 3
	cacheDisable   PTE = 1 << 4
	accessed       PTE = 1 << 5
	dirty          PTE = 1 << 6
	super          PTE = 1 << 7 // page-size bit at levels 1 and 2
	pat4K          PTE = 1 << 7 // PAT bit in level 0 entries (same bit as super)
	global         PTE = 1 << 8
	patSuper       PTE = 1 << 12 // PAT bit in super-page entries
	executeDisable PTE = 1 << 63

	// physAddrMask covers bits 51:12, the entry's address field.
	physAddrMask PTE = 0x000ffffffffff000
)

func checkLevel(level int8) {
	if level < 0 || level > rootLevel {
		panic(fmt.Sprintf("invalid level %d", level))
	}
}

func checkPageLevel(level int8) {
	checkLevel(level)
	if level == rootLevel {
		panic("level 3 entries cannot map pages")
	}
}

// Present returns the valid bit.
func (e PTE) Present() bool { return e&present != 0 }

// Writable returns the read/write bit.
func (e PTE) Writable() bool { return e&writable != 0 }

// User returns the user/supervisor bit.
func (e PTE) User() bool { return e&user != 0 }

// WriteThrough returns the write-through cache bit.
func (e PTE) WriteThrough() bool { return e&writeThrough != 0 }

// CacheDisable returns the cache-disable bit.
func (e PTE) CacheDisable() bool { return e&cacheDisable != 0 }

// Accessed returns the accessed bit.
func (e PTE) Accessed() bool { return e&accessed != 0 }

// Dirty returns the dirty bit.
func (e PTE) Dirty() bool { return e&dirty != 0 }

// Global returns the global bit.
func (e PTE) Global() bool { return e&global != 0 }

// ExecuteDisable returns the execute-disable bit.
func (e PTE) ExecuteDisable() bool { return e&executeDisable != 0 }

func (e *PTE) setBit(mask PTE, v bool) {
	if v {
		*e |= mask
	} else {
		*e &^= mask
	}
}

// SetPresent sets the valid bit.
func (e *PTE) SetPresent(v bool) { e.setBit(present, v) }

// SetWritable sets the read/write bit.
func (e *PTE) SetWritable(v bool) { e.setBit(writable, v) }

// SetUser sets the user/supervisor bit.
func (e *PTE) SetUser(v bool) { e.setBit(user, v) }

// SetWriteThrough sets the write-through cache bit.
func (e *PTE) SetWriteThrough(v bool) { e.setBit(writeThrough, v) }

// SetCacheDisable sets the cache-disable bit.
func (e *PTE) SetCacheDisable(v bool) { e.setBit(cacheDisable, v) }

// SetAccessed sets the accessed bit.
func (e *PTE) SetAccessed(v bool) { e.setBit(accessed, v) }

// SetDirty sets the dirty bit.
func (e *PTE) SetDirty(v bool) { e.setBit(dirty, v) }

// SetGlobal sets the global bit.
func (e *PTE) SetGlobal(v bool) { e.setBit(global, v) }

// SetExecuteDisable sets the execute-disable bit.
func (e *PTE) SetExecuteDisable(v bool) { e.setBit(executeDisable, v) }

// IsPage returns true if the entry maps a page at the given level rather
// than pointing at a child node. Level 0 entries always map pages and level
// 3 entries never do; at levels 1 and 2 the page-size bit decides.
func (e PTE) IsPage(level int8) bool {
	checkLevel(level)
	switch level {
	case 0:
		return true
	case rootLevel:
		return false
	default:
		return e&super != 0
	}
}

// SetIsPage sets or clears the page-size bit at levels 1 and 2. The level 0
// and level 3 layouts are fixed, so asking for a level 3 page or a level 0
// non-page panics.
func (e *PTE) SetIsPage(level int8, v bool) {
	checkLevel(level)
	switch level {
	case 0:
		if !v {
			panic("level 0 entries always map pages")
		}
	case rootLevel:
		if v {
			panic("level 3 entries cannot map pages")
		}
	default:
		e.setBit(super, v)
	}
}

// PAT returns the page-attribute-table bit: bit 7 in level 0 entries, bit
// 12 in super-page entries. Level 3 entries have no PAT bit.
func (e PTE) PAT(level int8) bool {
	checkPageLevel(level)
	if level == 0 {
		return e&pat4K != 0
	}
	return e&patSuper != 0
}

// SetPAT sets the page-attribute-table bit for a terminal entry at the
// given level.
func (e *PTE) SetPAT(level int8, v bool) {
	checkPageLevel(level)
	if level == 0 {
		e.setBit(pat4K, v)
	} else {
		e.setBit(patSuper, v)
	}
}

// PageAddress returns the physical page frame mapped by a terminal entry at
// the given level, masked to the level's granularity.
func (e PTE) PageAddress(level int8) hostarch.Paddr {
	checkPageLevel(level)
	return hostarch.Paddr(uint64(e&physAddrMask) &^ (levelSize(level) - 1))
}

// SetPageAddress writes the physical page frame of a terminal entry at the
// given level. phys must be representable and aligned to the level's
// granularity; anything else is a caller bug and panics.
func (e *PTE) SetPageAddress(level int8, phys hostarch.Paddr) {
	checkPageLevel(level)
	if !phys.IsValid() {
		panic(fmt.Sprintf("physical address %#x exceeds MaxPhysAddr", uint64(phys)))
	}
	if !phys.IsAligned(levelSize(level)) {
		panic(fmt.Sprintf("physical address %#x not aligned to a level %d page", uint64(phys), level))
	}
	addrMask := physAddrMask &^ PTE(levelSize(level)-1)
	*e = *e&^addrMask | PTE(phys)
}

// ChildAddress returns the physical address of the child node named by a
// non-terminal entry.
func (e PTE) ChildAddress() hostarch.Paddr {
	return hostarch.Paddr(e & physAddrMask)
}

// SetChildAddress writes the physical address of a child node. phys must be
// representable and page-aligned.
func (e *PTE) SetChildAddress(phys hostarch.Paddr) {
	if !phys.IsValid() {
		panic(fmt.Sprintf("physical address %#x exceeds MaxPhysAddr", uint64(phys)))
	}
	if !phys.IsPageAligned() {
		panic(fmt.Sprintf("child node address %#x not page aligned", uint64(phys)))
	}
	*e = *e&^physAddrMask | PTE(phys)
}

// Load atomically reads the entry. All reads of a slot in a live node go
// through Load, so a concurrent reader never observes a torn entry.
func (e *PTE) Load() PTE {
	return PTE(atomic.LoadUint64((*uint64)(e)))
}

// Store atomically writes the entry.
func (e *PTE) Store(v PTE) {
	atomic.StoreUint64((*uint64)(e), uint64(v))
}
