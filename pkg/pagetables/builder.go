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

// BuilderOpts configures a Builder.
type BuilderOpts struct {
	// Use1GPages permits MapRegion to install 1GiB mappings where
	// alignment and size allow. 2MiB and 4KiB pages are always permitted.
	Use1GPages bool
}

// Builder assembles an address space region by region, backing each region
// with the largest pages its alignment allows.
//
// Builder methods must be externally serialized. LookupPage and Walk
// against the builder's tables may run concurrently with each other, but
// not with MapRegion.
type Builder struct {
	a            Allocator
	opts         BuilderOpts
	root         *PTEs
	rootPhysical hostarch.Paddr
	stats        Stats
}

// Stats counts what a Builder has installed so far.
type Stats struct {
	// NodesAllocated is the number of table nodes allocated, including
	// the root and any nodes installed before a failed mapping call.
	NodesAllocated uint64

	// Pages4K, Pages2M and Pages1G count installed terminal mappings by
	// page size.
	Pages4K uint64
	Pages2M uint64
	Pages1G uint64
}

// NewBuilder returns a Builder with a fresh zeroed root node from a.
//
// If a is exhausted, NewBuilder returns pterr.ErrNoMemory and no partial
// state: there is nothing to clean up.
func NewBuilder(a Allocator, opts BuilderOpts) (*Builder, error) {
	root := a.NewPTEs()
	if root == nil {
		return nil, pterr.ErrNoMemory
	}
	*root = PTEs{}
	return &Builder{
		a:            a,
		opts:         opts,
		root:         root,
		rootPhysical: a.PhysicalFor(root),
		stats:        Stats{NodesAllocated: 1},
	}, nil
}

// MapRegion maps [virt, virt+size) to [phys, phys+size).
//
// A zero size is a no-op, regardless of the other arguments. Only
// hostarch.MemoryTypeNormal is supported today; any other memory type
// returns pterr.ErrNotSupported. The region must not wrap either address
// space, must lie entirely within one canonical half, and virt, phys and
// size must all be 4KiB-aligned; violations return pterr.ErrInvalidArgs
// before anything is mapped.
//
// Each chunk is mapped with the largest page size the current alignment
// and remainder allow, so a single region may mix 1G, 2M and 4K pages. The
// first MapPage failure aborts the loop and is returned; chunks already
// installed stay mapped. Callers wanting all-or-nothing semantics must
// discard the whole address space on error.
func (b *Builder) MapRegion(virt hostarch.Vaddr, phys hostarch.Paddr, size uint64, mt hostarch.MemoryType) error {
	if size == 0 {
		return nil
	}
	if mt != hostarch.MemoryTypeNormal {
		return pterr.ErrNotSupported
	}
	last, ok := virt.AddLength(size - 1)
	if !ok {
		return pterr.ErrInvalidArgs
	}
	if _, ok := phys.AddLength(size - 1); !ok {
		return pterr.ErrInvalidArgs
	}
	// A range larger than the canonical half necessarily spans the
	// non-canonical hole even when both endpoints sign-extend.
	if !virt.IsCanonical() || !last.IsCanonical() || size >= 1<<hostarch.VaddrBits {
		return pterr.ErrInvalidArgs
	}
	if !virt.IsPageAligned() || !phys.IsPageAligned() || size&(hostarch.PageSize-1) != 0 {
		return pterr.ErrInvalidArgs
	}

	for size > 0 {
		chunk := b.chunkSize(virt, phys, size)
		nodes, err := mapPage(b.a, b.root, virt, phys, chunk)
		b.stats.NodesAllocated += uint64(nodes)
		if err != nil {
			return err
		}
		switch chunk {
		case PageSize4K:
			b.stats.Pages4K++
		case PageSize2M:
			b.stats.Pages2M++
		case PageSize1G:
			b.stats.Pages1G++
		}
		bytes := chunk.Bytes()
		virt += hostarch.Vaddr(bytes)
		phys += hostarch.Paddr(bytes)
		size -= bytes
	}
	return nil
}

// chunkSize returns the largest page size usable at the current position.
// Eligibility is recomputed for every chunk, so a region tail lowers to
// smaller pages as the remainder shrinks.
func (b *Builder) chunkSize(virt hostarch.Vaddr, phys hostarch.Paddr, size uint64) PageSize {
	if b.opts.Use1GPages && size >= pudSize && virt.IsAligned(pudSize) && phys.IsAligned(pudSize) {
		return PageSize1G
	}
	if size >= pmdSize && virt.IsAligned(pmdSize) && phys.IsAligned(pmdSize) {
		return PageSize2M
	}
	return PageSize4K
}

// RootNode returns the root node, for handing the finished tables to
// whatever consumes them.
func (b *Builder) RootNode() *PTEs {
	return b.root
}

// RootPhysical returns the root node's physical address.
func (b *Builder) RootPhysical() hostarch.Paddr {
	return b.rootPhysical
}

// CR3 returns the control-register value selecting these tables. The
// noFlush flag sets bit 63, avoiding a TLB flush on the switch; pcid is
// the PCID to use, or zero for none. PCIDs are 12 bits; a larger value
// is a caller bug and panics.
func (b *Builder) CR3(noFlush bool, pcid uint16) uint64 {
	const noFlushBit = 0x8000000000000000
	if pcid >= 1<<12 {
		panic(fmt.Sprintf("pcid %#x exceeds 12 bits", pcid))
	}
	if noFlush && pcid != 0 {
		return noFlushBit | uint64(b.rootPhysical) | uint64(pcid)
	}
	return uint64(b.rootPhysical) | uint64(pcid)
}

// Stats returns the builder's counters.
func (b *Builder) Stats() Stats {
	return b.stats
}
