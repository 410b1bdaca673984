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

// Allocator is the injected source of page table nodes.
//
// An Allocator owns the mapping between nodes and the physical addresses
// they occupy in the target machine: PhysicalFor and LookupPTEs must be
// exact inverses for every node previously returned by NewPTEs. Nodes are
// never freed; the address space being built either ships or is discarded
// whole, allocator and all.
type Allocator interface {
	// NewPTEs returns a new set of PTEs, or nil if the allocator is
	// exhausted. Exhaustion is an ordinary runtime condition, not a bug;
	// callers surface it as a status error. Callers must not assume the
	// returned node is zeroed.
	NewPTEs() *PTEs

	// PhysicalFor gives the physical address for a set of PTEs returned
	// by NewPTEs. Passing any other node is a caller bug and panics.
	PhysicalFor(ptes *PTEs) hostarch.Paddr

	// LookupPTEs looks up PTEs by physical address. Passing an address
	// never returned by PhysicalFor is a caller bug and panics.
	LookupPTEs(physical hostarch.Paddr) *PTEs
}

// RuntimeAllocator is an Allocator backed by the Go heap. Node physical
// addresses are synthetic: they are assigned contiguously upward from a
// base, and exist only inside this allocator's two lookup maps. That is
// enough for building and querying tables as data; use ArenaAllocator when
// the backing bytes themselves must land in the target machine.
type RuntimeAllocator struct {
	// MaxNodes, when positive, caps the number of nodes the allocator
	// hands out; NewPTEs returns nil once the cap is reached. Useful for
	// forcing exhaustion in tests.
	MaxNodes int

	next     hostarch.Paddr
	nodes    map[hostarch.Paddr]*PTEs
	physical map[*PTEs]hostarch.Paddr
}

// NewRuntimeAllocator returns a RuntimeAllocator assigning physical
// addresses upward from base. base must be page-aligned.
func NewRuntimeAllocator(base hostarch.Paddr) *RuntimeAllocator {
	if !base.IsPageAligned() {
		panic(fmt.Sprintf("allocator base %#x not page aligned", uint64(base)))
	}
	return &RuntimeAllocator{
		next:     base,
		nodes:    make(map[hostarch.Paddr]*PTEs),
		physical: make(map[*PTEs]hostarch.Paddr),
	}
}

// NewPTEs implements Allocator.NewPTEs.
func (r *RuntimeAllocator) NewPTEs() *PTEs {
	if r.MaxNodes > 0 && len(r.nodes) >= r.MaxNodes {
		return nil
	}
	if !r.next.IsValid() {
		return nil
	}
	ptes := new(PTEs)
	r.nodes[r.next] = ptes
	r.physical[ptes] = r.next
	r.next += hostarch.PageSize
	return ptes
}

// PhysicalFor implements Allocator.PhysicalFor.
func (r *RuntimeAllocator) PhysicalFor(ptes *PTEs) hostarch.Paddr {
	physical, ok := r.physical[ptes]
	if !ok {
		panic("PhysicalFor of a node this allocator did not return")
	}
	return physical
}

// LookupPTEs implements Allocator.LookupPTEs.
func (r *RuntimeAllocator) LookupPTEs(physical hostarch.Paddr) *PTEs {
	ptes, ok := r.nodes[physical]
	if !ok {
		panic(fmt.Sprintf("LookupPTEs of unknown physical address %#x", uint64(physical)))
	}
	return ptes
}

// NodeCount returns the number of nodes handed out so far.
func (r *RuntimeAllocator) NodeCount() int {
	return len(r.nodes)
}
