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
	"encoding/binary"
	"testing"

	"pagetable.dev/pagetable/pkg/hostarch"
)

// checkInverses verifies the PhysicalFor/LookupPTEs inverse law for a node
// returned by NewPTEs.
func checkInverses(t *testing.T, a Allocator, ptes *PTEs) {
	t.Helper()
	physical := a.PhysicalFor(ptes)
	if got := a.LookupPTEs(physical); got != ptes {
		t.Errorf("LookupPTEs(PhysicalFor(node)) = %p, want %p", got, ptes)
	}
}

func TestRuntimeAllocator(t *testing.T) {
	const base = hostarch.Paddr(0x100000)
	a := NewRuntimeAllocator(base)
	for i := 0; i < 4; i++ {
		ptes := a.NewPTEs()
		if ptes == nil {
			t.Fatalf("NewPTEs %d returned nil", i)
		}
		want := base + hostarch.Paddr(i*hostarch.PageSize)
		if got := a.PhysicalFor(ptes); got != want {
			t.Errorf("node %d at %#x, want %#x", i, uint64(got), uint64(want))
		}
		checkInverses(t, a, ptes)
	}
	if got := a.NodeCount(); got != 4 {
		t.Errorf("NodeCount = %d, want 4", got)
	}
}

func TestRuntimeAllocatorMaxNodes(t *testing.T) {
	a := NewRuntimeAllocator(0)
	a.MaxNodes = 2
	if a.NewPTEs() == nil || a.NewPTEs() == nil {
		t.Fatalf("allocation under the cap failed")
	}
	if a.NewPTEs() != nil {
		t.Errorf("allocation over the cap succeeded")
	}
}

func TestRuntimeAllocatorAddressSpaceExhaustion(t *testing.T) {
	a := NewRuntimeAllocator(hostarch.MaxPhysAddr + 1 - hostarch.PageSize)
	if a.NewPTEs() == nil {
		t.Fatalf("last representable node not allocated")
	}
	if a.NewPTEs() != nil {
		t.Errorf("node beyond MaxPhysAddr allocated")
	}
}

func TestRuntimeAllocatorContractViolations(t *testing.T) {
	a := NewRuntimeAllocator(0)
	assertPanics(t, "unaligned base", func() { NewRuntimeAllocator(0x123) })
	assertPanics(t, "PhysicalFor of a foreign node", func() { a.PhysicalFor(new(PTEs)) })
	assertPanics(t, "LookupPTEs of an unknown address", func() { a.LookupPTEs(0x1000) })
}

func TestArenaAllocator(t *testing.T) {
	const base = hostarch.Paddr(0x200000)
	a, err := NewArenaAllocator(base, 3*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewArenaAllocator failed: %v", err)
	}
	defer a.Close()

	if got := a.Capacity(); got != 3*hostarch.PageSize {
		t.Fatalf("Capacity = %d, want %d", got, 3*hostarch.PageSize)
	}
	for i := 0; i < 3; i++ {
		ptes := a.NewPTEs()
		if ptes == nil {
			t.Fatalf("NewPTEs %d returned nil", i)
		}
		want := base + hostarch.Paddr(i*hostarch.PageSize)
		if got := a.PhysicalFor(ptes); got != want {
			t.Errorf("node %d at %#x, want %#x", i, uint64(got), uint64(want))
		}
		checkInverses(t, a, ptes)
	}
	if a.NewPTEs() != nil {
		t.Errorf("allocation beyond the arena capacity succeeded")
	}
	if got := a.Size(); got != 3*hostarch.PageSize {
		t.Errorf("Size = %d, want %d", got, 3*hostarch.PageSize)
	}
}

func TestArenaAllocatorBytes(t *testing.T) {
	a, err := NewArenaAllocator(0, 2*hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewArenaAllocator failed: %v", err)
	}
	defer a.Close()

	ptes := a.NewPTEs()
	var e PTE
	e.SetPresent(true)
	e.SetPageAddress(0, 0x3000)
	ptes[5].Store(e)

	b := a.Bytes()
	if len(b) != hostarch.PageSize {
		t.Fatalf("Bytes length = %d, want %d", len(b), hostarch.PageSize)
	}
	if got := binary.LittleEndian.Uint64(b[5*8:]); got != uint64(e) {
		t.Errorf("slot 5 bytes = %#x, want %#x", got, uint64(e))
	}
}

func TestArenaAllocatorRounding(t *testing.T) {
	a, err := NewArenaAllocator(0, 1)
	if err != nil {
		t.Fatalf("NewArenaAllocator failed: %v", err)
	}
	defer a.Close()
	if got := a.Capacity(); got != hostarch.PageSize {
		t.Errorf("Capacity = %d, want %d", got, hostarch.PageSize)
	}
}

func TestArenaAllocatorContractViolations(t *testing.T) {
	assertPanics(t, "unaligned base", func() { NewArenaAllocator(0x123, hostarch.PageSize) })
	assertPanics(t, "arena beyond MaxPhysAddr", func() {
		NewArenaAllocator(hostarch.MaxPhysAddr+1-hostarch.PageSize, 2*hostarch.PageSize)
	})
}

func TestArenaAllocatorClose(t *testing.T) {
	a, err := NewArenaAllocator(0, hostarch.PageSize)
	if err != nil {
		t.Fatalf("NewArenaAllocator failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
	if a.NewPTEs() != nil {
		t.Errorf("NewPTEs after Close succeeded")
	}
}
