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
	"testing"

	"github.com/google/go-cmp/cmp"

	"pagetable.dev/pagetable/pkg/errors/pterr"
	"pagetable.dev/pagetable/pkg/hostarch"
)

type mapping struct {
	Virt  hostarch.Vaddr
	Phys  hostarch.Paddr
	Size  uint64
	Level int8
}

// checkMappings walks the whole canonical space and compares the present
// terminal mappings against want.
func checkMappings(t *testing.T, a Allocator, root *PTEs, want []mapping) {
	t.Helper()
	var got []mapping
	Walk(a, root, 0, ^hostarch.Vaddr(0), func(m Mapping) bool {
		got = append(got, mapping{m.Virt, m.Phys, m.Size, m.Level})
		return true
	})
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
}

// newRoot returns a fresh allocator and zeroed root node.
func newRoot(t *testing.T) (*RuntimeAllocator, *PTEs) {
	t.Helper()
	a := NewRuntimeAllocator(0x100000)
	root := a.NewPTEs()
	if root == nil {
		t.Fatalf("root allocation failed")
	}
	*root = PTEs{}
	return a, root
}

func TestMap4K(t *testing.T) {
	a, root := newRoot(t)
	if err := MapPage(a, root, 0x400000, pteSize*42, PageSize4K); err != nil {
		t.Fatalf("MapPage failed: %v", err)
	}

	checkMappings(t, a, root, []mapping{
		{0x400000, pteSize * 42, pteSize, 0},
	})

	r, ok := LookupPage(a, root, 0x400123)
	if !ok {
		t.Fatalf("lookup missed")
	}
	if want := hostarch.Paddr(pteSize*42 + 0x123); r.Phys != want {
		t.Errorf("Phys = %#x, want %#x", uint64(r.Phys), uint64(want))
	}
	if r.Level != 0 {
		t.Errorf("Level = %d, want 0", r.Level)
	}
	if !r.Entry.Present() || !r.Entry.Writable() {
		t.Errorf("entry %#x missing present/writable", uint64(r.Entry))
	}
}

func Test2MAnd4K(t *testing.T) {
	a, root := newRoot(t)

	// Map a small page and a huge page.
	if err := MapPage(a, root, 0x400000, pteSize*42, PageSize4K); err != nil {
		t.Fatalf("MapPage 4K failed: %v", err)
	}
	if err := MapPage(a, root, 0x00007f0000000000, pmdSize*47, PageSize2M); err != nil {
		t.Fatalf("MapPage 2M failed: %v", err)
	}

	checkMappings(t, a, root, []mapping{
		{0x400000, pteSize * 42, pteSize, 0},
		{0x00007f0000000000, pmdSize * 47, pmdSize, 1},
	})

	r, ok := LookupPage(a, root, 0x00007f00001fffff)
	if !ok || r.Level != 1 {
		t.Fatalf("2M lookup = (%+v, %t), want level 1 hit", r, ok)
	}
	if want := hostarch.Paddr(pmdSize*47 + 0x1fffff); r.Phys != want {
		t.Errorf("Phys = %#x, want %#x", uint64(r.Phys), uint64(want))
	}
}

func Test1GAnd4K(t *testing.T) {
	a, root := newRoot(t)

	// Map a small page and a giant page in the high canonical half.
	if err := MapPage(a, root, 0x400000, pteSize*42, PageSize4K); err != nil {
		t.Fatalf("MapPage 4K failed: %v", err)
	}
	if err := MapPage(a, root, 0xffffff8000000000, pudSize*3, PageSize1G); err != nil {
		t.Fatalf("MapPage 1G failed: %v", err)
	}

	checkMappings(t, a, root, []mapping{
		{0x400000, pteSize * 42, pteSize, 0},
		{0xffffff8000000000, pudSize * 3, pudSize, 2},
	})

	r, ok := LookupPage(a, root, 0xffffff803fff0123)
	if !ok || r.Level != 2 {
		t.Fatalf("1G lookup = (%+v, %t), want level 2 hit", r, ok)
	}
	if want := hostarch.Paddr(pudSize*3 + 0x3fff0123); r.Phys != want {
		t.Errorf("Phys = %#x, want %#x", uint64(r.Phys), uint64(want))
	}
}

func TestCollision(t *testing.T) {
	a, root := newRoot(t)
	if err := MapPage(a, root, 0x400000, 0x10000, PageSize4K); err != nil {
		t.Fatalf("MapPage failed: %v", err)
	}
	if err := MapPage(a, root, 0x400000, 0x20000, PageSize4K); err != pterr.ErrAlreadyExists {
		t.Fatalf("remap returned %v, want ErrAlreadyExists", err)
	}

	// The original mapping stays.
	r, ok := LookupPage(a, root, 0x400000)
	if !ok || r.Phys != 0x10000 {
		t.Errorf("lookup after collision = (%+v, %t), want original 0x10000", r, ok)
	}
}

func TestNoSubdivision(t *testing.T) {
	a, root := newRoot(t)
	if err := MapPage(a, root, 0x40000000, 0x40000000, PageSize2M); err != nil {
		t.Fatalf("MapPage 2M failed: %v", err)
	}

	// A 4K page in the interior of the 2M page cannot be installed; large
	// pages are never split.
	if err := MapPage(a, root, 0x40001000, 0x99000, PageSize4K); err != pterr.ErrAlreadyExists {
		t.Fatalf("interior map returned %v, want ErrAlreadyExists", err)
	}
	r, ok := LookupPage(a, root, 0x40001000)
	if !ok || r.Level != 1 || r.Phys != 0x40001000 {
		t.Errorf("lookup = (%+v, %t), want the intact 2M translation", r, ok)
	}
}

func TestBoundaryPage(t *testing.T) {
	a, root := newRoot(t)

	// The highest canonical page.
	const virt = hostarch.Vaddr(0xfffffffffffff000)
	if err := MapPage(a, root, virt, 0x7000, PageSize4K); err != nil {
		t.Fatalf("MapPage failed: %v", err)
	}

	if r, ok := LookupPage(a, root, virt); !ok || r.Phys != 0x7000 {
		t.Errorf("first byte = (%+v, %t), want 0x7000", r, ok)
	}
	if r, ok := LookupPage(a, root, 0xffffffffffffffff); !ok || r.Phys != 0x7fff {
		t.Errorf("last byte = (%+v, %t), want 0x7fff", r, ok)
	}
	if _, ok := LookupPage(a, root, virt-1); ok {
		t.Errorf("byte below the mapped page resolved")
	}
	if _, ok := LookupPage(a, root, 0x00007ffffffff000); ok {
		t.Errorf("top of the low canonical half resolved")
	}
}

func TestEmptyRootLookups(t *testing.T) {
	a, root := newRoot(t)
	for _, virt := range []hostarch.Vaddr{
		0,
		0x1000,
		0x00007fffffffffff,
		0xffff800000000000,
		0xffffffffffffffff,
	} {
		if _, ok := LookupPage(a, root, virt); ok {
			t.Errorf("lookup of %#x in empty tables hit", uint64(virt))
		}
	}
}

func TestNoRollback(t *testing.T) {
	a, root := newRoot(t)

	// Let the walk create the level 2 and level 1 nodes, then exhaust the
	// allocator before the level 0 node.
	a.MaxNodes = 3
	if err := MapPage(a, root, 0x400000, 0x10000, PageSize4K); err != pterr.ErrNoMemory {
		t.Fatalf("MapPage returned %v, want ErrNoMemory", err)
	}
	if got := a.NodeCount(); got != 3 {
		t.Fatalf("NodeCount = %d, want 3 (root plus two intermediates)", got)
	}

	// Nothing is mapped, and the intermediates created before the failure
	// are reused once memory is available again.
	if _, ok := LookupPage(a, root, 0x400000); ok {
		t.Errorf("partial walk left a visible mapping")
	}
	a.MaxNodes = 0
	if err := MapPage(a, root, 0x400000, 0x10000, PageSize4K); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if got := a.NodeCount(); got != 4 {
		t.Errorf("NodeCount after retry = %d, want 4", got)
	}
	if r, ok := LookupPage(a, root, 0x400000); !ok || r.Phys != 0x10000 {
		t.Errorf("lookup after retry = (%+v, %t), want 0x10000", r, ok)
	}
}

func TestMapPageContractViolations(t *testing.T) {
	a, root := newRoot(t)
	assertPanics(t, "non-canonical virt", func() {
		MapPage(a, root, 0xf000000000000000, 0, PageSize4K)
	})
	assertPanics(t, "unaligned virt", func() {
		MapPage(a, root, 0x1234, 0, PageSize4K)
	})
	assertPanics(t, "unaligned phys", func() {
		MapPage(a, root, 0x1000, 0x10, PageSize4K)
	})
	assertPanics(t, "2M-unaligned virt", func() {
		MapPage(a, root, 0x1000, 0, PageSize2M)
	})
	assertPanics(t, "phys beyond MaxPhysAddr", func() {
		MapPage(a, root, 0x1000, hostarch.MaxPhysAddr+1, PageSize4K)
	})
}

func TestLookupContractViolations(t *testing.T) {
	a, root := newRoot(t)
	assertPanics(t, "non-canonical lookup", func() {
		LookupPage(a, root, 0xf000000000000000)
	})
	assertPanics(t, "non-canonical lookup low", func() {
		LookupPage(a, root, 0x0000800000000000)
	})
}

func TestPageSizes(t *testing.T) {
	for _, test := range []struct {
		size  PageSize
		level int8
		bytes uint64
		str   string
	}{
		{PageSize4K, 0, pteSize, "4K"},
		{PageSize2M, 1, pmdSize, "2M"},
		{PageSize1G, 2, pudSize, "1G"},
	} {
		if got := test.size.Level(); got != test.level {
			t.Errorf("%s.Level() = %d, want %d", test.str, got, test.level)
		}
		if got := test.size.Bytes(); got != test.bytes {
			t.Errorf("%s.Bytes() = %#x, want %#x", test.str, got, test.bytes)
		}
		if got := test.size.String(); got != test.str {
			t.Errorf("String() = %q, want %q", got, test.str)
		}
	}
	assertPanics(t, "invalid PageSize", func() { PageSize(7).Level() })
}
