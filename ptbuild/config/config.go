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

// Package config handles ptbuild layout manifests.
//
// A manifest is a TOML file describing one address space: a set of
// build options and a list of regions to map. Addresses and sizes are
// written as strings so that hex values above 2^63, which TOML integers
// cannot represent, remain expressible:
//
//	[options]
//	use_1g_pages = true
//	arena_base = "0x100000"
//
//	[[region]]
//	virt = "0xffffff8000000000"
//	phys = "0x40000000"
//	size = "0x200000"
//	memory_type = "Normal"
//
// Load parses and fully validates a manifest. The returned Config only
// contains values that satisfy the mapping contract of the pagetables
// package, so feeding them to a Builder cannot trip its assertions.
package config

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"pagetable.dev/pagetable/pkg/hostarch"
)

// Defaults for arena placement, used when the manifest leaves the
// corresponding option unset.
const (
	// DefaultArenaBase is the physical address the node arena is
	// assumed to be loaded at. 1 MiB keeps it clear of legacy low
	// memory on x86.
	DefaultArenaBase hostarch.Paddr = 0x100000

	// DefaultArenaSize caps the arena at 1024 nodes, enough for
	// several GiB of 4K mappings.
	DefaultArenaSize uint64 = 4 << 20
)

// Options are address-space wide build options.
type Options struct {
	// Use1GPages lets the builder emit 1G mappings where a region's
	// alignment allows it.
	Use1GPages bool

	// ArenaBase is the physical address of the node arena.
	ArenaBase hostarch.Paddr

	// ArenaSize is the arena capacity in bytes.
	ArenaSize uint64
}

// Region is one validated mapping request.
type Region struct {
	// Virt is the first virtual address of the region.
	Virt hostarch.Vaddr

	// Phys is the first physical address the region maps to.
	Phys hostarch.Paddr

	// Size is the region length in bytes.
	Size uint64

	// MemoryType is the caching attribute for the region.
	MemoryType hostarch.MemoryType
}

// Config is a parsed and validated layout manifest.
type Config struct {
	Opts    Options
	Regions []Region
}

// rawConfig mirrors the manifest's TOML layout before parsing.
type rawConfig struct {
	Options rawOptions  `toml:"options"`
	Regions []rawRegion `toml:"region"`
}

type rawOptions struct {
	Use1GPages bool   `toml:"use_1g_pages"`
	ArenaBase  string `toml:"arena_base"`
	ArenaSize  string `toml:"arena_size"`
}

type rawRegion struct {
	Virt       string `toml:"virt"`
	Phys       string `toml:"phys"`
	Size       string `toml:"size"`
	MemoryType string `toml:"memory_type"`
}

// Load reads, parses and validates the manifest at path.
func Load(path string) (*Config, error) {
	var raw rawConfig
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, errors.Wrap(err, "decoding manifest")
	}
	return parse(&raw)
}

// LoadBytes is Load for an in-memory manifest.
func LoadBytes(data []byte) (*Config, error) {
	var raw rawConfig
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decoding manifest")
	}
	return parse(&raw)
}

func parse(raw *rawConfig) (*Config, error) {
	c := &Config{
		Opts: Options{
			Use1GPages: raw.Options.Use1GPages,
			ArenaBase:  DefaultArenaBase,
			ArenaSize:  DefaultArenaSize,
		},
	}
	if raw.Options.ArenaBase != "" {
		base, err := parseUint(raw.Options.ArenaBase)
		if err != nil {
			return nil, fmt.Errorf("options: bad arena_base: %v", err)
		}
		c.Opts.ArenaBase = hostarch.Paddr(base)
	}
	if raw.Options.ArenaSize != "" {
		size, err := parseUint(raw.Options.ArenaSize)
		if err != nil {
			return nil, fmt.Errorf("options: bad arena_size: %v", err)
		}
		c.Opts.ArenaSize = size
	}

	c.Regions = make([]Region, 0, len(raw.Regions))
	for i, rr := range raw.Regions {
		r, err := parseRegion(&rr)
		if err != nil {
			return nil, fmt.Errorf("region %d: %v", i, err)
		}
		c.Regions = append(c.Regions, r)
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func parseRegion(rr *rawRegion) (Region, error) {
	var r Region
	for _, f := range []struct {
		name  string
		value string
		dst   *uint64
	}{
		{"virt", rr.Virt, (*uint64)(&r.Virt)},
		{"phys", rr.Phys, (*uint64)(&r.Phys)},
		{"size", rr.Size, &r.Size},
	} {
		if f.value == "" {
			return Region{}, fmt.Errorf("missing %s", f.name)
		}
		v, err := parseUint(f.value)
		if err != nil {
			return Region{}, fmt.Errorf("bad %s: %v", f.name, err)
		}
		*f.dst = v
	}
	mt, err := parseMemoryType(rr.MemoryType)
	if err != nil {
		return Region{}, err
	}
	r.MemoryType = mt
	return r, nil
}

// parseUint accepts decimal, 0x hex, 0o octal and 0b binary, with
// optional underscore separators.
func parseUint(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a valid address or size", s)
	}
	return v, nil
}

func parseMemoryType(s string) (hostarch.MemoryType, error) {
	if s == "" {
		return hostarch.MemoryTypeNormal, nil
	}
	for mt := hostarch.MemoryType(0); mt < hostarch.NumMemoryTypes; mt++ {
		if s == mt.String() {
			return mt, nil
		}
	}
	return 0, fmt.Errorf("unknown memory_type %q", s)
}

// validate rejects manifests that the pagetables package would refuse
// or panic on, with messages that name the offending region. The
// library still enforces its own contract; this is the friendlier
// first line of defense.
func (c *Config) validate() error {
	if c.Opts.ArenaBase&(hostarch.PageSize-1) != 0 {
		return fmt.Errorf("options: arena_base %#x is not page aligned", uint64(c.Opts.ArenaBase))
	}
	if c.Opts.ArenaSize == 0 {
		return fmt.Errorf("options: arena_size must not be zero")
	}
	// The allocator rounds the arena up to whole pages; validate the
	// rounded extent.
	size := (c.Opts.ArenaSize + hostarch.PageSize - 1) &^ (hostarch.PageSize - 1)
	last, ok := c.Opts.ArenaBase.AddLength(size - 1)
	if !ok {
		return fmt.Errorf("options: arena_base %#x + arena_size %#x wraps the address space",
			uint64(c.Opts.ArenaBase), c.Opts.ArenaSize)
	}
	if !last.IsValid() {
		return fmt.Errorf("options: arena [%#x, %#x] exceeds the architectural limit %#x",
			uint64(c.Opts.ArenaBase), uint64(last), uint64(hostarch.MaxPhysAddr))
	}
	for i := range c.Regions {
		if err := c.Regions[i].check(); err != nil {
			return fmt.Errorf("region %d: %v", i, err)
		}
	}
	return c.checkOverlaps()
}

func (r *Region) check() error {
	if r.Size == 0 {
		// Explicitly allowed; maps nothing.
		return nil
	}
	if !r.Virt.IsPageAligned() {
		return fmt.Errorf("virt %#x is not page aligned", uint64(r.Virt))
	}
	if !r.Phys.IsPageAligned() {
		return fmt.Errorf("phys %#x is not page aligned", uint64(r.Phys))
	}
	if r.Size&(hostarch.PageSize-1) != 0 {
		return fmt.Errorf("size %#x is not a multiple of the page size", r.Size)
	}
	last, ok := r.Virt.AddLength(r.Size - 1)
	if !ok {
		return fmt.Errorf("virt %#x + size %#x wraps the address space", uint64(r.Virt), r.Size)
	}
	if !r.Virt.IsCanonical() || !last.IsCanonical() || r.Size >= 1<<hostarch.VaddrBits {
		return fmt.Errorf("virtual range [%#x, %#x] is not canonical", uint64(r.Virt), uint64(last))
	}
	lastPhys, ok := r.Phys.AddLength(r.Size - 1)
	if !ok {
		return fmt.Errorf("phys %#x + size %#x wraps the address space", uint64(r.Phys), r.Size)
	}
	if !r.Phys.IsValid() || !lastPhys.IsValid() {
		return fmt.Errorf("physical range [%#x, %#x] exceeds the architectural limit %#x",
			uint64(r.Phys), uint64(lastPhys), uint64(hostarch.MaxPhysAddr))
	}
	return nil
}

// checkOverlaps rejects manifests whose regions overlap in virtual
// space. The builder would fail such a manifest too, but only midway
// through, as a collision on the first shared page.
func (c *Config) checkOverlaps() error {
	idx := make([]int, 0, len(c.Regions))
	for i := range c.Regions {
		if c.Regions[i].Size != 0 {
			idx = append(idx, i)
		}
	}
	sort.Slice(idx, func(a, b int) bool {
		return c.Regions[idx[a]].Virt < c.Regions[idx[b]].Virt
	})
	for k := 1; k < len(idx); k++ {
		prev, cur := &c.Regions[idx[k-1]], &c.Regions[idx[k]]
		// prev.Size != 0 and check() passed, so this cannot wrap.
		prevLast := prev.Virt + hostarch.Vaddr(prev.Size-1)
		if cur.Virt <= prevLast {
			return fmt.Errorf("region %d overlaps region %d at %#x", idx[k], idx[k-1], uint64(cur.Virt))
		}
	}
	return nil
}
