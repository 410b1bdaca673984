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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"strconv"

	"github.com/google/subcommands"
	"pagetable.dev/pagetable/pkg/hostarch"
	"pagetable.dev/pagetable/pkg/pagetables"
)

// Lookup implements subcommands.Command for the "lookup" command.
type Lookup struct {
	manifest string
	addr     string
}

// Name implements subcommands.Command.Name.
func (*Lookup) Name() string {
	return "lookup"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Lookup) Synopsis() string {
	return "translates one virtual address through a manifest's tables"
}

// Usage implements subcommands.Command.Usage.
func (*Lookup) Usage() string {
	return `lookup -manifest <layout.toml> -addr <address>

Builds the manifest's address space and translates one virtual address.
Exits nonzero if the address is not mapped.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Lookup) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.manifest, "manifest", "", "path to the layout manifest")
	f.StringVar(&l.addr, "addr", "", "virtual address to translate (hex or decimal)")
}

// Execute implements subcommands.Command.Execute.
func (l *Lookup) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if l.manifest == "" || l.addr == "" || f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	v, err := strconv.ParseUint(l.addr, 0, 64)
	if err != nil {
		Fatalf("bad -addr %q: not an address", l.addr)
	}
	// The tables cannot hold non-canonical addresses; reject up front
	// rather than asking the library.
	virt := hostarch.Vaddr(v)
	if !virt.IsCanonical() {
		Fatalf("address %#x is not canonical", v)
	}

	res, err := buildFromManifest(l.manifest, 0)
	if err != nil {
		Fatalf("%v", err)
	}
	defer res.close()

	result, ok := pagetables.LookupPage(res.arena, res.b.RootNode(), virt)
	if !ok {
		fmt.Printf("%#x is not mapped\n", v)
		return subcommands.ExitFailure
	}
	fmt.Printf("%#x -> %#x (%s page, entry %#018x)\n",
		v, uint64(result.Phys), result.PageSize(), uint64(result.Entry))
	return subcommands.ExitSuccess
}
