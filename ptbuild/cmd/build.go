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

	"github.com/google/subcommands"
	"github.com/sirupsen/logrus"
	"pagetable.dev/pagetable/ptbuild/image"
)

// Build implements subcommands.Command for the "build" command.
type Build struct {
	manifest  string
	image     string
	arenaSize uint64
}

// Name implements subcommands.Command.Name.
func (*Build) Name() string {
	return "build"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Build) Synopsis() string {
	return "builds the page tables described by a layout manifest"
}

// Usage implements subcommands.Command.Usage.
func (*Build) Usage() string {
	return `build -manifest <layout.toml> [-image <out.img>] [-arena-size <bytes>]

Builds the address space described by the manifest and logs mapping
statistics. With -image, also writes a loadable image file.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (b *Build) SetFlags(f *flag.FlagSet) {
	f.StringVar(&b.manifest, "manifest", "", "path to the layout manifest")
	f.StringVar(&b.image, "image", "", "write a loadable image to this path")
	f.Uint64Var(&b.arenaSize, "arena-size", 0, "override the manifest's arena size in bytes")
}

// Execute implements subcommands.Command.Execute.
func (b *Build) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if b.manifest == "" || f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	res, err := buildFromManifest(b.manifest, b.arenaSize)
	if err != nil {
		Fatalf("%v", err)
	}
	defer res.close()

	stats := res.b.Stats()
	logrus.Infof("mapped %d regions: %d pages (%d 4K, %d 2M, %d 1G)",
		len(res.conf.Regions), stats.Pages4K+stats.Pages2M+stats.Pages1G,
		stats.Pages4K, stats.Pages2M, stats.Pages1G)
	logrus.Infof("%d nodes in %d arena bytes at %#x, root %#x, CR3 %#x",
		stats.NodesAllocated, res.arena.Size(), uint64(res.arena.Base()),
		uint64(res.b.RootPhysical()), res.b.CR3(false, 0))

	if b.image != "" {
		if err := image.Write(b.image, res.b, res.arena); err != nil {
			Fatalf("writing image: %v", err)
		}
		logrus.Infof("wrote %q: %d header + %d arena bytes",
			b.image, image.HeaderSize, res.arena.Size())
	}
	return subcommands.ExitSuccess
}
