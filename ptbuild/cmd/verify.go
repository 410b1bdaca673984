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
	"bytes"
	"context"
	"flag"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"pagetable.dev/pagetable/pkg/hostarch"
	"pagetable.dev/pagetable/pkg/pagetables"
	"pagetable.dev/pagetable/ptbuild/config"
	"pagetable.dev/pagetable/ptbuild/image"
)

// verifyChunkPages is the sweep granularity: workers pick up regions
// in chunks of this many pages.
const verifyChunkPages = 32768

// Verify implements subcommands.Command for the "verify" command.
type Verify struct {
	manifest string
	image    string
	jobs     int
}

// Name implements subcommands.Command.Name.
func (*Verify) Name() string {
	return "verify"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Verify) Synopsis() string {
	return "checks every page of a manifest against its built tables"
}

// Usage implements subcommands.Command.Usage.
func (*Verify) Usage() string {
	return `verify -manifest <layout.toml> [-image <file.img>] [-jobs <n>]

Builds the manifest's address space, then translates every 4K page of
every region and compares the result against the manifest. With -image,
also checks that the image file matches the rebuilt tables byte for
byte. Exits nonzero on any mismatch.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (v *Verify) SetFlags(f *flag.FlagSet) {
	f.StringVar(&v.manifest, "manifest", "", "path to the layout manifest")
	f.StringVar(&v.image, "image", "", "image file to check against the rebuilt tables")
	f.IntVar(&v.jobs, "jobs", runtime.GOMAXPROCS(0), "number of parallel verify workers")
}

// Execute implements subcommands.Command.Execute.
func (v *Verify) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	if v.manifest == "" || f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	if v.jobs < 1 {
		Fatalf("-jobs must be positive, got %d", v.jobs)
	}

	res, err := buildFromManifest(v.manifest, 0)
	if err != nil {
		Fatalf("%v", err)
	}
	defer res.close()

	if v.image != "" {
		if err := checkImage(v.image, res); err != nil {
			Fatalf("image check failed: %v", err)
		}
		logrus.Infof("image %q matches the rebuilt tables", v.image)
	}

	total, err := sweep(res, v.jobs)
	if err != nil {
		Fatalf("verification failed: %v", err)
	}
	logrus.Infof("verified %d pages: all translations match", total)
	return subcommands.ExitSuccess
}

// checkImage compares an image file against the rebuilt tables.
func checkImage(path string, res *buildResult) error {
	hdr, arena, err := image.ReadArena(path)
	if err != nil {
		return err
	}
	if hdr.Base != uint64(res.arena.Base()) {
		return errors.Errorf("image base %#x, manifest arena base %#x", hdr.Base, uint64(res.arena.Base()))
	}
	if hdr.Root != uint64(res.b.RootPhysical()) {
		return errors.Errorf("image root %#x, rebuilt root %#x", hdr.Root, uint64(res.b.RootPhysical()))
	}
	if !bytes.Equal(arena, res.arena.Bytes()) {
		return errors.Errorf("image arena bytes differ from the rebuilt tables")
	}
	return nil
}

// verifyChunk is one worker unit: pages contiguous in both spaces.
type verifyChunk struct {
	virt  hostarch.Vaddr
	phys  hostarch.Paddr
	pages uint64
}

// sweep re-derives every 4K translation the manifest promises and
// compares it against the built tables. Lookups are pure reads, so the
// workers share the tables without locking.
func sweep(res *buildResult, jobs int) (uint64, error) {
	chunks, total := makeChunks(res.conf.Regions)
	work := make(chan verifyChunk, len(chunks))
	for _, c := range chunks {
		work <- c
	}
	close(work)

	var done atomic.Uint64
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	root := res.b.RootNode()

	g, ctx := errgroup.WithContext(context.Background())
	for w := 0; w < jobs; w++ {
		g.Go(func() error {
			for chunk := range work {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				if err := checkChunk(res.arena, root, chunk); err != nil {
					return err
				}
				if n := done.Add(chunk.pages); limiter.Allow() {
					logrus.Infof("verified %d/%d pages", n, total)
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total, nil
}

// makeChunks slices the manifest's regions into bounded work units.
func makeChunks(regions []config.Region) ([]verifyChunk, uint64) {
	var chunks []verifyChunk
	var total uint64
	for _, r := range regions {
		pages := r.Size / hostarch.PageSize
		total += pages
		for first := uint64(0); first < pages; first += verifyChunkPages {
			n := pages - first
			if n > verifyChunkPages {
				n = verifyChunkPages
			}
			chunks = append(chunks, verifyChunk{
				virt:  r.Virt + hostarch.Vaddr(first*hostarch.PageSize),
				phys:  r.Phys + hostarch.Paddr(first*hostarch.PageSize),
				pages: n,
			})
		}
	}
	return chunks, total
}

// checkChunk verifies one chunk's pages, plus offset composition on
// the chunk's first page.
func checkChunk(a pagetables.Allocator, root *pagetables.PTEs, chunk verifyChunk) error {
	for i := uint64(0); i < chunk.pages; i++ {
		virt := chunk.virt + hostarch.Vaddr(i*hostarch.PageSize)
		want := chunk.phys + hostarch.Paddr(i*hostarch.PageSize)
		got, ok := pagetables.LookupPage(a, root, virt)
		if !ok {
			return errors.Errorf("%#x is not mapped, want %#x", uint64(virt), uint64(want))
		}
		if got.Phys != want {
			return errors.Errorf("%#x translates to %#x, want %#x (entry %#018x, %s page)",
				uint64(virt), uint64(got.Phys), uint64(want), uint64(got.Entry), got.PageSize())
		}
	}
	const probe = 0x5a7
	got, ok := pagetables.LookupPage(a, root, chunk.virt+probe)
	if !ok || got.Phys != chunk.phys+probe {
		return errors.Errorf("offset composition broken at %#x", uint64(chunk.virt)+probe)
	}
	return nil
}
