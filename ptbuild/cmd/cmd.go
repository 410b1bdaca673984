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

// Package cmd holds implementations of the ptbuild commands.
package cmd

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"pagetable.dev/pagetable/pkg/pagetables"
	"pagetable.dev/pagetable/ptbuild/config"
)

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(s string, args ...any) {
	logrus.Warnf(s, args...)
	fmt.Fprintf(os.Stderr, s+"\n", args...)
	os.Exit(128)
}

// buildResult bundles everything a command needs from a built manifest.
// close releases the arena; the builder and its nodes are dead after
// that.
type buildResult struct {
	conf  *config.Config
	b     *pagetables.Builder
	arena *pagetables.ArenaAllocator
}

func (r *buildResult) close() {
	_ = r.arena.Close()
}

// buildFromManifest loads the manifest at path and builds its address
// space over a fresh arena. arenaSize, if nonzero, overrides the
// manifest's arena size.
//
// The manifest was fully validated by config.Load, so every region
// satisfies the builder's contract; the remaining failure mode is
// arena exhaustion.
func buildFromManifest(path string, arenaSize uint64) (*buildResult, error) {
	conf, err := config.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading manifest %q", path)
	}
	if arenaSize != 0 {
		conf.Opts.ArenaSize = arenaSize
	}

	arena, err := pagetables.NewArenaAllocator(conf.Opts.ArenaBase, conf.Opts.ArenaSize)
	if err != nil {
		return nil, errors.Wrap(err, "creating arena")
	}
	b, err := pagetables.NewBuilder(arena, pagetables.BuilderOpts{
		Use1GPages: conf.Opts.Use1GPages,
	})
	if err != nil {
		_ = arena.Close()
		return nil, errors.Wrap(err, "creating builder")
	}
	for i, r := range conf.Regions {
		logrus.Debugf("mapping region %d: virt %#x -> phys %#x, %#x bytes, %s",
			i, uint64(r.Virt), uint64(r.Phys), r.Size, r.MemoryType.ShortString())
		if err := b.MapRegion(r.Virt, r.Phys, r.Size, r.MemoryType); err != nil {
			_ = arena.Close()
			return nil, errors.Wrapf(err, "mapping region %d (virt %#x)", i, uint64(r.Virt))
		}
	}
	return &buildResult{conf: conf, b: b, arena: arena}, nil
}
