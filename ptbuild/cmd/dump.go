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
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	yaml "gopkg.in/yaml.v2"
	"pagetable.dev/pagetable/pkg/hostarch"
	"pagetable.dev/pagetable/pkg/pagetables"
)

// Dump implements subcommands.Command for the "dump" command.
type Dump struct {
	manifest string
	format   string
}

// TableDump is the serializable view of a built address space.
type TableDump struct {
	Root     string        `json:"root" yaml:"root"`
	CR3      string        `json:"cr3" yaml:"cr3"`
	Mappings []MappingDump `json:"mappings" yaml:"mappings"`
}

// MappingDump is one terminal mapping. Addresses are hex strings; JSON
// numbers cannot carry full 64-bit values.
type MappingDump struct {
	Virt     string `json:"virt" yaml:"virt"`
	Phys     string `json:"phys" yaml:"phys"`
	Size     uint64 `json:"size" yaml:"size"`
	PageSize string `json:"page_size" yaml:"page_size"`
	Entry    string `json:"entry" yaml:"entry"`
}

type dumpFunc func(io.Writer, *TableDump) error

// A map of format names to dump functions.
var dumpMap = map[string]dumpFunc{
	"text": dumpText,
	"json": dumpJSON,
	"yaml": dumpYAML,
}

// Name implements subcommands.Command.Name.
func (*Dump) Name() string {
	return "dump"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dump) Synopsis() string {
	return "prints every mapping in a manifest's tables"
}

// Usage implements subcommands.Command.Usage.
func (*Dump) Usage() string {
	return `dump -manifest <layout.toml> [-format text|json|yaml]

Builds the manifest's address space and prints all terminal mappings in
ascending virtual order.

`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dump) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.manifest, "manifest", "", "path to the layout manifest")
	f.StringVar(&d.format, "format", "text", "output format (text, json, yaml)")
}

// Execute implements subcommands.Command.Execute.
func (d *Dump) Execute(_ context.Context, f *flag.FlagSet, _ ...any) subcommands.ExitStatus {
	out, ok := dumpMap[d.format]
	if !ok {
		Fatalf("unsupported format %q, must be text, json or yaml", d.format)
	}
	if d.manifest == "" || f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}

	res, err := buildFromManifest(d.manifest, 0)
	if err != nil {
		Fatalf("%v", err)
	}
	defer res.close()

	dump := collectDump(res)
	if err := out(os.Stdout, dump); err != nil {
		Fatalf("error writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

// collectDump walks the full canonical space and records every
// terminal mapping.
func collectDump(res *buildResult) *TableDump {
	dump := &TableDump{
		Root: fmt.Sprintf("%#x", uint64(res.b.RootPhysical())),
		CR3:  fmt.Sprintf("%#x", res.b.CR3(false, 0)),
	}
	pagetables.Walk(res.arena, res.b.RootNode(), 0, ^hostarch.Vaddr(0), func(m pagetables.Mapping) bool {
		dump.Mappings = append(dump.Mappings, MappingDump{
			Virt:     fmt.Sprintf("%#x", uint64(m.Virt)),
			Phys:     fmt.Sprintf("%#x", uint64(m.Phys)),
			Size:     m.Size,
			PageSize: m.PageSize().String(),
			Entry:    fmt.Sprintf("%#018x", uint64(m.Entry)),
		})
		return true
	})
	return dump
}

func dumpText(w io.Writer, dump *TableDump) error {
	if _, err := fmt.Fprintf(w, "root %s cr3 %s\n\n", dump.Root, dump.CR3); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if _, err := fmt.Fprintf(tw, "VIRT\tPHYS\tSIZE\tENTRY\n"); err != nil {
		return err
	}
	for _, m := range dump.Mappings {
		if _, err := fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", m.Virt, m.Phys, m.PageSize, m.Entry); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func dumpJSON(w io.Writer, dump *TableDump) error {
	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	return e.Encode(dump)
}

func dumpYAML(w io.Writer, dump *TableDump) error {
	data, err := yaml.Marshal(dump)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
