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
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	yaml "gopkg.in/yaml.v2"
	"pagetable.dev/pagetable/pkg/pagetables"
)

// dumpFixture builds a two-region space, one 2M page and one 4K page.
func dumpFixture(t *testing.T) (*buildResult, *TableDump) {
	t.Helper()
	path := writeManifest(t, `
[[region]]
virt = "0x200000"
phys = "0x600000"
size = "0x200000"

[[region]]
virt = "0x1000"
phys = "0x5000"
size = "0x1000"
`)
	res, err := buildFromManifest(path, 0)
	if err != nil {
		t.Fatalf("buildFromManifest failed: %v", err)
	}
	t.Cleanup(res.close)
	return res, collectDump(res)
}

func TestCollectDump(t *testing.T) {
	res, dump := dumpFixture(t)

	small, ok := pagetables.LookupPage(res.arena, res.b.RootNode(), 0x1000)
	if !ok {
		t.Fatal("4K page missing")
	}
	big, ok := pagetables.LookupPage(res.arena, res.b.RootNode(), 0x200000)
	if !ok {
		t.Fatal("2M page missing")
	}
	want := []MappingDump{
		{
			Virt:     "0x1000",
			Phys:     "0x5000",
			Size:     0x1000,
			PageSize: "4K",
			Entry:    fmt.Sprintf("%#018x", uint64(small.Entry)),
		},
		{
			Virt:     "0x200000",
			Phys:     "0x600000",
			Size:     0x200000,
			PageSize: "2M",
			Entry:    fmt.Sprintf("%#018x", uint64(big.Entry)),
		},
	}
	if diff := cmp.Diff(want, dump.Mappings); diff != "" {
		t.Errorf("mappings mismatch (-want +got):\n%s", diff)
	}
	if wantRoot := fmt.Sprintf("%#x", uint64(res.b.RootPhysical())); dump.Root != wantRoot {
		t.Errorf("Root got %s, want %s", dump.Root, wantRoot)
	}
	if wantCR3 := fmt.Sprintf("%#x", res.b.CR3(false, 0)); dump.CR3 != wantCR3 {
		t.Errorf("CR3 got %s, want %s", dump.CR3, wantCR3)
	}
}

func TestDumpText(t *testing.T) {
	_, dump := dumpFixture(t)
	var buf bytes.Buffer
	if err := dumpText(&buf, dump); err != nil {
		t.Fatalf("dumpText failed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{
		"root " + dump.Root,
		"VIRT",
		"0x1000",
		"0x200000",
		"2M",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestDumpJSON(t *testing.T) {
	_, dump := dumpFixture(t)
	var buf bytes.Buffer
	if err := dumpJSON(&buf, dump); err != nil {
		t.Fatalf("dumpJSON failed: %v", err)
	}
	var got TableDump
	if err := json.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if diff := cmp.Diff(dump, &got); diff != "" {
		t.Errorf("JSON round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestDumpYAML(t *testing.T) {
	_, dump := dumpFixture(t)
	var buf bytes.Buffer
	if err := dumpYAML(&buf, dump); err != nil {
		t.Fatalf("dumpYAML failed: %v", err)
	}
	var got TableDump
	if err := yaml.Unmarshal(buf.Bytes(), &got); err != nil {
		t.Fatalf("output is not valid YAML: %v", err)
	}
	if diff := cmp.Diff(dump, &got); diff != "" {
		t.Errorf("YAML round trip mismatch (-want +got):\n%s", diff)
	}
}
