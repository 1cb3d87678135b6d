// Copyright 2022 Intel Corporation. All Rights Reserved.
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

package numa

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFixtureNode(t *testing.T, root string, node int, memTotalKB, memFreeKB uint64) {
	t.Helper()
	dir := filepath.Join(root, "node"+itoa(node))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := []byte(
		"Node 0 MemTotal:       " + uitoa(memTotalKB) + " kB\n" +
			"Node 0 MemFree:        " + uitoa(memFreeKB) + " kB\n")
	if err := os.WriteFile(filepath.Join(dir, "meminfo"), content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func itoa(i int) string    { return uitoa(uint64(i)) }
func uitoa(u uint64) string {
	if u == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for u > 0 {
		i--
		buf[i] = byte('0' + u%10)
		u /= 10
	}
	return string(buf[i:])
}

func TestHasSpaceTrueWhenFreeAboveRatio(t *testing.T) {
	root := t.TempDir()
	writeFixtureNode(t, root, 0, 1000000, 500000)
	topo := New(0).WithRoot(root)
	topo.MinFreeRatio = 0.1
	if !topo.HasSpace(0) {
		t.Fatalf("expected node 0 to have space")
	}
}

func TestHasSpaceFalseWhenBelowRatio(t *testing.T) {
	root := t.TempDir()
	writeFixtureNode(t, root, 1, 1000000, 10000)
	topo := New(0).WithRoot(root)
	topo.MinFreeRatio = 0.5
	if topo.HasSpace(1) {
		t.Fatalf("expected node 1 to be reported full")
	}
}

func TestHasSpaceFalseOnMissingNode(t *testing.T) {
	root := t.TempDir()
	topo := New(0).WithRoot(root)
	if topo.HasSpace(5) {
		t.Fatalf("expected missing node to report no space")
	}
}

func TestSlowTierDefaultsToDramPlusOne(t *testing.T) {
	topo := New(3)
	if topo.SlowTierNode != 4 {
		t.Fatalf("SlowTierNode = %d, want 4", topo.SlowTierNode)
	}
}
