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

// Package numa answers the small set of topology questions the Migration
// context needs: how much free capacity a node has, and which node is the
// fast (DRAM) tier. It reads the same /sys/devices/system/node/nodeN/meminfo
// files the kernel itself exposes, in the spirit of the topology package's
// sysfs-scanning style elsewhere in this tree.
package numa

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

const sysNodePath = "/sys/devices/system/node"

// MemInfo is the subset of a NUMA node's meminfo this agent cares about.
type MemInfo struct {
	MemTotal uint64 // bytes
	MemFree  uint64 // bytes
}

// Topology answers node-capacity questions for a fixed pair of tiers. In
// line with spec's default assumption, the slow tier is dramNode+1 unless
// configured otherwise.
type Topology struct {
	DRAMNode     int
	SlowTierNode int
	// MinFreeRatio is the fraction of a node's capacity that must remain
	// free for HasSpace to report true. Default 0 means "any free byte".
	MinFreeRatio float64

	// root allows tests to point sysfs reads at a fixture directory.
	root string
}

// New builds a Topology for the given DRAM node, defaulting the slow tier
// to dramNode+1 per spec's glossary.
func New(dramNode int) *Topology {
	return &Topology{DRAMNode: dramNode, SlowTierNode: dramNode + 1, root: sysNodePath}
}

// WithRoot overrides the sysfs root (tests only).
func (t *Topology) WithRoot(root string) *Topology {
	t.root = root
	return t
}

// ReadMemInfo reads the current meminfo of the given node.
func (t *Topology) ReadMemInfo(node int) (MemInfo, error) {
	path := filepath.Join(t.root, "node"+strconv.Itoa(node), "meminfo")
	f, err := os.Open(path)
	if err != nil {
		return MemInfo{}, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	var mi MemInfo
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// Example line: "Node 0 MemFree:        12345678 kB"
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		key := fields[2]
		val, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			continue
		}
		switch key {
		case "MemTotal:":
			mi.MemTotal = val * 1024
		case "MemFree:":
			mi.MemFree = val * 1024
		}
	}
	if err := scanner.Err(); err != nil {
		return MemInfo{}, errors.Wrapf(err, "failed to scan %s", path)
	}
	return mi, nil
}

// HasSpace reports whether node currently has free capacity, per
// MinFreeRatio. Errors reading sysfs are treated conservatively as "no
// space" (a transient sysfs read failure should not trigger a migration
// burst that overflows the node).
func (t *Topology) HasSpace(node int) bool {
	mi, err := t.ReadMemInfo(node)
	if err != nil {
		return false
	}
	if mi.MemTotal == 0 {
		return false
	}
	if t.MinFreeRatio <= 0 {
		return mi.MemFree > 0
	}
	return float64(mi.MemFree)/float64(mi.MemTotal) >= t.MinFreeRatio
}

// SystemMemTotal reads the guest's total RAM from /proc/meminfo, in bytes.
// The Tracker uses this for its one-third-of-RAM threshold (spec.md §4.8),
// which is sized against the whole machine, not just the DRAM tier.
func SystemMemTotal() (uint64, error) {
	f, err := os.Open("/proc/meminfo")
	if err != nil {
		return 0, errors.Wrap(err, "failed to open /proc/meminfo")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) >= 2 && fields[0] == "MemTotal:" {
			kb, err := strconv.ParseUint(fields[1], 10, 64)
			if err != nil {
				return 0, errors.Wrap(err, "failed to parse MemTotal in /proc/meminfo")
			}
			return kb * 1024, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return 0, errors.Wrap(err, "failed to scan /proc/meminfo")
	}
	return 0, errors.New("MemTotal not found in /proc/meminfo")
}
