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

// Package tracker implements the process-wide Tracker (spec.md §4.8): the
// single instance that decides which one process, if any, gets a Migrator.
package tracker

import (
	"sync"

	"github.com/intel/hagent/internal/hlog"
	"github.com/intel/hagent/internal/procmem"
)

// Migrator is the subset of *migrator.Migrator the Tracker depends on. The
// interface exists so this package does not need to import migrator (which
// itself needs a live process and kernel access to construct one),
// keeping Tracker's switch-decision logic independently testable.
type Migrator interface {
	Close() error
}

// Spawner builds a Migrator for pid. Production code plugs in a closure
// around migrator.New; tests supply a mock.
type Spawner func(pid int) (Migrator, error)

// Tracker is the process-wide singleton described by spec.md §4.8: it
// tracks at most one pid at a time, switching to a newly-mapping process
// only when that process's virtual size both exceeds the currently
// tracked one and one-third of total RAM.
type Tracker struct {
	mu           sync.Mutex
	trackedPid   int
	hasTracked   bool
	trackedVSize uint64
	migrator     Migrator

	spawn         Spawner
	totalRAMBytes uint64
}

// New builds a Tracker. totalRAMBytes is the guest's total RAM, used for
// the one-third-of-RAM threshold; spawn constructs a Migrator for a pid
// chosen to be tracked.
func New(totalRAMBytes uint64, spawn Spawner) *Tracker {
	return &Tracker{totalRAMBytes: totalRAMBytes, spawn: spawn}
}

// Tracked reports the currently tracked pid, if any.
func (t *Tracker) Tracked() (pid int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trackedPid, t.hasTracked
}

// Track is hooked from the mmap syscall path for a process group leader.
// It reads pid's virtual memory size and, if it exceeds both the
// currently-tracked process's vsize and one-third of total RAM, switches
// tracking to pid (destroying the old Migrator first).
func (t *Tracker) Track(pid int) error {
	vsize, err := procmem.VSize(pid)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	threshold := t.totalRAMBytes / 3
	if vsize <= threshold {
		return nil
	}
	if t.hasTracked && vsize <= t.trackedVSize {
		return nil
	}

	if t.hasTracked {
		hlog.L.Infof("tracker: switching from pid %d (vsize %d) to pid %d (vsize %d)",
			t.trackedPid, t.trackedVSize, pid, vsize)
		if err := t.migrator.Close(); err != nil {
			hlog.L.Errorf("tracker: error tearing down migrator for pid %d: %v", t.trackedPid, err)
		}
	}

	mig, err := t.spawn(pid)
	if err != nil {
		t.hasTracked = false
		t.migrator = nil
		return err
	}

	t.trackedPid = pid
	t.trackedVSize = vsize
	t.hasTracked = true
	t.migrator = mig
	return nil
}

// Untrack is hooked from the process-group exit path. If pid is the
// currently tracked process, its Migrator is torn down and tracking state
// cleared.
func (t *Tracker) Untrack(pid int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.hasTracked || t.trackedPid != pid {
		return nil
	}

	hlog.L.Infof("tracker: untracking pid %d", pid)
	err := t.migrator.Close()
	t.hasTracked = false
	t.trackedVSize = 0
	t.migrator = nil
	return err
}
