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

package migration

import "github.com/intel/hagent/internal/hconst"

// PageBatch is one huge page's worth of move_pages(2) scratch space: the
// base pages of a single 2 MiB region, their last-known node, and a target
// node this batch is working towards. It is the Go analog of the upstream
// agent's fixed-size move_pages argument struct, sized to HPagePages per
// call instead of templated on a page count.
type PageBatch struct {
	pid    int
	pages  []uintptr
	status []int
	target int
	mover  PageMover
}

// NewPageBatch allocates scratch space for one huge page of pid, with the
// given migration target node.
func NewPageBatch(pid, target int, mover PageMover) *PageBatch {
	return &PageBatch{
		pid:    pid,
		pages:  make([]uintptr, hconst.HPagePages),
		status: make([]int, hconst.HPagePages),
		target: target,
		mover:  mover,
	}
}

// Target returns the batch's migration destination node.
func (b *PageBatch) Target() int { return b.target }

// BaseAddress fills the batch's page list with the HPagePages base pages of
// the huge page starting at va, which must already be 2 MiB aligned.
func (b *PageBatch) BaseAddress(va uint64) {
	for i := range b.pages {
		b.pages[i] = uintptr(va + uint64(i)*hconst.PageSize)
	}
}

// StatPages queries the current node of every base page in the batch.
func (b *PageBatch) StatPages() error {
	status, err := b.mover.StatPages(b.pid, b.pages)
	if err != nil {
		return err
	}
	copy(b.status, status)
	return nil
}

// CountNode returns how many of the first length base pages in the batch
// currently report node. Callers must pass the same length they most
// recently gave MovePages (or StatPages' full hconst.HPagePages): scanning
// beyond it would pick up stale status entries left over from an earlier
// call that reused this batch.
func (b *PageBatch) CountNode(node, length int) int {
	n := 0
	for _, s := range b.status[:length] {
		if s == node {
			n++
		}
	}
	return n
}

// ConsolidateLeft compacts to the front of the batch every page whose last
// known status is a valid node other than the target, and returns how many
// such pages there are. Pages already on target, and pages whose status was
// a negative move_pages error, are dropped from consideration: the former
// need no work, the latter are not worth retrying blindly.
func (b *PageBatch) ConsolidateLeft() int {
	todo := 0
	for i, s := range b.status {
		if s < 0 || s == b.target {
			continue
		}
		b.pages[todo] = b.pages[i]
		todo++
	}
	return todo
}

// MovePages issues a move_pages(2) call migrating the first length pages of
// the batch to target, recording the resulting status of each. b.status is
// reset to hconst.NumaNoNode first, mirroring the original's
// self.status.fill(NUMA_NO_NODE) before the syscall, so a subsequent
// CountNode(_, length) never mistakes a page this call didn't touch for one
// that landed on target.
func (b *PageBatch) MovePages(length int) error {
	if length <= 0 {
		return nil
	}
	for i := range b.status {
		b.status[i] = hconst.NumaNoNode
	}
	nodes := make([]int, length)
	for i := range nodes {
		nodes[i] = b.target
	}
	status, err := b.mover.MovePages(b.pid, b.pages[:length], nodes)
	if err != nil {
		return err
	}
	copy(b.status, status)
	return nil
}
