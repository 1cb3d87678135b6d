//go:build linux
// +build linux

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

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/hagent/internal/hconst"
)

// SyscallMover issues real move_pages(2) calls against a live process. It is
// the only PageMover implementation that touches the kernel; tests use a
// mock instead.
type SyscallMover struct{}

// NewSyscallMover returns the production PageMover.
func NewSyscallMover() *SyscallMover { return &SyscallMover{} }

// movePages wraps the move_pages(2) syscall. When nodes is nil the call is a
// status query only (no pages move); otherwise len(nodes) must equal
// len(pages) and every page not already resident on its matching node is
// migrated there.
//
//	long move_pages(int pid, unsigned long count, void **pages,
//	                const int *nodes, int *status, int flags);
func movePages(pid int, pages []uintptr, nodes []int) ([]int, error) {
	count := len(pages)
	if count == 0 {
		return nil, nil
	}

	var nodesPtr unsafe.Pointer
	if nodes != nil {
		if len(nodes) != count {
			return nil, errors.Errorf("move_pages: len(nodes)=%d != len(pages)=%d", len(nodes), count)
		}
		cNodes := make([]int32, count)
		for i, n := range nodes {
			cNodes[i] = int32(n)
		}
		nodesPtr = unsafe.Pointer(&cNodes[0])
	}

	status := make([]int32, count)
	_, _, errno := unix.Syscall6(
		unix.SYS_MOVE_PAGES,
		uintptr(pid),
		uintptr(count),
		uintptr(unsafe.Pointer(&pages[0])),
		uintptr(nodesPtr),
		uintptr(unsafe.Pointer(&status[0])),
		uintptr(hconst.MPOLMFMoveAll),
	)
	var err error
	if errno != 0 {
		err = errors.Wrapf(unix.Errno(errno), "move_pages(pid=%d, count=%d)", pid, count)
	}

	out := make([]int, count)
	for i, s := range status {
		out[i] = int(s)
	}
	return out, err
}

// StatPages queries the current node of each page without moving anything.
func (m *SyscallMover) StatPages(pid int, pages []uintptr) ([]int, error) {
	return movePages(pid, pages, nil)
}

// MovePages migrates each page in pages to its corresponding entry in nodes.
func (m *SyscallMover) MovePages(pid int, pages []uintptr, nodes []int) ([]int, error) {
	return movePages(pid, pages, nodes)
}
